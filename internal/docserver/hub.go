package docserver

import "sync"

// hub fans document updates out to the websocket watchers of each identity.
type hub struct {
	mu       sync.Mutex
	watchers map[string]map[*watcher]struct{}
}

// watcher holds at most one pending document: each message is a full
// document, so a slow client only ever needs the latest one.
type watcher struct {
	send chan []byte
}

func newHub() *hub {
	return &hub{watchers: map[string]map[*watcher]struct{}{}}
}

func (h *hub) add(identity string) *watcher {
	w := &watcher{send: make(chan []byte, 1)}
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.watchers[identity]
	if !ok {
		set = map[*watcher]struct{}{}
		h.watchers[identity] = set
	}
	set[w] = struct{}{}
	return w
}

func (h *hub) remove(identity string, w *watcher) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.watchers[identity]
	delete(set, w)
	if len(set) == 0 {
		delete(h.watchers, identity)
	}
}

func (h *hub) count(identity string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.watchers[identity])
}

func (h *hub) publish(identity string, msg []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for w := range h.watchers[identity] {
		w.offer(msg)
	}
}

func (w *watcher) offer(msg []byte) {
	for {
		select {
		case w.send <- msg:
			return
		default:
		}
		// Drop the stale pending document and retry.
		select {
		case <-w.send:
		default:
		}
	}
}
