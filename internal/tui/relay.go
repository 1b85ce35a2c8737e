package tui

import (
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/Makepad-fr/tada/internal/model"
)

// sender is the part of *tea.Program the relay needs.
type sender interface {
	Send(tea.Msg)
}

// relay forwards store notifications to the program without blocking the
// notifier. Store listeners may run inside Update (the model mutates the
// store there), so a direct p.Send would deadlock the event loop. Only the
// latest collection is kept; an older pending one is dropped.
type relay struct {
	ch   chan []model.Task
	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

func newRelay(p sender) *relay {
	r := &relay{ch: make(chan []model.Task, 1), done: make(chan struct{})}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for {
			select {
			case <-r.done:
				return
			case items := <-r.ch:
				p.Send(tasksMsg(items))
			}
		}
	}()
	return r
}

func (r *relay) offer(items []model.Task) {
	for {
		select {
		case r.ch <- items:
			return
		default:
		}
		select {
		case <-r.ch:
		default:
		}
	}
}

// stop ends forwarding. The program must have exited, or be exiting, so a
// pending Send returns.
func (r *relay) stop() {
	r.once.Do(func() { close(r.done) })
	r.wg.Wait()
}
