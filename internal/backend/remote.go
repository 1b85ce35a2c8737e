package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Makepad-fr/tada/internal/model"
)

// Remote persists collections in the document server, one document per
// identity. Every write replaces one field of that document; the server
// pushes the whole document to every watcher after each write.
type Remote struct {
	baseURL  *url.URL
	identity string
	token    string

	client *http.Client
	dialer *websocket.Dialer
	logger *slog.Logger
	retry  time.Duration
}

// RemoteOption tunes a Remote.
type RemoteOption func(*Remote)

// WithHTTPClient replaces the HTTP client used for load and persist.
func WithHTTPClient(c *http.Client) RemoteOption { return func(r *Remote) { r.client = c } }

// WithRetryInterval sets how long the watcher waits before reconnecting.
func WithRetryInterval(d time.Duration) RemoteOption { return func(r *Remote) { r.retry = d } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) RemoteOption { return func(r *Remote) { r.logger = l } }

// NewRemote returns a backend for identity on the server at baseURL.
func NewRemote(baseURL, identity, token string, opts ...RemoteOption) (*Remote, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("server url %q: scheme must be http or https", baseURL)
	}
	if identity == "" {
		return nil, errors.New("remote backend needs an identity")
	}
	r := &Remote{
		baseURL:  u,
		identity: identity,
		token:    token,
		client:   &http.Client{Timeout: 15 * time.Second},
		dialer:   websocket.DefaultDialer,
		logger:   slog.Default(),
		retry:    time.Second,
	}
	for _, o := range opts {
		o(r)
	}
	return r, nil
}

func (r *Remote) Name() string { return "remote:" + r.identity }

func (r *Remote) docURL() *url.URL {
	return r.baseURL.JoinPath("docs", r.identity)
}

func (r *Remote) newRequest(ctx context.Context, method string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, r.docURL().String(), body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+r.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func (r *Remote) Load(ctx context.Context, kind model.Kind) (Snapshot, error) {
	doc, err := r.fetch(ctx)
	if err != nil {
		return Snapshot{}, r.fail("load", err)
	}
	return Snapshot{Records: doc.Records(kind), Rev: doc.Rev()}, nil
}

func (r *Remote) fetch(ctx context.Context) (model.Document, error) {
	req, err := r.newRequest(ctx, http.MethodGet, nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to get: %w", err)
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK:
		return model.DecodeDocument(resp.Body)
	case http.StatusNotFound:
		return model.Document{}, nil
	default:
		return nil, statusError(resp)
	}
}

// Persist merge-writes the field for kind, leaving sibling kinds untouched.
func (r *Remote) Persist(ctx context.Context, kind model.Kind, recs []model.Record) (int64, error) {
	if recs == nil {
		recs = []model.Record{}
	}
	body, err := json.Marshal(map[string]any{string(kind): recs})
	if err != nil {
		return 0, r.fail("persist", fmt.Errorf("json marshal: %w", err))
	}
	req, err := r.newRequest(ctx, http.MethodPatch, bytes.NewReader(body))
	if err != nil {
		return 0, r.fail("persist", err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return 0, r.fail("persist", fmt.Errorf("failed to patch: %w", err))
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, r.fail("persist", statusError(resp))
	}
	doc, err := model.DecodeDocument(resp.Body)
	if err != nil {
		return 0, r.fail("persist", err)
	}
	return doc.Rev(), nil
}

// Subscribe keeps a websocket open to the document's watch endpoint and
// reconnects on failure until unsubscribed. The server sends the current
// document on connect, so the first snapshot arrives without a separate load.
func (r *Remote) Subscribe(ctx context.Context, kind model.Kind, onSnapshot func(Snapshot), onError func(error)) (Unsubscribe, error) {
	if onError == nil {
		onError = func(error) {}
	}
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		r.watchContinuously(ctx, kind, onSnapshot, onError)
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			wg.Wait()
		})
	}, nil
}

func (r *Remote) watchContinuously(ctx context.Context, kind model.Kind, onSnapshot func(Snapshot), onError func(error)) {
	t := time.NewTicker(r.retry)
	defer t.Stop()
	for {
		if err := r.watch(ctx, kind, onSnapshot); err != nil && ctx.Err() == nil {
			onError(r.fail("watch", err))
		}
		select {
		case <-t.C:
		case <-ctx.Done():
			r.logger.Debug("stopping remote watch", "identity", r.identity, "kind", kind)
			return
		}
	}
}

func (r *Remote) watch(ctx context.Context, kind model.Kind, onSnapshot func(Snapshot)) error {
	u := r.docURL().JoinPath("watch")
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+r.token)
	conn, resp, err := r.dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			return statusError(resp)
		}
		return fmt.Errorf("failed to dial: %w", err)
	}
	defer conn.Close()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-stop:
		}
	}()

	r.logger.Debug("remote watch connected", "identity", r.identity, "kind", kind)
	for {
		mt, p, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("failed to read message: %w", err)
		}
		if mt != websocket.TextMessage {
			continue
		}
		doc, err := model.DecodeDocument(bytes.NewReader(p))
		if err != nil {
			r.logger.Warn("skipping malformed document", "err", err)
			continue
		}
		onSnapshot(Snapshot{Records: doc.Records(kind), Rev: doc.Rev()})
	}
}

func (r *Remote) fail(op string, err error) error {
	var pe *PersistenceError
	if errors.As(err, &pe) {
		return err
	}
	return &PersistenceError{Backend: r.Name(), Op: op, Kind: classifyNet(err), Err: err}
}

type httpStatusError struct {
	Code int
	Body string
}

func (e *httpStatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status code: %d", e.Code)
	}
	return fmt.Sprintf("unexpected status code: %d: %s", e.Code, e.Body)
}

func statusError(resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &httpStatusError{Code: resp.StatusCode, Body: string(bytes.TrimSpace(b))}
}

func classifyNet(err error) ErrorKind {
	var se *httpStatusError
	if errors.As(err, &se) {
		switch {
		case se.Code == http.StatusUnauthorized || se.Code == http.StatusForbidden:
			return PermissionDenied
		case se.Code == http.StatusServiceUnavailable || se.Code == http.StatusBadGateway || se.Code == http.StatusGatewayTimeout:
			return Unavailable
		case se.Code == http.StatusRequestEntityTooLarge || se.Code == http.StatusInsufficientStorage:
			return QuotaExceeded
		}
		return Other
	}
	var ne net.Error
	var oe *net.OpError
	if errors.As(err, &oe) || errors.As(err, &ne) || errors.Is(err, context.DeadlineExceeded) {
		return Unavailable
	}
	return Other
}
