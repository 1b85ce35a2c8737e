// Package docserver is the remote store: one JSON document per identity,
// merge-written per field and pushed in full to every live watcher.
package docserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/felixge/httpsnoop"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/Makepad-fr/tada/internal/auth"
)

// MaxBodyBytes bounds a single write. Larger bodies are refused with 413.
const MaxBodyBytes = 8 << 20

const writeWait = 10 * time.Second

// Server serves the document API.
type Server struct {
	store  *Store
	hub    *hub
	logger *slog.Logger

	// Identify maps a bearer token to the identity it may access, or ""
	// when the token is not trusted.
	Identify func(token string) string
}

// New returns a server that accepts opaque tokens only. Use WithTokenSecret
// to also accept signed JWTs.
func New(store *Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{store: store, hub: newHub(), logger: logger, Identify: auth.NewVerifier("").Identify}
}

// WithTokenSecret verifies JWT subjects against secret.
func (s *Server) WithTokenSecret(secret string) *Server {
	s.Identify = auth.NewVerifier(secret).Identify
	return s
}

// Handler returns the routed, logged HTTP handler.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(s.logRequests)

	r.Methods(http.MethodGet).Path("/healthz").HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Methods(http.MethodGet).Path("/docs/{identity}").Handler(s.requireIdentity(http.HandlerFunc(s.getDoc)))
	r.Methods(http.MethodPatch).Path("/docs/{identity}").Handler(s.requireIdentity(http.HandlerFunc(s.patchDoc)))
	r.Methods(http.MethodGet).Path("/docs/{identity}/watch").Handler(s.requireIdentity(http.HandlerFunc(s.watchDoc)))
	return r
}

func (s *Server) logRequests(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		id := request.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		writer.Header().Set("X-Request-Id", id)
		m := httpsnoop.CaptureMetrics(handler, writer, request)
		s.logger.Info("handled", "id", id, "method", request.Method, "url", request.URL, "duration", m.Duration, "status", m.Code)
	})
}

// requireIdentity only lets a token reach the document of its own identity.
func (s *Server) requireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		token := bearer(request)
		if token == "" {
			http.Error(writer, "missing bearer token", http.StatusUnauthorized)
			return
		}
		identity := s.Identify(token)
		if identity == "" || identity != mux.Vars(request)["identity"] {
			http.Error(writer, "token does not grant access to this document", http.StatusForbidden)
			return
		}
		next.ServeHTTP(writer, request)
	})
}

func bearer(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

func (s *Server) getDoc(writer http.ResponseWriter, request *http.Request) {
	doc, err := s.store.Get(request.Context(), mux.Vars(request)["identity"])
	if err != nil {
		s.logger.Error("failed to load document", "err", err)
		http.Error(writer, "failed to load document", http.StatusServiceUnavailable)
		return
	}
	writeJSON(writer, doc, s.logger)
}

func (s *Server) patchDoc(writer http.ResponseWriter, request *http.Request) {
	identity := mux.Vars(request)["identity"]

	body, err := io.ReadAll(http.MaxBytesReader(writer, request.Body, MaxBodyBytes))
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			http.Error(writer, "document too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(writer, "failed to read body", http.StatusBadRequest)
		return
	}
	// Numbers stay json.Number so ids beyond 2^53 are stored exactly.
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var patch map[string]any
	if err := dec.Decode(&patch); err != nil || patch == nil {
		http.Error(writer, "body must be a JSON object", http.StatusBadRequest)
		return
	}
	if _, err := dec.Token(); err != io.EOF {
		http.Error(writer, "body must be a single JSON object", http.StatusBadRequest)
		return
	}
	for k, v := range patch {
		if _, ok := v.([]any); !ok {
			http.Error(writer, "field "+k+" must be an array", http.StatusBadRequest)
			return
		}
	}

	doc, err := s.store.Merge(request.Context(), identity, patch)
	if err != nil {
		s.logger.Error("failed to merge document", "identity", identity, "err", err)
		http.Error(writer, "failed to store document", http.StatusServiceUnavailable)
		return
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		http.Error(writer, "failed to encode document", http.StatusInternalServerError)
		return
	}
	s.hub.publish(identity, raw)
	s.logger.Info("merged", "identity", identity, "rev", doc.Rev(), "watchers", s.hub.count(identity))

	writer.Header().Set("Content-Type", "application/json")
	_, _ = writer.Write(raw)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

func (s *Server) watchDoc(writer http.ResponseWriter, request *http.Request) {
	identity := mux.Vars(request)["identity"]
	conn, err := upgrader.Upgrade(writer, request, nil)
	if err != nil {
		s.logger.Error("failed to upgrade", "err", err)
		return
	}
	defer conn.Close()

	// Register before reading so no write between the read and the
	// registration is missed.
	w := s.hub.add(identity)
	defer s.hub.remove(identity, w)

	doc, err := s.store.Get(request.Context(), identity)
	if err != nil {
		s.logger.Error("failed to load document", "err", err)
		return
	}
	initial, err := json.Marshal(doc)
	if err != nil {
		return
	}
	w.offer(initial)

	ctx, cancel := context.WithCancel(request.Context())
	defer cancel()
	go func() {
		defer cancel()
		// Drain client frames; a read error means the client went away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case msg := <-w.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				s.logger.Debug("watcher write failed", "identity", identity, "err", err)
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("failed to write", "err", err)
	}
}

// Run serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	httpServer := &http.Server{Addr: addr, Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	s.logger.Info("listening", "addr", addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
