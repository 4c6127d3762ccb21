package connection

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	json "github.com/goccy/go-json"
	"golang.org/x/sync/errgroup"
)

// Registry shares one Session per URL and configuration.
type Registry struct {
	transport Transport
	logger    *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry creates an empty registry. Sessions it creates use transport;
// nil selects the default gorilla/websocket Dialer.
func NewRegistry(transport Transport, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		transport: transport,
		logger:    logger,
		sessions:  make(map[string]*Session),
	}
}

// Get returns the session for url and cfg, creating it on first use. A
// session destroyed directly by its holder is replaced.
func (r *Registry) Get(url string, cfg Config) (*Session, error) {
	key, err := registryKey(url, cfg)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[key]; ok {
		if !s.Destroyed() {
			return s, nil
		}
		delete(r.sessions, key)
		r.logger.Debug("replacing destroyed session", "url", url)
	}

	s, err := NewSession(url, cfg, r.transport, r.logger)
	if err != nil {
		return nil, err
	}
	r.sessions[key] = s
	r.logger.Debug("session registered", "url", url, "sessions", len(r.sessions))
	return s, nil
}

// Destroy destroys and forgets the session for url and cfg. It reports
// whether one existed.
func (r *Registry) Destroy(url string, cfg Config) bool {
	key, err := registryKey(url, cfg)
	if err != nil {
		return false
	}

	r.mu.Lock()
	s, ok := r.sessions[key]
	delete(r.sessions, key)
	r.mu.Unlock()

	if ok {
		s.Destroy()
	}
	return ok
}

// DestroyAll destroys every registered session in parallel.
func (r *Registry) DestroyAll(ctx context.Context) error {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for key, s := range r.sessions {
		sessions = append(sessions, s)
		delete(r.sessions, key)
	}
	r.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)
	for _, s := range sessions {
		g.Go(func() error {
			done := make(chan struct{})
			go func() {
				s.Destroy()
				close(done)
			}()
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return fmt.Errorf("destroy %s: %w", s.URL(), ctx.Err())
			}
		})
	}
	return g.Wait()
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// registryKey identifies a session by URL and the configuration it was
// created with. ClientID is left out when unset so every Get with the same
// settings resolves to one session.
func registryKey(url string, cfg Config) (string, error) {
	clientID := cfg.ClientID
	cfg = cfg.withDefaults()
	cfg.ClientID = clientID
	b, err := json.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("registry key: %w", err)
	}
	return url + "\x00" + string(b), nil
}
