package speakers

import (
	"cmp"
	"context"
	"fmt"
	"log"
	"reflect"
	"slices"
	"sync"

	"github.com/strefethen/kef-hub-go/internal/config"
	"github.com/strefethen/kef-hub-go/internal/kef"
)

// ReloadResult lists the speaker keys touched by Reload.
type ReloadResult struct {
	Added     []string `json:"added"`
	Removed   []string `json:"removed"`
	Restarted []string `json:"restarted"`
	Unchanged []string `json:"unchanged"`
}

// Registry maps speaker IPs to sessions and fans their changes out to
// listeners. It is safe for concurrent use.
type Registry struct {
	opts   Options
	logger *log.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
	reloadMu sync.Mutex

	listenersMu sync.RWMutex
	listeners   []Listener
	reloadHooks []func(ReloadResult)
}

// NewRegistry creates an empty registry. opts.Listener is ignored; use
// AddListener.
func NewRegistry(opts Options) *Registry {
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	r := &Registry{
		opts:     opts,
		logger:   opts.Logger,
		sessions: make(map[string]*Session),
	}
	r.opts.Listener = r
	return r
}

// AddListener registers l for every session's changes.
func (r *Registry) AddListener(l Listener) {
	r.listenersMu.Lock()
	r.listeners = append(r.listeners, l)
	r.listenersMu.Unlock()
}

// OnReload registers fn to run after every successful Reload.
func (r *Registry) OnReload(fn func(ReloadResult)) {
	r.listenersMu.Lock()
	r.reloadHooks = append(r.reloadHooks, fn)
	r.listenersMu.Unlock()
}

// SpeakerChanged implements Listener by forwarding to every registered listener.
func (r *Registry) SpeakerChanged(key string, change kef.SpeakerChange, snapshot kef.SpeakerStatus) {
	r.listenersMu.RLock()
	listeners := slices.Clone(r.listeners)
	r.listenersMu.RUnlock()

	for _, l := range listeners {
		l.SpeakerChanged(key, change, snapshot)
	}
}

// Add creates and starts a session for cfg. The session is registered even
// when the speaker cannot be reached; that error is returned alongside it.
func (r *Registry) Add(ctx context.Context, cfg config.SpeakerConfig) (*Session, error) {
	session, err := NewSession(cfg, r.opts)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if _, exists := r.sessions[cfg.IP]; exists {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrSpeakerExists, cfg.IP)
	}
	r.sessions[cfg.IP] = session
	r.mu.Unlock()

	return session, session.Start(ctx)
}

// Remove closes and forgets the session for key.
func (r *Registry) Remove(key string) error {
	r.mu.Lock()
	session, ok := r.sessions[key]
	delete(r.sessions, key)
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrSpeakerNotFound, key)
	}
	session.Close()
	return nil
}

// Get returns the session for key.
func (r *Registry) Get(key string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	session, ok := r.sessions[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSpeakerNotFound, key)
	}
	return session, nil
}

// List returns every session ordered by name, then IP.
func (r *Registry) List() []*Session {
	r.mu.RLock()
	out := make([]*Session, 0, len(r.sessions))
	for _, session := range r.sessions {
		out = append(out, session)
	}
	r.mu.RUnlock()

	slices.SortFunc(out, func(a, b *Session) int {
		return cmp.Or(cmp.Compare(a.cfg.Name, b.cfg.Name), cmp.Compare(a.cfg.IP, b.cfg.IP))
	})
	return out
}

// Len is the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Reload brings the registry in line with configs: sessions whose speaker
// disappeared are closed, sessions whose configuration changed are replaced,
// and new speakers are started. New sessions start in parallel; start
// failures are logged since the sessions keep retrying.
func (r *Registry) Reload(ctx context.Context, configs []config.SpeakerConfig) (ReloadResult, error) {
	var result ReloadResult

	wanted := make(map[string]config.SpeakerConfig, len(configs))
	for _, cfg := range configs {
		wanted[cfg.IP] = cfg
	}

	r.reloadMu.Lock()
	defer r.reloadMu.Unlock()

	r.mu.Lock()
	// Build every new session before touching the map so a bad entry leaves
	// the registry as it was.
	replacements := make(map[string]*Session)
	for key, cfg := range wanted {
		current, exists := r.sessions[key]
		if exists && reflect.DeepEqual(cfg, current.cfg) {
			continue
		}
		session, err := NewSession(cfg, r.opts)
		if err != nil {
			r.mu.Unlock()
			return ReloadResult{}, err
		}
		replacements[key] = session
	}

	var toStart []*Session
	var toClose []*Session
	for key, session := range r.sessions {
		if _, keep := wanted[key]; !keep {
			toClose = append(toClose, session)
			delete(r.sessions, key)
			result.Removed = append(result.Removed, key)
			continue
		}
		if replacement, ok := replacements[key]; ok {
			toClose = append(toClose, session)
			r.sessions[key] = replacement
			toStart = append(toStart, replacement)
			result.Restarted = append(result.Restarted, key)
			delete(replacements, key)
			continue
		}
		result.Unchanged = append(result.Unchanged, key)
	}
	for key, session := range replacements {
		r.sessions[key] = session
		toStart = append(toStart, session)
		result.Added = append(result.Added, key)
	}
	r.mu.Unlock()

	for _, session := range toClose {
		session.Close()
	}
	r.startAll(ctx, toStart)

	slices.Sort(result.Added)
	slices.Sort(result.Removed)
	slices.Sort(result.Restarted)
	slices.Sort(result.Unchanged)
	r.logger.Printf("KEF: reload added=%v removed=%v restarted=%v", result.Added, result.Removed, result.Restarted)

	r.listenersMu.RLock()
	hooks := slices.Clone(r.reloadHooks)
	r.listenersMu.RUnlock()
	for _, fn := range hooks {
		fn(result)
	}
	return result, nil
}

func (r *Registry) startAll(ctx context.Context, sessions []*Session) {
	var wg sync.WaitGroup
	for _, session := range sessions {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			if err := s.Start(ctx); err != nil {
				r.logger.Printf("KEF: start %s: %v", s.Key(), err)
			}
		}(session)
	}
	wg.Wait()
}

// Close terminates every session.
func (r *Registry) Close() {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, session := range r.sessions {
		sessions = append(sessions, session)
	}
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, session := range sessions {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			s.Close()
		}(session)
	}
	wg.Wait()
}
