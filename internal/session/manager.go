// ABOUTME: Tracks MCP client sessions: capacity, activity, idle expiry and shutdown.
// ABOUTME: Lifecycle transitions are fanned out to subscribers registered via Subscribe.

package session

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/2389/stampchain-mcp/internal/toolerr"
)

const (
	DefaultMaxConnections = 100
	DefaultSessionTimeout = time.Hour
	DefaultSweepInterval  = 5 * time.Minute

	// activeWindow is how recent activity must be for Stats to count a session as active.
	activeWindow = time.Minute
)

// ErrCapacity indicates the manager is at MaxConnections.
var ErrCapacity = errors.New("connection limit reached")

// ErrClosed indicates the manager has been shut down.
var ErrClosed = errors.New("session manager closed")

// Transport is the kind of stream a session arrived on.
type Transport string

const (
	TransportStdio Transport = "stdio"
	TransportHTTP  Transport = "http"
)

// DisconnectReason records why a session ended.
type DisconnectReason string

const (
	ReasonClosed   DisconnectReason = "closed"
	ReasonExpired  DisconnectReason = "expired"
	ReasonShutdown DisconnectReason = "shutdown"
)

// Info is a snapshot of a session.
type Info struct {
	ID           string
	ConnectedAt  time.Time
	LastActivity time.Time
	RequestCount int64
	Transport    Transport
}

// Stats aggregates the live sessions.
type Stats struct {
	TotalSessions             int
	ActiveSessions            int
	TotalRequests             int64
	AverageRequestsPerSession float64
	OldestSession             *Info
}

// Config controls session limits.
type Config struct {
	MaxConnections int
	SessionTimeout time.Duration
	SweepInterval  time.Duration
	Logger         *slog.Logger
	Now            func() time.Time
}

// Manager owns every session record. All methods are safe for concurrent use.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Info
	closed   bool

	subMu   sync.Mutex
	subs    []subscription
	nextSub int

	cron     *cron.Cron
	cronOnce sync.Once
	shutOnce sync.Once

	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

// NewManager creates a manager. Call Start to begin idle sweeping.
func NewManager(cfg Config) *Manager {
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = DefaultMaxConnections
	}
	if cfg.SessionTimeout <= 0 {
		cfg.SessionTimeout = DefaultSessionTimeout
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Manager{
		sessions: make(map[string]*Info),
		cron:     cron.New(),
		cfg:      cfg,
		logger:   logger.With("component", "sessions"),
		now:      now,
	}
}

// Start schedules the idle sweep. Calling it more than once has no effect.
func (m *Manager) Start() error {
	var err error
	m.cronOnce.Do(func() {
		spec := fmt.Sprintf("@every %s", m.cfg.SweepInterval)
		if _, err = m.cron.AddFunc(spec, func() { m.Sweep() }); err != nil {
			err = fmt.Errorf("scheduling session sweep: %w", err)
			return
		}
		m.cron.Start()
		m.logger.Debug("session sweep scheduled",
			"interval", m.cfg.SweepInterval,
			"timeout", m.cfg.SessionTimeout,
		)
	})
	return err
}

// RegisterConnection creates a session and returns its id. It returns a
// capacity fault naming the limit when MaxConnections sessions are live.
func (m *Manager) RegisterConnection(transport Transport) (string, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return "", toolerr.Wrap(toolerr.KindInternal, ErrClosed, "session manager is shutting down")
	}
	if len(m.sessions) >= m.cfg.MaxConnections {
		m.mu.Unlock()
		return "", toolerr.Wrap(toolerr.KindCapacity, ErrCapacity,
			fmt.Sprintf("maximum connections reached (%d)", m.cfg.MaxConnections)).
			WithDetail("max_connections", m.cfg.MaxConnections)
	}

	id := uuid.New().String()
	for m.sessions[id] != nil {
		id = uuid.New().String()
	}
	now := m.now()
	info := &Info{
		ID:           id,
		ConnectedAt:  now,
		LastActivity: now,
		Transport:    transport,
	}
	m.sessions[id] = info
	snapshot := *info
	total := len(m.sessions)
	m.mu.Unlock()

	m.logger.Info("=== SESSION CONNECTED ===",
		"session_id", id,
		"transport", transport,
		"total_sessions", total,
	)
	m.emit(func(h Hooks) {
		if h.OnConnect != nil {
			h.OnConnect(snapshot)
		}
	})
	return id, nil
}

// UnregisterConnection removes a session. Unknown ids are logged and ignored.
func (m *Manager) UnregisterConnection(id string) {
	m.unregister(id, ReasonClosed)
}

func (m *Manager) unregister(id string, reason DisconnectReason) bool {
	m.mu.Lock()
	info, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	total := len(m.sessions)
	m.mu.Unlock()

	if !ok {
		m.logger.Warn("unregister of unknown session", "session_id", id)
		return false
	}

	m.logger.Info("=== SESSION DISCONNECTED ===",
		"session_id", id,
		"reason", reason,
		"requests", info.RequestCount,
		"duration", m.now().Sub(info.ConnectedAt),
		"total_sessions", total,
	)
	m.emit(func(h Hooks) {
		if h.OnDisconnect != nil {
			h.OnDisconnect(id, reason)
		}
	})
	return true
}

// UpdateActivity records a request on the session. Unknown ids are logged
// and never create a session.
func (m *Manager) UpdateActivity(id string) {
	m.mu.Lock()
	info, ok := m.sessions[id]
	if ok {
		now := m.now()
		if now.Before(info.ConnectedAt) {
			now = info.ConnectedAt
		}
		info.LastActivity = now
		info.RequestCount++
	}
	m.mu.Unlock()

	if !ok {
		m.logger.Warn("activity for unknown session", "session_id", id)
		return
	}
	m.emit(func(h Hooks) {
		if h.OnActivity != nil {
			h.OnActivity(id)
		}
	})
}

// ReportError notifies subscribers of a transport-level failure on a session.
func (m *Manager) ReportError(id string, err error) {
	m.logger.Warn("session error", "session_id", id, "error", err)
	m.emit(func(h Hooks) {
		if h.OnError != nil {
			h.OnError(id, err)
		}
	})
}

// Get returns a snapshot of the session.
func (m *Manager) Get(id string) (Info, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	info, ok := m.sessions[id]
	if !ok {
		return Info{}, false
	}
	return *info, true
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Stats computes the aggregate view from current state.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var s Stats
	s.TotalSessions = len(m.sessions)
	for _, info := range m.sessions {
		s.TotalRequests += info.RequestCount
		if now.Sub(info.LastActivity) <= activeWindow {
			s.ActiveSessions++
		}
		if s.OldestSession == nil || info.ConnectedAt.Before(s.OldestSession.ConnectedAt) {
			cp := *info
			s.OldestSession = &cp
		}
	}
	if s.TotalSessions > 0 {
		s.AverageRequestsPerSession = float64(s.TotalRequests) / float64(s.TotalSessions)
	}
	return s
}

// Sweep expires every session idle for longer than SessionTimeout and
// returns how many were removed. The cron job calls it; tests may call it
// directly.
func (m *Manager) Sweep() int {
	m.mu.Lock()
	now := m.now()
	var expired []string
	for id, info := range m.sessions {
		if now.Sub(info.LastActivity) > m.cfg.SessionTimeout {
			expired = append(expired, id)
		}
	}
	m.mu.Unlock()

	removed := 0
	for _, id := range expired {
		// The session may have been touched or removed since the snapshot.
		m.mu.Lock()
		info, ok := m.sessions[id]
		stillIdle := ok && m.now().Sub(info.LastActivity) > m.cfg.SessionTimeout
		m.mu.Unlock()
		if !stillIdle {
			continue
		}
		if m.unregister(id, ReasonExpired) {
			removed++
		}
	}
	if removed > 0 {
		m.logger.Info("expired idle sessions", "count", removed)
	}
	return removed
}

// Shutdown stops the sweep, unregisters every session, and releases all
// subscriptions. Safe to call multiple times.
func (m *Manager) Shutdown() {
	m.shutOnce.Do(func() {
		m.mu.Lock()
		m.closed = true
		ids := make([]string, 0, len(m.sessions))
		for id := range m.sessions {
			ids = append(ids, id)
		}
		m.mu.Unlock()

		<-m.cron.Stop().Done()

		for _, id := range ids {
			m.unregister(id, ReasonShutdown)
		}

		m.subMu.Lock()
		m.subs = nil
		m.subMu.Unlock()

		m.logger.Info("session manager stopped", "sessions_closed", len(ids))
	})
}
