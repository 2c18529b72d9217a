package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/logiflow/delivery-gateway/internal/config"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// State is the lifecycle state of the gateway credential.
type State int

const (
	Unauthenticated State = iota
	Authenticating
	Authenticated
	Refreshing
	RetryBackoff
)

func (s State) String() string {
	switch s {
	case Unauthenticated:
		return "UNAUTHENTICATED"
	case Authenticating:
		return "AUTHENTICATING"
	case Authenticated:
		return "AUTHENTICATED"
	case Refreshing:
		return "REFRESHING"
	case RetryBackoff:
		return "RETRY_BACKOFF"
	default:
		return "UNKNOWN"
	}
}

// Credential is the token currently used for upstream calls. It is always
// replaced as a whole.
type Credential struct {
	Token      string
	ObtainedAt time.Time
	ExpiresAt  time.Time
}

// Timer is a scheduled callback that can be cancelled.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f to run once after d.
type AfterFunc func(d time.Duration, f func()) Timer

// Manager keeps a single service credential valid for the life of the
// process. After Initialize it refreshes the token ahead of expiry; failed
// refreshes are retried at a fixed interval while the previous token remains
// in use.
//
// Exactly one refresh or retry timer is armed at any time. Every timer carries
// the generation it was armed in, and a timer that fires after being replaced
// or cancelled does nothing.
type Manager struct {
	login         LoginFunc
	lifetime      time.Duration
	margin        time.Duration
	retryInterval time.Duration
	afterFunc     AfterFunc
	now           func() time.Time

	// logins are serialized so a forced re-authentication never races a
	// scheduled refresh.
	loginMu sync.Mutex
	reauth  singleflight.Group

	mu         sync.RWMutex
	state      State
	credential *Credential
	timer      Timer
	generation uint64

	// epoch changes on every Shutdown; logins started in an earlier epoch are
	// discarded.
	epoch uint64
}

type Option func(*Manager)

// WithAfterFunc replaces the timer source, normally time.AfterFunc.
func WithAfterFunc(fn AfterFunc) Option {
	return func(m *Manager) {
		m.afterFunc = fn
	}
}

// WithClock replaces the time source used to compute token lifetimes.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

func NewManager(cfg config.AuthConfig, login LoginFunc, opts ...Option) *Manager {
	m := &Manager{
		login:         login,
		lifetime:      cfg.TokenLifetime,
		margin:        cfg.RefreshMargin,
		retryInterval: cfg.RetryInterval,
		afterFunc: func(d time.Duration, f func()) Timer {
			return time.AfterFunc(d, f)
		},
		now: time.Now,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Initialize performs the first login and arms the refresh schedule. It must
// succeed before the gateway serves traffic; a failure is returned and not
// retried.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	if m.state != Unauthenticated {
		state := m.state
		m.mu.Unlock()
		return &Error{Phase: PhaseInitialize, Err: fmt.Errorf("already started (state %s)", state)}
	}
	m.state = Authenticating
	epoch := m.epoch
	m.mu.Unlock()

	log.Info().Msg("auth: initial login starting")

	cred, err := m.obtain(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.epoch != epoch {
		return &Error{Phase: PhaseInitialize, Err: ErrShutdown}
	}

	if err != nil {
		m.state = Unauthenticated
		log.Error().Err(err).Msg("auth: initial login failed")
		return &Error{Phase: PhaseInitialize, Err: err}
	}

	m.credential = cred
	m.state = Authenticated
	interval := m.refreshInterval(cred)
	m.armLocked(interval)

	log.Info().
		Time("expiry", cred.ExpiresAt).
		Dur("refresh_in", interval).
		Msg("auth: initial login succeeded")

	return nil
}

// ForceReauth logs in immediately, outside the refresh schedule. It is
// intended for callers whose upstream request was rejected as unauthorized.
// Concurrent calls share one login attempt.
//
// Success replaces the credential and restarts the normal refresh schedule.
// Failure is returned to the caller; the current token and the armed timer are
// left as they were.
func (m *Manager) ForceReauth(ctx context.Context) error {
	m.mu.RLock()
	hasToken := m.credential != nil
	epoch := m.epoch
	m.mu.RUnlock()

	if !hasToken {
		return &Error{Phase: PhaseReauth, Err: ErrCredentialUnavailable}
	}

	_, err, _ := m.reauth.Do("reauth", func() (any, error) {
		log.Info().Msg("auth: forced re-authentication")

		cred, err := m.obtain(ctx)

		m.mu.Lock()
		defer m.mu.Unlock()

		if m.epoch != epoch {
			return nil, ErrShutdown
		}

		if err != nil {
			log.Warn().Err(err).Msg("auth: forced re-authentication failed")
			return nil, err
		}

		m.acceptLocked(cred)
		return nil, nil
	})
	if err != nil {
		return &Error{Phase: PhaseReauth, Err: err}
	}

	return nil
}

// AuthHeader returns the current credential formatted as a bearer
// Authorization header value. ErrCredentialUnavailable is returned when no
// token has been obtained.
func (m *Manager) AuthHeader() (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.credential == nil {
		return "", ErrCredentialUnavailable
	}

	return "Bearer " + m.credential.Token, nil
}

// Credential returns a copy of the current credential.
func (m *Manager) Credential() (Credential, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.credential == nil {
		return Credential{}, false
	}
	return *m.credential, true
}

func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.state
}

// Shutdown cancels any scheduled refresh and discards the credential. It is
// safe to call more than once.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cancelLocked()
	m.epoch++
	wasActive := m.credential != nil || m.state != Unauthenticated
	m.credential = nil
	m.state = Unauthenticated

	if wasActive {
		log.Info().Msg("auth: shut down")
	}
}

// onTimer is invoked by the refresh and retry timers.
func (m *Manager) onTimer(generation uint64) {
	m.mu.Lock()
	if generation != m.generation || (m.state != Authenticated && m.state != RetryBackoff) {
		m.mu.Unlock()
		return
	}
	m.state = Refreshing
	m.timer = nil
	epoch := m.epoch
	m.mu.Unlock()

	log.Info().Msg("auth: refreshing token")

	cred, err := m.obtain(context.Background())

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.epoch != epoch {
		return
	}

	if err != nil {
		// a forced re-authentication may already have settled the state
		if m.state == Refreshing {
			m.backoffLocked(err)
		}
		return
	}

	m.acceptLocked(cred)
}

func (m *Manager) acceptLocked(cred *Credential) {
	m.credential = cred
	m.state = Authenticated
	interval := m.refreshInterval(cred)
	m.armLocked(interval)

	log.Info().
		Time("expiry", cred.ExpiresAt).
		Dur("refresh_in", interval).
		Msg("auth: token refreshed")
}

func (m *Manager) backoffLocked(err error) {
	m.state = RetryBackoff
	m.armLocked(m.retryInterval)

	log.Warn().
		Err(err).
		Dur("retry_in", m.retryInterval).
		Msg("auth: token refresh failed, continuing with current token")
}

// armLocked replaces any armed timer with one firing after d.
func (m *Manager) armLocked(d time.Duration) {
	m.cancelLocked()

	generation := m.generation
	m.timer = m.afterFunc(d, func() {
		m.onTimer(generation)
	})
}

func (m *Manager) cancelLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.generation++
}

func (m *Manager) obtain(ctx context.Context) (*Credential, error) {
	m.loginMu.Lock()
	defer m.loginMu.Unlock()

	tok, err := m.login(ctx)
	if err != nil {
		return nil, err
	}

	if tok.AccessToken == "" {
		return nil, errors.New("login returned an empty access token")
	}

	now := m.now()
	return &Credential{
		Token:      tok.AccessToken,
		ObtainedAt: now,
		ExpiresAt:  now.Add(tokenLifetime(tok, m.lifetime, now)),
	}, nil
}

// refreshInterval schedules the refresh a safety margin before expiry. Tokens
// shorter-lived than the margin are refreshed at half their lifetime.
func (m *Manager) refreshInterval(cred *Credential) time.Duration {
	lifetime := cred.ExpiresAt.Sub(cred.ObtainedAt)

	interval := lifetime - m.margin
	if interval <= 0 {
		interval = lifetime / 2
	}
	return interval
}
