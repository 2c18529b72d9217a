package auth_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/logiflow/delivery-gateway/internal/auth"
	"github.com/logiflow/delivery-gateway/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var defaultAuth = config.AuthConfig{
	TokenLifetime: 60 * time.Minute,
	RefreshMargin: 10 * time.Minute,
	RetryInterval: 5 * time.Minute,
}

// fakeTimers records scheduled callbacks so tests decide when they fire.
type fakeTimers struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

type fakeTimer struct {
	owner   *fakeTimers
	d       time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.owner.mu.Lock()
	defer t.owner.mu.Unlock()

	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

func (s *fakeTimers) AfterFunc(d time.Duration, f func()) auth.Timer {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := &fakeTimer{owner: s, d: d, f: f}
	s.timers = append(s.timers, t)
	return t
}

// armed returns the timers that have neither fired nor been stopped.
func (s *fakeTimers) armed() []*fakeTimer {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*fakeTimer
	for _, t := range s.timers {
		if !t.stopped && !t.fired {
			out = append(out, t)
		}
	}
	return out
}

// fireNext runs the single armed timer and returns its delay.
func (s *fakeTimers) fireNext(t *testing.T) time.Duration {
	t.Helper()

	armed := s.armed()
	require.Len(t, armed, 1, "exactly one timer should be armed")

	timer := armed[0]
	s.mu.Lock()
	timer.fired = true
	s.mu.Unlock()

	timer.f()
	return timer.d
}

// scriptedLogin returns results in order, repeating the last one.
type scriptedLogin struct {
	mu      sync.Mutex
	results []loginResult
	calls   atomic.Int32
}

type loginResult struct {
	tok auth.Token
	err error
}

func (s *scriptedLogin) then(token string, err error) *scriptedLogin {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, loginResult{tok: auth.Token{AccessToken: token}, err: err})
	return s
}

func (s *scriptedLogin) login(context.Context) (auth.Token, error) {
	n := int(s.calls.Add(1)) - 1

	s.mu.Lock()
	defer s.mu.Unlock()
	if n >= len(s.results) {
		n = len(s.results) - 1
	}
	r := s.results[n]
	return r.tok, r.err
}

func newManager(login auth.LoginFunc, timers *fakeTimers, opts ...auth.Option) *auth.Manager {
	opts = append([]auth.Option{auth.WithAfterFunc(timers.AfterFunc)}, opts...)
	return auth.NewManager(defaultAuth, login, opts...)
}

func TestCredentialLifecycle_RefreshFailureKeepsToken(t *testing.T) {
	ctx := context.Background()
	timers := &fakeTimers{}
	refused := errors.New("auth service unavailable")
	login := (&scriptedLogin{}).
		then("abc", nil).
		then("", refused).
		then("", refused).
		then("def", nil)

	m := newManager(login.login, timers)
	require.NoError(t, m.Initialize(ctx))

	header, err := m.AuthHeader()
	require.NoError(t, err)
	assert.Equal(t, "Bearer abc", header)
	assert.Equal(t, auth.Authenticated, m.State())

	// minute 50: the refresh fails
	assert.Equal(t, 50*time.Minute, timers.fireNext(t))
	header, err = m.AuthHeader()
	require.NoError(t, err)
	assert.Equal(t, "Bearer abc", header, "the old token stays in use")
	assert.Equal(t, auth.RetryBackoff, m.State())

	// minute 55: the retry fails too
	assert.Equal(t, 5*time.Minute, timers.fireNext(t))
	assert.Equal(t, auth.RetryBackoff, m.State())

	// minute 60: the retry succeeds and the normal schedule resumes
	assert.Equal(t, 5*time.Minute, timers.fireNext(t))
	header, err = m.AuthHeader()
	require.NoError(t, err)
	assert.Equal(t, "Bearer def", header)
	assert.Equal(t, auth.Authenticated, m.State())

	armed := timers.armed()
	require.Len(t, armed, 1)
	assert.Equal(t, 50*time.Minute, armed[0].d)
	assert.Equal(t, int32(4), login.calls.Load())
}

func TestInitialize_Failure(t *testing.T) {
	timers := &fakeTimers{}
	refused := errors.New("invalid credentials")
	login := (&scriptedLogin{}).then("", refused)

	m := newManager(login.login, timers)
	err := m.Initialize(context.Background())

	var authErr *auth.Error
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, auth.PhaseInitialize, authErr.Phase)
	assert.ErrorIs(t, err, refused)

	assert.Equal(t, auth.Unauthenticated, m.State())
	assert.Empty(t, timers.armed(), "no refresh is scheduled after a failed start")

	_, err = m.AuthHeader()
	assert.ErrorIs(t, err, auth.ErrCredentialUnavailable)
}

func TestInitialize_EmptyTokenRejected(t *testing.T) {
	login := (&scriptedLogin{}).then("", nil)
	m := newManager(login.login, &fakeTimers{})

	err := m.Initialize(context.Background())
	assert.ErrorContains(t, err, "empty access token")
}

func TestInitialize_OnlyOnce(t *testing.T) {
	login := (&scriptedLogin{}).then("abc", nil)
	m := newManager(login.login, &fakeTimers{})

	require.NoError(t, m.Initialize(context.Background()))
	err := m.Initialize(context.Background())
	assert.ErrorContains(t, err, "already started")
	assert.Equal(t, int32(1), login.calls.Load())
}

func TestAuthHeader_BeforeInitialize(t *testing.T) {
	m := newManager((&scriptedLogin{}).then("abc", nil).login, &fakeTimers{})

	_, err := m.AuthHeader()
	assert.ErrorIs(t, err, auth.ErrCredentialUnavailable)
	assert.Equal(t, auth.Unauthenticated, m.State())
}

func TestForceReauth_ReplacesTokenAndReschedules(t *testing.T) {
	ctx := context.Background()
	timers := &fakeTimers{}
	login := (&scriptedLogin{}).then("abc", nil).then("def", nil)

	m := newManager(login.login, timers)
	require.NoError(t, m.Initialize(ctx))

	initial := timers.armed()
	require.Len(t, initial, 1)

	require.NoError(t, m.ForceReauth(ctx))

	header, err := m.AuthHeader()
	require.NoError(t, err)
	assert.Equal(t, "Bearer def", header)

	armed := timers.armed()
	require.Len(t, armed, 1)
	assert.NotSame(t, initial[0], armed[0])

	// a replaced timer that fires late must not trigger a refresh
	initial[0].f()
	assert.Equal(t, int32(2), login.calls.Load())
	assert.Equal(t, auth.Authenticated, m.State())
}

func TestForceReauth_FailureLeavesScheduleAlone(t *testing.T) {
	ctx := context.Background()
	timers := &fakeTimers{}
	refused := errors.New("auth service unavailable")
	login := (&scriptedLogin{}).then("abc", nil).then("", refused)

	m := newManager(login.login, timers)
	require.NoError(t, m.Initialize(ctx))
	before := timers.armed()

	err := m.ForceReauth(ctx)

	var authErr *auth.Error
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, auth.PhaseReauth, authErr.Phase)
	assert.ErrorIs(t, err, refused)

	header, err := m.AuthHeader()
	require.NoError(t, err)
	assert.Equal(t, "Bearer abc", header)
	assert.Equal(t, before, timers.armed())
	assert.Equal(t, auth.Authenticated, m.State())
}

func TestForceReauth_WithoutCredential(t *testing.T) {
	login := (&scriptedLogin{}).then("abc", nil)
	m := newManager(login.login, &fakeTimers{})

	err := m.ForceReauth(context.Background())
	assert.ErrorIs(t, err, auth.ErrCredentialUnavailable)
	assert.Equal(t, int32(0), login.calls.Load())
}

func TestForceReauth_ConcurrentCallersShareLogin(t *testing.T) {
	ctx := context.Background()
	release := make(chan struct{})
	var calls atomic.Int32

	login := func(context.Context) (auth.Token, error) {
		if calls.Add(1) > 1 {
			<-release
		}
		return auth.Token{AccessToken: "tok"}, nil
	}

	m := newManager(login, &fakeTimers{})
	require.NoError(t, m.Initialize(ctx))

	const callers = 10
	var wg sync.WaitGroup
	var started sync.WaitGroup
	started.Add(callers)
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			started.Done()
			assert.NoError(t, m.ForceReauth(ctx))
		}()
	}

	started.Wait()
	// give the callers a moment to join the in-flight login
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.LessOrEqual(t, calls.Load(), int32(3), "concurrent re-authentications should collapse")
}

func TestShutdown(t *testing.T) {
	timers := &fakeTimers{}
	login := (&scriptedLogin{}).then("abc", nil)

	m := newManager(login.login, timers)
	require.NoError(t, m.Initialize(context.Background()))
	armed := timers.armed()
	require.Len(t, armed, 1)

	m.Shutdown()
	m.Shutdown()

	assert.Equal(t, auth.Unauthenticated, m.State())
	assert.Empty(t, timers.armed())
	_, ok := m.Credential()
	assert.False(t, ok)

	// the cancelled refresh firing anyway is ignored
	armed[0].f()
	assert.Equal(t, int32(1), login.calls.Load())
	assert.Equal(t, auth.Unauthenticated, m.State())
}

func TestShutdown_DuringRefreshDiscardsResult(t *testing.T) {
	timers := &fakeTimers{}
	var m *auth.Manager
	var calls atomic.Int32

	login := func(context.Context) (auth.Token, error) {
		if calls.Add(1) == 2 {
			m.Shutdown()
		}
		return auth.Token{AccessToken: "tok"}, nil
	}

	m = newManager(login, timers)
	require.NoError(t, m.Initialize(context.Background()))

	timers.fireNext(t)

	assert.Equal(t, auth.Unauthenticated, m.State())
	assert.Empty(t, timers.armed())
	_, err := m.AuthHeader()
	assert.ErrorIs(t, err, auth.ErrCredentialUnavailable)
}

func TestTokenLifetime_FromJWTExpiry(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(now.Add(30 * time.Minute)),
	}).SignedString([]byte("not-verified"))
	require.NoError(t, err)

	timers := &fakeTimers{}
	login := func(context.Context) (auth.Token, error) {
		return auth.Token{AccessToken: signed, ExpiresIn: time.Hour}, nil
	}

	m := newManager(login, timers, auth.WithClock(func() time.Time { return now }))
	require.NoError(t, m.Initialize(context.Background()))

	cred, ok := m.Credential()
	require.True(t, ok)
	assert.Equal(t, now.Add(30*time.Minute), cred.ExpiresAt)
	assert.Equal(t, now, cred.ObtainedAt)

	armed := timers.armed()
	require.Len(t, armed, 1)
	assert.Equal(t, 20*time.Minute, armed[0].d)
}

func TestTokenLifetime_FromLoginResponse(t *testing.T) {
	cases := []struct {
		name      string
		expiresIn time.Duration
		refresh   time.Duration
	}{
		{"reported lifetime", 15 * time.Minute, 5 * time.Minute},
		{"shorter than margin", 8 * time.Minute, 4 * time.Minute},
		{"not reported", 0, 50 * time.Minute},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			timers := &fakeTimers{}
			login := func(context.Context) (auth.Token, error) {
				return auth.Token{AccessToken: "opaque", ExpiresIn: tc.expiresIn}, nil
			}

			m := newManager(login, timers)
			require.NoError(t, m.Initialize(context.Background()))

			armed := timers.armed()
			require.Len(t, armed, 1)
			assert.Equal(t, tc.refresh, armed[0].d)
		})
	}
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "RETRY_BACKOFF", auth.RetryBackoff.String())
	assert.Equal(t, "AUTHENTICATED", auth.Authenticated.String())
	assert.Equal(t, "UNKNOWN", auth.State(42).String())
}
