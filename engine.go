package toystory

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	internalaudit "github.com/NguyenMinh4869/toystory/internal/audit"
	"github.com/NguyenMinh4869/toystory/internal/flows"
	"github.com/NguyenMinh4869/toystory/session"
)

// Engine is the session state machine of one tab.
//
// It derives {authenticated, role, user, loading} from persisted storage,
// exposes Login, Logout and Refresh, and refreshes itself whenever another tab
// sharing the storage mutates a session key. All methods are safe for
// concurrent use after [Builder.Build].
type Engine struct {
	config   Config
	store    session.TabStore
	tabID    string
	accounts AccountService
	logger   *log.Logger
	metrics  *Metrics
	audit    *internalaudit.Dispatcher

	// opMu serializes storage read-modify-commit sections.
	opMu  sync.Mutex
	mu    sync.RWMutex
	state sessionState

	subMu   sync.Mutex
	subs    map[uint64]func(SessionSnapshot)
	nextSub uint64

	loginInFlight atomic.Bool
	profiles      singleflight.Group

	stopSync  context.CancelFunc
	syncDone  chan struct{}
	closed    atomic.Bool
	closeOnce sync.Once
	bg        sync.WaitGroup
}

type sessionState struct {
	state SessionState
	token string
	role  Role
	user  *UserProfile
}

// Snapshot returns the current session. IsLoading is true before the first
// refresh and while a login is outstanding.
func (e *Engine) Snapshot() SessionSnapshot {
	if e == nil {
		return SessionSnapshot{IsLoading: true}
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.snapshotLocked()
}

func (e *Engine) snapshotLocked() SessionSnapshot {
	st := e.state
	snap := SessionSnapshot{
		State:           st.state,
		IsAuthenticated: st.state == StateAuthenticated,
		IsLoading:       st.state == StateUnknown || e.loginInFlight.Load(),
		Role:            st.role,
		User:            st.user,
	}
	return snap.clone()
}

// Subscribe registers fn to receive a snapshot after every state change. The
// returned function unregisters it. fn runs on the goroutine that caused the
// change and may call back into the engine.
func (e *Engine) Subscribe(fn func(SessionSnapshot)) func() {
	if e == nil || fn == nil {
		return func() {}
	}

	e.subMu.Lock()
	id := e.nextSub
	e.nextSub++
	e.subs[id] = fn
	e.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.subMu.Lock()
			delete(e.subs, id)
			e.subMu.Unlock()
		})
	}
}

func (e *Engine) notify() {
	e.subMu.Lock()
	if len(e.subs) == 0 {
		e.subMu.Unlock()
		return
	}
	fns := make([]func(SessionSnapshot), 0, len(e.subs))
	for _, fn := range e.subs {
		fns = append(fns, fn)
	}
	e.subMu.Unlock()

	snap := e.Snapshot()
	for _, fn := range fns {
		fn(snap)
	}
}

// commit replaces the in-memory state in one step. Called by flows with opMu
// held.
func (e *Engine) commit(rec flows.SessionRecord) {
	next := sessionState{state: StateUnauthenticated}
	if rec.Authenticated() {
		next = sessionState{
			state: StateAuthenticated,
			token: rec.Token,
			role:  ParseRole(rec.Role),
		}
		if u, ok := rec.User.Get(); ok {
			next.user = &u
		}
	}

	e.mu.Lock()
	e.state = next
	e.mu.Unlock()
}

func (e *Engine) storage() flows.Storage {
	return flows.Storage{Store: e.store, Report: e.reportStorage}
}

func (e *Engine) reportStorage(op, key string, err error) {
	if errors.Is(err, ErrStorageUnavailable) {
		e.metricInc(MetricStorageUnavailable)
		e.emitAudit(context.Background(), auditEventStorageFailure, false, "", "", err, func() map[string]string {
			return map[string]string{"op": op, "key": key}
		})
	}
	e.logf("storage %s %q failed, treating as absent: %v", op, key, err)
}

func (e *Engine) logf(format string, args ...any) {
	if e.logger == nil {
		return
	}
	e.logger.Printf("toystory: "+format, args...)
}

// fetchProfile is shared by Login and Refresh. Concurrent fetches for the same
// token collapse into one call, which is detached from the caller's
// cancellation and bounded by Login.ProfileTimeout instead.
func (e *Engine) fetchProfile(ctx context.Context, token string) (session.User, error) {
	if e.accounts == nil {
		return session.User{}, ErrProfileFetch
	}

	v, err, _ := e.profiles.Do(token, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.config.Login.ProfileTimeout)
		defer cancel()

		u, err := e.accounts.CurrentUser(fctx, token)
		if err != nil {
			e.metricInc(MetricProfileFetchFailure)
			err = fmt.Errorf("%w: %w", ErrProfileFetch, err)
			e.emitAudit(ctx, auditEventProfileFailure, false, "", "", err, nil)
			return nil, err
		}
		e.metricInc(MetricProfileFetchSuccess)
		return u, nil
	})
	if err != nil {
		return session.User{}, err
	}
	return v.(session.User), nil
}

// Refresh re-reads the session from storage and commits it. When a token is
// stored without a user, the profile is fetched, persisted and committed too;
// a failed fetch leaves the session authenticated without a user. Refresh
// never fails and always ends the initial loading state.
func (e *Engine) Refresh(ctx context.Context) SessionSnapshot {
	if e == nil {
		return SessionSnapshot{IsLoading: true}
	}
	if ctx == nil {
		ctx = context.Background()
	}
	e.metricInc(MetricRefresh)

	var fetch func(context.Context, string) (session.User, error)
	if e.accounts != nil {
		fetch = e.fetchProfile
	}

	out := flows.RunRefresh(ctx, flows.RefreshDeps{
		Storage:      e.storage(),
		Lock:         &e.opMu,
		FetchProfile: fetch,
		Commit:       e.commit,
		Notify:       e.notify,
	})
	if out.ProfileErr != nil {
		e.logf("refresh: %v", out.ProfileErr)
	}
	return e.Snapshot()
}

// Login exchanges creds for a session and returns the granted role.
//
// Empty email or password fail with FailureValidation before any network
// call. A second Login while one is outstanding fails with FailureBusy. Any
// failure is an *AuthFailure and leaves storage untouched. A failed profile
// follow-up is logged and the login still succeeds with no user, unless
// Login.RequireProfile is set.
func (e *Engine) Login(ctx context.Context, creds Credentials) (Role, error) {
	if e == nil {
		return "", ErrEngineNotReady
	}
	if e.closed.Load() {
		return "", ErrEngineClosed
	}
	if e.accounts == nil {
		return "", ErrEngineNotReady
	}
	if ctx == nil {
		ctx = context.Background()
	}

	email := strings.TrimSpace(creds.Email)
	if verr := validateCredentials(email, creds.Password); verr != nil {
		return "", e.loginFailed(ctx, classifyLoginError(verr))
	}

	if !e.loginInFlight.CompareAndSwap(false, true) {
		e.metricInc(MetricLoginRejectedInFlight)
		af := &AuthFailure{Kind: FailureBusy}
		e.emitAudit(ctx, auditEventLoginRejected, false, "", "", af, nil)
		return "", af
	}
	e.notify()
	defer func() {
		e.loginInFlight.Store(false)
		e.notify()
	}()

	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, e.config.Login.Timeout)
	defer cancel()

	out := flows.RunLogin(ctx, flows.LoginDeps{
		Storage: e.storage(),
		Lock:    &e.opMu,
		Exchange: func(ctx context.Context) (string, string, error) {
			res, err := e.accounts.Login(ctx, email, creds.Password)
			if err != nil {
				return "", "", err
			}
			if strings.TrimSpace(res.Token) == "" {
				return "", "", fmt.Errorf("%w: login response carried no token", ErrNetwork)
			}
			return res.Token, string(res.Role), nil
		},
		FetchProfile:   e.fetchProfile,
		RequireProfile: e.config.Login.RequireProfile,
		Commit:         e.commit,
		Notify:         e.notify,
	})
	e.metrics.Observe(MetricLoginLatency, time.Since(start))

	switch {
	case out.ExchangeErr != nil:
		return "", e.loginFailed(ctx, classifyLoginError(out.ExchangeErr))
	case out.Failed():
		return "", e.loginFailed(ctx, &AuthFailure{Kind: FailureProfile, Err: out.ProfileErr})
	}

	if out.ProfileErr != nil {
		e.logf("login succeeded without profile: %v", out.ProfileErr)
	}
	if out.Superseded {
		e.logf("login: session replaced while fetching profile")
	}

	role := ParseRole(out.Record.Role)
	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventLoginSuccess, true, role, accountIDOf(out.Record), nil, func() map[string]string {
		return map[string]string{"profile": fmt.Sprint(out.Record.User.IsPresent())}
	})
	return role, nil
}

func (e *Engine) loginFailed(ctx context.Context, af *AuthFailure) error {
	e.metricInc(MetricLoginFailure)
	e.emitAudit(ctx, auditEventLoginFailure, false, "", "", af, nil)
	return af
}

func validateCredentials(email, password string) error {
	fields := map[string][]string{}
	if email == "" {
		fields["email"] = []string{"email is required"}
	}
	if password == "" {
		fields["password"] = []string{"password is required"}
	}
	if len(fields) == 0 {
		return nil
	}
	return &ValidationError{Message: "credentials incomplete", Fields: fields}
}

func accountIDOf(rec flows.SessionRecord) string {
	if u, ok := rec.User.Get(); ok {
		return session.EncodeAccountID(u.AccountID)
	}
	return ""
}

// Logout clears every session key and transitions to StateUnauthenticated
// before returning. When Login.RemoteLogout is set, the account service is
// notified in the background; its outcome never affects local state.
func (e *Engine) Logout(ctx context.Context) {
	if e == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	prev := e.Snapshot()
	e.mu.RLock()
	token := e.state.token
	e.mu.RUnlock()

	stored := flows.RunLogout(ctx, flows.LogoutDeps{
		Storage: e.storage(),
		Lock:    &e.opMu,
		Commit:  e.commit,
		Notify:  e.notify,
	})
	if token == "" {
		token = stored
	}

	e.metricInc(MetricLogout)
	accountID := ""
	if prev.User != nil {
		accountID = session.EncodeAccountID(prev.User.AccountID)
	}
	e.emitAudit(ctx, auditEventLogout, true, prev.Role, accountID, nil, nil)

	if e.config.Login.RemoteLogout && token != "" && !e.closed.Load() {
		e.bg.Add(1)
		go e.logoutRemote(token)
	}
}

func (e *Engine) logoutRemote(token string) {
	defer e.bg.Done()

	ctx, cancel := context.WithTimeout(context.Background(), e.config.Login.RemoteLogoutTimeout)
	defer cancel()

	if err := e.accounts.LogoutRemote(ctx, token); err != nil {
		e.metricInc(MetricRemoteLogoutFailure)
		e.emitAudit(ctx, auditEventRemoteLogout, false, "", "", err, nil)
		e.logf("remote logout failed: %v", err)
	}
}

// Token returns the bearer token of the current session.
func (e *Engine) Token() (string, bool) {
	if e == nil {
		return "", false
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state.token, e.state.token != ""
}

// TabID returns the origin stamped on this engine's storage mutations.
func (e *Engine) TabID() string {
	if e == nil {
		return ""
	}
	return e.tabID
}

func (e *Engine) relevant(ev session.Event) bool {
	return ev.Origin != e.tabID && session.IsSessionKey(ev.Key)
}

// listen refreshes once per burst of foreign session-key events. Storage is
// last-write-wins, so one refresh after the burst reaches the final state.
func (e *Engine) listen(ctx context.Context, events <-chan session.Event) {
	defer close(e.syncDone)

	for ev := range events {
		if !e.relevant(ev) {
			continue
		}
		origin, key := ev.Origin, ev.Key
		coalesced := 0
	drain:
		for {
			select {
			case more, ok := <-events:
				if !ok {
					break drain
				}
				if e.relevant(more) {
					coalesced++
				}
			default:
				break drain
			}
		}

		e.metricInc(MetricCrossTabRefresh)
		snap := e.Refresh(ctx)
		e.emitAudit(ctx, auditEventCrossTabRefresh, true, snap.Role, "", nil, func() map[string]string {
			return map[string]string{
				"origin":    origin,
				"key":       key,
				"coalesced": fmt.Sprint(coalesced),
				"state":     snap.State.String(),
			}
		})
	}
}

// Close stops cross-tab sync, waits for background remote logouts and drains
// the audit dispatcher. Login fails with ErrEngineClosed afterwards.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.closeOnce.Do(func() {
		e.closed.Store(true)
		if e.stopSync != nil {
			e.stopSync()
			<-e.syncDone
		}
		e.bg.Wait()
		if e.audit != nil {
			e.audit.Close()
		}
	})
}

// AuditDropped reports audit events dropped because the buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns a copy of the engine's metrics.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}
