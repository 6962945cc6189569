package toystory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/NguyenMinh4869/toystory/session"
)

type fakeUser struct {
	password string
	profile  UserProfile
}

type fakeAccounts struct {
	mu         sync.Mutex
	users      map[string]fakeUser
	tokens     map[string]string
	issued     int
	profileErr error
	loginGate  chan struct{}

	loginCalls   int
	meCalls      int
	logoutTokens []string
}

func newFakeAccounts() *fakeAccounts {
	return &fakeAccounts{
		users: map[string]fakeUser{
			"admin@toystory.vn": {password: "pw", profile: UserProfile{AccountID: 1, Email: "admin@toystory.vn", Name: "An", Role: "Admin", Status: "Active"}},
			"staff@toystory.vn": {password: "pw", profile: UserProfile{AccountID: 2, Email: "staff@toystory.vn", Name: "Binh", Role: "Staff", Status: "Active"}},
			"kid@toystory.vn":   {password: "pw", profile: UserProfile{AccountID: 3, Email: "kid@toystory.vn", Name: "Chi", Role: "Member", Status: "Active"}},
		},
		tokens: map[string]string{},
	}
}

func (f *fakeAccounts) Login(ctx context.Context, email, password string) (LoginResult, error) {
	f.mu.Lock()
	f.loginCalls++
	gate := f.loginGate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return LoginResult{}, fmt.Errorf("%w: %v", ErrNetwork, ctx.Err())
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[email]
	if !ok || u.password != password {
		return LoginResult{}, ErrInvalidCredentials
	}
	f.issued++
	token := fmt.Sprintf("tok-%d", f.issued)
	f.tokens[token] = email
	return LoginResult{Token: token, Role: ParseRole(u.profile.Role), Message: "ok"}, nil
}

func (f *fakeAccounts) CurrentUser(_ context.Context, token string) (UserProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.meCalls++
	if f.profileErr != nil {
		return UserProfile{}, f.profileErr
	}
	email, ok := f.tokens[token]
	if !ok {
		return UserProfile{}, ErrInvalidCredentials
	}
	return f.users[email].profile, nil
}

func (f *fakeAccounts) LogoutRemote(_ context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logoutTokens = append(f.logoutTokens, token)
	return nil
}

func (f *fakeAccounts) setProfileErr(err error) {
	f.mu.Lock()
	f.profileErr = err
	f.mu.Unlock()
}

func (f *fakeAccounts) counts() (login, me int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loginCalls, f.meCalls
}

type engineTest struct {
	backend  *session.MemoryBackend
	accounts *fakeAccounts
}

func newEngineTest(t *testing.T) *engineTest {
	t.Helper()
	return &engineTest{backend: session.NewMemoryBackend(), accounts: newFakeAccounts()}
}

func (et *engineTest) build(t *testing.T, tab string, mutate func(*Config)) *Engine {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Metrics.Enabled = true
	if mutate != nil {
		mutate(&cfg)
	}
	e, err := New().
		WithConfig(cfg).
		WithStorage(et.backend.Tab(tab)).
		WithAccountService(et.accounts).
		WithLogger(nil).
		Build()
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	t.Cleanup(e.Close)
	return e
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

var adminCreds = Credentials{Email: "admin@toystory.vn", Password: "pw"}

func TestEngineStartsUnauthenticatedAfterRefreshOnStart(t *testing.T) {
	et := newEngineTest(t)
	e := et.build(t, "tab-a", nil)

	snap := e.Snapshot()
	if snap.State != StateUnauthenticated || snap.IsAuthenticated || snap.IsLoading {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}

func TestEngineUnknownUntilFirstRefresh(t *testing.T) {
	et := newEngineTest(t)
	e := et.build(t, "tab-a", func(c *Config) { c.Sync.RefreshOnStart = false })

	if snap := e.Snapshot(); snap.State != StateUnknown || !snap.IsLoading {
		t.Fatalf("expected unknown loading state, got %+v", snap)
	}
	if snap := e.Refresh(context.Background()); snap.State != StateUnauthenticated || snap.IsLoading {
		t.Fatalf("refresh must end loading, got %+v", snap)
	}
}

func TestEngineRehydratesFromStorage(t *testing.T) {
	et := newEngineTest(t)
	first := et.build(t, "tab-a", nil)
	if _, err := first.Login(context.Background(), adminCreds); err != nil {
		t.Fatalf("login: %v", err)
	}

	reloaded := et.build(t, "tab-a-reloaded", func(c *Config) { c.Sync.Enabled = false })
	snap := reloaded.Snapshot()
	if !snap.IsAuthenticated || snap.Role != RoleAdmin || snap.User == nil || snap.User.AccountID != 1 {
		t.Fatalf("expected rehydrated admin session, got %+v", snap)
	}
}

func TestEngineLoginSuccess(t *testing.T) {
	et := newEngineTest(t)
	e := et.build(t, "tab-a", nil)

	role, err := e.Login(context.Background(), adminCreds)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if role != RoleAdmin {
		t.Fatalf("expected Admin, got %q", role)
	}

	snap := e.Snapshot()
	if !snap.IsAuthenticated || snap.IsLoading || snap.Role != RoleAdmin || snap.User == nil || snap.User.Name != "An" {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	stored := et.backend.Snapshot()
	if stored[session.KeyToken] == "" || stored[session.KeyRole] != "Admin" || stored[session.KeyAccountID] != "1" || stored[session.KeyUser] == "" {
		t.Fatalf("unexpected storage: %v", stored)
	}
	if tok, ok := e.Token(); !ok || tok != stored[session.KeyToken] {
		t.Fatalf("Token() = %q, %v", tok, ok)
	}
	counters := e.MetricsSnapshot().Counters
	if counters[MetricLoginSuccess] != 1 {
		t.Fatalf("expected 1 login success, got %d", counters[MetricLoginSuccess])
	}
	if counters[MetricCrossTabRefresh] != 0 {
		t.Fatalf("own mutations must not trigger a cross-tab refresh, got %d", counters[MetricCrossTabRefresh])
	}
}

func TestEngineLogoutClearsState(t *testing.T) {
	et := newEngineTest(t)
	e := et.build(t, "tab-a", nil)
	ctx := context.Background()

	e.Logout(ctx)
	if snap := e.Snapshot(); snap.IsAuthenticated || snap.User != nil || snap.Role != "" {
		t.Fatalf("logout from unauthenticated: %+v", snap)
	}

	if _, err := e.Login(ctx, adminCreds); err != nil {
		t.Fatalf("login: %v", err)
	}
	_ = et.backend.Tab("tab-a").Set(ctx, "theme", "dark")

	e.Logout(ctx)
	snap := e.Snapshot()
	if snap.IsAuthenticated || snap.User != nil || snap.Role != "" || snap.State != StateUnauthenticated {
		t.Fatalf("expected cleared session, got %+v", snap)
	}
	if stored := et.backend.Snapshot(); len(stored) != 1 || stored["theme"] != "dark" {
		t.Fatalf("expected only unrelated keys left, got %v", stored)
	}
	if _, ok := e.Token(); ok {
		t.Fatal("token must be absent after logout")
	}
}

func TestEngineProfileFailureThenRefresh(t *testing.T) {
	et := newEngineTest(t)
	e := et.build(t, "tab-a", nil)
	ctx := context.Background()

	et.accounts.setProfileErr(fmt.Errorf("%w: connection reset", ErrNetwork))
	role, err := e.Login(ctx, Credentials{Email: "staff@toystory.vn", Password: "pw"})
	if err != nil {
		t.Fatalf("profile failure must not fail login: %v", err)
	}
	if role != RoleStaff {
		t.Fatalf("expected Staff, got %q", role)
	}
	snap := e.Snapshot()
	if !snap.IsAuthenticated || snap.User != nil {
		t.Fatalf("expected authenticated without user, got %+v", snap)
	}
	if _, ok := et.backend.Snapshot()[session.KeyUser]; ok {
		t.Fatal("user must not be stored")
	}

	et.accounts.setProfileErr(nil)
	snap = e.Refresh(ctx)
	if !snap.IsAuthenticated || snap.User == nil || snap.User.AccountID != 2 {
		t.Fatalf("refresh should fill the user, got %+v", snap)
	}
	if et.backend.Snapshot()[session.KeyAccountID] != "2" {
		t.Fatal("refresh should persist the account id")
	}
	counters := e.MetricsSnapshot().Counters
	if counters[MetricProfileFetchFailure] != 1 || counters[MetricProfileFetchSuccess] != 1 {
		t.Fatalf("unexpected profile counters: %v", counters)
	}
}

func TestEngineRequireProfileFailsWholeLogin(t *testing.T) {
	et := newEngineTest(t)
	e := et.build(t, "tab-a", func(c *Config) { c.Login.RequireProfile = true })

	et.accounts.setProfileErr(errors.New("timeout"))
	_, err := e.Login(context.Background(), adminCreds)

	af, ok := IsAuthFailure(err)
	if !ok || af.Kind != FailureProfile || !errors.Is(err, ErrProfileFetch) {
		t.Fatalf("expected profile auth failure, got %v", err)
	}
	if snap := e.Snapshot(); snap.IsAuthenticated {
		t.Fatalf("session must stay unauthenticated: %+v", snap)
	}
	if stored := et.backend.Snapshot(); len(stored) != 0 {
		t.Fatalf("storage must be untouched: %v", stored)
	}
}

func TestEngineInvalidCredentialsLeaveStorageUntouched(t *testing.T) {
	et := newEngineTest(t)
	e := et.build(t, "tab-a", nil)
	ctx := context.Background()

	if _, err := e.Login(ctx, adminCreds); err != nil {
		t.Fatalf("login: %v", err)
	}
	before := et.backend.Snapshot()

	_, err := e.Login(ctx, Credentials{Email: "kid@toystory.vn", Password: "wrong"})
	af, ok := IsAuthFailure(err)
	if !ok || af.Kind != FailureInvalidCredentials || !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials failure, got %v", err)
	}

	after := et.backend.Snapshot()
	if fmt.Sprint(before) != fmt.Sprint(after) {
		t.Fatalf("storage changed:\nbefore %v\nafter  %v", before, after)
	}
	if snap := e.Snapshot(); snap.Role != RoleAdmin {
		t.Fatalf("previous session must survive a failed login, got %+v", snap)
	}
}

func TestEngineValidationBeforeNetwork(t *testing.T) {
	et := newEngineTest(t)
	e := et.build(t, "tab-a", nil)

	_, err := e.Login(context.Background(), Credentials{Email: "  ", Password: ""})
	var verr *ValidationError
	if !errors.As(err, &verr) || len(verr.Fields["email"]) == 0 || len(verr.Fields["password"]) == 0 {
		t.Fatalf("expected field validation error, got %v", err)
	}
	if af, _ := IsAuthFailure(err); af == nil || af.Kind != FailureValidation {
		t.Fatalf("expected FailureValidation, got %v", err)
	}
	if login, _ := et.accounts.counts(); login != 0 {
		t.Fatalf("account service must not be called, got %d calls", login)
	}
}

func TestEngineRejectsOverlappingLogin(t *testing.T) {
	et := newEngineTest(t)
	e := et.build(t, "tab-a", nil)
	gate := make(chan struct{})
	et.accounts.loginGate = gate

	type result struct {
		role Role
		err  error
	}
	done := make(chan result, 1)
	go func() {
		role, err := e.Login(context.Background(), adminCreds)
		done <- result{role, err}
	}()

	waitFor(t, "first login to reach the account service", func() bool {
		login, _ := et.accounts.counts()
		return login == 1
	})
	if !e.Snapshot().IsLoading {
		t.Fatal("expected loading while login is outstanding")
	}

	_, err := e.Login(context.Background(), adminCreds)
	if !errors.Is(err, ErrLoginInProgress) {
		t.Fatalf("expected ErrLoginInProgress, got %v", err)
	}

	close(gate)
	res := <-done
	if res.err != nil || res.role != RoleAdmin {
		t.Fatalf("first login: %q %v", res.role, res.err)
	}
	if e.Snapshot().IsLoading {
		t.Fatal("loading must end with the login")
	}
	if login, _ := et.accounts.counts(); login != 1 {
		t.Fatalf("second login must not reach the service, got %d calls", login)
	}
	if got := e.MetricsSnapshot().Counters[MetricLoginRejectedInFlight]; got != 1 {
		t.Fatalf("expected 1 rejected login, got %d", got)
	}
}

func TestEngineLoginTimeoutIsNetworkFailure(t *testing.T) {
	et := newEngineTest(t)
	e := et.build(t, "tab-a", func(c *Config) {
		c.Login.Timeout = 50 * time.Millisecond
		c.Login.ProfileTimeout = 50 * time.Millisecond
	})
	et.accounts.loginGate = make(chan struct{})

	_, err := e.Login(context.Background(), adminCreds)
	if af, ok := IsAuthFailure(err); !ok || af.Kind != FailureNetwork {
		t.Fatalf("expected network failure, got %v", err)
	}
	if len(et.backend.Snapshot()) != 0 {
		t.Fatal("storage must be untouched")
	}
}

func TestEngineCrossTabLoginAndLogout(t *testing.T) {
	et := newEngineTest(t)
	a := et.build(t, "tab-a", nil)
	b := et.build(t, "tab-b", nil)
	ctx := context.Background()

	if _, err := a.Login(ctx, adminCreds); err != nil {
		t.Fatalf("login: %v", err)
	}
	waitFor(t, "tab B to observe the login", func() bool {
		snap := b.Snapshot()
		return snap.IsAuthenticated && snap.Role == RoleAdmin && snap.User != nil
	})

	a.Logout(ctx)
	waitFor(t, "tab B to observe the logout", func() bool {
		snap := b.Snapshot()
		return !snap.IsAuthenticated && snap.User == nil && snap.Role == ""
	})

	if got := b.MetricsSnapshot().Counters[MetricCrossTabRefresh]; got == 0 {
		t.Fatal("tab B should count cross-tab refreshes")
	}
}

func TestEngineIgnoresNonSessionKeys(t *testing.T) {
	et := newEngineTest(t)
	e := et.build(t, "tab-a", nil)
	other := et.backend.Tab("tab-b")
	ctx := context.Background()

	_ = other.Set(ctx, session.KeyAccountID, "99")
	_ = other.Set(ctx, "cartHint", "3")
	// A session key afterwards proves the earlier events were consumed.
	_ = other.Set(ctx, session.KeyRole, "Staff")

	waitFor(t, "the role event", func() bool {
		return e.MetricsSnapshot().Counters[MetricCrossTabRefresh] >= 1
	})
	if got := e.MetricsSnapshot().Counters[MetricCrossTabRefresh]; got != 1 {
		t.Fatalf("expected exactly one cross-tab refresh, got %d", got)
	}
	if e.Snapshot().IsAuthenticated {
		t.Fatal("a role without a token is not a session")
	}
}

func TestEngineStorageUnavailable(t *testing.T) {
	et := newEngineTest(t)
	et.backend.SetUnavailable(true)
	e := et.build(t, "tab-a", nil)
	ctx := context.Background()

	if snap := e.Refresh(ctx); snap.IsAuthenticated || snap.IsLoading {
		t.Fatalf("expected unauthenticated, got %+v", snap)
	}

	role, err := e.Login(ctx, adminCreds)
	if err != nil || role != RoleAdmin {
		t.Fatalf("login on unavailable storage: %q %v", role, err)
	}
	e.Logout(ctx)
	if e.Snapshot().IsAuthenticated {
		t.Fatal("logout must work without storage")
	}
	if got := e.MetricsSnapshot().Counters[MetricStorageUnavailable]; got == 0 {
		t.Fatal("expected storage failures to be counted")
	}
}

func TestEngineSubscribe(t *testing.T) {
	et := newEngineTest(t)
	e := et.build(t, "tab-a", nil)

	var mu sync.Mutex
	var seen []SessionSnapshot
	unsubscribe := e.Subscribe(func(s SessionSnapshot) {
		mu.Lock()
		seen = append(seen, s)
		mu.Unlock()
	})

	if _, err := e.Login(context.Background(), adminCreds); err != nil {
		t.Fatalf("login: %v", err)
	}

	mu.Lock()
	n := len(seen)
	first, last := seen[0], seen[n-1]
	mu.Unlock()
	if !first.IsLoading {
		t.Fatal("first notification should report loading")
	}
	if !last.IsAuthenticated || last.IsLoading || last.User == nil {
		t.Fatalf("last notification should be the settled session, got %+v", last)
	}

	unsubscribe()
	e.Logout(context.Background())
	mu.Lock()
	defer mu.Unlock()
	if len(seen) != n {
		t.Fatal("no notifications after unsubscribe")
	}
}

func TestEngineSnapshotIsACopy(t *testing.T) {
	et := newEngineTest(t)
	e := et.build(t, "tab-a", nil)
	if _, err := e.Login(context.Background(), adminCreds); err != nil {
		t.Fatalf("login: %v", err)
	}

	snap := e.Snapshot()
	snap.User.Name = "mutated"
	if e.Snapshot().User.Name != "An" {
		t.Fatal("snapshot must not alias engine state")
	}
}

func TestEngineRemoteLogout(t *testing.T) {
	et := newEngineTest(t)
	e := et.build(t, "tab-a", func(c *Config) { c.Login.RemoteLogout = true })
	ctx := context.Background()

	if _, err := e.Login(ctx, adminCreds); err != nil {
		t.Fatalf("login: %v", err)
	}
	tok, _ := e.Token()
	e.Logout(ctx)
	e.Close()

	et.accounts.mu.Lock()
	defer et.accounts.mu.Unlock()
	if len(et.accounts.logoutTokens) != 1 || et.accounts.logoutTokens[0] != tok {
		t.Fatalf("expected remote logout of %q, got %v", tok, et.accounts.logoutTokens)
	}
}

func TestEngineAuditEvents(t *testing.T) {
	et := newEngineTest(t)
	sink := NewChannelSink(16)
	cfg := DefaultConfig()
	cfg.Audit.Enabled = true
	e, err := New().WithConfig(cfg).WithStorage(et.backend.Tab("tab-a")).WithAccountService(et.accounts).WithAuditSink(sink).WithLogger(nil).Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	ctx := context.Background()

	_, _ = e.Login(ctx, Credentials{Email: "admin@toystory.vn", Password: "bad"})
	_, _ = e.Login(ctx, adminCreds)
	e.Logout(ctx)
	e.Close()

	want := []struct {
		kind    string
		success bool
		errCode string
	}{
		{auditEventLoginFailure, false, string(auditErrInvalidCredentials)},
		{auditEventLoginSuccess, true, ""},
		{auditEventLogout, true, ""},
	}
	for _, w := range want {
		select {
		case ev := <-sink.Events():
			if ev.EventType != w.kind || ev.Success != w.success || ev.Error != w.errCode || ev.TabID != "tab-a" {
				t.Fatalf("unexpected event %+v, want %+v", ev, w)
			}
		default:
			t.Fatalf("missing %s event", w.kind)
		}
	}
}

func TestEngineAuditsStorageFailure(t *testing.T) {
	et := newEngineTest(t)
	sink := NewChannelSink(16)
	cfg := DefaultConfig()
	cfg.Audit.Enabled = true
	e, err := New().WithConfig(cfg).WithStorage(et.backend.Tab("tab-a")).WithAccountService(et.accounts).WithAuditSink(sink).WithLogger(nil).Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	et.backend.SetUnavailable(true)
	if s := e.Refresh(context.Background()); s.IsAuthenticated {
		t.Fatalf("unavailable storage must read as signed out, got %+v", s)
	}
	e.Close()

	select {
	case ev := <-sink.Events():
		if ev.EventType != auditEventStorageFailure || ev.Success || ev.Error != string(auditErrStorage) {
			t.Fatalf("unexpected event %+v", ev)
		}
		if ev.Metadata["op"] != "get" || ev.Metadata["key"] != "token" {
			t.Fatalf("unexpected metadata %v", ev.Metadata)
		}
	default:
		t.Fatal("missing storage_unavailable event")
	}
	if !errors.Is(session.ErrUnavailable, ErrStorageUnavailable) {
		t.Fatal("ErrStorageUnavailable must match session.ErrUnavailable")
	}
}

func TestEngineClosed(t *testing.T) {
	et := newEngineTest(t)
	e := et.build(t, "tab-a", nil)
	e.Close()
	e.Close()

	if _, err := e.Login(context.Background(), adminCreds); !errors.Is(err, ErrEngineClosed) {
		t.Fatalf("expected ErrEngineClosed, got %v", err)
	}
}

func TestEngineWithoutAccountService(t *testing.T) {
	e, err := New().WithStorage(session.NewMemoryStore()).WithLogger(nil).Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer e.Close()

	if _, err := e.Login(context.Background(), adminCreds); !errors.Is(err, ErrEngineNotReady) {
		t.Fatalf("expected ErrEngineNotReady, got %v", err)
	}
}

func TestNilEngineIsSafe(t *testing.T) {
	var e *Engine
	e.Logout(context.Background())
	e.Close()
	if _, err := e.Login(context.Background(), adminCreds); !errors.Is(err, ErrEngineNotReady) {
		t.Fatalf("expected ErrEngineNotReady, got %v", err)
	}
	if snap := e.Snapshot(); !snap.IsLoading {
		t.Fatal("nil engine reports loading")
	}
}
