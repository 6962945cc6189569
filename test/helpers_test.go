package test

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/NguyenMinh4869/toystory"
	"github.com/NguyenMinh4869/toystory/account"
	"github.com/NguyenMinh4869/toystory/account/accounttest"
	"github.com/NguyenMinh4869/toystory/session"
)

var (
	adminAccount = accounttest.Account{ID: 1, Email: "admin@toystory.vn", Password: "woody-and-buzz", Name: "Andy", Role: "Admin"}
	staffAccount = accounttest.Account{ID: 2, Email: "staff@toystory.vn", Password: "jessie-yodel", Name: "Bonnie", Role: "Staff"}
)

func credsFor(a accounttest.Account) toystory.Credentials {
	return toystory.Credentials{Email: a.Email, Password: a.Password}
}

func newAccountService(t *testing.T) (*accounttest.Server, *account.Client) {
	t.Helper()

	fake, err := accounttest.NewServer(adminAccount, staffAccount)
	if err != nil {
		t.Fatalf("account fake: %v", err)
	}
	t.Cleanup(fake.Close)

	client, err := account.New(account.Config{
		BaseURL: fake.URL(),
		Breaker: account.BreakerConfig{ConsecutiveFailures: 100},
	})
	if err != nil {
		t.Fatalf("account client: %v", err)
	}
	return fake, client
}

func newMiniredis(t *testing.T) redis.UniversalClient {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return rdb
}

func newTab(t *testing.T, store session.TabStore, accounts toystory.AccountService, mutate func(*toystory.Config)) *toystory.Engine {
	t.Helper()

	cfg := toystory.DefaultConfig()
	cfg.Metrics.Enabled = true
	if mutate != nil {
		mutate(&cfg)
	}
	e, err := toystory.New().
		WithConfig(cfg).
		WithStorage(store).
		WithAccountService(accounts).
		WithLogger(nil).
		Build()
	if err != nil {
		t.Fatalf("build %s: %v", store.Origin(), err)
	}
	t.Cleanup(e.Close)
	return e
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func signedIn(e *toystory.Engine, role toystory.Role) func() bool {
	return func() bool {
		s := e.Snapshot()
		return s.IsAuthenticated && s.Role == role && s.User != nil
	}
}

func signedOut(e *toystory.Engine) func() bool {
	return func() bool {
		s := e.Snapshot()
		return !s.IsAuthenticated && s.User == nil && s.Role == "" && !s.IsLoading
	}
}
