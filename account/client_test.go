package account_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	toystory "github.com/NguyenMinh4869/toystory"
	"github.com/NguyenMinh4869/toystory/account"
	"github.com/NguyenMinh4869/toystory/account/accounttest"
)

var staff = accounttest.Account{
	ID:          11,
	Email:       "staff@toystory.vn",
	Password:    "correct horse",
	Name:        "Linh",
	PhoneNumber: "0900000000",
	Role:        "staff",
}

func newClientTest(t *testing.T) (*account.Client, *accounttest.Server) {
	t.Helper()
	srv, err := accounttest.NewServer(staff)
	require.NoError(t, err)
	t.Cleanup(srv.Close)

	c, err := account.New(account.Config{BaseURL: srv.URL(), RequestTimeout: 2 * time.Second})
	require.NoError(t, err)
	return c, srv
}

func TestClientLoginAndProfile(t *testing.T) {
	c, srv := newClientTest(t)
	ctx := context.Background()

	res, err := c.Login(ctx, staff.Email, staff.Password)
	require.NoError(t, err)
	assert.Equal(t, toystory.RoleStaff, res.Role)
	assert.NotEmpty(t, res.Token)

	p, err := c.CurrentUser(ctx, res.Token)
	require.NoError(t, err)
	assert.Equal(t, int64(11), p.AccountID)
	assert.Equal(t, "Linh", p.Name)
	assert.Equal(t, string(toystory.RoleStaff), p.Role)
	assert.Empty(t, p.Address)

	require.NoError(t, c.LogoutRemote(ctx, res.Token))
	assert.True(t, srv.Revoked(res.Token))
	require.NoError(t, c.LogoutRemote(ctx, res.Token), "logging out a revoked token is not an error")
}

func TestClientLoginErrors(t *testing.T) {
	c, srv := newClientTest(t)
	ctx := context.Background()

	_, err := c.Login(ctx, staff.Email, "wrong")
	assert.ErrorIs(t, err, toystory.ErrInvalidCredentials)

	_, err = c.Login(ctx, "nobody", "")
	var verr *toystory.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "email")
	assert.ErrorIs(t, err, toystory.ErrValidation)

	srv.SetLoginDown(true)
	_, err = c.Login(ctx, staff.Email, staff.Password)
	assert.ErrorIs(t, err, toystory.ErrNetwork)
}

func TestClientProfileErrors(t *testing.T) {
	c, srv := newClientTest(t)
	ctx := context.Background()

	_, err := c.CurrentUser(ctx, "not-a-token")
	assert.ErrorIs(t, err, toystory.ErrInvalidCredentials)

	res, err := c.Login(ctx, staff.Email, staff.Password)
	require.NoError(t, err)
	srv.SetProfileDown(true)
	_, err = c.CurrentUser(ctx, res.Token)
	assert.ErrorIs(t, err, toystory.ErrNetwork)
}

func TestClientProfileNormalization(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"accountId":5,"email":" a@b.c ","name":null,"role":"ADMIN","status":"Active"}`))
	}))
	defer srv.Close()

	c, err := account.New(account.Config{BaseURL: srv.URL})
	require.NoError(t, err)

	p, err := c.CurrentUser(context.Background(), "tok")
	require.NoError(t, err)
	assert.Equal(t, toystory.UserProfile{AccountID: 5, Email: "a@b.c", Role: "Admin", Status: "Active"}, p)
}

func TestClientProfileWithoutAccountID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"email":"a@b.c"}`))
	}))
	defer srv.Close()

	c, err := account.New(account.Config{BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = c.CurrentUser(context.Background(), "tok")
	assert.ErrorIs(t, err, account.ErrIncompleteProfile)
	assert.ErrorIs(t, err, toystory.ErrNetwork)
}

func TestBreakerOpensOnServerErrorsOnly(t *testing.T) {
	var status atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(status.Load()))
		_, _ = w.Write([]byte(`{"message":"x"}`))
	}))
	defer srv.Close()

	c, err := account.New(account.Config{
		BaseURL: srv.URL,
		Breaker: account.BreakerConfig{ConsecutiveFailures: 2, OpenTimeout: time.Minute},
	})
	require.NoError(t, err)
	ctx := context.Background()

	status.Store(http.StatusUnauthorized)
	for i := 0; i < 5; i++ {
		_, err := c.Login(ctx, "a@b.c", "pw")
		require.ErrorIs(t, err, toystory.ErrInvalidCredentials)
	}
	assert.Equal(t, "closed", c.BreakerState())

	status.Store(http.StatusBadGateway)
	for i := 0; i < 2; i++ {
		_, err := c.Login(ctx, "a@b.c", "pw")
		require.ErrorIs(t, err, toystory.ErrNetwork)
	}
	assert.Equal(t, "open", c.BreakerState())

	status.Store(http.StatusOK)
	_, err = c.Login(ctx, "a@b.c", "pw")
	assert.True(t, errors.Is(err, toystory.ErrNetwork), "open breaker must short-circuit")
}

func TestNewRejectsBadBaseURL(t *testing.T) {
	_, err := account.New(account.Config{BaseURL: "ftp://example.com"})
	assert.Error(t, err)
	_, err = account.New(account.Config{BaseURL: "::"})
	assert.Error(t, err)
}
