package flows

import (
	"context"
	"sync"

	"github.com/NguyenMinh4869/toystory/session"
)

// LoginDeps captures login flow dependencies.
type LoginDeps struct {
	Storage Storage
	Lock    sync.Locker
	// Exchange trades the caller's credentials for a token and role.
	Exchange     func(ctx context.Context) (token, role string, err error)
	FetchProfile func(ctx context.Context, token string) (session.User, error)
	// RequireProfile fetches the profile before anything is written and fails
	// the login when the fetch fails.
	RequireProfile bool
	// Commit is called with Lock held; Notify after it is released.
	Commit func(SessionRecord)
	Notify func()
}

// LoginOutcome is the result of RunLogin.
//
// ExchangeErr set means nothing was written or committed. ProfileErr alone is
// a completed login without a user, unless RequireProfile was set. Superseded
// is true when storage changed hands during the profile fetch; the profile is
// then discarded.
type LoginOutcome struct {
	Record      SessionRecord
	ExchangeErr error
	ProfileErr  error
	Superseded  bool
}

// Failed reports whether the login left the session unchanged.
func (o LoginOutcome) Failed() bool {
	return o.ExchangeErr != nil || !o.Record.Authenticated()
}

func RunLogin(ctx context.Context, deps LoginDeps) LoginOutcome {
	token, role, err := deps.Exchange(ctx)
	if err != nil {
		return LoginOutcome{ExchangeErr: err}
	}
	rec := SessionRecord{Token: token, Role: role}

	if deps.RequireProfile {
		u, err := fetchProfile(ctx, deps.FetchProfile, token)
		if err != nil {
			return LoginOutcome{ProfileErr: err}
		}
		rec = rec.withProfile(u)
		section(deps.Lock, deps.Notify, func() {
			WriteSession(ctx, deps.Storage, rec)
			deps.Commit(rec)
		})
		return LoginOutcome{Record: rec}
	}

	section(deps.Lock, deps.Notify, func() {
		WriteSession(ctx, deps.Storage, rec)
		deps.Commit(rec)
	})

	u, err := fetchProfile(ctx, deps.FetchProfile, token)
	if err != nil {
		return LoginOutcome{Record: rec, ProfileErr: err}
	}

	out := LoginOutcome{Record: rec}
	section(deps.Lock, deps.Notify, func() {
		if superseded(ctx, deps.Storage, token) {
			out.Superseded = true
			return
		}
		out.Record = rec.withProfile(u)
		WriteSession(ctx, deps.Storage, out.Record)
		deps.Commit(out.Record)
	})
	return out
}
