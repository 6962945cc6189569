package flows

import (
	"context"
	"sync"

	"github.com/NguyenMinh4869/toystory/session"
)

// RefreshDeps captures refresh flow dependencies. A nil FetchProfile disables
// the profile follow-up.
type RefreshDeps struct {
	Storage      Storage
	Lock         sync.Locker
	FetchProfile func(ctx context.Context, token string) (session.User, error)
	Commit       func(SessionRecord)
	Notify       func()
}

// RefreshOutcome is the result of RunRefresh. Record is the last committed
// record.
type RefreshOutcome struct {
	Record     SessionRecord
	Fetched    bool
	ProfileErr error
}

// RunRefresh commits the stored session, then, when a token is present without
// a user, fetches and persists the profile. The profile is dropped if the
// token changed while it was being fetched.
func RunRefresh(ctx context.Context, deps RefreshDeps) RefreshOutcome {
	var rec SessionRecord
	section(deps.Lock, deps.Notify, func() {
		rec = ReadSession(ctx, deps.Storage)
		deps.Commit(rec)
	})

	if !rec.Authenticated() || rec.User.IsPresent() || deps.FetchProfile == nil {
		return RefreshOutcome{Record: rec}
	}

	u, err := deps.FetchProfile(ctx, rec.Token)
	if err != nil {
		return RefreshOutcome{Record: rec, ProfileErr: err}
	}

	var out RefreshOutcome
	section(deps.Lock, deps.Notify, func() {
		if superseded(ctx, deps.Storage, rec.Token) {
			out.Record = ReadSession(ctx, deps.Storage)
			deps.Commit(out.Record)
			return
		}

		cur := ReadSession(ctx, deps.Storage)
		if !cur.Authenticated() {
			// Unreadable store: keep the token committed above.
			cur = rec
		}
		if !cur.User.IsPresent() {
			hadRole := cur.Role != ""
			cur = cur.withProfile(u)
			writeProfile(ctx, deps.Storage, u)
			if !hadRole && cur.Role != "" {
				deps.Storage.set(ctx, session.KeyRole, cur.Role)
			}
		}
		deps.Commit(cur)
		out = RefreshOutcome{Record: cur, Fetched: true}
	})
	return out
}
