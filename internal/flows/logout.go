package flows

import (
	"context"
	"sync"

	"github.com/NguyenMinh4869/toystory/session"
)

// LogoutDeps captures logout flow dependencies.
type LogoutDeps struct {
	Storage Storage
	Lock    sync.Locker
	Commit  func(SessionRecord)
	Notify  func()
}

// RunLogout clears every session key and commits the empty record. It returns
// the token that was stored, if any, for remote invalidation.
func RunLogout(ctx context.Context, deps LogoutDeps) string {
	var token string
	section(deps.Lock, deps.Notify, func() {
		token, _, _ = deps.Storage.get(ctx, session.KeyToken)
		ClearSession(ctx, deps.Storage)
		deps.Commit(SessionRecord{})
	})
	return token
}
