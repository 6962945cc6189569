package flows

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/NguyenMinh4869/toystory/internal/opt"
	"github.com/NguyenMinh4869/toystory/session"
)

// ErrNoProfileSource is returned by flows that need a profile when no fetch
// function is configured.
var ErrNoProfileSource = errors.New("flows: no profile source configured")

// Storage wraps a session store with error reporting. Report may be nil.
type Storage struct {
	Store  session.Store
	Report func(op, key string, err error)
}

func (s Storage) report(op, key string, err error) {
	if s.Report != nil {
		s.Report(op, key, err)
	}
}

// get returns the value of key; failures are reported and read as absent.
// known is false when the store failed, so absence could not be established.
func (s Storage) get(ctx context.Context, key string) (value string, found bool, known bool) {
	if s.Store == nil {
		return "", false, false
	}
	v, ok, err := s.Store.Get(ctx, key)
	if err != nil {
		s.report("get", key, err)
		return "", false, false
	}
	return v, ok, true
}

func (s Storage) set(ctx context.Context, key, value string) {
	if s.Store == nil {
		return
	}
	if err := s.Store.Set(ctx, key, value); err != nil {
		s.report("set", key, err)
	}
}

func (s Storage) remove(ctx context.Context, key string) {
	if s.Store == nil {
		return
	}
	if err := s.Store.Remove(ctx, key); err != nil {
		s.report("remove", key, err)
	}
}

// SessionRecord is the session as read from, or about to be written to,
// storage. A record without a token is unauthenticated; Role and User are
// then always empty.
type SessionRecord struct {
	Token string
	Role  string
	User  opt.Optional[session.User]
}

// Authenticated reports whether the record carries a token.
func (r SessionRecord) Authenticated() bool {
	return r.Token != ""
}

// withProfile attaches u. A missing role is taken from the profile.
func (r SessionRecord) withProfile(u session.User) SessionRecord {
	r.User = opt.Some(u)
	if r.Role == "" {
		r.Role = u.Role
	}
	return r
}

// ReadSession reads token, role and user. A blank token yields the empty
// record regardless of the other keys; a corrupt user blob reads as absent.
func ReadSession(ctx context.Context, st Storage) SessionRecord {
	token, ok, _ := st.get(ctx, session.KeyToken)
	if !ok || strings.TrimSpace(token) == "" {
		return SessionRecord{}
	}

	rec := SessionRecord{Token: token}
	if role, ok, _ := st.get(ctx, session.KeyRole); ok {
		rec.Role = strings.TrimSpace(role)
	}
	if raw, ok, _ := st.get(ctx, session.KeyUser); ok {
		u, err := session.DecodeUser(raw)
		if err != nil {
			st.report("decode", session.KeyUser, err)
		} else {
			rec.User = opt.Some(u)
		}
	}
	return rec
}

// WriteSession persists rec. Keys are written in [session.Keys] order so
// that other tabs see the token first. An absent field removes its key, so a
// profile stored for an earlier token never outlives it.
func WriteSession(ctx context.Context, st Storage, rec SessionRecord) {
	st.set(ctx, session.KeyToken, rec.Token)
	if rec.Role != "" {
		st.set(ctx, session.KeyRole, rec.Role)
	} else {
		st.remove(ctx, session.KeyRole)
	}
	if u, ok := rec.User.Get(); ok {
		writeProfile(ctx, st, u)
		return
	}
	st.remove(ctx, session.KeyUser)
	st.remove(ctx, session.KeyAccountID)
}

func writeProfile(ctx context.Context, st Storage, u session.User) {
	raw, err := session.EncodeUser(u)
	if err != nil {
		st.report("encode", session.KeyUser, err)
		return
	}
	st.set(ctx, session.KeyUser, raw)
	st.set(ctx, session.KeyAccountID, session.EncodeAccountID(u.AccountID))
}

// ClearSession removes every session key.
func ClearSession(ctx context.Context, st Storage) {
	for _, key := range session.Keys {
		st.remove(ctx, key)
	}
}

// superseded reports whether storage now holds a token other than token.
// An unreadable store never supersedes.
func superseded(ctx context.Context, st Storage, token string) bool {
	cur, ok, known := st.get(ctx, session.KeyToken)
	if !known {
		return false
	}
	return !ok || cur != token
}

func fetchProfile(ctx context.Context, fetch func(context.Context, string) (session.User, error), token string) (session.User, error) {
	if fetch == nil {
		return session.User{}, ErrNoProfileSource
	}
	return fetch(ctx, token)
}

// section runs fn under lock, then calls notify with the lock released.
func section(lock sync.Locker, notify func(), fn func()) {
	lock.Lock()
	fn()
	lock.Unlock()
	if notify != nil {
		notify()
	}
}
