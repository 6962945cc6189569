package toystory

import (
	"context"
	"io"
	"strings"

	internalaudit "github.com/NguyenMinh4869/toystory/internal/audit"
	"github.com/NguyenMinh4869/toystory/session"
)

// Role is the authorization role attached to a session. The empty Role means
// no role is present.
type Role string

const (
	RoleAdmin  Role = "Admin"
	RoleStaff  Role = "Staff"
	RoleMember Role = "Member"
)

// ParseRole normalizes a role string coming from storage or the account
// service. Matching is case-insensitive; unknown values are kept verbatim so
// that route decisions can still fall back to the public home.
func ParseRole(raw string) Role {
	raw = strings.TrimSpace(raw)
	switch strings.ToLower(raw) {
	case "admin":
		return RoleAdmin
	case "staff":
		return RoleStaff
	case "member", "customer", "user":
		return RoleMember
	default:
		return Role(raw)
	}
}

// Known reports whether r is one of the three built-in roles.
func (r Role) Known() bool {
	return r.bit() != 0
}

func (r Role) bit() RoleSet {
	switch r {
	case RoleAdmin:
		return 1 << 0
	case RoleStaff:
		return 1 << 1
	case RoleMember:
		return 1 << 2
	default:
		return 0
	}
}

// RoleSet is a bitmask of built-in roles.
type RoleSet uint8

// NewRoleSet returns the set containing roles. Unknown roles are ignored.
func NewRoleSet(roles ...Role) RoleSet {
	var s RoleSet
	for _, r := range roles {
		s |= r.bit()
	}
	return s
}

// Has reports whether r is in the set. Unknown roles are never members.
func (s RoleSet) Has(r Role) bool {
	b := r.bit()
	return b != 0 && s&b != 0
}

// Roles lists the members in Admin, Staff, Member order.
func (s RoleSet) Roles() []Role {
	out := make([]Role, 0, 3)
	for _, r := range []Role{RoleAdmin, RoleStaff, RoleMember} {
		if s.Has(r) {
			out = append(out, r)
		}
	}
	return out
}

// UserProfile is the account profile held by an authenticated session.
type UserProfile = session.User

// Credentials is the input of [Engine.Login].
type Credentials struct {
	Email    string
	Password string
}

// LoginResult is returned by [AccountService.Login].
type LoginResult struct {
	Token   string
	Role    Role
	Message string
}

// AccountService is the REST collaborator the engine delegates to.
//
// Login must return *ValidationError, ErrInvalidCredentials or ErrNetwork
// (possibly wrapped) on failure. CurrentUser is an authorized call using
// token. LogoutRemote is best-effort.
type AccountService interface {
	Login(ctx context.Context, email, password string) (LoginResult, error)
	CurrentUser(ctx context.Context, token string) (UserProfile, error)
	LogoutRemote(ctx context.Context, token string) error
}

// SessionState is the engine's state machine position.
type SessionState uint8

const (
	// StateUnknown is the initial state before the first Refresh.
	StateUnknown SessionState = iota
	StateAuthenticated
	StateUnauthenticated
)

func (s SessionState) String() string {
	switch s {
	case StateAuthenticated:
		return "authenticated"
	case StateUnauthenticated:
		return "unauthenticated"
	default:
		return "unknown"
	}
}

// SessionSnapshot is the read model handed to presentation code.
//
// User is nil while the profile is absent; this can happen on an
// authenticated session when the post-login profile fetch failed.
type SessionSnapshot struct {
	State           SessionState
	IsAuthenticated bool
	IsLoading       bool
	Role            Role
	User            *UserProfile
}

func (s SessionSnapshot) clone() SessionSnapshot {
	out := s
	if s.User != nil {
		u := *s.User
		out.User = &u
	}
	return out
}

// AuditEvent is a structured audit record emitted by the engine.
type AuditEvent = internalaudit.Event

// AuditSink receives [AuditEvent] values from the engine's audit dispatcher.
type AuditSink = internalaudit.Sink

// NoOpSink is an [AuditSink] that silently discards all events.
type NoOpSink = internalaudit.NoOpSink

// ChannelSink is a buffered channel-based [AuditSink].
type ChannelSink = internalaudit.ChannelSink

// JSONWriterSink is an [AuditSink] that writes JSON-encoded events to an
// [io.Writer].
type JSONWriterSink = internalaudit.JSONWriterSink

// NewChannelSink creates a [ChannelSink] with the given buffer capacity.
func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

// NewJSONWriterSink creates a [JSONWriterSink] that writes to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}
