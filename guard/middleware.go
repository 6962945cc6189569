package guard

import (
	"context"
	"net/http"

	toystory "github.com/NguyenMinh4869/toystory"
)

// SnapshotSource is implemented by *toystory.Engine.
type SnapshotSource interface {
	Snapshot() toystory.SessionSnapshot
}

type snapshotContextKey struct{}

// SnapshotFromContext returns the snapshot stored by [Require].
func SnapshotFromContext(ctx context.Context) (toystory.SessionSnapshot, bool) {
	snap, ok := ctx.Value(snapshotContextKey{}).(toystory.SessionSnapshot)
	return snap, ok
}

// Require gates next behind roles. Negative decisions answer 302 Found with
// the decision's target. Before the session has been read for the first time
// it answers 503 so that nothing is rendered or redirected on a guess.
func Require(source SnapshotSource, roles ...toystory.Role) func(http.Handler) http.Handler {
	required := toystory.NewRoleSet(roles...)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if source == nil {
				http.Redirect(w, r, LoginPath, http.StatusFound)
				return
			}

			snap := source.Snapshot()
			if snap.State == toystory.StateUnknown {
				w.Header().Set("Retry-After", "1")
				http.Error(w, "session loading", http.StatusServiceUnavailable)
				return
			}

			d := Decide(required, snap.Role)
			if d.Kind != Allow {
				http.Redirect(w, r, d.Target(), http.StatusFound)
				return
			}

			ctx := context.WithValue(r.Context(), snapshotContextKey{}, snap)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
