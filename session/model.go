package session

// Storage key names. They are shared with every other tab reading the same
// storage and must not change.
const (
	KeyToken     = "token"
	KeyRole      = "role"
	KeyUser      = "user"
	KeyAccountID = "accountId"
)

// Keys lists every key written by a login, in write order.
var Keys = []string{KeyToken, KeyRole, KeyUser, KeyAccountID}

// IsSessionKey reports whether a mutation of key must trigger a session
// refresh in other tabs.
func IsSessionKey(key string) bool {
	switch key {
	case KeyToken, KeyUser, KeyRole:
		return true
	default:
		return false
	}
}

// User is the account profile persisted under [KeyUser].
type User struct {
	AccountID   int64  `json:"accountId"`
	Email       string `json:"email"`
	Name        string `json:"name"`
	PhoneNumber string `json:"phoneNumber"`
	Address     string `json:"address,omitempty"`
	Role        string `json:"role"`
	Status      string `json:"status"`
}

// Event is a storage mutation as observed by watchers.
//
// Removed is true when the key was deleted; NewValue is empty in that case.
type Event struct {
	Key      string `json:"key"`
	NewValue string `json:"newValue,omitempty"`
	Removed  bool   `json:"removed,omitempty"`
	Origin   string `json:"origin"`
}
