package session

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"
)

// ErrUserCorrupt is returned when the persisted user blob cannot be decoded.
var ErrUserCorrupt = errors.New("persisted user corrupt")

// EncodeUser serializes u for storage under [KeyUser].
func EncodeUser(u User) (string, error) {
	data, err := json.Marshal(u)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// DecodeUser parses a blob written by [EncodeUser].
func DecodeUser(raw string) (User, error) {
	var u User
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" || raw == "undefined" {
		return u, ErrUserCorrupt
	}
	if err := json.Unmarshal([]byte(raw), &u); err != nil {
		return User{}, errors.Join(ErrUserCorrupt, err)
	}
	return u, nil
}

// EncodeAccountID formats an account id for storage under [KeyAccountID].
func EncodeAccountID(id int64) string {
	return strconv.FormatInt(id, 10)
}

// DecodeAccountID parses a value written by [EncodeAccountID].
func DecodeAccountID(raw string) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}
