package account

import (
	"errors"
	"fmt"
	"strings"

	toystory "github.com/NguyenMinh4869/toystory"
	"github.com/NguyenMinh4869/toystory/internal/opt"
)

// ErrIncompleteProfile is returned when the profile carries no account id.
var ErrIncompleteProfile = errors.New("account: profile without account id")

type profileDTO struct {
	AccountID   *int64  `json:"accountId"`
	Email       *string `json:"email"`
	Name        *string `json:"name"`
	PhoneNumber *string `json:"phoneNumber"`
	Address     *string `json:"address"`
	Role        *string `json:"role"`
	Status      *string `json:"status"`
}

func text(p *string) string {
	return opt.Map(opt.FromPtr(p), strings.TrimSpace).OrZero()
}

func (d profileDTO) normalize() (toystory.UserProfile, error) {
	id, ok := opt.FromPtr(d.AccountID).Filter(func(v int64) bool { return v > 0 }).Get()
	if !ok {
		return toystory.UserProfile{}, fmt.Errorf("%w: %w", toystory.ErrNetwork, ErrIncompleteProfile)
	}
	return toystory.UserProfile{
		AccountID:   id,
		Email:       text(d.Email),
		Name:        text(d.Name),
		PhoneNumber: text(d.PhoneNumber),
		Address:     text(d.Address),
		Role:        string(toystory.ParseRole(text(d.Role))),
		Status:      text(d.Status),
	}, nil
}
