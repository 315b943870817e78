package httpapi

import (
	"time"

	"github.com/MrEthical07/identity"
)

const dateLayout = "2006-01-02"

type userView struct {
	ID          int64     `json:"id"`
	Email       string    `json:"email"`
	FirstName   string    `json:"firstName"`
	LastName    string    `json:"lastName"`
	PhoneNumber string    `json:"phoneNumber"`
	Address     string    `json:"address"`
	Birthday    string    `json:"birthday,omitempty"`
	Roles       []string  `json:"roles"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func newUserView(u *identity.User) userView {
	v := userView{
		ID:          u.ID,
		Email:       u.Email,
		FirstName:   u.FirstName,
		LastName:    u.LastName,
		PhoneNumber: u.PhoneNumber,
		Address:     u.Address,
		Roles:       u.RoleNames(),
		CreatedAt:   u.CreatedAt,
		UpdatedAt:   u.UpdatedAt,
	}
	if u.Birthday != nil {
		v.Birthday = u.Birthday.Format(dateLayout)
	}
	return v
}

type profileView struct {
	userView
	MFAEnabled      bool   `json:"mfaEnabled"`
	Username        string `json:"username"`
	CurrentDateTime string `json:"currentDateTime"`
}

func newProfileView(p *identity.Profile, now time.Time) profileView {
	return profileView{
		userView:        newUserView(&p.User),
		MFAEnabled:      p.MFAEnabled,
		Username:        p.User.FirstName + p.User.LastName,
		CurrentDateTime: now.UTC().Format("2006-01-02 15:04:05"),
	}
}

type tokenView struct {
	Token       string    `json:"token"`
	RequiresMFA bool      `json:"requiresMfa"`
	ExpiresAt   time.Time `json:"expiresAt"`
}
