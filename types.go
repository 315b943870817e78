package identity

import (
	"context"
	"time"
)

// Role is a role label carried in bearer tokens.
type Role string

const (
	// RoleAdmin is granted by the admin registration endpoint.
	RoleAdmin Role = "ADMIN"
	// RoleClient is granted to every self-registered identity.
	RoleClient Role = "CLIENT"
)

// User is a stored identity. Email is unique and compared exactly as stored.
type User struct {
	ID           int64
	Email        string
	PasswordHash string
	Roles        []Role
	FirstName    string
	LastName     string
	PhoneNumber  string
	Address      string
	Birthday     *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// RoleNames returns the roles as plain strings, deduplicated in input order.
func (u *User) RoleNames() []string {
	if u == nil {
		return nil
	}
	seen := make(map[Role]struct{}, len(u.Roles))
	out := make([]string, 0, len(u.Roles))
	for _, r := range u.Roles {
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, string(r))
	}
	return out
}

// MFAState is the enrollment state of one identity.
type MFAState int

const (
	MFANoRecord MFAState = iota
	MFAPendingSetup
	MFAEnabled
	MFADisabled
)

func (s MFAState) String() string {
	switch s {
	case MFAPendingSetup:
		return "pending_setup"
	case MFAEnabled:
		return "enabled"
	case MFADisabled:
		return "disabled"
	default:
		return "no_record"
	}
}

// MFARecord is the per-identity second factor. Confirmed is set once a code
// has verified against Secret and cleared whenever setup replaces the secret.
type MFARecord struct {
	UserID    int64
	Secret    string
	Enabled   bool
	Confirmed bool
	UpdatedAt time.Time
}

// State derives the enrollment state from a possibly nil record.
func (r *MFARecord) State() MFAState {
	switch {
	case r == nil:
		return MFANoRecord
	case r.Enabled && r.Secret != "":
		return MFAEnabled
	case r.Confirmed:
		return MFADisabled
	default:
		return MFAPendingSetup
	}
}

// ResetToken is a single-use password reset credential. Token is a bearer
// secret and must never be logged.
type ResetToken struct {
	Token     string
	UserID    int64
	ExpiresAt time.Time
	Used      bool
	CreatedAt time.Time
}

// Expired reports whether now is past the expiry. The expiry instant itself is
// still usable.
func (t *ResetToken) Expired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

// UserStore persists identities. Lookups return ErrNotFound on a miss.
type UserStore interface {
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindByID(ctx context.Context, id int64) (*User, error)
	// Save inserts when ID is zero and assigns it. Otherwise it updates the
	// email, profile fields and roles and leaves the stored password hash
	// alone. A duplicate email yields ErrEmailInUse.
	Save(ctx context.Context, user *User) error
	// UpdatePasswordHash replaces the hash of id only while it still equals
	// oldHash and returns ErrConflict otherwise.
	UpdatePasswordHash(ctx context.Context, id int64, oldHash, newHash string, now time.Time) error
	ExistsByEmail(ctx context.Context, email string) (bool, error)
}

// MFAStore holds at most one record per identity.
type MFAStore interface {
	FindByUser(ctx context.Context, userID int64) (*MFARecord, error)
	// SavePending stores secret as a new enrollment that is not yet enabled.
	// It refuses with ErrMFAAlreadyEnabled while the stored record is enabled.
	SavePending(ctx context.Context, userID int64, secret string, now time.Time) error
	// SetEnabled sets the enabled flag only while the stored secret is still
	// secret and returns ErrConflict otherwise. Enabling also marks the
	// record confirmed.
	SetEnabled(ctx context.Context, userID int64, secret string, enabled bool, now time.Time) error
}

// ResetTokenStore holds at most one reset token per identity.
type ResetTokenStore interface {
	FindByToken(ctx context.Context, token string) (*ResetToken, error)
	FindByUser(ctx context.Context, userID int64) (*ResetToken, error)
	// Replace atomically deletes any token of the same user and stores t.
	Replace(ctx context.Context, t ResetToken) error
	Delete(ctx context.Context, token string) error
	// Consume marks the token used and stores passwordHash for its owner in a
	// single atomic step. It returns ErrResetTokenUsed when the token was
	// consumed concurrently, ErrResetTokenExpired when it is past its expiry
	// at now and ErrResetTokenNotFound when it is gone.
	Consume(ctx context.Context, token string, passwordHash string, now time.Time) error
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// Hasher is the one-way credential hasher.
type Hasher interface {
	Hash(password string) (string, error)
	Verify(password string, encodedHash string) (bool, error)
}

// upgradeChecker is implemented by hashers that can flag outdated digests.
type upgradeChecker interface {
	NeedsUpgrade(encodedHash string) (bool, error)
}

// Mailer delivers one HTML email synchronously.
type Mailer interface {
	Send(ctx context.Context, to, subject, htmlBody string) error
}

// ResetEmail is the data handed to the reset email renderer. Link embeds the
// raw reset token.
type ResetEmail struct {
	Recipient string
	FirstName string
	Link      string
	ExpiresAt time.Time
}

// ResetEmailRenderer produces the subject and HTML body of the reset email.
type ResetEmailRenderer interface {
	RenderResetEmail(data ResetEmail) (subject, body string, err error)
}

// LoginOutcome is the result of a successful first login step: either
// *Authenticated or *MFAChallenge. Rejection is reported as an error.
type LoginOutcome interface {
	loginOutcome()
}

// Authenticated carries an issued bearer token.
type Authenticated struct {
	Token     string
	ExpiresAt time.Time
}

// MFAChallenge means the password verified but a second factor is required.
// No token has been issued.
type MFAChallenge struct {
	Email string
}

func (*Authenticated) loginOutcome() {}
func (*MFAChallenge) loginOutcome()  {}

// RequiresMFA reports whether the outcome is a second-factor challenge.
func RequiresMFA(o LoginOutcome) bool {
	_, ok := o.(*MFAChallenge)
	return ok
}

// MFASetup is returned by SetupMFA.
type MFASetup struct {
	Secret string
	URI    string
	// QRCode is a data:image/png;base64 URI of the enrollment QR code.
	QRCode string
}

// ResetTokenInfo is returned by ValidateResetToken for display purposes.
type ResetTokenInfo struct {
	Email     string
	ExpiresAt time.Time
}

// TokenInspection is returned by InspectToken.
type TokenInspection struct {
	Email      string
	UserID     int64
	Roles      []string
	IssuedAt   time.Time
	ExpiresAt  time.Time
	Expired    bool
	ServerTime time.Time
}

// RegisterInput is the registration payload.
type RegisterInput struct {
	Email       string
	Password    string
	FirstName   string
	LastName    string
	PhoneNumber string
	Address     string
	Birthday    *time.Time
}

// ProfileUpdate lists the self-editable profile fields. Nil fields are left unchanged.
type ProfileUpdate struct {
	FirstName   *string
	LastName    *string
	PhoneNumber *string
	Address     *string
}

// Profile is the self-view of an identity.
type Profile struct {
	User       User
	MFAEnabled bool
}
