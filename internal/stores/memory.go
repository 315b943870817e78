package stores

import (
	"context"
	"sync"
	"time"

	"github.com/MrEthical07/identity"
)

// Memory keeps all records in process. One mutex guards every map, which
// serializes all mutations including the per-identity ones.
type Memory struct {
	Users  *MemoryUsers
	MFA    *MemoryMFA
	Resets *MemoryResets
}

type memoryState struct {
	mu      sync.Mutex
	nextID  int64
	users   map[int64]identity.User
	byEmail map[string]int64
	mfa     map[int64]identity.MFARecord
	tokens  map[string]identity.ResetToken
	byUser  map[int64]string
}

// NewMemory returns empty stores that share one lock.
func NewMemory() *Memory {
	st := &memoryState{
		users:   make(map[int64]identity.User),
		byEmail: make(map[string]int64),
		mfa:     make(map[int64]identity.MFARecord),
		tokens:  make(map[string]identity.ResetToken),
		byUser:  make(map[int64]string),
	}
	return &Memory{
		Users:  &MemoryUsers{st: st},
		MFA:    &MemoryMFA{st: st},
		Resets: &MemoryResets{st: st},
	}
}

func copyUser(u identity.User) *identity.User {
	out := u
	out.Roles = append([]identity.Role(nil), u.Roles...)
	if u.Birthday != nil {
		b := *u.Birthday
		out.Birthday = &b
	}
	return &out
}

// MemoryUsers implements identity.UserStore.
type MemoryUsers struct{ st *memoryState }

// FindByEmail matches the email exactly.
func (s *MemoryUsers) FindByEmail(ctx context.Context, email string) (*identity.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.st.mu.Lock()
	defer s.st.mu.Unlock()

	id, ok := s.st.byEmail[email]
	if !ok {
		return nil, identity.ErrNotFound
	}
	return copyUser(s.st.users[id]), nil
}

// FindByID returns a copy of the stored identity.
func (s *MemoryUsers) FindByID(ctx context.Context, id int64) (*identity.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.st.mu.Lock()
	defer s.st.mu.Unlock()

	u, ok := s.st.users[id]
	if !ok {
		return nil, identity.ErrNotFound
	}
	return copyUser(u), nil
}

// Save assigns the next ID to a new identity. Updates keep the stored
// password hash and creation time.
func (s *MemoryUsers) Save(ctx context.Context, user *identity.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.st.mu.Lock()
	defer s.st.mu.Unlock()

	if owner, ok := s.st.byEmail[user.Email]; ok && owner != user.ID {
		return identity.ErrEmailInUse
	}
	if user.ID == 0 {
		s.st.nextID++
		user.ID = s.st.nextID
	} else if _, ok := s.st.users[user.ID]; !ok {
		return identity.ErrNotFound
	}

	prev, exists := s.st.users[user.ID]
	if exists && prev.Email != user.Email {
		delete(s.st.byEmail, prev.Email)
	}
	stored := copyUser(*user)
	if exists {
		stored.PasswordHash = prev.PasswordHash
		stored.CreatedAt = prev.CreatedAt
	}
	stored.Roles = stored.Roles[:0]
	for _, r := range user.RoleNames() {
		stored.Roles = append(stored.Roles, identity.Role(r))
	}
	s.st.users[user.ID] = *stored
	s.st.byEmail[user.Email] = user.ID
	return nil
}

// UpdatePasswordHash swaps the hash only while it still equals oldHash.
func (s *MemoryUsers) UpdatePasswordHash(ctx context.Context, id int64, oldHash, newHash string, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.st.mu.Lock()
	defer s.st.mu.Unlock()

	u, ok := s.st.users[id]
	if !ok {
		return identity.ErrNotFound
	}
	if u.PasswordHash != oldHash {
		return identity.ErrConflict
	}
	u.PasswordHash = newHash
	u.UpdatedAt = now
	s.st.users[id] = u
	return nil
}

// ExistsByEmail reports whether email is registered.
func (s *MemoryUsers) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.st.mu.Lock()
	defer s.st.mu.Unlock()

	_, ok := s.st.byEmail[email]
	return ok, nil
}

// MemoryMFA implements identity.MFAStore.
type MemoryMFA struct{ st *memoryState }

// FindByUser returns ErrNotFound when the identity never set up MFA.
func (s *MemoryMFA) FindByUser(ctx context.Context, userID int64) (*identity.MFARecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.st.mu.Lock()
	defer s.st.mu.Unlock()

	r, ok := s.st.mfa[userID]
	if !ok {
		return nil, identity.ErrNotFound
	}
	return &r, nil
}

// SavePending replaces the secret of a record that is not enabled, or
// creates one.
func (s *MemoryMFA) SavePending(ctx context.Context, userID int64, secret string, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.st.mu.Lock()
	defer s.st.mu.Unlock()

	if r, ok := s.st.mfa[userID]; ok && r.Enabled {
		return identity.ErrMFAAlreadyEnabled
	}
	s.st.mfa[userID] = identity.MFARecord{UserID: userID, Secret: secret, UpdatedAt: now}
	return nil
}

// SetEnabled flips the enabled flag while the stored secret matches.
func (s *MemoryMFA) SetEnabled(ctx context.Context, userID int64, secret string, enabled bool, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.st.mu.Lock()
	defer s.st.mu.Unlock()

	r, ok := s.st.mfa[userID]
	if !ok || r.Secret != secret {
		return identity.ErrConflict
	}
	r.Enabled = enabled
	if enabled {
		r.Confirmed = true
	}
	r.UpdatedAt = now
	s.st.mfa[userID] = r
	return nil
}

// MemoryResets implements identity.ResetTokenStore with at most one token
// per identity.
type MemoryResets struct{ st *memoryState }

// FindByToken looks a token up by its value.
func (s *MemoryResets) FindByToken(ctx context.Context, token string) (*identity.ResetToken, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.st.mu.Lock()
	defer s.st.mu.Unlock()

	t, ok := s.st.tokens[token]
	if !ok {
		return nil, identity.ErrNotFound
	}
	return &t, nil
}

// FindByUser returns the live token of userID, if any.
func (s *MemoryResets) FindByUser(ctx context.Context, userID int64) (*identity.ResetToken, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.st.mu.Lock()
	defer s.st.mu.Unlock()

	token, ok := s.st.byUser[userID]
	if !ok {
		return nil, identity.ErrNotFound
	}
	t := s.st.tokens[token]
	return &t, nil
}

// Replace drops any earlier token of the same identity.
func (s *MemoryResets) Replace(ctx context.Context, t identity.ResetToken) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.st.mu.Lock()
	defer s.st.mu.Unlock()

	if prev, ok := s.st.byUser[t.UserID]; ok {
		delete(s.st.tokens, prev)
	}
	s.st.tokens[t.Token] = t
	s.st.byUser[t.UserID] = t.Token
	return nil
}

// Delete is a no-op for unknown tokens.
func (s *MemoryResets) Delete(ctx context.Context, token string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.st.mu.Lock()
	defer s.st.mu.Unlock()

	s.deleteLocked(token)
	return nil
}

func (s *MemoryResets) deleteLocked(token string) {
	t, ok := s.st.tokens[token]
	if !ok {
		return
	}
	delete(s.st.tokens, token)
	if s.st.byUser[t.UserID] == token {
		delete(s.st.byUser, t.UserID)
	}
}

// Consume marks the token used and stores passwordHash under one lock.
func (s *MemoryResets) Consume(ctx context.Context, token, passwordHash string, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.st.mu.Lock()
	defer s.st.mu.Unlock()

	t, ok := s.st.tokens[token]
	if !ok {
		return identity.ErrResetTokenNotFound
	}
	if t.Used {
		return identity.ErrResetTokenUsed
	}
	if t.Expired(now) {
		return identity.ErrResetTokenExpired
	}
	u, ok := s.st.users[t.UserID]
	if !ok {
		return identity.ErrResetTokenNotFound
	}

	u.PasswordHash = passwordHash
	u.UpdatedAt = now
	s.st.users[u.ID] = u
	t.Used = true
	s.st.tokens[token] = t
	return nil
}

// DeleteExpired removes tokens that expired before before.
func (s *MemoryResets) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.st.mu.Lock()
	defer s.st.mu.Unlock()

	var n int64
	for token, t := range s.st.tokens {
		if t.ExpiresAt.Before(before) {
			s.deleteLocked(token)
			n++
		}
	}
	return n, nil
}
