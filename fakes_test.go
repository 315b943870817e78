package identity

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/identity/password"
)

// runOnce calls and clears *hook. Hooks let a test interleave a second
// operation between an engine read and the following store write.
func runOnce(hook *func()) {
	if f := *hook; f != nil {
		*hook = nil
		f()
	}
}

type memUserStore struct {
	mu     sync.Mutex
	nextID int64
	byID   map[int64]User

	beforeWrite func()
}

func newMemUserStore() *memUserStore {
	return &memUserStore{byID: map[int64]User{}}
}

func (s *memUserStore) FindByEmail(_ context.Context, email string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.byID {
		if u.Email == email {
			out := u
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

func (s *memUserStore) FindByID(_ context.Context, id int64) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &u, nil
}

func (s *memUserStore) Save(_ context.Context, user *User) error {
	runOnce(&s.beforeWrite)
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, u := range s.byID {
		if u.Email == user.Email && id != user.ID {
			return ErrEmailInUse
		}
	}
	stored := *user
	if user.ID == 0 {
		s.nextID++
		user.ID = s.nextID
		stored.ID = user.ID
	} else if prev, ok := s.byID[user.ID]; ok {
		stored.PasswordHash = prev.PasswordHash
	}
	s.byID[user.ID] = stored
	return nil
}

func (s *memUserStore) UpdatePasswordHash(_ context.Context, id int64, oldHash, newHash string, now time.Time) error {
	runOnce(&s.beforeWrite)
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	if u.PasswordHash != oldHash {
		return ErrConflict
	}
	u.PasswordHash = newHash
	u.UpdatedAt = now
	s.byID[id] = u
	return nil
}

func (s *memUserStore) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	_, err := s.FindByEmail(ctx, email)
	if err == ErrNotFound {
		return false, nil
	}
	return err == nil, err
}

type memMFAStore struct {
	mu      sync.Mutex
	records map[int64]MFARecord

	beforeWrite func()
}

func newMemMFAStore() *memMFAStore {
	return &memMFAStore{records: map[int64]MFARecord{}}
}

func (s *memMFAStore) FindByUser(_ context.Context, userID int64) (*MFARecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return &r, nil
}

func (s *memMFAStore) SavePending(_ context.Context, userID int64, secret string, now time.Time) error {
	runOnce(&s.beforeWrite)
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.records[userID]; ok && r.Enabled {
		return ErrMFAAlreadyEnabled
	}
	s.records[userID] = MFARecord{UserID: userID, Secret: secret, UpdatedAt: now}
	return nil
}

func (s *memMFAStore) SetEnabled(_ context.Context, userID int64, secret string, enabled bool, now time.Time) error {
	runOnce(&s.beforeWrite)
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[userID]
	if !ok || r.Secret != secret {
		return ErrConflict
	}
	r.Enabled = enabled
	if enabled {
		r.Confirmed = true
	}
	r.UpdatedAt = now
	s.records[userID] = r
	return nil
}

type memResetStore struct {
	mu     sync.Mutex
	tokens map[string]ResetToken
	users  *memUserStore
}

func newMemResetStore(users *memUserStore) *memResetStore {
	return &memResetStore{tokens: map[string]ResetToken{}, users: users}
}

func (s *memResetStore) FindByToken(_ context.Context, token string) (*ResetToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[token]
	if !ok {
		return nil, ErrNotFound
	}
	return &t, nil
}

func (s *memResetStore) FindByUser(_ context.Context, userID int64) (*ResetToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tokens {
		if t.UserID == userID {
			out := t
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

func (s *memResetStore) Replace(_ context.Context, t ResetToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range s.tokens {
		if v.UserID == t.UserID {
			delete(s.tokens, k)
		}
	}
	s.tokens[t.Token] = t
	return nil
}

func (s *memResetStore) Delete(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, token)
	return nil
}

func (s *memResetStore) Consume(_ context.Context, token, hash string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[token]
	if !ok {
		return ErrResetTokenNotFound
	}
	if t.Used {
		return ErrResetTokenUsed
	}
	if t.Expired(now) {
		return ErrResetTokenExpired
	}
	s.users.mu.Lock()
	u := s.users.byID[t.UserID]
	u.PasswordHash = hash
	u.UpdatedAt = now
	s.users.byID[t.UserID] = u
	s.users.mu.Unlock()
	t.Used = true
	s.tokens[token] = t
	return nil
}

func (s *memResetStore) DeleteExpired(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for k, v := range s.tokens {
		if v.ExpiresAt.Before(before) {
			delete(s.tokens, k)
			n++
		}
	}
	return n, nil
}

type sentMail struct {
	To      string
	Subject string
	Body    string
}

type recordingMailer struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
}

func (m *recordingMailer) Send(_ context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentMail{To: to, Subject: subject, Body: body})
	return nil
}

func (m *recordingMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

func (m *recordingMailer) last() sentMail {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sent[len(m.sent)-1]
}

type linkRenderer struct{}

func (linkRenderer) RenderResetEmail(d ResetEmail) (string, string, error) {
	return "Password Reset Request", d.Link, nil
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testEngine struct {
	*Engine
	users  *memUserStore
	mfa    *memMFAStore
	resets *memResetStore
	mailer *recordingMailer
	clock  *testClock
}

func fastHasher(t *testing.T) Hasher {
	t.Helper()
	primary, err := password.NewArgon2(password.Config{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	})
	if err != nil {
		t.Fatalf("NewArgon2: %v", err)
	}
	legacy, err := password.NewBcrypt(4)
	if err != nil {
		t.Fatalf("NewBcrypt: %v", err)
	}
	return password.NewAuto(primary, legacy)
}

func newTestEngine(t *testing.T, mutate func(*Config), opts ...func(*Builder)) *testEngine {
	t.Helper()

	cfg := testConfig()
	cfg.Password.MinLength = 3
	if mutate != nil {
		mutate(&cfg)
	}

	users := newMemUserStore()
	te := &testEngine{
		users:  users,
		mfa:    newMemMFAStore(),
		resets: newMemResetStore(users),
		mailer: &recordingMailer{},
		clock:  &testClock{now: time.Date(2026, 3, 1, 12, 0, 15, 0, time.UTC)},
	}

	b := New().
		WithConfig(cfg).
		WithUserStore(te.users).
		WithMFAStore(te.mfa).
		WithResetTokenStore(te.resets).
		WithHasher(fastHasher(t)).
		WithMailer(te.mailer).
		WithResetEmailRenderer(linkRenderer{}).
		WithClock(te.clock.Now)
	for _, opt := range opts {
		opt(b)
	}

	engine, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(engine.Close)
	te.Engine = engine
	return te
}

func (te *testEngine) register(t *testing.T, email, password string) *User {
	t.Helper()
	u, err := te.Register(context.Background(), RegisterInput{Email: email, Password: password, FirstName: "Test"})
	if err != nil {
		t.Fatalf("Register(%s): %v", email, err)
	}
	return u
}
