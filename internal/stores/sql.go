package stores

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/MrEthical07/identity"
	"github.com/MrEthical07/identity/internal/stores/migrations"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

// Manager owns the database handle and the three SQL repositories.
type Manager struct {
	db      *sql.DB
	dialect Dialect

	Users  *UserRepository
	MFA    *MFARepository
	Resets *ResetTokenRepository
}

// Open connects to driver ("postgres" or "sqlite") and applies pending
// migrations.
func Open(ctx context.Context, driver, dsn string) (*Manager, error) {
	var (
		db      *sql.DB
		dialect Dialect
		err     error
	)
	switch driver {
	case "postgres", "pgx":
		dialect = DialectPostgres
		db, err = sql.Open("pgx", dsn)
	case "sqlite", "sqlite3":
		dialect = DialectSQLite
		db, err = sql.Open("sqlite", dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}
	if dialect == DialectSQLite {
		// one writer; also keeps :memory: databases on a single connection
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping error: %w", err)
	}

	m := NewManager(db, dialect)
	if err := m.RunMigrations(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migration error: %w", err)
	}
	return m, nil
}

// NewManager wraps an open database without migrating it.
func NewManager(db *sql.DB, dialect Dialect) *Manager {
	return &Manager{
		db:      db,
		dialect: dialect,
		Users:   &UserRepository{db: db, dialect: dialect},
		MFA:     &MFARepository{db: db, dialect: dialect},
		Resets:  &ResetTokenRepository{db: db, dialect: dialect},
	}
}

func (m *Manager) Conn() *sql.DB {
	return m.db
}

func (m *Manager) Close() error {
	return m.db.Close()
}

// RunMigrations applies the embedded migrations of the manager's dialect.
func (m *Manager) RunMigrations(ctx context.Context) error {
	var (
		fsys      fs.FS
		dir       string
		gooseName string
	)
	switch m.dialect {
	case DialectPostgres:
		fsys, dir, gooseName = migrations.Postgres, "postgres", "postgres"
	default:
		fsys, dir, gooseName = migrations.SQLite, "sqlite", "sqlite3"
	}

	goose.SetBaseFS(fsys)
	if err := goose.SetDialect(gooseName); err != nil {
		return err
	}
	return goose.UpContext(ctx, m.db, dir)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// UserRepository persists identities and their roles.
type UserRepository struct {
	db      *sql.DB
	dialect Dialect
}

const userColumns = `id, email, password_hash, first_name, last_name, phone_number, address, birthday, created_at, updated_at`

func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*identity.User, error) {
	return r.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, email)
}

func (r *UserRepository) FindByID(ctx context.Context, id int64) (*identity.User, error) {
	return r.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
}

func (r *UserRepository) findOne(ctx context.Context, query string, arg any) (*identity.User, error) {
	var (
		u        identity.User
		birthday sql.NullInt64
		created  int64
		updated  int64
	)
	err := r.db.QueryRowContext(ctx, r.dialect.rebind(query), arg).Scan(
		&u.ID, &u.Email, &u.PasswordHash, &u.FirstName, &u.LastName,
		&u.PhoneNumber, &u.Address, &birthday, &created, &updated,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, identity.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	if birthday.Valid {
		b := fromMillis(birthday.Int64)
		u.Birthday = &b
	}
	u.CreatedAt = fromMillis(created)
	u.UpdatedAt = fromMillis(updated)

	roles, err := r.roles(ctx, r.db, u.ID)
	if err != nil {
		return nil, err
	}
	u.Roles = roles
	return &u, nil
}

func (r *UserRepository) roles(ctx context.Context, db DBTX, userID int64) ([]identity.Role, error) {
	rows, err := db.QueryContext(ctx, r.dialect.rebind(`SELECT role FROM user_roles WHERE user_id = ? ORDER BY role`), userID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var roles []identity.Role
	for rows.Next() {
		var role string
		if err := rows.Scan(&role); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		roles = append(roles, identity.Role(role))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return roles, nil
}

// Save inserts user when its ID is zero and updates it otherwise. An update
// never writes password_hash. Roles are replaced in the same transaction.
func (r *UserRepository) Save(ctx context.Context, user *identity.User) error {
	var birthday sql.NullInt64
	if user.Birthday != nil {
		birthday = sql.NullInt64{Int64: toMillis(*user.Birthday), Valid: true}
	}

	err := WithTx(ctx, r.db, nil, func(ctx context.Context, tx DBTX) error {
		if user.ID == 0 {
			query := `
				INSERT INTO users (email, password_hash, first_name, last_name, phone_number, address, birthday, created_at, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
				RETURNING id`
			var id int64
			if err := tx.QueryRowContext(ctx, r.dialect.rebind(query),
				user.Email, user.PasswordHash, user.FirstName, user.LastName, user.PhoneNumber,
				user.Address, birthday, toMillis(user.CreatedAt), toMillis(user.UpdatedAt),
			).Scan(&id); err != nil {
				return err
			}
			user.ID = id
		} else {
			query := `
				UPDATE users
				SET email = ?, first_name = ?, last_name = ?, phone_number = ?,
				    address = ?, birthday = ?, updated_at = ?
				WHERE id = ?`
			res, err := tx.ExecContext(ctx, r.dialect.rebind(query),
				user.Email, user.FirstName, user.LastName, user.PhoneNumber,
				user.Address, birthday, toMillis(user.UpdatedAt), user.ID,
			)
			if err != nil {
				return err
			}
			if n, err := res.RowsAffected(); err == nil && n == 0 {
				return identity.ErrNotFound
			}
			if _, err := tx.ExecContext(ctx, r.dialect.rebind(`DELETE FROM user_roles WHERE user_id = ?`), user.ID); err != nil {
				return err
			}
		}

		for _, role := range user.RoleNames() {
			if _, err := tx.ExecContext(ctx, r.dialect.rebind(`INSERT INTO user_roles (user_id, role) VALUES (?, ?)`), user.ID, role); err != nil {
				return err
			}
		}
		return nil
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, identity.ErrNotFound):
		return err
	case isUniqueViolation(err):
		return identity.ErrEmailInUse
	default:
		return fmt.Errorf("db error: %w", err)
	}
}

// UpdatePasswordHash is a compare-and-set on password_hash.
func (r *UserRepository) UpdatePasswordHash(ctx context.Context, id int64, oldHash, newHash string, now time.Time) error {
	res, err := r.db.ExecContext(ctx,
		r.dialect.rebind(`UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ? AND password_hash = ?`),
		newHash, toMillis(now), id, oldHash,
	)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n > 0 {
		return nil
	}

	var count int
	if err := r.db.QueryRowContext(ctx, r.dialect.rebind(`SELECT COUNT(1) FROM users WHERE id = ?`), id).Scan(&count); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if count == 0 {
		return identity.ErrNotFound
	}
	return identity.ErrConflict
}

// ExistsByEmail reports whether email is registered.
func (r *UserRepository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx, r.dialect.rebind(`SELECT COUNT(1) FROM users WHERE email = ?`), email).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return n > 0, nil
}

// MFARepository stores one MFA record per identity.
type MFARepository struct {
	db      *sql.DB
	dialect Dialect
}

func (r *MFARepository) FindByUser(ctx context.Context, userID int64) (*identity.MFARecord, error) {
	query := `SELECT user_id, secret, enabled, confirmed, updated_at FROM mfa_records WHERE user_id = ?`
	var (
		rec     identity.MFARecord
		updated int64
	)
	err := r.db.QueryRowContext(ctx, r.dialect.rebind(query), userID).Scan(
		&rec.UserID, &rec.Secret, &rec.Enabled, &rec.Confirmed, &updated,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, identity.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	rec.UpdatedAt = fromMillis(updated)
	return &rec, nil
}

// SavePending upserts on user_id so concurrent first setups converge to one
// row. The conflict branch only fires for a record that is not enabled, so a
// concurrent enable is never overwritten.
func (r *MFARepository) SavePending(ctx context.Context, userID int64, secret string, now time.Time) error {
	query := `
		INSERT INTO mfa_records (user_id, secret, enabled, confirmed, updated_at)
		VALUES (?, ?, FALSE, FALSE, ?)
		ON CONFLICT (user_id) DO UPDATE
		SET secret = excluded.secret, enabled = FALSE, confirmed = FALSE, updated_at = excluded.updated_at
		WHERE mfa_records.enabled = FALSE`
	res, err := r.db.ExecContext(ctx, r.dialect.rebind(query), userID, secret, toMillis(now))
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return identity.ErrMFAAlreadyEnabled
	}
	return nil
}

// SetEnabled is a compare-and-set on the secret the caller verified against.
func (r *MFARepository) SetEnabled(ctx context.Context, userID int64, secret string, enabled bool, now time.Time) error {
	query := `UPDATE mfa_records SET enabled = FALSE, updated_at = ? WHERE user_id = ? AND secret = ?`
	if enabled {
		query = `UPDATE mfa_records SET enabled = TRUE, confirmed = TRUE, updated_at = ? WHERE user_id = ? AND secret = ?`
	}
	res, err := r.db.ExecContext(ctx, r.dialect.rebind(query), toMillis(now), userID, secret)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return identity.ErrConflict
	}
	return nil
}

// ResetTokenRepository stores at most one reset token per identity.
type ResetTokenRepository struct {
	db      *sql.DB
	dialect Dialect
}

const resetColumns = `token, user_id, expires_at, used, created_at`

func (r *ResetTokenRepository) scan(row *sql.Row) (*identity.ResetToken, error) {
	var (
		t       identity.ResetToken
		expires int64
		created int64
	)
	if err := row.Scan(&t.Token, &t.UserID, &expires, &t.Used, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, identity.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	t.ExpiresAt = fromMillis(expires)
	t.CreatedAt = fromMillis(created)
	return &t, nil
}

func (r *ResetTokenRepository) FindByToken(ctx context.Context, token string) (*identity.ResetToken, error) {
	return r.scan(r.db.QueryRowContext(ctx, r.dialect.rebind(`SELECT `+resetColumns+` FROM reset_tokens WHERE token = ?`), token))
}

func (r *ResetTokenRepository) FindByUser(ctx context.Context, userID int64) (*identity.ResetToken, error) {
	return r.scan(r.db.QueryRowContext(ctx, r.dialect.rebind(`SELECT `+resetColumns+` FROM reset_tokens WHERE user_id = ?`), userID))
}

// Replace deletes the identity's token and inserts t in one transaction. The
// conflict clause on user_id settles a concurrent replace in favour of the
// last writer.
func (r *ResetTokenRepository) Replace(ctx context.Context, t identity.ResetToken) error {
	err := WithTx(ctx, r.db, nil, func(ctx context.Context, tx DBTX) error {
		if _, err := tx.ExecContext(ctx, r.dialect.rebind(`DELETE FROM reset_tokens WHERE user_id = ?`), t.UserID); err != nil {
			return err
		}
		query := `
			INSERT INTO reset_tokens (token, user_id, expires_at, used, created_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (user_id) DO UPDATE
			SET token = excluded.token, expires_at = excluded.expires_at,
			    used = excluded.used, created_at = excluded.created_at`
		_, err := tx.ExecContext(ctx, r.dialect.rebind(query),
			t.Token, t.UserID, toMillis(t.ExpiresAt), t.Used, toMillis(t.CreatedAt),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *ResetTokenRepository) Delete(ctx context.Context, token string) error {
	if _, err := r.db.ExecContext(ctx, r.dialect.rebind(`DELETE FROM reset_tokens WHERE token = ?`), token); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// Consume flips used with a compare-and-set and writes the password hash in
// the same transaction.
func (r *ResetTokenRepository) Consume(ctx context.Context, token, passwordHash string, now time.Time) error {
	err := WithTx(ctx, r.db, nil, func(ctx context.Context, tx DBTX) error {
		var userID int64
		err := tx.QueryRowContext(ctx,
			r.dialect.rebind(`UPDATE reset_tokens SET used = TRUE WHERE token = ? AND used = FALSE AND expires_at >= ? RETURNING user_id`),
			token, toMillis(now),
		).Scan(&userID)
		if errors.Is(err, sql.ErrNoRows) {
			var used bool
			lookup := tx.QueryRowContext(ctx, r.dialect.rebind(`SELECT used FROM reset_tokens WHERE token = ?`), token).Scan(&used)
			switch {
			case errors.Is(lookup, sql.ErrNoRows):
				return identity.ErrResetTokenNotFound
			case lookup != nil:
				return lookup
			case used:
				return identity.ErrResetTokenUsed
			default:
				return identity.ErrResetTokenExpired
			}
		}
		if err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx,
			r.dialect.rebind(`UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ?`),
			passwordHash, toMillis(now), userID,
		)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return identity.ErrResetTokenNotFound
		}
		return nil
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, identity.ErrResetTokenNotFound), errors.Is(err, identity.ErrResetTokenUsed),
		errors.Is(err, identity.ErrResetTokenExpired):
		return err
	default:
		return fmt.Errorf("db error: %w", err)
	}
}

func (r *ResetTokenRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, r.dialect.rebind(`DELETE FROM reset_tokens WHERE expires_at < ?`), toMillis(before))
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}
