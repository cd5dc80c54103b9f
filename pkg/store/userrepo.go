package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/peycheff/crewledger/pkg/auth"
)

// UserRepo implements auth.UserRepository and auth.RefreshTokenRepository
// against the relational schema: thin query wrappers over a shared
// *sql.DB, no ORM.
type UserRepo struct {
	db *sql.DB
}

// NewUserRepo builds a UserRepo.
func NewUserRepo(db *sql.DB) *UserRepo {
	return &UserRepo{db: db}
}

func (r *UserRepo) scanUser(row interface{ Scan(...any) error }) (auth.User, error) {
	var u auth.User
	var telegramID sql.NullInt64
	var dailyRate sql.NullString
	if err := row.Scan(&u.ID, &u.Name, &telegramID, &u.Role, &u.Status, &dailyRate, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return auth.User{}, err
	}
	if telegramID.Valid {
		v := telegramID.Int64
		u.TelegramID = &v
	}
	if dailyRate.Valid {
		v := dailyRate.String
		u.DailyRate = &v
	}
	return u, nil
}

const userColumns = "id, name, telegram_id, role, status, daily_rate, created_at, updated_at"

// FindByName looks up a user by exact name match.
func (r *UserRepo) FindByName(ctx context.Context, username string) (auth.User, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE name = $1", username)
	u, err := r.scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.User{}, fmt.Errorf("store: user %q not found", username)
	}
	return u, err
}

// FindByPIN looks up a worker by their numeric PIN, stored as the
// password_hash of a PIN-only credential row.
func (r *UserRepo) FindByPIN(ctx context.Context, pin string) (auth.User, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT u.`+userColumns+`
		FROM users u
		JOIN auth_credentials c ON c.user_id = u.id
		WHERE c.password_hash = $1`, pinHash(pin))
	u, err := r.scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.User{}, fmt.Errorf("store: pin not recognized")
	}
	return u, err
}

// FindByTelegramID looks up a user by their linked Telegram account,
// the identity the bot surface authenticates callers by instead of a
// bearer token.
func (r *UserRepo) FindByTelegramID(ctx context.Context, telegramID int64) (auth.User, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE telegram_id = $1", telegramID)
	u, err := r.scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.User{}, fmt.Errorf("store: telegram id %d not linked to any user", telegramID)
	}
	return u, err
}

// pinHash maps a PIN to the value stored in password_hash for the PIN
// login path: the PIN itself behind a "pin:" prefix. It is not a
// cryptographic hash and does not use bcrypt, so a PIN can be looked up
// directly; DESIGN.md records this trade-off.
func pinHash(pin string) string {
	return "pin:" + pin
}

// Credential fetches the stored password hash / last login for a user.
func (r *UserRepo) Credential(ctx context.Context, userID int64) (auth.Credential, error) {
	row := r.db.QueryRowContext(ctx, "SELECT user_id, password_hash, last_login FROM auth_credentials WHERE user_id = $1", userID)
	var cred auth.Credential
	var hash sql.NullString
	var lastLogin sql.NullTime
	if err := row.Scan(&cred.UserID, &hash, &lastLogin); err != nil {
		return auth.Credential{}, err
	}
	cred.PasswordHash = hash.String
	if lastLogin.Valid {
		t := lastLogin.Time
		cred.LastLogin = &t
	}
	return cred, nil
}

// TouchLastLogin records the time of a successful login.
func (r *UserRepo) TouchLastLogin(ctx context.Context, userID int64, at time.Time) error {
	_, err := r.db.ExecContext(ctx, "UPDATE auth_credentials SET last_login = $1, updated_at = $1 WHERE user_id = $2", at, userID)
	return err
}

// Record inserts a refresh token's jti for single-use rotation
// tracking.
func (r *UserRepo) Record(ctx context.Context, jti string, userID int64, expiresAt time.Time) error {
	_, err := r.db.ExecContext(ctx, "INSERT INTO refresh_tokens (jti, user_id, expires_at) VALUES ($1, $2, $3)", jti, userID, expiresAt)
	return err
}

// Consume marks a refresh token used, returning false if it was
// already consumed or never recorded (replay detection).
func (r *UserRepo) Consume(ctx context.Context, jti string) (bool, error) {
	res, err := r.db.ExecContext(ctx, "UPDATE refresh_tokens SET consumed_at = $1 WHERE jti = $2 AND consumed_at IS NULL", time.Now().UTC(), jti)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: consume refresh token rows affected: %w", err)
	}
	return rows > 0, nil
}

// SetStatus activates or deactivates a user.
func (r *UserRepo) SetStatus(ctx context.Context, userID int64, status string) error {
	res, err := r.db.ExecContext(ctx, "UPDATE users SET status = $1, updated_at = $2 WHERE id = $3", status, time.Now().UTC(), userID)
	if err != nil {
		return fmt.Errorf("store: set user status: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("store: user %d not found", userID)
	}
	return nil
}

// ListUsers returns users ordered by id, newest first, for the admin
// user directory. limit<=0 defaults to 50.
func (r *UserRepo) ListUsers(ctx context.Context, limit, offset int) ([]auth.User, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, "SELECT "+userColumns+" FROM users ORDER BY id DESC LIMIT $1 OFFSET $2", limit, offset)
	if err != nil {
		return nil, fmt.Errorf("store: list users: %w", err)
	}
	defer rows.Close()

	var users []auth.User
	for rows.Next() {
		u, err := r.scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// CountUsers returns the total number of users, for pagination headers.
func (r *UserRepo) CountUsers(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, "SELECT count(*) FROM users").Scan(&n); err != nil {
		return 0, fmt.Errorf("store: count users: %w", err)
	}
	return n, nil
}

// UserPatch carries the optional fields a PATCH /api/users/{id} request
// may update; nil fields are left unchanged.
type UserPatch struct {
	Name      *string
	Role      *auth.Role
	DailyRate *string
}

// UpdateUser applies a partial update to a user row, returning the
// refreshed record.
func (r *UserRepo) UpdateUser(ctx context.Context, id int64, patch UserPatch) (auth.User, error) {
	if patch.Name != nil {
		if _, err := r.db.ExecContext(ctx, "UPDATE users SET name = $1, updated_at = $2 WHERE id = $3", *patch.Name, time.Now().UTC(), id); err != nil {
			return auth.User{}, fmt.Errorf("store: update user name: %w", err)
		}
	}
	if patch.Role != nil {
		if _, err := r.db.ExecContext(ctx, "UPDATE users SET role = $1, updated_at = $2 WHERE id = $3", *patch.Role, time.Now().UTC(), id); err != nil {
			return auth.User{}, fmt.Errorf("store: update user role: %w", err)
		}
	}
	if patch.DailyRate != nil {
		if _, err := r.db.ExecContext(ctx, "UPDATE users SET daily_rate = $1, updated_at = $2 WHERE id = $3", *patch.DailyRate, time.Now().UTC(), id); err != nil {
			return auth.User{}, fmt.Errorf("store: update user daily_rate: %w", err)
		}
	}
	row := r.db.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE id = $1", id)
	u, err := r.scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.User{}, fmt.Errorf("store: user %d not found", id)
	}
	return u, err
}

// CreateUser inserts a new user row with an associated (possibly
// empty) credential row, for admin-driven user provisioning.
func (r *UserRepo) CreateUser(ctx context.Context, u auth.User, passwordHash string) (int64, error) {
	var telegramID sql.NullInt64
	if u.TelegramID != nil {
		telegramID = sql.NullInt64{Int64: *u.TelegramID, Valid: true}
	}
	var dailyRate sql.NullString
	if u.DailyRate != nil {
		dailyRate = sql.NullString{String: *u.DailyRate, Valid: true}
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO users (name, telegram_id, role, status, daily_rate)
		VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		u.Name, telegramID, u.Role, "active", dailyRate)
	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, fmt.Errorf("store: create user: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, "INSERT INTO auth_credentials (user_id, password_hash) VALUES ($1, $2)", id, passwordHash); err != nil {
		return 0, fmt.Errorf("store: create credential: %w", err)
	}
	return id, nil
}
