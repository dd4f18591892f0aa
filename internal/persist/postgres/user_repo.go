package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"golang.org/x/crypto/bcrypt"
)

// UserRow is a registered player's identity as the connection layer's
// AUTH {token} handshake needs it. Issuing tokens (register/login) is out
// of scope; this repo only validates ones already
// issued, the same bcrypt-compare shape the reference server used for
// account passwords.
type UserRow struct {
	UserID     string
	Username   string
	CreatedAt  time.Time
	LastActive *time.Time
}

type UserRepo struct {
	db *DB
}

func NewUserRepo(db *DB) *UserRepo {
	return &UserRepo{db: db}
}

func (r *UserRepo) FindByID(ctx context.Context, userID string) (*UserRow, error) {
	row := &UserRow{}
	err := r.db.Pool.QueryRow(ctx,
		`SELECT user_id, username, created_at, last_active FROM users WHERE user_id = $1`,
		userID,
	).Scan(&row.UserID, &row.Username, &row.CreatedAt, &row.LastActive)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	return row, nil
}

// ValidateToken checks token against userID's stored hash. A missing user
// or a bcrypt mismatch both report false with no error, matching the
// connection layer's uniform AUTH_FAIL on any bad credential.
func (r *UserRepo) ValidateToken(ctx context.Context, userID, token string) (bool, error) {
	var hash string
	err := r.db.Pool.QueryRow(ctx,
		`SELECT token_hash FROM users WHERE user_id = $1`, userID,
	).Scan(&hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load token hash: %w", err)
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(token)) == nil, nil
}

// ResolveToken implements the conn.AuthFunc contract: an AUTH frame only
// carries a bare token, not a userId, so the wire format is
// "<userId>:<secret>" and this just splits it before delegating to
// ValidateToken. A malformed token (no separator) is reported as a plain
// AUTH_FAIL rather than an error.
func (r *UserRepo) ResolveToken(ctx context.Context, token string) (string, bool, error) {
	userID, secret, ok := strings.Cut(token, ":")
	if !ok || userID == "" || secret == "" {
		return "", false, nil
	}
	valid, err := r.ValidateToken(ctx, userID, secret)
	if err != nil || !valid {
		return "", false, err
	}
	return userID, true, nil
}

func (r *UserRepo) Touch(ctx context.Context, userID string) error {
	_, err := r.db.Pool.Exec(ctx,
		`UPDATE users SET last_active = NOW() WHERE user_id = $1`, userID,
	)
	if err != nil {
		return fmt.Errorf("touch user: %w", err)
	}
	return nil
}
