package repo

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/ovaphlow/pitchfork/service-secrets/internal/user/entity"
	"github.com/ovaphlow/pitchfork/service-secrets/pkg/utilities"
)

const userColumns = `id, username, password_hash, oauth_id, secret, created_at, updated_at`

// UserRepo provides data access for the users table using sqlx. The schema
// is created by the goose migrations in pkg/database.
type UserRepo struct {
	db *sqlx.DB
}

func NewUserRepo(db *sqlx.DB) *UserRepo { return &UserRepo{db: db} }

// Create inserts a new user row and fills in ID and timestamps.
func (r *UserRepo) Create(ctx context.Context, u *entity.User) error {
	if u.ID == "" {
		u.ID = utilities.NewSnowflakeID()
	}
	q := `INSERT INTO users (id, username, password_hash, oauth_id, secret)
		  VALUES (:id, :username, :password_hash, :oauth_id, :secret) RETURNING created_at, updated_at`
	rows, err := r.db.NamedQueryContext(ctx, q, u)
	if err != nil {
		return translate(err)
	}
	defer rows.Close()
	if rows.Next() {
		return rows.Scan(&u.CreatedAt, &u.UpdatedAt)
	}
	if err := rows.Err(); err != nil {
		return translate(err)
	}
	return errors.New("no row returned")
}

// GetByID fetches a user by primary key.
func (r *UserRepo) GetByID(ctx context.Context, id string) (*entity.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE id=$1`, id)
}

// GetByUsername fetches a locally registered user.
func (r *UserRepo) GetByUsername(ctx context.Context, username string) (*entity.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE username=$1`, username)
}

// FindOrCreateByOAuthID returns the user linked to oauthID, inserting one if
// none exists. The unique index on oauth_id makes concurrent callbacks for
// the same identity converge on a single row.
func (r *UserRepo) FindOrCreateByOAuthID(ctx context.Context, oauthID string) (*entity.User, bool, error) {
	const ins = `INSERT INTO users (id, oauth_id) VALUES ($1, $2)
		ON CONFLICT (oauth_id) DO NOTHING RETURNING ` + userColumns
	var u entity.User
	err := r.db.GetContext(ctx, &u, ins, utilities.NewSnowflakeID(), oauthID)
	if err == nil {
		return &u, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, translate(err)
	}
	existing, err := r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE oauth_id=$1`, oauthID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// UpdateSecret overwrites the secret column.
func (r *UserRepo) UpdateSecret(ctx context.Context, id, secret string) error {
	const q = `UPDATE users SET secret=$2, updated_at=NOW() WHERE id=$1`
	res, err := r.db.ExecContext(ctx, q, id, secret)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *UserRepo) getOne(ctx context.Context, q string, arg any) (*entity.User, error) {
	var u entity.User
	if err := r.db.GetContext(ctx, &u, q, arg); err != nil {
		return nil, translate(err)
	}
	return &u, nil
}

// translate maps driver errors onto the package sentinels.
func translate(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return ErrDuplicate
	}
	return err
}
