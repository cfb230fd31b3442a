package postgres

import (
	"context"
	"database/sql"
	"errors"

	domain "github.com/restaurant-ordering/api/internal/domain"
	ppostgres "github.com/restaurant-ordering/api/internal/platform/postgres"
	"github.com/restaurant-ordering/api/internal/repositories"
)

const userColumns = `id, email, display_name, is_active, created_at, updated_at`

// UserRepository persists order owner profiles in PostgreSQL.
type UserRepository struct {
	db *sql.DB
}

var _ repositories.UserRepository = (*UserRepository)(nil)

// NewUserRepository constructs a PostgreSQL-backed user repository.
func NewUserRepository(db *sql.DB) (*UserRepository, error) {
	if db == nil {
		return nil, errors.New("user repository requires database")
	}
	return &UserRepository{db: db}, nil
}

func (r *UserRepository) FindByID(ctx context.Context, userID string) (domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	user, err := scanUser(ppostgres.Conn(ctx, r.db).QueryRowContext(ctx, query, userID))
	if err != nil {
		return domain.User{}, ppostgres.WrapError("users.find", err)
	}
	return user, nil
}

// Upsert inserts the profile or refreshes its email and display name. Blank values never
// overwrite stored ones and is_active keeps its stored value.
func (r *UserRepository) Upsert(ctx context.Context, user domain.User) error {
	query := `INSERT INTO users (id, email, display_name, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $4)
	          ON CONFLICT (id) DO UPDATE SET
	              email = COALESCE(NULLIF(EXCLUDED.email, ''), users.email),
	              display_name = COALESCE(NULLIF(EXCLUDED.display_name, ''), users.display_name),
	              updated_at = EXCLUDED.updated_at`
	_, err := ppostgres.Conn(ctx, r.db).ExecContext(ctx, query,
		user.ID,
		user.Email,
		user.DisplayName,
		user.UpdatedAt.UTC(),
	)
	return ppostgres.WrapError("users.upsert", err)
}

func (r *UserRepository) Update(ctx context.Context, user domain.User) error {
	query := `UPDATE users SET email = $2, display_name = $3, is_active = $4, updated_at = $5 WHERE id = $1`
	result, err := ppostgres.Conn(ctx, r.db).ExecContext(ctx, query,
		user.ID,
		user.Email,
		user.DisplayName,
		user.IsActive,
		user.UpdatedAt.UTC(),
	)
	if err != nil {
		return ppostgres.WrapError("users.update", err)
	}
	return requireAffected("users.update", result)
}

func (r *UserRepository) List(ctx context.Context, filter repositories.UserListFilter) (domain.OffsetPage[domain.User], error) {
	pager := filter.Pagination.Normalize()
	where := ""
	if filter.ActiveOnly {
		where = " WHERE is_active = TRUE"
	}

	conn := ppostgres.Conn(ctx, r.db)
	var total int
	if err := conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`+where).Scan(&total); err != nil {
		return domain.OffsetPage[domain.User]{}, ppostgres.WrapError("users.count", err)
	}

	rows, err := conn.QueryContext(ctx, `SELECT `+userColumns+` FROM users`+where+` ORDER BY id ASC LIMIT $1 OFFSET $2`,
		pager.Limit, pager.Offset)
	if err != nil {
		return domain.OffsetPage[domain.User]{}, ppostgres.WrapError("users.list", err)
	}
	defer rows.Close()

	var users []domain.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return domain.OffsetPage[domain.User]{}, ppostgres.WrapError("users.list", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return domain.OffsetPage[domain.User]{}, ppostgres.WrapError("users.list", err)
	}
	return domain.OffsetPage[domain.User]{
		Items:  users,
		Total:  total,
		Limit:  pager.Limit,
		Offset: pager.Offset,
	}, nil
}

func scanUser(row scanner) (domain.User, error) {
	var user domain.User
	if err := row.Scan(
		&user.ID,
		&user.Email,
		&user.DisplayName,
		&user.IsActive,
		&user.CreatedAt,
		&user.UpdatedAt,
	); err != nil {
		return domain.User{}, err
	}
	user.CreatedAt = user.CreatedAt.UTC()
	user.UpdatedAt = user.UpdatedAt.UTC()
	return user, nil
}
