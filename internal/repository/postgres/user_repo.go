package postgres

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/vedran77/mailbox/internal/domain"
)

type UserRepo struct {
	db DB
}

func NewUserRepo(db DB) *UserRepo {
	return &UserRepo{db: db}
}

func (r *UserRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	query := `
		SELECT id, username, display_name, COALESCE(avatar_url, ''), created_at
		FROM users
		WHERE id = $1`

	var (
		u      domain.User
		avatar string
	)
	err := r.db.QueryRow(ctx, query, id).Scan(
		&u.ID, &u.Username, &u.DisplayName, &avatar, &u.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if avatar != "" {
		u.AvatarURL = &avatar
	}
	return &u, nil
}
