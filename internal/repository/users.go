package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/oakmart/storefront/internal/domain"
)

func (s *Store) GetUser(ctx context.Context, q Querier, id int64) (*domain.User, error) {
	var u domain.User
	err := q.QueryRow(ctx, `
		SELECT id, email, name, created_at
		FROM users
		WHERE id = $1`, id).Scan(&u.ID, &u.Email, &u.Name, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

// GetAddress resolves an address scoped to its owner, so one buyer cannot
// ship against another buyer's address id.
func (s *Store) GetAddress(ctx context.Context, q Querier, id, userID int64) (*domain.Address, error) {
	var a domain.Address
	err := q.QueryRow(ctx, `
		SELECT id, user_id, line1, city, country
		FROM addresses
		WHERE id = $1 AND user_id = $2`, id, userID).Scan(&a.ID, &a.UserID, &a.Line1, &a.City, &a.Country)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrAddressNotFound
		}
		return nil, fmt.Errorf("get address: %w", err)
	}
	return &a, nil
}
