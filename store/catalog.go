package store

import (
	"context"
	"database/sql"
	"fmt"

	"gamestore-svc/models"

	"github.com/lib/pq"
)

// CatalogStore reads game records for fulfillment and applies the sales
// counter side effect.
type CatalogStore struct {
	db *sql.DB
}

func NewCatalogStore(db *sql.DB) *CatalogStore {
	return &CatalogStore{db: db}
}

// FindActiveByIDs resolves all ids in one batch read. Inactive or missing
// games are simply absent from the result; the caller compares counts.
func (s *CatalogStore) FindActiveByIDs(ctx context.Context, ids []int) ([]models.Game, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, price, original_price, discount, is_active
		 FROM games WHERE id = ANY($1) AND is_active = TRUE`,
		pq.Array(ids),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve games: %w", err)
	}
	defer rows.Close()

	var games []models.Game
	for rows.Next() {
		var g models.Game
		if err := rows.Scan(&g.ID, &g.Title, &g.Price, &g.OriginalPrice, &g.Discount, &g.IsActive); err != nil {
			return nil, fmt.Errorf("failed to scan game: %w", err)
		}
		games = append(games, g)
	}
	return games, rows.Err()
}

// IncrementSales bumps the cumulative sales counter with a single atomic
// UPDATE, not a read-modify-write, so concurrent completions stay correct.
func (s *CatalogStore) IncrementSales(ctx context.Context, gameID, amount int) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE games SET total_sales = total_sales + $1, updated_at = NOW() WHERE id = $2",
		amount, gameID,
	)
	if err != nil {
		return fmt.Errorf("failed to increment sales for game %d: %w", gameID, err)
	}
	return nil
}
