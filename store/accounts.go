package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"gamestore-svc/models"

	"github.com/lib/pq"
)

// AccountStore covers the account reads and library writes fulfillment
// needs.
type AccountStore struct {
	db *sql.DB
}

func NewAccountStore(db *sql.DB) *AccountStore {
	return &AccountStore{db: db}
}

func (s *AccountStore) FindByID(ctx context.Context, id int) (*models.User, error) {
	var u models.User
	err := s.db.QueryRowContext(ctx,
		`SELECT id, username, email, avatar, role, is_active, created_at, updated_at
		 FROM users WHERE id = $1`,
		id,
	).Scan(&u.ID, &u.Username, &u.Email, &u.Avatar, &u.Role, &u.IsActive, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// OwnedGameIDs returns which of the given game ids are already in the
// user's library.
func (s *AccountStore) OwnedGameIDs(ctx context.Context, userID int, gameIDs []int) ([]int, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT game_id FROM library WHERE user_id = $1 AND game_id = ANY($2)",
		userID, pq.Array(gameIDs),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to check ownership: %w", err)
	}
	defer rows.Close()

	var owned []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		owned = append(owned, id)
	}
	return owned, rows.Err()
}

// AppendLibraryEntry grants ownership of one game. The insert is keyed on
// (user_id, game_id) with ON CONFLICT DO NOTHING, so a duplicate grant
// from a racing purchase leaves exactly one entry.
func (s *AccountStore) AppendLibraryEntry(ctx context.Context, userID, gameID int, purchaseDate time.Time, pricePaid float64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO library (user_id, game_id, purchase_date, price_paid)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (user_id, game_id) DO NOTHING`,
		userID, gameID, purchaseDate, pricePaid,
	)
	if err != nil {
		return fmt.Errorf("failed to append library entry for game %d: %w", gameID, err)
	}
	return nil
}

// Library lists the user's owned games with catalog display fields joined
// in.
func (s *AccountStore) Library(ctx context.Context, userID int) ([]models.LibraryEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT l.game_id, g.title, g.capsule_image, l.purchase_date, l.price_paid
		 FROM library l JOIN games g ON g.id = l.game_id
		 WHERE l.user_id = $1
		 ORDER BY l.purchase_date DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list library: %w", err)
	}
	defer rows.Close()

	var entries []models.LibraryEntry
	for rows.Next() {
		var e models.LibraryEntry
		if err := rows.Scan(&e.GameID, &e.Title, &e.CapsuleImage, &e.PurchaseDate, &e.PricePaid); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
