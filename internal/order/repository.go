package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists orders as serialized documents keyed by order id.
// The status column mirrors the document's status field so the terminal
// transition can be a guarded compare-and-set.
type Repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Insert(ctx context.Context, o *Order) error {
	doc, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("failed to marshal order %s: %w", o.ID, err)
	}
	_, err = r.db.Exec(ctx,
		`INSERT INTO orders (id, status, doc, created_at) VALUES ($1, $2, $3, $4)`,
		o.ID, string(o.Status), doc, o.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert order %s: %w", o.ID, err)
	}
	return nil
}

func (r *Repository) GetByID(ctx context.Context, id string) (*Order, error) {
	var doc []byte
	err := r.db.QueryRow(ctx, `SELECT doc FROM orders WHERE id = $1`, id).Scan(&doc)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get order %s: %w", id, err)
	}
	var o Order
	if err := json.Unmarshal(doc, &o); err != nil {
		return nil, fmt.Errorf("failed to unmarshal order %s: %w", id, err)
	}
	return &o, nil
}

// SetTerminalTx writes the order's terminal state inside the caller's
// transaction, guarded on the row still being pending. It reports false
// when another worker already applied a terminal transition; the caller
// must then discard its own work.
func (r *Repository) SetTerminalTx(ctx context.Context, tx pgx.Tx, o *Order) (bool, error) {
	if !o.Status.Terminal() {
		return false, fmt.Errorf("order %s: %q is not a terminal status", o.ID, o.Status)
	}
	doc, err := json.Marshal(o)
	if err != nil {
		return false, fmt.Errorf("failed to marshal order %s: %w", o.ID, err)
	}
	tag, err := tx.Exec(ctx,
		`UPDATE orders SET status = $1, doc = $2 WHERE id = $3 AND status = $4`,
		string(o.Status), doc, o.ID, string(StatusPending),
	)
	if err != nil {
		return false, fmt.Errorf("failed to update order %s: %w", o.ID, err)
	}
	return tag.RowsAffected() == 1, nil
}
