package ticket

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Create(ctx context.Context, t *TicketType) error {
	query := `INSERT INTO ticket_types (id, name, category, description, price, currency, stock)
	          VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := r.db.Exec(ctx, query, t.ID, t.Name, t.Category, t.Description, t.UnitPrice, t.Currency, t.Stock)
	if err != nil {
		return fmt.Errorf("failed to insert ticket type %s: %w", t.ID, err)
	}
	return nil
}

func (r *Repository) GetByID(ctx context.Context, id string) (*TicketType, error) {
	var t TicketType
	query := `SELECT id, name, category, description, price, currency, stock FROM ticket_types WHERE id = $1`
	err := r.db.QueryRow(ctx, query, id).Scan(&t.ID, &t.Name, &t.Category, &t.Description, &t.UnitPrice, &t.Currency, &t.Stock)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get ticket type %s: %w", id, err)
	}
	return &t, nil
}

// List returns the ticket types matching the filter, ordered by id.
func (r *Repository) List(ctx context.Context, f Filter) ([]TicketType, error) {
	query, args := buildListQuery(f)
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list ticket types: %w", err)
	}
	defer rows.Close()

	var tickets []TicketType
	for rows.Next() {
		var t TicketType
		if err := rows.Scan(&t.ID, &t.Name, &t.Category, &t.Description, &t.UnitPrice, &t.Currency, &t.Stock); err != nil {
			return nil, fmt.Errorf("failed to scan ticket type: %w", err)
		}
		tickets = append(tickets, t)
	}
	return tickets, rows.Err()
}

func buildListQuery(f Filter) (string, []any) {
	var sb strings.Builder
	sb.WriteString(`SELECT id, name, category, description, price, currency, stock FROM ticket_types`)

	var conds []string
	var args []any
	if f.Category != "" {
		args = append(args, f.Category)
		conds = append(conds, fmt.Sprintf("category = $%d", len(args)))
	}
	if f.MinPrice != nil {
		args = append(args, *f.MinPrice)
		conds = append(conds, fmt.Sprintf("price >= $%d", len(args)))
	}
	if f.MaxPrice != nil {
		args = append(args, *f.MaxPrice)
		conds = append(conds, fmt.Sprintf("price <= $%d", len(args)))
	}
	if len(conds) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(conds, " AND "))
	}
	sb.WriteString(" ORDER BY id")
	return sb.String(), args
}

// Restock adds quantity to a ticket type's stock counter.
func (r *Repository) Restock(ctx context.Context, id string, quantity int32) error {
	tag, err := r.db.Exec(ctx, `UPDATE ticket_types SET stock = stock + $1 WHERE id = $2`, quantity, id)
	if err != nil {
		return fmt.Errorf("failed to restock ticket type %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ReserveInTx claims stock for every reservation inside the caller's
// transaction, all-or-nothing.
//
// Reservations are first merged per ticket type id: an order listing
// the same ticket type on several lines is checked against their sum,
// since each line alone could pass the check while their total
// oversells the stock. Phase 1 then locks each ticket
// row (FOR UPDATE) and checks availability without mutating anything,
// so a failed check leaves the transaction clean and the caller can
// still commit unrelated writes. Phase 2 runs the decrements only after
// every check passed. Rows are locked in ticket-id order so two
// multi-item orders cannot deadlock each other.
func (r *Repository) ReserveInTx(ctx context.Context, tx pgx.Tx, reservations []Reservation) error {
	merged := mergeReservations(reservations)

	for _, res := range merged {
		var available int32
		err := tx.QueryRow(ctx, `SELECT stock FROM ticket_types WHERE id = $1 FOR UPDATE`, res.TicketTypeID).Scan(&available)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return &StockError{TicketTypeID: res.TicketTypeID, Requested: res.Quantity, Missing: true}
			}
			return fmt.Errorf("failed to lock stock for ticket type %s: %w", res.TicketTypeID, err)
		}
		if available < res.Quantity {
			return &StockError{TicketTypeID: res.TicketTypeID, Requested: res.Quantity, Available: available}
		}
	}

	for _, res := range merged {
		_, err := tx.Exec(ctx, `UPDATE ticket_types SET stock = stock - $1 WHERE id = $2`, res.Quantity, res.TicketTypeID)
		if err != nil {
			return fmt.Errorf("failed to decrement stock for ticket type %s: %w", res.TicketTypeID, err)
		}
	}
	return nil
}

// mergeReservations sums quantities per ticket type id and returns the
// result sorted by id.
func mergeReservations(reservations []Reservation) []Reservation {
	byID := make(map[string]int32, len(reservations))
	for _, res := range reservations {
		byID[res.TicketTypeID] += res.Quantity
	}

	merged := make([]Reservation, 0, len(byID))
	for id, qty := range byID {
		merged = append(merged, Reservation{TicketTypeID: id, Quantity: qty})
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].TicketTypeID < merged[j].TicketTypeID })
	return merged
}
