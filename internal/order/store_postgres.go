package order

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	id "storefront/pkg/domain"
	"storefront/pkg/platform/sentinel"
	txcontext "storefront/pkg/platform/tx"
)

// Schema creates the orders table.
const Schema = `
CREATE TABLE IF NOT EXISTS orders (
	id         UUID PRIMARY KEY,
	session_id UUID          NOT NULL,
	lines      JSONB         NOT NULL,
	total      NUMERIC(12,2) NOT NULL,
	age_gated  BOOLEAN       NOT NULL,
	placed_at  TIMESTAMPTZ   NOT NULL
);
CREATE INDEX IF NOT EXISTS orders_session_idx ON orders (session_id, placed_at);
`

const uniqueViolation = "23505"

// PostgresStore persists orders in Postgres.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Save(ctx context.Context, o *Order) error {
	lines, err := json.Marshal(o.Lines)
	if err != nil {
		return fmt.Errorf("encode order lines: %w", err)
	}
	query := `
		INSERT INTO orders (id, session_id, lines, total, age_gated, placed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err = txcontext.Execer(ctx, s.db).ExecContext(ctx, query,
		uuid.UUID(o.ID),
		uuid.UUID(o.SessionID),
		lines,
		o.Total.StringFixed(2),
		o.AgeGated,
		o.PlacedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, orderID id.OrderID) (*Order, error) {
	query := `
		SELECT id, session_id, lines, total, age_gated, placed_at
		FROM orders WHERE id = $1
	`
	row := txcontext.Execer(ctx, s.db).QueryRowContext(ctx, query, uuid.UUID(orderID))
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	return o, err
}

func (s *PostgresStore) ListBySession(ctx context.Context, sessionID id.SessionID) ([]*Order, error) {
	query := `
		SELECT id, session_id, lines, total, age_gated, placed_at
		FROM orders WHERE session_id = $1
		ORDER BY placed_at ASC
	`
	rows, err := txcontext.Execer(ctx, s.db).QueryContext(ctx, query, uuid.UUID(sessionID))
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	var out []*Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate orders: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOrder(row scanner) (*Order, error) {
	var (
		orderID, sessionID uuid.UUID
		lines              []byte
		total              string
		ageGated           bool
		placedAt           time.Time
	)
	if err := row.Scan(&orderID, &sessionID, &lines, &total, &ageGated, &placedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan order: %w", err)
	}
	o := &Order{
		ID:        id.OrderID(orderID),
		SessionID: id.SessionID(sessionID),
		AgeGated:  ageGated,
		PlacedAt:  placedAt,
	}
	if err := json.Unmarshal(lines, &o.Lines); err != nil {
		return nil, fmt.Errorf("decode order lines: %w", err)
	}
	amount, err := decimal.NewFromString(total)
	if err != nil {
		return nil, fmt.Errorf("decode order total: %w", err)
	}
	o.Total = amount
	return o, nil
}
