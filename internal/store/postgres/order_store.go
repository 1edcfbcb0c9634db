package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/dexrouter/internal/domain"
)

// OrderStore implements domain.OrderStore using PostgreSQL.
type OrderStore struct {
	pool *pgxpool.Pool
}

// NewOrderStore creates a new OrderStore backed by the given connection pool.
func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

// UpsertIfAbsent inserts the terminal record for an order. The unique
// constraint on order_id makes the check and the insert a single atomic
// statement, so concurrent or replayed writes for the same id leave exactly
// one row and never modify it.
func (s *OrderStore) UpsertIfAbsent(ctx context.Context, o domain.PersistedOrder) (domain.UpsertResult, error) {
	const query = `
		INSERT INTO orders (
			order_id, status, tx_hash, reason, execution_price,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5::numeric,
			NOW(), NOW()
		)
		ON CONFLICT (order_id) DO NOTHING`

	tag, err := s.pool.Exec(ctx, query,
		o.OrderID, string(o.Status), o.TxHash, o.Reason, priceParam(o.ExecutionPrice),
	)
	if err != nil {
		return 0, fmt.Errorf("postgres: upsert order %s: %w", o.OrderID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.UpsertAlreadyPresent, nil
	}
	return domain.UpsertInserted, nil
}

// orderSelectCols lists the columns selected when reading orders. The price
// is read as text so it round-trips into decimal.Decimal without loss.
const orderSelectCols = `order_id, status, tx_hash, reason,
	execution_price::text, created_at, updated_at`

func scanOrderFromRow(
	scanner interface{ Scan(dest ...any) error },
) (domain.PersistedOrder, error) {
	var o domain.PersistedOrder
	var status string
	var price *string

	err := scanner.Scan(
		&o.OrderID, &status, &o.TxHash, &o.Reason,
		&price, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return domain.PersistedOrder{}, err
	}

	o.Status = domain.OrderStatus(status)
	if price != nil {
		d, err := decimal.NewFromString(*price)
		if err != nil {
			return domain.PersistedOrder{}, fmt.Errorf("parse execution_price %q: %w", *price, err)
		}
		o.ExecutionPrice = &d
	}
	return o, nil
}

// GetByID retrieves the terminal record for an order.
func (s *OrderStore) GetByID(ctx context.Context, orderID string) (domain.PersistedOrder, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+orderSelectCols+` FROM orders WHERE order_id = $1`, orderID)

	o, err := scanOrderFromRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.PersistedOrder{}, domain.ErrNotFound
		}
		return domain.PersistedOrder{}, fmt.Errorf("postgres: get order %s: %w", orderID, err)
	}
	return o, nil
}

// ListBefore returns up to limit records created strictly before the cutoff,
// oldest first. A non-positive limit means no limit.
func (s *OrderStore) ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.PersistedOrder, error) {
	query := `SELECT ` + orderSelectCols + ` FROM orders
		WHERE created_at < $1
		ORDER BY created_at ASC`
	args := []any{before}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list orders before %s: %w", before.Format(time.RFC3339), err)
	}
	defer rows.Close()

	var orders []domain.PersistedOrder
	for rows.Next() {
		o, err := scanOrderFromRow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan orders: %w", err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: scan orders: %w", err)
	}
	return orders, nil
}

// priceParam renders an optional decimal as text for a ::numeric cast.
func priceParam(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	v := d.String()
	return &v
}

// Compile-time interface check.
var _ domain.OrderStore = (*OrderStore)(nil)
