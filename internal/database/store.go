package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/shopspring/decimal"

	"orderq/internal/order"
)

var ErrDuplicateProduct = errors.New("product already exists")

// Store implements order.Store on PostgreSQL. Row locks come from
// SELECT ... FOR UPDATE; the pool's lock_timeout bounds the wait.
type Store struct {
	pool *pgxpool.Pool
}

var _ order.Store = (*Store)(nil)

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) Begin(ctx context.Context) (order.Tx, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, classify(err)
	}
	return &pgTx{tx: tx}, nil
}

func (s *Store) UpdateOrderStatus(ctx context.Context, orderID int64, status order.Status) error {
	return updateOrderStatus(ctx, s.pool, orderID, status)
}

func (s *Store) Order(ctx context.Context, orderID int64) (order.Order, []order.OrderItem, error) {
	o, err := scanOrder(s.pool.QueryRow(ctx, selectOrder+` WHERE order_id = $1`, orderID))
	if errors.Is(err, pgx.ErrNoRows) {
		return order.Order{}, nil, fmt.Errorf("order %d: %w", orderID, order.ErrOrderNotFound)
	}
	if err != nil {
		return order.Order{}, nil, fmt.Errorf("failed to load order %d: %w", orderID, err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT order_id, product_id, quantity, price::text
		 FROM order_items WHERE order_id = $1 ORDER BY order_item_id`,
		orderID,
	)
	if err != nil {
		return order.Order{}, nil, fmt.Errorf("failed to load items for order %d: %w", orderID, classify(err))
	}
	defer rows.Close()

	var items []order.OrderItem
	for rows.Next() {
		var (
			it    order.OrderItem
			price string
		)
		if err := rows.Scan(&it.OrderID, &it.ProductID, &it.Quantity, &price); err != nil {
			return order.Order{}, nil, err
		}
		if it.Price, err = decimal.NewFromString(price); err != nil {
			return order.Order{}, nil, fmt.Errorf("order %d: bad item price %q: %w", orderID, price, err)
		}
		items = append(items, it)
	}
	return o, items, rows.Err()
}

// OrderByKey finds the order placed under a request key, if any.
func (s *Store) OrderByKey(ctx context.Context, key string) (order.Order, bool, error) {
	if key == "" {
		return order.Order{}, false, nil
	}
	o, err := scanOrder(s.pool.QueryRow(ctx, selectOrder+` WHERE request_key = $1`, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return order.Order{}, false, nil
	}
	if err != nil {
		return order.Order{}, false, err
	}
	return o, true, nil
}

const selectOrder = `SELECT order_id, customer_id, COALESCE(request_key, ''), total_amount::text, status, created_at, updated_at FROM orders`

func scanOrder(row pgx.Row) (order.Order, error) {
	var (
		o     order.Order
		total string
	)
	err := row.Scan(&o.ID, &o.CustomerID, &o.RequestKey, &total, &o.Status, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return order.Order{}, err
	}
	if err != nil {
		return order.Order{}, classify(err)
	}
	if o.TotalAmount, err = decimal.NewFromString(total); err != nil {
		return order.Order{}, fmt.Errorf("order %d: bad total %q: %w", o.ID, total, err)
	}
	return o, nil
}

func (s *Store) Product(ctx context.Context, productID int64) (order.Product, error) {
	return scanProduct(s.pool.QueryRow(ctx,
		`SELECT product_id, name, price::text, stock FROM products WHERE product_id = $1`,
		productID,
	), productID)
}

func (s *Store) CreateProduct(ctx context.Context, p order.Product) (order.Product, error) {
	var err error
	if p.ID > 0 {
		_, err = s.pool.Exec(ctx,
			`INSERT INTO products (product_id, name, price, stock) VALUES ($1, $2, $3::numeric, $4)`,
			p.ID, p.Name, p.UnitPrice.String(), p.Stock,
		)
		if err == nil {
			// keep the serial ahead of hand-picked ids
			_, err = s.pool.Exec(ctx,
				`SELECT setval(pg_get_serial_sequence('products', 'product_id'),
				        GREATEST((SELECT max(product_id) FROM products), 1))`)
		}
	} else {
		err = s.pool.QueryRow(ctx,
			`INSERT INTO products (name, price, stock) VALUES ($1, $2::numeric, $3) RETURNING product_id`,
			p.Name, p.UnitPrice.String(), p.Stock,
		).Scan(&p.ID)
	}
	if isUniqueViolation(err) {
		return order.Product{}, fmt.Errorf("product %d: %w", p.ID, ErrDuplicateProduct)
	}
	if err != nil {
		return order.Product{}, fmt.Errorf("failed to insert product: %w", err)
	}
	return p, nil
}

// KV reads one row of the kvstore table served by /postgres.
func (s *Store) KV(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.pool.QueryRow(ctx, `SELECT value FROM kvstore WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) LockProduct(ctx context.Context, productID int64) (order.Product, error) {
	return scanProduct(t.tx.QueryRow(ctx,
		`SELECT product_id, name, price::text, stock FROM products WHERE product_id = $1 FOR UPDATE`,
		productID,
	), productID)
}

func (t *pgTx) CreateOrder(ctx context.Context, customerID, requestKey string, total decimal.Decimal) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx,
		`INSERT INTO orders (customer_id, request_key, total_amount, status)
		 VALUES ($1, NULLIF($2, ''), $3::numeric, $4) RETURNING order_id`,
		customerID, requestKey, total.String(), string(order.StatusPending),
	).Scan(&id)
	if isUniqueViolation(err) {
		// a concurrent or earlier attempt won; the retry reads it back by key
		return 0, order.Transient(fmt.Errorf("request key %s already used: %w", requestKey, err))
	}
	if err != nil {
		return 0, classify(err)
	}
	return id, nil
}

func (t *pgTx) AddOrderItem(ctx context.Context, item order.OrderItem) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO order_items (order_id, product_id, quantity, price) VALUES ($1, $2, $3, $4::numeric)`,
		item.OrderID, item.ProductID, item.Quantity, item.Price.String(),
	)
	return classify(err)
}

func (t *pgTx) DecrementStock(ctx context.Context, productID, quantity int64) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE products SET stock = stock - $2, updated_at = now() WHERE product_id = $1 AND stock >= $2`,
		productID, quantity,
	)
	if err != nil {
		return classify(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("product %d: %w", productID, order.ErrOutOfStock)
	}
	return nil
}

func (t *pgTx) UpdateOrderStatus(ctx context.Context, orderID int64, status order.Status) error {
	return updateOrderStatus(ctx, t.tx, orderID, status)
}

func (t *pgTx) Commit(ctx context.Context) error {
	return classify(t.tx.Commit(ctx))
}

func (t *pgTx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return err
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

func updateOrderStatus(ctx context.Context, db execer, orderID int64, status order.Status) error {
	if !status.Valid() {
		return fmt.Errorf("unknown order status %q", status)
	}
	tag, err := db.Exec(ctx,
		`UPDATE orders SET status = $2, updated_at = now() WHERE order_id = $1`,
		orderID, string(status),
	)
	if err != nil {
		return classify(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("order %d: %w", orderID, order.ErrOrderNotFound)
	}
	return nil
}

func scanProduct(row pgx.Row, productID int64) (order.Product, error) {
	var (
		p     order.Product
		price string
	)
	err := row.Scan(&p.ID, &p.Name, &price, &p.Stock)
	if errors.Is(err, pgx.ErrNoRows) {
		return order.Product{}, fmt.Errorf("product %d: %w", productID, order.ErrProductNotFound)
	}
	if err != nil {
		return order.Product{}, classify(err)
	}
	if p.UnitPrice, err = decimal.NewFromString(price); err != nil {
		return order.Product{}, fmt.Errorf("product %d: bad price %q: %w", productID, price, err)
	}
	return p, nil
}
