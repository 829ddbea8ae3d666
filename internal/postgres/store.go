package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/livecanasta/live-baskets/internal/live"
	"github.com/shopspring/decimal"
)

// Store implements live.Store on the dashboard's Postgres schema.
type Store struct{ DB *pgxpool.Pool }

var _ live.Store = (*Store)(nil)

const productCols = `product_id, nombre, categoria, precio_unitario, costo_unitario, cantidad_en_stock, activo, created_at, updated_at`

func scanProduct(row pgx.Row) (live.Product, error) {
	var p live.Product
	err := row.Scan(&p.ID, &p.Name, &p.Category, &p.UnitPrice, &p.UnitCost, &p.Stock, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	return p, notFound(err)
}

// notFound maps pgx.ErrNoRows to live.ErrNotFound.
func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return live.ErrNotFound
	}
	return err
}

const stockCheck = "products_stock_nonnegative"

// constraint maps unique violations and the stock check to the live sentinels.
func constraint(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "23505":
		return fmt.Errorf("%s: %w", pgErr.ConstraintName, live.ErrConflict)
	case "23514":
		if pgErr.ConstraintName == stockCheck {
			return fmt.Errorf("%s: %w", pgErr.ConstraintName, live.ErrNegativeStock)
		}
	}
	return err
}

func affected(tag pgconn.CommandTag, err error) error {
	if err != nil {
		return constraint(err)
	}
	if tag.RowsAffected() == 0 {
		return live.ErrNotFound
	}
	return nil
}

// ---- products ----

func (s *Store) ListProducts(ctx context.Context, activeOnly bool) ([]live.Product, error) {
	rows, err := s.DB.Query(ctx, `SELECT `+productCols+` FROM products WHERE ($1 = false OR activo) ORDER BY nombre`, activeOnly)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []live.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) GetProduct(ctx context.Context, productID string) (live.Product, error) {
	return scanProduct(s.DB.QueryRow(ctx, `SELECT `+productCols+` FROM products WHERE product_id=$1`, productID))
}

func (s *Store) CreateProduct(ctx context.Context, p live.Product) (live.Product, error) {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO products(product_id, nombre, categoria, precio_unitario, costo_unitario, cantidad_en_stock, activo, created_at, updated_at)
		VALUES ($1, $2, $3, $4::numeric, $5::numeric, $6, $7, $8, $9)`,
		p.ID, p.Name, p.Category, p.UnitPrice, p.UnitCost, p.Stock, p.Active, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return live.Product{}, err
	}
	return p, nil
}

// AdjustStock is a single statement, so concurrent adjustments never lose an
// update. A decrement below zero trips the stock check constraint and
// returns live.ErrNegativeStock without changing the row.
func (s *Store) AdjustStock(ctx context.Context, productID string, delta int) error {
	return affected(s.DB.Exec(ctx, `
		UPDATE products
		SET cantidad_en_stock = cantidad_en_stock + $2, updated_at = now()
		WHERE product_id = $1`, productID, delta))
}

// ---- customers ----

func (s *Store) ListCustomers(ctx context.Context) ([]live.Customer, error) {
	rows, err := s.DB.Query(ctx, `SELECT cliente_id, nombre, telefono_whatsapp FROM clientes ORDER BY nombre`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []live.Customer
	for rows.Next() {
		var c live.Customer
		if err := rows.Scan(&c.ID, &c.Name, &c.Phone); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) GetCustomer(ctx context.Context, customerID string) (live.Customer, error) {
	var c live.Customer
	err := s.DB.QueryRow(ctx, `SELECT cliente_id, nombre, telefono_whatsapp FROM clientes WHERE cliente_id=$1`, customerID).
		Scan(&c.ID, &c.Name, &c.Phone)
	return c, notFound(err)
}

// ---- sessions ----

const sessionCols = `live_id, titulo, fecha_hora, estado, notas, created_at`

func scanSession(row pgx.Row) (live.Session, error) {
	var (
		sess  live.Session
		state string
	)
	err := row.Scan(&sess.ID, &sess.Title, &sess.ScheduledAt, &state, &sess.Notes, &sess.CreatedAt)
	sess.State = live.SessionState(state)
	return sess, notFound(err)
}

func (s *Store) GetSession(ctx context.Context, liveID string) (live.Session, error) {
	return scanSession(s.DB.QueryRow(ctx, `SELECT `+sessionCols+` FROM lives WHERE live_id=$1`, liveID))
}

func (s *Store) FindActiveSession(ctx context.Context) (live.Session, error) {
	return scanSession(s.DB.QueryRow(ctx, `
		SELECT `+sessionCols+` FROM lives
		WHERE estado = $1
		ORDER BY fecha_hora DESC
		LIMIT 1`, string(live.SessionActive)))
}

func (s *Store) UpdateSessionState(ctx context.Context, liveID string, state live.SessionState) error {
	return affected(s.DB.Exec(ctx, `UPDATE lives SET estado=$2 WHERE live_id=$1`, liveID, string(state)))
}

// ---- baskets ----

const basketCols = `basket_id, live_id, cliente_id, estado, subtotal, total, created_at, updated_at`

func scanBasket(row pgx.Row) (live.Basket, error) {
	var (
		b     live.Basket
		state string
	)
	err := row.Scan(&b.ID, &b.LiveID, &b.CustomerID, &state, &b.Subtotal, &b.Total, &b.CreatedAt, &b.UpdatedAt)
	b.State = live.BasketState(state)
	return b, notFound(err)
}

const itemCols = `basket_item_id, basket_id, product_id, cantidad, precio_unitario_snapshot, costo_unitario_snapshot, total_item, created_at`

func scanItem(row pgx.Row) (live.BasketItem, error) {
	var it live.BasketItem
	err := row.Scan(&it.ID, &it.BasketID, &it.ProductID, &it.Quantity, &it.UnitPrice, &it.UnitCost, &it.LineTotal, &it.CreatedAt)
	return it, notFound(err)
}

// itemsOf loads the items of every basket in ids, keyed by basket.
func (s *Store) itemsOf(ctx context.Context, ids []string) (map[string][]live.BasketItem, error) {
	out := make(map[string][]live.BasketItem, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := s.DB.Query(ctx, `
		SELECT `+itemCols+` FROM basket_items
		WHERE basket_id = ANY($1)
		ORDER BY created_at, basket_item_id`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out[it.BasketID] = append(out[it.BasketID], it)
	}
	return out, rows.Err()
}

func (s *Store) ListOpenBaskets(ctx context.Context, liveID string) ([]live.Basket, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT `+basketCols+` FROM baskets
		WHERE live_id=$1 AND estado=$2
		ORDER BY created_at, basket_id`, liveID, string(live.BasketOpen))
	if err != nil {
		return nil, err
	}
	var (
		out []live.Basket
		ids []string
	)
	for rows.Next() {
		b, err := scanBasket(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, b)
		ids = append(ids, b.ID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	items, err := s.itemsOf(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load basket items: %w", err)
	}
	for i := range out {
		out[i].Items = items[out[i].ID]
	}
	return out, nil
}

func (s *Store) withItems(ctx context.Context, b live.Basket, err error) (live.Basket, error) {
	if err != nil {
		return live.Basket{}, err
	}
	items, err := s.itemsOf(ctx, []string{b.ID})
	if err != nil {
		return live.Basket{}, fmt.Errorf("load basket items: %w", err)
	}
	b.Items = items[b.ID]
	return b, nil
}

func (s *Store) GetBasket(ctx context.Context, basketID string) (live.Basket, error) {
	b, err := scanBasket(s.DB.QueryRow(ctx, `SELECT `+basketCols+` FROM baskets WHERE basket_id=$1`, basketID))
	return s.withItems(ctx, b, err)
}

func (s *Store) FindOpenBasket(ctx context.Context, liveID, customerID string) (live.Basket, error) {
	b, err := scanBasket(s.DB.QueryRow(ctx, `
		SELECT `+basketCols+` FROM baskets
		WHERE live_id=$1 AND cliente_id=$2 AND estado=$3
		LIMIT 1`, liveID, customerID, string(live.BasketOpen)))
	return s.withItems(ctx, b, err)
}

func (s *Store) CreateBasket(ctx context.Context, b live.Basket) (live.Basket, error) {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO baskets(basket_id, live_id, cliente_id, estado, subtotal, total, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric, $7, $8)`,
		b.ID, b.LiveID, b.CustomerID, string(b.State), b.Subtotal, b.Total, b.CreatedAt, b.UpdatedAt)
	if err != nil {
		return live.Basket{}, constraint(err)
	}
	b.Items = nil
	return b, nil
}

func (s *Store) UpdateBasketTotals(ctx context.Context, basketID string, subtotal, total decimal.Decimal) error {
	return affected(s.DB.Exec(ctx, `
		UPDATE baskets SET subtotal=$2::numeric, total=$3::numeric, updated_at=now()
		WHERE basket_id=$1`, basketID, subtotal, total))
}

func (s *Store) UpdateBasketState(ctx context.Context, basketID string, state live.BasketState) error {
	return affected(s.DB.Exec(ctx, `UPDATE baskets SET estado=$2, updated_at=now() WHERE basket_id=$1`, basketID, string(state)))
}

func (s *Store) GetItem(ctx context.Context, itemID string) (live.BasketItem, error) {
	return scanItem(s.DB.QueryRow(ctx, `SELECT `+itemCols+` FROM basket_items WHERE basket_item_id=$1`, itemID))
}

func (s *Store) InsertItem(ctx context.Context, it live.BasketItem) (live.BasketItem, error) {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO basket_items(basket_item_id, basket_id, product_id, cantidad, precio_unitario_snapshot, costo_unitario_snapshot, total_item, created_at)
		VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric, $7::numeric, $8)`,
		it.ID, it.BasketID, it.ProductID, it.Quantity, it.UnitPrice, it.UnitCost, it.LineTotal, it.CreatedAt)
	if err != nil {
		return live.BasketItem{}, err
	}
	return it, nil
}

func (s *Store) UpdateItemQuantity(ctx context.Context, itemID string, qty int, lineTotal decimal.Decimal) error {
	return affected(s.DB.Exec(ctx, `
		UPDATE basket_items SET cantidad=$2, total_item=$3::numeric
		WHERE basket_item_id=$1`, itemID, qty, lineTotal))
}

func (s *Store) DeleteItem(ctx context.Context, itemID string) error {
	return affected(s.DB.Exec(ctx, `DELETE FROM basket_items WHERE basket_item_id=$1`, itemID))
}

// ---- orders ----

// CreateOrder is idempotent on pedido_id so a resumed finalization can replay it.
func (s *Store) CreateOrder(ctx context.Context, o live.Order) (live.Order, error) {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO pedidos(pedido_id, cliente_id, live_id, estado, subtotal, impuestos, total, empleado, notas, created_at)
		VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric, $7::numeric, $8, $9, $10)
		ON CONFLICT (pedido_id) DO NOTHING`,
		o.ID, o.CustomerID, o.LiveID, string(o.State), o.Subtotal, o.Tax, o.Total, o.Employee, o.Notes, o.CreatedAt)
	if err != nil {
		return live.Order{}, err
	}
	return o, nil
}

func (s *Store) InsertOrderItem(ctx context.Context, it live.OrderItem) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO pedido_items(pedido_item_id, pedido_id, product_id, cantidad, precio_unitario_snapshot, costo_unitario_snapshot, total_item)
		VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric, $7::numeric)
		ON CONFLICT (pedido_item_id) DO NOTHING`,
		it.ID, it.OrderID, it.ProductID, it.Quantity, it.UnitPrice, it.UnitCost, it.LineTotal)
	return err
}

func (s *Store) ListOrdersByLive(ctx context.Context, liveID string) ([]live.Order, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT pedido_id, cliente_id, live_id, estado, subtotal, impuestos, total, empleado, notas, created_at
		FROM pedidos WHERE live_id=$1
		ORDER BY created_at, pedido_id`, liveID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []live.Order
	for rows.Next() {
		var (
			o     live.Order
			state string
		)
		if err := rows.Scan(&o.ID, &o.CustomerID, &o.LiveID, &state, &o.Subtotal, &o.Tax, &o.Total, &o.Employee, &o.Notes, &o.CreatedAt); err != nil {
			return nil, err
		}
		o.State = live.OrderState(state)
		out = append(out, o)
	}
	return out, rows.Err()
}
