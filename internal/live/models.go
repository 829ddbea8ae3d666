package live

import (
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID        string          `json:"product_id"`
	Name      string          `json:"nombre"`
	Category  string          `json:"categoria"`
	UnitPrice decimal.Decimal `json:"precio_unitario"`
	UnitCost  decimal.Decimal `json:"costo_unitario"`
	Stock     int             `json:"cantidad_en_stock"`
	Active    bool            `json:"activo"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type Customer struct {
	ID    string `json:"cliente_id"`
	Name  string `json:"nombre"`
	Phone string `json:"telefono_whatsapp"`
}

type Session struct {
	ID          string       `json:"live_id"`
	Title       string       `json:"titulo,omitempty"`
	ScheduledAt time.Time    `json:"fecha_hora"`
	State       SessionState `json:"estado"` // see status.go
	Notes       string       `json:"notas,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}

// DisplayTitle falls back to the session id when no title was set.
func (s Session) DisplayTitle() string {
	if s.Title != "" {
		return s.Title
	}
	return "Live #" + s.ID
}

type Basket struct {
	ID         string          `json:"basket_id"`
	LiveID     string          `json:"live_id"`
	CustomerID string          `json:"cliente_id"`
	State      BasketState     `json:"estado"`
	Subtotal   decimal.Decimal `json:"subtotal"`
	Total      decimal.Decimal `json:"total"`
	Items      []BasketItem    `json:"items"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Item returns the line holding productID, if any.
func (b Basket) Item(productID string) (BasketItem, bool) {
	for _, it := range b.Items {
		if it.ProductID == productID {
			return it, true
		}
	}
	return BasketItem{}, false
}

// Units is the number of pieces across all lines.
func (b Basket) Units() int {
	n := 0
	for _, it := range b.Items {
		n += it.Quantity
	}
	return n
}

type BasketItem struct {
	ID        string          `json:"basket_item_id"`
	BasketID  string          `json:"basket_id"`
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"cantidad"`
	UnitPrice decimal.Decimal `json:"precio_unitario_snapshot"`
	UnitCost  decimal.Decimal `json:"costo_unitario_snapshot"`
	LineTotal decimal.Decimal `json:"total_item"`
	CreatedAt time.Time       `json:"created_at"`
}

type Order struct {
	ID         string          `json:"pedido_id"`
	CustomerID string          `json:"cliente_id"`
	LiveID     string          `json:"live_id"`
	State      OrderState      `json:"estado"`
	Subtotal   decimal.Decimal `json:"subtotal"`
	Tax        decimal.Decimal `json:"impuestos"`
	Total      decimal.Decimal `json:"total"`
	Employee   string          `json:"empleado"`
	Notes      string          `json:"notas,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

type OrderItem struct {
	ID        string          `json:"pedido_item_id"`
	OrderID   string          `json:"pedido_id"`
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"cantidad"`
	UnitPrice decimal.Decimal `json:"precio_unitario_snapshot"`
	UnitCost  decimal.Decimal `json:"costo_unitario_snapshot"`
	LineTotal decimal.Decimal `json:"total_item"`
}

// LineTotal is quantity × unit price.
func LineTotal(qty int, price decimal.Decimal) decimal.Decimal {
	return price.Mul(decimal.NewFromInt(int64(qty)))
}

// SumLines re-derives a basket subtotal from its current lines.
func SumLines(items []BasketItem) decimal.Decimal {
	sum := decimal.Zero
	for _, it := range items {
		sum = sum.Add(it.LineTotal)
	}
	return sum
}
