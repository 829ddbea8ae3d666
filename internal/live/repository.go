package live

import (
	"context"

	"github.com/shopspring/decimal"
)

// Repositories return ErrNotFound (possibly wrapped) for missing rows.

type ProductRepository interface {
	ListProducts(ctx context.Context, activeOnly bool) ([]Product, error)
	GetProduct(ctx context.Context, productID string) (Product, error)
	CreateProduct(ctx context.Context, p Product) (Product, error)
	// AdjustStock atomically adds delta (may be negative) to the stock on hand.
	// It returns ErrNegativeStock, changing nothing, when stock would drop below zero.
	AdjustStock(ctx context.Context, productID string, delta int) error
}

type CustomerRepository interface {
	ListCustomers(ctx context.Context) ([]Customer, error)
	GetCustomer(ctx context.Context, customerID string) (Customer, error)
}

type SessionRepository interface {
	GetSession(ctx context.Context, liveID string) (Session, error)
	// FindActiveSession returns the most recently scheduled active session.
	FindActiveSession(ctx context.Context) (Session, error)
	UpdateSessionState(ctx context.Context, liveID string, state SessionState) error
}

type BasketRepository interface {
	// ListOpenBaskets returns every open basket of the session with its items.
	ListOpenBaskets(ctx context.Context, liveID string) ([]Basket, error)
	// GetBasket returns the basket with its items.
	GetBasket(ctx context.Context, basketID string) (Basket, error)
	FindOpenBasket(ctx context.Context, liveID, customerID string) (Basket, error)
	CreateBasket(ctx context.Context, b Basket) (Basket, error)
	UpdateBasketTotals(ctx context.Context, basketID string, subtotal, total decimal.Decimal) error
	UpdateBasketState(ctx context.Context, basketID string, state BasketState) error

	GetItem(ctx context.Context, itemID string) (BasketItem, error)
	InsertItem(ctx context.Context, it BasketItem) (BasketItem, error)
	UpdateItemQuantity(ctx context.Context, itemID string, qty int, lineTotal decimal.Decimal) error
	DeleteItem(ctx context.Context, itemID string) error
}

type OrderRepository interface {
	CreateOrder(ctx context.Context, o Order) (Order, error)
	InsertOrderItem(ctx context.Context, it OrderItem) error
	ListOrdersByLive(ctx context.Context, liveID string) ([]Order, error)
}

// Store is the full persistent-store surface the live-session core consumes.
type Store interface {
	ProductRepository
	CustomerRepository
	SessionRepository
	BasketRepository
	OrderRepository
}
