package live

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// QuickProductCategory is assigned to products created from the live screen.
const QuickProductCategory = "Live"

// SessionService covers the session-level actions around the basket core:
// going live, finding the active broadcast, and creating a product on the fly.
type SessionService struct {
	repo Store
	log  *zap.Logger
	now  func() time.Time
}

func NewSessionService(repo Store, opts ...Option) *SessionService {
	d := buildDeps(opts)
	return &SessionService{repo: repo, log: d.log, now: d.now}
}

func (s *SessionService) Get(ctx context.Context, liveID string) (Session, error) {
	sess, err := s.repo.GetSession(ctx, liveID)
	if err != nil {
		return Session{}, fromRepo("getLive", "live", liveID, err)
	}
	return sess, nil
}

// Start moves a scheduled session to active.
func (s *SessionService) Start(ctx context.Context, liveID string) (Session, error) {
	const op = "startLive"
	sess, err := s.repo.GetSession(ctx, liveID)
	if err != nil {
		return Session{}, fromRepo(op, "live", liveID, err)
	}
	if sess.State == SessionActive {
		return sess, nil
	}
	if !CanTransitionSession(sess.State, SessionActive) {
		return Session{}, invalidState(op, "live %s is %s", liveID, sess.State)
	}
	if err := s.repo.UpdateSessionState(ctx, liveID, SessionActive); err != nil {
		return Session{}, fromRepo(op, "live", liveID, err)
	}
	sess.State = SessionActive
	s.log.Info("live started", zap.String("live_id", liveID))
	return sess, nil
}

// Active returns the session currently on air.
func (s *SessionService) Active(ctx context.Context) (Session, error) {
	sess, err := s.repo.FindActiveSession(ctx)
	if err != nil {
		return Session{}, fromRepo("activeLive", "live", "activo", err)
	}
	return sess, nil
}

func (s *SessionService) Customers(ctx context.Context, q string) ([]Customer, error) {
	cs, err := s.repo.ListCustomers(ctx)
	if err != nil {
		return nil, backend("listCustomers", err)
	}
	return FilterCustomers(cs, q), nil
}

type NewProduct struct {
	Name      string          `json:"nombre"`
	UnitPrice decimal.Decimal `json:"precio_unitario"`
	Stock     int             `json:"cantidad_en_stock"`
}

// QuickCreateProduct adds a catalog product while a live is running. Cost is
// unknown at that point and recorded as zero.
func (s *SessionService) QuickCreateProduct(ctx context.Context, in NewProduct) (Product, error) {
	const op = "quickCreateProduct"
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return Product{}, invalidState(op, "name is required")
	}
	if !in.UnitPrice.IsPositive() {
		return Product{}, invalidState(op, "price must be positive")
	}
	if in.Stock < 0 {
		return Product{}, invalidState(op, "stock cannot be negative")
	}
	now := s.now()
	p, err := s.repo.CreateProduct(ctx, Product{
		ID:        uuid.NewString(),
		Name:      name,
		Category:  QuickProductCategory,
		UnitPrice: in.UnitPrice,
		UnitCost:  decimal.Zero,
		Stock:     in.Stock,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return Product{}, backend(op, err)
	}
	s.log.Info("product created during live", zap.String("product_id", p.ID), zap.String("name", p.Name))
	return p, nil
}
