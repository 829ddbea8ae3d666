package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/livecanasta/live-baskets/internal/live"
	"go.uber.org/zap"
)

// LiveHandler serves the live-session screen.
type LiveHandler struct {
	Repo      live.Store
	Sessions  *live.SessionService
	Finalizer *live.Finalizer
	Views     *Views
	Cache     ViewCache // optional
	Opts      []live.Option
	Log       *zap.Logger
}

type openBasketReq struct {
	CustomerID string `json:"customer_id"`
}

type addItemReq struct {
	ProductID string `json:"product_id"`
}

type updateQtyReq struct {
	Quantity *int `json:"quantity"`
}

type finalizeReq struct {
	Confirm         bool `json:"confirm"`
	ExpectedBaskets *int `json:"expected_baskets"`
}

type staleConfirmResp struct {
	Error   string       `json:"error"`
	Message string       `json:"message"`
	Summary live.Summary `json:"summary"`
}

func (h *LiveHandler) Register(r *chi.Mux) {
	r.Get("/lives/active", h.activeLive)
	r.Route("/lives/{liveID}", func(r chi.Router) {
		r.Post("/start", h.startLive)
		r.Get("/view", h.view)
		r.Get("/customers", h.customers)
		r.Post("/products", h.createProduct)
		r.Post("/baskets", h.openBasket)
		r.Post("/baskets/{basketID}/items", h.addItem)
		r.Patch("/items/{itemID}", h.updateQuantity)
		r.Delete("/items/{itemID}", h.removeItem)
		r.Get("/suggestions", h.suggestions)
		r.Get("/finalize", h.previewFinalize)
		r.Post("/finalize", h.finalize)
	})
}

func (h *LiveHandler) baskets(r *http.Request) *live.BasketStore {
	return live.NewBasketStore(h.Repo, chi.URLParam(r, "liveID"), h.Opts...)
}

func (h *LiveHandler) logger() *zap.Logger {
	if h.Log == nil {
		return zap.NewNop()
	}
	return h.Log
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		badRequest(w, "invalid json")
		return false
	}
	return true
}

func (h *LiveHandler) activeLive(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()
	sess, err := h.Sessions.Active(ctx)
	if err != nil {
		writeError(w, h.logger(), err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (h *LiveHandler) startLive(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	sess, err := h.Sessions.Start(ctx, chi.URLParam(r, "liveID"))
	if err != nil {
		writeError(w, h.logger(), err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// view returns the poller snapshot, waiting briefly for the first refresh
// of a freshly started poller.
func (h *LiveHandler) view(w http.ResponseWriter, r *http.Request) {
	liveID := chi.URLParam(r, "liveID")
	p := h.Views.Poller(liveID)

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if _, ok := p.Snapshot(); !ok && h.Cache != nil {
		if v, found, err := h.Cache.Get(ctx, liveID); err == nil && found {
			w.Header().Set("X-View-Source", "cache")
			writeJSON(w, http.StatusOK, v)
			return
		}
	}

	select {
	case <-p.Ready():
	case <-ctx.Done():
		writeJSON(w, http.StatusServiceUnavailable, errorResp{Error: "loading", Message: "live view not ready yet"})
		return
	}
	v, _ := p.Snapshot()
	if !v.HasSession {
		sess, err := h.Sessions.Get(ctx, liveID)
		if err != nil {
			writeError(w, h.logger(), err)
			return
		}
		v.Session, v.HasSession = sess, true
	}
	if h.Cache != nil {
		if err := h.Cache.Put(ctx, liveID, v); err != nil {
			h.logger().Warn("cache live view", zap.String("live_id", liveID), zap.Error(err))
		}
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *LiveHandler) customers(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()
	cs, err := h.Sessions.Customers(ctx, r.URL.Query().Get("q"))
	if err != nil {
		writeError(w, h.logger(), err)
		return
	}
	if cs == nil {
		cs = []live.Customer{}
	}
	writeJSON(w, http.StatusOK, cs)
}

func (h *LiveHandler) createProduct(w http.ResponseWriter, r *http.Request) {
	var req live.NewProduct
	if !decode(w, r, &req) {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	p, err := h.Sessions.QuickCreateProduct(ctx, req)
	if err != nil {
		writeError(w, h.logger(), err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (h *LiveHandler) openBasket(w http.ResponseWriter, r *http.Request) {
	var req openBasketReq
	if !decode(w, r, &req) {
		return
	}
	if req.CustomerID == "" {
		badRequest(w, "customer_id is required")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	b, existed, err := h.baskets(r).OpenBasket(ctx, req.CustomerID)
	if err != nil {
		writeError(w, h.logger(), err)
		return
	}
	code := http.StatusCreated
	if existed {
		code = http.StatusOK
	}
	writeJSON(w, code, b)
}

func (h *LiveHandler) addItem(w http.ResponseWriter, r *http.Request) {
	var req addItemReq
	if !decode(w, r, &req) {
		return
	}
	if req.ProductID == "" {
		badRequest(w, "product_id is required")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	b, err := h.baskets(r).AddItem(ctx, chi.URLParam(r, "basketID"), req.ProductID)
	if err != nil {
		writeError(w, h.logger(), err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (h *LiveHandler) updateQuantity(w http.ResponseWriter, r *http.Request) {
	var req updateQtyReq
	if !decode(w, r, &req) {
		return
	}
	if req.Quantity == nil {
		badRequest(w, "quantity is required")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	b, err := h.baskets(r).UpdateQuantity(ctx, chi.URLParam(r, "itemID"), *req.Quantity)
	if err != nil {
		writeError(w, h.logger(), err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (h *LiveHandler) removeItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	b, err := h.baskets(r).RemoveItem(ctx, chi.URLParam(r, "itemID"))
	if err != nil {
		writeError(w, h.logger(), err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (h *LiveHandler) suggestions(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()
	liveID := chi.URLParam(r, "liveID")

	baskets, err := h.Repo.ListOpenBaskets(ctx, liveID)
	if err != nil {
		writeError(w, h.logger(), &live.Error{Kind: live.KindBackend, Op: "suggestions", Err: err})
		return
	}
	products, err := h.Repo.ListProducts(ctx, true)
	if err != nil {
		writeError(w, h.logger(), &live.Error{Kind: live.KindBackend, Op: "suggestions", Err: err})
		return
	}
	out := live.RankSuggestions(baskets, products)
	if out == nil {
		out = []live.Product{}
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *LiveHandler) previewFinalize(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	sum, err := h.Finalizer.Preview(ctx, chi.URLParam(r, "liveID"))
	if err != nil {
		writeError(w, h.logger(), err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// finalize requires an explicit confirmation. When the operator confirmed a
// summary with a given basket count and baskets changed since, the request is
// refused with the fresh summary.
func (h *LiveHandler) finalize(w http.ResponseWriter, r *http.Request) {
	var req finalizeReq
	if !decode(w, r, &req) {
		return
	}
	if !req.Confirm {
		badRequest(w, "finalization must be confirmed")
		return
	}
	liveID := chi.URLParam(r, "liveID")

	if req.ExpectedBaskets != nil {
		sum, err := h.Finalizer.Preview(r.Context(), liveID)
		if err != nil {
			writeError(w, h.logger(), err)
			return
		}
		if sum.State == live.SessionActive && sum.BasketCount != *req.ExpectedBaskets {
			writeJSON(w, http.StatusConflict, staleConfirmResp{
				Error:   "stale_confirmation",
				Message: "baskets changed since the summary was shown",
				Summary: sum,
			})
			return
		}
	}

	// Finalize detaches from the request context internally
	res, err := h.Finalizer.Finalize(r.Context(), liveID)
	if err != nil {
		writeError(w, h.logger(), err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
