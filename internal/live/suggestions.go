package live

import (
	"sort"
	"time"
)

const MaxSuggestions = 5

type salesEntry struct {
	product  Product
	qty      int
	lastSeen time.Time
}

// RankSuggestions orders products for one-tap re-adding: best sellers across
// the session's open baskets first (ties go to the most recently added), then
// the newest catalog products. Products with no availability are never
// returned and the list holds at most MaxSuggestions entries.
func RankSuggestions(baskets []Basket, products []Product) []Product {
	avail := ComputeAvailability(products, baskets)
	byID := make(map[string]Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}

	sales := map[string]*salesEntry{}
	for _, b := range baskets {
		if b.State != BasketOpen {
			continue
		}
		for _, it := range b.Items {
			p, ok := byID[it.ProductID]
			if !ok || avail[p.ID] < 1 {
				continue
			}
			e, ok := sales[p.ID]
			if !ok {
				e = &salesEntry{product: p}
				sales[p.ID] = e
			}
			e.qty += it.Quantity
			if it.CreatedAt.After(e.lastSeen) {
				e.lastSeen = it.CreatedAt
			}
		}
	}

	ranked := make([]*salesEntry, 0, len(sales))
	for _, e := range sales {
		ranked = append(ranked, e)
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].qty != ranked[j].qty {
			return ranked[i].qty > ranked[j].qty
		}
		if !ranked[i].lastSeen.Equal(ranked[j].lastSeen) {
			return ranked[i].lastSeen.After(ranked[j].lastSeen)
		}
		return ranked[i].product.ID < ranked[j].product.ID
	})

	recent := make([]Product, 0, len(products))
	for _, p := range products {
		if avail[p.ID] >= 1 {
			recent = append(recent, p)
		}
	}
	sort.SliceStable(recent, func(i, j int) bool {
		return recent[i].CreatedAt.After(recent[j].CreatedAt)
	})

	out := make([]Product, 0, MaxSuggestions)
	seen := make(map[string]bool, MaxSuggestions)
	push := func(p Product) bool {
		if seen[p.ID] {
			return len(out) < MaxSuggestions
		}
		seen[p.ID] = true
		out = append(out, p)
		return len(out) < MaxSuggestions
	}
	for _, e := range ranked {
		if !push(e.product) {
			return out
		}
	}
	for _, p := range recent {
		if !push(p) {
			return out
		}
	}
	return out
}
