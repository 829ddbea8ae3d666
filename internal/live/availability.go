package live

// ReservedQuantities sums item quantities per product across open baskets.
func ReservedQuantities(baskets []Basket) map[string]int {
	reserved := make(map[string]int)
	for _, b := range baskets {
		if b.State != BasketOpen {
			continue
		}
		for _, it := range b.Items {
			reserved[it.ProductID] += it.Quantity
		}
	}
	return reserved
}

// ComputeAvailability returns, per product, catalog stock minus what open
// baskets already reserve. Never negative.
func ComputeAvailability(products []Product, baskets []Basket) map[string]int {
	reserved := ReservedQuantities(baskets)
	out := make(map[string]int, len(products))
	for _, p := range products {
		out[p.ID] = clamp(p.Stock - reserved[p.ID])
	}
	return out
}

// AvailableFor is the most units of p that basketID may hold in total: stock
// minus what every other open basket reserves.
func AvailableFor(p Product, baskets []Basket, basketID string) int {
	others := 0
	for _, b := range baskets {
		if b.ID == basketID || b.State != BasketOpen {
			continue
		}
		for _, it := range b.Items {
			if it.ProductID == p.ID {
				others += it.Quantity
			}
		}
	}
	return clamp(p.Stock - others)
}

func clamp(n int) int {
	if n < 0 {
		return 0
	}
	return n
}

// ProductAvailability is a catalog row annotated with what can still be sold.
type ProductAvailability struct {
	Product
	Reserved  int `json:"reservado"`
	Available int `json:"disponible"`
}

func AnnotateAvailability(products []Product, baskets []Basket) []ProductAvailability {
	reserved := ReservedQuantities(baskets)
	out := make([]ProductAvailability, 0, len(products))
	for _, p := range products {
		out = append(out, ProductAvailability{
			Product:   p,
			Reserved:  reserved[p.ID],
			Available: clamp(p.Stock - reserved[p.ID]),
		})
	}
	return out
}
