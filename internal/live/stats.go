package live

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Stats backs the live statistics panel.
type Stats struct {
	Revenue       decimal.Decimal `json:"facturacion_total"`
	OpenBaskets   int             `json:"canastas_activas"`
	UnitsSold     int             `json:"productos_vendidos"`
	AverageBasket decimal.Decimal `json:"ticket_promedio"`
}

func ComputeStats(baskets []Basket) Stats {
	st := Stats{Revenue: decimal.Zero, AverageBasket: decimal.Zero}
	for _, b := range baskets {
		if b.State != BasketOpen {
			continue
		}
		st.OpenBaskets++
		st.Revenue = st.Revenue.Add(b.Total)
		st.UnitsSold += b.Units()
	}
	if st.OpenBaskets > 0 {
		st.AverageBasket = st.Revenue.Div(decimal.NewFromInt(int64(st.OpenBaskets))).Round(2)
	}
	return st
}

// FilterCustomers matches q case-insensitively against name or phone.
// An empty query returns every customer.
func FilterCustomers(customers []Customer, q string) []Customer {
	q = strings.ToLower(strings.TrimSpace(q))
	if q == "" {
		return customers
	}
	out := make([]Customer, 0, len(customers))
	for _, c := range customers {
		if strings.Contains(strings.ToLower(c.Name), q) || strings.Contains(c.Phone, q) {
			out = append(out, c)
		}
	}
	return out
}
