package live

type SessionState string

const (
	SessionScheduled SessionState = "programado"
	SessionActive    SessionState = "activo"
	SessionFinalized SessionState = "finalizado"
)

type BasketState string

const (
	BasketOpen      BasketState = "abierta"
	BasketFinalized BasketState = "finalizada"
)

type OrderState string

// OrderPending is the state of every order a live finalization writes;
// later order states belong to fulfillment.
const OrderPending OrderState = "Pendiente"

var sessionNext = map[SessionState]map[SessionState]bool{
	SessionScheduled: {SessionActive: true},
	SessionActive:    {SessionFinalized: true},
	SessionFinalized: {},
}

var basketNext = map[BasketState]map[BasketState]bool{
	BasketOpen:      {BasketFinalized: true},
	BasketFinalized: {},
}

func CanTransitionSession(from, to SessionState) bool {
	return sessionNext[from][to]
}

func CanTransitionBasket(from, to BasketState) bool {
	return basketNext[from][to]
}
