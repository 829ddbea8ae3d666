package live

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	EventBasketUpdated = "BasketUpdated"
	EventOrderCreated  = "LiveOrderCreated"
	EventLiveFinalized = "LiveFinalized"
)

const (
	TopicBasketUpdated = "live.basket.updated"
	TopicOrderCreated  = "live.order.created"
	TopicLiveFinalized = "live.finalized"
)

// Partition key = live_id, so every event of one broadcast keeps its order.
func PartitionKey(liveID string) []byte { return []byte(liveID) }

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	CorrelationID string          `json:"correlation_id,omitempty"` // live_id
	Payload       json.RawMessage `json:"payload"`
}

// Publisher is satisfied by kafka.Producer. Publishing is fire-and-forget.
type Publisher interface {
	Publish(topic string, key, value []byte)
}

// NewEnvelope wraps payload in a v1 envelope correlated to liveID.
func NewEnvelope(eventType, producer, liveID string, payload any) (Envelope, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      producer,
		CorrelationID: liveID,
		Payload:       b,
	}, nil
}

// ---- payloads ----

type BasketUpdatedPayload struct {
	LiveID   string          `json:"live_id"`
	BasketID string          `json:"basket_id"`
	Total    decimal.Decimal `json:"total"`
	Units    int             `json:"units"`
}

type OrderLine struct {
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"qty"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	LineTotal   decimal.Decimal `json:"line_total"`
}

type OrderCreatedPayload struct {
	OrderID       string          `json:"order_id"`
	LiveID        string          `json:"live_id"`
	LiveTitle     string          `json:"live_title"`
	BasketID      string          `json:"basket_id"`
	CustomerID    string          `json:"customer_id"`
	CustomerName  string          `json:"customer_name"`
	CustomerPhone string          `json:"customer_phone"`
	Items         []OrderLine     `json:"items"`
	Total         decimal.Decimal `json:"total"`
}

type LiveFinalizedPayload struct {
	LiveID  string          `json:"live_id"`
	Orders  int             `json:"orders"`
	Revenue decimal.Decimal `json:"revenue"`
}

// emitter publishes envelopes; a nil publisher drops them.
type emitter struct {
	pub      Publisher
	producer string
	log      *zap.Logger
}

func (e emitter) emit(topic, eventType, liveID string, payload any) {
	if e.pub == nil {
		return
	}
	ev, err := NewEnvelope(eventType, e.producer, liveID, payload)
	if err != nil {
		e.log.Warn("encode event", zap.String("event", eventType), zap.Error(err))
		return
	}
	b, err := json.Marshal(ev)
	if err != nil {
		e.log.Warn("encode envelope", zap.String("event", eventType), zap.Error(err))
		return
	}
	e.pub.Publish(topic, PartitionKey(liveID), b)
}
