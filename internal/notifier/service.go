// Package notifier turns finalized live orders into WhatsApp confirmation
// messages queued for the messaging operator.
package notifier

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	kafkax "github.com/livecanasta/live-baskets/internal/kafka"
	"github.com/livecanasta/live-baskets/internal/live"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const (
	KindConfirmation = "confirmacion"
	StatusPending    = "pendiente"
)

// Message is a row of the WhatsApp message log.
type Message struct {
	ID         string
	OrderID    string
	CustomerID string
	Phone      string
	Kind       string
	Payload    string
	Status     string
	CreatedAt  time.Time
}

type MessageStore interface {
	// SaveMessage reports false when a message of the same kind already
	// exists for the order.
	SaveMessage(ctx context.Context, m Message) (bool, error)
}

type Deduper interface {
	Claim(ctx context.Context, id string) (bool, error)
	Forget(ctx context.Context, id string) error
}

type Service struct {
	Messages MessageStore
	Dedup    Deduper
	Log      *zap.Logger
	Now      func() time.Time
}

// HandleOrderCreated is installed as the consumer handler for live.order.created.
func (s *Service) HandleOrderCreated(ctx context.Context, m kafkago.Message) error {
	// 1) decode envelope
	env, err := kafkax.DecodeEnvelope(m.Value)
	if err != nil {
		return err
	}
	if env.EventType != live.EventOrderCreated {
		return nil
	}

	// 2) dedup on event id
	first, err := s.Dedup.Claim(ctx, env.EventID)
	if err != nil {
		return fmt.Errorf("dedup: %w", err)
	}
	if !first {
		s.logger().Debug("duplicate event skipped", zap.String("event_id", env.EventID))
		return nil
	}

	// 3) decode payload and record the confirmation
	p, err := kafkax.UnwrapPayload[live.OrderCreatedPayload](env)
	if err != nil {
		return err
	}
	msg := Message{
		ID:         uuid.NewString(),
		OrderID:    p.OrderID,
		CustomerID: p.CustomerID,
		Phone:      p.CustomerPhone,
		Kind:       KindConfirmation,
		Payload:    RenderConfirmation(p),
		Status:     StatusPending,
		CreatedAt:  s.now(),
	}
	inserted, err := s.Messages.SaveMessage(ctx, msg)
	if err != nil {
		if ferr := s.Dedup.Forget(ctx, env.EventID); ferr != nil {
			s.logger().Warn("release dedup claim", zap.String("event_id", env.EventID), zap.Error(ferr))
		}
		return fmt.Errorf("save message for order %s: %w", p.OrderID, err)
	}
	s.logger().Info("order confirmation queued",
		zap.String("order_id", p.OrderID),
		zap.String("live_id", p.LiveID),
		zap.String("customer_id", p.CustomerID),
		zap.Bool("new", inserted))
	return nil
}

// RenderConfirmation builds the WhatsApp text sent to the buyer.
func RenderConfirmation(p live.OrderCreatedPayload) string {
	var b strings.Builder
	name := p.CustomerName
	if name == "" {
		name = "clienta"
	}
	fmt.Fprintf(&b, "¡Hola %s! Gracias por tu compra en el live \"%s\".\n", name, p.LiveTitle)
	fmt.Fprintf(&b, "Pedido %s:\n", shortID(p.OrderID))
	for _, it := range p.Items {
		prod := it.ProductName
		if prod == "" {
			prod = it.ProductID
		}
		fmt.Fprintf(&b, "• %d x %s: $%s\n", it.Quantity, prod, it.LineTotal.StringFixed(2))
	}
	fmt.Fprintf(&b, "Total: $%s\n", p.Total.StringFixed(2))
	b.WriteString("Te escribiremos para coordinar el pago y la entrega.")
	return b.String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return strings.ToUpper(id[:8])
	}
	return strings.ToUpper(id)
}

func (s *Service) logger() *zap.Logger {
	if s.Log == nil {
		return zap.NewNop()
	}
	return s.Log
}

func (s *Service) now() time.Time {
	if s.Now == nil {
		return time.Now().UTC()
	}
	return s.Now()
}
