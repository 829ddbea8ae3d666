package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/livecanasta/live-baskets/internal/live"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
)

type fakeMessages struct {
	saved []Message
	err   error
}

func (f *fakeMessages) SaveMessage(ctx context.Context, m Message) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	for _, s := range f.saved {
		if s.OrderID == m.OrderID && s.Kind == m.Kind {
			return false, nil
		}
	}
	f.saved = append(f.saved, m)
	return true, nil
}

type fakeDedup struct{ seen map[string]bool }

func (f *fakeDedup) Claim(ctx context.Context, id string) (bool, error) {
	if f.seen[id] {
		return false, nil
	}
	f.seen[id] = true
	return true, nil
}

func (f *fakeDedup) Forget(ctx context.Context, id string) error {
	delete(f.seen, id)
	return nil
}

func orderPayload() live.OrderCreatedPayload {
	return live.OrderCreatedPayload{
		OrderID:       "9f1c2d3e-aaaa-bbbb-cccc-000000000001",
		LiveID:        "live-1",
		LiveTitle:     "Joyería de primavera",
		CustomerID:    "c-x",
		CustomerName:  "Ximena",
		CustomerPhone: "+5215511110000",
		Items: []live.OrderLine{
			{ProductID: "p-aretes", ProductName: "Aretes de plata", Quantity: 2, UnitPrice: decimal.NewFromInt(150), LineTotal: decimal.NewFromInt(300)},
		},
		Total: decimal.NewFromInt(300),
	}
}

func message(t *testing.T, eventType string, p any) kafkago.Message {
	t.Helper()
	env, err := live.NewEnvelope(eventType, "live-api", "live-1", p)
	if err != nil {
		t.Fatal(err)
	}
	b, err := json.Marshal(env)
	if err != nil {
		t.Fatal(err)
	}
	return kafkago.Message{Value: b}
}

func newService() (*Service, *fakeMessages, *fakeDedup) {
	msgs := &fakeMessages{}
	dd := &fakeDedup{seen: map[string]bool{}}
	return &Service{Messages: msgs, Dedup: dd}, msgs, dd
}

func TestHandleOrderCreated_QueuesConfirmation(t *testing.T) {
	svc, msgs, _ := newService()
	m := message(t, live.EventOrderCreated, orderPayload())

	if err := svc.HandleOrderCreated(context.Background(), m); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(msgs.saved) != 1 {
		t.Fatalf("saved = %d", len(msgs.saved))
	}
	got := msgs.saved[0]
	if got.Kind != KindConfirmation || got.Status != StatusPending || got.Phone != "+5215511110000" || got.CustomerID != "c-x" {
		t.Errorf("message = %+v", got)
	}

	// redelivery of the same event is a no-op
	if err := svc.HandleOrderCreated(context.Background(), m); err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if len(msgs.saved) != 1 {
		t.Errorf("duplicate message saved")
	}
}

func TestHandleOrderCreated_IgnoresOtherEvents(t *testing.T) {
	svc, msgs, dd := newService()
	m := message(t, live.EventLiveFinalized, live.LiveFinalizedPayload{LiveID: "live-1"})
	if err := svc.HandleOrderCreated(context.Background(), m); err != nil {
		t.Fatal(err)
	}
	if len(msgs.saved) != 0 || len(dd.seen) != 0 {
		t.Error("non-order events must be skipped before dedup")
	}
}

func TestHandleOrderCreated_StoreFailureReleasesClaim(t *testing.T) {
	svc, msgs, dd := newService()
	msgs.err = errors.New("db down")
	m := message(t, live.EventOrderCreated, orderPayload())

	if err := svc.HandleOrderCreated(context.Background(), m); err == nil {
		t.Fatal("expected error")
	}
	if len(dd.seen) != 0 {
		t.Error("claim must be released so the event is retried")
	}

	msgs.err = nil
	if err := svc.HandleOrderCreated(context.Background(), m); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if len(msgs.saved) != 1 {
		t.Errorf("saved = %d after retry", len(msgs.saved))
	}
}

func TestHandleOrderCreated_BadJSON(t *testing.T) {
	svc, _, _ := newService()
	if err := svc.HandleOrderCreated(context.Background(), kafkago.Message{Value: []byte("{")}); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestRenderConfirmation(t *testing.T) {
	text := RenderConfirmation(orderPayload())
	for _, want := range []string{
		"¡Hola Ximena!",
		`"Joyería de primavera"`,
		"Pedido 9F1C2D3E",
		"• 2 x Aretes de plata: $300.00",
		"Total: $300.00",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("missing %q in:\n%s", want, text)
		}
	}
}
