package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/livecanasta/live-baskets/internal/notifier"
)

// Messages is the WhatsApp message log.
type Messages struct{ DB *pgxpool.Pool }

var _ notifier.MessageStore = (*Messages)(nil)

// SaveMessage skips the insert when the order already has a message of the
// same kind, so a redelivered event never queues a second confirmation.
func (m *Messages) SaveMessage(ctx context.Context, msg notifier.Message) (bool, error) {
	ct, err := m.DB.Exec(ctx, `
		INSERT INTO mensajes_whatsapp(msg_id, pedido_id, cliente_id, telefono, tipo, payload, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (pedido_id, tipo) WHERE pedido_id IS NOT NULL DO NOTHING`,
		msg.ID, msg.OrderID, msg.CustomerID, msg.Phone, msg.Kind, msg.Payload, msg.Status, msg.CreatedAt)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}
