package kafka

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/livecanasta/live-baskets/internal/live"
)

var ErrBadEnvelope = errors.New("envelope without event id or type")

// DecodeEnvelope decodes a live event envelope. An envelope without an event
// id or type can be neither deduplicated nor routed, so it is rejected.
func DecodeEnvelope(b []byte) (live.Envelope, error) {
	var env live.Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return env, fmt.Errorf("decode envelope: %w", err)
	}
	if env.EventID == "" || env.EventType == "" {
		return env, ErrBadEnvelope
	}
	return env, nil
}

// UnwrapPayload decodes the envelope payload into T.
func UnwrapPayload[T any](env live.Envelope) (T, error) {
	var t T
	if err := json.Unmarshal(env.Payload, &t); err != nil {
		return t, fmt.Errorf("decode %s payload: %w", env.EventType, err)
	}
	return t, nil
}
