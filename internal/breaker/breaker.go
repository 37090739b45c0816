package breaker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// State of the circuit-breaker gate. Open means trading is allowed; tripped
// means new risk-increasing submissions must be rejected.
type State string

const (
	StateOpen    State = "OPEN"
	StateTripped State = "TRIPPED"
)

const defaultStateKey = "execution:circuit_breaker"

// tripRecord is the value stored in the coordination store while tripped.
type tripRecord struct {
	Reason    string    `json:"reason"`
	TrippedAt time.Time `json:"tripped_at"`
	TrippedBy string    `json:"tripped_by,omitempty"`
}

// Gate is the shared precondition every order-affecting submission path
// consults. State lives in Redis so every replica observes a trip within one
// round-trip; there is no local caching and therefore no stale-read window.
//
// The trip/recovery decision logic belongs to the external risk monitor; the
// gate only exposes the check plus the write primitives the monitor uses.
type Gate struct {
	rdb *redis.Client
	key string
}

// NewGate creates a gate backed by the given Redis client.
func NewGate(rdb *redis.Client) *Gate {
	return &Gate{rdb: rdb, key: defaultStateKey}
}

// Check returns the current gate state and, when tripped, the recorded reason.
// If the coordination store is unreachable the gate fails closed: new exposure
// is blocked while breaker state is unknowable.
func (g *Gate) Check(ctx context.Context) (State, string) {
	val, err := g.rdb.Get(ctx, g.key).Result()
	if errors.Is(err, redis.Nil) {
		return StateOpen, ""
	}
	if err != nil {
		log.Error().
			Str("component", "circuit_breaker").
			Err(err).
			Msg("coordination store unreachable, failing closed")
		return StateTripped, "circuit breaker state unavailable"
	}

	var rec tripRecord
	if err := json.Unmarshal([]byte(val), &rec); err != nil {
		// A malformed record still means somebody tripped the breaker.
		return StateTripped, "circuit breaker tripped"
	}
	return StateTripped, rec.Reason
}

// Trip marks the breaker tripped. Called by the external risk monitor or an
// operator through the internal API.
func (g *Gate) Trip(ctx context.Context, reason, trippedBy string) error {
	raw, err := json.Marshal(tripRecord{
		Reason:    reason,
		TrippedAt: time.Now().UTC(),
		TrippedBy: trippedBy,
	})
	if err != nil {
		return err
	}
	if err := g.rdb.Set(ctx, g.key, raw, 0).Err(); err != nil {
		return err
	}
	log.Warn().
		Str("component", "circuit_breaker").
		Str("reason", reason).
		Str("tripped_by", trippedBy).
		Msg("circuit breaker tripped")
	return nil
}

// Reset clears the tripped state after external approval.
func (g *Gate) Reset(ctx context.Context) error {
	if err := g.rdb.Del(ctx, g.key).Err(); err != nil {
		return err
	}
	log.Info().Str("component", "circuit_breaker").Msg("circuit breaker reset")
	return nil
}
