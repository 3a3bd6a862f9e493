// Package events publishes ledger notifications after a mutation commits.
// Delivery is best effort: the ledger tables stay the source of truth and
// a lost event never rolls back money movement.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

type Type string

const (
	WalletCredited      Type = "wallet.credited"
	CaseDonated         Type = "case.donated"
	PlatformDonated     Type = "platform.donated"
	WithdrawalRequested Type = "withdrawal.requested"
	WithdrawalCompleted Type = "withdrawal.completed"
	WithdrawalFailed    Type = "withdrawal.failed"
	SettlementCompleted Type = "settlement.completed"
)

type Event struct {
	Type        Type              `json:"event_type"`
	UserID      string            `json:"user_id,omitempty"`
	CaseID      string            `json:"case_id,omitempty"`
	AmountMinor int64             `json:"amount_minor"`
	Reference   string            `json:"reference"`
	Attributes  map[string]string `json:"attributes,omitempty"`
	OccurredAt  time.Time         `json:"occurred_at"`
}

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

type RedisPublisher struct {
	rdb     *redis.Client
	channel string
}

func NewRedisPublisher(rdb *redis.Client, channel string) *RedisPublisher {
	return &RedisPublisher{rdb: rdb, channel: channel}
}

func (p *RedisPublisher) Publish(ctx context.Context, ev Event) error {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	err = p.rdb.Publish(ctx, p.channel, payload).Err()
	if err != nil {
		return fmt.Errorf("publish %s: %w", ev.Type, err)
	}

	return nil
}

// Nop discards events. Used when Redis is disabled and in tests.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// Emit publishes ev and logs instead of returning a failure.
func Emit(ctx context.Context, p Publisher, ev Event) {
	if p == nil {
		return
	}

	err := p.Publish(ctx, ev)
	if err != nil {
		slog.Warn("ledger event not published", "event_type", ev.Type, "reference", ev.Reference, "error", err)
	}
}
