package policy

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/routefare/routefare/internal/ledger"
)

const activePolicyKey = "policy:late_fee:active"

// Store is the persistence slice the provider reads through.
type Store interface {
	GetActive(ctx context.Context) (*LateFeePolicy, error)
}

// Provider serves the active accrual policy with a Redis read-through
// cache. The accrual sweep hits it once per run, but the reconcile path
// may consult it per request, so the active row is kept hot. A nil
// Redis client degrades to direct reads.
type Provider struct {
	store  Store
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewProvider builds a Provider.
func NewProvider(store Store, client *redis.Client, ttl time.Duration, logger *slog.Logger) *Provider {
	return &Provider{store: store, client: client, ttl: ttl, logger: logger}
}

// ActiveAccrualPolicy returns the active policy as accrual parameters.
func (p *Provider) ActiveAccrualPolicy(ctx context.Context) (ledger.AccrualPolicy, error) {
	pol, err := p.active(ctx)
	if err != nil {
		return ledger.AccrualPolicy{}, err
	}
	return ledger.AccrualPolicy{
		DailyRate:  pol.DailyRate,
		GraceDays:  pol.GraceDays,
		MaxLateFee: pol.MaxLateFee,
	}, nil
}

func (p *Provider) active(ctx context.Context) (*LateFeePolicy, error) {
	if p.client != nil {
		payload, err := p.client.Get(ctx, activePolicyKey).Bytes()
		if err == nil {
			var pol LateFeePolicy
			if err := json.Unmarshal(payload, &pol); err == nil {
				return &pol, nil
			}
			// A corrupt entry falls through to the store.
		} else if err != redis.Nil {
			p.logger.Warn("policy cache read", slog.Any("error", err))
		}
	}

	pol, err := p.store.GetActive(ctx)
	if err != nil {
		return nil, err
	}

	if p.client != nil {
		raw, err := json.Marshal(pol)
		if err == nil {
			if err := p.client.Set(ctx, activePolicyKey, raw, p.ttl).Err(); err != nil {
				p.logger.Warn("policy cache write", slog.Any("error", err))
			}
		}
	}
	return pol, nil
}

// Invalidate drops the cached active policy. Called after any policy
// mutation so the next sweep sees the new rule within one read.
func (p *Provider) Invalidate(ctx context.Context) {
	if p.client == nil {
		return
	}
	if err := p.client.Del(ctx, activePolicyKey).Err(); err != nil {
		p.logger.Warn("policy cache invalidate", slog.Any("error", err))
	}
}
