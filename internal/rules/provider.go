package rules

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"verdict/internal/config"
	"verdict/internal/logger"
	"verdict/pkg/metrics"
)

// ActiveRuleProvider supplies the active rule set in catalogue order.
// The engine never mutates what it receives.
type ActiveRuleProvider interface {
	ActiveRules(ctx context.Context) ([]Rule, error)
}

// StoreProvider reads through to the store on every evaluation. Used by
// tests and by deployments that prefer strict freshness over throughput.
type StoreProvider struct {
	store Store
}

func NewStoreProvider(store Store) *StoreProvider {
	return &StoreProvider{store: store}
}

func (p *StoreProvider) ActiveRules(ctx context.Context) ([]Rule, error) {
	return p.store.ListActive(ctx)
}

// CachedProvider keeps an in-memory snapshot of the active rules and
// reloads it on an interval with jitter. Evaluations see a consistent
// snapshot; rule changes become visible within one reload interval.
type CachedProvider struct {
	store  Store
	cfg    config.ReloadConfig
	logger logger.Logger

	mu    sync.RWMutex
	rules []Rule
}

func NewCachedProvider(store Store, cfg config.ReloadConfig, log logger.Logger) *CachedProvider {
	return &CachedProvider{
		store:  store,
		cfg:    cfg,
		logger: log,
		rules:  make([]Rule, 0),
	}
}

func (p *CachedProvider) ActiveRules(ctx context.Context) ([]Rule, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	rules := make([]Rule, len(p.rules))
	copy(rules, p.rules)
	return rules, nil
}

func (p *CachedProvider) Reload(ctx context.Context, skipJitter ...bool) error {
	shouldSkipJitter := len(skipJitter) > 0 && skipJitter[0]

	if err := p.applyJitter(ctx, shouldSkipJitter); err != nil {
		return err
	}

	rules, err := p.store.ListActive(ctx)
	if err != nil {
		metrics.IncSnapshotReload("error")
		return err
	}

	p.mu.Lock()
	p.rules = rules
	p.mu.Unlock()

	metrics.IncSnapshotReload("success")
	metrics.SetActiveRules(len(rules))
	p.logger.InfowCtx(ctx, "Reloaded active rule snapshot",
		"rules_count", len(rules),
	)
	return nil
}

// applyJitter spreads reloads across nodes so they do not hit the store
// in lockstep.
func (p *CachedProvider) applyJitter(ctx context.Context, skipJitter bool) error {
	if skipJitter || p.cfg.JitterMaxMs == 0 {
		return nil
	}

	jitter := time.Duration(rand.Intn(p.cfg.JitterMaxMs)) * time.Millisecond

	select {
	case <-time.After(jitter):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *CachedProvider) StartReloader(ctx context.Context) error {
	ticker := time.NewTicker(time.Duration(p.cfg.IntervalSeconds) * time.Second)
	defer ticker.Stop()

	if err := p.Reload(ctx, true); err != nil {
		p.logger.ErrorwCtx(ctx, "Failed to reload rule snapshot",
			"error", err,
		)
	}

	for {
		select {
		case <-ticker.C:
			if err := p.Reload(ctx); err != nil {
				p.logger.ErrorwCtx(ctx, "Failed to reload rule snapshot",
					"error", err,
				)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
