package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dexbotio/dexbot/internal/domain"
)

// MonitorConfig holds the price monitor's scheduling parameters.
type MonitorConfig struct {
	// Interval between monitoring ticks.
	Interval time.Duration

	// HealthInterval between lower-frequency health reports.
	HealthInterval time.Duration
}

// DefaultMonitorConfig returns the standard scheduling intervals.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		Interval:       30 * time.Second,
		HealthInterval: 5 * time.Minute,
	}
}

// PriceMonitor drives the recurring monitoring tick: it polls the current
// price for every open position, hands each to the lifecycle controller
// for exit evaluation, and reports health at a lower frequency. It is an
// explicit per-engine scheduler with Start/Stop, so multiple independent
// engines can run side by side in tests.
type PriceMonitor struct {
	cfg    MonitorConfig
	store  domain.PositionStore
	prices domain.PriceFeed
	ctrl   *Controller
	logger *slog.Logger

	mu       sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
	lastTick time.Time
}

// NewPriceMonitor creates a stopped PriceMonitor.
func NewPriceMonitor(cfg MonitorConfig, store domain.PositionStore, prices domain.PriceFeed, ctrl *Controller, logger *slog.Logger) *PriceMonitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.HealthInterval <= 0 {
		cfg.HealthInterval = 5 * time.Minute
	}
	return &PriceMonitor{
		cfg:    cfg,
		store:  store,
		prices: prices,
		ctrl:   ctrl,
		logger: logger.With(slog.String("component", "price_monitor")),
	}
}

// Start launches the monitor loop. It fails if the monitor is already
// running.
func (m *PriceMonitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return fmt.Errorf("monitor: already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})

	go m.run(runCtx)

	m.logger.Info("price monitor started",
		slog.Duration("interval", m.cfg.Interval),
		slog.Duration("health_interval", m.cfg.HealthInterval),
	)
	return nil
}

// Stop cancels the scheduling of new ticks and waits for the current tick
// to finish. Closes already submitted to the network run to completion;
// Stop is safe to call at any point and is idempotent.
func (m *PriceMonitor) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	m.logger.Info("price monitor stopped")
}

func (m *PriceMonitor) run(ctx context.Context) {
	defer close(m.done)

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()
	health := time.NewTicker(m.cfg.HealthInterval)
	defer health.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Tick(ctx)
		case <-health.C:
			m.reportHealth(ctx)
		}
	}
}

// Tick runs one monitoring pass over all open positions. Positions are
// evaluated sequentially; an error on one position is logged and does not
// abort evaluation of the rest or the recurring timer. A global tick lock
// serialises overlapping ticks so a position can never be closed twice
// concurrently.
func (m *PriceMonitor) Tick(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	open, err := m.store.ListOpen(ctx)
	if err != nil {
		m.logger.ErrorContext(ctx, "list open positions failed",
			slog.String("error", err.Error()),
		)
		return
	}
	m.lastTick = time.Now()

	for _, pos := range open {
		if ctx.Err() != nil {
			return
		}

		price, err := m.prices.CurrentPrice(ctx, pos.Token)
		if err != nil {
			m.logger.WarnContext(ctx, "price fetch failed, skipping position this tick",
				slog.String("position_id", pos.ID),
				slog.String("token", pos.Token.Hex()),
				slog.String("error", err.Error()),
			)
			continue
		}

		if err := m.ctrl.CheckPosition(ctx, pos.ID, price); err != nil {
			m.logger.ErrorContext(ctx, "position check failed, will retry next tick",
				slog.String("position_id", pos.ID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// reportHealth logs a low-frequency liveness summary.
func (m *PriceMonitor) reportHealth(ctx context.Context) {
	open, err := m.store.ListOpen(ctx)
	if err != nil {
		m.logger.WarnContext(ctx, "health check could not list positions",
			slog.String("error", err.Error()),
		)
		return
	}

	m.mu.Lock()
	last := m.lastTick
	m.mu.Unlock()

	age := time.Duration(0)
	if !last.IsZero() {
		age = time.Since(last)
	}
	m.logger.InfoContext(ctx, "monitor health",
		slog.Int("open_positions", len(open)),
		slog.Duration("last_tick_age", age),
	)
}
