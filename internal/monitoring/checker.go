package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/enrichment-cli/internal/config"
)

const defaultCheckInterval = 5 * time.Minute

// Checker runs periodic health checks in the background.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	cfg       config.MonitoringConfig
}

// NewChecker creates a background health checker.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	return &Checker{
		collector: collector,
		alerter:   alerter,
		cfg:       cfg,
	}
}

// Run starts the periodic check loop. It blocks until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) {
	interval := c.cfg.CheckInterval
	if interval <= 0 {
		interval = defaultCheckInterval
	}
	lookback := c.cfg.LookbackWindow
	if lookback <= 0 {
		lookback = 24 * time.Hour
	}

	log := zap.L().With(zap.String("component", "monitoring.checker"))
	log.Info("starting job health checker",
		zap.Duration("interval", interval),
		zap.Duration("lookback", lookback),
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("job health checker stopped")
			return
		case <-ticker.C:
			c.check(ctx, log, lookback)
		}
	}
}

func (c *Checker) check(ctx context.Context, log *zap.Logger, lookback time.Duration) int {
	snap, err := c.collector.Collect(ctx, lookback, c.cfg.StuckAfter)
	if err != nil {
		log.Error("monitoring: failed to collect metrics", zap.Error(err))
		return 0
	}

	alerts := c.alerter.Evaluate(snap)
	if len(alerts) == 0 {
		log.Debug("monitoring: no alerts triggered",
			zap.Int("jobs", snap.JobsTotal),
			zap.Float64("fail_rate", snap.FailRate),
		)
		return 0
	}

	for _, a := range alerts {
		log.Warn("monitoring: alert triggered",
			zap.String("type", string(a.Type)),
			zap.String("message", a.Message),
		)
	}
	sent := c.alerter.SendAlerts(ctx, alerts)
	log.Info("monitoring: alert check complete",
		zap.Int("alerts_triggered", len(alerts)),
		zap.Int("alerts_sent", sent),
	)
	return len(alerts)
}
