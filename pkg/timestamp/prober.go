package timestamp

import (
	"context"
	"crypto/sha256"
	"log/slog"
	"time"
)

// Prober periodically checks that at least one TSA issues valid tokens and
// reports the outcome, so operators see a broken TSA before a batch fails.
type Prober struct {
	client   *Client
	interval time.Duration
	report   func(ctx context.Context, err error)
	logger   *slog.Logger
}

// NewProber creates a Prober. report receives nil after a successful probe.
func NewProber(client *Client, interval time.Duration, report func(ctx context.Context, err error), logger *slog.Logger) *Prober {
	if logger == nil {
		logger = slog.Default()
	}
	return &Prober{client: client, interval: interval, report: report, logger: logger}
}

// Probe requests one throwaway token.
func (p *Prober) Probe(ctx context.Context) error {
	sum := sha256.Sum256([]byte(time.Now().UTC().Format(time.RFC3339Nano)))
	_, err := p.client.RequestTimestamp(ctx, sum[:], p.client.URLs())
	return err
}

// Run probes on every interval until ctx is cancelled.
func (p *Prober) Run(ctx context.Context) {
	if p.interval <= 0 {
		p.logger.Info("TSA prober disabled")
		return
	}
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.logger.Info("TSA prober started", "interval", p.interval.String())
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("TSA prober stopped")
			return
		case <-ticker.C:
			err := p.Probe(ctx)
			if err != nil {
				p.logger.Warn("TSA probe failed", "error", err)
			}
			if p.report != nil {
				p.report(ctx, err)
			}
		}
	}
}
