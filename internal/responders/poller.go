package responders

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/sentinelstack/guardian/internal/models"
)

// Sink receives pulled events. Satisfied by the ingest gateway.
type Sink interface {
	OfferDiagnostic(rec models.DiagnosticRecord)
	OfferActionPlan(rec models.ActionPlanRecord)
}

// PollerConfig tunes the pull fallback.
type PollerConfig struct {
	Interval       time.Duration
	Timeout        time.Duration
	DiagnosticsURL string
	ActionPlansURL string
}

func (c PollerConfig) withDefaults() PollerConfig {
	if c.Interval <= 0 {
		c.Interval = 30 * time.Second
	}
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	return c
}

// Poller periodically pulls diagnostic and action-plan events from pipeline
// components that cannot push. Each fetch passes the server a since cursor so
// only events newer than the previous poll come back.
type Poller struct {
	logger     *slog.Logger
	cfg        PollerConfig
	sink       Sink
	httpClient *http.Client

	sinceDiagnostics time.Time
	sinceActionPlans time.Time

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewPoller constructs a poller feeding the given sink.
func NewPoller(logger *slog.Logger, cfg PollerConfig, sink Sink) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	return &Poller{
		logger:     logger,
		cfg:        cfg,
		sink:       sink,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// Start launches the poll loop. Idempotent.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}

	pollCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.running = true

	go p.run(pollCtx)
	p.logger.Info("event poller started", slog.Duration("interval", p.cfg.Interval))
}

// Stop halts the poll loop after the current poll. Idempotent.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return
	}
	p.cancel()
	<-p.done
	p.running = false
	p.logger.Info("event poller stopped")
}

// Poll fetches both endpoints once. Exposed for tests; failures of one
// endpoint never block the other.
func (p *Poller) Poll(ctx context.Context) {
	if p.cfg.DiagnosticsURL != "" {
		var diags []models.DiagnosticRecord
		cursor, err := p.fetch(ctx, p.cfg.DiagnosticsURL, p.sinceDiagnostics, &diags)
		if err != nil {
			p.logger.Warn("diagnostics poll failed", slog.Any("error", err))
		} else {
			for _, d := range diags {
				p.sink.OfferDiagnostic(d)
			}
			p.sinceDiagnostics = cursor
		}
	}

	if p.cfg.ActionPlansURL != "" {
		var plans []models.ActionPlanRecord
		cursor, err := p.fetch(ctx, p.cfg.ActionPlansURL, p.sinceActionPlans, &plans)
		if err != nil {
			p.logger.Warn("action plan poll failed", slog.Any("error", err))
		} else {
			for _, plan := range plans {
				p.sink.OfferActionPlan(plan)
			}
			p.sinceActionPlans = cursor
		}
	}
}

func (p *Poller) run(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.Poll(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// fetch GETs one endpoint with a since cursor and decodes the JSON list into
// out. Returns the cursor for the next poll.
func (p *Poller) fetch(ctx context.Context, endpoint string, since time.Time, out any) (time.Time, error) {
	now := time.Now().UTC()

	u, err := url.Parse(endpoint)
	if err != nil {
		return since, fmt.Errorf("parse poll URL: %w", err)
	}
	if !since.IsZero() {
		q := u.Query()
		q.Set("since", since.Format(time.RFC3339Nano))
		u.RawQuery = q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return since, err
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return since, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return since, fmt.Errorf("poll endpoint returned %s", resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return since, fmt.Errorf("decode poll response: %w", err)
	}
	return now, nil
}
