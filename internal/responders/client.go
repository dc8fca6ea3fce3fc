// Package responders implements the outbound surface towards the self-healing
// pipeline: the HTTP command client, the pull-based event poller and the Redis
// control-flag broadcaster.
package responders

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/sentinelstack/guardian/internal/engine"
	"github.com/sentinelstack/guardian/internal/utils"
)

var _ engine.Responder = (*PipelineClient)(nil)

// Config tunes the pipeline command client.
type Config struct {
	BaseURL         string
	Timeout         time.Duration
	RetryAttempts   int
	RatePerSecond   float64
	RateBurst       int
	BreakerMaxFails int
	BreakerCooldown time.Duration
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = 3
	}
	if c.RatePerSecond <= 0 {
		c.RatePerSecond = 10
	}
	if c.RateBurst <= 0 {
		c.RateBurst = 5
	}
	if c.BreakerMaxFails <= 0 {
		c.BreakerMaxFails = 5
	}
	if c.BreakerCooldown <= 0 {
		c.BreakerCooldown = 30 * time.Second
	}
	return c
}

// PipelineClient sends response actions to the pipeline's control API. Every
// command passes a rate limiter, a circuit breaker and a bounded retry with
// exponential backoff; the final error is returned so callers can escalate on
// persistent failure.
type PipelineClient struct {
	logger     *slog.Logger
	cfg        Config
	httpClient *http.Client
	limiter    *rate.Limiter
	cb         *gobreaker.CircuitBreaker
}

// NewPipelineClient constructs a client targeting the configured pipeline
// control endpoint.
func NewPipelineClient(logger *slog.Logger, cfg Config) *PipelineClient {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "pipeline-control",
		MaxRequests: 3,
		Interval:    5 * time.Second,
		Timeout:     cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > uint32(cfg.BreakerMaxFails)
		},
	})

	return &PipelineClient{
		logger:     logger,
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.RateBurst),
		cb:         cb,
	}
}

func (c *PipelineClient) RequestSecondaryDiagnosis(ctx context.Context) error {
	return c.command(ctx, "/control/secondary-diagnosis", nil)
}

func (c *PipelineClient) NarrowMonitoringScope(ctx context.Context) error {
	return c.command(ctx, "/control/monitoring-scope", map[string]any{"mode": "narrowed"})
}

func (c *PipelineClient) RestoreMonitoringScope(ctx context.Context) error {
	return c.command(ctx, "/control/monitoring-scope", map[string]any{"mode": "full"})
}

func (c *PipelineClient) IncreaseValidationFrequency(ctx context.Context) error {
	return c.command(ctx, "/control/validation-frequency", map[string]any{"mode": "increased"})
}

func (c *PipelineClient) EnterRestrictedMode(ctx context.Context) error {
	return c.command(ctx, "/control/restricted-mode", map[string]any{"enabled": true})
}

func (c *PipelineClient) ExitRestrictedMode(ctx context.Context) error {
	return c.command(ctx, "/control/restricted-mode", map[string]any{"enabled": false})
}

func (c *PipelineClient) RequestRollback(ctx context.Context, targetRevision string) error {
	return c.command(ctx, "/control/rollback", map[string]any{"target_revision": targetRevision})
}

func (c *PipelineClient) RequestRecalibration(ctx context.Context) error {
	return c.command(ctx, "/control/recalibration", nil)
}

func (c *PipelineClient) NotifyOperators(ctx context.Context, message, severity string) error {
	return c.command(ctx, "/notifications", map[string]any{"message": message, "severity": severity})
}

func (c *PipelineClient) DisableAutonomy(ctx context.Context) error {
	return c.command(ctx, "/control/autonomy", map[string]any{"enabled": false})
}

func (c *PipelineClient) EnableAutonomy(ctx context.Context) error {
	return c.command(ctx, "/control/autonomy", map[string]any{"enabled": true})
}

func (c *PipelineClient) RequestHumanControl(ctx context.Context) error {
	return c.command(ctx, "/control/human-control", nil)
}

func (c *PipelineClient) RequestRecovery(ctx context.Context) error {
	return c.command(ctx, "/control/recovery", nil)
}

// command runs one control call through the limiter, breaker and retry stack.
func (c *PipelineClient) command(ctx context.Context, endpoint string, payload any) error {
	const op = "responders.command"

	if c.cfg.BaseURL == "" {
		return utils.NewAppError(op, utils.KindConfiguration, "pipeline base URL not configured", nil)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return utils.NewAppError(op, utils.KindResponseFailure, "rate limit wait aborted", err)
	}

	_, err := c.cb.Execute(func() (interface{}, error) {
		r := retry.New(
			retry.Context(ctx),
			retry.Attempts(uint(c.cfg.RetryAttempts)),
			retry.DelayType(func(n uint, err error, config retry.DelayContext) time.Duration {
				return retry.BackOffDelay(n, err, config)
			}),
		)
		return nil, r.Do(func() error {
			return c.postJSON(ctx, c.resolvePath(endpoint), payload)
		})
	})
	if err != nil {
		return utils.NewAppError(op, utils.KindResponseFailure,
			fmt.Sprintf("pipeline command %s failed", endpoint), err)
	}
	return nil
}

func (c *PipelineClient) resolvePath(p string) string {
	base := strings.TrimRight(c.cfg.BaseURL, "/")
	cleaned := "/" + strings.TrimLeft(p, "/")
	u, err := url.Parse(base)
	if err != nil {
		return base + cleaned
	}
	u.Path = path.Join(u.Path, cleaned)
	return u.String()
}

func (c *PipelineClient) postJSON(ctx context.Context, endpoint string, payload any) error {
	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("pipeline returned %s", resp.Status)
	}
	return nil
}
