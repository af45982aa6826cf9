package mlclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/stitts-dev/fpl-engine/internal/types"
)

// Client calls the external minutes-prediction service. Every call is treated
// as fallible and latent: requests carry a timeout, a rate limiter, retries
// with exponential backoff, and a circuit breaker so a struggling service
// degrades fast instead of queueing.
type Client struct {
	httpClient     *http.Client
	baseURL        string
	limiter        *rate.Limiter
	circuitBreaker *gobreaker.CircuitBreaker
	retryBudget    time.Duration
	logger         *logrus.Logger
}

// Config holds external service tuning.
type Config struct {
	BaseURL           string
	Timeout           time.Duration
	RequestsPerSecond int
	RetryBudget       time.Duration
	BreakerFailures   uint32
}

// PredictRequest is the payload for the prediction endpoint: player identity
// and context plus the recent appearance window the model features are built
// from.
type PredictRequest struct {
	PlayerID       uint                `json:"player_id"`
	Position       types.Position     `json:"position"`
	TargetGameweek int                 `json:"target_gameweek"`
	IsHome         bool                `json:"is_home"`
	Appearances    []AppearanceRecord  `json:"appearances"`
}

// AppearanceRecord is the wire form of one appearance.
type AppearanceRecord struct {
	Gameweek   int    `json:"gameweek"`
	Started    bool   `json:"started"`
	Minutes    int    `json:"minutes"`
	InjuryExit bool   `json:"injury_exit"`
	RedCard    bool   `json:"red_card"`
	WasHome    bool   `json:"was_home"`
	Kickoff    string `json:"kickoff"`
}

// PredictResponse mirrors the service's two-stage output: start probability
// (stage A) and minutes-given-start plus P90 (stage B).
type PredictResponse struct {
	PlayerID   uint            `json:"player_id"`
	Gameweek   int             `json:"gameweek"`
	StartProb  float64         `json:"start_prob"`
	XMinsStart float64         `json:"xmins_start"`
	P90        float64         `json:"p90"`
	Flags      map[string]bool `json:"flags"`
}

// HealthResponse reports service availability and the model version serving
// predictions.
type HealthResponse struct {
	Status       string `json:"status"`
	ModelVersion string `json:"model_version"`
}

func NewClient(cfg Config, logger *logrus.Logger) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RequestsPerSecond == 0 {
		cfg.RequestsPerSecond = 5
	}
	if cfg.RetryBudget == 0 {
		cfg.RetryBudget = 15 * time.Second
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 3
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "ml-service",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > cfg.BreakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"circuit":    name,
				"from_state": from.String(),
				"to_state":   to.String(),
			}).Info("ML service circuit breaker state changed")
		},
	})

	return &Client{
		httpClient:     &http.Client{Timeout: cfg.Timeout},
		baseURL:        cfg.BaseURL,
		limiter:        rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.RequestsPerSecond),
		circuitBreaker: cb,
		retryBudget:    cfg.RetryBudget,
		logger:         logger,
	}
}

// Predict requests a projection from the external service. Any failure is
// returned as an error; the predictor layer decides how to degrade.
func (c *Client) Predict(ctx context.Context, req PredictRequest) (*PredictResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter error: %w", err)
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal predict request: %w", err)
	}

	result, err := c.circuitBreaker.Execute(func() (interface{}, error) {
		return c.doPredict(ctx, payload)
	})
	if err != nil {
		return nil, err
	}
	return result.(*PredictResponse), nil
}

func (c *Client) doPredict(ctx context.Context, payload []byte) (*PredictResponse, error) {
	var response *PredictResponse

	operation := func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/predict", bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("creating request: %w", err))
		}
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			return fmt.Errorf("HTTP request failed: %w", err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("reading response body: %w", err)
		}

		if resp.StatusCode != http.StatusOK {
			err := fmt.Errorf("non-200 status code: %d", resp.StatusCode)
			if resp.StatusCode >= 400 && resp.StatusCode < 500 {
				// Client errors will not heal on retry
				return backoff.Permanent(err)
			}
			return err
		}

		var parsed PredictResponse
		if err := json.Unmarshal(body, &parsed); err != nil {
			return backoff.Permanent(fmt.Errorf("parsing predict response: %w", err))
		}
		response = &parsed
		return nil
	}

	backoffStrategy := backoff.NewExponentialBackOff()
	backoffStrategy.MaxElapsedTime = c.retryBudget

	if err := backoff.Retry(operation, backoff.WithContext(backoffStrategy, ctx)); err != nil {
		return nil, fmt.Errorf("after retries: %w", err)
	}
	return response, nil
}

// Health checks service availability and reports the serving model version.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return nil, fmt.Errorf("creating health request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("health check non-200 status code: %d", resp.StatusCode)
	}

	var health HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return nil, fmt.Errorf("parsing health response: %w", err)
	}
	return &health, nil
}
