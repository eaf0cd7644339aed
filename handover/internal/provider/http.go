package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-logr/logr"

	"github.com/ILLUVRSE/leo-handover/handover/internal/logging"
	"github.com/ILLUVRSE/leo-handover/handover/internal/models"
)

type HTTPConfig struct {
	BaseURL    string
	Path       string
	Timeout    time.Duration
	Retries    int
	HTTPClient *http.Client
}

// HTTP asks a remote decision service for a decision.
type HTTP struct {
	baseURL string
	path    string
	client  *http.Client
	timeout time.Duration
	retries int
	logger  logr.Logger
}

func NewHTTP(cfg HTTPConfig, logger logr.Logger) (*HTTP, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("decision provider base url required")
	}
	path := cfg.Path
	if path == "" {
		path = "/v1/decide"
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	retries := cfg.Retries
	if retries < 0 {
		retries = 0
	}
	return &HTTP{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		path:    path,
		client:  client,
		timeout: timeout,
		retries: retries,
		logger:  logger.WithName("provider"),
	}, nil
}

type decideRequest struct {
	DecisionID string                   `json:"decisionId"`
	Candidates []models.ScoredCandidate `json:"candidates"`
	Context    models.DecisionContext   `json:"context"`
}

func (c *HTTP) MakeDecision(ctx context.Context, scored []models.ScoredCandidate, dc models.DecisionContext) (models.Decision, error) {
	if len(scored) == 0 {
		return models.Decision{}, ErrNoCandidates
	}
	body, err := json.Marshal(decideRequest{DecisionID: dc.DecisionID, Candidates: scored, Context: dc})
	if err != nil {
		return models.Decision{}, fmt.Errorf("decision provider marshal request: %w", err)
	}

	start := time.Now()
	attempts := c.retries + 1
	var lastErr error
	for i := 0; i < attempts; i++ {
		if ctx.Err() != nil {
			return models.Decision{}, ctx.Err()
		}
		reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
		httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.baseURL+c.path, bytes.NewReader(body))
		if err != nil {
			cancel()
			return models.Decision{}, fmt.Errorf("decision provider build request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("X-Decision-ID", dc.DecisionID)
		resp, err := c.client.Do(httpReq)
		if err != nil {
			lastErr = err
		} else {
			decision, parseErr := decodeDecision(resp)
			resp.Body.Close()
			if parseErr == nil {
				cancel()
				if decision.DecisionTime == 0 {
					decision.DecisionTime = time.Since(start).Seconds()
				}
				return decision, nil
			}
			lastErr = parseErr
		}
		cancel()
		c.logger.V(logging.VERBOSE).Info("Decision request failed", "attempt", i+1, "err", lastErr.Error())
		if i < attempts-1 {
			select {
			case <-ctx.Done():
				return models.Decision{}, ctx.Err()
			case <-time.After(time.Duration(i+1) * 100 * time.Millisecond):
			}
		}
	}
	return models.Decision{}, fmt.Errorf("decision provider request failed: %w", lastErr)
}

func decodeDecision(resp *http.Response) (models.Decision, error) {
	if resp.StatusCode >= 500 {
		return models.Decision{}, fmt.Errorf("decision provider unavailable: %s", resp.Status)
	}
	if resp.StatusCode != http.StatusOK {
		return models.Decision{}, fmt.Errorf("decision provider rejected request: %s", resp.Status)
	}
	var d models.Decision
	if err := json.NewDecoder(resp.Body).Decode(&d); err != nil {
		return models.Decision{}, fmt.Errorf("decision provider decode response: %w", err)
	}
	if d.SelectedSatellite == "" {
		return models.Decision{}, fmt.Errorf("decision provider returned no satellite")
	}
	return d, nil
}
