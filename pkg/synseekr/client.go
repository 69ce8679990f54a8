package synseekr

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// ErrCircuitOpen is returned without contacting the service while the breaker is open.
var ErrCircuitOpen = errors.New("synseekr circuit breaker open")

// Breaker is the subset of a circuit breaker the client needs.
type Breaker interface {
	Allow() bool
	OnSuccess()
	OnFailure()
}

// Client SynSeekr HTTP client
type Client struct {
	baseURL    string
	apiKey     string
	tenantID   string
	httpClient *http.Client
	logger     *logrus.Logger
	config     *Config
	breaker    Breaker
}

// apiError is an HTTP-level failure; 5xx responses are retried.
type apiError struct {
	StatusCode int
	Message    string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("API error [%d]: %s", e.StatusCode, e.Message)
}

// NewClient creates a client; a nil breaker disables circuit breaking.
func NewClient(config *Config, breaker Breaker, logger *logrus.Logger) *Client {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = logrus.New()
	}

	return &Client{
		baseURL:  strings.TrimRight(config.BaseURL, "/"),
		apiKey:   config.APIKey,
		tenantID: config.TenantID,
		httpClient: &http.Client{
			Timeout:   config.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger:  logger,
		config:  config,
		breaker: breaker,
	}
}

// IsEnabled reports whether the service is configured for use.
func (c *Client) IsEnabled() bool {
	return c != nil && c.config.Enabled && c.baseURL != ""
}

func (c *Client) createRequest(ctx context.Context, method, endpoint string, body interface{}) (*http.Request, error) {
	url := fmt.Sprintf("%s%s", c.baseURL, endpoint)

	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if c.tenantID != "" {
		req.Header.Set("X-Tenant-ID", c.tenantID)
	}
	req.Header.Set("User-Agent", "Boardflow-SynSeekr-Client/1.0")

	return req, nil
}

// doRequest decodes 2xx and 4xx bodies into result; 4xx becomes an unsuccessful Result, not an error.
func (c *Client) doRequest(req *http.Request, result *Result) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}

	c.logger.Debugf("SynSeekr API Request: %s %s", req.Method, req.URL.String())
	c.logger.Debugf("SynSeekr API Response: %d %s", resp.StatusCode, string(body))

	if resp.StatusCode >= 500 {
		var errResp ErrorResponse
		if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != "" {
			return &apiError{StatusCode: resp.StatusCode, Message: errResp.Error}
		}
		return &apiError{StatusCode: resp.StatusCode, Message: string(body)}
	}

	if resp.StatusCode >= 400 {
		var errResp ErrorResponse
		if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != "" {
			*result = Result{Success: false, Error: errResp.Error, RequestID: errResp.RequestID}
			return nil
		}
		*result = Result{Success: false, Error: fmt.Sprintf("HTTP %d: %s", resp.StatusCode, string(body))}
		return nil
	}

	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) doRequestWithRetry(ctx context.Context, method, endpoint string, body interface{}) (*Result, error) {
	if c.breaker != nil && !c.breaker.Allow() {
		return nil, ErrCircuitOpen
	}

	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				c.onFailure()
				return nil, ctx.Err()
			case <-time.After(c.config.RetryDelay * time.Duration(attempt)):
			}
			c.logger.Warnf("SynSeekr API retry attempt %d/%d", attempt, c.config.MaxRetries)
		}

		req, err := c.createRequest(ctx, method, endpoint, body)
		if err != nil {
			c.onFailure()
			return nil, err
		}

		var result Result
		if err := c.doRequest(req, &result); err != nil {
			lastErr = err
			if attempt < c.config.MaxRetries && c.shouldRetry(err) {
				continue
			}
			break
		}

		if c.breaker != nil {
			c.breaker.OnSuccess()
		}
		return &result, nil
	}

	c.onFailure()
	return nil, lastErr
}

func (c *Client) onFailure() {
	if c.breaker != nil {
		c.breaker.OnFailure()
	}
}

// shouldRetry retries network failures and 5xx responses.
func (c *Client) shouldRetry(err error) bool {
	var apiErr *apiError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 500
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return strings.Contains(err.Error(), "http request failed")
}

func (c *Client) post(ctx context.Context, op, endpoint string, body interface{}) (*Result, error) {
	result, err := c.doRequestWithRetry(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}

// AnalyzeDocument runs full document analysis.
func (c *Client) AnalyzeDocument(ctx context.Context, req *DocumentRequest) (*Result, error) {
	if req.DocumentID == "" && req.Content == "" {
		return nil, fmt.Errorf("document ID or content is required")
	}
	return c.post(ctx, "analyze document", "/api/v1/documents/analyze", req)
}

// ExtractEntities extracts named entities from a document.
func (c *Client) ExtractEntities(ctx context.Context, req *EntityRequest) (*Result, error) {
	if req.DocumentID == "" && req.Content == "" {
		return nil, fmt.Errorf("document ID or content is required")
	}
	return c.post(ctx, "extract entities", "/api/v1/entities/extract", req)
}

// RAGQuery answers a question grounded in case documents.
func (c *Client) RAGQuery(ctx context.Context, req *RAGRequest) (*Result, error) {
	if req.Query == "" {
		return nil, fmt.Errorf("query is required")
	}
	if req.TopK <= 0 {
		req.TopK = 5
	}
	return c.post(ctx, "rag query", "/api/v1/rag/query", req)
}

func (c *Client) RunInvestigation(ctx context.Context, req *InvestigationRequest) (*Result, error) {
	if req.CaseID == "" {
		return nil, fmt.Errorf("case ID is required")
	}
	if req.Depth == "" {
		req.Depth = "standard"
	}
	return c.post(ctx, "run investigation", "/api/v1/investigations", req)
}

func (c *Client) DetectContradictions(ctx context.Context, req *ContradictionRequest) (*Result, error) {
	if req.CaseID == "" {
		return nil, fmt.Errorf("case ID is required")
	}
	return c.post(ctx, "detect contradictions", "/api/v1/contradictions/detect", req)
}

func (c *Client) ClassifyDocument(ctx context.Context, req *ClassifyRequest) (*Result, error) {
	if req.DocumentID == "" && req.Content == "" {
		return nil, fmt.Errorf("document ID or content is required")
	}
	return c.post(ctx, "classify document", "/api/v1/documents/classify", req)
}

func (c *Client) RunAgent(ctx context.Context, req *AgentRequest) (*Result, error) {
	if req.Agent == "" {
		return nil, fmt.Errorf("agent is required")
	}
	return c.post(ctx, "run agent", "/api/v1/agents/run", req)
}

func (c *Client) SearchDocuments(ctx context.Context, req *SearchRequest) (*Result, error) {
	if req.Query == "" {
		return nil, fmt.Errorf("query is required")
	}
	if req.Limit <= 0 {
		req.Limit = 10
	}
	return c.post(ctx, "search documents", "/api/v1/documents/search", req)
}

func (c *Client) GetTimelineEvents(ctx context.Context, req *TimelineRequest) (*Result, error) {
	if req.CaseID == "" {
		return nil, fmt.Errorf("case ID is required")
	}
	return c.post(ctx, "get timeline", "/api/v1/timeline", req)
}

// HealthCheck pings the service.
func (c *Client) HealthCheck(ctx context.Context) error {
	req, err := c.createRequest(ctx, http.MethodGet, "/api/v1/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	var health HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if health.Status != "healthy" && health.Status != "ok" {
		return fmt.Errorf("service unhealthy: %s", health.Status)
	}
	return nil
}

func (c *Client) GetStats() map[string]interface{} {
	return map[string]interface{}{
		"enabled":     c.IsEnabled(),
		"base_url":    c.baseURL,
		"tenant_id":   c.tenantID,
		"timeout":     c.config.Timeout,
		"max_retries": c.config.MaxRetries,
	}
}
