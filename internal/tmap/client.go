package tmap

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
)

const (
	// MaxViaPoints is the provider's hard limit on intermediate stops per call
	MaxViaPoints = 100

	// DefaultMaxConcurrent bounds in-flight provider calls process-wide
	DefaultMaxConcurrent = 4

	routePath      = "/tmap/routes/routeSequential100?version=1"
	maxAttempts    = 3
	retryBaseDelay = 500 * time.Millisecond
	attemptTimeout = 15 * time.Second
	bodyLogLimit   = 512
)

// Point is one named coordinate of a provider request. DwellSecs > 0 sets
// a per-via dwell overriding the request-wide default.
type Point struct {
	ID        string
	Name      string
	Lon       float64
	Lat       float64
	DwellSecs int
}

// RouteRequest describes one sequential-routing call: a start, an end and
// the ordered via stops between them
type RouteRequest struct {
	Start        Point
	End          Point
	Vias         []Point
	SearchOption int
	CarType      int
	DepartAt     time.Time
	ViaDwellSecs int
}

// DirectionsProvider turns an ordered stop sequence into road geometry
// with timing annotations
type DirectionsProvider interface {
	Route(ctx context.Context, req *RouteRequest) (*RouteResponse, error)
}

// ErrInvalidRequest reports a malformed provider request (caller's fault,
// never retried)
type ErrInvalidRequest struct {
	Reason string
}

func (e *ErrInvalidRequest) Error() string {
	return fmt.Sprintf("invalid provider request: %s", e.Reason)
}

// ErrProviderUnavailable reports a provider outage after retries were
// exhausted. Status is the last HTTP status, 0 on network failure.
type ErrProviderUnavailable struct {
	Status   int
	Attempts int
	Reason   string
}

func (e *ErrProviderUnavailable) Error() string {
	return fmt.Sprintf("directions provider unavailable after %d attempts: %s", e.Attempts, e.Reason)
}

// Client is the HTTP directions provider. A single Client is shared
// process-wide; its limiter bounds concurrent provider calls across all
// projects and scenarios.
type Client struct {
	baseURL    string
	appKey     string
	httpClient *http.Client
	limiter    chan struct{}
}

// NewClient creates a directions client. maxConcurrent <= 0 uses the
// default limit.
func NewClient(baseURL, appKey string, maxConcurrent int) *Client {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}
	return &Client{
		baseURL: baseURL,
		appKey:  appKey,
		httpClient: &http.Client{
			Timeout: attemptTimeout,
		},
		limiter: make(chan struct{}, maxConcurrent),
	}
}

func (c *Client) validate(req *RouteRequest) error {
	if c.appKey == "" {
		return &ErrInvalidRequest{Reason: "app key is not configured"}
	}
	if req == nil {
		return &ErrInvalidRequest{Reason: "request is nil"}
	}
	if len(req.Vias) > MaxViaPoints {
		return &ErrInvalidRequest{Reason: fmt.Sprintf("%d via points exceeds the provider limit of %d", len(req.Vias), MaxViaPoints)}
	}
	if req.Start.Name == "" || req.End.Name == "" {
		return &ErrInvalidRequest{Reason: "start and end names are required"}
	}
	if req.DepartAt.IsZero() {
		return &ErrInvalidRequest{Reason: "departure time is required"}
	}
	return nil
}

// Route calls the sequential routing endpoint, retrying on transient
// failures. Waiting on the concurrency limiter respects ctx.
func (c *Client) Route(ctx context.Context, req *RouteRequest) (*RouteResponse, error) {
	if err := c.validate(req); err != nil {
		return nil, err
	}

	select {
	case c.limiter <- struct{}{}:
		defer func() { <-c.limiter }()
	case <-ctx.Done():
		return nil, &ErrProviderUnavailable{Attempts: 0, Reason: ctx.Err().Error()}
	}

	body, err := json.Marshal(buildWireRequest(req))
	if err != nil {
		return nil, fmt.Errorf("failed to encode provider request: %w", err)
	}

	// Short correlation id ties request and response log lines together
	reqID := uuid.NewString()[:8]
	log.Printf("[TMAP] Route request: id=%s start=%s end=%s vias=%d option=%d carType=%d",
		reqID, req.Start.ID, req.End.ID, len(req.Vias), req.SearchOption, req.CarType)

	var lastStatus int
	var lastReason string
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			delay := retryBaseDelay << (attempt - 2)
			log.Printf("[TMAP] Retrying: id=%s attempt=%d delay=%v reason=%s", reqID, attempt, delay, lastReason)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, &ErrProviderUnavailable{Status: lastStatus, Attempts: attempt - 1, Reason: ctx.Err().Error()}
			}
		}

		resp, retryable, err := c.attempt(ctx, reqID, attempt, body)
		if err == nil {
			return resp, nil
		}
		if !retryable {
			return nil, err
		}
		if pe, ok := err.(*ErrProviderUnavailable); ok {
			lastStatus = pe.Status
			lastReason = pe.Reason
		} else {
			lastReason = err.Error()
		}
		if ctx.Err() != nil {
			break
		}
	}

	log.Printf("[ERROR] Provider exhausted retries: id=%s attempts=%d status=%d reason=%s",
		reqID, maxAttempts, lastStatus, lastReason)
	return nil, &ErrProviderUnavailable{Status: lastStatus, Attempts: maxAttempts, Reason: lastReason}
}

// attempt makes one provider call. The bool result reports whether the
// failure is retryable.
func (c *Client) attempt(ctx context.Context, reqID string, attempt int, body []byte) (*RouteResponse, bool, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, attemptTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, c.baseURL+routePath, bytes.NewReader(body))
	if err != nil {
		return nil, false, fmt.Errorf("failed to create provider request: %w", err)
	}
	httpReq.Header.Set("accept", "application/json")
	httpReq.Header.Set("content-type", "application/json")
	httpReq.Header.Set("appKey", c.appKey)

	start := time.Now()
	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, true, &ErrProviderUnavailable{Attempts: attempt, Reason: err.Error()}
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(httpResp.Body, bodyLogLimit))
		reason := fmt.Sprintf("HTTP %d: %s", httpResp.StatusCode, string(respBody))

		if httpResp.StatusCode == http.StatusTooManyRequests || httpResp.StatusCode >= 500 {
			return nil, true, &ErrProviderUnavailable{Status: httpResp.StatusCode, Attempts: attempt, Reason: reason}
		}
		// Other 4xx means the request itself is wrong; retrying cannot help
		log.Printf("[ERROR] Provider rejected request: id=%s status=%d body=%s", reqID, httpResp.StatusCode, string(respBody))
		return nil, false, &ErrInvalidRequest{Reason: reason}
	}

	var resp RouteResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, true, &ErrProviderUnavailable{Status: httpResp.StatusCode, Attempts: attempt, Reason: fmt.Sprintf("failed to decode response: %v", err)}
	}

	log.Printf("[TMAP] Route response: id=%s attempt=%d features=%d elapsed=%v",
		reqID, attempt, len(resp.Features), time.Since(start))
	return &resp, true, nil
}
