package hours

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"
)

// Request describes one completed attendance session to attribute.
type Request struct {
	OrgID        string    `json:"org_id"`
	ChildID      string    `json:"child_id"`
	AttendanceID string    `json:"attendance_id"`
	CheckInTime  time.Time `json:"check_in_time"`
	CheckOutTime time.Time `json:"check_out_time"`
	Date         string    `json:"date"`
}

// Result is the billing service's answer. Errors are non-fatal attribution
// problems (program not configured, time outside the program window) that the
// caller surfaces as warnings.
type Result struct {
	Hours     float64  `json:"hours"`
	ProgramID string   `json:"program_id,omitempty"`
	Errors    []string `json:"errors,omitempty"`
}

// Client calls the program-hours service owned by billing/compliance. The
// attendance core never lets a failure here affect a committed checkout.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Skip    bool
}

// New creates a client. With skip enabled (dev), hours are computed locally
// and no network call is made.
func New(baseURL string, skip bool) *Client {
	return &Client{
		BaseURL: baseURL,
		Skip:    skip,
		HTTP:    &http.Client{Timeout: 10 * time.Second},
	}
}

// RecordProgramHours reports a session's duration for subsidy compliance.
func (c *Client) RecordProgramHours(ctx context.Context, req Request) (*Result, error) {
	if req.CheckInTime.IsZero() || req.CheckOutTime.IsZero() {
		return nil, fmt.Errorf("check-in and check-out times required")
	}
	if req.CheckOutTime.Before(req.CheckInTime) {
		return nil, fmt.Errorf("check-out precedes check-in")
	}
	if c.Skip {
		return &Result{Hours: roundHours(req.CheckOutTime.Sub(req.CheckInTime))}, nil
	}

	body, _ := json.Marshal(req)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/program-hours", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("program hours request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("program hours service error %s: %s", resp.Status, string(respBody))
	}

	var out Result
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &out, nil
}

// Health checks if the program-hours service is available.
func (c *Client) Health(ctx context.Context) error {
	if c.Skip {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("program hours service unavailable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("program hours service unhealthy: %s", resp.Status)
	}
	return nil
}

func roundHours(d time.Duration) float64 {
	return math.Round(d.Hours()*100) / 100
}
