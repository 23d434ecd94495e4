// Package lab files post-analysis assay requests with the laboratory system.
// A channel whose dosing left a deferred top-up needs a fresh analysis before the
// top-up is charged; the request tells the lab which elements to measure.
package lab

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/MikeSquared-Agency/Crucible/internal/alloy"
)

type AssayRequest struct {
	RunID           string             `json:"run_id"`
	SheetID         string             `json:"sheet_id,omitempty"`
	Channel         string             `json:"channel"`
	InstrumentGroup string             `json:"instrument_group"`
	Elements        []alloy.Element    `json:"elements"`
	TopUpGrams      map[string]float64 `json:"topup_g,omitempty"`
	RequestedAt     time.Time          `json:"requested_at"`
}

// AssayTicket is the lab's acknowledgement of a request.
type AssayTicket struct {
	ID     string `json:"id"`
	Status string `json:"status"` // queued, sampling, measured, cancelled
}

type Client interface {
	RequestAssay(ctx context.Context, req AssayRequest) (*AssayTicket, error)
	GetAssay(ctx context.Context, ticketID string) (*AssayTicket, error)
}

type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewHTTPClient(baseURL, token string) *HTTPClient {
	return &HTTPClient{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *HTTPClient) doReq(ctx context.Context, method, path string, body interface{}) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("lab %s %s: %d %s", method, path, resp.StatusCode, string(respBody))
	}
	return respBody, nil
}

func (c *HTTPClient) RequestAssay(ctx context.Context, req AssayRequest) (*AssayTicket, error) {
	data, err := c.doReq(ctx, http.MethodPost, "/api/v1/assays", req)
	if err != nil {
		return nil, err
	}
	var ticket AssayTicket
	if err := json.Unmarshal(data, &ticket); err != nil {
		return nil, fmt.Errorf("decode assay ticket: %w", err)
	}
	return &ticket, nil
}

func (c *HTTPClient) GetAssay(ctx context.Context, ticketID string) (*AssayTicket, error) {
	data, err := c.doReq(ctx, http.MethodGet, "/api/v1/assays/"+ticketID, nil)
	if err != nil {
		return nil, err
	}
	var ticket AssayTicket
	if err := json.Unmarshal(data, &ticket); err != nil {
		return nil, fmt.Errorf("decode assay ticket: %w", err)
	}
	return &ticket, nil
}
