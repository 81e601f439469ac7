package push

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/altenk/llmledger/cli/internal/config"
	"github.com/altenk/llmledger/internal/model"
)

// Client handles pushing ledgered events to the server
type Client struct {
	cfg        *config.Config
	httpClient *http.Client
}

// BatchRequest represents the batch ingestion API request body
type BatchRequest struct {
	ClientID   string                `json:"client_id"`
	ClientName string                `json:"client_name"`
	Events     []model.RawUsageEvent `json:"events"`
}

// BatchResponse represents the batch ingestion API response
type BatchResponse struct {
	Success  bool   `json:"success"`
	Message  string `json:"message,omitempty"`
	Inserted int64  `json:"inserted,omitempty"`
	Error    string `json:"error,omitempty"`
}

// LatestResponse represents the latest-event response
type LatestResponse struct {
	LatestTimestamp *time.Time `json:"latest_timestamp,omitempty"`
	Error           string     `json:"error,omitempty"`
}

// NewClient creates a new push client
func NewClient(cfg *config.Config) *Client {
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// GetLatest asks the server for the timestamp of its newest event from
// this client. Nil means the server has nothing yet.
func (c *Client) GetLatest() (*time.Time, error) {
	url := fmt.Sprintf("%s/api/events/latest?client_id=%s", c.cfg.Server, c.cfg.ClientID)

	req, err := http.NewRequest("GET", url, nil)
	if err != nil {
		return nil, err
	}

	req.Header.Set("X-API-Key", c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("server returned status %d", resp.StatusCode)
	}

	var latest LatestResponse
	if err := json.NewDecoder(resp.Body).Decode(&latest); err != nil {
		return nil, err
	}

	if latest.Error != "" {
		return nil, fmt.Errorf("%s", latest.Error)
	}

	return latest.LatestTimestamp, nil
}

// Push sends ledgered records to the server. Each record carries its
// already-computed cost as an override so the server ledgers the same
// number regardless of its own registry version.
func (c *Client) Push(records []model.LedgerRecord) (int64, error) {
	// Get hostname for client name
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "unknown"
	}

	events := make([]model.RawUsageEvent, len(records))
	for i, r := range records {
		cost := r.CostUSD
		ev := model.RawUsageEvent{
			Provider:    r.Provider,
			Model:       r.Model,
			Timestamp:   r.Timestamp.Format(time.RFC3339),
			Project:     r.Project,
			Environment: r.Environment,
			Feature:     r.Feature,
			ServiceTier: r.ServiceTier,
			Region:      r.Region,
			RequestID:   r.RequestID,
			Endpoint:    r.Endpoint,
		}
		if !r.PriceMissing {
			ev.CostOverrideUSD = &cost
		}
		if r.UsageRawJSON != "" {
			// Best effort; an unreadable payload still pushes, the
			// override carries the cost.
			_ = json.Unmarshal([]byte(r.UsageRawJSON), &ev.UsageRaw)
		}
		events[i] = ev
	}

	reqBody := BatchRequest{
		ClientID:   c.cfg.ClientID,
		ClientName: hostname,
		Events:     events,
	}

	data, err := json.Marshal(reqBody)
	if err != nil {
		return 0, err
	}

	url := fmt.Sprintf("%s/api/events/batch", c.cfg.Server)
	req, err := http.NewRequest("POST", url, bytes.NewReader(data))
	if err != nil {
		return 0, err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	var pushResp BatchResponse
	if err := json.NewDecoder(resp.Body).Decode(&pushResp); err != nil {
		return 0, err
	}

	if !pushResp.Success {
		errMsg := pushResp.Error
		if errMsg == "" {
			errMsg = pushResp.Message
		}
		return 0, fmt.Errorf("%s", errMsg)
	}

	return pushResp.Inserted, nil
}
