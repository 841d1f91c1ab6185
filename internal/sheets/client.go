// Package sheets talks to the spreadsheet-fetch service that proxies partner
// Google Sheets. The service owns the OAuth dance; this client only exchanges
// JSON over HTTP.
package sheets

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewClient(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}
}

type FetchRequest struct {
	SpreadsheetID string `json:"spreadsheet_id"`
	SheetName     string `json:"sheet_name"`
	StartRow      int    `json:"start_row"`
	MaxRows       int    `json:"max_rows"`
}

type FetchResult struct {
	Success   bool       `json:"success"`
	Error     string     `json:"error,omitempty"`
	Headers   []string   `json:"headers"`
	Rows      [][]string `json:"rows"`
	TotalRows int        `json:"total_rows"`
}

func (c *Client) FetchRows(ctx context.Context, req FetchRequest) (FetchResult, error) {
	if c.baseURL == "" {
		return FetchResult{}, fmt.Errorf("sheet fetch service is not configured")
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return FetchResult{}, fmt.Errorf("marshal fetch request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/fetch", bytes.NewReader(payload))
	if err != nil {
		return FetchResult{}, fmt.Errorf("build fetch request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return FetchResult{}, fmt.Errorf("call sheet fetch service: %w", err)
	}
	defer resp.Body.Close()

	var result FetchResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return FetchResult{}, fmt.Errorf("decode fetch response: %w", err)
	}
	if resp.StatusCode != http.StatusOK || !result.Success {
		message := result.Error
		if message == "" {
			message = fmt.Sprintf("status %d", resp.StatusCode)
		}
		return FetchResult{}, fmt.Errorf("sheet fetch failed: %s", message)
	}
	return result, nil
}
