package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"altlens/pkg/api"
)

// sessionCookieName must match the server's session cookie.
const sessionCookieName = "altlens_session"

// Client handles API calls to the altlens server.
type Client struct {
	BaseURL    string
	SessionID  string
	HTTPClient *http.Client
}

// NewClient creates a client for the given base URL. sessionID may be empty;
// the server will mint one and the client records it from the response.
func NewClient(baseURL, sessionID string) *Client {
	return &Client{
		BaseURL:   baseURL,
		SessionID: sessionID,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// APIError represents an error response from the API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

// Submit sends POST /analyses to start an analysis job.
func (c *Client) Submit(req api.SubmitAnalysisRequest) (*api.SubmitAnalysisResponse, error) {
	var result api.SubmitAnalysisResponse
	if err := c.do(http.MethodPost, "/analyses", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Status sends GET /analyses/{id} to poll a job.
func (c *Client) Status(jobID string) (*api.JobStatusResponse, error) {
	var result api.JobStatusResponse
	if err := c.do(http.MethodGet, "/analyses/"+jobID, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) do(method, path string, body, result any) error {
	var reader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(bodyBytes)
	}

	httpReq, err := http.NewRequest(method, c.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Add("Content-Type", "application/json")
	if c.SessionID != "" {
		httpReq.AddCookie(&http.Cookie{Name: sessionCookieName, Value: c.SessionID})
	}

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	// Record the session the server minted so later calls stay in it.
	for _, cookie := range resp.Cookies() {
		if cookie.Name == sessionCookieName && cookie.Value != "" {
			c.SessionID = cookie.Value
		}
	}

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return &APIError{StatusCode: resp.StatusCode, Message: string(respBody)}
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}

	return nil
}
