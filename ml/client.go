package ml

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"refundflow/outbox"
)

// Client talks to the refund ETA model service. The service consumes status
// events to train its model and writes predictions back to eta_predictions.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient builds a client for the given base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// Handle delivers an outbox payload to the model service's event feed. It
// implements the outbox dispatcher's Handler. A 409 response is tagged as a
// duplicate effect; a "Model not trained yet" response is tagged as the
// known-benign not-ready precondition.
func (c *Client) Handle(ctx context.Context, eventType, aggregateKey string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/events", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("ml: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Event-Type", eventType)
	req.Header.Set("X-Aggregate-Key", aggregateKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("ml: post event: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	text := strings.TrimSpace(string(body))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusConflict:
		return &outbox.HandlerError{Kind: outbox.KindDuplicate, Msg: "ml: event already exists: " + text}
	case strings.Contains(strings.ToLower(text), "model not trained"):
		return &outbox.HandlerError{Kind: outbox.KindNotReady, Msg: "ml: " + text}
	}
	return fmt.Errorf("ml: event rejected status=%d body=%s", resp.StatusCode, text)
}

// ModelInfo reports the currently served model. Failures degrade to unknown.
func (c *Client) ModelInfo(ctx context.Context) (name, version string) {
	name, version = "unknown", "unavailable"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/model/info", nil)
	if err != nil {
		return name, version
	}

	resp, err := c.http.Do(req)
	if err != nil {
		log.Printf("ml_model_info_failed err=%v", err)
		return name, version
	}
	defer resp.Body.Close()

	var info struct {
		ModelName    string `json:"modelName"`
		ModelVersion string `json:"modelVersion"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		log.Printf("ml_model_info_failed err=%v", err)
		return name, version
	}
	if info.ModelName != "" {
		name = info.ModelName
	}
	if info.ModelVersion != "" {
		version = info.ModelVersion
	}
	return name, version
}
