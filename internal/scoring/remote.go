package scoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/miradorstack/mirador-sentinel/internal/models"
)

// RemoteScorer calls an external model-serving endpoint over HTTP. It is the
// production implementation of the Scorer capability.
type RemoteScorer struct {
	baseURL    string
	scorePath  string
	httpClient *http.Client
}

// NewRemoteScorer constructs a client targeting the configured scoring service.
func NewRemoteScorer(baseURL, scorePath string, timeout time.Duration) *RemoteScorer {
	if scorePath == "" {
		scorePath = "/api/v1/score"
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &RemoteScorer{
		baseURL:   strings.TrimRight(baseURL, "/"),
		scorePath: scorePath,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Score submits the batch and decodes per-event results, preserving order.
func (c *RemoteScorer) Score(ctx context.Context, batch []models.LogEvent) ([]models.ScoreResult, error) {
	if c == nil || c.baseURL == "" {
		return nil, &UnavailableError{Reason: "scoring endpoint not configured"}
	}
	if len(batch) == 0 {
		return nil, nil
	}

	type wireEvent struct {
		EventID   string            `json:"event_id"`
		SourceID  string            `json:"source_id"`
		Timestamp string            `json:"timestamp"`
		Level     string            `json:"level"`
		Message   string            `json:"message"`
		Fields    map[string]string `json:"fields,omitempty"`
	}

	events := make([]wireEvent, 0, len(batch))
	for _, event := range batch {
		events = append(events, wireEvent{
			EventID:   event.ID,
			SourceID:  event.SourceID,
			Timestamp: event.Timestamp.Format(time.RFC3339Nano),
			Level:     string(event.Level),
			Message:   event.Message,
			Fields:    event.Fields,
		})
	}

	body, err := json.Marshal(map[string]interface{}{"events": events})
	if err != nil {
		return nil, fmt.Errorf("encode score request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+c.scorePath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build score request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &UnavailableError{Reason: "score request failed", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &UnavailableError{Reason: fmt.Sprintf("score endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))}
	}

	var response struct {
		Results []struct {
			Label        string  `json:"label"`
			AnomalyScore float64 `json:"anomaly_score"`
			ModelVersion string  `json:"model_version"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, &UnavailableError{Reason: "decode score response", Err: err}
	}

	results := make([]models.ScoreResult, 0, len(response.Results))
	for _, r := range response.Results {
		results = append(results, models.ScoreResult{
			Label:        r.Label,
			AnomalyScore: r.AnomalyScore,
			ModelVersion: r.ModelVersion,
		})
	}
	if err := ValidateResults(batch, results); err != nil {
		return nil, err
	}
	return results, nil
}
