package scoring

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/miradorstack/mirador-sentinel/internal/models"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func testBatch() []models.LogEvent {
	return []models.LogEvent{
		{ID: "ev-1", SourceID: "web-1", Timestamp: time.Unix(1_700_000_000, 0), Level: models.LevelError, Message: "connection refused"},
		{ID: "ev-2", SourceID: "web-1", Timestamp: time.Unix(1_700_000_010, 0), Level: models.LevelInfo, Message: "request ok"},
	}
}

func TestRemoteScorerPreservesOrder(t *testing.T) {
	client := NewRemoteScorer("https://scorer.example.com", "", time.Second)
	client.httpClient = &http.Client{Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
		if req.URL.Path != "/api/v1/score" {
			t.Fatalf("unexpected path: %s", req.URL.Path)
		}
		var body struct {
			Events []struct {
				EventID string `json:"event_id"`
			} `json:"events"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if len(body.Events) != 2 || body.Events[0].EventID != "ev-1" {
			t.Fatalf("unexpected request events: %+v", body.Events)
		}
		payload := map[string]any{
			"results": []map[string]any{
				{"label": "connectivity", "anomaly_score": 0.92, "model_version": "clf-7"},
				{"label": "normal", "anomaly_score": 0.05, "model_version": "clf-7"},
			},
		}
		data, _ := json.Marshal(payload)
		return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(bytes.NewReader(data)), Header: make(http.Header)}, nil
	})}

	results, err := client.Score(context.Background(), testBatch())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Label != "connectivity" || results[0].AnomalyScore != 0.92 {
		t.Fatalf("unexpected first result: %+v", results[0])
	}
}

func TestRemoteScorerUnavailableOnServerError(t *testing.T) {
	client := NewRemoteScorer("https://scorer.example.com", "", time.Second)
	client.httpClient = &http.Client{Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
		return &http.Response{StatusCode: http.StatusServiceUnavailable, Body: io.NopCloser(bytes.NewReader([]byte("overloaded"))), Header: make(http.Header)}, nil
	})}

	_, err := client.Score(context.Background(), testBatch())
	var unavailable *UnavailableError
	if !errors.As(err, &unavailable) {
		t.Fatalf("expected UnavailableError, got %v", err)
	}
}

func TestRemoteScorerRejectsLengthMismatch(t *testing.T) {
	client := NewRemoteScorer("https://scorer.example.com", "", time.Second)
	client.httpClient = &http.Client{Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
		data, _ := json.Marshal(map[string]any{"results": []map[string]any{{"label": "normal"}}})
		return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(bytes.NewReader(data)), Header: make(http.Header)}, nil
	})}

	_, err := client.Score(context.Background(), testBatch())
	var unavailable *UnavailableError
	if !errors.As(err, &unavailable) {
		t.Fatalf("expected UnavailableError on length mismatch, got %v", err)
	}
}

func TestStubScorerDeterministic(t *testing.T) {
	stub := NewStubScorer()
	results, err := stub.Score(context.Background(), testBatch())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if results[0].Label != "connectivity" {
		t.Fatalf("expected connectivity label, got %s", results[0].Label)
	}
	if results[1].AnomalyScore >= results[0].AnomalyScore {
		t.Fatalf("expected info event to score below error event: %+v", results)
	}
}
