package main

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"
)

type scoreRequest struct {
	Events []wireEvent `json:"events"`
}

type wireEvent struct {
	EventID  string `json:"event_id"`
	SourceID string `json:"source_id"`
	Level    string `json:"level"`
	Message  string `json:"message"`
}

type wireResult struct {
	Label        string  `json:"label"`
	AnomalyScore float64 `json:"anomaly_score"`
	ModelVersion string  `json:"model_version"`
}

func main() {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/api/v1/score", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var req scoreRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		results := make([]wireResult, 0, len(req.Events))
		for _, event := range req.Events {
			results = append(results, scoreEvent(event))
		}
		writeJSON(w, map[string]any{"results": results})
	})

	logger := log.New(log.Writer(), "scorer-mock ", log.LstdFlags|log.Lmicroseconds)
	srv := &http.Server{
		Addr:    ":8081",
		Handler: logRequests(logger, mux),
	}

	logger.Println("listening on :8081")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("server error: %v", err)
	}
}

// scoreEvent mimics the model service: keyword labels plus a severity-driven
// anomaly score.
func scoreEvent(event wireEvent) wireResult {
	message := strings.ToLower(event.Message)
	label := "normal"
	score := 0.1
	switch {
	case strings.Contains(message, "timeout") || strings.Contains(message, "deadline"):
		label, score = "latency", 0.7
	case strings.Contains(message, "refused") || strings.Contains(message, "connection"):
		label, score = "connectivity", 0.8
	case strings.Contains(message, "oom") || strings.Contains(message, "memory"):
		label, score = "resource", 0.75
	case event.Level == "error" || event.Level == "critical":
		label, score = "error_burst", 0.6
	}
	return wireResult{Label: label, AnomalyScore: score, ModelVersion: "mock-v1"}
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode error: %v", err)
	}
}

func logRequests(logger *log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		logger.Printf("%s %s %d %s", r.Method, r.URL.Path, rw.status, time.Since(start))
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
