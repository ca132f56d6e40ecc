// mock-backends emulates the mesh traffic-split admin API, the metrics
// backend signal query API, and a webhook sink so shiftgate can run locally
// without a real mesh.
package main

import (
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"
)

type trafficSplit struct {
	Service     string    `json:"service"`
	BlueWeight  int       `json:"blue_weight"`
	GreenWeight int       `json:"green_weight"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type splitStore struct {
	mu     sync.Mutex
	splits map[string]trafficSplit
}

func (s *splitStore) get(service string) trafficSplit {
	s.mu.Lock()
	defer s.mu.Unlock()
	if split, ok := s.splits[service]; ok {
		return split
	}
	// Unseen services start with all traffic on blue.
	return trafficSplit{Service: service, BlueWeight: 100, GreenWeight: 0, UpdatedAt: time.Now().UTC()}
}

func (s *splitStore) set(split trafficSplit) {
	s.mu.Lock()
	defer s.mu.Unlock()
	split.UpdatedAt = time.Now().UTC()
	s.splits[split.Service] = split
}

func main() {
	var (
		addr      = flag.String("addr", ":9000", "listen address")
		errorRate = flag.Float64("signal-value", 0.5, "value returned for every signal query")
		samples   = flag.Int("signal-samples", 25, "sample count returned for every signal query")
		flaky     = flag.Bool("flaky", false, "fail every third split write with 503")
	)
	flag.Parse()

	store := &splitStore{splits: make(map[string]trafficSplit)}
	var writeCount int
	var writeMu sync.Mutex

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/api/v1/traffic-splits/", func(w http.ResponseWriter, r *http.Request) {
		service := strings.TrimPrefix(r.URL.Path, "/api/v1/traffic-splits/")
		if service == "" {
			http.Error(w, "service required", http.StatusBadRequest)
			return
		}
		switch r.Method {
		case http.MethodGet:
			writeJSON(w, store.get(service))
		case http.MethodPut:
			if *flaky {
				writeMu.Lock()
				writeCount++
				fail := writeCount%3 == 0
				writeMu.Unlock()
				if fail {
					http.Error(w, "simulated mesh outage", http.StatusServiceUnavailable)
					return
				}
			}
			var split trafficSplit
			if err := json.NewDecoder(r.Body).Decode(&split); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			if split.BlueWeight+split.GreenWeight != 100 {
				http.Error(w, "weights must sum to 100", http.StatusBadRequest)
				return
			}
			split.Service = service
			store.set(split)
			log.Printf("split %s: blue=%d green=%d", service, split.BlueWeight, split.GreenWeight)
			w.WriteHeader(http.StatusNoContent)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})

	mux.HandleFunc("/api/v1/signal/query", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var query struct {
			Service       string `json:"service"`
			Signal        string `json:"signal"`
			WindowSeconds int    `json:"window_seconds"`
		}
		if err := json.NewDecoder(r.Body).Decode(&query); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		log.Printf("signal query %s for %s over %ds", query.Signal, query.Service, query.WindowSeconds)
		writeJSON(w, map[string]any{
			"value":   *errorRate,
			"samples": *samples,
		})
	})

	mux.HandleFunc("/webhook", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var event map[string]any
		if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		log.Printf("webhook event: kind=%v service=%v message=%v", event["kind"], event["service"], event["message"])
		w.WriteHeader(http.StatusOK)
	})

	log.Printf("mock backends listening on %s", *addr)
	if err := http.ListenAndServe(*addr, mux); err != nil {
		log.Fatal(err)
	}
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode response: %v", err)
	}
}
