// Copyright 2026 The Maelstrom Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/maelstrom-ci/maelstrom/internal/broker"
)

// serveStatus runs the broker's read-only JSON status surface (spec
// §6), a plain-HTTP simplification of the reference fleet
// controller's unauthenticated "status" action: no grants, no
// socket — just GET requests against a handful of routes, since
// Maelstrom carries no authorization model of its own to enforce.
func serveStatus(ctx context.Context, port int, driver *broker.Driver) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		snap := driver.Snapshot()
		writeJSON(w, statusResponse{Workers: len(snap.Workers), Jobs: len(snap.Jobs)})
	})
	mux.HandleFunc("/workers", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, driver.Snapshot().Workers)
	})
	mux.HandleFunc("/jobs", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, driver.Snapshot().Jobs)
	})

	server := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}

	done := make(chan error, 1)
	go func() { done <- server.ListenAndServe() }()

	select {
	case <-ctx.Done():
		return server.Close()
	case err := <-done:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// statusResponse is the response to GET /status: a minimal liveness
// and cardinality summary, deliberately no more detailed than that —
// per-worker and per-job detail live at /workers and /jobs.
type statusResponse struct {
	Workers int `json:"workers"`
	Jobs    int `json:"jobs"`
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
