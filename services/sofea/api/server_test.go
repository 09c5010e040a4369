// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minghao2016/OSPREY3/services/sofea"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func report(sweep int64) sofea.SweepReport {
	return sofea.SweepReport{
		RunID:          "run-1",
		Sweep:          sweep,
		Finished:       time.Unix(1700000000+sweep, 0).UTC(),
		States:         []sofea.StateStats{{State: "complex", Read: sweep}},
		FringeNodes:    25,
		FringeCapacity: 100,
	}
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	s.Handler().ServeHTTP(w, req)
	return w
}

// =============================================================================
// Handler Tests
// =============================================================================

func TestHealth(t *testing.T) {
	s := New(Config{})
	w := get(t, s, "/v1/sofea/health")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "application/json")

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
}

func TestStatusBeforeFirstSweep(t *testing.T) {
	s := New(Config{})
	w := get(t, s, "/v1/sofea/status")
	require.Equal(t, http.StatusOK, w.Code)

	var resp StatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, PhaseRunning, resp.Phase)
	assert.Nil(t, resp.Last)
	assert.Zero(t, resp.Sweeps)
}

func TestStatusAfterSweeps(t *testing.T) {
	s := New(Config{})
	s.ObserveSweep(report(1))
	s.ObserveSweep(report(2))

	var resp StatusResponse
	require.NoError(t, json.Unmarshal(get(t, s, "/v1/sofea/status").Body.Bytes(), &resp))
	assert.Equal(t, "run-1", resp.RunID)
	assert.Equal(t, int64(2), resp.Sweeps)
	assert.InDelta(t, 0.25, resp.FringeFill, 1e-12)
	require.NotNil(t, resp.Last)
	assert.Equal(t, int64(2), resp.Last.States[0].Read)
}

func TestFinish(t *testing.T) {
	tests := []struct {
		name   string
		reason sofea.StopReason
		err    error
		want   Phase
	}{
		{"criterion", sofea.StopCriterion, nil, PhaseFinished},
		{"cancelled", sofea.StopCancelled, context.Canceled, PhaseFinished},
		{"failed", "", errors.New("disk full"), PhaseFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(Config{})
			s.Finish(tt.reason, tt.err)

			var resp StatusResponse
			require.NoError(t, json.Unmarshal(get(t, s, "/v1/sofea/status").Body.Bytes(), &resp))
			assert.Equal(t, tt.want, resp.Phase)
			assert.Equal(t, tt.reason, resp.StopReason)
			if tt.err != nil {
				assert.Equal(t, tt.err.Error(), resp.Error)
			}
		})
	}
}

func TestSweepsHistory(t *testing.T) {
	s := New(Config{History: 3})
	for i := int64(1); i <= 5; i++ {
		s.ObserveSweep(report(i))
	}

	var resp SweepsResponse
	require.NoError(t, json.Unmarshal(get(t, s, "/v1/sofea/sweeps").Body.Bytes(), &resp))
	require.Len(t, resp.Sweeps, 3)
	assert.Equal(t, int64(3), resp.Sweeps[0].Sweep)
	assert.Equal(t, int64(5), resp.Sweeps[2].Sweep)

	resp = SweepsResponse{}
	require.NoError(t, json.Unmarshal(get(t, s, "/v1/sofea/sweeps?limit=1").Body.Bytes(), &resp))
	require.Len(t, resp.Sweeps, 1)
	assert.Equal(t, int64(5), resp.Sweeps[0].Sweep)

	for _, bad := range []string{"0", "-2", "abc"} {
		w := get(t, s, "/v1/sofea/sweeps?limit="+bad)
		assert.Equal(t, http.StatusBadRequest, w.Code, "limit=%s", bad)
	}
}

func TestMetricsHandler(t *testing.T) {
	custom := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "custom_metric 1\n")
	})
	s := New(Config{Metrics: custom})
	w := get(t, s, "/metrics")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "custom_metric 1")

	w = get(t, New(Config{}), "/metrics")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

// =============================================================================
// Lifecycle Tests
// =============================================================================

func TestStartShutdown(t *testing.T) {
	s := New(Config{Addr: "127.0.0.1:0"})
	assert.Empty(t, s.Addr())
	require.NoError(t, s.Start())
	assert.ErrorIs(t, s.Start(), ErrAlreadyStarted)

	addr := s.Addr()
	require.NotEmpty(t, addr)

	resp, err := http.Get("http://" + addr + "/v1/sofea/health")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "healthy")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))
	require.NoError(t, s.Shutdown(ctx), "second shutdown is a no-op")
}

func TestObserverWiring(t *testing.T) {
	s := New(Config{})
	var obs sofea.SweepObserver = s
	obs.ObserveSweep(report(7))

	var resp StatusResponse
	require.NoError(t, json.Unmarshal(get(t, s, "/v1/sofea/status").Body.Bytes(), &resp))
	assert.Equal(t, int64(7), resp.Sweeps)
}
