// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/compass/services/sync/engine"
)

const backendStream = `{"section":"myOKRTs","data":[{"id":"o1","type":"Objective","title":"Ship","progress":60,"cycle_qtr":"2025-Q3"}]}
{"section":"preferences","data":{"theme":"dark"}}
{"complete":true}
`

func newTestServer(t *testing.T) (*httptest.Server, *engine.Engine) {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/api/main-tree/stream", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(backendStream))
	})
	mux.HandleFunc("/api/calendar", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"calendar":{"events":[],"quarter":{}}}`))
	})
	backend := httptest.NewServer(mux)
	t.Cleanup(backend.Close)

	e, err := engine.New(engine.DefaultConfig(backend.URL))
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })

	api := httptest.NewServer(newRouter(e, slog.Default()))
	t.Cleanup(api.Close)
	return api, e
}

func getJSON(t *testing.T, url string, into any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if into != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(into))
	}
	return resp.StatusCode
}

func TestHealthz(t *testing.T) {
	api, _ := newTestServer(t)

	var body map[string]any
	status := getJSON(t, api.URL+"/healthz", &body)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])
	assert.NotEmpty(t, body["session_id"])
}

func TestGetMainTree(t *testing.T) {
	api, _ := newTestServer(t)

	var body struct {
		MainTree struct {
			MyOKRTs []struct {
				ID       string  `json:"id"`
				Progress float64 `json:"progress"`
			} `json:"myOKRTs"`
		} `json:"mainTree"`
	}
	status := getJSON(t, api.URL+"/v1/maintree", &body)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, body.MainTree.MyOKRTs, 1)
	assert.Equal(t, "o1", body.MainTree.MyOKRTs[0].ID)
}

func TestPostPatch(t *testing.T) {
	api, _ := newTestServer(t)

	// Prime the cache.
	require.Equal(t, http.StatusOK, getJSON(t, api.URL+"/v1/maintree", nil))

	patch := `{"action":"updateMyOKRT","data":{"id":"o1","updates":{"progress":95}}}`
	resp, err := http.Post(api.URL+"/v1/patch", "application/json", strings.NewReader(patch))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		MainTree struct {
			MyOKRTs []struct {
				Progress float64 `json:"progress"`
			} `json:"myOKRTs"`
		} `json:"mainTree"`
	}
	getJSON(t, api.URL+"/v1/maintree", &body)
	assert.Equal(t, float64(95), body.MainTree.MyOKRTs[0].Progress)
}

func TestPostPatchRejectsGarbage(t *testing.T) {
	api, _ := newTestServer(t)

	resp, err := http.Post(api.URL+"/v1/patch", "application/json", strings.NewReader("not json"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetConfidence(t *testing.T) {
	api, _ := newTestServer(t)

	var body struct {
		Scores  map[string]int `json:"scores"`
		Weights struct {
			ChildBlend float64 `json:"child_blend"`
		} `json:"weights"`
	}
	status := getJSON(t, api.URL+"/v1/confidence", &body)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, body.Scores, "o1")
	assert.Equal(t, 0.7, body.Weights.ChildBlend)
}

func TestPostInvalidate(t *testing.T) {
	api, e := newTestServer(t)

	require.Equal(t, http.StatusOK, getJSON(t, api.URL+"/v1/maintree", nil))
	before := e.SessionID()

	resp, err := http.Post(api.URL+"/v1/invalidate", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	assert.NotEqual(t, before, e.SessionID())
}

func TestMetricsEndpoint(t *testing.T) {
	api, _ := newTestServer(t)

	resp, err := http.Get(api.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
