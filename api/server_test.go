package api

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudchase/ollama-organizer/organizer"
	"github.com/cloudchase/ollama-organizer/registry"
	"github.com/cloudchase/ollama-organizer/registry/registrytest"
)

func newTestServer(t *testing.T, outputRoot string) (*Server, *registrytest.Source, *httptest.Server) {
	t.Helper()
	src := registrytest.NewSource(t)
	src.AddModel("llama3", "8b", 2)
	src.AddModel("qwen", "7b", 1)

	mgr := registry.NewModelManager(src.Store)
	srv := NewServer(mgr, organizer.NewExecutor(src.Store), Config{OutputRoot: outputRoot, Concurrency: 2})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, src, ts
}

func doJSON(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, url, r)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func readEvents(t *testing.T, r io.Reader) []map[string]any {
	t.Helper()
	var events []map[string]any
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		var e map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &e), sc.Text())
		events = append(events, e)
	}
	require.NoError(t, sc.Err())
	return events
}

func TestHealth(t *testing.T) {
	_, src, ts := newTestServer(t, t.TempDir())

	resp := doJSON(t, http.MethodGet, ts.URL+"/api/health", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, "ok", got.Status)
	assert.Equal(t, src.Store.LibraryDir(), got.Library)
	assert.False(t, got.Busy)
}

func TestListModels(t *testing.T) {
	_, _, ts := newTestServer(t, t.TempDir())

	resp := doJSON(t, http.MethodGet, ts.URL+"/api/models", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got ListResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	require.Len(t, got.Models, 2)
	assert.Equal(t, "llama3", got.Models[0].Model)
	assert.Equal(t, 3, got.Models[0].Blobs)
	assert.False(t, got.Models[0].BackedUp)
	assert.Equal(t, "qwen", got.Models[1].Model)
}

func TestShowVersion(t *testing.T) {
	_, _, ts := newTestServer(t, t.TempDir())

	resp := doJSON(t, http.MethodGet, ts.URL+"/api/models/llama3/8b", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got ShowResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, "8b", got.Version)
	require.NotNil(t, got.Manifest)
	assert.Len(t, got.Manifest.Layers, 2)
	assert.Nil(t, got.Record)

	resp = doJSON(t, http.MethodGet, ts.URL+"/api/models/llama3/70b", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestOrganizeStreamsEvents(t *testing.T) {
	out := t.TempDir()
	_, _, ts := newTestServer(t, out)

	resp := doJSON(t, http.MethodPost, ts.URL+"/api/organize", OrganizeRequest{All: true})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/x-ndjson", resp.Header.Get("Content-Type"))

	events := readEvents(t, resp.Body)
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, "summary", last["kind"])
	summary := last["summary"].(map[string]any)
	assert.EqualValues(t, 2, summary["succeeded"])
	assert.EqualValues(t, 5, summary["blobs_copied"])
	assert.FileExists(t, organizer.RecordPath(out))

	// A second identical batch only skips.
	resp = doJSON(t, http.MethodPost, ts.URL+"/api/organize", OrganizeRequest{
		Tasks: []organizer.Task{{Model: "qwen", Version: "7b"}},
	})
	events = readEvents(t, resp.Body)
	assert.Equal(t, "skipped", events[0]["kind"])

	resp = doJSON(t, http.MethodGet, ts.URL+"/api/models/qwen/7b", nil)
	var show ShowResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&show))
	require.NotNil(t, show.Record)
}

func TestOrganizeReportsTaskFailures(t *testing.T) {
	out := t.TempDir()
	_, src, ts := newTestServer(t, out)
	m, err := src.Store.ResolveManifest("qwen", "7b")
	require.NoError(t, err)
	src.RemoveBlob(m.Layers[0].Digest)

	resp := doJSON(t, http.MethodPost, ts.URL+"/api/organize", OrganizeRequest{Models: []string{"llama3", "qwen"}})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var failed []map[string]any
	for _, e := range readEvents(t, resp.Body) {
		if e["kind"] == "failed" {
			failed = append(failed, e)
		}
	}
	require.Len(t, failed, 1)
	assert.Equal(t, "qwen", failed[0]["model"])
	assert.Contains(t, failed[0]["error"], "qwen/7b -> ")
	assert.FileExists(t, filepath.Join(out, organizer.FailureLogFileName))
}

func TestOrganizeRejectsBadRequests(t *testing.T) {
	_, _, ts := newTestServer(t, t.TempDir())

	tests := []struct {
		name string
		body any
	}{
		{"empty", OrganizeRequest{}},
		{"invalid task", OrganizeRequest{Tasks: []organizer.Task{{Model: "..", Version: "8b"}}}},
		{"unknown model", OrganizeRequest{Models: []string{"ghost"}}},
		{"not json", "["},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := doJSON(t, http.MethodPost, ts.URL+"/api/organize", tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestOrganizeWithoutOutputRoot(t *testing.T) {
	_, _, ts := newTestServer(t, "")
	resp := doJSON(t, http.MethodPost, ts.URL+"/api/organize", OrganizeRequest{All: true})
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestOrganizeWhileBusy(t *testing.T) {
	srv, _, ts := newTestServer(t, t.TempDir())
	require.True(t, srv.acquire())
	defer srv.release()

	resp := doJSON(t, http.MethodPost, ts.URL+"/api/organize", OrganizeRequest{All: true})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = doJSON(t, http.MethodDelete, ts.URL+"/api/models", DeleteRequest{Tasks: []organizer.Task{{Model: "qwen", Version: "7b"}}})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestDeleteModels(t *testing.T) {
	_, src, ts := newTestServer(t, t.TempDir())

	resp := doJSON(t, http.MethodDelete, ts.URL+"/api/models", DeleteRequest{Tasks: []organizer.Task{
		{Model: "qwen", Version: "7b"},
		{Model: "qwen", Version: "14b"},
	}})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got DeleteResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	require.Len(t, got.Results, 2)
	assert.Equal(t, "deleted", got.Results[0].Result)
	assert.Equal(t, "not_found", got.Results[1].Result)
	assert.Equal(t, 1, got.Summary.Deleted)
	assert.Equal(t, 1, got.Summary.NotFound)

	_, err := os.Stat(src.Store.ManifestPath("qwen", "7b"))
	assert.True(t, os.IsNotExist(err))
}

func TestRecordsAndMetrics(t *testing.T) {
	_, _, ts := newTestServer(t, t.TempDir())

	resp := doJSON(t, http.MethodPost, ts.URL+"/api/organize", OrganizeRequest{Tasks: []organizer.Task{{Model: "llama3", Version: "8b"}}})
	readEvents(t, resp.Body)

	resp = doJSON(t, http.MethodGet, ts.URL+"/api/records", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var records organizer.Records
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&records))
	assert.Contains(t, records["llama3"], "8b")

	resp = doJSON(t, http.MethodGet, ts.URL+"/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `organizer_tasks_total{result="succeeded"} 1`)
}
