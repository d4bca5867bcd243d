package server_test

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dantte-lp/nat64stated/internal/engine"
	"github.com/dantte-lp/nat64stated/internal/server"
)

// -------------------------------------------------------------------------
// Test Helpers
// -------------------------------------------------------------------------

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// setupTestServer builds a real HTTP server backed by an *engine.Engine
// configured for tcp and udp, and returns its base URL and http.Client.
func setupTestServer(t *testing.T) (string, *http.Client) {
	t.Helper()

	protoCfg := func() engine.ProtoConfig {
		return engine.ProtoConfig{
			Classifier:         engine.AlwaysDie,
			PacketQueue:        engine.NoopPacketQueue{},
			Probes:             engine.NoopProbeSender{},
			EstablishedTimeout: engine.NewStaticTimeout(time.Hour),
			TransitoryTimeout:  engine.NewStaticTimeout(time.Hour),
		}
	}

	eng := engine.New(testLogger(), map[engine.L4Proto]engine.ProtoConfig{
		engine.ProtoTCP: protoCfg(),
		engine.ProtoUDP: protoCfg(),
	})
	t.Cleanup(eng.Close)

	handler := server.New(eng, testLogger())
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return srv.URL, srv.Client()
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any) *http.Response {
	t.Helper()

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("NewRequest(%s %s): %v", method, url, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Do(%s %s): %v", method, url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode response body: %v", err)
	}
}

// -------------------------------------------------------------------------
// Stats
// -------------------------------------------------------------------------

func TestStatsEmpty(t *testing.T) {
	t.Parallel()

	baseURL, client := setupTestServer(t)

	resp := doJSON(t, client, http.MethodGet, baseURL+"/v1/stats", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	var stats []struct {
		Proto        string `json:"proto"`
		BibCount     uint64 `json:"bib_count"`
		SessionCount uint64 `json:"session_count"`
	}
	decodeJSON(t, resp, &stats)

	if len(stats) != 2 {
		t.Fatalf("len(stats) = %d, want 2 (tcp, udp)", len(stats))
	}
	for _, s := range stats {
		if s.BibCount != 0 || s.SessionCount != 0 {
			t.Errorf("proto %s: counts = (%d, %d), want (0, 0)", s.Proto, s.BibCount, s.SessionCount)
		}
	}
}

func TestBibListUnconfiguredProtoNotFound(t *testing.T) {
	t.Parallel()

	baseURL, client := setupTestServer(t)

	resp := doJSON(t, client, http.MethodGet, baseURL+"/v1/bib/icmp", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want %d (icmp not configured)", resp.StatusCode, http.StatusNotFound)
	}
}

// -------------------------------------------------------------------------
// BIB
// -------------------------------------------------------------------------

func TestBibLookupNotFound(t *testing.T) {
	t.Parallel()

	baseURL, client := setupTestServer(t)

	resp := doJSON(t, client, http.MethodGet, baseURL+"/v1/bib/tcp/by-v4/192.0.2.1:40000", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusNotFound)
	}
}

func TestBibLookupInvalidProto(t *testing.T) {
	t.Parallel()

	baseURL, client := setupTestServer(t)

	resp := doJSON(t, client, http.MethodGet, baseURL+"/v1/bib/sctp/by-v4/192.0.2.1:40000", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
}

func TestBibLookupInvalidAddr(t *testing.T) {
	t.Parallel()

	baseURL, client := setupTestServer(t)

	resp := doJSON(t, client, http.MethodGet, baseURL+"/v1/bib/tcp/by-v4/not-an-addr", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
}

func TestBibFlushIsNoContent(t *testing.T) {
	t.Parallel()

	baseURL, client := setupTestServer(t)

	resp := doJSON(t, client, http.MethodPost, baseURL+"/v1/bib/tcp/flush", nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusNoContent)
	}

	listResp := doJSON(t, client, http.MethodGet, baseURL+"/v1/bib/tcp", nil)
	var views []map[string]any
	decodeJSON(t, listResp, &views)
	if len(views) != 0 {
		t.Errorf("len(views) after flush = %d, want 0", len(views))
	}
}

// -------------------------------------------------------------------------
// Sessions
// -------------------------------------------------------------------------

func TestSessionListEmpty(t *testing.T) {
	t.Parallel()

	baseURL, client := setupTestServer(t)

	resp := doJSON(t, client, http.MethodGet, baseURL+"/v1/session/tcp", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	var views []map[string]any
	decodeJSON(t, resp, &views)
	if len(views) != 0 {
		t.Errorf("len(views) = %d, want 0", len(views))
	}
}

func TestSessionFlushEmptyTable(t *testing.T) {
	t.Parallel()

	baseURL, client := setupTestServer(t)

	resp := doJSON(t, client, http.MethodPost, baseURL+"/v1/session/tcp/flush", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	var body map[string]int
	decodeJSON(t, resp, &body)
	if body["sessions_removed"] != 0 {
		t.Errorf("sessions_removed = %d, want 0 on an empty table", body["sessions_removed"])
	}
}

// -------------------------------------------------------------------------
// Pool
// -------------------------------------------------------------------------

func TestPoolAddAndList(t *testing.T) {
	t.Parallel()

	baseURL, client := setupTestServer(t)

	addResp := doJSON(t, client, http.MethodPost, baseURL+"/v1/pool", map[string]string{
		"prefix": "192.0.2.0/24",
	})
	if addResp.StatusCode != http.StatusNoContent {
		t.Fatalf("POST /v1/pool status = %d, want %d", addResp.StatusCode, http.StatusNoContent)
	}

	listResp := doJSON(t, client, http.MethodGet, baseURL+"/v1/pool", nil)
	var prefixes []string
	decodeJSON(t, listResp, &prefixes)
	if len(prefixes) != 1 || prefixes[0] != "192.0.2.0/24" {
		t.Errorf("Prefixes() = %v, want [192.0.2.0/24]", prefixes)
	}
}

func TestPoolAddInvalidPrefix(t *testing.T) {
	t.Parallel()

	baseURL, client := setupTestServer(t)

	resp := doJSON(t, client, http.MethodPost, baseURL+"/v1/pool", map[string]string{
		"prefix": "not-a-cidr",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
}

func TestPoolRevokeRejectsUnregisteredPrefix(t *testing.T) {
	t.Parallel()

	baseURL, client := setupTestServer(t)

	resp := doJSON(t, client, http.MethodPost, baseURL+"/v1/pool/revoke/tcp", map[string]any{
		"prefix": "192.0.2.0/24",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d (prefix was never added to the pool)", resp.StatusCode, http.StatusBadRequest)
	}
}

func TestPoolRevokeEmptyTable(t *testing.T) {
	t.Parallel()

	baseURL, client := setupTestServer(t)

	doJSON(t, client, http.MethodPost, baseURL+"/v1/pool", map[string]string{
		"prefix": "192.0.2.0/24",
	})

	resp := doJSON(t, client, http.MethodPost, baseURL+"/v1/pool/revoke/tcp", map[string]any{
		"prefix":   "192.0.2.0/24",
		"port_min": 0,
		"port_max": 65535,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	var body map[string]int
	decodeJSON(t, resp, &body)
	if body["sessions_removed"] != 0 {
		t.Errorf("sessions_removed = %d, want 0 on an empty table", body["sessions_removed"])
	}

	listResp := doJSON(t, client, http.MethodGet, baseURL+"/v1/pool", nil)
	var prefixes []string
	decodeJSON(t, listResp, &prefixes)
	if len(prefixes) != 0 {
		t.Errorf("Prefixes() after revoke = %v, want empty", prefixes)
	}
}

func TestPoolRevokeInvalidProto(t *testing.T) {
	t.Parallel()

	baseURL, client := setupTestServer(t)

	resp := doJSON(t, client, http.MethodPost, baseURL+"/v1/pool/revoke/sctp", map[string]any{
		"prefix": "192.0.2.0/24",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
}
