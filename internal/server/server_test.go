package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"volatility-prover/consistency"
	"volatility-prover/infrastructure/logger"
	"volatility-prover/infrastructure/monitor"
	"volatility-prover/internal/engine"
	"volatility-prover/internal/store"
	"volatility-prover/market"
	"volatility-prover/prover"
	"volatility-prover/volatility"
)

func newTestServer(t *testing.T) (*httptest.Server, *Hub) {
	t.Helper()
	log := logger.NewNop()
	st := store.NewMemoryStore()
	mon := monitor.New(monitor.DefaultConfig())
	hub := NewHub(log)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	params := volatility.DefaultParams()
	calc, err := volatility.NewCircuit(params, 5)
	require.NoError(t, err)
	keys, err := prover.Keygen(calc, 12)
	require.NoError(t, err)
	eng, err := engine.New(engine.Config{
		Params:      params,
		SampleCount: 5,
		DeltaMode:   market.DeltaTick,
		Policy:      consistency.Policy{Tolerance: consistency.DefaultTolerance},
		Concurrency: 1,
	}, engine.Components{
		Logger:    log,
		Monitor:   mon,
		Store:     st,
		Publisher: hub,
		Prover:    &prover.Client{Backend: prover.NewLocalBackend(keys), Timeout: time.Second},
	})
	require.NoError(t, err)

	srv := httptest.NewServer((&Server{Engine: eng, Store: st, Monitor: mon, Hub: hub, Log: log}).Routes())
	t.Cleanup(srv.Close)
	return srv, hub
}

func samplesBody(t *testing.T, id string, ticks ...int64) *bytes.Reader {
	t.Helper()
	samples := make([]market.TickSample, len(ticks))
	for i, v := range ticks {
		samples[i] = market.TickAt(int64(i), v)
	}
	data, err := json.Marshal(computeRequest{ID: id, Samples: samples})
	require.NoError(t, err)
	return bytes.NewReader(data)
}

func TestHealthAndMetrics(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	m, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer m.Body.Close()
	assert.Equal(t, http.StatusOK, m.StatusCode)
}

func TestComputeEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Post(srv.URL+"/api/v1/volatility", "application/json", samplesBody(t, "r1", 100, 102, 100, 102, 100))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out computeResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "2", out.Optimized)
	assert.Equal(t, "2", out.Circuit)
	assert.Equal(t, "r1", out.Record.ID)

	get, err := http.Get(srv.URL + "/api/v1/records/r1")
	require.NoError(t, err)
	defer get.Body.Close()
	assert.Equal(t, http.StatusOK, get.StatusCode)

	missing, err := http.Get(srv.URL + "/api/v1/records/nope")
	require.NoError(t, err)
	defer missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)

	list, err := http.Get(srv.URL + "/api/v1/records?limit=10")
	require.NoError(t, err)
	defer list.Body.Close()
	var recs []store.Record
	require.NoError(t, json.NewDecoder(list.Body).Decode(&recs))
	assert.Len(t, recs, 1)
}

func TestComputeEndpointErrors(t *testing.T) {
	srv, _ := newTestServer(t)

	tests := []struct {
		name   string
		body   *bytes.Reader
		status int
		class  string
	}{
		{"malformed", bytes.NewReader([]byte("{")), http.StatusBadRequest, "invalid_input"},
		{"wrong count", samplesBody(t, "", 1, 2, 3), http.StatusBadRequest, "invalid_input"},
		{"overflow", samplesBody(t, "", 0, 1<<40, 0, 1<<40, 0), http.StatusUnprocessableEntity, "overflow"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(srv.URL+"/api/v1/volatility", "application/json", tt.body)
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, tt.status, resp.StatusCode)
			var e errorResponse
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&e))
			assert.Equal(t, tt.class, e.Class)
		})
	}

	bad, err := http.Get(srv.URL + "/api/v1/records?limit=zero")
	require.NoError(t, err)
	defer bad.Body.Close()
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)
}

func TestProveEndpointBroadcasts(t *testing.T) {
	srv, hub := newTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 5*time.Millisecond)

	resp, err := http.Post(srv.URL+"/api/v1/prove", "application/json", samplesBody(t, "p1", 10, 13, 9, 9, 12))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out computeResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.NotNil(t, out.Artifact)
	assert.Equal(t, out.Artifact.ID.String(), out.Record.ArtifactID)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var types []string
	for len(types) < 2 {
		var ev engine.Event
		require.NoError(t, conn.ReadJSON(&ev))
		assert.Equal(t, "p1", ev.Record.ID)
		types = append(types, ev.Type)
	}
	assert.Equal(t, []string{"computed", "proved"}, types)
}
