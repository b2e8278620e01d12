package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strefethen/kef-hub-go/internal/auth"
	"github.com/strefethen/kef-hub-go/internal/config"
	"github.com/strefethen/kef-hub-go/internal/kef/keftest"
)

type fakeBroker struct {
	mu     sync.Mutex
	topics []string
	closed bool
}

func (b *fakeBroker) Publish(topic string, payload []byte, qos byte, retained bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.topics = append(b.topics, topic)
	return nil
}

func (b *fakeBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

func (b *fakeBroker) sawTopic(topic string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range b.topics {
		if t == topic {
			return true
		}
	}
	return false
}

func testConfig(t *testing.T) config.Config {
	return config.Config{
		JWTSecret:               "this-is-a-development-secret-string-32chars",
		JWTAccessTokenExpirySec: 3600,
		SQLiteDBPath:            filepath.Join(t.TempDir(), "kef-hub.db"),
		KEFTimeoutMs:            500,
		KEFLongPollTimeoutMs:    1000,
		Timezone:                "UTC",
		MQTTEnabled:             true,
		MQTTTopicPrefix:         "kefhub",
	}
}

type harness struct {
	server  *Server
	http    *httptest.Server
	broker  *fakeBroker
	token   string
	speaker *keftest.Speaker
	configs []config.SpeakerConfig
	mu      sync.Mutex
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := testConfig(t)
	h := &harness{broker: &fakeBroker{}, speaker: keftest.NewSpeaker(t)}
	h.configs = []config.SpeakerConfig{{Name: "Office", IP: h.speaker.Host(), Model: "LSX2"}}

	srv, err := New(context.Background(), cfg, Options{
		Logger: log.New(io.Discard, "", 0),
		SpeakerLoader: func() ([]config.SpeakerConfig, error) {
			h.mu.Lock()
			defer h.mu.Unlock()
			return append([]config.SpeakerConfig(nil), h.configs...), nil
		},
		Broker: h.broker,
	})
	require.NoError(t, err)
	h.server = srv
	h.http = httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		h.http.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, srv.Shutdown(ctx))
	})

	token, err := auth.GenerateToken(cfg, auth.Client{Sub: "test", Scope: auth.ScopeControl}, 0)
	require.NoError(t, err)
	h.token = token
	return h
}

func (h *harness) do(t *testing.T, method, path string, body any) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, h.http.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+h.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp.StatusCode, decoded
}

func TestHealthIsPublic(t *testing.T) {
	h := newHarness(t)

	resp, err := http.Get(h.http.URL + "/v1/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var health map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "healthy", health["status"])
	assert.Equal(t, "kef-hub", health["service"])
	speakers := health["speakers"].(map[string]any)
	assert.Equal(t, float64(1), speakers["configured"])
	assert.Equal(t, float64(1), speakers["active"])
}

func TestSpeakersRequireToken(t *testing.T) {
	h := newHarness(t)

	resp, err := http.Get(h.http.URL + "/v1/speakers")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestSetVolumeFlowsToDeviceAndListeners(t *testing.T) {
	h := newHarness(t)
	ip := h.speaker.Host()

	status, body := h.do(t, http.MethodPost, "/v1/speakers/"+ip+"/volume", map[string]any{"volume": 45})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "speaker", body["object"])
	assert.Equal(t, float64(45), body["status"].(map[string]any)["volume"])
	assert.Equal(t, 45, h.speaker.Volume())

	require.Eventually(t, func() bool {
		return h.broker.sawTopic("kefhub/event/" + ip)
	}, 2*time.Second, 10*time.Millisecond)
	assert.True(t, h.broker.sawTopic("kefhub/state/"+ip))

	status, body = h.do(t, http.MethodGet, "/v1/audit/events?speaker_ip="+ip, nil)
	require.Equal(t, http.StatusOK, status)
	assert.NotEmpty(t, body["data"])
}

func TestUnknownSpeakerIs404(t *testing.T) {
	h := newHarness(t)

	status, body := h.do(t, http.MethodGet, "/v1/speakers/10.9.9.9", nil)
	require.Equal(t, http.StatusNotFound, status)
	require.Contains(t, body, "error")
}

func TestReloadRemovesSpeaker(t *testing.T) {
	h := newHarness(t)
	ip := h.speaker.Host()

	h.mu.Lock()
	h.configs = nil
	h.mu.Unlock()

	status, body := h.do(t, http.MethodPost, "/v1/speakers/reload", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, []any{ip}, body["removed"])
	assert.Equal(t, 0, h.server.Registry().Len())
}

func TestSystemInfoAndDashboard(t *testing.T) {
	h := newHarness(t)

	status, body := h.do(t, http.MethodGet, "/v1/system/info", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(1), body["speakers_total"])
	assert.Equal(t, float64(1), body["speakers_online"])
	assert.Equal(t, true, body["mqtt_enabled"])

	status, body = h.do(t, http.MethodGet, "/v1/dashboard", nil)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, body["speakers"], 1)
	assert.Empty(t, body["attention_items"])
}
