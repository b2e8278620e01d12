// Package keftest provides an in-process fake KEF speaker for tests.
package keftest

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/strefethen/kef-hub-go/internal/kef/rpc"
)

// Write records one setData call received by the fake.
type Write struct {
	Path  string
	Roles string
	Value json.RawMessage
}

// Speaker is an httptest server that speaks the getData/setData/event API.
type Speaker struct {
	t      testing.TB
	server *httptest.Server

	mu        sync.Mutex
	values    map[string]json.RawMessage
	failures  map[string]int
	down      bool
	writes    []Write
	reads     map[string]int
	queueID   string
	queued    []string
	subscribe []string
	pending   map[string]json.RawMessage
	notify    chan struct{}
	pollWait  time.Duration
	polls     int
}

// NewSpeaker starts a fake speaker with a powered-on wifi default state.
// The server is closed when the test ends.
func NewSpeaker(t testing.TB) *Speaker {
	t.Helper()
	s := &Speaker{
		t:        t,
		values:   make(map[string]json.RawMessage),
		failures: make(map[string]int),
		reads:    make(map[string]int),
		pending:  make(map[string]json.RawMessage),
		notify:   make(chan struct{}, 1),
		queueID:  "{fake-queue-1}",
		pollWait: 50 * time.Millisecond,
	}
	s.SetValue(rpc.PathSpeakerStatus, rpc.SpeakerStatusValue("powerOn"))
	s.SetValue(rpc.PathPhysicalSource, rpc.PhysicalSource("wifi"))
	s.SetValue(rpc.PathVolume, rpc.I32(30))
	s.SetValue(rpc.PathDeviceName, map[string]any{"type": rpc.TypeString, "string_": "Living Room"})
	s.SetValue(rpc.PathMacAddress, map[string]any{"type": rpc.TypeString, "string_": "84:17:15:00:11:22"})
	s.SetValue(rpc.PathReleaseText, map[string]any{"type": rpc.TypeString, "string_": "LSX2_v1.2.3"})

	s.server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.server.Close)
	return s
}

// Host returns host:port for rpc.NewClient.
func (s *Speaker) Host() string {
	return strings.TrimPrefix(s.server.URL, "http://")
}

// SetValue stores the envelope returned by getData for path.
func (s *Speaker) SetValue(path string, value any) {
	raw, err := json.Marshal(value)
	if err != nil {
		s.t.Fatalf("keftest: marshal %s: %v", path, err)
	}
	s.mu.Lock()
	s.values[path] = raw
	s.mu.Unlock()
}

// SetPlayerData stores the player:player/data document.
func (s *Speaker) SetPlayerData(state, title, artist string, durationMs int) {
	s.SetValue(rpc.PathPlayerData, map[string]any{
		"state": state,
		"trackRoles": map[string]any{
			"title": title,
			"icon":  "http://covers.local/" + title + ".jpg",
			"mediaData": map[string]any{
				"metaData": map[string]any{"artist": artist, "album": "Album"},
			},
		},
		"status": map[string]any{"duration": durationMs},
	})
}

// Fail makes every request touching path answer with status. Zero clears it.
func (s *Speaker) Fail(path string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if status == 0 {
		delete(s.failures, path)
		return
	}
	s.failures[path] = status
}

// SetDown makes every request fail with 503.
func (s *Speaker) SetDown(down bool) {
	s.mu.Lock()
	s.down = down
	s.mu.Unlock()
}

// SetPollWait bounds how long an idle longPoll blocks.
func (s *Speaker) SetPollWait(d time.Duration) {
	s.mu.Lock()
	s.pollWait = d
	s.mu.Unlock()
}

// Push queues events for the next longPoll and also updates stored values.
func (s *Speaker) Push(events map[string]any) {
	s.mu.Lock()
	for path, value := range events {
		raw, err := json.Marshal(value)
		if err != nil {
			s.mu.Unlock()
			s.t.Fatalf("keftest: marshal event %s: %v", path, err)
		}
		s.pending[path] = raw
		s.values[path] = raw
	}
	s.mu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// RotateQueue invalidates the current subscription, as a speaker restart does.
func (s *Speaker) RotateQueue(id string) {
	s.mu.Lock()
	s.queueID = id
	s.mu.Unlock()
}

// Writes returns every setData call so far.
func (s *Speaker) Writes() []Write {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Write, len(s.writes))
	copy(out, s.writes)
	return out
}

// LastWrite returns the most recent setData call to path.
func (s *Speaker) LastWrite(path string) (Write, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.writes) - 1; i >= 0; i-- {
		if s.writes[i].Path == path {
			return s.writes[i], true
		}
	}
	return Write{}, false
}

// Reads returns how many getData calls hit path.
func (s *Speaker) Reads(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads[path]
}

// Subscribed returns the paths named in the last modifyQueue call.
func (s *Speaker) Subscribed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.subscribe...)
}

// Polls returns how many longPoll calls were answered.
func (s *Speaker) Polls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.polls
}

// Volume returns the stored volume.
func (s *Speaker) Volume() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	volume, _ := rpc.ParseValue(s.values[rpc.PathVolume]).Int()
	return volume
}

func (s *Speaker) handle(w http.ResponseWriter, r *http.Request) {
	endpoint := strings.TrimPrefix(r.URL.Path, "/api/")

	s.mu.Lock()
	down := s.down
	s.mu.Unlock()
	if down {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}

	switch rpc.Endpoint(endpoint) {
	case rpc.EndpointGetData:
		s.handleGet(w, r)
	case rpc.EndpointSetData:
		s.handleSet(w, r)
	case rpc.EndpointModifyQueue:
		s.handleModifyQueue(w, r)
	case rpc.EndpointLongPoll:
		s.handleLongPoll(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (s *Speaker) handleGet(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")

	s.mu.Lock()
	s.reads[path]++
	status := s.failures[path]
	raw, ok := s.values[path]
	s.mu.Unlock()

	if status != 0 {
		http.Error(w, "forced failure", status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if !ok {
		_, _ = io.WriteString(w, "[]")
		return
	}
	_, _ = w.Write([]byte("[" + string(raw) + "]"))
}

type setRequest struct {
	Path  string `json:"path"`
	Roles string `json:"roles"`
	Value string `json:"value"`
}

func (s *Speaker) handleSet(w http.ResponseWriter, r *http.Request) {
	var req setRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if status := s.failures[req.Path]; status != 0 {
		http.Error(w, "forced failure", status)
		return
	}

	value := json.RawMessage(req.Value)
	s.writes = append(s.writes, Write{Path: req.Path, Roles: req.Roles, Value: value})

	if req.Path != rpc.PathPlayerControl {
		s.values[req.Path] = value
	}
	if req.Path == rpc.PathPhysicalSource {
		s.applyPowerSource(rpc.ParseValue(value))
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = io.WriteString(w, "{}")
}

// applyPowerSource mirrors the device treating powerOn/standby as sources.
// Caller holds s.mu.
func (s *Speaker) applyPowerSource(value rpc.Value) {
	source, _ := value.Source()
	switch source {
	case "standby":
		s.values[rpc.PathSpeakerStatus], _ = json.Marshal(rpc.SpeakerStatusValue("standby"))
	case "powerOn":
		s.values[rpc.PathSpeakerStatus], _ = json.Marshal(rpc.SpeakerStatusValue("powerOn"))
		s.values[rpc.PathPhysicalSource], _ = json.Marshal(rpc.PhysicalSource("wifi"))
	default:
		s.values[rpc.PathSpeakerStatus], _ = json.Marshal(rpc.SpeakerStatusValue("powerOn"))
	}
}

type modifyQueueRequest struct {
	Subscribe []struct {
		Path string `json:"path"`
	} `json:"subscribe"`
}

func (s *Speaker) handleModifyQueue(w http.ResponseWriter, r *http.Request) {
	var req modifyQueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.subscribe = s.subscribe[:0]
	for _, item := range req.Subscribe {
		s.subscribe = append(s.subscribe, item.Path)
	}
	s.queued = append(s.queued, s.queueID)
	id := s.queueID
	s.mu.Unlock()

	encoded, _ := json.Marshal(id)
	_, _ = w.Write(encoded)
}

type longPollRequest struct {
	ID      string `json:"id"`
	Timeout int    `json:"timeout"`
}

func (s *Speaker) handleLongPoll(w http.ResponseWriter, r *http.Request) {
	var req longPollRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	known := req.ID == s.queueID && len(s.queued) > 0
	wait := s.pollWait
	s.mu.Unlock()
	if !known {
		http.Error(w, "unknown queue", http.StatusNotFound)
		return
	}

	s.mu.Lock()
	hasPending := len(s.pending) > 0
	s.mu.Unlock()
	if !hasPending {
		timer := time.NewTimer(wait)
		select {
		case <-s.notify:
		case <-timer.C:
		case <-r.Context().Done():
		}
		timer.Stop()
	}

	s.mu.Lock()
	events := s.pending
	s.pending = make(map[string]json.RawMessage)
	s.polls++
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"events": events})
}
