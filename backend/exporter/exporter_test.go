package exporter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/adwski/drawguess/backend/model"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestExporter(url string) *Exporter {
	logger := zerolog.Nop()
	return New(Config{
		Logger:  &logger,
		BaseURL: url,
		Timeout: time.Second,
	})
}

func TestExportPostsRoomStatus(t *testing.T) {
	got := make(chan map[string]any, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/rooms/update-room-status", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		got <- body
	}))
	defer srv.Close()

	drawer := "b"
	err := newTestExporter(srv.URL+"/api/").Export(context.Background(), model.RoomStatus{
		RoomID:        "1",
		ActivePlayers: []string{"a", "b"},
		CurrentDrawer: &drawer,
	})
	require.NoError(t, err)

	body := <-got
	assert.Equal(t, "1", body["roomId"])
	assert.Equal(t, []any{"a", "b"}, body["activePlayers"])
	assert.Equal(t, "b", body["currentDrawer"])
}

func TestExportEmptyRoom(t *testing.T) {
	got := make(chan map[string]any, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		got <- body
	}))
	defer srv.Close()

	require.NoError(t, newTestExporter(srv.URL).Export(context.Background(), model.RoomStatus{RoomID: "1"}))

	body := <-got
	assert.Equal(t, []any{}, body["activePlayers"])
	assert.Contains(t, body, "currentDrawer")
	assert.Nil(t, body["currentDrawer"])
}

func TestExportNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	err := newTestExporter(srv.URL).Export(context.Background(), model.RoomStatus{RoomID: "1"})
	assert.ErrorIs(t, err, ErrUnexpectedStatus)
	assert.ErrorContains(t, err, "502 nope")
}

type hook struct {
	mx       sync.Mutex
	statuses []model.RoomStatus
	delay    time.Duration
}

func (h *hook) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var status model.RoomStatus
	if err := json.NewDecoder(r.Body).Decode(&status); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	h.mx.Lock()
	first := len(h.statuses) == 0
	h.mx.Unlock()
	if first {
		time.Sleep(h.delay)
	}
	h.mx.Lock()
	h.statuses = append(h.statuses, status)
	h.mx.Unlock()
}

func (h *hook) received() []model.RoomStatus {
	h.mx.Lock()
	defer h.mx.Unlock()
	return append([]model.RoomStatus(nil), h.statuses...)
}

func runExporter(t *testing.T, e *Exporter) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	wg := &sync.WaitGroup{}
	wg.Add(1)
	go e.Run(ctx, wg)
	stop = func() {
		cancel()
		wg.Wait()
	}
	t.Cleanup(stop)
	return stop
}

func TestNotifyKeepsOrder(t *testing.T) {
	h := &hook{delay: 100 * time.Millisecond}
	srv := httptest.NewServer(h)
	defer srv.Close()

	e := newTestExporter(srv.URL)
	runExporter(t, e)

	drawer := "a"
	e.Notify(model.RoomStatus{RoomID: "1", ActivePlayers: []string{"a"}})
	e.Notify(model.RoomStatus{RoomID: "1", ActivePlayers: []string{"a", "b"}, CurrentDrawer: &drawer})
	e.Notify(model.RoomStatus{RoomID: "1"})

	require.Eventually(t, func() bool {
		return len(h.received()) == 3
	}, 2*time.Second, 10*time.Millisecond)

	got := h.received()
	assert.Equal(t, []string{"a"}, got[0].ActivePlayers)
	assert.Equal(t, []string{"a", "b"}, got[1].ActivePlayers)
	assert.Empty(t, got[2].ActivePlayers)
	assert.Nil(t, got[2].CurrentDrawer, "the last status received is the latest one")
}

func TestNotifyDropsWhenQueueIsFull(t *testing.T) {
	h := &hook{}
	srv := httptest.NewServer(h)
	defer srv.Close()

	logger := zerolog.Nop()
	e := New(Config{
		Logger:    &logger,
		BaseURL:   srv.URL,
		QueueSize: 1,
	})

	start := time.Now()
	for _, id := range []string{"1", "2", "3"} {
		e.Notify(model.RoomStatus{RoomID: id})
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond)

	stop := runExporter(t, e)
	require.Eventually(t, func() bool {
		return len(h.received()) == 1
	}, time.Second, 10*time.Millisecond)
	stop()

	got := h.received()
	require.Len(t, got, 1)
	assert.Equal(t, "1", got[0].RoomID)
}

func TestRunFlushesQueueOnStop(t *testing.T) {
	h := &hook{}
	srv := httptest.NewServer(h)
	defer srv.Close()

	e := newTestExporter(srv.URL)
	e.Notify(model.RoomStatus{RoomID: "1", ActivePlayers: []string{"a"}})
	e.Notify(model.RoomStatus{RoomID: "1"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	wg := &sync.WaitGroup{}
	wg.Add(1)
	e.Run(ctx, wg)

	got := h.received()
	require.Len(t, got, 2)
	assert.Empty(t, got[1].ActivePlayers)
}

func TestNotifyUnreachableHook(t *testing.T) {
	// nothing listens there, the failure is only logged
	e := newTestExporter("http://127.0.0.1:1")
	e.Notify(model.RoomStatus{RoomID: "1"})
	runExporter(t, e)()
	Nop{}.Notify(model.RoomStatus{RoomID: "1"})
}
