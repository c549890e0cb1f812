package websocket

import (
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/adwski/drawguess/backend/model"
	"github.com/adwski/drawguess/backend/service"
	"github.com/adwski/drawguess/backend/storage/memory"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const readTimeout = 2 * time.Second

type testEnv struct {
	svc *service.Service
	url string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := zerolog.Nop()
	svc := service.NewService(service.Config{
		RoomStore:     memory.NewMemStore(),
		Logger:        &logger,
		RoundDuration: time.Hour,
	})
	require.NoError(t, svc.CreateRoom("1", "pl"))
	srv := NewServer(Config{
		Logger:            &logger,
		ConnectionService: svc,
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		svc.Shutdown()
		ts.Close()
	})
	return &testEnv{
		svc: svc,
		url: "ws" + strings.TrimPrefix(ts.URL, "http"),
	}
}

func (env *testEnv) dial(t *testing.T, roomID, playerID string) *websocket.Conn {
	t.Helper()
	c, _, err := websocket.DefaultDialer.Dial(env.url+"/ws/"+roomID+"/"+playerID+"/nick-"+playerID, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = c.Close()
	})
	return c
}

func read(t *testing.T, c *websocket.Conn) (int, []byte) {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(readTimeout)))
	msgType, msg, err := c.ReadMessage()
	require.NoError(t, err)
	return msgType, msg
}

// readState skips frames until a state snapshot matching pred arrives.
func readState(t *testing.T, c *websocket.Conn, pred func(model.Snapshot) bool) model.Snapshot {
	t.Helper()
	for {
		msgType, msg := read(t, c)
		if msgType != websocket.TextMessage {
			continue
		}
		var s model.Snapshot
		if json.Unmarshal(msg, &s) == nil && pred(s) {
			return s
		}
	}
}

// readCanvas skips frames until a non-empty canvas arrives.
func readCanvas(t *testing.T, c *websocket.Conn) []byte {
	t.Helper()
	for {
		msgType, msg := read(t, c)
		if msgType == websocket.BinaryMessage && len(msg) > 0 {
			return msg
		}
	}
}

// readGuessResult skips frames until a guess reply arrives.
func readGuessResult(t *testing.T, c *websocket.Conn) model.GuessResult {
	t.Helper()
	for {
		msgType, msg := read(t, c)
		if msgType != websocket.TextMessage {
			continue
		}
		var res model.GuessResult
		if json.Unmarshal(msg, &res) == nil && res.Status != "" {
			return res
		}
	}
}

func readCloseCode(t *testing.T, c *websocket.Conn) int {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(readTimeout)))
	for {
		_, _, err := c.ReadMessage()
		if err == nil {
			continue
		}
		var ce *websocket.CloseError
		require.True(t, errors.As(err, &ce), "unexpected error: %v", err)
		return ce.Code
	}
}

func gameOn(s model.Snapshot) bool {
	return s.IsGameOn
}

func TestJoinReceivesStateAndCanvas(t *testing.T) {
	env := newTestEnv(t)
	a := env.dial(t, "1", "a")

	msgType, msg := read(t, a)
	require.Equal(t, websocket.TextMessage, msgType)
	assert.JSONEq(t, `{"is_game_on": false, "current_drawer": null, "canvas_state": ""}`, string(msg))
	msgType, msg = read(t, a)
	assert.Equal(t, websocket.BinaryMessage, msgType)
	assert.Empty(t, msg)

	b := env.dial(t, "1", "b")
	sa := readState(t, a, gameOn)
	sb := readState(t, b, gameOn)
	require.NotNil(t, sa.CurrentDrawer)
	assert.Equal(t, *sa.CurrentDrawer, *sb.CurrentDrawer)
	assert.Contains(t, []string{"a", "b"}, *sa.CurrentDrawer)

	if *sa.CurrentDrawer == "a" {
		assert.NotEmpty(t, sa.Clue)
		assert.Empty(t, sb.Clue)
		assert.Equal(t, "drawer: nick-a", sb.Drawer)
	} else {
		assert.NotEmpty(t, sb.Clue)
		assert.Empty(t, sa.Clue)
		assert.Equal(t, "drawer: nick-b", sa.Drawer)
	}
}

func TestConnectionRefused(t *testing.T) {
	env := newTestEnv(t)

	unknown := env.dial(t, "nope", "a")
	assert.Equal(t, websocket.ClosePolicyViolation, readCloseCode(t, unknown))

	env.dial(t, "1", "a")
	require.Eventually(t, func() bool {
		stats, err := env.svc.RoomStats("1")
		return err == nil && stats.PlayerCount == 1
	}, readTimeout, 5*time.Millisecond)

	dup := env.dial(t, "1", "a")
	assert.Equal(t, websocket.ClosePolicyViolation, readCloseCode(t, dup))

	stats, err := env.svc.RoomStats("1")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.PlayerCount, "first connection wins")
}

func TestDrawAndGuess(t *testing.T) {
	env := newTestEnv(t)
	a := env.dial(t, "1", "a")
	readState(t, a, func(s model.Snapshot) bool { return !s.IsGameOn })
	b := env.dial(t, "1", "b")
	sa := readState(t, a, gameOn)
	readState(t, b, gameOn)

	drawer, guesser := a, b
	if *sa.CurrentDrawer == "b" {
		drawer, guesser = b, a
	}

	// a guesser drawing is ignored, the drawer's canvas reaches everyone
	require.NoError(t, guesser.WriteMessage(websocket.BinaryMessage, []byte("nope")))
	require.NoError(t, drawer.WriteMessage(websocket.BinaryMessage, []byte{1, 2, 3}))
	for _, c := range []*websocket.Conn{drawer, guesser} {
		assert.Equal(t, []byte{1, 2, 3}, readCanvas(t, c))
	}

	require.NoError(t, guesser.WriteMessage(websocket.TextMessage, []byte("garbage")))
	require.NoError(t, guesser.WriteMessage(websocket.TextMessage, []byte(`{"message": "zzzzzzzzzzzz"}`)))
	assert.Equal(t, model.GuessResult{Status: model.GuessMiss}, readGuessResult(t, guesser))
}

func TestDisconnectLeavesRoom(t *testing.T) {
	env := newTestEnv(t)
	a := env.dial(t, "1", "a")
	b := env.dial(t, "1", "b")
	readState(t, a, gameOn)

	require.NoError(t, b.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	_ = b.Close()

	s := readState(t, a, func(s model.Snapshot) bool { return !s.IsGameOn })
	assert.Nil(t, s.CurrentDrawer)
	stats, err := env.svc.RoomStats("1")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.PlayerCount)
}

func TestKickClosesSocket(t *testing.T) {
	env := newTestEnv(t)
	a := env.dial(t, "1", "a")
	read(t, a)

	require.Eventually(t, func() bool {
		return env.svc.KickPlayer("1", "a") == nil
	}, readTimeout, 5*time.Millisecond)
	assert.Equal(t, websocket.CloseNormalClosure, readCloseCode(t, a))
}

func TestDeleteRoomClosesSockets(t *testing.T) {
	env := newTestEnv(t)
	a := env.dial(t, "1", "a")
	read(t, a)

	require.NoError(t, env.svc.DeleteRoom("1"))
	assert.Equal(t, websocket.CloseNormalClosure, readCloseCode(t, a))
}
