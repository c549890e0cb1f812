// Package room implements the game state machine of a single room.
//
// All mutating entry points, including the round timer callback, run under
// the room mutex. Outbound frames are only enqueued while the lock is held,
// so every connection observes state changes in the order they happened.
package room

import (
	"encoding/json"
	"errors"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/adwski/drawguess/backend/model"
	"github.com/adwski/drawguess/backend/scorer"
	sw "github.com/adwski/drawguess/backend/switch"
	"github.com/adwski/drawguess/backend/timer"
	"github.com/davecgh/go-spew/spew"
	"github.com/rs/zerolog"
)

const (
	DefaultRoundDuration = 15 * time.Second

	minPlayers   = 2
	drawerPrefix = "drawer: "
)

var (
	ErrPlayerIDInUse    = errors.New("there is already a connection with this player id")
	ErrPlayerNotFound   = errors.New("there is no player with this id")
	ErrGameNotStarted   = errors.New("the game in this room is not started")
	ErrNotEnoughPlayers = errors.New("not enough players")
	ErrEmptyPlayerID    = errors.New("player id is empty")
	ErrRoomClosed       = errors.New("room is closed")
)

type (
	// Notifier receives room membership changes. Notify must not block.
	Notifier interface {
		Notify(status model.RoomStatus)
	}

	Config struct {
		Logger        *zerolog.Logger
		Notifier      Notifier
		ID            string
		Locale        string
		Clues         []string
		RoundDuration time.Duration
		Threshold     int
	}

	nopNotifier struct{}

	Room struct {
		id            string
		locale        string
		clues         []string
		roundDuration time.Duration
		threshold     int
		notifier      Notifier
		intn          func(n int) int
		logger        zerolog.Logger

		mx       *sync.Mutex
		sw       *sw.Switch
		timer    *timer.RoundTimer
		isGameOn bool
		drawer   string
		clue     string
		canvas   []byte
		deadline time.Time
		closed   bool
	}
)

func New(cfg Config) *Room {
	logger := cfg.Logger.With().
		Str("component", "room").
		Str("roomID", cfg.ID).
		Logger()

	r := &Room{
		id:            cfg.ID,
		locale:        cfg.Locale,
		clues:         cfg.Clues,
		roundDuration: cfg.RoundDuration,
		threshold:     cfg.Threshold,
		notifier:      cfg.Notifier,
		intn:          rand.IntN,
		logger:        logger,
		mx:            &sync.Mutex{},
		sw:            sw.NewSwitch(&logger),
		timer:         timer.New(),
	}
	if r.roundDuration <= 0 {
		r.roundDuration = DefaultRoundDuration
	}
	if r.threshold <= 0 {
		r.threshold = scorer.DefaultThreshold
	}
	if r.notifier == nil {
		r.notifier = nopNotifier{}
	}
	return r
}

func (nopNotifier) Notify(model.RoomStatus) {}

func (r *Room) ID() string {
	return r.id
}

func (r *Room) Locale() string {
	return r.locale
}

// Join registers conn, starts a round when it brings the room to two players
// and sends the newcomer its view of the room followed by the canvas.
func (r *Room) Join(conn *model.Connection) error {
	if conn.Player.ID == "" {
		return ErrEmptyPlayerID
	}

	r.mx.Lock()
	defer r.mx.Unlock()

	if r.closed {
		return ErrRoomClosed
	}
	if err := r.sw.Connect(conn); err != nil {
		return errors.Join(ErrPlayerIDInUse, err)
	}
	r.logger.Debug().
		Str("playerID", conn.Player.ID).
		Str("nickname", conn.Player.Nickname).
		Msg("player joined")

	if !r.isGameOn && r.sw.Len() >= minPlayers {
		r.startRound()
	}
	r.notify()

	if !r.sw.Send(conn, r.stateFrame(conn.Player.ID)) ||
		!r.sw.Send(conn, model.BinaryFrame(r.canvas)) {
		r.drop([]*model.Connection{conn})
	}
	return nil
}

// Leave removes the connection with the given session id. Unknown or
// already removed sessions are ignored.
func (r *Room) Leave(sessionID string) {
	r.mx.Lock()
	defer r.mx.Unlock()

	conn, ok := r.sw.Disconnect(sessionID)
	if !ok {
		return
	}
	conn.Close()
	r.left(conn.Player.ID)
}

// Kick forcibly removes a player through the same path as a disconnect.
func (r *Room) Kick(playerID string) error {
	r.mx.Lock()
	defer r.mx.Unlock()

	conn, ok := r.sw.DisconnectEndpoint(playerID)
	if !ok {
		return ErrPlayerNotFound
	}
	conn.Close()
	r.left(playerID)
	return nil
}

func (r *Room) left(playerID string) {
	r.logger.Debug().Str("playerID", playerID).Msg("player left")

	if r.isGameOn {
		switch {
		case r.sw.Len() < minPlayers:
			r.endRound()
		case playerID == r.drawer:
			r.startRound()
		}
	}
	r.notify()
}

// SubmitGuess scores message against the current clue. A correct guess
// immediately starts the next round. Guesses from players that are not
// connected are treated as misses and change nothing.
func (r *Room) SubmitGuess(playerID, message string) (model.GuessResult, error) {
	r.mx.Lock()
	defer r.mx.Unlock()

	if !r.isGameOn {
		return model.GuessResult{}, ErrGameNotStarted
	}
	if _, ok := r.sw.Get(playerID); !ok {
		r.logger.Debug().Str("playerID", playerID).Msg("guess from unknown player ignored")
		return model.GuessResult{Status: model.GuessMiss}, nil
	}

	switch scorer.Evaluate(message, r.clue, r.threshold) {
	case scorer.Exact:
		result := model.GuessResult{
			Status: model.GuessWin,
			Clue:   r.clue,
			Winner: playerID,
			Drawer: r.drawer,
		}
		r.logger.Debug().
			Str("winner", playerID).
			Str("drawer", r.drawer).
			Msg("clue guessed")
		r.startRound()
		return result, nil
	case scorer.Close:
		return model.GuessResult{Status: model.GuessClose}, nil
	default:
		return model.GuessResult{Status: model.GuessMiss}, nil
	}
}

// SubmitDrawData replaces the canvas and relays it to every connection.
// Only the current drawer may draw, anything else is ignored.
func (r *Room) SubmitDrawData(playerID string, data []byte) {
	r.mx.Lock()
	defer r.mx.Unlock()

	if !r.isGameOn || playerID != r.drawer {
		r.logger.Trace().Str("playerID", playerID).Msg("draw data from non-drawer ignored")
		return
	}
	r.canvas = append([]byte(nil), data...)
	r.drop(r.sw.Broadcast(model.BinaryFrame(r.canvas)))
}

// HandleText processes a text frame sent by a player over the socket.
// The payload is a JSON guess, the result goes back to the sender only.
func (r *Room) HandleText(playerID string, payload []byte) {
	var msg struct {
		Message *string `json:"message"`
	}
	if err := json.Unmarshal(payload, &msg); err != nil || msg.Message == nil {
		r.logger.Warn().Err(err).Str("playerID", playerID).Msg("malformed text frame ignored")
		return
	}

	var reply any
	result, err := r.SubmitGuess(playerID, *msg.Message)
	if err != nil {
		reply = struct {
			Error string `json:"error"`
		}{Error: err.Error()}
	} else {
		reply = result
	}
	b, err := json.Marshal(reply)
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to marshal guess reply")
		return
	}

	r.mx.Lock()
	defer r.mx.Unlock()
	if conn, ok := r.sw.Get(playerID); ok && !r.sw.Send(conn, model.TextFrame(b)) {
		r.drop([]*model.Connection{conn})
	}
}

// StartRound starts a fresh round, re-rolling drawer and clue if a round is running.
func (r *Room) StartRound() error {
	r.mx.Lock()
	defer r.mx.Unlock()

	if r.sw.Len() < minPlayers {
		return ErrNotEnoughPlayers
	}
	r.startRound()
	return nil
}

func (r *Room) RestartRound() error {
	return r.StartRound()
}

// EndRound puts the room back to idle and tells everyone.
func (r *Room) EndRound() {
	r.mx.Lock()
	defer r.mx.Unlock()
	r.endRound()
}

// Close cancels the round timer, drops every connection and reports the
// room as empty.
func (r *Room) Close() {
	r.mx.Lock()
	defer r.mx.Unlock()

	if r.closed {
		return
	}
	r.closed = true
	r.timer.Cancel()
	r.isGameOn = false
	r.drawer = ""
	r.clue = ""
	r.deadline = time.Time{}
	for _, conn := range r.sw.DisconnectAll() {
		conn.Close()
	}
	r.notify()
	r.logger.Debug().Msg("room closed")
}

// Snapshot returns the view of the room as seen by playerID.
func (r *Room) Snapshot(playerID string) model.Snapshot {
	r.mx.Lock()
	defer r.mx.Unlock()
	return r.render(playerID)
}

func (r *Room) Stats() model.RoomStats {
	r.mx.Lock()
	defer r.mx.Unlock()
	return r.stats()
}

func (r *Room) PlayerCount() int {
	return r.sw.Len()
}

func (r *Room) startRound() {
	ids := r.sw.IDs()
	if len(ids) < minPlayers {
		r.endRound()
		return
	}

	r.canvas = nil
	r.isGameOn = true
	r.drawer = ids[r.intn(len(ids))]
	r.clue = r.clues[r.intn(len(r.clues))]
	gen := r.timer.Rearm(r.roundDuration, r.roundTimeout)
	r.deadline = r.timer.Deadline()

	r.logger.Debug().
		Str("drawer", r.drawer).
		Uint64("round", gen).
		Time("deadline", r.deadline).
		Msg("round started")
	r.dumpState()
	r.broadcastState()
}

func (r *Room) endRound() {
	r.timer.Cancel()
	r.isGameOn = false
	r.drawer = ""
	r.clue = ""
	r.deadline = time.Time{}

	r.logger.Debug().Msg("round ended")
	r.dumpState()
	r.broadcastState()
}

func (r *Room) roundTimeout(gen uint64) {
	r.mx.Lock()
	defer r.mx.Unlock()

	if r.closed || !r.timer.Claim(gen) {
		r.logger.Trace().Uint64("round", gen).Msg("stale round timer ignored")
		return
	}
	r.logger.Debug().Uint64("round", gen).Msg("round timed out")
	r.startRound()
}

func (r *Room) broadcastState() {
	r.drop(r.sw.BroadcastFunc(func(conn *model.Connection) model.Frame {
		return r.stateFrame(conn.Player.ID)
	}))
}

// drop schedules dead connections for removal through Leave. It runs
// detached because the caller holds the room lock.
func (r *Room) drop(dead []*model.Connection) {
	for _, conn := range dead {
		conn.Close()
		r.logger.Warn().Str("playerID", conn.Player.ID).Msg("dropping dead connection")
		go r.Leave(conn.SessionID)
	}
}

func (r *Room) stateFrame(playerID string) model.Frame {
	b, err := json.Marshal(r.render(playerID))
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to marshal room state")
	}
	return model.TextFrame(b)
}

func (r *Room) render(playerID string) model.Snapshot {
	s := model.Snapshot{
		IsGameOn:    r.isGameOn,
		CanvasState: latin1(r.canvas),
	}
	if !r.isGameOn {
		return s
	}
	drawer, deadline := r.drawer, r.deadline
	s.CurrentDrawer = &drawer
	s.RoundDeadline = &deadline
	if playerID == r.drawer {
		s.Clue = r.clue
	} else if conn, ok := r.sw.Get(r.drawer); ok {
		s.Drawer = drawerPrefix + conn.Player.Nickname
	}
	return s
}

func (r *Room) stats() model.RoomStats {
	s := model.RoomStats{
		RoomID:      r.id,
		Locale:      r.locale,
		IsGameOn:    r.isGameOn,
		PlayerCount: r.sw.Len(),
	}
	if r.isGameOn {
		drawer, clue := r.drawer, r.clue
		s.CurrentDrawer = &drawer
		s.Clue = &clue
	}
	return s
}

func (r *Room) notify() {
	status := model.RoomStatus{
		RoomID:        r.id,
		ActivePlayers: r.sw.IDs(),
	}
	if r.isGameOn {
		drawer := r.drawer
		status.CurrentDrawer = &drawer
	}
	r.notifier.Notify(status)
}

func (r *Room) dumpState() {
	if e := r.logger.Trace(); e.Enabled() {
		e.Str("state", spew.Sdump(r.stats())).Msg("room state")
	}
}

// latin1 maps every byte to the code point of the same value, the
// one-char-per-byte encoding clients expect for the canvas in a snapshot.
func latin1(b []byte) string {
	var sb strings.Builder
	sb.Grow(len(b))
	for _, c := range b {
		sb.WriteRune(rune(c))
	}
	return sb.String()
}
