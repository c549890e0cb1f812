package model

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

type Player struct {
	ID       string `json:"id"`
	Nickname string `json:"nickname"`
}

type FrameType int

const (
	FrameText FrameType = iota
	FrameBinary
)

// Frame is a single outbound websocket message.
type Frame struct {
	Type    FrameType
	Payload []byte
}

func TextFrame(b []byte) Frame {
	return Frame{Type: FrameText, Payload: b}
}

func BinaryFrame(b []byte) Frame {
	return Frame{Type: FrameBinary, Payload: b}
}

// Connection is one live player session in a room. TX is drained by
// the transport; Done is closed when the room drops the connection.
type Connection struct {
	SessionID string
	Player    Player
	TX        chan Frame

	done chan struct{}
	once *sync.Once
}

func NewConnection(player Player, queueSize int) *Connection {
	return &Connection{
		SessionID: uuid.NewString(),
		Player:    player,
		TX:        make(chan Frame, queueSize),
		done:      make(chan struct{}),
		once:      &sync.Once{},
	}
}

func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// Close is safe to call multiple times.
func (c *Connection) Close() {
	c.once.Do(func() {
		close(c.done)
	})
}

func (c *Connection) Closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

type GuessStatus string

const (
	GuessWin   GuessStatus = "WIN"
	GuessClose GuessStatus = "IS_CLOSE"
	GuessMiss  GuessStatus = "MISS"
)

type PlayerGuess struct {
	RoomID   string `json:"room_id"`
	PlayerID string `json:"player_id"`
	Message  string `json:"message"`
}

type GuessResult struct {
	Status GuessStatus `json:"status"`
	Clue   string      `json:"clue,omitempty"`
	Winner string      `json:"winner,omitempty"`
	Drawer string      `json:"drawer,omitempty"`
}

// Snapshot is the per-player view of a room. Clue is only ever set
// for the current drawer, Drawer only for everyone else.
type Snapshot struct {
	IsGameOn      bool       `json:"is_game_on"`
	CurrentDrawer *string    `json:"current_drawer"`
	Clue          string     `json:"clue,omitempty"`
	Drawer        string     `json:"drawer,omitempty"`
	CanvasState   string     `json:"canvas_state"`
	RoundDeadline *time.Time `json:"round_deadline,omitempty"`
}

// RoomStats is the admin view of a room, it does include the clue.
type RoomStats struct {
	RoomID        string  `json:"room_id"`
	Locale        string  `json:"locale"`
	IsGameOn      bool    `json:"is_game_on"`
	CurrentDrawer *string `json:"current_drawer"`
	PlayerCount   int     `json:"player_count"`
	Clue          *string `json:"clue"`
}

type OverallStats struct {
	RoomsCount   int      `json:"rooms_count"`
	RoomsIDs     []string `json:"rooms_ids"`
	PlayersCount int      `json:"players_count"`
	GamesOn      int      `json:"games_on"`
}

// RoomStatus is pushed to the external stats hook on membership changes.
type RoomStatus struct {
	RoomID        string   `json:"roomId"`
	ActivePlayers []string `json:"activePlayers"`
	CurrentDrawer *string  `json:"currentDrawer"`
}
