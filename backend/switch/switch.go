package _switch

import (
	"errors"
	"slices"
	"sync"

	"github.com/adwski/drawguess/backend/model"
	"github.com/rs/zerolog"
)

var (
	ErrEndpointExists = errors.New("endpoint is already connected")
)

// Switch holds the live connections of a single room in join order
// and fans frames out to them.
type Switch struct {
	logger zerolog.Logger
	mx     *sync.RWMutex
	order  []string
	fwd    map[string]*model.Connection
}

func NewSwitch(logger *zerolog.Logger) *Switch {
	return &Switch{
		logger: logger.With().Str("component", "switch").Logger(),
		mx:     &sync.RWMutex{},
		fwd:    make(map[string]*model.Connection),
	}
}

// Connect registers conn. The first connection of a player wins, a second
// one with the same player id is rejected.
func (sw *Switch) Connect(conn *model.Connection) error {
	sw.mx.Lock()
	defer sw.mx.Unlock()

	if _, ok := sw.fwd[conn.Player.ID]; ok {
		return ErrEndpointExists
	}
	sw.fwd[conn.Player.ID] = conn
	sw.order = append(sw.order, conn.Player.ID)

	sw.logger.Debug().
		Str("endpoint", conn.Player.ID).
		Str("session", conn.SessionID).
		Msg("endpoint connected")
	return nil
}

// Disconnect removes the connection with the given session id. A session
// that was already replaced or removed is left alone.
func (sw *Switch) Disconnect(sessionID string) (*model.Connection, bool) {
	sw.mx.Lock()
	defer sw.mx.Unlock()

	for _, id := range sw.order {
		if conn := sw.fwd[id]; conn.SessionID == sessionID {
			sw.remove(id)
			return conn, true
		}
	}
	return nil, false
}

// DisconnectEndpoint removes whatever connection the player currently has.
func (sw *Switch) DisconnectEndpoint(playerID string) (*model.Connection, bool) {
	sw.mx.Lock()
	defer sw.mx.Unlock()

	conn, ok := sw.fwd[playerID]
	if !ok {
		return nil, false
	}
	sw.remove(playerID)
	return conn, true
}

func (sw *Switch) remove(playerID string) {
	delete(sw.fwd, playerID)
	sw.order = slices.DeleteFunc(sw.order, func(id string) bool { return id == playerID })
	sw.logger.Debug().Str("endpoint", playerID).Msg("endpoint disconnected")
}

// DisconnectAll empties the switch and returns what was connected.
func (sw *Switch) DisconnectAll() []*model.Connection {
	sw.mx.Lock()
	defer sw.mx.Unlock()

	conns := sw.connections()
	sw.fwd = make(map[string]*model.Connection)
	sw.order = nil
	return conns
}

func (sw *Switch) Get(playerID string) (*model.Connection, bool) {
	sw.mx.RLock()
	defer sw.mx.RUnlock()
	conn, ok := sw.fwd[playerID]
	return conn, ok
}

// IDs returns connected player ids in join order.
func (sw *Switch) IDs() []string {
	sw.mx.RLock()
	defer sw.mx.RUnlock()
	return slices.Clone(sw.order)
}

func (sw *Switch) Connections() []*model.Connection {
	sw.mx.RLock()
	defer sw.mx.RUnlock()
	return sw.connections()
}

func (sw *Switch) connections() []*model.Connection {
	conns := make([]*model.Connection, 0, len(sw.order))
	for _, id := range sw.order {
		conns = append(conns, sw.fwd[id])
	}
	return conns
}

func (sw *Switch) Len() int {
	sw.mx.RLock()
	defer sw.mx.RUnlock()
	return len(sw.order)
}

// Send delivers frame to a single connection. It reports false if the
// connection is dead.
func (sw *Switch) Send(conn *model.Connection, frame model.Frame) bool {
	return send(conn, frame, &sw.logger)
}

// Broadcast delivers the same frame to every connection and returns the
// connections that could not take it.
func (sw *Switch) Broadcast(frame model.Frame) []*model.Connection {
	return sw.BroadcastFunc(func(*model.Connection) model.Frame {
		return frame
	})
}

// BroadcastFunc renders a frame per connection. A dead connection does not
// stop delivery to the others.
func (sw *Switch) BroadcastFunc(render func(conn *model.Connection) model.Frame) []*model.Connection {
	var dead []*model.Connection
	for _, conn := range sw.Connections() {
		if !send(conn, render(conn), &sw.logger) {
			dead = append(dead, conn)
		}
	}
	if len(dead) > 0 {
		sw.logger.Debug().Int("dead", len(dead)).Msg("broadcast did not reach everyone")
	}
	return dead
}

// send never blocks: a closed connection or a full outbound queue is a dead endpoint.
func send(conn *model.Connection, frame model.Frame, logger *zerolog.Logger) bool {
	if conn.Closed() {
		logger.Debug().Str("dst", conn.Player.ID).Msg("endpoint is closed")
		return false
	}
	select {
	case conn.TX <- frame:
		logger.Trace().Str("dst", conn.Player.ID).Msg("frame is forwarded")
		return true
	default:
		logger.Error().Str("dst", conn.Player.ID).Msg("dead endpoint")
		return false
	}
}
