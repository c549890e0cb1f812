package service

import (
	"errors"
	"time"

	"github.com/adwski/drawguess/backend/clues"
	"github.com/adwski/drawguess/backend/model"
	"github.com/adwski/drawguess/backend/room"
	"github.com/rs/zerolog"
)

var (
	ErrCreate  = errors.New("unable to create room")
	ErrGet     = errors.New("unable to get room")
	ErrDelete  = errors.New("unable to delete room")
	ErrConnect = errors.New("unable to connect")
	ErrKick    = errors.New("unable to kick player")
	ErrGuess   = errors.New("unable to process guess")
	ErrStart   = errors.New("unable to start round")
)

type (
	RoomStore interface {
		AddRoom(r *room.Room) error
		GetRoom(roomID string) (*room.Room, error)
		RemoveRoom(roomID string) (*room.Room, error)
		ListRooms() []*room.Room
	}

	// Service is the room manager: it owns all rooms and routes
	// connections, frames and admin commands to them.
	Service struct {
		store         RoomStore
		notifier      room.Notifier
		roundDuration time.Duration
		threshold     int
		logger        zerolog.Logger
		roomLogger    *zerolog.Logger
	}

	Config struct {
		RoomStore     RoomStore
		Notifier      room.Notifier
		Logger        *zerolog.Logger
		RoundDuration time.Duration
		Threshold     int
	}
)

func NewService(cfg Config) *Service {
	return &Service{
		store:         cfg.RoomStore,
		notifier:      cfg.Notifier,
		roundDuration: cfg.RoundDuration,
		threshold:     cfg.Threshold,
		logger:        cfg.Logger.With().Str("component", "service").Logger(),
		roomLogger:    cfg.Logger,
	}
}

func (svc *Service) CreateRoom(roomID, locale string) error {
	list, err := clues.Load(locale)
	if err != nil {
		return errors.Join(ErrCreate, err)
	}
	r := room.New(room.Config{
		Logger:        svc.roomLogger,
		Notifier:      svc.notifier,
		ID:            roomID,
		Locale:        locale,
		Clues:         list,
		RoundDuration: svc.roundDuration,
		Threshold:     svc.threshold,
	})
	if err = svc.store.AddRoom(r); err != nil {
		return errors.Join(ErrCreate, err)
	}
	svc.logger.Info().
		Str("roomID", roomID).
		Str("locale", locale).
		Msg("room created")
	return nil
}

func (svc *Service) GetRoom(roomID string) (*room.Room, error) {
	r, err := svc.store.GetRoom(roomID)
	if err != nil {
		return nil, errors.Join(ErrGet, err)
	}
	return r, nil
}

// DeleteRoom removes the room, cancels its round timer and drops its connections.
func (svc *Service) DeleteRoom(roomID string) error {
	r, err := svc.store.RemoveRoom(roomID)
	if err != nil {
		return errors.Join(ErrDelete, err)
	}
	r.Close()
	svc.logger.Info().Str("roomID", roomID).Msg("room deleted")
	return nil
}

// Connect registers conn in the room. The room sends the new player its
// state before Connect returns.
func (svc *Service) Connect(roomID string, conn *model.Connection) error {
	r, err := svc.store.GetRoom(roomID)
	if err != nil {
		return errors.Join(ErrConnect, err)
	}
	if err = r.Join(conn); err != nil {
		return errors.Join(ErrConnect, err)
	}
	svc.logger.Debug().
		Str("roomID", roomID).
		Str("playerID", conn.Player.ID).
		Str("session", conn.SessionID).
		Msg("player connected")
	return nil
}

func (svc *Service) Disconnect(roomID, sessionID string) {
	r, err := svc.store.GetRoom(roomID)
	if err != nil {
		svc.logger.Debug().
			Str("roomID", roomID).
			Str("session", sessionID).
			Msg("disconnect from a room that is gone")
		return
	}
	r.Leave(sessionID)
}

// HandleMessage routes an inbound frame: binary frames are draw data,
// text frames are guesses.
func (svc *Service) HandleMessage(roomID, playerID string, frameType model.FrameType, payload []byte) {
	r, err := svc.store.GetRoom(roomID)
	if err != nil {
		svc.logger.Debug().Str("roomID", roomID).Msg("message for a room that is gone")
		return
	}
	switch frameType {
	case model.FrameBinary:
		r.SubmitDrawData(playerID, payload)
	case model.FrameText:
		r.HandleText(playerID, payload)
	default:
		svc.logger.Warn().
			Str("roomID", roomID).
			Str("playerID", playerID).
			Int("type", int(frameType)).
			Msg("unknown frame type ignored")
	}
}

func (svc *Service) StartRound(roomID string) error {
	r, err := svc.GetRoom(roomID)
	if err != nil {
		return err
	}
	if err = r.StartRound(); err != nil {
		return errors.Join(ErrStart, err)
	}
	return nil
}

func (svc *Service) RestartRound(roomID string) error {
	r, err := svc.GetRoom(roomID)
	if err != nil {
		return err
	}
	if err = r.RestartRound(); err != nil {
		return errors.Join(ErrStart, err)
	}
	return nil
}

func (svc *Service) EndRound(roomID string) error {
	r, err := svc.GetRoom(roomID)
	if err != nil {
		return err
	}
	r.EndRound()
	return nil
}

func (svc *Service) EndAllGames() {
	for _, r := range svc.store.ListRooms() {
		r.EndRound()
	}
}

func (svc *Service) KickPlayer(roomID, playerID string) error {
	r, err := svc.GetRoom(roomID)
	if err != nil {
		return err
	}
	if err = r.Kick(playerID); err != nil {
		return errors.Join(ErrKick, err)
	}
	svc.logger.Info().
		Str("roomID", roomID).
		Str("playerID", playerID).
		Msg("player kicked")
	return nil
}

func (svc *Service) SubmitGuess(guess model.PlayerGuess) (model.GuessResult, error) {
	r, err := svc.GetRoom(guess.RoomID)
	if err != nil {
		return model.GuessResult{}, err
	}
	result, err := r.SubmitGuess(guess.PlayerID, guess.Message)
	if err != nil {
		return model.GuessResult{}, errors.Join(ErrGuess, err)
	}
	return result, nil
}

func (svc *Service) RoomStats(roomID string) (model.RoomStats, error) {
	r, err := svc.GetRoom(roomID)
	if err != nil {
		return model.RoomStats{}, err
	}
	return r.Stats(), nil
}

func (svc *Service) OverallStats() model.OverallStats {
	rooms := svc.store.ListRooms()
	stats := model.OverallStats{
		RoomsCount: len(rooms),
		RoomsIDs:   make([]string, 0, len(rooms)),
	}
	for _, r := range rooms {
		rs := r.Stats()
		stats.RoomsIDs = append(stats.RoomsIDs, rs.RoomID)
		stats.PlayersCount += rs.PlayerCount
		if rs.IsGameOn {
			stats.GamesOn++
		}
	}
	return stats
}

// Shutdown closes every room. Rooms stay in the store but accept no new players.
func (svc *Service) Shutdown() {
	for _, r := range svc.store.ListRooms() {
		r.Close()
	}
	svc.logger.Debug().Msg("all rooms closed")
}
