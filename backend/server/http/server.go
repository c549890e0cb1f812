package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/adwski/drawguess/backend/clues"
	"github.com/adwski/drawguess/backend/model"
	"github.com/adwski/drawguess/backend/room"
	"github.com/adwski/drawguess/backend/storage/memory"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

const (
	defaultShutdownDeadline = 10 * time.Second

	defaultMaxBodySize = 64 << 10
)

var (
	ErrUnexpected = errors.New("unexpected server error")
)

type RoomService interface {
	CreateRoom(roomID, locale string) error
	DeleteRoom(roomID string) error
	StartRound(roomID string) error
	RestartRound(roomID string) error
	EndRound(roomID string) error
	EndAllGames()
	KickPlayer(roomID, playerID string) error
	SubmitGuess(guess model.PlayerGuess) (model.GuessResult, error)
	RoomStats(roomID string) (model.RoomStats, error)
	OverallStats() model.OverallStats
}

type GenericResponse struct {
	Message string      `json:"message,omitempty"`
	Error   string      `json:"error,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

type Server struct {
	logger zerolog.Logger
	svc    RoomService
	*http.Server
}

type Config struct {
	Logger      *zerolog.Logger
	RoomService RoomService
	ListenAddr  string
}

func NewServer(cfg Config) *Server {
	srv := &Server{
		logger: cfg.Logger.With().Str("component", "api-server").Logger(),
		svc:    cfg.RoomService,
	}

	srv.Server = &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: srv.Router(),
	}
	return srv
}

// Router returns the admin api handler.
func (srv *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.Use(corsMiddleware)

	r.HandleFunc("/", srv.health).Methods(http.MethodGet)
	r.HandleFunc("/guess", srv.guess).Methods(http.MethodPost)
	r.HandleFunc("/stats", srv.stats).Methods(http.MethodGet)
	r.HandleFunc("/room/new/{room_id}/{locale}", srv.newRoom).Methods(http.MethodPost)
	r.HandleFunc("/room/{room_id}", srv.deleteRoom).Methods(http.MethodDelete)
	r.HandleFunc("/game/kick_player/{room_id}/{player_id}", srv.kickPlayer).Methods(http.MethodPost)
	r.HandleFunc("/game/end_all_games", srv.endAllGames).Methods(http.MethodPost)
	r.HandleFunc("/game/end/{room_id}", srv.endRound).Methods(http.MethodPost)
	r.HandleFunc("/game/start/{room_id}", srv.startRound).Methods(http.MethodPost)
	r.HandleFunc("/game/restart/{room_id}", srv.restartRound).Methods(http.MethodPost)
	r.PathPrefix("/").Methods(http.MethodOptions).HandlerFunc(preflight)
	return r
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept")
		w.Header().Set("Access-Control-Max-Age", "86400")
		next.ServeHTTP(w, r)
	})
}

func preflight(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

func (srv *Server) health(w http.ResponseWriter, _ *http.Request) {
	srv.writeJSON(w, http.StatusOK, &GenericResponse{Message: "ok"})
}

func (srv *Server) guess(w http.ResponseWriter, r *http.Request) {
	var (
		body  []byte
		guess model.PlayerGuess
	)
	body, _ = io.ReadAll(io.LimitReader(r.Body, defaultMaxBodySize))
	defer func() {
		_ = r.Body.Close()
	}()
	if err := json.Unmarshal(body, &guess); err != nil || guess.RoomID == "" || guess.PlayerID == "" {
		srv.writeJSON(w, http.StatusBadRequest, &GenericResponse{Error: "malformed guess"})
		return
	}

	srv.logger.Trace().Any("request", guess).Msg("got guess")

	result, err := srv.svc.SubmitGuess(guess)
	if err != nil {
		srv.writeError(w, err)
		return
	}
	srv.writeJSON(w, http.StatusOK, &result)
}

func (srv *Server) stats(w http.ResponseWriter, r *http.Request) {
	roomID := r.URL.Query().Get("room_id")
	if roomID == "" {
		stats := srv.svc.OverallStats()
		srv.writeJSON(w, http.StatusOK, &stats)
		return
	}
	stats, err := srv.svc.RoomStats(roomID)
	if err != nil {
		srv.writeError(w, err)
		return
	}
	srv.writeJSON(w, http.StatusOK, &stats)
}

func (srv *Server) newRoom(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	srv.writeResult(w, srv.svc.CreateRoom(vars["room_id"], vars["locale"]))
}

func (srv *Server) deleteRoom(w http.ResponseWriter, r *http.Request) {
	srv.writeResult(w, srv.svc.DeleteRoom(mux.Vars(r)["room_id"]))
}

func (srv *Server) kickPlayer(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	srv.writeResult(w, srv.svc.KickPlayer(vars["room_id"], vars["player_id"]))
}

func (srv *Server) endAllGames(w http.ResponseWriter, _ *http.Request) {
	srv.svc.EndAllGames()
	srv.writeResult(w, nil)
}

func (srv *Server) endRound(w http.ResponseWriter, r *http.Request) {
	srv.writeResult(w, srv.svc.EndRound(mux.Vars(r)["room_id"]))
}

func (srv *Server) startRound(w http.ResponseWriter, r *http.Request) {
	srv.writeResult(w, srv.svc.StartRound(mux.Vars(r)["room_id"]))
}

func (srv *Server) restartRound(w http.ResponseWriter, r *http.Request) {
	srv.writeResult(w, srv.svc.RestartRound(mux.Vars(r)["room_id"]))
}

func (srv *Server) writeResult(w http.ResponseWriter, err error) {
	if err != nil {
		srv.writeError(w, err)
		return
	}
	srv.writeJSON(w, http.StatusOK, &GenericResponse{Message: "success"})
}

func (srv *Server) writeError(w http.ResponseWriter, err error) {
	code := statusCode(err)
	if code == http.StatusInternalServerError {
		srv.logger.Error().Err(err).Msg("request failed")
	} else {
		srv.logger.Debug().Err(err).Int("code", code).Msg("request rejected")
	}
	srv.writeJSON(w, code, &GenericResponse{Error: err.Error()})
}

func statusCode(err error) int {
	switch {
	case errors.Is(err, memory.ErrRoomNotFound),
		errors.Is(err, room.ErrPlayerNotFound):
		return http.StatusNotFound
	case errors.Is(err, memory.ErrRoomExists),
		errors.Is(err, room.ErrPlayerIDInUse),
		errors.Is(err, room.ErrRoomClosed),
		errors.Is(err, room.ErrGameNotStarted),
		errors.Is(err, room.ErrNotEnoughPlayers):
		return http.StatusConflict
	case errors.Is(err, clues.ErrLocaleNotSupported):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (srv *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		srv.logger.Error().Err(err).Msg("failed to marshal response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	writeBytes(w, code, b)
}

func writeBytes(w http.ResponseWriter, code int, b []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(len(b)))
	w.WriteHeader(code)
	if _, err := w.Write(b); err != nil {
		log.Printf("failed to write response: %v", err)
	}
}

func (srv *Server) Run(ctx context.Context, wg *sync.WaitGroup, errc chan<- error) {
	defer func() {
		srv.logger.Debug().Msg("server stopped")
		wg.Done()
	}()

	hErr := make(chan error)
	go func() {
		hErr <- srv.ListenAndServe()
	}()

	srv.logger.Info().Str("addr", srv.Addr).Msg("server started")

	select {
	case err := <-hErr:
		if !errors.Is(err, http.ErrServerClosed) {
			errc <- errors.Join(ErrUnexpected, err)
		}
	case <-ctx.Done():
		shCtx, shCancel := context.WithTimeout(context.Background(), defaultShutdownDeadline)
		defer shCancel()
		if err := srv.Shutdown(shCtx); err != nil {
			srv.logger.Error().Err(err).Msg("server shutdown failed")
		}
	}
}
