package websocket

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/adwski/drawguess/backend/model"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	defaultShutdownDeadline = 10 * time.Second

	defaultOutboundQueueSize = 256

	defaultWebsocketReadBufferSize     = 10000
	defaultWebsocketWriteBufferSize    = 10000
	defaultWebSocketMaxMessageSize     = 1 << 20
	defaultWebSocketHandshakeTimeout   = 3 * time.Second
	defaultWebSocketCloseWriteDeadline = 2 * time.Second
	defaultWebSocketWriteDeadline      = 5 * time.Second

	// defaultPongWait - defaultPingInterval == is how long we give client to respond
	defaultPingInterval = 5 * time.Second
	defaultPongWait     = 7 * time.Second

	// guesses per second a single connection may send
	defaultGuessRate  = 2
	defaultGuessBurst = 5

	maxCloseReasonLen = 123
)

var (
	ErrUnexpected = errors.New("unexpected server error")
)

type (
	ConnectionService interface {
		Connect(roomID string, conn *model.Connection) error
		Disconnect(roomID, sessionID string)
		HandleMessage(roomID, playerID string, frameType model.FrameType, payload []byte)
	}

	Config struct {
		Logger            *zerolog.Logger
		ConnectionService ConnectionService
		ListenAddr        string
	}

	Server struct {
		svc ConnectionService
		ws  *websocket.Upgrader
		*http.Server

		logger zerolog.Logger
	}
)

func NewServer(cfg Config) *Server {
	srv := &Server{
		logger: cfg.Logger.With().Str("component", "websocket-server").Logger(),
		svc:    cfg.ConnectionService,
		ws: &websocket.Upgrader{
			HandshakeTimeout: defaultWebSocketHandshakeTimeout,
			ReadBufferSize:   defaultWebsocketReadBufferSize,
			WriteBufferSize:  defaultWebsocketWriteBufferSize,
			CheckOrigin:      func(r *http.Request) bool { return true },
		},
	}

	srv.Server = &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: srv.Handler(),
	}
	return srv
}

func (srv *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws/{roomID}/{playerID}/{nick}", srv.play)
	return mux
}

func (srv *Server) Run(ctx context.Context, wg *sync.WaitGroup, errc chan<- error) {
	defer func() {
		srv.logger.Debug().Msg("server stopped")
		wg.Done()
	}()

	errSrv := make(chan error)
	go func() {
		errSrv <- srv.ListenAndServe()
	}()

	srv.logger.Info().Str("addr", srv.Addr).Msg("server started")

	select {
	case err := <-errSrv:
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

func (srv *Server) play(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("roomID")
	player := model.Player{
		ID:       r.PathValue("playerID"),
		Nickname: r.PathValue("nick"),
	}
	if roomID == "" || player.ID == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	conn, err := srv.ws.Upgrade(w, r, nil)
	if err != nil {
		srv.logger.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	logger := srv.logger.With().
		Str("roomID", roomID).
		Str("playerID", player.ID).
		Logger()

	session := model.NewConnection(player, defaultOutboundQueueSize)
	if err = srv.svc.Connect(roomID, session); err != nil {
		logger.Warn().Err(err).Msg("connection refused")
		webSocketCloser(conn, websocket.ClosePolicyViolation, err.Error(), &logger)
		return
	}
	logger.Debug().Str("session", session.SessionID).Msg("session created")

	go srv.handleWSConn(conn, roomID, session, &logger)
}

func (srv *Server) handleWSConn(
	conn *websocket.Conn,
	roomID string,
	session *model.Connection,
	logger *zerolog.Logger,
) {
	var (
		wg          = &sync.WaitGroup{}
		ctx, cancel = context.WithCancel(context.Background())
	)
	defer cancel()

	wg.Add(2)
	go func() {
		webSocketReceiver(ctx, wg, conn, func(frameType model.FrameType, payload []byte) {
			srv.svc.HandleMessage(roomID, session.Player.ID, frameType, payload)
		}, logger)
		cancel()
	}()
	go func() {
		webSocketSender(ctx, wg, conn, session, logger)
		cancel()
	}()

	<-ctx.Done()
	reason := ""
	if session.Closed() {
		reason = "removed from room"
	}
	// unblocks the receiver
	webSocketCloser(conn, websocket.CloseNormalClosure, reason, logger)
	wg.Wait()

	srv.svc.Disconnect(roomID, session.SessionID)
	logger.Debug().Str("session", session.SessionID).Msg("session ended")
}

func webSocketSender(
	ctx context.Context,
	wg *sync.WaitGroup,
	conn *websocket.Conn,
	session *model.Connection,
	logger *zerolog.Logger,
) {
	pingTicker := time.NewTicker(defaultPingInterval)
	defer func() {
		pingTicker.Stop()
		wg.Done()
	}()
SendLoop:
	for {
		select {
		case <-ctx.Done():
			break SendLoop
		case <-session.Done():
			logger.Debug().Msg("session closed by room")
			break SendLoop
		case <-pingTicker.C:
			wsErr := conn.SetWriteDeadline(time.Now().Add(defaultWebSocketWriteDeadline))
			if wsErr != nil {
				logger.Error().Err(wsErr).Msg("failed to set websocket write deadline")
				break SendLoop
			}
			wsErr = conn.WriteMessage(websocket.PingMessage, []byte{})
			if wsErr != nil {
				logger.Error().Err(wsErr).Msg("failed to send ping")
				break SendLoop
			}
			logger.Trace().Msg("ping sent")

		case frame := <-session.TX:
			msgType := websocket.TextMessage
			if frame.Type == model.FrameBinary {
				msgType = websocket.BinaryMessage
			}

			wsErr := conn.SetWriteDeadline(time.Now().Add(defaultWebSocketWriteDeadline))
			if wsErr != nil {
				logger.Error().Err(wsErr).Msg("failed to set websocket write deadline")
				break SendLoop
			}
			wsW, wsErr := conn.NextWriter(msgType)
			if wsErr != nil {
				logger.Error().Err(wsErr).Msg("failed to get websocket writer")
				break SendLoop
			}
			_, wsErr = wsW.Write(frame.Payload)
			if wsErr != nil {
				logger.Error().Err(wsErr).Msg("failed to write outgoing message")
				break SendLoop
			}
			wsErr = wsW.Close()
			if wsErr != nil {
				logger.Error().Err(wsErr).Msg("failed to close websocket writer")
				break SendLoop
			}
		}
	}
}

func webSocketReceiver(
	ctx context.Context,
	wg *sync.WaitGroup,
	conn *websocket.Conn,
	handle func(model.FrameType, []byte),
	logger *zerolog.Logger,
) {
	defer wg.Done()

	limiter := rate.NewLimiter(defaultGuessRate, defaultGuessBurst)

	conn.SetReadLimit(defaultWebSocketMaxMessageSize)
	readDeadLineFunc := func(deadline time.Duration) error {
		return conn.SetReadDeadline(time.Now().Add(deadline))
	}
	conn.SetPongHandler(func(string) error {
		logger.Trace().Msg("got pong")
		return readDeadLineFunc(defaultPongWait)
	})
	err := readDeadLineFunc(defaultPongWait)
	if err != nil {
		logger.Error().Err(err).Msg("failed to set websocket read deadline")
		return
	}

RecvLoop:
	for {
		select {
		case <-ctx.Done():
			break RecvLoop
		default:
			msgType, msg, wsErr := conn.ReadMessage()
			if wsErr != nil {
				if websocket.IsCloseError(wsErr,
					websocket.CloseNormalClosure,
					websocket.CloseGoingAway) {
					logger.Debug().Err(wsErr).Msg("connection closed")
				} else if ctx.Err() == nil {
					logger.Error().Err(wsErr).Msg("unexpected error during receive")
				}
				break RecvLoop
			}

			switch msgType {
			case websocket.BinaryMessage:
				handle(model.FrameBinary, msg)
			case websocket.TextMessage:
				if !limiter.Allow() {
					logger.Warn().Msg("text frame rate exceeded, frame dropped")
					continue
				}
				handle(model.FrameText, msg)
			default:
				logger.Warn().Int("type", msgType).Msg("unsupported frame ignored")
			}
		}
	}
}

func webSocketCloser(conn *websocket.Conn, code int, reason string, logger *zerolog.Logger) {
	if len(reason) > maxCloseReasonLen {
		reason = reason[:maxCloseReasonLen]
	}
	wsErr := conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(defaultWebSocketCloseWriteDeadline),
	)
	if wsErr != nil && !errors.Is(wsErr, websocket.ErrCloseSent) {
		logger.Debug().Err(wsErr).Msg("failed to send close message")
	}
	wsErr = conn.Close()
	if wsErr != nil {
		logger.Error().Err(wsErr).Msg("failed to close websocket connection")
	}
}
