// Package exporter pushes room membership changes to an external stats service.
package exporter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/adwski/drawguess/backend/model"
	"github.com/rs/zerolog"
)

const (
	defaultTimeout   = 5 * time.Second
	defaultQueueSize = 256

	roomStatusPath = "rooms/update-room-status"
)

var (
	ErrUnexpectedStatus = errors.New("unexpected response status")
)

type (
	Config struct {
		Logger    *zerolog.Logger
		Client    *http.Client
		BaseURL   string
		Timeout   time.Duration
		QueueSize int
	}

	// Exporter posts notifications one at a time, in the order they were
	// queued, from the goroutine started by Run. Failures are logged and
	// dropped, there are no retries.
	Exporter struct {
		client  *http.Client
		queue   chan model.RoomStatus
		url     string
		timeout time.Duration
		logger  zerolog.Logger
	}

	Nop struct{}
)

func New(cfg Config) *Exporter {
	client := cfg.Client
	if client == nil {
		client = http.DefaultClient
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Exporter{
		client:  client,
		queue:   make(chan model.RoomStatus, queueSize),
		url:     strings.TrimSuffix(cfg.BaseURL, "/") + "/" + roomStatusPath,
		timeout: timeout,
		logger:  cfg.Logger.With().Str("component", "exporter").Logger(),
	}
}

// Notify queues status for export. It never blocks: when the queue is full
// the status is dropped.
func (e *Exporter) Notify(status model.RoomStatus) {
	select {
	case e.queue <- status:
	default:
		e.logger.Warn().Str("roomID", status.RoomID).Msg("export queue is full, room status dropped")
	}
}

// Run exports queued statuses until ctx is done, then flushes what is
// still queued and returns.
func (e *Exporter) Run(ctx context.Context, wg *sync.WaitGroup) {
	defer func() {
		e.logger.Debug().Msg("exporter stopped")
		wg.Done()
	}()

	for {
		select {
		case <-ctx.Done():
			e.flush()
			return
		case status := <-e.queue:
			e.export(status)
		}
	}
}

func (e *Exporter) flush() {
	for {
		select {
		case status := <-e.queue:
			e.export(status)
		default:
			return
		}
	}
}

func (e *Exporter) export(status model.RoomStatus) {
	ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
	defer cancel()
	if err := e.Export(ctx, status); err != nil {
		e.logger.Warn().Err(err).Str("roomID", status.RoomID).Msg("room status export failed")
		return
	}
	e.logger.Debug().Str("roomID", status.RoomID).Msg("room status exported")
}

// Export synchronously posts status.
func (e *Exporter) Export(ctx context.Context, status model.RoomStatus) error {
	if status.ActivePlayers == nil {
		status.ActivePlayers = []string{}
	}
	b, err := json.Marshal(&status)
	if err != nil {
		return fmt.Errorf("unable to marshal room status: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("unable to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("unable to post room status: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: %d %s", ErrUnexpectedStatus, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

func (Nop) Notify(model.RoomStatus) {}
