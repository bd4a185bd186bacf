package firehose

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/canopy-network/geyserx/pkg/logging"
	"github.com/canopy-network/geyserx/pkg/retry"
	"github.com/canopy-network/geyserx/pkg/utils"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const tokenHeader = "x-token"

// SourceConfig configures a websocket firehose Source.
type SourceConfig struct {
	// Endpoint is the ws:// or wss:// URL of the firehose bridge (required).
	Endpoint string

	// Token is sent in the x-token header when set.
	Token string

	// Request is written as the first frame of every connection.
	Request SubscribeRequest

	// Reconnect controls the delay between connection attempts. MaxRetries is ignored;
	// the source keeps reconnecting until its context is cancelled.
	Reconnect retry.Config

	// HandshakeTimeout bounds the websocket dial. Default: 10 seconds.
	HandshakeTimeout time.Duration

	Logger *zap.Logger
}

// Source reads SubscribeUpdate frames from a websocket firehose, reconnecting when
// the connection drops. It is not safe for concurrent use.
type Source struct {
	cfg    SourceConfig
	logger *zap.Logger
	dialer *websocket.Dialer

	conn     *websocket.Conn
	done     chan struct{}
	attempts int
	pingID   int32
}

func NewSource(cfg SourceConfig) (*Source, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("firehose endpoint is required")
	}
	if cfg.HandshakeTimeout == 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.Reconnect.InitialDelay == 0 {
		cfg.Reconnect = retry.Config{
			InitialDelay:  time.Second,
			MaxDelay:      30 * time.Second,
			Multiplier:    2.0,
			JitterEnabled: true,
		}
	}
	return &Source{
		cfg:    cfg,
		logger: logging.OrNop(cfg.Logger).With(zap.String("component", "firehose")),
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
			ReadBufferSize:   64 * 1024,
			WriteBufferSize:  4096,
		},
	}, nil
}

// Recv returns the next update. Transport and decode failures come back as errors and
// the caller may simply call Recv again; a dropped connection is re-established on the
// next call. Recv returns io.EOF once ctx is done.
//
// The context passed to the call that (re)connects also bounds the connection's lifetime.
func (s *Source) Recv(ctx context.Context) (*SubscribeUpdate, error) {
	if ctx.Err() != nil {
		s.Close()
		return nil, io.EOF
	}

	if s.conn == nil {
		if err := s.connect(ctx); err != nil {
			if ctx.Err() != nil {
				return nil, io.EOF
			}
			return nil, err
		}
	}

	_, frame, err := s.conn.ReadMessage()
	if err != nil {
		s.drop()
		if ctx.Err() != nil {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("read firehose frame: %w", err)
	}
	s.attempts = 0

	var update SubscribeUpdate
	if err := json.Unmarshal(frame, &update); err != nil {
		return nil, fmt.Errorf("decode firehose frame: %w", err)
	}

	if update.Ping != nil {
		s.pingID++
		if err := s.conn.WriteJSON(SubscribeRequest{Ping: &PingRequest{ID: s.pingID}}); err != nil {
			s.logger.Warn("Failed to answer firehose ping", zap.Error(err))
		}
	}

	return &update, nil
}

// Close drops the current connection, if any.
func (s *Source) Close() {
	s.drop()
}

func (s *Source) connect(ctx context.Context) error {
	if s.attempts > 0 {
		delay := retry.Backoff(s.cfg.Reconnect, s.attempts)
		s.logger.Info("Reconnecting to firehose",
			zap.Int("attempt", s.attempts),
			zap.Duration("retry_in", delay))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	s.attempts++

	header := http.Header{}
	if s.cfg.Token != "" {
		header.Set(tokenHeader, s.cfg.Token)
	}

	conn, resp, err := s.dialer.DialContext(ctx, s.cfg.Endpoint, header)
	if err != nil {
		if resp != nil {
			_ = utils.DrainAndClose(resp.Body)
		}
		return fmt.Errorf("dial firehose %s: %w", s.cfg.Endpoint, err)
	}
	if err := conn.WriteJSON(s.cfg.Request); err != nil {
		_ = conn.Close()
		return fmt.Errorf("send subscribe request: %w", err)
	}

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	s.conn = conn
	s.done = done
	s.logger.Info("Subscribed to firehose",
		zap.String("endpoint", s.cfg.Endpoint),
		zap.String("commitment", s.cfg.Request.Commitment),
		zap.Int("account_filters", len(s.cfg.Request.Accounts)),
		zap.Int("transaction_filters", len(s.cfg.Request.Transactions)))
	return nil
}

func (s *Source) drop() {
	if s.conn == nil {
		return
	}
	close(s.done)
	_ = s.conn.Close()
	s.conn = nil
	s.done = nil
}
