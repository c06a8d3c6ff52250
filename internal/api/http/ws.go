package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
	"github.com/immxrtalbeast/laika/internal/domain"
	"github.com/immxrtalbeast/laika/internal/service"
	"github.com/immxrtalbeast/laika/lib/logger/sl"
	"golang.org/x/time/rate"
)

const writeWait = 10 * time.Second

type WSOptions struct {
	MaxMessageBytes   int64
	MessagesPerSecond float64
	PingPeriod        time.Duration
	PongWait          time.Duration
}

func (o WSOptions) withDefaults() WSOptions {
	if o.MaxMessageBytes <= 0 {
		o.MaxMessageBytes = 64 * 1024
	}
	if o.MessagesPerSecond <= 0 {
		o.MessagesPerSecond = 50
	}
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	if o.PingPeriod <= 0 || o.PingPeriod >= o.PongWait {
		o.PingPeriod = o.PongWait * 9 / 10
	}
	return o
}

// session pumps one websocket connection. readPump is the only reader and
// writePump the only writer of conn. The session ends when ctx is done.
type session struct {
	ctx       context.Context
	conn      *websocket.Conn
	peer      *domain.Peer
	signaling service.SignalingInteractor
	limiter   *rate.Limiter
	opts      WSOptions
	log       *slog.Logger
}

func newSession(ctx context.Context, conn *websocket.Conn, signaling service.SignalingInteractor, opts WSOptions, log *slog.Logger) *session {
	peer := domain.NewPeer(conn.RemoteAddr().String())
	burst := int(opts.MessagesPerSecond * 2)
	if burst < 1 {
		burst = 1
	}
	return &session{
		ctx:       ctx,
		conn:      conn,
		peer:      peer,
		signaling: signaling,
		limiter:   rate.NewLimiter(rate.Limit(opts.MessagesPerSecond), burst),
		opts:      opts,
		log:       log.With(slog.String("peer_id", peer.ID)),
	}
}

func (s *session) run() {
	s.signaling.Connect(s.peer)
	go s.writePump()
	s.readPump()
}

func (s *session) readPump() {
	defer func() {
		s.signaling.Disconnect(s.peer)
		s.peer.Close()
		s.conn.Close()
	}()

	s.conn.SetReadLimit(s.opts.MaxMessageBytes)
	_ = s.conn.SetReadDeadline(time.Now().Add(s.opts.PongWait))
	s.conn.SetPongHandler(func(string) error {
		s.peer.Touch()
		return s.conn.SetReadDeadline(time.Now().Add(s.opts.PongWait))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Warn("websocket read failed", sl.Err(err))
			}
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(s.opts.PongWait))

		if !s.limiter.Allow() {
			s.peer.EnqueueEvent(domain.ErrorEvent("rate limit exceeded"))
			continue
		}

		var msg domain.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			s.peer.EnqueueEvent(domain.ErrorEvent("malformed message"))
			continue
		}

		s.signaling.Dispatch(s.ctx, s.peer, &msg)
	}
}

func (s *session) writePump() {
	ticker := time.NewTicker(s.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	events := s.peer.Events()
	for {
		select {
		case event, ok := <-events:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteJSON(event); err != nil {
				s.log.Debug("websocket write failed", sl.Err(err))
				return
			}
		case <-s.ctx.Done():
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = s.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			return
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
