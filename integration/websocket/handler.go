package websocket

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dmitrymomot/loginflow/core/logger"
	"github.com/dmitrymomot/loginflow/pkg/broadcast"
)

// Client commands, sent as text messages.
const (
	CommandPause  = "pause"
	CommandResume = "resume"
)

// DefaultChannel is streamed when the request names none.
const DefaultChannel = broadcast.ChannelState

var ErrUnknownChannel = errors.New("unknown channel")

// Message is the frame written for every delivered value.
type Message[T any] struct {
	Channel string `json:"channel"`
	Data    T      `json:"data"`
}

type config struct {
	upgrader     *websocket.Upgrader
	writeTimeout time.Duration
	logger       *slog.Logger
	onConnect    func(ctx context.Context, channel string)
}

// Option configures a Handler.
type Option func(*config)

func WithReadBuffer(size int) Option {
	return func(c *config) { c.upgrader.ReadBufferSize = size }
}

func WithWriteBuffer(size int) Option {
	return func(c *config) { c.upgrader.WriteBufferSize = size }
}

func WithHandshakeTimeout(timeout time.Duration) Option {
	return func(c *config) { c.upgrader.HandshakeTimeout = timeout }
}

func WithOriginCheck(fn func(r *http.Request) bool) Option {
	return func(c *config) { c.upgrader.CheckOrigin = fn }
}

func WithAllowAnyOrigin() Option {
	return func(c *config) {
		c.upgrader.CheckOrigin = func(*http.Request) bool { return true }
	}
}

// WithWriteTimeout bounds every frame write. Default 10s.
func WithWriteTimeout(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.writeTimeout = d
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithOnConnect registers fn, called once a subscription is open.
func WithOnConnect(fn func(ctx context.Context, channel string)) Option {
	return func(c *config) { c.onConnect = fn }
}

// Handler streams the values of one broadcast channel to a websocket
// client. The channel is picked with the "channel" query parameter. A
// client that sends "pause" stops being scheduled as a consumer until it
// sends "resume", which exposes each channel's backgrounding contract to
// remote observers.
type Handler[T any] struct {
	channels map[string]broadcast.Channel[T]
	cfg      config
}

// NewHandler creates a handler over channels, typically hub.Channels().
func NewHandler[T any](channels []broadcast.Channel[T], opts ...Option) *Handler[T] {
	cfg := config{
		upgrader: &websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		writeTimeout: 10 * time.Second,
		logger:       logger.Discard(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	h := &Handler[T]{channels: make(map[string]broadcast.Channel[T], len(channels)), cfg: cfg}
	for _, ch := range channels {
		h.channels[ch.Name()] = ch
	}
	return h
}

func (h *Handler[T]) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(r.URL.Query().Get("channel"))
	if name == "" {
		name = DefaultChannel
	}
	ch, ok := h.channels[name]
	if !ok {
		http.Error(w, ErrUnknownChannel.Error()+": "+name, http.StatusBadRequest)
		return
	}

	conn, err := h.cfg.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		h.cfg.logger.DebugContext(r.Context(), "websocket upgrade failed", logger.Error(err))
		return
	}
	defer func() { _ = conn.Close() }()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sub := ch.Subscribe()
	defer func() { _ = sub.Close() }()

	log := h.cfg.logger.With(logger.Channel(name), logger.ID("subscription", sub.ID()))
	log.InfoContext(ctx, "websocket observer connected")
	if h.cfg.onConnect != nil {
		h.cfg.onConnect(ctx, name)
	}

	go h.readCommands(ctx, cancel, conn, sub, log)

	for {
		v, err := sub.Next(ctx)
		if err != nil {
			h.closeWith(conn, err)
			log.InfoContext(ctx, "websocket observer disconnected", logger.Error(err))
			return
		}

		_ = conn.SetWriteDeadline(time.Now().Add(h.cfg.writeTimeout))
		if err := conn.WriteJSON(Message[T]{Channel: name, Data: v}); err != nil {
			log.WarnContext(ctx, "websocket write failed", logger.Error(err))
			return
		}
	}
}

// readCommands applies client commands and cancels ctx when the client goes away.
func (h *Handler[T]) readCommands(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, sub broadcast.Subscription[T], log *slog.Logger) {
	defer cancel()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.DebugContext(ctx, "websocket read failed", logger.Error(err))
			}
			return
		}

		switch strings.ToLower(strings.TrimSpace(string(data))) {
		case CommandPause:
			sub.Pause()
		case CommandResume:
			sub.Resume()
		default:
			log.DebugContext(ctx, "ignoring unknown command", logger.Key("command", string(data)))
		}
	}
}

func (h *Handler[T]) closeWith(conn *websocket.Conn, err error) {
	code, text := websocket.CloseNormalClosure, ""
	if !errors.Is(err, broadcast.ErrChannelClosed) && !errors.Is(err, broadcast.ErrSubscriptionClosed) {
		code, text = websocket.CloseGoingAway, "observer stopped"
	}
	deadline := time.Now().Add(time.Second)
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), deadline)
}
