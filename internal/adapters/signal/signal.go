// Package signal adapts websocket connections to sessions: admission,
// read and write pumps, and ping/pong liveness.
package signal

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/rendezvous/internal/app/session"
	"github.com/dkeye/rendezvous/internal/core"
	"github.com/dkeye/rendezvous/internal/domain"
	"github.com/dkeye/rendezvous/internal/metrics"
)

// Slots hands out room ids for new connections.
type Slots interface {
	Reserve() (domain.RoomID, bool)
	Refund(id domain.RoomID) error
}

type Options struct {
	PingPeriod time.Duration
	Timeout    time.Duration
	WriteWait  time.Duration
	ReadLimit  int64
	SendBuffer int
	// ICE is the JSON answer to /ice.
	ICE []byte
}

func (o *Options) withDefaults() {
	if o.PingPeriod <= 0 {
		o.PingPeriod = 5 * time.Second
	}
	if o.Timeout <= 0 {
		o.Timeout = session.DefaultTimeout
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 5 * time.Second
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = 32768
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 64
	}
}

type SignalWSController struct {
	slots   Slots
	reg     session.Registry
	limiter *AdmissionLimiter
	opts    Options

	conns sync.WaitGroup
}

// NewSignalWSController wires admission to the registry. limiter may be nil.
func NewSignalWSController(slots Slots, reg session.Registry, limiter *AdmissionLimiter, opts Options) *SignalWSController {
	opts.withDefaults()
	return &SignalWSController{
		slots:   slots,
		reg:     reg,
		limiter: limiter,
		opts:    opts,
	}
}

type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func newWsSignalConn(ws *websocket.Conn, buffer int) *WsSignalConn {
	return &WsSignalConn{
		conn: ws,
		send: make(chan core.Frame, buffer),
	}
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return core.ErrConnectionClosed
	}
	select {
	case c.send <- f:
	default:
		return core.ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal admits one connection: rate limit, slot reservation, upgrade,
// session start. Connections live until ctx is cancelled or the peer leaves.
func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	token := c.GetString("client_token")

	if ctl.limiter != nil && !ctl.limiter.Allow(token) {
		metrics.AdmissionsRejected.WithLabelValues(metrics.ReasonRateLimit).Inc()
		log.Warn().Str("module", "signal").Str("client", token).Msg("admission rate limited")
		c.String(http.StatusTooManyRequests, "too many connections")
		return
	}

	room, ok := ctl.slots.Reserve()
	if !ok {
		metrics.AdmissionsRejected.WithLabelValues(metrics.ReasonCapacity).Inc()
		log.Warn().Str("module", "signal").Str("client", token).Msg("no room available")
		c.String(http.StatusServiceUnavailable, "no room available")
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		ctl.refund(room)
		return
	}

	conn := newWsSignalConn(ws, ctl.opts.SendBuffer)
	sess := session.New(ctl.reg, conn, room, session.Options{
		Timeout: ctl.opts.Timeout,
		ICE:     ctl.opts.ICE,
	})
	if err := sess.Start(ctx); err != nil {
		conn.Close()
		ctl.refund(room)
		return
	}
	log.Info().Str("module", "signal").Str("client", token).Stringer("sid", sess.ID()).Stringer("room", room).Msg("new WS connection")

	ctx, cancel := context.WithCancel(ctx)
	ctl.conns.Add(1)
	go ctl.writePump(ctx, conn, sess)
	go ctl.readPump(ctx, cancel, conn, sess)
}

// Wait blocks until every admitted connection has disconnected.
func (ctl *SignalWSController) Wait() { ctl.conns.Wait() }

func (ctl *SignalWSController) refund(room domain.RoomID) {
	if err := ctl.slots.Refund(room); err != nil {
		log.Error().Err(err).Str("module", "signal").Stringer("room", room).Msg("refund reserved room")
	}
}
