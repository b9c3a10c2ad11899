package signal

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/rendezvous/internal/app/session"
	"github.com/dkeye/rendezvous/internal/metrics"
)

func (ctl *SignalWSController) writePump(ctx context.Context, c *WsSignalConn, sess *session.Session) {
	ticker := time.NewTicker(ctl.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Stringer("sid", sess.ID()).Msg("writePump ctx done")
			ctl.writeClose(c, websocket.CloseGoingAway, "server shutting down")
			return
		case data, ok := <-c.send:
			if !ok {
				log.Debug().Str("module", "signal").Stringer("sid", sess.ID()).Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(ctl.opts.WriteWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Stringer("sid", sess.ID()).Msg("writePump write error")
				return
			}
		case now := <-ticker.C:
			if sess.Expired(now) {
				metrics.HeartbeatTimeouts.Inc()
				log.Warn().Str("module", "signal").Stringer("sid", sess.ID()).Msg("heartbeat timeout")
				return
			}
			if err := ctl.ping(c); err != nil {
				log.Error().Err(err).Str("module", "signal").Stringer("sid", sess.ID()).Msg("writePump ping error")
				return
			}
		}
	}
}

// readPump feeds inbound frames to the session in arrival order. It owns the
// session's exit: whatever ends the loop, the session is closed exactly once.
func (ctl *SignalWSController) readPump(ctx context.Context, cancel context.CancelFunc, c *WsSignalConn, sess *session.Session) {
	defer func() {
		log.Info().Str("module", "signal").Stringer("sid", sess.ID()).Msg("readPump closing")
		cancel()
		c.Close()
		sess.Close(context.WithoutCancel(ctx))
		ctl.conns.Done()
	}()

	c.conn.SetReadLimit(ctl.opts.ReadLimit)
	ctl.bindControl(c, sess)

	for {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				log.Error().Err(err).Str("module", "signal").Stringer("sid", sess.ID()).Msg("readPump read error")
			}
			return
		}
		if kind != websocket.TextMessage {
			log.Warn().Str("module", "signal").Stringer("sid", sess.ID()).Int("kind", kind).Msg("unexpected frame kind")
			return
		}
		if err := sess.HandleText(ctx, string(data)); err != nil {
			return
		}
	}
}
