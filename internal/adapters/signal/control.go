package signal

import (
	"errors"
	"net"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dkeye/rendezvous/internal/app/session"
)

// bindControl makes pings and pongs from the peer count as signs of life.
// Handlers run on the reading goroutine.
func (ctl *SignalWSController) bindControl(c *WsSignalConn, sess *session.Session) {
	c.conn.SetPongHandler(func(string) error {
		sess.Touch()
		return nil
	})
	c.conn.SetPingHandler(func(appData string) error {
		sess.Touch()
		err := c.conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(ctl.opts.WriteWait))
		var netErr net.Error
		if errors.Is(err, websocket.ErrCloseSent) || (errors.As(err, &netErr) && netErr.Timeout()) {
			return nil
		}
		return err
	})
}

func (ctl *SignalWSController) ping(c *WsSignalConn) error {
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(ctl.opts.WriteWait))
}

func (ctl *SignalWSController) writeClose(c *WsSignalConn, code int, text string) {
	msg := websocket.FormatCloseMessage(code, text)
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(ctl.opts.WriteWait))
}
