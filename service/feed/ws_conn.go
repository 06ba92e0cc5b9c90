package feed

import (
	"sync"
	"time"

	"PPNotify/module/feed/model"

	"github.com/gorilla/websocket"
)

// WsConn adapts a websocket connection to Conn.
type WsConn struct {
	Conn         *websocket.Conn
	disp         *Dispatcher
	writeTimeout time.Duration

	wmu sync.Mutex
}

func NewWsConn(ws *websocket.Conn, disp *Dispatcher, writeTimeout time.Duration) *WsConn {
	return &WsConn{Conn: ws, disp: disp, writeTimeout: writeTimeout}
}

func (c *WsConn) ReadFrame() (*Frame, error) {
	mt, data, err := c.Conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
		return nil, ErrMalformedUnit.WrapMsg("unexpected message type", "type", mt)
	}
	return ParseFrameJSON(data)
}

func (c *WsConn) ReadUnit() (Unit, error) {
	for {
		mt, data, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				return Unit{Kind: UnitEndOfStream}, nil
			}
			return Unit{}, err
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}
		f, perr := ParseFrameJSON(data)
		if perr != nil {
			sample := data
			if len(sample) > 256 {
				sample = sample[:256]
			}
			return Unit{Kind: UnitMalformed, Err: ErrMalformedUnit.WrapMsg(perr.Error(), "sample", string(sample))}, nil
		}
		return c.disp.Decode(f), nil
	}
}

func (c *WsConn) WriteFrame(f *Frame) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if c.writeTimeout > 0 {
		_ = c.Conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	return c.Conn.WriteJSON(f)
}

func (c *WsConn) WriteNotification(n model.Notification) error {
	return c.WriteFrame(BuildNotification(n))
}

func (c *WsConn) Close() error {
	return c.Conn.Close()
}
