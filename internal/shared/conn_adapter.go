package shared

import (
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// upgrader 是一个全局的 WebSocket 升级器实例
var upgrader = websocket.Upgrader{
	ReadBufferSize:  32 * 1024,
	WriteBufferSize: 32 * 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// WebSocketConnAdapter 实现了 net.Conn 接口，将 websocket.Conn 包装起来。
// 每个 binary message 被当作字节流的一段。
type WebSocketConnAdapter struct {
	conn   *websocket.Conn
	reader io.Reader
	wmu    sync.Mutex
}

// NewWebSocketConnAdapter wraps an established websocket.
func NewWebSocketConnAdapter(ws *websocket.Conn) *WebSocketConnAdapter {
	return &WebSocketConnAdapter{conn: ws}
}

// NewWebSocketConnAdapterServer 端使用此函数来升级一个 HTTP 请求为 WebSocket 连接
func NewWebSocketConnAdapterServer(w http.ResponseWriter, r *http.Request) (*WebSocketConnAdapter, error) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return NewWebSocketConnAdapter(ws), nil
}

// Read 方法实现了 io.Reader 接口。
func (wsc *WebSocketConnAdapter) Read(b []byte) (int, error) {
	for {
		if wsc.reader == nil {
			msgType, r, err := wsc.conn.NextReader()
			if err != nil {
				return 0, err
			}
			if msgType != websocket.BinaryMessage {
				continue
			}
			wsc.reader = r
		}
		n, err := wsc.reader.Read(b)
		if err == io.EOF {
			wsc.reader = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

// Write 方法实现了 io.Writer 接口。
func (wsc *WebSocketConnAdapter) Write(b []byte) (int, error) {
	wsc.wmu.Lock()
	defer wsc.wmu.Unlock()
	if err := wsc.conn.WriteMessage(websocket.BinaryMessage, b); err != nil {
		return 0, err
	}
	return len(b), nil
}

// Close 实现了 io.Closer 接口。WriteControl 可与 Write 并发调用，不需要持锁。
func (wsc *WebSocketConnAdapter) Close() error {
	_ = wsc.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	return wsc.conn.Close()
}

func (wsc *WebSocketConnAdapter) LocalAddr() net.Addr  { return wsc.conn.LocalAddr() }
func (wsc *WebSocketConnAdapter) RemoteAddr() net.Addr { return wsc.conn.RemoteAddr() }

// SetDeadline 实现了 net.Conn 接口。
func (wsc *WebSocketConnAdapter) SetDeadline(t time.Time) error {
	_ = wsc.conn.SetReadDeadline(t)
	return wsc.conn.SetWriteDeadline(t)
}

func (wsc *WebSocketConnAdapter) SetReadDeadline(t time.Time) error {
	return wsc.conn.SetReadDeadline(t)
}

func (wsc *WebSocketConnAdapter) SetWriteDeadline(t time.Time) error {
	return wsc.conn.SetWriteDeadline(t)
}
