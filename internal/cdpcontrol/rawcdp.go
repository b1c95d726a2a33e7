package cdpcontrol

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

var errConnClosed = errors.New("rawcdp: connection closed")

// rawCDP is a minimal CDP client over a single browser-level websocket.
// Pages are driven through flattened sessions (sessionId in the outer
// envelope) so one connection serves every tab of a batch.
type rawCDP struct {
	httpBase string // e.g. "http://127.0.0.1:9230"

	connMu  sync.Mutex
	writeMu sync.Mutex
	conn    net.Conn
	seq     atomic.Int64

	waitMu  sync.Mutex
	waiters map[int64]chan cdpReply

	subMu sync.RWMutex
	subs  map[string][]subscription
}

// cdpMessage is any frame read from the browser: a reply when ID is set,
// an event otherwise.
type cdpMessage struct {
	ID        int64           `json:"id,omitempty"`
	Method    string          `json:"method,omitempty"`
	SessionID string          `json:"sessionId,omitempty"`
	Params    json.RawMessage `json:"params,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     *cdpError       `json:"error,omitempty"`
}

type cdpError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type cdpReply struct {
	result json.RawMessage
	err    error
}

type subscription struct {
	id int64
	fn func(sessionID string, params json.RawMessage)
}

func newRawCDP(httpBase string) *rawCDP {
	return &rawCDP{
		httpBase: strings.TrimRight(httpBase, "/"),
		waiters:  make(map[int64]chan cdpReply),
		subs:     make(map[string][]subscription),
	}
}

// connect resolves the browser websocket from /json/version and dials it.
func (r *rawCDP) connect(ctx context.Context) error {
	r.connMu.Lock()
	defer r.connMu.Unlock()
	if r.conn != nil {
		return nil
	}

	wsURL, err := r.browserWSURL(ctx)
	if err != nil {
		return fmt.Errorf("rawcdp: browser ws url: %w", err)
	}
	slog.Debug("rawcdp dial", "ws_url", wsURL)
	conn, _, _, err := ws.Dial(ctx, wsURL)
	if err != nil {
		return fmt.Errorf("rawcdp: dial: %w", err)
	}
	r.conn = conn
	go r.readLoop(conn)
	return nil
}

func (r *rawCDP) close() {
	r.connMu.Lock()
	conn := r.conn
	r.conn = nil
	r.connMu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

func (r *rawCDP) currentConn() net.Conn {
	r.connMu.Lock()
	defer r.connMu.Unlock()
	return r.conn
}

// readLoop routes replies to their waiters and events to subscribers until
// the connection drops, then fails every outstanding call.
func (r *rawCDP) readLoop(conn net.Conn) {
	defer r.failWaiters(errConnClosed)
	for {
		data, err := wsutil.ReadServerText(conn)
		if err != nil {
			slog.Debug("rawcdp read loop exit", "error", err)
			return
		}
		var msg cdpMessage
		if json.Unmarshal(data, &msg) != nil {
			continue
		}
		switch {
		case msg.ID > 0:
			r.deliver(msg)
		case msg.Method != "":
			r.publish(msg.Method, msg.SessionID, msg.Params)
		}
	}
}

func (r *rawCDP) deliver(msg cdpMessage) {
	r.waitMu.Lock()
	ch, ok := r.waiters[msg.ID]
	delete(r.waiters, msg.ID)
	r.waitMu.Unlock()
	if !ok {
		return
	}
	if msg.Error != nil {
		ch <- cdpReply{err: fmt.Errorf("%s (%d)", msg.Error.Message, msg.Error.Code)}
		return
	}
	ch <- cdpReply{result: msg.Result}
}

func (r *rawCDP) failWaiters(err error) {
	r.waitMu.Lock()
	defer r.waitMu.Unlock()
	for id, ch := range r.waiters {
		ch <- cdpReply{err: err}
		delete(r.waiters, id)
	}
}

func (r *rawCDP) forget(id int64) {
	r.waitMu.Lock()
	delete(r.waiters, id)
	r.waitMu.Unlock()
}

// call sends method on sessionID ("" for the browser target) and returns the
// reply's result object.
func (r *rawCDP) call(ctx context.Context, sessionID, method string, params any) (json.RawMessage, error) {
	conn := r.currentConn()
	if conn == nil {
		return nil, fmt.Errorf("rawcdp: %s: not connected", method)
	}

	id := r.seq.Add(1)
	frame, err := json.Marshal(struct {
		ID        int64  `json:"id"`
		Method    string `json:"method"`
		SessionID string `json:"sessionId,omitempty"`
		Params    any    `json:"params,omitempty"`
	}{ID: id, Method: method, SessionID: sessionID, Params: params})
	if err != nil {
		return nil, fmt.Errorf("rawcdp: %s: marshal: %w", method, err)
	}

	ch := make(chan cdpReply, 1)
	r.waitMu.Lock()
	r.waiters[id] = ch
	r.waitMu.Unlock()

	r.writeMu.Lock()
	err = wsutil.WriteClientText(conn, frame)
	r.writeMu.Unlock()
	if err != nil {
		r.forget(id)
		return nil, fmt.Errorf("rawcdp: %s: send: %w", method, err)
	}

	select {
	case reply := <-ch:
		if reply.err != nil {
			return nil, fmt.Errorf("rawcdp: %s: %w", method, reply.err)
		}
		return reply.result, nil
	case <-ctx.Done():
		r.forget(id)
		return nil, ctx.Err()
	}
}

// callInto is call followed by decoding the result into out.
func (r *rawCDP) callInto(ctx context.Context, sessionID, method string, params, out any) error {
	raw, err := r.call(ctx, sessionID, method, params)
	if err != nil {
		return err
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("rawcdp: %s: decode result: %w", method, err)
	}
	return nil
}

// subscribe registers fn for a CDP event on every session. The returned
// func removes it.
func (r *rawCDP) subscribe(method string, fn func(sessionID string, params json.RawMessage)) func() {
	id := r.seq.Add(1)
	r.subMu.Lock()
	r.subs[method] = append(r.subs[method], subscription{id: id, fn: fn})
	r.subMu.Unlock()
	return func() {
		r.subMu.Lock()
		defer r.subMu.Unlock()
		subs := r.subs[method]
		for i, s := range subs {
			if s.id == id {
				r.subs[method] = append(subs[:i:i], subs[i+1:]...)
				return
			}
		}
	}
}

func (r *rawCDP) publish(method, sessionID string, params json.RawMessage) {
	r.subMu.RLock()
	subs := append([]subscription(nil), r.subs[method]...)
	r.subMu.RUnlock()
	for _, s := range subs {
		s.fn(sessionID, params)
	}
}

// browserWSURL fetches the WebSocket debugger URL from /json/version.
func (r *rawCDP) browserWSURL(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.httpBase+"/json/version", nil)
	if err != nil {
		return "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("rawcdp: /json/version: HTTP %d", resp.StatusCode)
	}

	var info struct {
		WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return "", err
	}
	if info.WebSocketDebuggerURL == "" {
		return "", errors.New("rawcdp: empty webSocketDebuggerUrl")
	}
	return info.WebSocketDebuggerURL, nil
}
