package notification

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/nao1215/portal/internal/config"
)

var (
	// ErrConnClosed は閉じた接続へ送信しようとしたことを表す。
	ErrConnClosed = errors.New("接続は既に閉じています")
	// ErrSlowConsumer は送信キューが満杯で、クライアントが受信に追いついていないことを表す。
	ErrSlowConsumer = errors.New("送信キューが満杯です")
)

// State はライブ接続の状態。Connecting -> Open -> Closed の順にだけ遷移する。
type State int32

const (
	// StateConnecting はアップグレード直後で、まだ送受信を始めていない状態。
	StateConnecting State = iota
	// StateOpen は送受信中の状態。
	StateOpen
	// StateClosed は閉じた状態。再び開くことはない。
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// MessageHandler はクライアントから受信したフレームを処理する。
type MessageHandler interface {
	// HandleMessage は受信した1フレームを処理する。
	HandleMessage(ctx context.Context, c Conn, data []byte)
	// Throttled は受信レート超過で破棄したフレームを通知する。
	Throttled(c Conn)
}

// Client はgorilla/websocketの接続をConnとして扱うためのラッパー。
// 送信は有界のキューを経由して単一のwrite pumpが行い、フレームの順序はキューへの投入順に一致する。
type Client struct {
	ws          *websocket.Conn
	id          string
	accountID   int64
	connectedAt time.Time
	cfg         config.WebSocketConfig
	limiter     *rate.Limiter

	send      chan Frame
	done      chan struct{}
	closeOnce sync.Once
	state     atomic.Int32
}

// NewClient はアップグレード済みのWebSocket接続からClientを生成する。
func NewClient(ws *websocket.Conn, accountID int64, cfg config.WebSocketConfig) *Client {
	return &Client{
		ws:          ws,
		id:          uuid.New().String(),
		accountID:   accountID,
		connectedAt: time.Now().UTC(),
		cfg:         cfg,
		limiter:     rate.NewLimiter(rate.Limit(cfg.FrameRate), cfg.FrameBurst),
		send:        make(chan Frame, cfg.SendBuffer),
		done:        make(chan struct{}),
	}
}

// ID は接続IDを返す。
func (c *Client) ID() string { return c.id }

// AccountID は接続を所有するアカウントIDを返す。
func (c *Client) AccountID() int64 { return c.accountID }

// ConnectedAt は接続が確立された日時を返す。
func (c *Client) ConnectedAt() time.Time { return c.connectedAt }

// State は現在の接続状態を返す。
func (c *Client) State() State { return State(c.state.Load()) }

// Enqueue はフレームを送信キューへ積む。キューが満杯でも待たずにErrSlowConsumerを返す。
func (c *Client) Enqueue(f Frame) error {
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}

	select {
	case c.send <- f:
		return nil
	default:
		return ErrSlowConsumer
	}
}

// Close は接続を閉じる。複数回呼んでも安全。
// write pumpが動いていればクローズフレームを送ってから切断し、そうでなければ即座に切断する。
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		prev := State(c.state.Swap(int32(StateClosed)))
		close(c.done)
		if prev == StateConnecting {
			c.ws.Close()
		}
	})
}

// Run は接続をOpenにして送受信を開始し、受信側が終了するまでブロックする。
// 既に閉じている接続では何もしない。戻った後の登録解除は呼び出し元が行う。
func (c *Client) Run(ctx context.Context, h MessageHandler) {
	if !c.state.CompareAndSwap(int32(StateConnecting), int32(StateOpen)) {
		return
	}

	go c.writePump()
	go func() {
		select {
		case <-ctx.Done():
			c.Close()
		case <-c.done:
		}
	}()

	c.readPump(ctx, h)
}

// writePump は送信キューのフレームを順に書き込み、定期的にPingを送る。
// 1フレームの書き込みがWriteTimeoutを超えた場合は接続を閉じる。
func (c *Client) writePump() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case f := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if err := c.ws.WriteJSON(f); err != nil {
				log.Printf("[WS] フレームの送信に失敗しました: conn=%s account=%d: %v", c.id, c.accountID, err)
				c.Close()
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		case <-c.done:
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.cfg.WriteTimeout))
			return
		}
	}
}

// readPump はクライアントからのフレームを読み、レート制限を通過したものをhへ渡す。
// 読み込みエラー（切断を含む）で終了する。
func (c *Client) readPump(ctx context.Context, h MessageHandler) {
	defer c.Close()

	c.ws.SetReadLimit(c.cfg.ReadLimit)
	_ = c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				log.Printf("[WS] 接続が予期せず切断されました: conn=%s account=%d: %v", c.id, c.accountID, err)
			}
			return
		}
		if !c.limiter.Allow() {
			h.Throttled(c)
			continue
		}
		h.HandleMessage(ctx, c, data)
	}
}
