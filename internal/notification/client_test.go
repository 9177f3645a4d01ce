package notification

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/nao1215/portal/internal/config"
)

// wsPair はテスト用にサーバー側とクライアント側のWebSocket接続を作るヘルパー関数。
func wsPair(t *testing.T) (server, client *websocket.Conn) {
	t.Helper()

	conns := make(chan *websocket.Conn, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("アップグレードに失敗: %v", err)
			return
		}
		conns <- ws
	}))
	t.Cleanup(srv.Close)

	client, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("WebSocket接続に失敗: %v", err)
	}
	resp.Body.Close()
	t.Cleanup(func() { client.Close() })

	select {
	case server = <-conns:
	case <-time.After(5 * time.Second):
		t.Fatal("サーバー側の接続を取得できませんでした")
	}
	return server, client
}

// recordingHandler は受信したメッセージを記録するMessageHandler。
type recordingHandler struct {
	mu        sync.Mutex
	messages  []string
	throttled int
}

func (h *recordingHandler) HandleMessage(_ context.Context, _ Conn, data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, string(data))
}

func (h *recordingHandler) Throttled(Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.throttled++
}

func (h *recordingHandler) counts() (int, int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.messages), h.throttled
}

func TestClient_Enqueue(t *testing.T) {
	t.Parallel()

	t.Run("送信キューが満杯の場合は待たずにErrSlowConsumerを返すこと", func(t *testing.T) {
		t.Parallel()
		server, _ := wsPair(t)
		cfg := config.DefaultWebSocket()
		cfg.SendBuffer = 2
		c := NewClient(server, 7, cfg)
		t.Cleanup(c.Close)

		for range 2 {
			if err := c.Enqueue(Frame{Kind: KindNotification}); err != nil {
				t.Fatalf("送信に失敗: %v", err)
			}
		}

		done := make(chan error, 1)
		go func() { done <- c.Enqueue(Frame{Kind: KindNotification}) }()
		select {
		case err := <-done:
			if !errors.Is(err, ErrSlowConsumer) {
				t.Errorf("err = %v, want ErrSlowConsumer", err)
			}
		case <-time.After(time.Second):
			t.Fatal("Enqueueがブロックしました")
		}
	})

	t.Run("閉じた接続への送信はErrConnClosedを返すこと", func(t *testing.T) {
		t.Parallel()
		server, _ := wsPair(t)
		c := NewClient(server, 7, config.DefaultWebSocket())

		c.Close()
		c.Close()

		if c.State() != StateClosed {
			t.Errorf("State() = %s, want closed", c.State())
		}
		if err := c.Enqueue(Frame{Kind: KindNotification}); !errors.Is(err, ErrConnClosed) {
			t.Errorf("err = %v, want ErrConnClosed", err)
		}
	})
}

func TestClient_Run(t *testing.T) {
	t.Parallel()

	t.Run("キューに積んだ順にフレームが届くこと", func(t *testing.T) {
		t.Parallel()
		server, client := wsPair(t)
		c := NewClient(server, 7, config.DefaultWebSocket())
		if c.State() != StateConnecting {
			t.Fatalf("State() = %s, want connecting", c.State())
		}

		for i := int64(1); i <= 3; i++ {
			if err := c.Enqueue(notificationFrame(Notification{ID: i})); err != nil {
				t.Fatalf("送信に失敗: %v", err)
			}
		}

		done := make(chan struct{})
		go func() {
			c.Run(t.Context(), &recordingHandler{})
			close(done)
		}()

		for want := int64(1); want <= 3; want++ {
			_ = client.SetReadDeadline(time.Now().Add(5 * time.Second))
			var f struct {
				Kind    string       `json:"kind"`
				Payload Notification `json:"payload"`
			}
			if err := client.ReadJSON(&f); err != nil {
				t.Fatalf("受信に失敗: %v", err)
			}
			if f.Kind != "notification" || f.Payload.ID != want {
				t.Errorf("got %s %d, want notification %d", f.Kind, f.Payload.ID, want)
			}
		}
		if c.State() != StateOpen {
			t.Errorf("State() = %s, want open", c.State())
		}

		c.Close()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("Closeの後もRunが終了しません")
		}
		if c.State() != StateClosed {
			t.Errorf("State() = %s, want closed", c.State())
		}
	})

	t.Run("受信レートを超えたフレームは破棄されること", func(t *testing.T) {
		t.Parallel()
		server, client := wsPair(t)
		cfg := config.DefaultWebSocket()
		cfg.FrameRate = 0.001
		cfg.FrameBurst = 2
		c := NewClient(server, 7, cfg)
		h := &recordingHandler{}

		done := make(chan struct{})
		go func() {
			c.Run(t.Context(), h)
			close(done)
		}()

		for range 5 {
			if err := client.WriteMessage(websocket.TextMessage, []byte(`{"kind":"mark_read","id":1}`)); err != nil {
				t.Fatalf("送信に失敗: %v", err)
			}
		}

		eventually(t, func() bool {
			handled, throttled := h.counts()
			return handled+throttled == 5
		}, "すべてのフレームが処理されませんでした")
		if handled, throttled := h.counts(); handled != 2 || throttled != 3 {
			t.Errorf("handled = %d, throttled = %d, want 2, 3", handled, throttled)
		}

		client.Close()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("切断後もRunが終了しません")
		}
	})

	t.Run("閉じた接続のRunはすぐに戻ること", func(t *testing.T) {
		t.Parallel()
		server, _ := wsPair(t)
		c := NewClient(server, 7, config.DefaultWebSocket())
		c.Close()

		done := make(chan struct{})
		go func() {
			c.Run(t.Context(), &recordingHandler{})
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("Runが戻りません")
		}
	})

	t.Run("コンテキストのキャンセルで接続が閉じること", func(t *testing.T) {
		t.Parallel()
		server, _ := wsPair(t)
		c := NewClient(server, 7, config.DefaultWebSocket())
		ctx, cancel := context.WithCancel(t.Context())

		done := make(chan struct{})
		go func() {
			c.Run(ctx, &recordingHandler{})
			close(done)
		}()
		eventually(t, func() bool { return c.State() == StateOpen }, "接続がOpenになりません")

		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("キャンセル後もRunが終了しません")
		}
	})
}

// TestClient_WriteTimeout は受信しない相手への書き込みが送信タイムアウトで打ち切られ、
// 接続が閉じて登録も解除されることを検証する。
func TestClient_WriteTimeout(t *testing.T) {
	t.Parallel()

	server, _ := wsPair(t) // クライアント側は一切読まない
	cfg := config.DefaultWebSocket()
	cfg.WriteTimeout = 50 * time.Millisecond
	c := NewClient(server, 7, cfg)

	s, m := newTestService(t)
	if err := s.Attach(t.Context(), c); err != nil {
		t.Fatalf("接続の登録に失敗: %v", err)
	}

	done := make(chan struct{})
	go func() {
		c.Run(t.Context(), s)
		s.Detach(c)
		close(done)
	}()

	// ソケットバッファを埋めて書き込みを停滞させる
	large := strings.Repeat("x", 4<<20)
	for range 16 {
		if err := c.Enqueue(Frame{Kind: KindNotification, Payload: large}); err != nil {
			break
		}
	}

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("書き込みが停滞してもRunが終了しません")
	}

	if c.State() != StateClosed {
		t.Errorf("State() = %s, want closed", c.State())
	}
	if s.Registry().Len() != 0 {
		t.Errorf("Len() = %d, want 0", s.Registry().Len())
	}
	if got := testutil.ToFloat64(m.connections); got != 0 {
		t.Errorf("connections gauge = %v, want 0", got)
	}
	if err := c.Enqueue(Frame{Kind: KindNotification}); !errors.Is(err, ErrConnClosed) {
		t.Errorf("err = %v, want ErrConnClosed", err)
	}
}
