package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// fakePortal は受信したリクエストを記録して固定のレスポンスを返すテスト用サーバー。
type fakePortal struct {
	mu       sync.Mutex
	method   string
	path     string
	auth     string
	body     map[string]any
	status   int
	response string
}

func newFakePortal(t *testing.T, status int, response string) (*fakePortal, *httptest.Server) {
	t.Helper()
	f := &fakePortal{status: status, response: response}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		f.method = r.Method
		f.path = r.URL.Path
		f.auth = r.Header.Get("Authorization")
		f.body = nil
		if len(data) > 0 {
			_ = json.Unmarshal(data, &f.body)
		}
		f.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(f.status)
		_, _ = w.Write([]byte(f.response))
	}))
	t.Cleanup(srv.Close)
	return f, srv
}

// execute はnotifyctlを引数付きで実行し、標準出力の内容を返すヘルパー関数。
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(t.Context())
	return out.String(), err
}

func TestPublishCmd(t *testing.T) {
	t.Parallel()

	t.Run("宛先付きの通知を発行できること", func(t *testing.T) {
		t.Parallel()
		f, srv := newFakePortal(t, http.StatusCreated, `{"id":1,"title":"Pool Closed"}`)

		out, err := execute(t, "--server", srv.URL, "--token", "admin-token",
			"publish", "--title", "Pool Closed", "--message", "閉鎖します", "--type", "maintenance", "--account", "7")
		if err != nil {
			t.Fatalf("実行に失敗: %v", err)
		}

		f.mu.Lock()
		defer f.mu.Unlock()
		if f.method != http.MethodPost || f.path != "/api/v1/notifications" {
			t.Errorf("リクエスト: got %s %s", f.method, f.path)
		}
		if f.auth != "Bearer admin-token" {
			t.Errorf("Authorization: got %q", f.auth)
		}
		if f.body["target_account"] != float64(7) || f.body["type"] != "maintenance" {
			t.Errorf("ボディ: got %v", f.body)
		}
		if !strings.Contains(out, "Pool Closed") {
			t.Errorf("出力: got %q", out)
		}
	})

	t.Run("宛先を省略するとブロードキャストになること", func(t *testing.T) {
		t.Parallel()
		f, srv := newFakePortal(t, http.StatusCreated, `{"id":2}`)

		if _, err := execute(t, "--server", srv.URL, "publish", "--title", "t", "--message", "m"); err != nil {
			t.Fatalf("実行に失敗: %v", err)
		}

		f.mu.Lock()
		defer f.mu.Unlock()
		if _, ok := f.body["target_account"]; ok {
			t.Errorf("target_accountが送信されました: %v", f.body)
		}
		if f.body["type"] != "news" {
			t.Errorf("type: got %v, want news", f.body["type"])
		}
	})

	t.Run("タイトルが無い場合はエラーになること", func(t *testing.T) {
		t.Parallel()
		_, srv := newFakePortal(t, http.StatusCreated, `{}`)

		if _, err := execute(t, "--server", srv.URL, "publish", "--message", "m"); err == nil {
			t.Error("エラーが返りませんでした")
		}
	})
}

func TestReadCmds(t *testing.T) {
	t.Parallel()

	t.Run("readは指定IDの既読APIを呼ぶこと", func(t *testing.T) {
		t.Parallel()
		f, srv := newFakePortal(t, http.StatusOK, `{"id":3,"read":true}`)

		if _, err := execute(t, "--server", srv.URL, "read", "3"); err != nil {
			t.Fatalf("実行に失敗: %v", err)
		}

		f.mu.Lock()
		defer f.mu.Unlock()
		if f.method != http.MethodPut || f.path != "/api/v1/notifications/3/read" {
			t.Errorf("リクエスト: got %s %s", f.method, f.path)
		}
	})

	t.Run("read-allは件数を表示すること", func(t *testing.T) {
		t.Parallel()
		_, srv := newFakePortal(t, http.StatusOK, `{"count":4,"message":"ok"}`)

		out, err := execute(t, "--server", srv.URL, "read-all")
		if err != nil {
			t.Fatalf("実行に失敗: %v", err)
		}
		if !strings.Contains(out, "4件") {
			t.Errorf("出力: got %q", out)
		}
	})

	t.Run("不正なIDはエラーになること", func(t *testing.T) {
		t.Parallel()
		_, srv := newFakePortal(t, http.StatusOK, `{}`)

		if _, err := execute(t, "--server", srv.URL, "delete", "abc"); err == nil {
			t.Error("エラーが返りませんでした")
		}
	})

	t.Run("サーバーのエラーステータスはエラーになること", func(t *testing.T) {
		t.Parallel()
		_, srv := newFakePortal(t, http.StatusNotFound, `{"error":"通知が見つかりません"}`)

		_, err := execute(t, "--server", srv.URL, "delete", "9")
		if err == nil || !strings.Contains(err.Error(), "404") {
			t.Errorf("err = %v, want 404", err)
		}
	})

	t.Run("unreadは未読一覧を表示すること", func(t *testing.T) {
		t.Parallel()
		f, srv := newFakePortal(t, http.StatusOK, `[{"id":5}]`)

		out, err := execute(t, "--server", srv.URL, "unread")
		if err != nil {
			t.Fatalf("実行に失敗: %v", err)
		}

		f.mu.Lock()
		defer f.mu.Unlock()
		if f.path != "/api/v1/notifications/unread" {
			t.Errorf("path: got %s", f.path)
		}
		if !strings.Contains(out, `"id": 5`) {
			t.Errorf("出力: got %q", out)
		}
	})
}
