package notification

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestParseClientFrame(t *testing.T) {
	t.Parallel()

	t.Run("mark_readフレームを解析できること", func(t *testing.T) {
		t.Parallel()

		f, err := ParseClientFrame([]byte(`{"kind":"mark_read","id":42}`))
		if err != nil {
			t.Fatalf("解析に失敗: %v", err)
		}
		if f.Kind != KindMarkRead || f.ID != 42 {
			t.Errorf("got %+v", f)
		}
	})

	tests := []struct {
		name string
		data string
	}{
		{name: "JSONでない", data: `mark_read 42`},
		{name: "未知の種類", data: `{"kind":"subscribe","id":1}`},
		{name: "IDが無い", data: `{"kind":"mark_read"}`},
		{name: "IDが0以下", data: `{"kind":"mark_read","id":-3}`},
		{name: "IDが文字列", data: `{"kind":"mark_read","id":"42"}`},
		{name: "種類が無い", data: `{"id":42}`},
	}
	for _, tt := range tests {
		t.Run(tt.name+"場合はErrInvalidFrameを返すこと", func(t *testing.T) {
			t.Parallel()

			if _, err := ParseClientFrame([]byte(tt.data)); !errors.Is(err, ErrInvalidFrame) {
				t.Errorf("err = %v, want ErrInvalidFrame", err)
			}
		})
	}
}

func TestFrame_JSON(t *testing.T) {
	t.Parallel()

	t.Run("通知フレームはkindとpayloadを持つこと", func(t *testing.T) {
		t.Parallel()

		data, err := json.Marshal(notificationFrame(Notification{ID: 3, Title: "t", TargetAccount: Account(7)}))
		if err != nil {
			t.Fatalf("シリアライズに失敗: %v", err)
		}

		var got struct {
			Kind    string         `json:"kind"`
			Payload map[string]any `json:"payload"`
		}
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatalf("デシリアライズに失敗: %v", err)
		}
		if got.Kind != "notification" {
			t.Errorf("kind = %q, want notification", got.Kind)
		}
		for _, key := range []string{"id", "title", "message", "type", "target_account", "related_id", "read", "created_at"} {
			if _, ok := got.Payload[key]; !ok {
				t.Errorf("payloadに %s がありません", key)
			}
		}
	})

	t.Run("ブロードキャストのtarget_accountはnullになること", func(t *testing.T) {
		t.Parallel()

		data, err := json.Marshal(backlogFrame([]Notification{{ID: 1}}))
		if err != nil {
			t.Fatalf("シリアライズに失敗: %v", err)
		}

		var got struct {
			Kind    string           `json:"kind"`
			Payload []map[string]any `json:"payload"`
		}
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatalf("デシリアライズに失敗: %v", err)
		}
		if got.Kind != "backlog" {
			t.Errorf("kind = %q, want backlog", got.Kind)
		}
		if len(got.Payload) != 1 || got.Payload[0]["target_account"] != nil {
			t.Errorf("payload = %v", got.Payload)
		}
	})
}
