package notification

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// FrameKind はフレームの種類を表す判別子。
type FrameKind string

const (
	// KindNotification は新着通知1件を運ぶサーバーからのフレーム。
	KindNotification FrameKind = "notification"
	// KindBacklog は接続直後の未読通知一覧を運ぶサーバーからのフレーム。
	KindBacklog FrameKind = "backlog"
	// KindMarkRead はクライアントからの既読通知フレーム。
	KindMarkRead FrameKind = "mark_read"
)

// ErrInvalidFrame はクライアントからのフレームが解析できない、または未知の種類であることを表す。
var ErrInvalidFrame = errors.New("不正なクライアントフレームです")

// Frame はサーバーからクライアントへ送るフレーム。
type Frame struct {
	// Kind はフレームの種類。
	Kind FrameKind `json:"kind"`
	// Payload はKindNotificationならNotification、KindBacklogなら[]Notification。
	Payload any `json:"payload"`
}

func notificationFrame(n Notification) Frame {
	return Frame{Kind: KindNotification, Payload: n}
}

func backlogFrame(ns []Notification) Frame {
	return Frame{Kind: KindBacklog, Payload: ns}
}

// ClientFrame はクライアントからサーバーへ送られるフレーム。
type ClientFrame struct {
	// Kind はフレームの種類。現在はmark_readのみ。
	Kind FrameKind `json:"kind" validate:"required,oneof=mark_read"`
	// ID は対象の通知ID。
	ID int64 `json:"id" validate:"required,gt=0"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// ParseClientFrame はクライアントから受信したデータを解析して検証する。
// 失敗した場合はErrInvalidFrameをラップしたエラーを返す。
func ParseClientFrame(data []byte) (ClientFrame, error) {
	var f ClientFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return ClientFrame{}, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}
	if err := validate.Struct(f); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return ClientFrame{}, fmt.Errorf("%w: %s failed on '%s'", ErrInvalidFrame, verrs[0].Field(), verrs[0].Tag())
		}
		return ClientFrame{}, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}
	return f, nil
}
