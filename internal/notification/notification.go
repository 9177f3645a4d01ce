package notification

import (
	"errors"
	"time"
)

// 通知の種類。クライアント側のアイコン表示にのみ使われ、これ以外の値も保持される。
const (
	TypeDocument    = "document"
	TypeEvent       = "event"
	TypeMaintenance = "maintenance"
	TypeNews        = "news"
)

var (
	// ErrNotFound は指定IDの通知が存在しないことを表す。
	ErrNotFound = errors.New("通知が見つかりません")
	// ErrForbidden は通知がアカウントから見えない、または操作権限がないことを表す。
	ErrForbidden = errors.New("この通知を操作する権限がありません")
	// ErrInvalid は通知の入力値が不正であることを表す。
	ErrInvalid = errors.New("通知の入力値が不正です")
)

// Notification は居住者に届く1件の通知。
// Read以外のフィールドは作成後に変更されない。
type Notification struct {
	// ID は単調増加で採番される一意識別子。再利用されない。
	ID int64 `json:"id"`
	// Title は表示用のタイトル。
	Title string `json:"title"`
	// Message は表示用の本文。
	Message string `json:"message"`
	// Type は通知の種類（document, event, maintenance, news など）。
	Type string `json:"type"`
	// TargetAccount は宛先アカウント。nilの場合は全アカウント向けのブロードキャスト。
	TargetAccount *int64 `json:"target_account"`
	// RelatedID は通知の発生元エンティティのID。
	RelatedID *int64 `json:"related_id"`
	// Read は既読状態。ブロードキャストの場合も1つのフラグを全アカウントで共有する。
	Read bool `json:"read"`
	// CreatedAt は作成日時。一覧は新しい順に並ぶ。
	CreatedAt time.Time `json:"created_at"`
}

// IsBroadcast は宛先を持たないブロードキャスト通知かどうかを返す。
func (n Notification) IsBroadcast() bool {
	return n.TargetAccount == nil
}

// VisibleTo はアカウントがこの通知を閲覧できるかどうかを返す。
func (n Notification) VisibleTo(accountID int64) bool {
	return n.TargetAccount == nil || *n.TargetAccount == accountID
}

// NewNotification は通知の作成パラメータ。
type NewNotification struct {
	// Title は表示用のタイトル。
	Title string `json:"title" validate:"required,max=200"`
	// Message は表示用の本文。
	Message string `json:"message" validate:"required,max=2000"`
	// Type は通知の種類。
	Type string `json:"type" validate:"required,max=32"`
	// TargetAccount は宛先アカウント。nilでブロードキャスト。
	TargetAccount *int64 `json:"target_account" validate:"omitempty,gt=0"`
	// RelatedID は発生元エンティティのID。
	RelatedID *int64 `json:"related_id"`
}

// Account は宛先アカウントIDのポインタを返すヘルパー。
func Account(id int64) *int64 {
	return &id
}

// cloneID はポインタの指す値を複製する。呼び出し元との値の共有を避ける。
func cloneID(p *int64) *int64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
