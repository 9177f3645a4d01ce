// Package event はポータルの各機能（文書、イベント、メンテナンス、お知らせ）が
// 発行するドメインイベントを定義する。
// 通知サービスはこれらのイベントを受け取り、居住者向けの通知に変換する。
package event

import (
	"encoding/json"
	"time"
)

// AggregateType はイベントの対象となるエンティティの種類を表す。
type AggregateType string

const (
	// AggregateTypeDocument は文書ライブラリの文書を表す。
	AggregateTypeDocument AggregateType = "Document"
	// AggregateTypeEvent はコミュニティイベントを表す。
	AggregateTypeEvent AggregateType = "Event"
	// AggregateTypeMaintenance はメンテナンス依頼を表す。
	AggregateTypeMaintenance AggregateType = "MaintenanceRequest"
	// AggregateTypeNews はお知らせ記事を表す。
	AggregateTypeNews AggregateType = "News"
)

// Type はイベントの種類を表す。
type Type string

const (
	// TypeDocumentPublished は文書が公開されたことを表す。
	TypeDocumentPublished Type = "DocumentPublished"
	// TypeEventScheduled はコミュニティイベントが登録されたことを表す。
	TypeEventScheduled Type = "EventScheduled"
	// TypeMaintenanceStatusChanged はメンテナンス依頼の状態が変わったことを表す。
	TypeMaintenanceStatusChanged Type = "MaintenanceStatusChanged"
	// TypeNewsPublished はお知らせが公開されたことを表す。
	TypeNewsPublished Type = "NewsPublished"
)

// Event はポータルの機能が発行する不変のイベントレコードを表す。
type Event struct {
	// ID はイベントの一意識別子（UUID）。
	ID string `json:"id"`
	// AggregateType は対象エンティティの種類。
	AggregateType AggregateType `json:"aggregate_type" binding:"required"`
	// AggregateID は対象エンティティの識別子。
	AggregateID int64 `json:"aggregate_id" binding:"required,gt=0"`
	// EventType はイベントの種類。
	EventType Type `json:"event_type" binding:"required"`
	// Data はイベント固有のデータ（JSON形式）。
	Data json.RawMessage `json:"data" binding:"required"`
	// OccurredAt はイベントが発生した日時。
	OccurredAt time.Time `json:"occurred_at"`
}

// DocumentPublishedData はDocumentPublishedイベントのデータ。
type DocumentPublishedData struct {
	// Title は文書のタイトル。
	Title string `json:"title" validate:"required"`
	// Category は文書の分類（議事録、規約など）。
	Category string `json:"category"`
}

// EventScheduledData はEventScheduledイベントのデータ。
type EventScheduledData struct {
	// Title はイベント名。
	Title string `json:"title" validate:"required"`
	// Location は開催場所。
	Location string `json:"location"`
	// StartsAt は開始日時。
	StartsAt time.Time `json:"starts_at" validate:"required"`
}

// MaintenanceStatusChangedData はMaintenanceStatusChangedイベントのデータ。
type MaintenanceStatusChangedData struct {
	// RequesterID は依頼者のアカウントID。通知の宛先になる。
	RequesterID int64 `json:"requester_id" validate:"required,gt=0"`
	// Title は依頼の件名。
	Title string `json:"title" validate:"required"`
	// Status は変更後の状態（pending, in_progress, completed など）。
	Status string `json:"status" validate:"required"`
}

// NewsPublishedData はNewsPublishedイベントのデータ。
type NewsPublishedData struct {
	// Title は記事の見出し。
	Title string `json:"title" validate:"required"`
	// Summary は記事の要約。
	Summary string `json:"summary"`
}
