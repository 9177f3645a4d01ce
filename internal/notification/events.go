package notification

import (
	"fmt"

	"github.com/nao1215/portal/pkg/event"
)

// FromEvent はポータルのドメインイベントを通知の作成パラメータに変換する。
// メンテナンス依頼の状態変更は依頼者宛て、それ以外は全居住者向けのブロードキャストになる。
func FromEvent(e *event.Event) (NewNotification, error) {
	if e == nil {
		return NewNotification{}, fmt.Errorf("%w: イベントがnilです", ErrInvalid)
	}
	related := cloneID(&e.AggregateID)

	switch e.EventType {
	case event.TypeDocumentPublished:
		data, err := decodeEvent[event.DocumentPublishedData](e)
		if err != nil {
			return NewNotification{}, err
		}
		msg := fmt.Sprintf("新しい文書「%s」が公開されました", data.Title)
		if data.Category != "" {
			msg = fmt.Sprintf("%s（%s）", msg, data.Category)
		}
		return NewNotification{
			Title:     "新しい文書",
			Message:   msg,
			Type:      TypeDocument,
			RelatedID: related,
		}, nil

	case event.TypeEventScheduled:
		data, err := decodeEvent[event.EventScheduledData](e)
		if err != nil {
			return NewNotification{}, err
		}
		msg := fmt.Sprintf("「%s」が%sに開催されます", data.Title, data.StartsAt.Format("2006-01-02 15:04"))
		if data.Location != "" {
			msg = fmt.Sprintf("%s（場所: %s）", msg, data.Location)
		}
		return NewNotification{
			Title:     "新しいイベント",
			Message:   msg,
			Type:      TypeEvent,
			RelatedID: related,
		}, nil

	case event.TypeMaintenanceStatusChanged:
		data, err := decodeEvent[event.MaintenanceStatusChangedData](e)
		if err != nil {
			return NewNotification{}, err
		}
		return NewNotification{
			Title:         "メンテナンス依頼の更新",
			Message:       fmt.Sprintf("依頼「%s」の状態が %s に変更されました", data.Title, data.Status),
			Type:          TypeMaintenance,
			TargetAccount: Account(data.RequesterID),
			RelatedID:     related,
		}, nil

	case event.TypeNewsPublished:
		data, err := decodeEvent[event.NewsPublishedData](e)
		if err != nil {
			return NewNotification{}, err
		}
		msg := data.Summary
		if msg == "" {
			msg = data.Title
		}
		return NewNotification{
			Title:     data.Title,
			Message:   msg,
			Type:      TypeNews,
			RelatedID: related,
		}, nil
	}

	return NewNotification{}, fmt.Errorf("%w: 未対応のイベント種別です: %s", ErrInvalid, e.EventType)
}

// decodeEvent はイベントデータを型Tとして取り出して検証する。
func decodeEvent[T any](e *event.Event) (*T, error) {
	data, err := event.DecodeData[T](e)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := validate.Struct(data); err != nil {
		return nil, fmt.Errorf("%w: %s のデータが不正です: %v", ErrInvalid, e.EventType, err)
	}
	return data, nil
}
