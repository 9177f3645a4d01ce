package notification

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/nao1215/portal/pkg/event"
)

// Service は通知の発行、接続直後のバックログ送信、既読処理をまとめる。
// REST APIとライブ接続の両方がこのServiceを経由する。
type Service struct {
	store      Store
	registry   *Registry
	dispatcher *Dispatcher
	metrics    *Metrics
	// publishMu はPublishとAttachを直列化する。
	// 接続ごとのフレーム順序が永続化順と一致し、通知はバックログか
	// ライブ配信のどちらか一方で必ず届く。
	publishMu sync.Mutex
}

// NewService は新しいServiceを生成する。metricsがnilの場合は未登録のメトリクスを使う。
func NewService(store Store, registry *Registry, metrics *Metrics) *Service {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Service{
		store:      store,
		registry:   registry,
		dispatcher: NewDispatcher(registry),
		metrics:    metrics,
	}
}

// Registry は接続レジストリを返す。
func (s *Service) Registry() *Registry {
	return s.registry
}

// Publish は通知を永続化し、接続中の配信先へ送る。
// 永続化に成功すれば配信結果に関わらず成功を返す。配信に失敗した接続は登録から外して閉じる。
func (s *Service) Publish(ctx context.Context, in NewNotification) (Notification, error) {
	if err := validateNew(in); err != nil {
		return Notification{}, err
	}

	s.publishMu.Lock()
	n, err := s.store.Create(ctx, in)
	if err != nil {
		s.publishMu.Unlock()
		return Notification{}, fmt.Errorf("通知の保存に失敗: %w", err)
	}
	outcomes := s.dispatcher.Deliver(n)
	s.publishMu.Unlock()

	s.metrics.published.WithLabelValues(n.Type, audience(n)).Inc()
	s.settle(outcomes)
	return n, nil
}

// settle は配信結果を集計し、失敗した接続を後始末する。
func (s *Service) settle(outcomes []Outcome) {
	for _, o := range outcomes {
		s.metrics.deliveries.WithLabelValues(deliveryResult(o)).Inc()
		if o.Delivered() {
			continue
		}
		log.Printf("[Notification] 配信に失敗したため接続を切断します: conn=%s account=%d: %v",
			o.Conn.ID(), o.Conn.AccountID(), o.Err)
		s.Detach(o.Conn)
	}
}

// PublishEvent はポータルのドメインイベントを通知に変換して発行する。
func (s *Service) PublishEvent(ctx context.Context, e *event.Event) (Notification, error) {
	in, err := FromEvent(e)
	if err != nil {
		return Notification{}, err
	}
	return s.Publish(ctx, in)
}

// Attach は新しい接続を登録し、未読通知があれば1つのバックログフレームで送る。
// 未読が無い場合は何も送らない。
func (s *Service) Attach(ctx context.Context, c Conn) error {
	s.publishMu.Lock()
	defer s.publishMu.Unlock()

	unread, err := s.store.ListUnreadForAccount(ctx, c.AccountID())
	if err != nil {
		return fmt.Errorf("未読通知の取得に失敗: %w", err)
	}

	s.registry.Register(c.AccountID(), c)
	s.metrics.connections.Inc()

	if len(unread) == 0 {
		return nil
	}
	if err := c.Enqueue(backlogFrame(unread)); err != nil {
		s.Detach(c)
		return fmt.Errorf("バックログの送信に失敗: %w", err)
	}
	s.metrics.backlogs.Inc()
	return nil
}

// Detach は接続を登録から外して閉じる。何度呼んでも後始末は1回だけ行われる。
// publishMuを保持していてもいなくても呼べる。
func (s *Service) Detach(c Conn) {
	if s.registry.Unregister(c) {
		s.metrics.connections.Dec()
	}
	c.Close()
}

// Acknowledge は通知を既読にする。REST APIとライブ接続のmark_readの共通経路。
// アカウントから見えない通知はErrForbidden、存在しない通知はErrNotFoundを返す。
// 既読状態の変化は他の接続へはプッシュしない。
func (s *Service) Acknowledge(ctx context.Context, accountID, id int64) (Notification, error) {
	n, err := s.store.Get(ctx, id)
	if err != nil {
		return Notification{}, err
	}
	if !n.VisibleTo(accountID) {
		return Notification{}, ErrForbidden
	}
	return s.store.MarkRead(ctx, id)
}

// MarkAllRead はアカウントから見える未読通知をすべて既読にし、変更した件数を返す。
func (s *Service) MarkAllRead(ctx context.Context, accountID int64) (int, error) {
	return s.store.MarkAllReadForAccount(ctx, accountID)
}

// List はアカウントの通知一覧を新しい順に返す。
func (s *Service) List(ctx context.Context, accountID int64) ([]Notification, error) {
	return s.store.ListForAccount(ctx, accountID)
}

// ListUnread はアカウントの未読通知一覧を新しい順に返す。
func (s *Service) ListUnread(ctx context.Context, accountID int64) ([]Notification, error) {
	return s.store.ListUnreadForAccount(ctx, accountID)
}

// Delete は通知を削除し、存在していたかどうかを返す。
// 宛先付きの通知は宛先本人か管理者、ブロードキャストは管理者のみ削除できる。
func (s *Service) Delete(ctx context.Context, accountID int64, admin bool, id int64) (bool, error) {
	n, err := s.store.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !admin && (n.IsBroadcast() || *n.TargetAccount != accountID) {
		return false, ErrForbidden
	}
	return s.store.Delete(ctx, id)
}

// HandleMessage はライブ接続から受信したメッセージを処理する。
// 不正なフレームはログに記録して破棄し、接続は維持する。
func (s *Service) HandleMessage(ctx context.Context, c Conn, data []byte) {
	frame, err := ParseClientFrame(data)
	if err != nil {
		s.metrics.inboundFrames.WithLabelValues("malformed").Inc()
		log.Printf("[WS] 不正なフレームを破棄しました: conn=%s account=%d: %v", c.ID(), c.AccountID(), err)
		return
	}

	switch frame.Kind {
	case KindMarkRead:
		if _, err := s.Acknowledge(ctx, c.AccountID(), frame.ID); err != nil {
			s.metrics.inboundFrames.WithLabelValues("rejected").Inc()
			log.Printf("[WS] 既読処理に失敗しました: conn=%s account=%d id=%d: %v", c.ID(), c.AccountID(), frame.ID, err)
			return
		}
		s.metrics.inboundFrames.WithLabelValues("accepted").Inc()
	}
}

// Throttled は受信レート超過で破棄したフレームを記録する。
func (s *Service) Throttled(c Conn) {
	s.metrics.inboundFrames.WithLabelValues("throttled").Inc()
	log.Printf("[WS] 受信レート超過のためフレームを破棄しました: conn=%s account=%d", c.ID(), c.AccountID())
}

// Shutdown はすべての接続を閉じる。
func (s *Service) Shutdown() {
	for _, c := range s.registry.AllConnections() {
		s.Detach(c)
	}
}

// validateNew は通知の作成パラメータを検証する。
func validateNew(in NewNotification) error {
	if err := validate.Struct(in); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("%w: %s failed on '%s'", ErrInvalid, verrs[0].Field(), verrs[0].Tag())
		}
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}
