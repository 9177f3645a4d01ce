package notification

import (
	"context"
	"slices"
	"sync"
	"time"
)

// Store は通知レコードの永続化を担う。配信のロジックは持たない。
// ストレージ障害はラップしたエラーとして呼び出し元に返し、内部でリトライしない。
type Store interface {
	// Create は通知を作成する。IDとCreatedAtを採番し、Readはfalseで始まる。
	Create(ctx context.Context, in NewNotification) (Notification, error)
	// Get はIDで通知を取得する。存在しない場合はErrNotFoundを返す。
	Get(ctx context.Context, id int64) (Notification, error)
	// ListForAccount はアカウント宛てとブロードキャストの通知を新しい順に返す。
	ListForAccount(ctx context.Context, accountID int64) ([]Notification, error)
	// ListUnreadForAccount はListForAccountのうち未読のものを返す。
	ListUnreadForAccount(ctx context.Context, accountID int64) ([]Notification, error)
	// MarkRead は通知を既読にする。既読済みでも成功し、変更なしのレコードを返す。
	MarkRead(ctx context.Context, id int64) (Notification, error)
	// MarkAllReadForAccount はアカウントから見える未読通知をすべて既読にし、
	// この呼び出しで実際に既読へ変えた件数を返す。
	MarkAllReadForAccount(ctx context.Context, accountID int64) (int, error)
	// Delete は通知を削除し、存在していたかどうかを返す。
	Delete(ctx context.Context, id int64) (bool, error)
	// Close はストアを閉じる。
	Close() error
}

// MemoryStore はプロセス内のメモリに通知を保持するStore。
// すべての操作は1つのミューテックスで直列化される。
type MemoryStore struct {
	mu      sync.RWMutex
	lastID  int64
	records map[int64]Notification
	now     func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore は空のMemoryStoreを生成する。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[int64]Notification),
		now:     time.Now,
	}
}

// Create はStoreを実装する。
func (s *MemoryStore) Create(_ context.Context, in NewNotification) (Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastID++
	n := Notification{
		ID:            s.lastID,
		Title:         in.Title,
		Message:       in.Message,
		Type:          in.Type,
		TargetAccount: cloneID(in.TargetAccount),
		RelatedID:     cloneID(in.RelatedID),
		CreatedAt:     s.now().UTC(),
	}
	s.records[n.ID] = n
	return n, nil
}

// Get はStoreを実装する。
func (s *MemoryStore) Get(_ context.Context, id int64) (Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.records[id]
	if !ok {
		return Notification{}, ErrNotFound
	}
	return n, nil
}

// ListForAccount はStoreを実装する。
func (s *MemoryStore) ListForAccount(_ context.Context, accountID int64) ([]Notification, error) {
	return s.list(accountID, false), nil
}

// ListUnreadForAccount はStoreを実装する。
func (s *MemoryStore) ListUnreadForAccount(_ context.Context, accountID int64) ([]Notification, error) {
	return s.list(accountID, true), nil
}

func (s *MemoryStore) list(accountID int64, unreadOnly bool) []Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Notification, 0)
	for _, n := range s.records {
		if !n.VisibleTo(accountID) || (unreadOnly && n.Read) {
			continue
		}
		out = append(out, n)
	}
	sortNewestFirst(out)
	return out
}

// MarkRead はStoreを実装する。
func (s *MemoryStore) MarkRead(_ context.Context, id int64) (Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.records[id]
	if !ok {
		return Notification{}, ErrNotFound
	}
	if !n.Read {
		n.Read = true
		s.records[id] = n
	}
	return n, nil
}

// MarkAllReadForAccount はStoreを実装する。
func (s *MemoryStore) MarkAllReadForAccount(_ context.Context, accountID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := 0
	for id, n := range s.records {
		if n.Read || !n.VisibleTo(accountID) {
			continue
		}
		n.Read = true
		s.records[id] = n
		changed++
	}
	return changed, nil
}

// Delete はStoreを実装する。
func (s *MemoryStore) Delete(_ context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[id]; !ok {
		return false, nil
	}
	delete(s.records, id)
	return true, nil
}

// Close はStoreを実装する。MemoryStoreでは何もしない。
func (s *MemoryStore) Close() error {
	return nil
}

// sortNewestFirst は作成日時の新しい順、同時刻ならIDの大きい順に並べる。
func sortNewestFirst(ns []Notification) {
	slices.SortFunc(ns, func(a, b Notification) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		switch {
		case a.ID > b.ID:
			return -1
		case a.ID < b.ID:
			return 1
		}
		return 0
	})
}
