package notification

import "sync"

// Conn は通知の配信先となる1つのライブ接続。
type Conn interface {
	// ID は接続の一意識別子。再利用されない。
	ID() string
	// AccountID は接続を所有するアカウント。
	AccountID() int64
	// Enqueue はフレームを送信キューに積む。ブロックしない。
	// 接続が閉じている場合はErrConnClosed、キューが満杯の場合はErrSlowConsumerを返す。
	Enqueue(f Frame) error
	// Close は接続を閉じる。複数回呼んでも安全。
	Close()
}

// Registry はアカウントごとのライブ接続を管理する。
// 1アカウントが複数の接続（複数端末・複数タブ）を持てる。
type Registry struct {
	mu sync.RWMutex
	// byAccount はアカウントID -> 接続ID -> 接続。
	byAccount map[int64]map[string]Conn
	// owners は接続ID -> アカウントID。
	owners map[string]int64
}

// NewRegistry は空のRegistryを生成する。
func NewRegistry() *Registry {
	return &Registry{
		byAccount: make(map[int64]map[string]Conn),
		owners:    make(map[string]int64),
	}
}

// Register は接続をアカウントの下に登録する。
// 同じ接続が別アカウントで登録済みの場合は移し替える。
func (r *Registry) Register(accountID int64, c Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.owners[c.ID()]; ok && prev != accountID {
		r.removeLocked(prev, c.ID())
	}

	bucket, ok := r.byAccount[accountID]
	if !ok {
		bucket = make(map[string]Conn)
		r.byAccount[accountID] = bucket
	}
	bucket[c.ID()] = c
	r.owners[c.ID()] = accountID
}

// Unregister は接続を登録から外す。実際に外した場合だけtrueを返すため、
// 同じ接続に対して並行に呼ばれても後始末は1回だけ行われる。
func (r *Registry) Unregister(c Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	accountID, ok := r.owners[c.ID()]
	if !ok {
		return false
	}
	if registered := r.byAccount[accountID][c.ID()]; registered != c {
		return false
	}
	r.removeLocked(accountID, c.ID())
	return true
}

func (r *Registry) removeLocked(accountID int64, connID string) {
	delete(r.owners, connID)
	bucket := r.byAccount[accountID]
	delete(bucket, connID)
	if len(bucket) == 0 {
		delete(r.byAccount, accountID)
	}
}

// ConnectionsFor はアカウントの現在の接続のスナップショットを返す。
// 接続が無い場合は空のスライスを返す。
func (r *Registry) ConnectionsFor(accountID int64) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	bucket := r.byAccount[accountID]
	out := make([]Conn, 0, len(bucket))
	for _, c := range bucket {
		out = append(out, c)
	}
	return out
}

// AllConnections はすべての接続のスナップショットを返す。ブロードキャストの配信先に使う。
func (r *Registry) AllConnections() []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Conn, 0, len(r.owners))
	for _, bucket := range r.byAccount {
		for _, c := range bucket {
			out = append(out, c)
		}
	}
	return out
}

// Len は登録されている接続の数を返す。
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.owners)
}

// Accounts は接続を1つ以上持つアカウントの数を返す。
func (r *Registry) Accounts() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byAccount)
}
