package notification

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/nao1215/portal/pkg/migration"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore はSQLiteに通知を永続化するStore。
type SQLiteStore struct {
	db  *sqlx.DB
	now func() time.Time
}

var _ Store = (*SQLiteStore)(nil)

// notificationRow はnotificationsテーブルの1行。
type notificationRow struct {
	ID            int64         `db:"id"`
	Title         string        `db:"title"`
	Message       string        `db:"message"`
	Type          string        `db:"type"`
	TargetAccount sql.NullInt64 `db:"target_account"`
	RelatedID     sql.NullInt64 `db:"related_id"`
	IsRead        int64         `db:"is_read"`
	CreatedAt     int64         `db:"created_at"`
}

func (r notificationRow) toNotification() Notification {
	n := Notification{
		ID:        r.ID,
		Title:     r.Title,
		Message:   r.Message,
		Type:      r.Type,
		Read:      r.IsRead != 0,
		CreatedAt: time.Unix(0, r.CreatedAt).UTC(),
	}
	if r.TargetAccount.Valid {
		n.TargetAccount = Account(r.TargetAccount.Int64)
	}
	if r.RelatedID.Valid {
		n.RelatedID = cloneID(&r.RelatedID.Int64)
	}
	return n
}

const selectColumns = `SELECT id, title, message, type, target_account, related_id, is_read, created_at FROM notifications`

// OpenSQLite はpathのSQLiteデータベースを開き、マイグレーションを適用する。
// pathに ":memory:" を指定するとインメモリデータベースになる。
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	dsn := path
	if path != ":memory:" {
		dsn = "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}

	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}
	// 書き込みを1接続に直列化する。:memory: は接続ごとに別DBになるためでもある
	db.SetMaxOpenConns(1)

	if _, err := migration.Run(ctx, db, migrationsFS, "migrations"); err != nil {
		db.Close()
		return nil, fmt.Errorf("スキーマ初期化に失敗: %w", err)
	}

	return &SQLiteStore{db: db, now: time.Now}, nil
}

// Create はStoreを実装する。
func (s *SQLiteStore) Create(ctx context.Context, in NewNotification) (Notification, error) {
	createdAt := s.now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (title, message, type, target_account, related_id, is_read, created_at)
		VALUES (?, ?, ?, ?, ?, 0, ?)`,
		in.Title, in.Message, in.Type, in.TargetAccount, in.RelatedID, createdAt.UnixNano(),
	)
	if err != nil {
		return Notification{}, fmt.Errorf("通知の作成に失敗: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return Notification{}, fmt.Errorf("通知IDの取得に失敗: %w", err)
	}

	return Notification{
		ID:            id,
		Title:         in.Title,
		Message:       in.Message,
		Type:          in.Type,
		TargetAccount: cloneID(in.TargetAccount),
		RelatedID:     cloneID(in.RelatedID),
		CreatedAt:     time.Unix(0, createdAt.UnixNano()).UTC(),
	}, nil
}

// Get はStoreを実装する。
func (s *SQLiteStore) Get(ctx context.Context, id int64) (Notification, error) {
	return s.get(ctx, s.db, id)
}

func (s *SQLiteStore) get(ctx context.Context, q sqlx.QueryerContext, id int64) (Notification, error) {
	var row notificationRow
	if err := sqlx.GetContext(ctx, q, &row, selectColumns+` WHERE id = ?`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Notification{}, ErrNotFound
		}
		return Notification{}, fmt.Errorf("通知の取得に失敗: %w", err)
	}
	return row.toNotification(), nil
}

// ListForAccount はStoreを実装する。
func (s *SQLiteStore) ListForAccount(ctx context.Context, accountID int64) ([]Notification, error) {
	return s.list(ctx, selectColumns+`
		WHERE (target_account = ? OR target_account IS NULL)
		ORDER BY created_at DESC, id DESC`, accountID)
}

// ListUnreadForAccount はStoreを実装する。
func (s *SQLiteStore) ListUnreadForAccount(ctx context.Context, accountID int64) ([]Notification, error) {
	return s.list(ctx, selectColumns+`
		WHERE (target_account = ? OR target_account IS NULL) AND is_read = 0
		ORDER BY created_at DESC, id DESC`, accountID)
}

func (s *SQLiteStore) list(ctx context.Context, query string, args ...any) ([]Notification, error) {
	var rows []notificationRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("通知一覧の取得に失敗: %w", err)
	}

	out := make([]Notification, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toNotification())
	}
	return out, nil
}

// MarkRead はStoreを実装する。
func (s *SQLiteStore) MarkRead(ctx context.Context, id int64) (Notification, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return Notification{}, fmt.Errorf("トランザクション開始に失敗: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `UPDATE notifications SET is_read = 1 WHERE id = ? AND is_read = 0`, id); err != nil {
		return Notification{}, fmt.Errorf("通知の既読処理に失敗: %w", err)
	}
	n, err := s.get(ctx, tx, id)
	if err != nil {
		return Notification{}, err
	}
	if err := tx.Commit(); err != nil {
		return Notification{}, fmt.Errorf("通知の既読処理のコミットに失敗: %w", err)
	}
	return n, nil
}

// MarkAllReadForAccount はStoreを実装する。
// 1つのUPDATE文で処理するため、同時実行しても同じ通知を二重に数えない。
func (s *SQLiteStore) MarkAllReadForAccount(ctx context.Context, accountID int64) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE notifications SET is_read = 1
		WHERE is_read = 0 AND (target_account = ? OR target_account IS NULL)`, accountID)
	if err != nil {
		return 0, fmt.Errorf("全通知の既読処理に失敗: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("更新件数の取得に失敗: %w", err)
	}
	return int(n), nil
}

// Delete はStoreを実装する。
func (s *SQLiteStore) Delete(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM notifications WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("通知の削除に失敗: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("削除件数の取得に失敗: %w", err)
	}
	return n > 0, nil
}

// Close はStoreを実装する。
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
