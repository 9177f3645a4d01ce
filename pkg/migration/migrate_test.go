package migration

import (
	"testing"
	"testing/fstest"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// openTestDB はテスト用のインメモリSQLiteを開く。
func openTestDB(t *testing.T) *sqlx.DB {
	t.Helper()

	db, err := sqlx.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("インメモリDBの作成に失敗: %v", err)
	}
	// :memory: は接続ごとに別DBになるため1接続に固定する
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

// testFS はテスト用のマイグレーションファイル群。
func testFS() fstest.MapFS {
	return fstest.MapFS{
		"migrations/000002_add_index.up.sql":      {Data: []byte("CREATE INDEX idx_items_name ON items(name);")},
		"migrations/000001_create_items.up.sql":   {Data: []byte("CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT);")},
		"migrations/000001_create_items.down.sql": {Data: []byte("DROP TABLE items;")},
		"migrations/README.md":                    {Data: []byte("ignored")},
		"migrations/abc_bad.up.sql":               {Data: []byte("ignored")},
	}
}

// TestCollect はファイル収集と並び順を検証する。
func TestCollect(t *testing.T) {
	t.Parallel()

	files, err := Collect(testFS(), "migrations")
	if err != nil {
		t.Fatalf("Collect()でエラーが発生: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("ファイル数 = %d, want 2", len(files))
	}
	if files[0].Version != 1 || files[0].Name != "create_items" {
		t.Errorf("files[0] = %+v", files[0])
	}
	if files[1].Version != 2 || files[1].Path != "migrations/000002_add_index.up.sql" {
		t.Errorf("files[1] = %+v", files[1])
	}
}

// TestRun はマイグレーションの適用と再実行時のスキップを検証する。
func TestRun(t *testing.T) {
	t.Parallel()

	t.Run("未適用のマイグレーションをすべて適用すること", func(t *testing.T) {
		t.Parallel()
		db := openTestDB(t)

		n, err := Run(t.Context(), db, testFS(), "migrations")
		if err != nil {
			t.Fatalf("Run()でエラーが発生: %v", err)
		}
		if n != 2 {
			t.Errorf("適用件数 = %d, want 2", n)
		}
		if _, err := db.Exec("INSERT INTO items (name) VALUES ('x')"); err != nil {
			t.Errorf("テーブルが作成されていない: %v", err)
		}
	})

	t.Run("2回目の実行では何も適用しないこと", func(t *testing.T) {
		t.Parallel()
		db := openTestDB(t)

		if _, err := Run(t.Context(), db, testFS(), "migrations"); err != nil {
			t.Fatalf("1回目のRun()でエラーが発生: %v", err)
		}
		n, err := Run(t.Context(), db, testFS(), "migrations")
		if err != nil {
			t.Fatalf("2回目のRun()でエラーが発生: %v", err)
		}
		if n != 0 {
			t.Errorf("適用件数 = %d, want 0", n)
		}
	})

	t.Run("SQLエラーのマイグレーションは記録されないこと", func(t *testing.T) {
		t.Parallel()
		db := openTestDB(t)

		broken := fstest.MapFS{
			"m/000001_broken.up.sql": {Data: []byte("CREATE TABLE")},
		}
		if _, err := Run(t.Context(), db, broken, "m"); err == nil {
			t.Fatal("不正なSQLでエラーを返すべき")
		}

		var count int
		if err := db.Get(&count, "SELECT COUNT(*) FROM schema_migrations"); err != nil {
			t.Fatalf("件数取得に失敗: %v", err)
		}
		if count != 0 {
			t.Errorf("記録件数 = %d, want 0", count)
		}
	})
}
