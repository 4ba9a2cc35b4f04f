// Package dbtest はPostgreSQLを使う結合テスト用のヘルパーを提供する。
// TEST_DATABASE_URL が設定されていればそのDBを使い、未設定の場合は
// testcontainersでPostgreSQL 16コンテナを起動する。Dockerが使えない環境ではテストをスキップする。
package dbtest

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// resetSQL はスキーマを初期状態に戻す。
const resetSQL = `
	DROP TABLE IF EXISTS booking_status_events CASCADE;
	DROP TABLE IF EXISTS bookings CASCADE;
	DROP TABLE IF EXISTS cars CASCADE;
	DROP TABLE IF EXISTS sessions CASCADE;
	DROP TABLE IF EXISTS profiles CASCADE;
	DROP TABLE IF EXISTS users CASCADE;
	DROP TABLE IF EXISTS schema_migrations CASCADE;
`

// URL はテスト用データベースの接続URLを返す。
// コンテナを起動した場合はテスト終了時に破棄する。
func URL(t *testing.T) string {
	t.Helper()

	if url := os.Getenv("TEST_DATABASE_URL"); url != "" {
		return url
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	c, err := postgres.Run(ctx,
		"postgres:16",
		postgres.WithDatabase("wheelhaven_test"),
		postgres.WithUsername("wheelhaven"),
		postgres.WithPassword("wheelhaven"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		),
	)
	if err != nil {
		t.Skipf("PostgreSQLコンテナを起動できません（スキップ）: %v", err)
	}
	t.Cleanup(func() {
		_ = c.Terminate(context.Background())
	})

	url, err := c.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("接続文字列の取得に失敗: %v", err)
	}
	return url
}

// Open はテスト用データベースに接続し、全テーブルを削除したクリーンな状態で返す。
func Open(t *testing.T) (*sql.DB, string) {
	t.Helper()

	url := URL(t)
	db, err := sql.Open("postgres", url)
	if err != nil {
		t.Fatalf("データベースへの接続に失敗: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Ping(); err != nil {
		t.Skipf("テスト用データベースに接続できません（スキップ）: %v", err)
	}

	if _, err := db.Exec(resetSQL); err != nil {
		t.Fatalf("クリーンアップに失敗: %v", err)
	}

	return db, url
}
