package app

import (
	"fmt"
	"strconv"
)

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はAPIサーバーモードで起動することを示す。
	CommandServe Command = "serve"
	// CommandWorker はワーカーモード（期限切れセッションの削除）で起動することを示す。
	CommandWorker Command = "worker"
	// CommandMigrate はデータベースマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandBootstrapAdmin は最初の管理者を付与することを示す。
	CommandBootstrapAdmin Command = "bootstrap-admin"
	// CommandConsole は管理コンソールを起動することを示す。
	CommandConsole Command = "console"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

// ParseCommand はコマンドライン引数からサブコマンドを解析する。
// 引数が空またはサポート外のコマンドの場合はCommandServeを返す。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}

	switch args[0] {
	case "worker":
		return CommandWorker
	case "serve":
		return CommandServe
	case "migrate":
		return CommandMigrate
	case "bootstrap-admin":
		return CommandBootstrapAdmin
	case "console":
		return CommandConsole
	case "healthcheck":
		return CommandHealthcheck
	default:
		return CommandServe
	}
}

// MigrateAction はmigrateサブコマンドの操作。
type MigrateAction string

const (
	MigrateUp      MigrateAction = "up"
	MigrateDown    MigrateAction = "down"
	MigrateVersion MigrateAction = "version"
)

// ParseMigrateArgs はmigrateサブコマンドの引数を解析する。
//
//	migrate            未適用のマイグレーションをすべて適用
//	migrate up         同上
//	migrate down [N]   N件（省略時1件）ロールバック
//	migrate version    現在のバージョンを表示
func ParseMigrateArgs(args []string) (MigrateAction, int, error) {
	if len(args) == 0 {
		return MigrateUp, 0, nil
	}

	switch MigrateAction(args[0]) {
	case MigrateUp:
		return MigrateUp, 0, nil
	case MigrateVersion:
		return MigrateVersion, 0, nil
	case MigrateDown:
		if len(args) < 2 {
			return MigrateDown, 1, nil
		}
		steps, err := strconv.Atoi(args[1])
		if err != nil || steps <= 0 {
			return "", 0, fmt.Errorf("invalid rollback steps %q", args[1])
		}
		return MigrateDown, steps, nil
	default:
		return "", 0, fmt.Errorf("unknown migrate action %q", args[0])
	}
}
