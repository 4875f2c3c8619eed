package logger

import (
	"io"
	"log/slog"
	"os"

	"github.com/lmittmann/tint"
)

// ParseLevel はログレベル文字列をslog.Levelに変換する。
// 未知の値はinfo扱いにする。
func ParseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Setup は指定された形式とレベルのslog.Loggerを生成して返す。
// formatが"text"の場合は開発向けの色付きテキスト出力、
// それ以外はJSON構造化ログを出力する。
func Setup(w io.Writer, level slog.Level, format string) *slog.Logger {
	var handler slog.Handler
	if format == "text" {
		handler = tint.NewHandler(w, &tint.Options{
			Level:      level,
			TimeFormat: "2006-01-02 15:04:05",
		})
	} else {
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{
			Level: level,
		})
	}
	return slog.New(handler)
}

// SetupDefault は指定された形式とレベルのロガーをグローバルロガーとして設定する。
// writerが指定された場合はそのwriterに出力する。
// 本番ではos.Stdoutを渡すことを想定している。
func SetupDefault(w io.Writer, level slog.Level, format string) {
	if w == nil {
		w = os.Stdout
	}
	slog.SetDefault(Setup(w, level, format))
}
