// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: validation, search, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidFilter     = "INVALID_FILTER"
	ErrCodeInvalidBounds     = "INVALID_BOUNDS"
	ErrCodeInvalidRadius     = "INVALID_RADIUS"
	ErrCodeInvalidTile       = "INVALID_TILE"
	ErrCodeBoundsRequired    = "BOUNDS_REQUIRED"
	ErrCodeSearchTimeout     = "SEARCH_TIMEOUT"
	ErrCodeSearchUnavailable = "SEARCH_UNAVAILABLE"
	ErrCodeTileFetchFailed   = "TILE_FETCH_FAILED"
	ErrCodeRateLimited       = "RATE_LIMITED"
)

// NewInvalidFilterError は無効な検索フィルタエラーを生成する。
func NewInvalidFilterError(field string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidFilter,
		Message:  fmt.Sprintf("無効な検索条件です: %s", field),
		Category: "validation",
		Action:   "検索条件の値を確認してください。",
	}
}

// NewInvalidBoundsError は無効な表示範囲エラーを生成する。
func NewInvalidBoundsError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidBounds,
		Message:  fmt.Sprintf("無効な表示範囲です: %s", reason),
		Category: "validation",
		Action:   "緯度は-90〜90、経度は-180〜180の範囲で指定してください。",
	}
}

// NewInvalidRadiusError は無効な検索半径エラーを生成する。
func NewInvalidRadiusError(km float64) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRadius,
		Message:  fmt.Sprintf("無効な検索半径です: %.1fkm", km),
		Category: "validation",
		Action:   "検索半径は0kmより大きく100km以下で指定してください。",
	}
}

// NewInvalidTileError は不正なタイル座標エラーを生成する。
func NewInvalidTileError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidTile,
		Message:  "タイル座標が不正です。",
		Category: "validation",
		Action:   "zoomは0〜22、x/yは0〜2^zoom-1の範囲で指定してください。",
	}
}

// NewBoundsRequiredError は表示範囲未指定の検索を拒否するエラーを生成する。
// 範囲もテキスト条件もない全件走査を防ぐためのポリシーエラー。
func NewBoundsRequiredError() *APIError {
	return &APIError{
		Code:     ErrCodeBoundsRequired,
		Message:  "地図の表示範囲が指定されていません。",
		Category: "search",
		Action:   "地図を表示するか、表示範囲を指定して検索してください。",
	}
}

// NewSearchTimeoutError は検索タイムアウトエラーを生成する。
// 結果0件とは区別され、呼び出し側で「空」と「失敗」を判別できる。
func NewSearchTimeoutError() *APIError {
	return &APIError{
		Code:     ErrCodeSearchTimeout,
		Message:  "検索がタイムアウトしました。",
		Category: "search",
		Action:   "検索条件を絞り込むか、しばらく待ってから再度お試しください。",
	}
}

// NewSearchUnavailableError は検索基盤の一時障害エラーを生成する。
// 内部詳細は含めず、ログ側にのみ記録する。
func NewSearchUnavailableError() *APIError {
	return &APIError{
		Code:     ErrCodeSearchUnavailable,
		Message:  "検索を実行できませんでした。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewTileFetchError はタイル取得失敗エラーを生成する。
// クライアント側のタイルフェッチで利用する。
func NewTileFetchError(statusCode int) *APIError {
	return &APIError{
		Code:     ErrCodeTileFetchFailed,
		Message:  fmt.Sprintf("地図タイルの取得に失敗しました: status %d", statusCode),
		Category: "system",
		Action:   "地図を少し動かして再読み込みしてください。",
	}
}

// NewRateLimitedError はレート制限超過エラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "リクエストが多すぎます。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
