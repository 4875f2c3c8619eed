// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/roomsearch/internal/model"
)

// SearchDocumentRepository は検索ドキュメントの永続化インターフェース。
type SearchDocumentRepository interface {
	// CountLimited は条件に合致する件数をプローブ上限まで数える。
	// 上限打ち切りのため、戻り値はquery.CountProbeLimitを超えない。
	// 条件が空の場合はSQLを発行せず0を返す。
	CountLimited(ctx context.Context, p model.FilterParams) (int, error)

	// List は条件に合致する物件を1ページ分+先読み1行取得する。pageは0始まり。
	// キーワード条件があり表示範囲がない場合はエラーを返す。
	List(ctx context.Context, p model.FilterParams, page, limit int) ([]model.SearchDocument, error)

	// ListRelaxed は集合条件を外した緩和検索で、excludeIDs以外の物件を取得する。
	ListRelaxed(ctx context.Context, p model.FilterParams, excludeIDs []string, limit int) ([]model.SearchDocument, error)

	// MapListings は表示範囲内の地図用物件を取得する。
	// 2値目は結果が上限で切り詰められたかどうか。
	MapListings(ctx context.Context, p model.FilterParams) ([]model.MapListing, bool, error)

	// Upsert は検索ドキュメントを行全体の置き換えでUPSERTする。
	Upsert(ctx context.Context, doc *model.SearchDocument) error

	// DeleteByID は指定IDの検索ドキュメントを削除する。存在しなくてもエラーにしない。
	DeleteByID(ctx context.Context, id string) error

	// DeleteOrphans は公開中の物件が存在しない検索ドキュメントを削除し、
	// 削除行数を返す。
	DeleteOrphans(ctx context.Context) (int64, error)
}

// DirtyMarkerRepository は再構築待ちマーカーの永続化インターフェース。
// マーカーは追記専用で、処理済みまたは期限切れのものだけが削除される。
type DirtyMarkerRepository interface {
	// InsertBatch は複数のマーカーを1文で追記する。空スライスは何もしない。
	InsertBatch(ctx context.Context, markers []model.DirtyMarker) error

	// ListOldest はマーク時刻の古い順にマーカーを取得する。
	ListOldest(ctx context.Context, limit int) ([]model.DirtyMarker, error)

	// DeleteByIDs は処理済みマーカーを削除する。
	DeleteByIDs(ctx context.Context, ids []string) error

	// DeleteOlderThan は指定時刻より古いマーカーを削除し、削除行数を返す。
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// ListingSourceRepository は物件の源泉データの読み取りインターフェース。
// 物件自体のCRUDは管轄外で、リフレッシュワーカーの読み取りにのみ使う。
type ListingSourceRepository interface {
	// FindByIDs は指定IDの物件をレビュー集計付きで取得する。
	// 存在しないIDは結果に含まれない。
	FindByIDs(ctx context.Context, ids []string) ([]ListingWithReviewStats, error)
}

// ListingWithReviewStats は物件とレビュー集計を結合した構造体。
type ListingWithReviewStats struct {
	model.Listing
	ReviewCount int
	ReviewScore float64
}
