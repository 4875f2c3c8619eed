// Package model はドメインモデルを定義する。
package model

import "time"

// DirtyReason はSearchDocumentの再構築が必要になった理由を表す。
type DirtyReason string

const (
	// DirtyReasonListingCreated は物件の新規作成。
	DirtyReasonListingCreated DirtyReason = "listing_created"
	// DirtyReasonListingUpdated は物件情報の更新。
	DirtyReasonListingUpdated DirtyReason = "listing_updated"
	// DirtyReasonStatusChanged は公開状態の変更。
	DirtyReasonStatusChanged DirtyReason = "status_changed"
	// DirtyReasonViewCount は閲覧数の変化。
	DirtyReasonViewCount DirtyReason = "view_count"
	// DirtyReasonReviewChanged はレビューの追加・変更。
	DirtyReasonReviewChanged DirtyReason = "review_changed"
)

// Valid はダーティ理由が定義済みかどうかを返す。
func (r DirtyReason) Valid() bool {
	switch r {
	case DirtyReasonListingCreated, DirtyReasonListingUpdated,
		DirtyReasonStatusChanged, DirtyReasonViewCount, DirtyReasonReviewChanged:
		return true
	}
	return false
}

// DirtyMarker はSearchDocumentの再構築待ちを示すログエントリを表す。
// 追記専用で、マーキングの失敗は呼び出し元の処理を失敗させない。
type DirtyMarker struct {
	ID        string
	ListingID string
	Reason    DirtyReason
	MarkedAt  time.Time
}
