// Package model はドメインモデルを定義する。
package model

import "time"

// SearchDocument は検索専用に非正規化された物件ドキュメントを表す。
// 公開中の物件1件につき1行で、すべてのフィールドは元の物件データから導出できる。
// 読み取り最適化されたキャッシュであり、データの源泉（source of truth）ではない。
// リフレッシュは行全体の置き換えで行い、部分更新はしない。
type SearchDocument struct {
	ID                string
	OwnerID           string
	Title             string
	DescriptionText   string // HTML除去済みの本文テキスト
	PricePerMonth     int
	RoomType          RoomType
	LeaseMonths       int
	MoveInDate        *time.Time
	Amenities         []string
	HouseRules        []string
	Languages         []string
	GenderPreference  GenderPreference
	Lat               float64
	Lng               float64
	AddressCity       string
	AddressPrefecture string
	Images            []string
	TotalSlots        int
	ViewCount         int
	ReviewCount       int
	ReviewScore       float64
	RecommendScore    float64
	ListingCreatedAt  time.Time // ページネーションの安定タイブレークに使用
	RefreshedAt       time.Time
}

// ListItem は検索結果一覧のカード表示用モデル。
type ListItem struct {
	ID                string    `json:"id"`
	Title             string    `json:"title"`
	PricePerMonth     int       `json:"price_per_month"`
	RoomType          RoomType  `json:"room_type"`
	AddressCity       string    `json:"address_city"`
	AddressPrefecture string    `json:"address_prefecture"`
	Image             string    `json:"image,omitempty"` // imagesの先頭。なければ省略
	ReviewScore       float64   `json:"review_score"`
	ReviewCount       int       `json:"review_count"`
	Badges            []string  `json:"badges,omitempty"` // near-match / multi-room。なければ省略
	ListingCreatedAt  time.Time `json:"listing_created_at"`
}

// バッジの種類。
const (
	// BadgeNearMatch は条件を緩和して補完した近似マッチの物件に付与される。
	BadgeNearMatch = "near-match"
	// BadgeMultiRoom は複数の空き枠がある物件に付与される。
	BadgeMultiRoom = "multi-room"
)

// MapListing は地図表示用の物件データ。
type MapListing struct {
	ID               string    `json:"id"`
	Lat              float64   `json:"lat"`
	Lng              float64   `json:"lng"`
	PricePerMonth    int       `json:"price_per_month"`
	RoomType         RoomType  `json:"room_type"`
	Title            string    `json:"title"`
	RecommendScore   float64   `json:"recommend_score"`
	ListingCreatedAt time.Time `json:"listing_created_at"`
}
