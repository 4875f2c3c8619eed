// Package model はドメインモデルを定義する。
package model

import (
	"strings"
	"time"
)

// SortOption は検索結果の並び順を表す。
type SortOption string

const (
	// SortRecommended はおすすめ順（recommend_score降順）。デフォルト。
	SortRecommended SortOption = "recommended"
	// SortPriceAsc は家賃の安い順。
	SortPriceAsc SortOption = "price_asc"
	// SortPriceDesc は家賃の高い順。
	SortPriceDesc SortOption = "price_desc"
	// SortNewest は掲載の新しい順。
	SortNewest SortOption = "newest"
)

// Valid はソートオプションが定義済みかどうかを返す。空文字はデフォルト扱いで有効。
func (s SortOption) Valid() bool {
	switch s {
	case "", SortRecommended, SortPriceAsc, SortPriceDesc, SortNewest:
		return true
	}
	return false
}

// RoomType は部屋の種別を表す。
type RoomType string

const (
	// RoomTypePrivate は個室。
	RoomTypePrivate RoomType = "private"
	// RoomTypeShared は相部屋。
	RoomTypeShared RoomType = "shared"
	// RoomTypeEntire は物件まるごと。
	RoomTypeEntire RoomType = "entire"
)

// Valid は部屋種別が定義済みかどうかを返す。空文字は未指定扱いで有効。
func (t RoomType) Valid() bool {
	switch t {
	case "", RoomTypePrivate, RoomTypeShared, RoomTypeEntire:
		return true
	}
	return false
}

// GenderPreference は入居者の性別条件を表す。
type GenderPreference string

const (
	// GenderAny は性別不問。
	GenderAny GenderPreference = "any"
	// GenderFemaleOnly は女性限定。
	GenderFemaleOnly GenderPreference = "female_only"
	// GenderMaleOnly は男性限定。
	GenderMaleOnly GenderPreference = "male_only"
)

// Valid は性別条件が定義済みかどうかを返す。空文字は未指定扱いで有効。
func (g GenderPreference) Valid() bool {
	switch g {
	case "", GenderAny, GenderFemaleOnly, GenderMaleOnly:
		return true
	}
	return false
}

// ViewportBounds は地図の表示範囲を表す。
// MinLat < MaxLat を不変条件とする。MinLng > MaxLng の場合は
// 経度180度線（日付変更線）をまたぐ範囲を意味する。
type ViewportBounds struct {
	MinLat float64
	MaxLat float64
	MinLng float64
	MaxLng float64
}

// WrapsAntimeridian は範囲が経度180度線をまたぐかどうかを返す。
func (b ViewportBounds) WrapsAntimeridian() bool {
	return b.MinLng > b.MaxLng
}

// LatSpan は緯度方向の幅（度）を返す。
func (b ViewportBounds) LatSpan() float64 {
	return b.MaxLat - b.MinLat
}

// LngSpan は経度方向の幅（度）を返す。180度線をまたぐ場合も正の値になる。
func (b ViewportBounds) LngSpan() float64 {
	if b.WrapsAntimeridian() {
		return b.MaxLng - b.MinLng + 360
	}
	return b.MaxLng - b.MinLng
}

// Validate は表示範囲の妥当性を検証する。
func (b ViewportBounds) Validate() *APIError {
	if b.MinLat >= b.MaxLat {
		return NewInvalidBoundsError("min_latはmax_latより小さい必要があります")
	}
	if b.MinLat < -90 || b.MaxLat > 90 {
		return NewInvalidBoundsError("緯度が範囲外です")
	}
	if b.MinLng < -180 || b.MinLng > 180 || b.MaxLng < -180 || b.MaxLng > 180 {
		return NewInvalidBoundsError("経度が範囲外です")
	}
	return nil
}

// 検索半径の上限（km）。
const MaxRadiusKm = 100.0

// FilterParams は検索条件を表すイミュータブルな値オブジェクト。
// 内容が意味的に等しい2つのFilterParams（集合の順序・テキストの大小文字・
// 表示範囲の微小な差を無視）は同一のクエリハッシュを持つ。
type FilterParams struct {
	Query            string
	MinPrice         *int
	MaxPrice         *int
	RoomType         RoomType
	LeaseMonths      *int
	MoveInDate       *time.Time
	Amenities        []string
	HouseRules       []string
	Languages        []string
	GenderPreference GenderPreference
	Bounds           *ViewportBounds
	CenterLat        *float64
	CenterLng        *float64
	RadiusKm         *float64
	Sort             SortOption
	Cursor           string
	Page             int
	Limit            int
}

// HasQuery はテキスト検索条件が指定されているかどうかを返す。
func (p FilterParams) HasQuery() bool {
	return strings.TrimSpace(p.Query) != ""
}

// HasBounds は表示範囲が指定されているかどうかを返す。
func (p FilterParams) HasBounds() bool {
	return p.Bounds != nil
}

// HasRadius は半径検索が指定されているかどうかを返す。
func (p FilterParams) HasRadius() bool {
	return p.CenterLat != nil && p.CenterLng != nil && p.RadiusKm != nil
}

// HasFilters はテキスト・表示範囲以外の絞り込み条件が
// 1つでも指定されているかどうかを返す。
func (p FilterParams) HasFilters() bool {
	return p.MinPrice != nil || p.MaxPrice != nil ||
		p.RoomType != "" || p.LeaseMonths != nil || p.MoveInDate != nil ||
		len(p.Amenities) > 0 || len(p.HouseRules) > 0 || len(p.Languages) > 0 ||
		(p.GenderPreference != "" && p.GenderPreference != GenderAny)
}

// HasRelaxableFilters は緩和可能な集合条件（設備・ハウスルール・言語）が
// 指定されているかどうかを返す。近似マッチのフォールバックで使用する。
func (p FilterParams) HasRelaxableFilters() bool {
	return len(p.Amenities) > 0 || len(p.HouseRules) > 0 || len(p.Languages) > 0
}

// IsEmpty はテキスト・表示範囲・絞り込みのいずれも指定されていないかどうかを返す。
func (p FilterParams) IsEmpty() bool {
	return !p.HasQuery() && !p.HasBounds() && !p.HasFilters()
}

// Validate は検索条件の妥当性を検証する。
// 不正な値にはバリデーションエラー（APIError）を返す。
func (p FilterParams) Validate() *APIError {
	if p.MinPrice != nil && *p.MinPrice < 0 {
		return NewInvalidFilterError("min_price")
	}
	if p.MaxPrice != nil && *p.MaxPrice < 0 {
		return NewInvalidFilterError("max_price")
	}
	if p.MinPrice != nil && p.MaxPrice != nil && *p.MinPrice > *p.MaxPrice {
		return NewInvalidFilterError("min_price > max_price")
	}
	if !p.RoomType.Valid() {
		return NewInvalidFilterError("room_type")
	}
	if p.LeaseMonths != nil && (*p.LeaseMonths < 1 || *p.LeaseMonths > 36) {
		return NewInvalidFilterError("lease_months")
	}
	if !p.GenderPreference.Valid() {
		return NewInvalidFilterError("gender")
	}
	if !p.Sort.Valid() {
		return NewInvalidFilterError("sort")
	}
	if p.Page < 0 {
		return NewInvalidFilterError("page")
	}
	if p.Limit < 0 || p.Limit > 100 {
		return NewInvalidFilterError("limit")
	}
	if p.Bounds != nil {
		if err := p.Bounds.Validate(); err != nil {
			return err
		}
	}
	// 半径検索はcenter_lat/center_lng/radius_kmの3点セットで指定する
	if p.CenterLat != nil || p.CenterLng != nil || p.RadiusKm != nil {
		if !p.HasRadius() {
			return NewInvalidFilterError("center_lat/center_lng/radius_kmはすべて指定してください")
		}
		if *p.CenterLat < -90 || *p.CenterLat > 90 || *p.CenterLng < -180 || *p.CenterLng > 180 {
			return NewInvalidBoundsError("中心座標が範囲外です")
		}
		if *p.RadiusKm <= 0 || *p.RadiusKm > MaxRadiusKm {
			return NewInvalidRadiusError(*p.RadiusKm)
		}
	}
	return nil
}
