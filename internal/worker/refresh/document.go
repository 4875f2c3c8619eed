package refresh

import (
	"math"
	"time"

	"github.com/hitoshi/roomsearch/internal/model"
	"github.com/hitoshi/roomsearch/internal/repository"
)

// おすすめスコアの構成パラメータ。
const (
	// reviewDamping はレビュー件数が少ないうちはスコアを抑える減衰定数。
	reviewDamping = 5.0
	// popularityWeight は閲覧数成分（log10）の重み。
	popularityWeight = 0.5
	// freshnessWindowDays は新着ブーストが効く日数。
	freshnessWindowDays = 30.0
	// freshnessBoost は掲載直後に加算される最大ブースト値。
	freshnessBoost = 1.0
)

// ComputeRecommendScore はおすすめ順ソートに使うスコアを計算する。
// 3つの成分の和:
//   - レビュー評価: 平均スコア（0〜5）を件数で減衰させた値。件数が増えるほど素の平均に近づく
//   - 人気度: log10(閲覧数+1) × popularityWeight
//   - 新着度: 掲載からfreshnessWindowDays日かけて線形に0へ減衰するブースト
//
// 同じ入力に対して常に同じ値を返す。
func ComputeRecommendScore(reviewScore float64, reviewCount, viewCount int, createdAt, now time.Time) float64 {
	review := reviewScore * float64(reviewCount) / (float64(reviewCount) + reviewDamping)

	popularity := math.Log10(float64(viewCount)+1) * popularityWeight

	ageDays := now.Sub(createdAt).Hours() / 24
	freshness := (1 - ageDays/freshnessWindowDays) * freshnessBoost
	if freshness < 0 {
		freshness = 0
	}
	// createdAtが未来でも上限はfreshnessBoost
	if freshness > freshnessBoost {
		freshness = freshnessBoost
	}

	return review + popularity + freshness
}

// BuildDocument は物件の源泉データから検索ドキュメントを構築する。
// descriptionTextにはHTML除去済みの本文テキストを渡す。
// 部分更新はせず、常に行全体を新しく組み立てる。
func BuildDocument(src repository.ListingWithReviewStats, descriptionText string, now time.Time) *model.SearchDocument {
	return &model.SearchDocument{
		ID:                src.ID,
		OwnerID:           src.OwnerID,
		Title:             src.Title,
		DescriptionText:   descriptionText,
		PricePerMonth:     src.PricePerMonth,
		RoomType:          src.RoomType,
		LeaseMonths:       src.LeaseMonths,
		MoveInDate:        src.MoveInDate,
		Amenities:         src.Amenities,
		HouseRules:        src.HouseRules,
		Languages:         src.Languages,
		GenderPreference:  src.GenderPreference,
		Lat:               src.Lat,
		Lng:               src.Lng,
		AddressCity:       src.AddressCity,
		AddressPrefecture: src.AddressPrefecture,
		Images:            src.Images,
		TotalSlots:        src.TotalSlots,
		ViewCount:         src.ViewCount,
		ReviewCount:       src.ReviewCount,
		ReviewScore:       src.ReviewScore,
		RecommendScore:    ComputeRecommendScore(src.ReviewScore, src.ReviewCount, src.ViewCount, src.CreatedAt, now),
		ListingCreatedAt:  src.CreatedAt,
		RefreshedAt:       now,
	}
}
