// Package search は物件検索のユースケースを実装する。
//
// 件数・一覧・地図の3操作は独立しており、片方の失敗が他方を
// 巻き込まない。地理条件のない広範囲の走査はポリシーで拒否する。
package search

import (
	"context"
	"log/slog"

	"github.com/hitoshi/roomsearch/internal/geo"
	"github.com/hitoshi/roomsearch/internal/model"
	"github.com/hitoshi/roomsearch/internal/query"
	"github.com/hitoshi/roomsearch/internal/repository"
)

// CountCache は件数キャッシュのインターフェース。
// Getの1値目のnilは「100件超」、2値目は値が存在したかどうかを表す。
// 実装はエラーを返さない。キャッシュ障害はミス扱いで握りつぶすこと。
type CountCache interface {
	Get(ctx context.Context, queryHash string) (*int, bool)
	Set(ctx context.Context, queryHash string, count *int)
}

// MetricsRecorder は検索メトリクスの記録インターフェース。
type MetricsRecorder interface {
	RecordSearch(operation string)
	RecordCountCacheHit()
	RecordCountCacheMiss()
	RecordCountOverflow()
}

// ListResult は一覧検索の結果。
type ListResult struct {
	Items       []model.ListItem
	NextCursor  string
	HasNextPage bool
}

// MapResult は地図検索の結果。
type MapResult struct {
	Listings  []model.MapListing
	Truncated bool
}

// Service は検索のユースケースを実装する。
type Service struct {
	repo            repository.SearchDocumentRepository
	countCache      CountCache
	metrics         MetricsRecorder
	logger          *slog.Logger
	primaryPinLimit int
}

// NewService はServiceを生成する。countCacheとmetricsはnilでもよい。
// primaryPinLimitが0以下の場合はデフォルト値を使う。
func NewService(
	repo repository.SearchDocumentRepository,
	countCache CountCache,
	metrics MetricsRecorder,
	logger *slog.Logger,
	primaryPinLimit int,
) *Service {
	if primaryPinLimit <= 0 {
		primaryPinLimit = DefaultPrimaryPinLimit
	}
	return &Service{
		repo:            repo,
		countCache:      countCache,
		metrics:         metrics,
		logger:          logger,
		primaryPinLimit: primaryPinLimit,
	}
}

// LimitedCount は条件に合致する件数を返す。100件以下なら正確な件数、
// 100件を超える場合はnil（UI側は「100+」と表示する）を返す。
// 条件が完全に空の場合はクエリを発行せずnilを返す。
func (s *Service) LimitedCount(ctx context.Context, p model.FilterParams) (*int, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	norm := normalizeGeo(p)
	if norm.IsEmpty() {
		// 条件なしの総件数に意味はないため、データストアには触れない
		return nil, nil
	}
	s.recordSearch("count")

	hash := query.GenerateQueryHash(norm)
	if s.countCache != nil {
		if count, ok := s.countCache.Get(ctx, hash); ok {
			s.recordCacheHit()
			return count, nil
		}
		s.recordCacheMiss()
	}

	probed, err := s.repo.CountLimited(ctx, norm)
	if err != nil {
		return nil, err
	}

	var count *int
	if probed <= query.CountExactThreshold {
		c := probed
		count = &c
	} else {
		s.recordOverflow()
	}
	if s.countCache != nil {
		s.countCache.Set(ctx, hash, count)
	}
	return count, nil
}

// ListPaginated は条件に合致する物件の1ページ分を返す。
// カーソルはページ番号の不透明な符号化で、不正なカーソルは先頭ページに倒す。
// 1ページ目が実効件数まで埋まらず集合条件が指定されている場合は、
// 条件を緩和した近似候補で残りを補充する。補充分にはnear-matchバッジが付く。
func (s *Service) ListPaginated(ctx context.Context, p model.FilterParams) (*ListResult, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	norm := normalizeGeo(p)
	if norm.HasQuery() && !norm.HasBounds() {
		return nil, model.NewBoundsRequiredError()
	}
	s.recordSearch("list")

	page := norm.Page
	if norm.Cursor != "" {
		page = query.DecodeCursor(norm.Cursor)
	}
	eff := query.EffectiveListLimit(norm, norm.Limit)

	docs, err := s.repo.List(ctx, norm, page, norm.Limit)
	if err != nil {
		return nil, err
	}

	hasNext := len(docs) > eff
	if hasNext {
		docs = docs[:eff]
	}
	items := TransformToListItems(docs, false)

	// 先頭ページの不足分を近似候補で補充する。補充の失敗は一覧を失敗させない
	if page == 0 && !hasNext && len(docs) < eff && norm.HasRelaxableFilters() {
		excludeIDs := make([]string, 0, len(docs))
		for _, doc := range docs {
			excludeIDs = append(excludeIDs, doc.ID)
		}
		relaxedDocs, err := s.repo.ListRelaxed(ctx, norm, excludeIDs, eff-len(docs))
		if err != nil {
			s.logger.Warn("近似候補の補充に失敗しました",
				slog.String("error", err.Error()),
			)
		} else {
			items = append(items, TransformToListItems(relaxedDocs, true)...)
		}
	}

	result := &ListResult{Items: items, HasNextPage: hasNext}
	if hasNext {
		result.NextCursor = query.EncodeCursor(page + 1)
	}
	return result, nil
}

// MapListings は表示範囲内の地図用物件を返す。表示範囲は必須で、
// 半径指定は等価な表示範囲へ変換したうえで距離で絞り込む。
// 2値目のTruncatedは結果が上限で切り詰められたことを示す。
func (s *Service) MapListings(ctx context.Context, p model.FilterParams) (*MapResult, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	norm := normalizeGeo(p)
	if !norm.HasBounds() {
		return nil, model.NewBoundsRequiredError()
	}
	s.recordSearch("map")

	listings, truncated, err := s.repo.MapListings(ctx, norm)
	if err != nil {
		return nil, err
	}

	// 矩形で取得してから円でふるい落とす
	if p.HasRadius() {
		listings = filterByRadius(listings, *p.CenterLat, *p.CenterLng, *p.RadiusKm)
	}
	return &MapResult{Listings: listings, Truncated: truncated}, nil
}

// MapData は地図描画用レスポンスを構築する。includeDensityが真の場合は
// 件数プローブを追加で実行して密度情報を付与する。
// 密度の取得失敗は地図本体を失敗させず、省略にとどめる。
func (s *Service) MapData(ctx context.Context, p model.FilterParams, includeDensity bool) (*model.MapResponse, error) {
	result, err := s.MapListings(ctx, p)
	if err != nil {
		return nil, err
	}
	resp := TransformToMapResponse(result.Listings, s.primaryPinLimit)

	if includeDensity {
		count, err := s.LimitedCount(ctx, p)
		if err != nil {
			s.logger.Warn("密度情報の取得に失敗しました",
				slog.String("error", err.Error()),
			)
		} else {
			listingCount := query.CountProbeLimit // 100件超はプローブ上限の101で表す
			if count != nil {
				listingCount = *count
			}
			resp.Density = &model.TileDensity{
				ListingCount:  listingCount,
				ReturnedCount: len(result.Listings),
			}
		}
	}
	return resp, nil
}

// normalizeGeo は半径指定を表示範囲へ変換し、表示範囲を上限内へ丸める。
// 大きすぎる範囲は拒否ではなく中心を保って縮める。
func normalizeGeo(p model.FilterParams) model.FilterParams {
	if p.Bounds == nil && p.HasRadius() {
		b := geo.BoundsFromRadius(*p.CenterLat, *p.CenterLng, *p.RadiusKm)
		p.Bounds = &b
	} else if p.Bounds != nil {
		b := geo.ClampBounds(*p.Bounds)
		p.Bounds = &b
	}
	return p
}

// filterByRadius は中心からの距離がradiusKm以内の物件だけを残す。
func filterByRadius(listings []model.MapListing, centerLat, centerLng, radiusKm float64) []model.MapListing {
	filtered := make([]model.MapListing, 0, len(listings))
	for _, l := range listings {
		if geo.DistanceKm(centerLat, centerLng, l.Lat, l.Lng) <= radiusKm {
			filtered = append(filtered, l)
		}
	}
	return filtered
}

func (s *Service) recordSearch(operation string) {
	if s.metrics != nil {
		s.metrics.RecordSearch(operation)
	}
}

func (s *Service) recordCacheHit() {
	if s.metrics != nil {
		s.metrics.RecordCountCacheHit()
	}
}

func (s *Service) recordCacheMiss() {
	if s.metrics != nil {
		s.metrics.RecordCountCacheMiss()
	}
}

func (s *Service) recordOverflow() {
	if s.metrics != nil {
		s.metrics.RecordCountOverflow()
	}
}
