package search

import (
	"sort"

	"github.com/hitoshi/roomsearch/internal/model"
)

const (
	// ClusterThreshold は地図描画モードの切り替え閾値。
	// 物件数がこの値以上ならクライアント側クラスタリング用のGeoJSONのみ、
	// 未満なら個別ピンも返す。ちょうど閾値の場合はgeojson側に倒れる。
	ClusterThreshold = 50

	// DefaultPrimaryPinLimit はprimaryティアのピン数の既定上限。
	DefaultPrimaryPinLimit = 15
)

// DetermineMode は物件数から地図の描画モードを決定する。
func DetermineMode(count int) model.MapMode {
	if count < ClusterThreshold {
		return model.MapModePins
	}
	return model.MapModeGeoJSON
}

// TransformToListItem は検索ドキュメントを一覧カード用の形へ変換する。
// imageはimagesの先頭要素で、なければ省略される。バッジが1つもない
// 場合はBadgesをnilのままにし、JSONでは空配列ではなく省略になる。
func TransformToListItem(doc model.SearchDocument, nearMatch bool) model.ListItem {
	item := model.ListItem{
		ID:                doc.ID,
		Title:             doc.Title,
		PricePerMonth:     doc.PricePerMonth,
		RoomType:          doc.RoomType,
		AddressCity:       doc.AddressCity,
		AddressPrefecture: doc.AddressPrefecture,
		ReviewScore:       doc.ReviewScore,
		ReviewCount:       doc.ReviewCount,
		ListingCreatedAt:  doc.ListingCreatedAt,
	}
	if len(doc.Images) > 0 {
		item.Image = doc.Images[0]
	}

	var badges []string
	if nearMatch {
		badges = append(badges, model.BadgeNearMatch)
	}
	if doc.TotalSlots > 1 {
		badges = append(badges, model.BadgeMultiRoom)
	}
	item.Badges = badges
	return item
}

// TransformToListItems は複数の検索ドキュメントをまとめて変換する。
func TransformToListItems(docs []model.SearchDocument, nearMatch bool) []model.ListItem {
	items := make([]model.ListItem, 0, len(docs))
	for _, doc := range docs {
		items = append(items, TransformToListItem(doc, nearMatch))
	}
	return items
}

// TransformToGeoJSON は物件をGeoJSONのFeatureCollectionへ変換する。
// 座標の並びはGeoJSON規約どおり[lng, lat]で、内部のlat/lng順とは逆になる。
func TransformToGeoJSON(listings []model.MapListing) *model.GeoJSONFeatureCollection {
	features := make([]model.GeoJSONFeature, 0, len(listings))
	for _, l := range listings {
		features = append(features, model.GeoJSONFeature{
			Type: "Feature",
			Geometry: model.GeoJSONGeometry{
				Type:        "Point",
				Coordinates: [2]float64{l.Lng, l.Lat},
			},
			Properties: map[string]interface{}{
				"id":              l.ID,
				"title":           l.Title,
				"price_per_month": l.PricePerMonth,
				"room_type":       string(l.RoomType),
			},
		})
	}
	return &model.GeoJSONFeatureCollection{
		Type:     "FeatureCollection",
		Features: features,
	}
}

// coordKey は座標の完全一致でピンを束ねるためのキー。
type coordKey struct {
	lat float64
	lng float64
}

// TransformToPins は物件を地図ピンへ変換する。
// 同一座標の物件は1本のピンに束ね、StackCountに件数を持たせる
// （単独の場合は0のままで省略）。束の代表はおすすめスコアが最も高い
// 物件で、表示価格は束の中の最安値。ピン全体をおすすめスコア降順
// （同点は家賃昇順、ID昇順）で並べ、上位primaryLimit本をprimary、
// 残りをminiとする。
func TransformToPins(listings []model.MapListing, primaryLimit int) []model.MapPin {
	if primaryLimit <= 0 {
		primaryLimit = DefaultPrimaryPinLimit
	}

	groups := make(map[coordKey][]model.MapListing)
	order := make([]coordKey, 0, len(listings))
	for _, l := range listings {
		key := coordKey{lat: l.Lat, lng: l.Lng}
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], l)
	}

	type rankedPin struct {
		pin   model.MapPin
		score float64
	}
	ranked := make([]rankedPin, 0, len(order))
	for _, key := range order {
		group := groups[key]
		top := group[0]
		minPrice := top.PricePerMonth
		for _, l := range group[1:] {
			if preferAsRepresentative(l, top) {
				top = l
			}
			if l.PricePerMonth < minPrice {
				minPrice = l.PricePerMonth
			}
		}
		pin := model.MapPin{
			ID:            top.ID,
			Lat:           key.lat,
			Lng:           key.lng,
			PricePerMonth: minPrice,
			Tier:          model.PinTierMini,
		}
		if len(group) > 1 {
			pin.StackCount = len(group)
		}
		ranked = append(ranked, rankedPin{pin: pin, score: top.RecommendScore})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		if ranked[i].pin.PricePerMonth != ranked[j].pin.PricePerMonth {
			return ranked[i].pin.PricePerMonth < ranked[j].pin.PricePerMonth
		}
		return ranked[i].pin.ID < ranked[j].pin.ID
	})

	pins := make([]model.MapPin, 0, len(ranked))
	for i, r := range ranked {
		if i < primaryLimit {
			r.pin.Tier = model.PinTierPrimary
		}
		pins = append(pins, r.pin)
	}
	return pins
}

// preferAsRepresentative はlが束の代表としてtopより優先されるかどうかを返す。
func preferAsRepresentative(l, top model.MapListing) bool {
	if l.RecommendScore != top.RecommendScore {
		return l.RecommendScore > top.RecommendScore
	}
	if l.PricePerMonth != top.PricePerMonth {
		return l.PricePerMonth < top.PricePerMonth
	}
	return l.ID < top.ID
}

// TransformToMapResponse は地図描画用レスポンスを構築する。
// GeoJSONは常に含まれる。Pinsは物件数が閾値未満の場合のみ含まれ、
// この有無が疎/密の描画切り替えの唯一の基準になる。
func TransformToMapResponse(listings []model.MapListing, primaryLimit int) *model.MapResponse {
	if listings == nil {
		listings = []model.MapListing{}
	}
	resp := &model.MapResponse{
		Listings: listings,
		Mode:     DetermineMode(len(listings)),
		GeoJSON:  TransformToGeoJSON(listings),
	}
	if len(listings) < ClusterThreshold {
		resp.Pins = TransformToPins(listings, primaryLimit)
	}
	return resp
}
