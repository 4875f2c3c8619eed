// Package model はドメインモデルを定義する。
package model

// MapMode は地図の描画モードを表す。
type MapMode string

const (
	// MapModePins は物件を個別ピンで描画するモード。閾値未満の密度で使用する。
	MapModePins MapMode = "pins"
	// MapModeGeoJSON はGeoJSONとして返し、クライアント側クラスタリングに委ねるモード。
	MapModeGeoJSON MapMode = "geojson"
)

// PinTier はピンの表示優先度を表す。
type PinTier string

const (
	// PinTierPrimary は目立たせて描画するピン。
	PinTierPrimary PinTier = "primary"
	// PinTierMini は控えめに描画するピン。
	PinTierMini PinTier = "mini"
)

// MapPin は描画可能な地図ピンを表す。
// 同一座標に複数物件が重なる場合は1本のピンにまとめ、StackCountに件数を持つ。
// 単独の物件ではStackCountは0でJSONから省略される。
type MapPin struct {
	ID            string  `json:"id"`
	Lat           float64 `json:"lat"`
	Lng           float64 `json:"lng"`
	PricePerMonth int     `json:"price_per_month"`
	Tier          PinTier `json:"tier"`
	StackCount    int     `json:"stack_count,omitempty"`
}

// GeoJSONGeometry はGeoJSONのPointジオメトリを表す。
// 座標の並びはGeoJSON規約に従い [lng, lat]。内部表現のlat/lng順とは逆になる。
type GeoJSONGeometry struct {
	Type        string     `json:"type"`
	Coordinates [2]float64 `json:"coordinates"`
}

// GeoJSONFeature はGeoJSONのFeatureを表す。
type GeoJSONFeature struct {
	Type       string                 `json:"type"`
	Geometry   GeoJSONGeometry        `json:"geometry"`
	Properties map[string]interface{} `json:"properties"`
}

// GeoJSONFeatureCollection はGeoJSONのFeatureCollectionを表す。
type GeoJSONFeatureCollection struct {
	Type     string           `json:"type"`
	Features []GeoJSONFeature `json:"features"`
}

// TileDensity はタイル内の物件密度情報を表す。
// ListingCountは100件以下なら正確な件数、100件超の場合は101を示す。
type TileDensity struct {
	ListingCount  int `json:"listing_count"`
	ReturnedCount int `json:"returned_count"`
}

// MapResponse は地図描画用レスポンスを表す。
// GeoJSONは常に含まれる。Pinsは物件数がクラスタリング閾値未満の場合のみ含まれ、
// 閾値以上ではnilになる。この判定が疎/密の描画切り替えの唯一の基準となる。
type MapResponse struct {
	Listings []MapListing              `json:"listings"`
	Mode     MapMode                   `json:"mode"`
	Pins     []MapPin                  `json:"pins,omitempty"`
	GeoJSON  *GeoJSONFeatureCollection `json:"geojson"`
	Density  *TileDensity              `json:"density,omitempty"`
}
