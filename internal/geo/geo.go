// Package geo は表示範囲のクランプ・パディングと距離計算を提供する。
// 経度は180度線（日付変更線）をまたぐ範囲を扱えるよう、
// すべての演算でラップアラウンドを考慮する。
package geo

import (
	"math"

	"github.com/hitoshi/roomsearch/internal/model"
)

const (
	// MaxLatSpan は表示範囲の緯度方向の上限幅（度）。
	MaxLatSpan = 10.0
	// MaxLngSpan は表示範囲の経度方向の上限幅（度）。
	MaxLngSpan = 10.0
	// MaxMercatorLat はWebメルカトル図法で表現できる緯度の上限。
	MaxMercatorLat = 85.05112878

	earthRadiusKm  = 6371.0
	kmPerDegreeLat = 111.32
)

// ClampBounds は表示範囲を世界座標の限界と上限幅に収める。
// 幅が上限を超える場合は中心を保ったまま上限幅に縮める。値は切り詰められ、
// 黙って破棄されることはない。
func ClampBounds(b model.ViewportBounds) model.ViewportBounds {
	if b.MinLat < -MaxMercatorLat {
		b.MinLat = -MaxMercatorLat
	}
	if b.MaxLat > MaxMercatorLat {
		b.MaxLat = MaxMercatorLat
	}
	if b.LatSpan() > MaxLatSpan {
		center := (b.MinLat + b.MaxLat) / 2
		b.MinLat = center - MaxLatSpan/2
		b.MaxLat = center + MaxLatSpan/2
	}

	b.MinLng = NormalizeLng(b.MinLng)
	b.MaxLng = NormalizeLng(b.MaxLng)
	if span := b.LngSpan(); span > MaxLngSpan {
		center := NormalizeLng(b.MinLng + span/2)
		b.MinLng = NormalizeLng(center - MaxLngSpan/2)
		b.MaxLng = NormalizeLng(center + MaxLngSpan/2)
	}

	return b
}

// PadBounds は表示範囲を指定割合だけ広げてからクランプする。
// fraction=0.2で全体の幅が20%広がる（各辺に10%ずつ）。
// 画面外のすぐ近くにある物件を先読みするために使用する。
func PadBounds(b model.ViewportBounds, fraction float64) model.ViewportBounds {
	if fraction <= 0 {
		return ClampBounds(b)
	}
	latPad := b.LatSpan() * fraction / 2
	lngPad := b.LngSpan() * fraction / 2
	b.MinLat -= latPad
	b.MaxLat += latPad
	b.MinLng = NormalizeLng(b.MinLng - lngPad)
	b.MaxLng = NormalizeLng(b.MaxLng + lngPad)
	return ClampBounds(b)
}

// DistanceKm は2点間の大円距離（km）をハーバーサイン公式で返す。
// 同一座標では正確に0を返す。経度差は周期的に扱われるため、
// 180度線をまたぐ2点でも正しい近距離が得られる。
func DistanceKm(lat1, lng1, lat2, lng2 float64) float64 {
	if lat1 == lat2 && lng1 == lng2 {
		return 0
	}

	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lng2 - lng1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusKm * c
}

// BoundsFromRadius は中心座標と半径（km）から表示範囲を構成する。
// 半径検索の条件を範囲条件に変換するために使用する。
// 得られた範囲は外接矩形なので、正確な円形絞り込みには
// DistanceKmによる後段フィルタを併用すること。
func BoundsFromRadius(lat, lng, radiusKm float64) model.ViewportBounds {
	dLat := radiusKm / kmPerDegreeLat

	c := math.Cos(lat * math.Pi / 180)
	// 極付近ではcosが0に近づき経度幅が発散するため下限を設ける
	if c < 0.01 {
		c = 0.01
	}
	dLng := radiusKm / (kmPerDegreeLat * c)

	return ClampBounds(model.ViewportBounds{
		MinLat: lat - dLat,
		MaxLat: lat + dLat,
		MinLng: NormalizeLng(lng - dLng),
		MaxLng: NormalizeLng(lng + dLng),
	})
}

// NormalizeLng は経度を[-180, 180)の範囲に正規化する。
func NormalizeLng(lng float64) float64 {
	l := math.Mod(lng+180, 360)
	if l < 0 {
		l += 360
	}
	return l - 180
}
