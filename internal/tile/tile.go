// Package tile はWebメルカトル図法のスリッピーマップタイル計算を提供する。
// タイルは {zoom}/{x}/{y} で一意に識別され、1ズームレベルにおける
// 地図物件のキャッシュ単位となる。
package tile

import (
	"fmt"
	"math"

	"github.com/hitoshi/roomsearch/internal/model"
)

const (
	// MinZoom はズームレベルの下限。
	MinZoom = 0
	// MaxZoom はズームレベルの上限。
	MaxZoom = 22
)

// Key はタイルの識別子を表す。
type Key struct {
	Zoom int
	X    int
	Y    int
}

// String は "zoom/x/y" 形式の文字列表現を返す。
func (k Key) String() string {
	return fmt.Sprintf("%d/%d/%d", k.Zoom, k.X, k.Y)
}

// Valid はタイル座標がズームレベルに対して有効かどうかを返す。
func (k Key) Valid() bool {
	if k.Zoom < MinZoom || k.Zoom > MaxZoom {
		return false
	}
	n := 1 << k.Zoom
	return k.X >= 0 && k.X < n && k.Y >= 0 && k.Y < n
}

// ZoomForBounds は表示範囲の経度幅からズームレベルを算出する。
// floor(clamp(log2(360/lngSpan), 0, 22)) で求める。
func ZoomForBounds(b model.ViewportBounds) int {
	span := b.LngSpan()
	if span <= 0 {
		return MaxZoom
	}

	z := math.Log2(360.0 / span)
	if z < MinZoom {
		z = MinZoom
	}
	if z > MaxZoom {
		z = MaxZoom
	}
	return int(math.Floor(z))
}

// FromLatLng は座標を含むタイルのKeyを返す。
// 経度はXへ線形に、緯度はYへメルカトル射影でマッピングされる。
func FromLatLng(lat, lng float64, zoom int) Key {
	if zoom < MinZoom {
		zoom = MinZoom
	}
	if zoom > MaxZoom {
		zoom = MaxZoom
	}
	n := 1 << zoom

	x := int(math.Floor((lng + 180.0) / 360.0 * float64(n)))

	latRad := lat * math.Pi / 180.0
	y := int(math.Floor((1.0 - math.Log(math.Tan(latRad)+1.0/math.Cos(latRad))/math.Pi) / 2.0 * float64(n)))

	// 端の座標（lng=180、緯度の限界値）はタイル範囲内に収める
	if x < 0 {
		x = 0
	}
	if x >= n {
		x = n - 1
	}
	if y < 0 {
		y = 0
	}
	if y >= n {
		y = n - 1
	}

	return Key{Zoom: zoom, X: x, Y: y}
}

// Cover は表示範囲を覆うタイルのKey一覧を返す。
// 180度線をまたぐ範囲では、X方向を右端まで進んだ後0に折り返して列挙する。
func Cover(b model.ViewportBounds, zoom int) []Key {
	if zoom < MinZoom {
		zoom = MinZoom
	}
	if zoom > MaxZoom {
		zoom = MaxZoom
	}
	n := 1 << zoom

	nw := FromLatLng(b.MaxLat, b.MinLng, zoom)
	se := FromLatLng(b.MinLat, b.MaxLng, zoom)

	var xs []int
	if b.WrapsAntimeridian() && se.X < nw.X {
		for x := nw.X; x < n; x++ {
			xs = append(xs, x)
		}
		for x := 0; x <= se.X; x++ {
			xs = append(xs, x)
		}
	} else {
		for x := nw.X; x <= se.X; x++ {
			xs = append(xs, x)
		}
	}

	var keys []Key
	for y := nw.Y; y <= se.Y; y++ {
		for _, x := range xs {
			keys = append(keys, Key{Zoom: zoom, X: x, Y: y})
		}
	}
	return keys
}

// KeyBounds はタイルが覆う地理的範囲を返す。
// タイル単位で地図クエリを発行する際の範囲条件に使用する。
func KeyBounds(k Key) model.ViewportBounds {
	n := float64(int(1) << k.Zoom)

	minLng := float64(k.X)/n*360.0 - 180.0
	maxLng := float64(k.X+1)/n*360.0 - 180.0

	maxLat := tileYToLat(float64(k.Y), n)
	minLat := tileYToLat(float64(k.Y+1), n)

	return model.ViewportBounds{
		MinLat: minLat,
		MaxLat: maxLat,
		MinLng: minLng,
		MaxLng: maxLng,
	}
}

// tileYToLat はタイルY座標（北端）を緯度に変換する。
func tileYToLat(y, n float64) float64 {
	rad := math.Atan(math.Sinh(math.Pi * (1.0 - 2.0*y/n)))
	return rad * 180.0 / math.Pi
}
