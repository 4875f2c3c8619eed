package geo

import (
	"math"
	"testing"

	"github.com/hitoshi/roomsearch/internal/model"
)

// almostEqual は浮動小数点の近似比較を行う。
func almostEqual(a, b, eps float64) bool {
	return math.Abs(a-b) < eps
}

// TestDistanceKm_IdenticalPoints は同一座標の距離が正確に0になることを確認する。
func TestDistanceKm_IdenticalPoints(t *testing.T) {
	d := DistanceKm(35.6762, 139.6503, 35.6762, 139.6503)
	if d != 0 {
		t.Errorf("DistanceKm(same point) = %v, want exactly 0", d)
	}
}

// TestDistanceKm_Antimeridian は180度線をまたぐ2点の距離が
// 近距離として計算されることを確認する。地球を一周する約24,000kmの
// 誤計算にならないことが重要。
func TestDistanceKm_Antimeridian(t *testing.T) {
	d := DistanceKm(35.0, 179.9, 35.0, -179.9)
	if d >= 20 {
		t.Errorf("DistanceKm(179.9, -179.9) = %v, want < 20km", d)
	}
	if d <= 10 {
		t.Errorf("DistanceKm(179.9, -179.9) = %v, want > 10km", d)
	}
}

// TestDistanceKm_KnownDistance は既知の都市間距離（東京-大阪）で
// ハーバーサイン計算の妥当性を確認する。
func TestDistanceKm_KnownDistance(t *testing.T) {
	// 東京駅 - 大阪駅: 約400km
	d := DistanceKm(35.6762, 139.6503, 34.6937, 135.5023)
	if d < 380 || d > 410 {
		t.Errorf("DistanceKm(Tokyo, Osaka) = %v, want 380-410km", d)
	}
}

// TestDistanceKm_Symmetric は距離計算が対称であることを確認する。
func TestDistanceKm_Symmetric(t *testing.T) {
	d1 := DistanceKm(35.0, 139.0, 34.0, 135.0)
	d2 := DistanceKm(34.0, 135.0, 35.0, 139.0)
	if !almostEqual(d1, d2, 1e-9) {
		t.Errorf("DistanceKm is not symmetric: %v != %v", d1, d2)
	}
}

// TestClampBounds_WithinLimits は限界内の範囲が変更されないことを確認する。
func TestClampBounds_WithinLimits(t *testing.T) {
	b := model.ViewportBounds{MinLat: 35.0, MaxLat: 36.0, MinLng: 139.0, MaxLng: 140.0}
	got := ClampBounds(b)
	if got != b {
		t.Errorf("ClampBounds(%+v) = %+v, want unchanged", b, got)
	}
}

// TestClampBounds_LatSpanCap は緯度幅が上限を超えた場合に
// 中心を保ったまま縮められることを確認する。
func TestClampBounds_LatSpanCap(t *testing.T) {
	b := model.ViewportBounds{MinLat: 25.0, MaxLat: 45.0, MinLng: 139.0, MaxLng: 140.0}
	got := ClampBounds(b)

	if !almostEqual(got.LatSpan(), MaxLatSpan, 1e-9) {
		t.Errorf("LatSpan = %v, want %v", got.LatSpan(), MaxLatSpan)
	}
	center := (got.MinLat + got.MaxLat) / 2
	if !almostEqual(center, 35.0, 1e-9) {
		t.Errorf("center = %v, want 35.0", center)
	}
}

// TestClampBounds_MercatorLatLimit は緯度がWebメルカトルの限界に
// クランプされることを確認する。
func TestClampBounds_MercatorLatLimit(t *testing.T) {
	b := model.ViewportBounds{MinLat: 80.0, MaxLat: 89.0, MinLng: 0.0, MaxLng: 1.0}
	got := ClampBounds(b)
	if got.MaxLat != MaxMercatorLat {
		t.Errorf("MaxLat = %v, want %v", got.MaxLat, MaxMercatorLat)
	}
}

// TestClampBounds_WrappedLngSpanCap は180度線をまたぐ範囲の経度幅キャップが
// ラップを維持したまま適用されることを確認する。
func TestClampBounds_WrappedLngSpanCap(t *testing.T) {
	// span 20度（170 -> -170、180度線をまたぐ）
	b := model.ViewportBounds{MinLat: 35.0, MaxLat: 36.0, MinLng: 170.0, MaxLng: -170.0}
	got := ClampBounds(b)

	if !almostEqual(got.LngSpan(), MaxLngSpan, 1e-9) {
		t.Errorf("LngSpan = %v, want %v", got.LngSpan(), MaxLngSpan)
	}
	if !got.WrapsAntimeridian() {
		t.Errorf("clamped bounds should still wrap the antimeridian: %+v", got)
	}
}

// TestPadBounds_Default はデフォルト20%のパディングで全体幅が20%広がることを確認する。
func TestPadBounds_Default(t *testing.T) {
	b := model.ViewportBounds{MinLat: 35.0, MaxLat: 36.0, MinLng: 139.0, MaxLng: 140.0}
	got := PadBounds(b, 0.2)

	if !almostEqual(got.LatSpan(), 1.2, 1e-9) {
		t.Errorf("LatSpan = %v, want 1.2", got.LatSpan())
	}
	if !almostEqual(got.LngSpan(), 1.2, 1e-9) {
		t.Errorf("LngSpan = %v, want 1.2", got.LngSpan())
	}
	if !almostEqual(got.MinLat, 34.9, 1e-9) || !almostEqual(got.MaxLat, 36.1, 1e-9) {
		t.Errorf("lat bounds = %v..%v, want 34.9..36.1", got.MinLat, got.MaxLat)
	}
}

// TestPadBounds_ExceedsSpanCap はパディング後の幅が上限を超える場合に
// 中心を保ったまま上限幅へ切り詰められることを確認する。
func TestPadBounds_ExceedsSpanCap(t *testing.T) {
	// span 9.5 + 20% = 11.4 > MaxLatSpan(10)
	b := model.ViewportBounds{MinLat: 30.0, MaxLat: 39.5, MinLng: 135.0, MaxLng: 144.5}
	got := PadBounds(b, 0.2)

	if !almostEqual(got.LatSpan(), MaxLatSpan, 1e-9) {
		t.Errorf("LatSpan = %v, want %v", got.LatSpan(), MaxLatSpan)
	}
	center := (got.MinLat + got.MaxLat) / 2
	if !almostEqual(center, 34.75, 1e-9) {
		t.Errorf("lat center = %v, want 34.75", center)
	}
}

// TestPadBounds_CreatesWrap は180度線付近のパディングで
// ラップアラウンドが正しく発生することを確認する。
func TestPadBounds_CreatesWrap(t *testing.T) {
	b := model.ViewportBounds{MinLat: 35.0, MaxLat: 36.0, MinLng: 179.0, MaxLng: 179.9}
	got := PadBounds(b, 0.5)

	if !got.WrapsAntimeridian() {
		t.Errorf("padded bounds should wrap the antimeridian: %+v", got)
	}
	if !almostEqual(got.LngSpan(), 1.35, 1e-9) {
		t.Errorf("LngSpan = %v, want 1.35", got.LngSpan())
	}
}

// TestBoundsFromRadius は半径から生成された範囲が中心対称で
// 半径に見合う幅を持つことを確認する。
func TestBoundsFromRadius(t *testing.T) {
	b := BoundsFromRadius(35.0, 139.0, 10.0)

	wantLatSpan := 2 * 10.0 / kmPerDegreeLat
	if !almostEqual(b.LatSpan(), wantLatSpan, 1e-6) {
		t.Errorf("LatSpan = %v, want %v", b.LatSpan(), wantLatSpan)
	}
	center := (b.MinLat + b.MaxLat) / 2
	if !almostEqual(center, 35.0, 1e-9) {
		t.Errorf("lat center = %v, want 35.0", center)
	}
	if b.WrapsAntimeridian() {
		t.Errorf("bounds should not wrap: %+v", b)
	}
	// 経度幅は緯度35度でのcos補正により緯度幅より広い
	if b.LngSpan() <= b.LatSpan() {
		t.Errorf("LngSpan (%v) should be wider than LatSpan (%v) at lat 35", b.LngSpan(), b.LatSpan())
	}
}

// TestNormalizeLng は経度正規化の境界値を確認する。
func TestNormalizeLng(t *testing.T) {
	tests := []struct {
		name string
		in   float64
		want float64
	}{
		{"in range", 139.0, 139.0},
		{"over 180", 190.0, -170.0},
		{"under -180", -190.0, 170.0},
		{"zero", 0.0, 0.0},
		{"wrap multiple", 540.0, 180.0 - 360.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeLng(tt.in)
			if !almostEqual(got, tt.want, 1e-9) {
				t.Errorf("NormalizeLng(%v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}
