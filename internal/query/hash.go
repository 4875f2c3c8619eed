package query

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/mmcloughlin/geohash"
	"golang.org/x/text/unicode/norm"

	"github.com/hitoshi/roomsearch/internal/model"
)

// boundsHashPrecision は表示範囲の量子化に使うgeohash精度。
// 精度7は約150mのセルに相当し、ほぼ同一のビューポートを
// 同じキャッシュキーに畳み込む。
const boundsHashPrecision = 7

// GenerateQueryHash は検索条件の16桁16進数フィンガープリントを返す。
// 決定的で、集合の順序に依存せず、テキストの大小文字・全半角を区別しない。
// 表示範囲はgeohashグリッドに量子化されるため、微小に異なるビューポートは
// 同じハッシュになる。キャッシュ無効化キーとして使用するものであり、
// セキュリティトークンではない。
// ページネーション位置（Cursor/Page/Limit）はハッシュに含まれない。
func GenerateQueryHash(p model.FilterParams) string {
	return hashParts(canonicalParts(p, true))
}

// GenerateFilterKey は表示範囲・半径を除いた絞り込み条件のみのキーを返す。
// タイルクライアントがフィルタ変更（ビューポート移動ではなく）を
// 検出するために使用する。
func GenerateFilterKey(p model.FilterParams) string {
	return hashParts(canonicalParts(p, false))
}

func hashParts(parts []string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])[:16]
}

// canonicalParts は検索条件を正規形のkey=value列に変換する。
// 未指定・デフォルト値のフィールドは出力に含めないため、
// 省略された条件と明示的なデフォルト指定は同じハッシュになる。
func canonicalParts(p model.FilterParams, includeGeo bool) []string {
	var parts []string

	if q := NormalizeText(p.Query); q != "" {
		parts = append(parts, "q="+q)
	}
	if p.MinPrice != nil {
		parts = append(parts, fmt.Sprintf("minprice=%d", *p.MinPrice))
	}
	if p.MaxPrice != nil {
		parts = append(parts, fmt.Sprintf("maxprice=%d", *p.MaxPrice))
	}
	if p.RoomType != "" {
		parts = append(parts, "room="+string(p.RoomType))
	}
	if p.LeaseMonths != nil {
		parts = append(parts, fmt.Sprintf("lease=%d", *p.LeaseMonths))
	}
	if p.MoveInDate != nil {
		parts = append(parts, "movein="+p.MoveInDate.Format("2006-01-02"))
	}
	if s := canonicalSet(p.Amenities); s != "" {
		parts = append(parts, "amenities="+s)
	}
	if s := canonicalSet(p.HouseRules); s != "" {
		parts = append(parts, "rules="+s)
	}
	if s := canonicalSet(p.Languages); s != "" {
		parts = append(parts, "langs="+s)
	}
	if p.GenderPreference != "" && p.GenderPreference != model.GenderAny {
		parts = append(parts, "gender="+string(p.GenderPreference))
	}
	if p.Sort != "" && p.Sort != model.SortRecommended {
		parts = append(parts, "sort="+string(p.Sort))
	}

	if includeGeo {
		if p.Bounds != nil {
			b := *p.Bounds
			parts = append(parts, "bounds="+
				geohash.EncodeWithPrecision(b.MinLat, b.MinLng, boundsHashPrecision)+","+
				geohash.EncodeWithPrecision(b.MaxLat, b.MaxLng, boundsHashPrecision))
		}
		if p.HasRadius() {
			parts = append(parts, fmt.Sprintf("radius=%s,%.1f",
				geohash.EncodeWithPrecision(*p.CenterLat, *p.CenterLng, boundsHashPrecision),
				*p.RadiusKm))
		}
	}

	sort.Strings(parts)
	return parts
}

// canonicalSet は集合条件を正規形（小文字化・重複排除・ソート）の
// カンマ区切り文字列にする。
func canonicalSet(values []string) string {
	if len(values) == 0 {
		return ""
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		nv := NormalizeText(v)
		if nv == "" {
			continue
		}
		if _, ok := seen[nv]; ok {
			continue
		}
		seen[nv] = struct{}{}
		out = append(out, nv)
	}
	sort.Strings(out)
	return strings.Join(out, ",")
}

// NormalizeText は検索テキストをNFKC正規化・小文字化・トリムする。
// 全角/半角カナや英数の表記揺れを吸収する。
func NormalizeText(s string) string {
	return strings.ToLower(strings.TrimSpace(norm.NFKC.String(s)))
}
