// Package query は検索条件の正規化と、パラメータ化SQLへのコンパイルを担う。
// ユーザー入力は必ずプレースホルダ経由でバインドし、SQL文字列へは
// 連結しない。
package query

import (
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/hitoshi/roomsearch/internal/model"
)

const (
	// DefaultPageSize はlimit未指定時の1ページ件数。
	DefaultPageSize = 24

	// MaxPageSize はlimitの上限。
	MaxPageSize = 100

	// MaxUnboundedResults は地理条件なし検索の結果上限。
	// 表示範囲もキーワードもない一覧は深いページングを許さない。
	MaxUnboundedResults = 48

	// CountExactThreshold を超える件数は正確な数値を返さない。
	CountExactThreshold = 100

	// CountProbeLimit は件数プローブの走査上限。
	// CountExactThreshold+1行まで数えれば「100件超」と判定できる。
	CountProbeLimit = CountExactThreshold + 1

	// MaxMapResults は地図用クエリの結果上限。
	MaxMapResults = 200

	// StatementTimeoutMillis は検索SQL1文あたりの実行時間上限。
	StatementTimeoutMillis = 5000
)

// searchDocColumns はsearch_documentsの全列。SELECT句で共有する。
const searchDocColumns = `id, owner_id, title, description_text, price_per_month, room_type,
		lease_months, move_in_date, amenities, house_rules, languages, gender_preference,
		lat, lng, address_city, address_prefecture, images, total_slots,
		view_count, review_count, review_score, recommend_score, listing_created_at, refreshed_at`

// mapColumns は地図描画に必要な最小限の列。
const mapColumns = `id, lat, lng, price_per_month, room_type, title, recommend_score, listing_created_at`

// builder はWHERE句の条件とバインド引数を組み立てる。
type builder struct {
	conds    []string
	args     []interface{}
	argIndex int
}

func newBuilder() *builder {
	return &builder{argIndex: 1}
}

// add はプレースホルダ1個の条件を追加する。formatは$%dを1つ含むこと。
func (b *builder) add(format string, arg interface{}) {
	b.conds = append(b.conds, fmt.Sprintf(format, b.argIndex))
	b.args = append(b.args, arg)
	b.argIndex++
}

// add2 はプレースホルダ2個の条件を追加する。
func (b *builder) add2(format string, arg1, arg2 interface{}) {
	b.conds = append(b.conds, fmt.Sprintf(format, b.argIndex, b.argIndex+1))
	b.args = append(b.args, arg1, arg2)
	b.argIndex += 2
}

func (b *builder) where() string {
	if len(b.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(b.conds, " AND ")
}

// applyFilters は地理条件以外の絞り込みをWHERE句に反映する。
func (b *builder) applyFilters(p model.FilterParams) {
	if q := NormalizeText(p.Query); q != "" {
		b.add("search_vector @@ plainto_tsquery('simple', $%d)", q)
	}
	if p.MinPrice != nil {
		b.add("price_per_month >= $%d", *p.MinPrice)
	}
	if p.MaxPrice != nil {
		b.add("price_per_month <= $%d", *p.MaxPrice)
	}
	if p.RoomType != "" {
		b.add("room_type = $%d", string(p.RoomType))
	}
	if p.LeaseMonths != nil {
		b.add("lease_months <= $%d", *p.LeaseMonths)
	}
	if p.MoveInDate != nil {
		b.add("(move_in_date IS NULL OR move_in_date <= $%d)", *p.MoveInDate)
	}
	if len(p.Amenities) > 0 {
		b.add("amenities @> $%d", pq.Array(normalizeAll(p.Amenities)))
	}
	if len(p.HouseRules) > 0 {
		b.add("house_rules @> $%d", pq.Array(normalizeAll(p.HouseRules)))
	}
	if len(p.Languages) > 0 {
		b.add("languages @> $%d", pq.Array(normalizeAll(p.Languages)))
	}
	if p.GenderPreference != "" && p.GenderPreference != model.GenderAny {
		b.add("gender_preference IN ('any', $%d)", string(p.GenderPreference))
	}
}

// applyBounds は表示範囲をWHERE句に反映する。
// 日付変更線をまたぐ範囲（minLng > maxLng）は経度条件をORに分解する。
func (b *builder) applyBounds(v model.ViewportBounds) {
	b.add("lat >= $%d", v.MinLat)
	b.add("lat <= $%d", v.MaxLat)
	if v.WrapsAntimeridian() {
		b.add2("(lng >= $%d OR lng <= $%d)", v.MinLng, v.MaxLng)
	} else {
		b.add("lng >= $%d", v.MinLng)
		b.add("lng <= $%d", v.MaxLng)
	}
}

// EffectiveListLimit は一覧取得の実効1ページ件数を返す。
// 未指定はDefaultPageSize、上限はMaxPageSize。地理条件のない検索は
// さらにMaxUnboundedResultsで頭打ちにする。
func EffectiveListLimit(p model.FilterParams, limit int) int {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	if !p.HasBounds() && limit > MaxUnboundedResults {
		limit = MaxUnboundedResults
	}
	return limit
}

// BuildCountQuery は件数プローブSQLを組み立てる。
// CountProbeLimit行で打ち切るサブクエリを数えるため、ヒットが多くても
// 全表走査にはならない。条件が空の場合はSQLを発行する必要がないため
// 空文字列を返す。
func BuildCountQuery(p model.FilterParams) (string, []interface{}) {
	if p.IsEmpty() {
		return "", nil
	}
	b := newBuilder()
	b.applyFilters(p)
	if p.Bounds != nil {
		b.applyBounds(*p.Bounds)
	}
	q := fmt.Sprintf(
		"SELECT COUNT(*) FROM (SELECT 1 FROM search_documents%s LIMIT %d) AS probe",
		b.where(), CountProbeLimit)
	return q, b.args
}

// BuildListQuery は一覧取得SQLを組み立てる。
// キーワード検索は表示範囲が必須。LIMITは実効件数+1で、呼び出し側が
// 先読み行の有無から次ページの存在を判定する。pageは0始まり。
func BuildListQuery(p model.FilterParams, page, limit int) (string, []interface{}, error) {
	if p.HasQuery() && !p.HasBounds() {
		return "", nil, model.NewBoundsRequiredError()
	}
	eff := EffectiveListLimit(p, limit)
	if page < 0 {
		page = 0
	}
	b := newBuilder()
	b.applyFilters(p)
	if p.Bounds != nil {
		b.applyBounds(*p.Bounds)
	}
	q := "SELECT " + searchDocColumns + " FROM search_documents" + b.where() + orderClause(p.Sort)
	q += fmt.Sprintf(" LIMIT $%d OFFSET $%d", b.argIndex, b.argIndex+1)
	args := append(b.args, eff+1, page*eff)
	return q, args, nil
}

// BuildRelaxedListQuery は集合条件（設備・ルール・言語）を外した
// 緩和版の一覧SQLを組み立てる。1ページ目が埋まらないときの
// 近似候補の補充に使う。excludeIDsは本検索で返却済みのIDで、重複を除く。
func BuildRelaxedListQuery(p model.FilterParams, excludeIDs []string, limit int) (string, []interface{}, error) {
	relaxed := p
	relaxed.Amenities = nil
	relaxed.HouseRules = nil
	relaxed.Languages = nil
	if relaxed.HasQuery() && !relaxed.HasBounds() {
		return "", nil, model.NewBoundsRequiredError()
	}
	b := newBuilder()
	b.applyFilters(relaxed)
	if relaxed.Bounds != nil {
		b.applyBounds(*relaxed.Bounds)
	}
	if len(excludeIDs) > 0 {
		b.add("NOT (id = ANY($%d))", pq.Array(excludeIDs))
	}
	q := "SELECT " + searchDocColumns + " FROM search_documents" + b.where() + orderClause(relaxed.Sort)
	q += fmt.Sprintf(" LIMIT $%d", b.argIndex)
	args := append(b.args, limit)
	return q, args, nil
}

// BuildMapQuery は地図用の取得SQLを組み立てる。表示範囲は必須。
// LIMITはMaxMapResults+1で、超過行の有無から切り詰めを検出する。
func BuildMapQuery(p model.FilterParams) (string, []interface{}, error) {
	if !p.HasBounds() {
		return "", nil, model.NewBoundsRequiredError()
	}
	b := newBuilder()
	b.applyFilters(p)
	b.applyBounds(*p.Bounds)
	q := "SELECT " + mapColumns + " FROM search_documents" + b.where() + orderClause(p.Sort)
	q += fmt.Sprintf(" LIMIT $%d", b.argIndex)
	args := append(b.args, MaxMapResults+1)
	return q, args, nil
}

// orderClause はソート指定をORDER BY句に変換する。列名はここで
// 固定文字列に解決され、ユーザー入力が混ざることはない。
// 全ソートで末尾の同順位判定を共有し、ページをまたいでも順序が安定する。
func orderClause(sort model.SortOption) string {
	switch sort {
	case model.SortPriceAsc:
		return " ORDER BY price_per_month ASC, listing_created_at DESC, id ASC"
	case model.SortPriceDesc:
		return " ORDER BY price_per_month DESC, listing_created_at DESC, id ASC"
	case model.SortNewest:
		return " ORDER BY listing_created_at DESC, id ASC"
	default:
		return " ORDER BY recommend_score DESC, listing_created_at DESC, id ASC"
	}
}

// normalizeAll は集合条件の各要素を正規化し、空要素を除く。
func normalizeAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if nv := NormalizeText(v); nv != "" {
			out = append(out, nv)
		}
	}
	return out
}
