package handler

import (
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hitoshi/roomsearch/internal/model"
)

// moveInDateLayout は入居可能日パラメータの日付形式。
const moveInDateLayout = "2006-01-02"

// ParseFilterParams はクエリ文字列から検索条件を組み立てる。
// 数値・日付として解釈できない値は即座にバリデーションエラーを返す。
// 形式が正しい値の意味的な妥当性（範囲・組み合わせ）の検証は
// FilterParams.Validateに委ねる。
func ParseFilterParams(values url.Values) (model.FilterParams, *model.APIError) {
	p := model.FilterParams{
		Query:            values.Get("q"),
		RoomType:         model.RoomType(values.Get("room_type")),
		GenderPreference: model.GenderPreference(values.Get("gender")),
		Sort:             model.SortOption(values.Get("sort")),
		Cursor:           values.Get("cursor"),
		Amenities:        parseCSVParam(values.Get("amenities")),
		HouseRules:       parseCSVParam(values.Get("house_rules")),
		Languages:        parseCSVParam(values.Get("languages")),
	}

	var apiErr *model.APIError
	if p.MinPrice, apiErr = parseIntParam(values, "min_price"); apiErr != nil {
		return model.FilterParams{}, apiErr
	}
	if p.MaxPrice, apiErr = parseIntParam(values, "max_price"); apiErr != nil {
		return model.FilterParams{}, apiErr
	}
	if p.LeaseMonths, apiErr = parseIntParam(values, "lease_months"); apiErr != nil {
		return model.FilterParams{}, apiErr
	}

	if v := values.Get("move_in_date"); v != "" {
		t, err := time.Parse(moveInDateLayout, v)
		if err != nil {
			return model.FilterParams{}, model.NewInvalidFilterError("move_in_date")
		}
		p.MoveInDate = &t
	}

	if v := values.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return model.FilterParams{}, model.NewInvalidFilterError("limit")
		}
		p.Limit = n
	}

	if p.Bounds, apiErr = parseBoundsParams(values); apiErr != nil {
		return model.FilterParams{}, apiErr
	}

	if p.CenterLat, apiErr = parseFloatParam(values, "center_lat"); apiErr != nil {
		return model.FilterParams{}, apiErr
	}
	if p.CenterLng, apiErr = parseFloatParam(values, "center_lng"); apiErr != nil {
		return model.FilterParams{}, apiErr
	}
	if p.RadiusKm, apiErr = parseFloatParam(values, "radius_km"); apiErr != nil {
		return model.FilterParams{}, apiErr
	}

	return p, nil
}

// parseIntParam は整数クエリパラメータを解釈する。未指定はnilを返す。
func parseIntParam(values url.Values, key string) (*int, *model.APIError) {
	v := values.Get(key)
	if v == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return nil, model.NewInvalidFilterError(key)
	}
	return &n, nil
}

// parseFloatParam は浮動小数クエリパラメータを解釈する。未指定はnilを返す。
func parseFloatParam(values url.Values, key string) (*float64, *model.APIError) {
	v := values.Get(key)
	if v == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return nil, model.NewInvalidFilterError(key)
	}
	return &f, nil
}

// parseCSVParam はカンマ区切りのクエリパラメータを要素配列に分解する。
// 前後の空白は除去し、空要素は捨てる。
func parseCSVParam(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			result = append(result, part)
		}
	}
	if len(result) == 0 {
		return nil
	}
	return result
}

// parseBoundsParams は表示範囲の4パラメータを解釈する。
// 4つすべて指定された場合のみ範囲を返し、一部のみの指定はエラーにする。
func parseBoundsParams(values url.Values) (*model.ViewportBounds, *model.APIError) {
	minLat, apiErr := parseFloatParam(values, "min_lat")
	if apiErr != nil {
		return nil, apiErr
	}
	maxLat, apiErr := parseFloatParam(values, "max_lat")
	if apiErr != nil {
		return nil, apiErr
	}
	minLng, apiErr := parseFloatParam(values, "min_lng")
	if apiErr != nil {
		return nil, apiErr
	}
	maxLng, apiErr := parseFloatParam(values, "max_lng")
	if apiErr != nil {
		return nil, apiErr
	}

	specified := 0
	for _, v := range []*float64{minLat, maxLat, minLng, maxLng} {
		if v != nil {
			specified++
		}
	}
	if specified == 0 {
		return nil, nil
	}
	if specified < 4 {
		return nil, model.NewInvalidBoundsError("min_lat/max_lat/min_lng/max_lngはすべて指定してください")
	}

	return &model.ViewportBounds{
		MinLat: *minLat,
		MaxLat: *maxLat,
		MinLng: *minLng,
		MaxLng: *maxLng,
	}, nil
}
