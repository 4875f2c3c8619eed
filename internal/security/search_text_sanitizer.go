// Package security はアプリケーションのセキュリティ機能を提供する。
//
// SearchTextSanitizerService は掲載者が入力したHTML本文を検索索引用の
// プレーンテキストへ変換し、スクリプト断片やマークアップが検索
// ドキュメントへ混入することを防ぐ。bluemondayライブラリの
// 全タグ除去ポリシーを使用する。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// SearchTextSanitizerService はHTML本文からの検索テキスト抽出の
// インターフェースを定義する。検索ドキュメントの再構築時に使用される。
type SearchTextSanitizerService interface {
	// ExtractText はHTML本文を検索索引用のプレーンテキストへ変換する。
	// すべてのタグを除去し、scriptとstyleは内容ごと捨てる。
	// HTMLエンティティは元の文字へ戻し、連続する空白は1つに畳む。
	// 空文字列の入力には空文字列を返す。
	// 同一入力に対して常に同一出力を返す（冪等）。
	ExtractText(rawHTML string) string
}

// searchTextSanitizer はSearchTextSanitizerServiceの実装。
// bluemondayのポリシーを保持し、スレッドセーフに変換処理を行う。
type searchTextSanitizer struct {
	policy *bluemonday.Policy
}

// NewSearchTextSanitizer はSearchTextSanitizerServiceの新しいインスタンスを生成する。
// ポリシーの内容:
//   - 許可タグ: なし（StrictPolicy）
//   - タグ除去位置には空白を挿入し、ブロック要素境界の単語連結を防ぐ
func NewSearchTextSanitizer() *searchTextSanitizer {
	p := bluemonday.StrictPolicy()

	// <p>a</p><p>b</p> が "ab" に潰れないよう、除去位置に空白を残す
	p.AddSpaceWhenStrippingTag(true)

	return &searchTextSanitizer{
		policy: p,
	}
}

// ExtractText はHTML本文を検索索引用のプレーンテキストへ変換する。
func (s *searchTextSanitizer) ExtractText(rawHTML string) string {
	if rawHTML == "" {
		return ""
	}

	// タグ除去後はエンティティ参照が残るため、索引には実文字で持たせる
	text := html.UnescapeString(s.policy.Sanitize(rawHTML))
	return strings.Join(strings.Fields(text), " ")
}
