package query

import (
	"encoding/base64"
	"encoding/json"
)

// cursorEnvelope はページネーションカーソルの中身。
// 符号化時は整数、復号時は形式検証のため浮動小数として読む。
type cursorEnvelope struct {
	P int `json:"p"`
}

type cursorProbe struct {
	P *float64 `json:"p"`
}

// EncodeCursor はページ番号を不透明なカーソル文字列に符号化する。
// {"p":N} をパディングなしのbase64urlで包む。
func EncodeCursor(page int) string {
	payload, err := json.Marshal(cursorEnvelope{P: page})
	if err != nil {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(payload)
}

// DecodeCursor はカーソル文字列からページ番号を復元する。
// 不正なbase64・不正なJSON・pの欠落・数値以外・0以下・非整数は
// すべて0（カーソルなし＝先頭ページ）として扱い、エラーにはしない。
// 細工されたカーソルで任意のオフセットへ飛ばれることを防ぐ。
func DecodeCursor(cursor string) int {
	if cursor == "" {
		return 0
	}
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return 0
	}
	var probe cursorProbe
	if err := json.Unmarshal(raw, &probe); err != nil {
		return 0
	}
	if probe.P == nil || *probe.P <= 0 {
		return 0
	}
	page := int(*probe.P)
	if float64(page) != *probe.P {
		return 0
	}
	return page
}
