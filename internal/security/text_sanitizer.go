// Package security はアプリケーションのセキュリティ機能を提供する。
//
// TextSanitizer はプロフィールなど利用者が入力した表示用テキストから
// HTMLを取り除き、画面やコンソールにそのまま出力できる文字列にする。
// bluemondayのStrictPolicyを使用し、全てのタグと属性を除去する。
package security

import (
	"html"
	"net/url"
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizer は表示用テキストのサニタイズ機能のインターフェースを定義する。
type TextSanitizer interface {
	// SanitizeText は全てのHTMLタグを除去し、前後の空白と制御文字を取り除く。
	// 同一入力に対して常に同一出力を返す（冪等）。
	SanitizeText(raw string) string

	// SanitizeURL はhttpsの絶対URLのみを通過させる。それ以外は空文字列を返す。
	SanitizeURL(raw string) string
}

// textSanitizer はTextSanitizerの実装。
// bluemondayのポリシーはスレッドセーフに共有できる。
type textSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerの新しいインスタンスを生成する。
func NewTextSanitizer() *textSanitizer {
	return &textSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// SanitizeText はタグを除去したプレーンテキストを返す。
// StrictPolicyはエスケープ済みの文字列を返すため、表示用にアンエスケープする。
func (s *textSanitizer) SanitizeText(raw string) string {
	stripped := html.UnescapeString(s.policy.Sanitize(raw))
	stripped = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, stripped)
	return strings.TrimSpace(stripped)
}

// SanitizeURL はhttpsの絶対URLであればそのまま返す。
func (s *textSanitizer) SanitizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "https" || u.Host == "" {
		return ""
	}
	return u.String()
}
