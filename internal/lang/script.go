// Package lang classifies the script of user text so prompts and fallback
// suggestions can follow the user's language.
package lang

import "unicode"

var kana = []*unicode.RangeTable{unicode.Hiragana, unicode.Katakana}

// IsCJK reports whether r is a Han, kana or Hangul character.
func IsCJK(r rune) bool {
	return unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Hangul)
}

// ContainsCJK reports whether s holds any CJK character.
func ContainsCJK(s string) bool {
	for _, r := range s {
		if IsCJK(r) {
			return true
		}
	}
	return false
}

// IsChinese reports whether s is written in Chinese: it has Han characters
// and no kana or Hangul. Kanji-only Japanese is indistinguishable and counts
// as Chinese.
func IsChinese(s string) bool {
	han := false
	for _, r := range s {
		switch {
		case unicode.In(r, kana...), unicode.Is(unicode.Hangul, r):
			return false
		case unicode.Is(unicode.Han, r):
			han = true
		}
	}
	return han
}
