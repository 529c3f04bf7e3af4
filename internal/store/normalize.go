package store

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Orthographic normalization for the full-text index. Japanese notation
// varies freely between reading-equivalent forms (okurigana: 打ち合わせ vs
// 打合せ, long-vowel marks: サーバー vs サーバ, voicing marks, kana case,
// character width). The text index must treat those variants as matches of
// each other, so both stored content and queries pass through normSegments
// before indexing. Fuzzy search deliberately bypasses all of this and works
// on raw tokens.

// normSegments normalizes text into index segments:
//   - NFKC fold (width, compatibility forms) and lowercasing
//   - split on anything that is not a letter or digit
//   - okurigana/particle removal: hiragana runes are dropped from segments
//     that carry kanji, katakana, or latin content
//   - remaining hiragana converted to katakana
//   - long-vowel marks removed, voiced/semi-voiced kana devoiced
func normSegments(text string) []string {
	folded := strings.ToLower(norm.NFKC.String(text))

	var segments []string
	var cur []rune
	flush := func() {
		if len(cur) > 0 {
			if seg := normalizeSegment(cur); seg != "" {
				segments = append(segments, seg)
			}
			cur = cur[:0]
		}
	}
	for _, r := range folded {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == prolongedSoundMark {
			cur = append(cur, r)
		} else {
			flush()
		}
	}
	flush()
	return segments
}

const prolongedSoundMark = 'ー'

func normalizeSegment(runes []rune) string {
	hasSolid := false
	for _, r := range runes {
		if !isHiragana(r) && r != prolongedSoundMark {
			hasSolid = true
			break
		}
	}

	out := make([]rune, 0, len(runes))
	for _, r := range runes {
		if r == prolongedSoundMark {
			continue
		}
		if isHiragana(r) {
			if hasSolid {
				continue // okurigana or particle, carried by the reading
			}
			r = hiraganaToKatakana(r)
		}
		out = append(out, devoiceKana(r))
	}
	return string(out)
}

func isHiragana(r rune) bool { return r >= 0x3041 && r <= 0x3096 }
func isKatakana(r rune) bool { return r >= 0x30A1 && r <= 0x30FA }

func hiraganaToKatakana(r rune) rune { return r + 0x60 }

// devoiceKana strips dakuten/handakuten variants back to their base kana,
// unifying voicing-mark variation (ハ ↔ バ ↔ パ and friends).
func devoiceKana(r rune) rune {
	if base, ok := devoiced[r]; ok {
		return base
	}
	return r
}

var devoiced = map[rune]rune{
	'ガ': 'カ', 'ギ': 'キ', 'グ': 'ク', 'ゲ': 'ケ', 'ゴ': 'コ',
	'ザ': 'サ', 'ジ': 'シ', 'ズ': 'ス', 'ゼ': 'セ', 'ゾ': 'ソ',
	'ダ': 'タ', 'ヂ': 'チ', 'ヅ': 'ツ', 'デ': 'テ', 'ド': 'ト',
	'バ': 'ハ', 'ビ': 'ヒ', 'ブ': 'フ', 'ベ': 'ヘ', 'ボ': 'ホ',
	'パ': 'ハ', 'ピ': 'ヒ', 'プ': 'フ', 'ペ': 'ヘ', 'ポ': 'ホ',
	'ヴ': 'ウ',
}

// indexText renders normalized segments as the space-joined bigram stream
// stored in the FTS table. Single-rune segments are kept whole.
func indexText(text string) string {
	var tokens []string
	for _, seg := range normSegments(text) {
		tokens = append(tokens, segmentGrams(seg)...)
	}
	return strings.Join(tokens, " ")
}

// matchQuery renders a normalized query as an FTS5 expression: one quoted
// bigram phrase per segment, all segments required. Empty when nothing
// searchable survives normalization.
func matchQuery(text string) string {
	var phrases []string
	for _, seg := range normSegments(text) {
		grams := segmentGrams(seg)
		if len(grams) == 0 {
			continue
		}
		phrases = append(phrases, `"`+strings.Join(grams, " ")+`"`)
	}
	return strings.Join(phrases, " AND ")
}

func segmentGrams(seg string) []string {
	runes := []rune(seg)
	if len(runes) == 0 {
		return nil
	}
	if len(runes) == 1 {
		return []string{string(runes)}
	}
	grams := make([]string, 0, len(runes)-1)
	for i := 0; i+1 < len(runes); i++ {
		grams = append(grams, string(runes[i:i+2]))
	}
	return grams
}

// rawTokens splits text into script runs (latin/digit, hiragana, katakana,
// kanji) for fuzzy matching. No orthographic unification happens here; only
// latin is lowercased so edit distance is not dominated by case.
func rawTokens(text string) []string {
	var tokens []string
	var cur []rune
	curClass := -1
	flush := func() {
		if len(cur) > 0 {
			tokens = append(tokens, string(cur))
			cur = cur[:0]
		}
	}
	for _, r := range text {
		c := scriptClass(r)
		if c < 0 {
			flush()
			curClass = -1
			continue
		}
		if c != curClass {
			flush()
			curClass = c
		}
		cur = append(cur, unicode.ToLower(r))
	}
	flush()
	return tokens
}

func scriptClass(r rune) int {
	switch {
	case r <= unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
		return 0
	case isHiragana(r):
		return 1
	case isKatakana(r) || r == prolongedSoundMark:
		return 2
	case unicode.Is(unicode.Han, r):
		return 3
	case unicode.IsLetter(r) || unicode.IsDigit(r):
		return 4
	}
	return -1
}

// editDistance is the rune-level Levenshtein distance, two-row DP.
func editDistance(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	prev := make([]int, len(rb)+1)
	cur := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		cur[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			cur[j] = min3(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(rb)]
}

// distanceRatio is edit distance over the longer token length, in [0,1].
func distanceRatio(a, b string) float64 {
	la, lb := len([]rune(a)), len([]rune(b))
	longest := la
	if lb > longest {
		longest = lb
	}
	if longest == 0 {
		return 0
	}
	return float64(editDistance(a, b)) / float64(longest)
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}
