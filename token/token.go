// Package token provides a lightweight token count heuristic shared by the
// chunker and the chat context budgeter. It is deliberately approximate:
// CJK ideographs tokenise close to one token per character, while most
// western text averages around four characters per token.
package token

// cjk reports whether r falls in the CJK Unified Ideographs block.
func cjk(r rune) bool {
	return r >= 0x4E00 && r <= 0x9FA5
}

// Estimate approximates the token count of text.
// Each CJK character counts as one token; the remaining characters count
// as one token per four.
func Estimate(text string) int {
	if text == "" {
		return 0
	}
	cjkCount, other := 0, 0
	for _, r := range text {
		if cjk(r) {
			cjkCount++
		} else {
			other++
		}
	}
	return cjkCount + other/4
}
