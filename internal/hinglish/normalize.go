// Package hinglish normalizes mixed Hindi/English speech transcripts into a
// consistent Roman Hindi representation so retrieval and generation always
// see the same script.
package hinglish

import (
	"strings"
	"unicode"
)

// Normalize lowercases text, collapses whitespace, and transliterates any
// Devanagari runs into Roman Hindi. The result is the canonical form used as
// both the stored turn text and the memory query key.
func Normalize(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	if ContainsDevanagari(text) {
		text = Transliterate(text)
	}
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}

// ContainsDevanagari reports whether any rune falls in the Devanagari block.
func ContainsDevanagari(text string) bool {
	for _, r := range text {
		if r >= 0x0900 && r <= 0x097F {
			return true
		}
	}
	return false
}

var independentVowels = map[rune]string{
	'अ': "a", 'आ': "aa", 'इ': "i", 'ई': "i", 'उ': "u", 'ऊ': "u",
	'ऋ': "ri", 'ए': "e", 'ऐ': "ai", 'ओ': "o", 'औ': "au",
}

var matras = map[rune]string{
	'ा': "a", 'ि': "i", 'ी': "i", 'ु': "u", 'ू': "u",
	'ृ': "ri", 'े': "e", 'ै': "ai", 'ो': "o", 'ौ': "au",
	'ॉ': "o", 'ॅ': "a",
}

var consonants = map[rune]string{
	'क': "k", 'ख': "kh", 'ग': "g", 'घ': "gh", 'ङ': "n",
	'च': "ch", 'छ': "chh", 'ज': "j", 'झ': "jh", 'ञ': "n",
	'ट': "t", 'ठ': "th", 'ड': "d", 'ढ': "dh", 'ण': "n",
	'त': "t", 'थ': "th", 'द': "d", 'ध': "dh", 'न': "n",
	'प': "p", 'फ': "ph", 'ब': "b", 'भ': "bh", 'म': "m",
	'य': "y", 'र': "r", 'ल': "l", 'व': "v",
	'श': "sh", 'ष': "sh", 'स': "s", 'ह': "h",
	'\u0958': "q", '\u0959': "kh", '\u095a': "g", '\u095b': "z", '\u095c': "r", '\u095d': "rh", '\u095e': "f",
}

var devanagariDigits = map[rune]rune{
	'०': '0', '१': '1', '२': '2', '३': '3', '४': '4',
	'५': '5', '६': '6', '७': '7', '८': '8', '९': '9',
}

const (
	virama   = '्'
	anusvara = 'ं'
	chandra  = 'ँ'
	visarga  = 'ः'
	danda    = '।'
	dandaDbl = '॥'
)

// Transliterate converts Devanagari text to Roman Hindi. Consonants carry an
// implicit schwa that a following matra replaces, a virama suppresses, and a
// word boundary drops, which matches how Roman Hindi is actually typed.
func Transliterate(text string) string {
	runes := []rune(text)
	var out strings.Builder
	out.Grow(len(runes) * 2)

	for i := 0; i < len(runes); i++ {
		r := runes[i]

		if v, ok := independentVowels[r]; ok {
			out.WriteString(v)
			continue
		}
		if d, ok := devanagariDigits[r]; ok {
			out.WriteRune(d)
			continue
		}
		if c, ok := consonants[r]; ok {
			out.WriteString(c)
			switch {
			case i+1 < len(runes) && runes[i+1] == virama:
				i++ // conjunct: no vowel
			case i+1 < len(runes) && matras[runes[i+1]] != "":
				out.WriteString(matras[runes[i+1]])
				i++
			case i+1 < len(runes) && isWordBoundary(runes[i+1]):
				// final consonant: schwa dropped
			case i+1 == len(runes):
				// final consonant: schwa dropped
			default:
				out.WriteString("a")
			}
			continue
		}
		switch r {
		case anusvara, chandra:
			out.WriteString("n")
		case visarga:
			out.WriteString("h")
		case danda, dandaDbl:
			out.WriteString(".")
		default:
			if m, ok := matras[r]; ok {
				// stray matra without a consonant; keep the vowel sound
				out.WriteString(m)
				continue
			}
			out.WriteRune(r)
		}
	}
	return out.String()
}

func isWordBoundary(r rune) bool {
	return unicode.IsSpace(r) || unicode.IsPunct(r) || r == danda || r == dandaDbl
}
