package sluggable

import (
	"strings"

	"github.com/gosimple/unidecode"
	"golang.org/x/text/unicode/norm"
)

// Transliterator turns text into its ASCII approximation.
type Transliterator func(text, separator string) string

// Urlizer makes transliterated text URL safe, joining words with separator.
type Urlizer func(text, separator string) string

var symbols = strings.NewReplacer("&", " and ")

// Transliterate spells text of any script with ASCII. Input is composed
// first so decomposed accents transliterate like precomposed ones.
func Transliterate(text, _ string) string {
	return unidecode.Unidecode(norm.NFC.String(symbols.Replace(text)))
}

// Urlize lowercases text and replaces every run of characters other than
// ASCII letters and digits with separator.
func Urlize(text, separator string) string {
	var b strings.Builder
	pending := false
	for _, r := range strings.ToLower(text) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if pending && b.Len() > 0 {
				b.WriteString(separator)
			}
			pending = false
			b.WriteRune(r)
			continue
		}
		pending = true
	}
	return b.String()
}

// applyStyle changes the case of an urlized slug.
func applyStyle(slug, separator, style string) string {
	switch style {
	case "upper":
		return strings.ToUpper(slug)
	case "camel":
		if separator == "" {
			return upperFirst(slug)
		}
		words := strings.Split(slug, separator)
		for i, w := range words {
			words[i] = upperFirst(w)
		}
		return strings.Join(words, separator)
	}
	return slug
}

func upperFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
