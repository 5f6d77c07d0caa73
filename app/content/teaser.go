package content

import (
	"strings"
	"unicode/utf8"
)

const TeaserLimit = 150

// Teaser returns the first non-blank text leaf across blocks, cut at the
// first space at or after TeaserLimit runes. Text without such a space is
// cut hard at the limit. Node text is already entity-decoded by the parser.
func Teaser(blocks []Block) string {
	text := firstText(blocks)
	if text == "" {
		return ""
	}

	if utf8.RuneCountInString(text) <= TeaserLimit {
		return text
	}

	runes := []rune(text)
	for i := TeaserLimit; i < len(runes); i++ {
		if runes[i] == ' ' {
			return string(runes[:i])
		}
	}
	return string(runes[:TeaserLimit])
}

// LeadImage returns the first image across blocks, or an empty ref.
func LeadImage(blocks []Block) ImageRef {
	for _, b := range blocks {
		if len(b.Images) > 0 {
			return b.Images[0]
		}
	}
	return ImageRef{}
}

func firstText(blocks []Block) string {
	for _, b := range blocks {
		for _, n := range b.Text {
			if text, ok := firstLeaf(n); ok {
				return text
			}
		}
	}
	return ""
}

func firstLeaf(n Node) (string, bool) {
	if n.IsText() {
		text := strings.TrimSpace(n.Text)
		return text, text != ""
	}
	for _, c := range n.Children {
		if text, ok := firstLeaf(c); ok {
			return text, true
		}
	}
	return "", false
}

// PlainText flattens a node tree into its text content.
func PlainText(n Node) string {
	if n.IsText() {
		return n.Text
	}
	var sb strings.Builder
	for _, c := range n.Children {
		sb.WriteString(PlainText(c))
	}
	return sb.String()
}
