package content

import (
	"bytes"
	"fmt"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Render writes blocks back out as an HTML fragment. resolve may rewrite
// image sources, for instance to point at materialized copies.
func Render(blocks []Block, resolve func(ImageRef) string) (string, error) {
	var buf bytes.Buffer

	for _, block := range blocks {
		for _, n := range block.Text {
			if err := html.Render(&buf, toHTML(n)); err != nil {
				return "", fmt.Errorf("failed to render text block: %w", err)
			}
		}

		if len(block.Images) == 0 {
			continue
		}

		group := element("div", block.GroupClass, "")
		for _, img := range block.Images {
			group.AppendChild(imageNode(img, resolve))
		}
		if err := html.Render(&buf, group); err != nil {
			return "", fmt.Errorf("failed to render image group: %w", err)
		}
	}

	return buf.String(), nil
}

func toHTML(n Node) *html.Node {
	if n.IsText() {
		return &html.Node{Type: html.TextNode, Data: n.Text}
	}

	el := element(n.Tag, n.Class, n.Style)
	if n.Tag == "a" && n.Href != "" {
		el.Attr = append(el.Attr, html.Attribute{Key: "href", Val: n.Href})
	}
	for _, c := range n.Children {
		el.AppendChild(toHTML(c))
	}
	return el
}

func imageNode(img ImageRef, resolve func(ImageRef) string) *html.Node {
	src := img.Src
	if resolve != nil {
		src = resolve(img)
	}

	el := element("img", img.Class, "")
	el.Attr = append(el.Attr,
		html.Attribute{Key: "src", Val: src},
		html.Attribute{Key: "alt", Val: img.Alt})
	if img.Title != "" {
		el.Attr = append(el.Attr, html.Attribute{Key: "title", Val: img.Title})
	}

	if img.Link == "" {
		return el
	}

	a := element("a", "", "")
	a.Attr = append(a.Attr, html.Attribute{Key: "href", Val: img.Link})
	a.AppendChild(el)
	return a
}

func element(tag, class, style string) *html.Node {
	el := &html.Node{Type: html.ElementNode, Data: tag, DataAtom: atom.Lookup([]byte(tag))}
	if class != "" {
		el.Attr = append(el.Attr, html.Attribute{Key: "class", Val: class})
	}
	if style != "" {
		el.Attr = append(el.Attr, html.Attribute{Key: "style", Val: style})
	}
	return el
}
