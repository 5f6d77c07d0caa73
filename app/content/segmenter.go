package content

import (
	"log/slog"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

const groupTag = "div"

var textTags = map[string]bool{
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"blockquote": true,
	"p":          true,
}

// Segmenter turns an HTML fragment into an ordered list of blocks.
type Segmenter struct{}

func NewSegmenter() *Segmenter {
	return &Segmenter{}
}

// Run never fails: markup the parser cannot make sense of is dropped and
// whatever structure was recovered is returned.
func (s *Segmenter) Run(fragment string) []Block {
	if strings.TrimSpace(fragment) == "" {
		return nil
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		slog.Warn("Failed to parse content fragment", "error", err)
		return nil
	}

	return collapse(s.collect(doc))
}

func (s *Segmenter) collect(doc *goquery.Document) []candidate {
	var candidates []candidate
	emitted := make(map[*html.Node]bool)

	doc.Find("body *").Each(func(_ int, sel *goquery.Selection) {
		n := sel.Get(0)
		tag := n.Data
		parentTag := parentName(n)

		switch {
		case textTags[tag]:
			if parentTag == groupTag || insideEmitted(n, emitted) {
				return
			}
			emitted[n] = true

			root := convertElement(sel)
			if strings.TrimSpace(PlainText(root)) != "" {
				candidates = append(candidates, candidate{text: &root})
			}

			// Images inside a text element follow it as their own group.
			if inline := inlineImages(sel); len(inline.Images) > 0 {
				candidates = append(candidates, candidate{group: &inline})
			}

		case tag == groupTag:
			if parentTag == groupTag {
				return
			}
			if group := collectGroup(sel); len(group.Images) > 0 {
				candidates = append(candidates, candidate{group: &group})
			}

		case tag == "img":
			// An image outside any group and any text element stands alone.
			if hasAncestor(n, groupTag) || insideEmitted(n, emitted) {
				return
			}
			ref := imageRef(sel)
			if ref.IsEmpty() {
				return
			}
			candidates = append(candidates, candidate{group: &ImageGroup{Images: []ImageRef{ref}}})
		}
	})

	return candidates
}

func inlineImages(sel *goquery.Selection) ImageGroup {
	var group ImageGroup

	sel.Find("img").Each(func(_ int, img *goquery.Selection) {
		if hasAncestor(img.Get(0), groupTag) {
			return
		}
		if ref := imageRef(img); !ref.IsEmpty() {
			group.Images = append(group.Images, ref)
		}
	})

	return group
}

func collectGroup(sel *goquery.Selection) ImageGroup {
	group := ImageGroup{Class: sel.AttrOr("class", "")}

	sel.Children().Each(func(_ int, child *goquery.Selection) {
		img := child
		if goquery.NodeName(child) != "img" {
			img = child.Find("img").First()
		}
		if img.Length() == 0 {
			return
		}

		ref := imageRef(img)
		if ref.IsEmpty() {
			return
		}
		if goquery.NodeName(child) != "img" {
			ref.Class = child.AttrOr("class", "")
		}
		group.Images = append(group.Images, ref)
	})

	return group
}

func imageRef(img *goquery.Selection) ImageRef {
	return ImageRef{
		Src:   strings.TrimSpace(img.AttrOr("src", "")),
		Alt:   img.AttrOr("alt", ""),
		Title: img.AttrOr("title", ""),
		Link:  img.Closest("a").AttrOr("href", ""),
		Class: img.AttrOr("class", ""),
	}
}

func convertElement(sel *goquery.Selection) Node {
	n := sel.Get(0)
	node := Node{
		Tag:   n.Data,
		Class: sel.AttrOr("class", ""),
		Style: sel.AttrOr("style", ""),
		Href:  sel.Closest("a").AttrOr("href", ""),
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		switch c.Type {
		case html.TextNode:
			node.Children = append(node.Children, Node{Text: c.Data})
		case html.ElementNode:
			child := sel.FindNodes(c)
			if c.Data == "img" || (child.Find("img").Length() > 0 && strings.TrimSpace(child.Text()) == "") {
				// Carried by the inline image group instead.
				continue
			}
			node.Children = append(node.Children, convertElement(child))
		}
	}

	return node
}

// collapse folds consecutive text elements into the next image group.
func collapse(candidates []candidate) []Block {
	var blocks []Block
	var pending []Node

	for _, el := range candidates {
		if el.text != nil {
			pending = append(pending, *el.text)
			continue
		}
		blocks = append(blocks, Block{
			Text:       pending,
			Images:     el.group.Images,
			GroupClass: el.group.Class,
		})
		pending = nil
	}

	if len(pending) > 0 {
		blocks = append(blocks, Block{Text: pending, Images: []ImageRef{}})
	}

	return blocks
}

func parentName(n *html.Node) string {
	if n.Parent == nil || n.Parent.Type != html.ElementNode {
		return ""
	}
	return n.Parent.Data
}

func hasAncestor(n *html.Node, tag string) bool {
	for p := n.Parent; p != nil; p = p.Parent {
		if p.Type == html.ElementNode && p.Data == tag {
			return true
		}
	}
	return false
}

func insideEmitted(n *html.Node, emitted map[*html.Node]bool) bool {
	for p := n.Parent; p != nil; p = p.Parent {
		if emitted[p] {
			return true
		}
	}
	return false
}
