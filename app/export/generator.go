// Package export renders imported records as an RSS 2.0 feed.
package export

import (
	"bytes"
	"cmp"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/lysyi3m/news-import/app/content"
	"github.com/lysyi3m/news-import/app/database"
)

type Channel struct {
	Name        string
	Title       string
	Link        string
	Description string
	SelfLink    string
	Language    string
	Version     string
}

type Generator struct {
	assetBaseURL string
}

// NewGenerator returns a generator that links materialized assets below
// assetBaseURL.
func NewGenerator(assetBaseURL string) *Generator {
	return &Generator{assetBaseURL: strings.TrimSuffix(assetBaseURL, "/")}
}

// Run expects records with blocks and assets loaded.
func (g *Generator) Run(channel Channel, records []database.ImportRecord) (string, error) {
	var buf bytes.Buffer

	buf.WriteString(`<?xml version="1.0" encoding="UTF-8"?>`)
	buf.WriteString("\n")
	buf.WriteString(`<rss version="2.0" xmlns:content="http://purl.org/rss/1.0/modules/content/" xmlns:atom="http://www.w3.org/2005/Atom">`)
	buf.WriteString("\n  <channel>\n")

	g.writeElement(&buf, "title", cmp.Or(channel.Title, channel.Name), 4)
	g.writeElement(&buf, "link", channel.Link, 4)
	g.writeElement(&buf, "description", cmp.Or(channel.Description, fmt.Sprintf("Records imported from %s", channel.Name)), 4)

	if channel.SelfLink != "" {
		buf.WriteString(fmt.Sprintf("    <atom:link href=\"%s\" rel=\"self\" type=\"application/rss+xml\" />\n",
			html.EscapeString(channel.SelfLink)))
	}

	lastBuildDate := time.Now().In(time.Local)
	if len(records) > 0 {
		lastBuildDate = publishedAt(records[0])
	}
	g.writeElement(&buf, "lastBuildDate", lastBuildDate.Format(time.RFC1123Z), 4)
	g.writeElement(&buf, "generator", fmt.Sprintf("News-Import/%s", cmp.Or(channel.Version, "dev")), 4)
	g.writeElement(&buf, "language", channel.Language, 4)

	for _, record := range records {
		if err := g.writeItem(&buf, record); err != nil {
			return "", err
		}
	}

	buf.WriteString("  </channel>\n</rss>")

	return buf.String(), nil
}

func (g *Generator) writeItem(buf *bytes.Buffer, record database.ImportRecord) error {
	blocks, err := DecodeBlocks(record.Blocks)
	if err != nil {
		return fmt.Errorf("failed to decode record %d: %w", record.ID, err)
	}

	stored := make(map[string]string)
	var lead *database.RecordAsset
	for i, a := range record.Assets {
		if a.Role == database.AssetRoleInline {
			stored[a.SourceURL] = a.Path
		}
		if lead == nil && a.Role != database.AssetRoleInline {
			lead = &record.Assets[i]
		}
	}

	body, err := content.Render(blocks, func(img content.ImageRef) string {
		if path, ok := stored[img.Src]; ok {
			return g.assetURL(path)
		}
		return img.Src
	})
	if err != nil {
		return err
	}

	buf.WriteString("    <item>\n")

	buf.WriteString("      <guid isPermaLink=\"false\">")
	xml.EscapeText(buf, []byte(record.ImportKey))
	buf.WriteString("</guid>\n")

	g.writeElement(buf, "title", record.Title, 6)
	g.writeElement(buf, "link", cmp.Or(record.ExternalURL, record.Link), 6)
	g.writeElement(buf, "description", cmp.Or(record.Teaser, "No description available"), 6)

	if body != "" {
		buf.WriteString("      <content:encoded><![CDATA[")
		buf.WriteString(strings.ReplaceAll(body, "]]>", "]]]]><![CDATA[>"))
		buf.WriteString("]]></content:encoded>\n")
	}

	g.writeElement(buf, "pubDate", publishedAt(record).Format(time.RFC1123Z), 6)

	if record.Author != "" {
		author := record.Author
		if record.AuthorEmail != "" {
			author = fmt.Sprintf("%s (%s)", record.AuthorEmail, record.Author)
		}
		g.writeElement(buf, "author", author, 6)
	}

	if lead != nil && lead.MimeType != "" {
		buf.WriteString(fmt.Sprintf("      <enclosure url=\"%s\" length=\"%d\" type=\"%s\" />\n",
			html.EscapeString(g.assetURL(lead.Path)),
			lead.Size,
			html.EscapeString(lead.MimeType)))
	}

	buf.WriteString("    </item>\n")

	return nil
}

func (g *Generator) assetURL(path string) string {
	return g.assetBaseURL + "/" + path
}

func (g *Generator) writeElement(buf *bytes.Buffer, tag, content string, indent int) {
	if content == "" {
		return
	}

	for i := 0; i < indent; i++ {
		buf.WriteByte(' ')
	}

	buf.WriteString("<")
	buf.WriteString(tag)
	buf.WriteString(">")
	xml.EscapeText(buf, []byte(content))
	buf.WriteString("</")
	buf.WriteString(tag)
	buf.WriteString(">\n")
}

func publishedAt(record database.ImportRecord) time.Time {
	if record.PublishedAt != nil {
		return *record.PublishedAt
	}
	return record.CreatedAt
}

// DecodeBlocks restores segmented blocks from their stored form.
func DecodeBlocks(stored []database.ContentBlock) ([]content.Block, error) {
	blocks := make([]content.Block, 0, len(stored))

	for _, sb := range stored {
		block := content.Block{GroupClass: sb.GroupClass}
		if err := json.Unmarshal([]byte(sb.TextJSON), &block.Text); err != nil {
			return nil, fmt.Errorf("invalid text of block %d: %w", sb.Position, err)
		}
		if err := json.Unmarshal([]byte(sb.ImagesJSON), &block.Images); err != nil {
			return nil, fmt.Errorf("invalid images of block %d: %w", sb.Position, err)
		}
		blocks = append(blocks, block)
	}

	return blocks, nil
}
