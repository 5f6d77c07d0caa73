package feed

import (
	"bytes"
	"cmp"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"iter"
	"strconv"
	"strings"
	"time"

	"github.com/lysyi3m/news-import/app/fetcher"
	"github.com/lysyi3m/news-import/app/source"
	"github.com/mmcdole/gofeed"
	"github.com/mmcdole/gofeed/rss"
)

const maxIDLength = 100

type XMLReader struct {
	fetcher fetcher.Fetcher
}

func NewXMLReader(f fetcher.Fetcher) *XMLReader {
	return &XMLReader{fetcher: f}
}

func (r *XMLReader) Read(ctx context.Context, cfg *source.Config) iter.Seq2[RawItem, error] {
	return func(yield func(RawItem, error) bool) {
		data, err := r.fetcher.Fetch(ctx, cfg.Path)
		if err != nil {
			yield(nil, fmt.Errorf("failed to fetch feed: %w", err))
			return
		}

		items, err := r.Parse(data, cfg.Fields.DomainSuffix)
		if err != nil {
			yield(nil, err)
			return
		}

		for _, item := range items {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			if !yield(item, nil) {
				return
			}
		}
	}
}

// Parse converts an RSS or Atom document into raw items. A category's
// domain attribute is stored under the category key plus domainSuffix.
func (r *XMLReader) Parse(data []byte, domainSuffix string) ([]RawItem, error) {
	domainSuffix = cmp.Or(domainSuffix, DefaultDomainSuffix)

	feed, err := gofeed.NewParser().Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse feed: %w", err)
	}

	// The universal item drops the RSS category domain attribute.
	var rssItems []*rss.Item
	if feed.FeedType == "rss" {
		rssParser := &rss.Parser{}
		if rssFeed, err := rssParser.Parse(bytes.NewReader(data)); err == nil && len(rssFeed.Items) == len(feed.Items) {
			rssItems = rssFeed.Items
		}
	}

	items := make([]RawItem, 0, len(feed.Items))
	for i, item := range feed.Items {
		raw := r.convertItem(item)
		if rssItems != nil {
			r.addRSSCategories(raw, rssItems[i], domainSuffix)
		} else {
			for n, category := range item.Categories {
				raw["category."+strconv.Itoa(n)] = category
			}
		}
		items = append(items, raw)
	}

	return items, nil
}

func (r *XMLReader) convertItem(item *gofeed.Item) RawItem {
	raw := RawItem{
		FieldID:          itemID(cmp.Or(item.GUID, item.Link)),
		FieldGUID:        item.GUID,
		FieldTitle:       item.Title,
		FieldContent:     cmp.Or(item.Content, item.Description),
		FieldDescription: item.Description,
		FieldLink:        item.Link,
	}

	names, email := r.extractAuthors(item)
	raw[FieldAuthor] = strings.Join(names, ", ")
	raw[FieldAuthorEmail] = email

	switch {
	case item.PublishedParsed != nil:
		raw[FieldPublishDate] = item.PublishedParsed.Format(time.RFC3339)
	case item.UpdatedParsed != nil:
		raw[FieldPublishDate] = item.UpdatedParsed.Format(time.RFC3339)
	default:
		raw[FieldPublishDate] = cmp.Or(item.Published, item.Updated)
	}

	// RSS 2.0 allows only one enclosure per item
	if len(item.Enclosures) > 0 && item.Enclosures[0] != nil {
		raw[FieldEnclosureURL] = item.Enclosures[0].URL
		raw[FieldEnclosureType] = item.Enclosures[0].Type
	} else if item.Image != nil {
		raw[FieldEnclosureURL] = item.Image.URL
	}

	return raw
}

func (r *XMLReader) addRSSCategories(raw RawItem, item *rss.Item, domainSuffix string) {
	for n, category := range item.Categories {
		if category == nil {
			continue
		}
		key := "category." + strconv.Itoa(n)
		raw[key] = category.Value
		if category.Domain != "" {
			raw[key+domainSuffix] = category.Domain
		}
	}
}

func (r *XMLReader) extractAuthors(item *gofeed.Item) ([]string, string) {
	var names []string
	var email string

	people := item.Authors
	if len(people) == 0 && item.Author != nil {
		people = []*gofeed.Person{item.Author}
	}

	for _, person := range people {
		if person == nil {
			continue
		}
		name := strings.TrimSpace(person.Name)
		addr := strings.TrimSpace(person.Email)
		if name != "" {
			names = append(names, name)
		} else if addr != "" {
			names = append(names, addr)
		}
		if email == "" {
			email = addr
		}
	}

	return names, email
}

// itemID keeps identifiers within the storage column width.
func itemID(id string) string {
	if len(id) <= maxIDLength {
		return id
	}
	sum := md5.Sum([]byte(id))
	return hex.EncodeToString(sum[:])
}
