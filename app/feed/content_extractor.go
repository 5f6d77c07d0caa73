package feed

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/go-shiori/go-readability"
)

type HTMLFetcher interface {
	FetchHTML(ctx context.Context, url string) ([]byte, error)
}

// ContentExtractor recovers an article body from its web page when a feed
// entry ships without one.
type ContentExtractor struct {
	fetcher HTMLFetcher
}

func NewContentExtractor(f HTMLFetcher) *ContentExtractor {
	return &ContentExtractor{fetcher: f}
}

func (e *ContentExtractor) Extract(ctx context.Context, link string) (string, error) {
	if link == "" {
		return "", fmt.Errorf("item has no link")
	}

	data, err := e.fetcher.FetchHTML(ctx, link)
	if err != nil {
		return "", fmt.Errorf("failed to fetch article content: %w", err)
	}

	return e.Run(data, link)
}

func (e *ContentExtractor) Run(data []byte, link string) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("HTML data is empty")
	}

	var pageURL *url.URL
	if link != "" {
		pageURL, _ = url.Parse(link)
	}

	article, err := readability.FromReader(bytes.NewReader(data), pageURL)
	if err != nil {
		return "", fmt.Errorf("failed to extract content: %w", err)
	}

	if article.Content == "" {
		return "", fmt.Errorf("no content extracted from HTML data")
	}

	slog.Debug("Content extracted successfully",
		"url", link,
		"title", article.Title,
		"content_length", len(article.Content))

	return article.Content, nil
}
