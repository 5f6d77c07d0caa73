package feed

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"

	"github.com/lysyi3m/news-import/app/fetcher"
	"github.com/lysyi3m/news-import/app/source"
)

var headerNoise = strings.NewReplacer(
	"\u200b", "", "\u200c", "", "\u200d", "", "\ufeff", "",
	`"`, "", "&nbsp;", "",
)

type CSVReader struct {
	fetcher   fetcher.Fetcher
	delimiter rune
}

func NewCSVReader(f fetcher.Fetcher) *CSVReader {
	return &CSVReader{fetcher: f, delimiter: ','}
}

// Read validates the whole file before yielding the first row, so a
// structural error aborts the batch before anything is imported.
func (r *CSVReader) Read(ctx context.Context, cfg *source.Config) iter.Seq2[RawItem, error] {
	return func(yield func(RawItem, error) bool) {
		data, err := r.fetcher.Fetch(ctx, cfg.Path)
		if err != nil {
			yield(nil, fmt.Errorf("failed to read csv: %w", err))
			return
		}

		items, err := r.Parse(data)
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

func (r *CSVReader) Parse(data []byte) ([]RawItem, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.Comma = r.delimiter
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	var header []string
	var items []RawItem
	row := 0

	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse csv: %w", err)
		}

		if header == nil {
			header = normalizeHeader(record)
			continue
		}

		row++
		if len(record) != len(header) {
			return nil, &FieldCountError{Row: row, Expected: len(header), Got: len(record)}
		}

		item := make(RawItem, len(header))
		for i, name := range header {
			item[name] = record[i]
		}
		items = append(items, item)
	}

	return items, nil
}

func normalizeHeader(record []string) []string {
	header := make([]string, len(record))
	for i, name := range record {
		header[i] = strings.ToLower(strings.TrimSpace(headerNoise.Replace(name)))
	}
	return header
}
