package feed

import (
	"fmt"
	"strings"

	"github.com/lysyi3m/news-import/app/source"
)

type Filterer struct{}

func NewFilterer() *Filterer {
	return &Filterer{}
}

// Run reports whether fields are excluded by filters and why.
func (f *Filterer) Run(fields Fields, filters []source.ConfigFilter) (bool, string) {
	for _, filter := range filters {
		value := fields.Get(filter.Field)

		for _, exclude := range filter.Excludes {
			if f.matchesFilter(value, exclude) {
				return true, fmt.Sprintf("Excluded by %s filter: contains '%s'", filter.Field, exclude)
			}
		}

		if len(filter.Includes) > 0 {
			matched := false
			for _, include := range filter.Includes {
				if f.matchesFilter(value, include) {
					matched = true
					break
				}
			}
			if !matched {
				return true, fmt.Sprintf("Excluded by %s filter: does not contain any of %v", filter.Field, filter.Includes)
			}
		}
	}

	return false, ""
}

func (f *Filterer) matchesFilter(value, pattern string) bool {
	return strings.Contains(strings.ToLower(value), strings.ToLower(pattern))
}
