package feed

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/lysyi3m/news-import/app/source"
)

var digitRun = regexp.MustCompile(`[0-9]+`)

// Built-in aliases, applied before the per-source ones.
var defaultAliases = map[string]string{
	"pubdate":   FieldPublishDate,
	"date":      FieldPublishDate,
	"datetime":  FieldPublishDate,
	"body":      FieldContent,
	"bodytext":  FieldContent,
	"text":      FieldContent,
	"url":       FieldLink,
	"teaser":    FieldDescription,
	"category":  FieldCategories,
	"keywords":  FieldTags,
	"tag.*":     FieldTags,
	"author.*":  FieldAuthor,
	"email":     FieldAuthorEmail,
	"enclosure": FieldEnclosureURL,
	"image":     FieldEnclosureURL,
	"image_url": FieldEnclosureURL,
}

const defaultCarrier = "category.*"

type Normalizer struct {
	aliases      map[string]string
	carrier      string
	domainSuffix string
	defaults     map[string]string
}

func NewNormalizer(mapping source.FieldMapping) *Normalizer {
	aliases := make(map[string]string, len(canonicalFields)+len(defaultAliases)+len(mapping.Aliases))
	for _, name := range canonicalFields {
		aliases[strings.ToLower(name)] = name
	}
	for pattern, name := range defaultAliases {
		aliases[pattern] = name
	}
	for pattern, name := range mapping.Aliases {
		aliases[strings.ToLower(pattern)] = name
	}

	carrier := strings.ToLower(mapping.TaxonomyCarrier)
	if carrier == "" {
		carrier = defaultCarrier
	}

	domainSuffix := mapping.DomainSuffix
	if domainSuffix == "" {
		domainSuffix = DefaultDomainSuffix
	}

	return &Normalizer{
		aliases:      aliases,
		carrier:      carrier,
		domainSuffix: domainSuffix,
		defaults:     mapping.Defaults,
	}
}

// Pattern replaces every digit run in key with "*".
func Pattern(key string) string {
	return digitRun.ReplaceAllString(key, "*")
}

// Run maps raw keys onto canonical fields. Keys are visited in natural
// order so that "category.2" precedes "category.10".
func (n *Normalizer) Run(raw RawItem) Fields {
	fields := make(Fields)

	for _, key := range sortedKeys(raw) {
		if strings.HasSuffix(key, n.domainSuffix) {
			continue
		}

		value := raw[key]
		pattern := strings.ToLower(Pattern(key))

		name := key
		if pattern == n.carrier {
			name = n.routeTaxonomy(raw[key+n.domainSuffix])
		} else if alias, ok := n.aliases[pattern]; ok {
			name = alias
		}

		switch name {
		case FieldCategories, FieldTags:
			fields.appendValue(name, value)
		default:
			if _, ok := fields[name]; !ok || fields[name] == "" {
				fields[name] = value
			}
		}
	}

	for name, value := range n.defaults {
		if fields[name] == "" {
			fields[name] = value
		}
	}

	return fields
}

// routeTaxonomy picks the target list for a carrier value. Values without a
// domain are treated as categories.
func (n *Normalizer) routeTaxonomy(domain string) string {
	domain = strings.TrimSpace(domain)
	if domain == "" || strings.EqualFold(domain, "category") {
		return FieldCategories
	}
	return FieldTags
}

func (f Fields) appendValue(name, value string) {
	value = strings.TrimSpace(value)
	if value == "" {
		return
	}
	if existing := f[name]; existing != "" {
		f[name] = existing + "," + value
		return
	}
	f[name] = value
}

func sortedKeys(raw RawItem) []string {
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return naturalLess(keys[i], keys[j]) })
	return keys
}

// naturalLess compares strings treating digit runs as numbers.
func naturalLess(a, b string) bool {
	for a != "" && b != "" {
		da, db := leadingDigits(a), leadingDigits(b)
		if da != "" && db != "" {
			na, _ := strconv.Atoi(da)
			nb, _ := strconv.Atoi(db)
			if na != nb {
				return na < nb
			}
			a, b = a[len(da):], b[len(db):]
			continue
		}
		if a[0] != b[0] {
			return a[0] < b[0]
		}
		a, b = a[1:], b[1:]
	}
	return len(a) < len(b)
}

func leadingDigits(s string) string {
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	return s[:i]
}
