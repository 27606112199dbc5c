// Package sources defines the source catalog model, the uniform Candidate
// record and the adapters that turn feeds, pages and APIs into candidates.
package sources

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Type is the transport family of a source.
type Type string

const (
	TypeFeed Type = "feed"
	TypeAPI  Type = "api"
	TypeHTML Type = "html"
)

// Kind selects the concrete integration used for a source. It is assigned
// when the catalog is built so routing never depends on source names.
type Kind string

const (
	KindFeed           Kind = "feed"
	KindHTMLHeadings   Kind = "html_headings"
	KindHTMLStatistics Kind = "html_statistics"
	KindONSTimeseries  Kind = "ons_timeseries"
	KindBLSTimeseries  Kind = "bls_timeseries"
	KindCKANSearch     Kind = "ckan_search"
	KindBigQueryTrends Kind = "bigquery_trends"
	KindNagerHolidays  Kind = "nager_holidays"
	KindHackerNews     Kind = "hackernews"
	KindGenericJSON    Kind = "generic_json"
)

// kindTypes maps every known kind to the transport it belongs to.
var kindTypes = map[Kind]Type{
	KindFeed:           TypeFeed,
	KindHTMLHeadings:   TypeHTML,
	KindHTMLStatistics: TypeHTML,
	KindONSTimeseries:  TypeAPI,
	KindBLSTimeseries:  TypeAPI,
	KindCKANSearch:     TypeAPI,
	KindBigQueryTrends: TypeAPI,
	KindNagerHolidays:  TypeAPI,
	KindHackerNews:     TypeAPI,
	KindGenericJSON:    TypeAPI,
}

// ErrInvalidSource reports a structurally incomplete source definition.
var ErrInvalidSource = errors.New("invalid source")

// DefaultKind returns the kind used when a catalog entry omits one.
func DefaultKind(t Type) Kind {
	switch t {
	case TypeFeed:
		return KindFeed
	case TypeHTML:
		return KindHTMLHeadings
	default:
		return KindGenericJSON
	}
}

// Source is one entry of the catalog.
type Source struct {
	Type          Type              `yaml:"type" json:"type"`
	Kind          Kind              `yaml:"kind,omitempty" json:"kind"`
	Name          string            `yaml:"name" json:"name"`
	URL           string            `yaml:"url" json:"url"`
	Tags          []string          `yaml:"tags,omitempty" json:"tags"`
	UpdateCadence string            `yaml:"update_cadence,omitempty" json:"update_cadence,omitempty"`
	Mode          string            `yaml:"-" json:"mode,omitempty"`
	Params        map[string]string `yaml:"params,omitempty" json:"params,omitempty"`
}

// Resolve fills the default kind and lower-cases tags.
func (s Source) Resolve() Source {
	if s.Kind == "" {
		s.Kind = DefaultKind(s.Type)
	}
	if len(s.Tags) > 0 {
		tags := make([]string, 0, len(s.Tags))
		for _, t := range s.Tags {
			if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
				tags = append(tags, t)
			}
		}
		s.Tags = tags
	}
	return s
}

// Validate checks the structural shape of a source.
func (s Source) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidSource)
	}
	if strings.TrimSpace(s.URL) == "" {
		return fmt.Errorf("%w: url is required", ErrInvalidSource)
	}
	if u, err := url.Parse(s.URL); err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("%w: url %q is not an absolute http(s) URL", ErrInvalidSource, s.URL)
	}
	switch s.Type {
	case TypeFeed, TypeAPI, TypeHTML:
	case "":
		return fmt.Errorf("%w: type is required", ErrInvalidSource)
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidSource, s.Type)
	}
	kind := s.Kind
	if kind == "" {
		kind = DefaultKind(s.Type)
	}
	t, ok := kindTypes[kind]
	if !ok {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidSource, kind)
	}
	if t != s.Type {
		return fmt.Errorf("%w: kind %q belongs to type %q, not %q", ErrInvalidSource, kind, t, s.Type)
	}
	return nil
}

// HasTag reports whether the source carries tag (case-insensitive).
func (s Source) HasTag(tag string) bool {
	for _, t := range s.Tags {
		if strings.EqualFold(t, tag) {
			return true
		}
	}
	return false
}

// Param returns Params[key] or def when unset.
func (s Source) Param(key, def string) string {
	if v, ok := s.Params[key]; ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

// KnownKinds lists every routable kind.
func KnownKinds() []Kind {
	return []Kind{
		KindFeed, KindHTMLHeadings, KindHTMLStatistics, KindONSTimeseries,
		KindBLSTimeseries, KindCKANSearch, KindBigQueryTrends, KindNagerHolidays,
		KindHackerNews, KindGenericJSON,
	}
}
