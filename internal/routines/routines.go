// Package routines holds the built-in collection routines.
package routines

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jonesrussell/north-cloud/scraparr/internal/ratelimit"
	"github.com/jonesrussell/north-cloud/scraparr/internal/runtime"
	"github.com/jonesrussell/north-cloud/scraparr/internal/schema"
)

// Routine names.
const (
	GeoGridName  = "geo_grid"
	JSONAPIName  = "json_api"
	HTMLListName = "html_list"
)

// autoItemsKeys are tried, in order, when a JSON response is an object and
// no items key is configured.
var autoItemsKeys = []string{"lieux", "items", "results", "data", "records"}

// errNoItems is returned when a JSON response holds no recognizable list.
var errNoItems = errors.New("response holds no item list")

// TableWriter persists rows into the scraper's namespace. *schema.Namespace
// satisfies it.
type TableWriter interface {
	Upsert(ctx context.Context, table string, rows []schema.Row, keyColumns []string) (int64, error)
	Append(ctx context.Context, table string, rows []schema.Row) (int64, error)
}

// Register adds the built-in routines to reg.
func Register(reg *runtime.Registry) error {
	descriptors := []runtime.Descriptor{
		{
			Name:        GeoGridName,
			Kind:        runtime.KindAPI,
			Description: "Sweeps a region cell by cell over a JSON places endpoint, deduplicating by id with resumable progress",
			Factory:     func() runtime.Routine { return &GeoGrid{} },
		},
		{
			Name:        JSONAPIName,
			Kind:        runtime.KindAPI,
			Description: "Pages through a JSON API and upserts records by id",
			Factory:     func() runtime.Routine { return &JSONAPI{} },
		},
		{
			Name:        HTMLListName,
			Kind:        runtime.KindWeb,
			Description: "Collects listing items from HTML pages with CSS selectors, following next-page links",
			Factory:     func() runtime.Routine { return &HTMLList{} },
		},
	}
	for _, d := range descriptors {
		if err := reg.Register(d); err != nil {
			return err
		}
	}
	return nil
}

// decodeItems extracts the item list from a JSON body: a top-level array, the
// configured key, or the first known list key. Numbers keep their text form.
func decodeItems(body []byte, itemsKey string) ([]map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var payload any
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	var list []any
	switch v := payload.(type) {
	case []any:
		list = v
	case map[string]any:
		keys := autoItemsKeys
		if itemsKey != "" {
			keys = []string{itemsKey}
		}
		for _, k := range keys {
			if l, ok := v[k].([]any); ok {
				list = l
				break
			}
		}
		if list == nil {
			if itemsKey != "" {
				return nil, fmt.Errorf("%w under key %q", errNoItems, itemsKey)
			}
			return nil, errNoItems
		}
	default:
		return nil, errNoItems
	}

	items := make([]map[string]any, 0, len(list))
	for _, raw := range list {
		if m, ok := raw.(map[string]any); ok {
			items = append(items, m)
		}
	}
	return items, nil
}

// idString renders an id value as text; empty when absent.
func idString(v any) string {
	switch id := v.(type) {
	case nil:
		return ""
	case string:
		return id
	case json.Number:
		return id.String()
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64)
	default:
		return fmt.Sprint(id)
	}
}

// floatValue reads a coordinate-like value.
func floatValue(v any) (float64, bool) {
	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}

// firstString returns the first non-empty string field of item.
func firstString(item map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := item[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// newDelayer builds a random delay from seconds, falling back to defaults.
func newDelayer(minSeconds, maxSeconds *float64, rps float64) (*ratelimit.RandomDelay, error) {
	minDelay, maxDelay := ratelimit.DefaultMinDelay, ratelimit.DefaultMaxDelay
	if minSeconds != nil {
		minDelay = seconds(*minSeconds)
	}
	if maxSeconds != nil {
		maxDelay = seconds(*maxSeconds)
	}
	if minDelay > maxDelay && maxSeconds == nil {
		maxDelay = minDelay
	}

	var opts []ratelimit.Option
	if rps > 0 {
		opts = append(opts, ratelimit.WithCeiling(rps, 1))
	}
	return ratelimit.NewRandomDelay(minDelay, maxDelay, opts...)
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
