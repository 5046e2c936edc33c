package routines

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/jonesrussell/north-cloud/scraparr/internal/domain"
	"github.com/jonesrussell/north-cloud/scraparr/internal/ratelimit"
	"github.com/jonesrussell/north-cloud/scraparr/internal/runtime"
	"github.com/jonesrussell/north-cloud/scraparr/internal/schema"
)

const (
	itemsTable          = "items"
	defaultHTMLMaxPages = 10
	maxItemTextLength   = 2000
)

var itemsSpec = schema.TableSpec{
	Name: itemsTable,
	Columns: []schema.Column{
		{Name: "link", Type: schema.TypeText, NotNull: true},
		{Name: "title", Type: schema.TypeText},
		{Name: "text", Type: schema.TypeText},
		{Name: "page_url", Type: schema.TypeText, NotNull: true},
		{Name: "scraped_at", Type: schema.TypeTimestamp, NotNull: true, Default: schema.DefaultNow},
	},
	PrimaryKey: []string{"link"},
}

type htmlListConfig struct {
	StartURL      string `mapstructure:"start_url"`
	ItemSelector  string `mapstructure:"item_selector"`
	TitleSelector string `mapstructure:"title_selector"`
	LinkSelector  string `mapstructure:"link_selector"`
	LinkAttr      string `mapstructure:"link_attr"`
	NextSelector  string `mapstructure:"next_selector"`
	MaxPages      int    `mapstructure:"max_pages"`
}

type htmlListParams struct {
	StartURL          string   `mapstructure:"start_url"`
	MaxPages          int      `mapstructure:"max_pages"`
	MinDelay          *float64 `mapstructure:"min_delay"`
	MaxDelay          *float64 `mapstructure:"max_delay"`
	RequestsPerSecond float64  `mapstructure:"requests_per_second"`
}

// HTMLList collects listing items from HTML pages. Items are keyed by their
// resolved link; links already stored are kept as first seen.
type HTMLList struct {
	Writer  TableWriter
	Delayer ratelimit.Delayer

	cfg htmlListConfig
}

// Tables declares the items table.
func (h *HTMLList) Tables() []schema.TableSpec {
	return []schema.TableSpec{itemsSpec}
}

// ValidateParams checks the selectors, that a start URL is known and the
// delay range.
func (h *HTMLList) ValidateParams(config map[string]any, params runtime.Params) error {
	cfg, err := decodeHTMLListConfig(config)
	if err != nil {
		return err
	}
	_, err = decodeHTMLListParams(cfg, params)
	return err
}

// Before loads the configuration and rejects unusable params.
func (h *HTMLList) Before(_ context.Context, env *runtime.Env, params runtime.Params) error {
	cfg, err := decodeHTMLListConfig(env.Config)
	if err != nil {
		return err
	}
	if _, err = decodeHTMLListParams(cfg, params); err != nil {
		return err
	}
	h.cfg = cfg
	return nil
}

func decodeHTMLListConfig(config map[string]any) (htmlListConfig, error) {
	cfg := htmlListConfig{LinkSelector: "a", LinkAttr: "href", MaxPages: defaultHTMLMaxPages}
	if err := runtime.DecodeConfig(config, &cfg); err != nil {
		return cfg, err
	}
	if cfg.ItemSelector == "" {
		return cfg, &domain.ValidationError{Field: "config.item_selector", Message: "is required"}
	}
	return cfg, nil
}

// decodeHTMLListParams resolves params against cfg; start_url and
// max_pages in params override the configuration.
func decodeHTMLListParams(cfg htmlListConfig, params runtime.Params) (htmlListParams, error) {
	var p htmlListParams
	if err := runtime.DecodeParams(params, &p); err != nil {
		return p, err
	}
	if p.StartURL == "" {
		p.StartURL = cfg.StartURL
	}
	if p.StartURL == "" {
		return p, &domain.ValidationError{Field: "config.start_url", Message: "is required"}
	}
	if p.MaxPages <= 0 {
		p.MaxPages = cfg.MaxPages
	}
	if _, err := newDelayer(p.MinDelay, p.MaxDelay, p.RequestsPerSecond); err != nil {
		return p, &domain.ValidationError{Field: "params", Message: err.Error()}
	}
	return p, nil
}

// Scrape walks pages from the start URL along next links.
func (h *HTMLList) Scrape(ctx context.Context, env *runtime.Env, params runtime.Params) ([]runtime.Record, error) {
	p, err := decodeHTMLListParams(h.cfg, params)
	if err != nil {
		return nil, err
	}
	start, maxPages := p.StartURL, p.MaxPages

	delayer := h.Delayer
	if delayer == nil {
		rd, delayErr := newDelayer(p.MinDelay, p.MaxDelay, p.RequestsPerSecond)
		if delayErr != nil {
			return nil, &domain.ValidationError{Field: "params", Message: delayErr.Error()}
		}
		delayer = rd
	}
	writer := h.Writer
	if writer == nil {
		writer = env.Namespace
	}

	var (
		records []runtime.Record
		visited = make(map[string]bool)
		links   = make(map[string]bool)
		pageURL = start
	)
	for page := 0; page < maxPages && pageURL != "" && !visited[pageURL]; page++ {
		if page > 0 {
			if err := delayer.Wait(ctx); err != nil {
				return records, err
			}
		}
		visited[pageURL] = true

		doc, base, err := h.fetch(ctx, env, pageURL)
		if err != nil {
			return records, err
		}

		rows, pageRecords := h.extract(doc, base, pageURL, links)
		if len(rows) > 0 {
			if _, err := writer.Append(ctx, itemsTable, rows); err != nil {
				return records, fmt.Errorf("store items from %s: %w", pageURL, err)
			}
		}
		records = append(records, pageRecords...)
		env.Infof("Page %d (%s): %d items", page+1, pageURL, len(pageRecords))
		env.ReportProgress(len(records), fmt.Sprintf("page %d", page+1))

		pageURL = h.nextURL(doc, base)
	}

	env.SetMetric("pages", len(visited))
	env.SetMetric("items", len(records))
	return records, nil
}

func (h *HTMLList) fetch(ctx context.Context, env *runtime.Env, pageURL string) (*goquery.Document, *url.URL, error) {
	res, err := env.HTTP.R().SetContext(ctx).Get(pageURL)
	if err != nil {
		return nil, nil, fmt.Errorf("fetch %s: %w", pageURL, err)
	}
	if res.StatusCode() != http.StatusOK {
		return nil, nil, fmt.Errorf("fetch %s: unexpected status %d", pageURL, res.StatusCode())
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(res.Body()))
	if err != nil {
		return nil, nil, fmt.Errorf("parse %s: %w", pageURL, err)
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse url %s: %w", pageURL, err)
	}
	return doc, base, nil
}

func (h *HTMLList) extract(
	doc *goquery.Document,
	base *url.URL,
	pageURL string,
	links map[string]bool,
) ([]schema.Row, []runtime.Record) {
	now := time.Now().UTC()
	var (
		rows    []schema.Row
		records []runtime.Record
	)

	doc.Find(h.cfg.ItemSelector).Each(func(_ int, item *goquery.Selection) {
		linkSel := item
		if !item.Is(h.cfg.LinkSelector) {
			linkSel = item.Find(h.cfg.LinkSelector).First()
		}
		href, ok := linkSel.Attr(h.cfg.LinkAttr)
		if !ok {
			return
		}
		link := resolve(base, href)
		if link == "" || links[link] {
			return
		}
		links[link] = true

		title := strings.TrimSpace(linkSel.Text())
		if h.cfg.TitleSelector != "" {
			if t := strings.TrimSpace(item.Find(h.cfg.TitleSelector).First().Text()); t != "" {
				title = t
			}
		}
		text := truncate(strings.Join(strings.Fields(item.Text()), " "), maxItemTextLength)

		rows = append(rows, schema.Row{
			"link":       link,
			"title":      title,
			"text":       text,
			"page_url":   pageURL,
			"scraped_at": now,
		})
		records = append(records, runtime.Record{"link": link, "title": title, "text": text})
	})
	return rows, records
}

func (h *HTMLList) nextURL(doc *goquery.Document, base *url.URL) string {
	if h.cfg.NextSelector == "" {
		return ""
	}
	href, ok := doc.Find(h.cfg.NextSelector).First().Attr("href")
	if !ok {
		return ""
	}
	return resolve(base, href)
}

// resolve turns href into an absolute http(s) URL without fragment.
func resolve(base *url.URL, href string) string {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return ""
	}
	abs := base.ResolveReference(ref)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return ""
	}
	abs.Fragment = ""
	return abs.String()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
