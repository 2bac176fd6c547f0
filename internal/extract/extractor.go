// Package extract turns fetched HTML into structured records with
// goquery. Extraction never fails: malformed input yields a partial record.
package extract

import (
	"bytes"
	"encoding/json"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/polite-crawler/internal/crawler"
)

const (
	maxTitleLen       = 500
	maxDescriptionLen = 1000
	maxKeywordsLen    = 500
	maxTextSampleLen  = 1000
)

var mainContentSelectors = []string{
	"main",
	"article",
	".content",
	".main-content",
	".post-content",
	".entry-content",
	"#content",
}

var musicTerms = []string{
	"album", "artist", "song", "track", "lyrics", "chord", "tab",
	"guitar", "bass", "drum", "genre", "release", "band", "tour",
}

var musicSchemaTypes = map[string]struct{}{
	"MusicRecording": {},
	"MusicAlbum":     {},
	"MusicGroup":     {},
}

// Extractor implements crawler.Extractor.
type Extractor struct {
	registry *Registry
	now      func() time.Time
	logger   *zap.Logger
}

// New builds an Extractor. A nil registry uses DefaultRegistry.
func New(registry *Registry, logger *zap.Logger) *Extractor {
	if registry == nil {
		registry = DefaultRegistry()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{
		registry: registry,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   logger,
	}
}

// Extract implements crawler.Extractor.
func (e *Extractor) Extract(body []byte, pageURL string) (out crawler.Extraction) {
	out = crawler.Extraction{Fields: map[string]any{}, ExtractedAt: e.now()}
	defer func() {
		if r := recover(); r != nil {
			e.logger.Warn("extraction panicked; returning partial record",
				zap.String("url", pageURL), zap.Any("panic", r))
		}
	}()

	base, err := url.Parse(pageURL)
	if err != nil {
		e.logger.Debug("unparseable page url", zap.String("url", pageURL), zap.Error(err))
		base = &url.URL{}
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		e.logger.Debug("html parse failed", zap.String("url", pageURL), zap.Error(err))
		return out
	}

	out.Title = truncate(cleanText(doc.Find("title").First().Text()), maxTitleLen)
	out.Description = truncate(metaContent(doc, `meta[name="description"]`), maxDescriptionLen)
	out.Keywords = truncate(metaContent(doc, `meta[name="keywords"]`), maxKeywordsLen)
	out.Links = extractLinks(doc, base, isSitemap(base, body))

	if og := prefixedMeta(doc, `meta[property^="og:"]`, "property", "og:"); len(og) > 0 {
		out.Fields["open_graph"] = og
	}
	if tc := prefixedMeta(doc, `meta[name^="twitter:"]`, "name", "twitter:"); len(tc) > 0 {
		out.Fields["twitter_card"] = tc
	}
	if ld, ok := firstJSONLD(doc); ok {
		out.Fields["json_ld"] = ld
		if schemaType := schemaTypeOf(ld); schemaType != "" {
			out.Fields["schema_type"] = schemaType
		}
	}
	if site, ok := e.registry.Lookup(base.Hostname()); ok {
		site.Extract(doc, base, out.Fields)
		out.Fields["site"] = site.Name
	}

	// Text extraction mutates the document, so it runs last.
	text := textSample(doc)
	out.TextSample = truncate(text, maxTextSampleLen)
	if counts := termCounts(text); len(counts) > 0 {
		out.Fields["music_terms"] = counts
	}
	return out
}

func metaContent(doc *goquery.Document, selector string) string {
	content, _ := doc.Find(selector).First().Attr("content")
	return cleanText(content)
}

func prefixedMeta(doc *goquery.Document, selector, attr, prefix string) map[string]string {
	out := map[string]string{}
	doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
		key, _ := s.Attr(attr)
		content, _ := s.Attr("content")
		key = strings.TrimPrefix(key, prefix)
		if key == "" || content == "" {
			return
		}
		if _, exists := out[key]; !exists {
			out[key] = cleanText(content)
		}
	})
	return out
}

func firstJSONLD(doc *goquery.Document) (any, bool) {
	var (
		result any
		found  bool
	)
	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if err := json.Unmarshal([]byte(s.Text()), &result); err != nil {
			return true
		}
		found = true
		return false
	})
	return result, found
}

func schemaTypeOf(ld any) string {
	switch v := ld.(type) {
	case map[string]any:
		if t, ok := v["@type"].(string); ok {
			if _, music := musicSchemaTypes[t]; music {
				return t
			}
		}
		if graph, ok := v["@graph"].([]any); ok {
			return schemaTypeOf(graph)
		}
	case []any:
		for _, item := range v {
			if t := schemaTypeOf(item); t != "" {
				return t
			}
		}
	}
	return ""
}

func isSitemap(base *url.URL, body []byte) bool {
	if strings.HasSuffix(strings.ToLower(base.Path), ".xml") {
		return true
	}
	head := body
	if len(head) > 512 {
		head = head[:512]
	}
	return bytes.Contains(head, []byte("<urlset")) || bytes.Contains(head, []byte("<sitemapindex"))
}

func extractLinks(doc *goquery.Document, base *url.URL, sitemap bool) []string {
	seen := map[string]struct{}{}
	var links []string
	add := func(raw string) {
		raw = strings.TrimSpace(raw)
		if raw == "" || strings.HasPrefix(raw, "#") {
			return
		}
		ref, err := url.Parse(raw)
		if err != nil {
			return
		}
		abs := base.ResolveReference(ref)
		if (abs.Scheme != "http" && abs.Scheme != "https") || abs.Host == "" {
			return
		}
		abs.Fragment = ""
		abs.RawFragment = ""
		s := abs.String()
		if _, dup := seen[s]; dup {
			return
		}
		seen[s] = struct{}{}
		links = append(links, s)
	}

	if sitemap {
		doc.Find("loc").Each(func(_ int, s *goquery.Selection) {
			add(s.Text())
		})
	}
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		add(href)
	})
	return links
}

func textSample(doc *goquery.Document) string {
	doc.Find("script, style, nav, footer, header, noscript").Remove()
	for _, selector := range mainContentSelectors {
		if text := cleanText(doc.Find(selector).First().Text()); text != "" {
			return text
		}
	}
	return cleanText(doc.Find("body").Text())
}

func termCounts(text string) map[string]int {
	lower := strings.ToLower(text)
	counts := map[string]int{}
	for _, term := range musicTerms {
		if n := strings.Count(lower, term); n > 0 {
			counts[term] = n
		}
	}
	return counts
}

func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit])
}
