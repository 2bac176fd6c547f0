package extract

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const maxTags = 10

// Site is a host-specific field extractor.
type Site struct {
	Name    string
	Pattern string // substring of the lowercase host
	Extract func(doc *goquery.Document, page *url.URL, fields map[string]any)
}

// Registry maps host patterns to site extractors. The first match wins.
type Registry struct {
	sites []Site
}

// NewRegistry builds a Registry from sites in match order.
func NewRegistry(sites ...Site) *Registry {
	return &Registry{sites: sites}
}

// Register appends a site.
func (r *Registry) Register(site Site) {
	r.sites = append(r.sites, site)
}

// Lookup returns the site extractor for host.
func (r *Registry) Lookup(host string) (Site, bool) {
	host = strings.ToLower(host)
	for _, s := range r.sites {
		if s.Pattern != "" && strings.Contains(host, s.Pattern) {
			return s, true
		}
	}
	return Site{}, false
}

// DefaultRegistry knows the music sites in the default target list.
func DefaultRegistry() *Registry {
	return NewRegistry(
		Site{Name: "ultimate_guitar", Pattern: "ultimate-guitar.com", Extract: ultimateGuitar},
		Site{Name: "bandcamp", Pattern: "bandcamp.com", Extract: bandcamp},
		Site{Name: "lastfm", Pattern: "last.fm", Extract: lastFM},
		Site{Name: "discogs", Pattern: "discogs.com", Extract: discogs},
		Site{Name: "soundcloud", Pattern: "soundcloud.com", Extract: soundcloud},
		Site{Name: "musicbrainz", Pattern: "musicbrainz.org", Extract: musicBrainz},
		Site{Name: "pitchfork", Pattern: "pitchfork.com", Extract: pitchfork},
		Site{Name: "allmusic", Pattern: "allmusic.com", Extract: allMusic},
	)
}

func setText(doc *goquery.Document, fields map[string]any, key string, selectors ...string) {
	for _, sel := range selectors {
		if text := cleanText(doc.Find(sel).First().Text()); text != "" {
			fields[key] = text
			return
		}
	}
}

func setAttr(doc *goquery.Document, fields map[string]any, key, selector, attr string) {
	if v, ok := doc.Find(selector).First().Attr(attr); ok && v != "" {
		fields[key] = v
	}
}

func setList(doc *goquery.Document, fields map[string]any, key, selector string) {
	var items []string
	doc.Find(selector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if text := cleanText(s.Text()); text != "" {
			items = append(items, text)
		}
		return len(items) < maxTags
	})
	if len(items) > 0 {
		fields[key] = items
	}
}

func ultimateGuitar(doc *goquery.Document, _ *url.URL, fields map[string]any) {
	setText(doc, fields, "song_title", ".t_title", "h1")
	setText(doc, fields, "artist", ".t_artist")
	setText(doc, fields, "tab_type", ".js-tab-type")
	setText(doc, fields, "rating", ".rating")
	setText(doc, fields, "difficulty", ".difficulty")
}

func bandcamp(doc *goquery.Document, _ *url.URL, fields map[string]any) {
	setText(doc, fields, "track_title", ".trackTitle")
	setText(doc, fields, "artist", ".band-name", "#band-name-location .title")
	setAttr(doc, fields, "album_art", ".popupImage img", "src")
	setList(doc, fields, "tags", ".tag")
	setText(doc, fields, "price", ".price")
}

func lastFM(doc *goquery.Document, page *url.URL, fields map[string]any) {
	path := page.Path
	if canonical, ok := doc.Find(`link[rel="canonical"]`).First().Attr("href"); ok {
		if u, err := url.Parse(canonical); err == nil {
			path = u.Path
		}
	}
	fields["page_type"] = lastFMPageType(path)
	setText(doc, fields, "title", ".header-new-title", "h1")
	setList(doc, fields, "tags", ".tag")
}

func lastFMPageType(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) == 0 || parts[0] != "music" {
		return "other"
	}
	switch {
	case len(parts) >= 4 && parts[2] == "_":
		return "track"
	case len(parts) >= 3 && parts[2] != "+wiki":
		return "album"
	case len(parts) >= 2:
		return "artist"
	default:
		return "other"
	}
}

func discogs(doc *goquery.Document, _ *url.URL, fields map[string]any) {
	setText(doc, fields, "title", ".profile-title", "h1")
	setText(doc, fields, "artist", ".profile-artist")
	setText(doc, fields, "year", ".profile-year")
	setText(doc, fields, "genre", ".profile-genre")
	setText(doc, fields, "style", ".profile-style")
	setText(doc, fields, "format", ".profile-format")
}

func soundcloud(doc *goquery.Document, _ *url.URL, fields map[string]any) {
	setAttr(doc, fields, "title", `meta[property="og:title"]`, "content")
	setAttr(doc, fields, "artist", `meta[property="soundcloud:user"]`, "content")
	setAttr(doc, fields, "play_count", `meta[property="soundcloud:play_count"]`, "content")
}

func musicBrainz(doc *goquery.Document, page *url.URL, fields map[string]any) {
	if parts := strings.Split(strings.Trim(page.Path, "/"), "/"); len(parts) > 0 && parts[0] != "" {
		fields["entity_type"] = parts[0]
	}
	setText(doc, fields, "title", "h1")
}

func pitchfork(doc *goquery.Document, _ *url.URL, fields map[string]any) {
	setText(doc, fields, "score", ".score")
	setText(doc, fields, "artist", ".artist-links li", ".artist-links")
	setList(doc, fields, "genres", ".genre-list li")
}

func allMusic(doc *goquery.Document, _ *url.URL, fields map[string]any) {
	setText(doc, fields, "title", "h1")
	setText(doc, fields, "artist", ".album-artist", ".artist")
	setText(doc, fields, "rating", ".allmusic-rating")
}
