package crawler

import "strings"

// SeedPriority is the frontier priority of seed URLs.
const SeedPriority = 10

var seedPaths = map[string][]string{
	"ultimate-guitar.com": {"/tabs", "/chords"},
	"bandcamp.com":        {"/discover", "/tag"},
	"last.fm":             {"/music", "/charts"},
}

// SeedURLs builds the starting URLs for each target domain: the home
// page, the sitemap, robots.txt, and a few domain-specific listings.
func SeedURLs(domains []string) []string {
	urls := make([]string, 0, len(domains)*3)
	for _, raw := range domains {
		domain := strings.TrimPrefix(strings.TrimPrefix(strings.ToLower(strings.TrimSpace(raw)), "*."), ".")
		if domain == "" {
			continue
		}
		base := "https://" + domain
		urls = append(urls, base+"/", base+"/sitemap.xml", base+"/robots.txt")
		for _, path := range seedPaths[domain] {
			urls = append(urls, base+path)
		}
	}
	return urls
}
