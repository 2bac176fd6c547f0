package crawler

import "testing"

func TestDomainAllowList(t *testing.T) {
	t.Run("bare domain admits subdomains", func(t *testing.T) {
		l := NewDomainAllowList([]string{"Last.fm"})
		cases := []struct {
			host    string
			allowed bool
		}{
			{"last.fm", true},
			{"www.last.fm", true},
			{"LAST.FM.", true},
			{"notlast.fm", false},
			{"last.fm.evil.com", false},
		}
		for _, tc := range cases {
			if got := l.Allows(tc.host); got != tc.allowed {
				t.Fatalf("host %q allowed=%v, want %v", tc.host, got, tc.allowed)
			}
		}
	})

	t.Run("wildcard is subdomains only", func(t *testing.T) {
		l := NewDomainAllowList([]string{"*.bandcamp.com"})
		if !l.Allows("artist.bandcamp.com") {
			t.Fatalf("expected subdomain to match")
		}
		if l.Allows("bandcamp.com") {
			t.Fatalf("did not expect apex to match wildcard")
		}
	})

	t.Run("urls", func(t *testing.T) {
		l := NewDomainAllowList([]string{"discogs.com"})
		if !l.AllowsURL("https://www.discogs.com:443/release/1") {
			t.Fatalf("expected url to match")
		}
		if l.AllowsURL("mailto:someone@discogs.com") {
			t.Fatalf("did not expect hostless url to match")
		}
	})

	t.Run("nil list", func(t *testing.T) {
		var l *DomainAllowList
		if l.Allows("anything") {
			t.Fatalf("nil list should admit nothing")
		}
	})
}
