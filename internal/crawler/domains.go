package crawler

import "strings"

// DomainAllowList matches hosts against the configured target domains.
// A bare domain admits itself and every subdomain; "*.example.com" and
// ".example.com" admit subdomains only.
type DomainAllowList struct {
	exact    map[string]struct{}
	suffixes []string
}

// NewDomainAllowList compiles patterns. An empty list admits nothing.
func NewDomainAllowList(patterns []string) *DomainAllowList {
	list := &DomainAllowList{
		exact: make(map[string]struct{}),
	}
	for _, raw := range patterns {
		value := strings.TrimSpace(strings.ToLower(raw))
		if value == "" {
			continue
		}
		switch {
		case strings.HasPrefix(value, "*."):
			list.addSuffix(strings.TrimPrefix(value, "*."))
		case strings.HasPrefix(value, "."):
			list.addSuffix(strings.TrimPrefix(value, "."))
		default:
			list.exact[value] = struct{}{}
			list.addSuffix(value)
		}
	}
	return list
}

func (l *DomainAllowList) addSuffix(suffix string) {
	if suffix == "" {
		return
	}
	for _, existing := range l.suffixes {
		if existing == suffix {
			return
		}
	}
	l.suffixes = append(l.suffixes, suffix)
}

// Allows reports whether host belongs to a target domain.
func (l *DomainAllowList) Allows(host string) bool {
	if l == nil {
		return false
	}
	host = strings.TrimSuffix(strings.TrimSpace(strings.ToLower(host)), ".")
	if host == "" {
		return false
	}
	if _, ok := l.exact[host]; ok {
		return true
	}
	for _, suffix := range l.suffixes {
		if strings.HasSuffix(host, "."+suffix) {
			return true
		}
	}
	return false
}

// AllowsURL reports whether rawURL's host belongs to a target domain.
func (l *DomainAllowList) AllowsURL(rawURL string) bool {
	host, err := HostOf(rawURL)
	if err != nil {
		return false
	}
	return l.Allows(host)
}

// Domains returns the configured bare domains.
func (l *DomainAllowList) Domains() []string {
	out := make([]string, 0, len(l.exact))
	for d := range l.exact {
		out = append(out, d)
	}
	return out
}
