package acquire

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Candidate is a URL believed to reference a PDF, plus the name of the pattern
// that produced it.
type Candidate struct {
	URL     string
	Pattern string
}

// Matcher scans raw page HTML for a PDF reference. Matchers are tried in
// order and the first hit wins; this is a deliberate precedence, not an
// exhaustive search.
type Matcher struct {
	Name string
	Find func(html string) (string, bool)
}

var (
	jsonURLRe        = regexp.MustCompile(`"url"\s*:\s*"([^"]*?\.pdf[^"]*?)"`)
	scriptRedirectRe = regexp.MustCompile(`window\.location\.href\s*=\s*['"]([^'"]+\.pdf[^'"]*)['"]`)
)

// DefaultMatchers is the ordered heuristic list observed across the source
// archives we scrape. New archive layouts get a new matcher appended here;
// orchestration code never changes.
func DefaultMatchers() []Matcher {
	return []Matcher{
		{Name: "anchor_href", Find: findAnchorHref},
		{Name: "data_id_attr", Find: findDataIDAttr},
		{Name: "json_url", Find: findJSONURL},
		{Name: "script_redirect", Find: findScriptRedirect},
	}
}

func findAnchorHref(html string) (string, bool) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", false
	}
	var match string
	doc.Find("a[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href, _ := s.Attr("href")
		if hasPDFPath(href) {
			match = href
			return false
		}
		return true
	})
	return match, match != ""
}

func findDataIDAttr(html string) (string, bool) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", false
	}
	var match string
	doc.Find("[data-id]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		id, _ := s.Attr("data-id")
		if strings.Contains(strings.ToLower(id), ".pdf") {
			match = id
			return false
		}
		return true
	})
	return match, match != ""
}

func findJSONURL(html string) (string, bool) {
	m := jsonURLRe.FindStringSubmatch(html)
	if m == nil {
		return "", false
	}
	// JSON-embedded URLs often escape slashes.
	return strings.ReplaceAll(m[1], `\/`, "/"), true
}

func findScriptRedirect(html string) (string, bool) {
	m := scriptRedirectRe.FindStringSubmatch(html)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// hasPDFPath reports whether the URL path ends in .pdf, ignoring any query
// string or fragment.
func hasPDFPath(raw string) bool {
	if raw == "" {
		return false
	}
	if i := strings.IndexAny(raw, "?#"); i >= 0 {
		raw = raw[:i]
	}
	return strings.HasSuffix(strings.ToLower(raw), ".pdf")
}

// Locator applies an ordered list of matchers to page HTML.
type Locator struct {
	matchers []Matcher
}

// NewLocator returns a Locator with the default matcher list.
func NewLocator() *Locator {
	return &Locator{matchers: DefaultMatchers()}
}

// NewLocatorWithMatchers returns a Locator with a custom matcher list.
func NewLocatorWithMatchers(matchers []Matcher) *Locator {
	return &Locator{matchers: matchers}
}

// Locate scans the HTML for a PDF reference. Relative candidates are resolved
// against baseURL. Returns NotFoundError when no pattern matches.
func (l *Locator) Locate(html, baseURL string) (*Candidate, error) {
	for _, m := range l.matchers {
		raw, ok := m.Find(html)
		if !ok {
			continue
		}
		resolved, err := resolveCandidate(raw, baseURL)
		if err != nil {
			continue
		}
		return &Candidate{URL: resolved, Pattern: m.Name}, nil
	}
	return nil, &NotFoundError{URL: baseURL}
}

func resolveCandidate(raw, baseURL string) (string, error) {
	ref, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", err
	}
	if ref.IsAbs() {
		return ref.String(), nil
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return "", err
	}
	return base.ResolveReference(ref).String(), nil
}
