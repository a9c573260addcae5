package crawler

import (
	"bytes"
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

var cssURLPattern = regexp.MustCompile(`(?i)url\(\s*["']?([^"')\s]+)["']?\s*\)`)

var (
	fontExtensions  = []string{".woff", ".woff2", ".ttf", ".otf"}
	imageExtensions = []string{".jpg", ".jpeg", ".png", ".gif", ".svg", ".webp"}
)

// ExtractedContent is everything pulled out of one HTML document.
type ExtractedContent struct {
	Title       string
	Description string
	Links       []string
	Assets      map[AssetType][]string
}

// AssetCount returns the number of asset URLs across all categories.
func (c ExtractedContent) AssetCount() int {
	total := 0
	for _, urls := range c.Assets {
		total += len(urls)
	}
	return total
}

// Extractor pulls titles, links, and asset references out of raw HTML with a
// streaming tokenizer. It tolerates malformed markup and never fails: what it
// cannot read is left empty.
type Extractor struct{}

// NewExtractor returns an Extractor.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// Extract scans rawHTML fetched from baseURL. Links outside scope are
// dropped; a nil scope keeps every link.
func (e *Extractor) Extract(rawHTML []byte, baseURL string, scope *Scope) ExtractedContent {
	c := newCollector(baseURL, scope)
	z := html.NewTokenizer(bytes.NewReader(rawHTML))

	var inTitle, inStyle bool
	for {
		switch z.Next() {
		case html.ErrorToken:
			return c.content()
		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			tag := string(name)
			attrs := readAttrs(z, hasAttr)
			c.handleTag(tag, attrs)
			switch tag {
			case "title":
				inTitle = c.title == ""
			case "style":
				inStyle = true
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "title":
				inTitle = false
			case "style":
				inStyle = false
			}
		case html.TextToken:
			if inTitle {
				c.title = strings.TrimSpace(string(z.Text()))
				inTitle = false
			} else if inStyle {
				c.scanCSS(string(z.Text()))
			}
		}
	}
}

func readAttrs(z *html.Tokenizer, hasAttr bool) map[string]string {
	attrs := make(map[string]string)
	for hasAttr {
		var key, val []byte
		key, val, hasAttr = z.TagAttr()
		k := strings.ToLower(string(key))
		if _, ok := attrs[k]; !ok {
			attrs[k] = string(val)
		}
	}
	return attrs
}

type collector struct {
	base        string
	scope       *Scope
	title       string
	description string
	links       uniqueList
	assets      map[AssetType]*uniqueList
}

func newCollector(base string, scope *Scope) *collector {
	assets := make(map[AssetType]*uniqueList, len(AssetTypes))
	for _, t := range AssetTypes {
		assets[t] = &uniqueList{}
	}
	return &collector{base: base, scope: scope, assets: assets}
}

func (c *collector) handleTag(tag string, attrs map[string]string) {
	switch tag {
	case "meta":
		if c.description == "" && strings.EqualFold(strings.TrimSpace(attrs["name"]), "description") {
			c.description = strings.TrimSpace(attrs["content"])
		}
	case "a":
		link := NormalizeURL(attrs["href"], c.base)
		if link != "" && c.scope.Contains(link) {
			c.links.add(link)
		}
	case "link":
		if isStylesheet(attrs) {
			if u := NormalizeURL(attrs["href"], c.base); u != "" {
				c.assets[AssetCSS].add(u)
			}
		}
	case "script":
		if u := NormalizeURL(attrs["src"], c.base); u != "" && strings.HasSuffix(strings.ToLower(pathOf(u)), ".js") {
			c.assets[AssetJS].add(u)
		}
	case "img":
		if u := NormalizeURL(attrs["src"], c.base); u != "" {
			c.assets[AssetImage].add(u)
		}
	}
	if style, ok := attrs["style"]; ok {
		c.scanCSS(style)
	}
}

func (c *collector) scanCSS(css string) {
	for _, m := range cssURLPattern.FindAllStringSubmatch(css, -1) {
		u := NormalizeURL(m[1], c.base)
		if u == "" {
			continue
		}
		lower := strings.ToLower(u)
		switch {
		case containsAny(lower, fontExtensions):
			c.assets[AssetFont].add(u)
		case containsAny(lower, imageExtensions):
			c.assets[AssetImage].add(u)
		default:
			c.assets[AssetOther].add(u)
		}
	}
}

func (c *collector) content() ExtractedContent {
	assets := make(map[AssetType][]string, len(c.assets))
	for t, list := range c.assets {
		assets[t] = list.values()
	}
	return ExtractedContent{
		Title:       c.title,
		Description: c.description,
		Links:       c.links.values(),
		Assets:      assets,
	}
}

func isStylesheet(attrs map[string]string) bool {
	if strings.Contains(strings.ToLower(attrs["rel"]), "stylesheet") {
		return true
	}
	for _, key := range []string{"href", "type", "rel"} {
		if strings.Contains(strings.ToLower(attrs[key]), "css") {
			return true
		}
	}
	return false
}

func pathOf(normalized string) string {
	p, _, _ := strings.Cut(normalized, "?")
	return p
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

// uniqueList keeps first-seen order while dropping duplicates.
type uniqueList struct {
	seen  map[string]struct{}
	items []string
}

func (l *uniqueList) add(v string) {
	if l.seen == nil {
		l.seen = make(map[string]struct{})
	}
	if _, ok := l.seen[v]; ok {
		return
	}
	l.seen[v] = struct{}{}
	l.items = append(l.items, v)
}

func (l *uniqueList) values() []string {
	return append([]string{}, l.items...)
}
