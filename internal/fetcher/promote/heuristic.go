package promote

import (
	"bytes"
	"mime"
	"net/http"
	"strings"

	"golang.org/x/net/html"

	"github.com/JakeFAU/web-archiver/internal/crawler"
)

const (
	defaultTextThreshold = 2048
	scriptSharePercent   = 25
)

// mountIDs are element ids client-side frameworks render into.
var mountIDs = map[string]struct{}{
	"__next": {},
	"__nuxt": {},
	"root":   {},
	"app":    {},
}

// Heuristic flags documents that are mostly script with little server
// rendered text.
type Heuristic struct {
	// TextThreshold is the visible text length below which a script-heavy
	// page is considered unrendered.
	TextThreshold int
}

// NewHeuristic creates a detector. A non-positive threshold uses the default.
func NewHeuristic(textThreshold int) *Heuristic {
	if textThreshold <= 0 {
		textThreshold = defaultTextThreshold
	}
	return &Heuristic{TextThreshold: textThreshold}
}

// NeedsRender reports whether resp should be fetched again in a browser.
// Only successful HTML responses are candidates.
func (h *Heuristic) NeedsRender(resp crawler.FetchResponse) bool {
	if resp.StatusCode != http.StatusOK || !isHTML(resp.Headers) {
		return false
	}
	if len(bytes.TrimSpace(resp.Body)) == 0 {
		return true
	}
	stats := scan(resp.Body)
	if stats.mountPoint && stats.textBytes < h.TextThreshold {
		return true
	}
	if stats.scriptBytes == 0 {
		return false
	}
	return stats.textBytes < h.TextThreshold && stats.scriptBytes*100/len(resp.Body) >= scriptSharePercent
}

type docStats struct {
	scriptBytes int
	textBytes   int
	mountPoint  bool
}

func scan(body []byte) docStats {
	var (
		stats    docStats
		inScript bool
		skipText int
	)
	z := html.NewTokenizer(bytes.NewReader(body))
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			return stats
		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			tag := string(name)
			if tag == "script" && tt == html.StartTagToken {
				inScript = true
			}
			if (tag == "style" || tag == "noscript") && tt == html.StartTagToken {
				skipText++
			}
			for hasAttr {
				var key, val []byte
				key, val, hasAttr = z.TagAttr()
				switch string(key) {
				case "id":
					if _, ok := mountIDs[string(val)]; ok {
						stats.mountPoint = true
					}
				case "data-reactroot", "ng-app", "data-v-app":
					stats.mountPoint = true
				}
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "script":
				inScript = false
			case "style", "noscript":
				if skipText > 0 {
					skipText--
				}
			}
		case html.TextToken:
			text := z.Text()
			if inScript {
				stats.scriptBytes += len(text)
				continue
			}
			if skipText == 0 {
				stats.textBytes += len(strings.TrimSpace(string(text)))
			}
		}
	}
}

func isHTML(headers http.Header) bool {
	ct := headers.Get("Content-Type")
	if ct == "" {
		return true
	}
	mediaType, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return false
	}
	return mediaType == "text/html" || mediaType == "application/xhtml+xml"
}
