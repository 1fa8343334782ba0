// Package detector decides when a probe fetch needs a browser rerun.
package detector

import (
	"bytes"

	"github.com/TeacherLi07/essayhelper/internal/crawler"
)

// Heuristic flags responses that look client-side rendered: empty bodies,
// small script-dominated documents, and known SPA shell markers.
type Heuristic struct {
	BodyLengthThreshold int
}

// NewHeuristic creates a detector. Bodies shorter than threshold bytes are
// inspected for script density; non-positive thresholds fall back to 2048.
func NewHeuristic(threshold int) *Heuristic {
	if threshold <= 0 {
		threshold = 2048
	}
	return &Heuristic{BodyLengthThreshold: threshold}
}

var spaMarkers = [][]byte{
	[]byte("__next"),
	[]byte("window.__nuxt__"),
	[]byte(`id="root"`),
	[]byte(`id="app"`),
	[]byte("data-reactroot"),
}

// ShouldPromote decides whether a headless fetch is required. Error statuses
// never promote; retrying those in a browser would just replay the failure.
func (h *Heuristic) ShouldPromote(resp crawler.FetchResponse) bool {
	if resp.StatusCode != 200 {
		return false
	}
	if len(resp.Body) == 0 {
		return true
	}
	body := bytes.ToLower(resp.Body)
	if len(body) < h.BodyLengthThreshold && scriptDensityHigh(body) {
		return true
	}
	for _, marker := range spaMarkers {
		if bytes.Contains(body, marker) {
			return true
		}
	}
	return false
}

// scriptDensityHigh reports whether script tags cover at least a quarter of
// the (lowercased) document.
func scriptDensityHigh(body []byte) bool {
	total := len(body)
	if total == 0 {
		return false
	}

	var (
		openTag  = []byte("<script")
		closeTag = []byte("</script>")
	)
	coverage := 0
	pos := 0

	for pos < total {
		rel := bytes.Index(body[pos:], openTag)
		if rel == -1 {
			break
		}
		start := pos + rel

		tagEnd := bytes.IndexByte(body[start:], '>')
		if tagEnd == -1 {
			// Malformed open tag, count the rest of the document.
			coverage += total - start
			break
		}
		contentStart := start + tagEnd + 1

		end := bytes.Index(body[contentStart:], closeTag)
		var next int
		if end == -1 {
			// Script never closes; count the rest.
			next = total
		} else {
			next = contentStart + end + len(closeTag)
		}

		coverage += next - start
		pos = next
	}

	if coverage == 0 {
		return false
	}
	return coverage*100/total >= 25
}
