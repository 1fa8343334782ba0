package crawler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// PageRef is one article reference discovered on a source listing page.
// ArticleID is the stable corpus identifier, e.g. "bjnews_<uuid>".
type PageRef struct {
	Source      string
	ArticleID   string
	Title       string
	URL         string
	PublishDate string
	Author      string
	// Extra carries listing metadata that is preserved verbatim in the
	// stored article JSON.
	Extra map[string]json.RawMessage
}

// PageJob is one unit of crawl work flowing through the queue.
type PageJob struct {
	RunID uuid.UUID
	Ref   PageRef
}

// RobotsStatus reports the outcome of the robots.txt probe performed
// alongside a fetch.
type RobotsStatus string

// Robots probe outcomes.
const (
	RobotsStatusUnknown       RobotsStatus = ""
	RobotsStatusOK            RobotsStatus = "ok"
	RobotsStatusIndeterminate RobotsStatus = "indeterminate"
)

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL         string
	Headers     http.Header
	UseHeadless bool
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	FetchedAt    time.Time
	UsedHeadless bool
	RobotsStatus RobotsStatus
	RobotsReason string
}
