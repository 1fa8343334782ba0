package crawler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/TeacherLi07/essayhelper/internal/article"
	"github.com/TeacherLi07/essayhelper/internal/config"
)

const (
	bjnewsSourceName    = "bjnews"
	bjnewsListURL       = "https://api.bjnews.com.cn/api/v101/news/column_news.php"
	bjnewsDetailURLFmt  = "https://m.bjnews.com.cn/detail/%s.html"
	bjnewsListAgent     = "Mozilla/5.0 (Linux; Android 10; Pixel 3) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Mobile Safari/537.36"
	bjnewsDetailAgent   = "Mozilla/5.0 (iPhone; CPU iPhone OS 13_2_3 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/13.0.3 Mobile/15E148 Safari/604.1"
	bjnewsContentPath   = "body > div:nth-child(3) > div.main"
	bjnewsContentLoose  = "div.main"
	bjnewsStripSelector = "div.author, div.invideo"
)

// BjNews walks the Beijing News reading-channel column API and parses the
// mobile detail pages it links to.
type BjNews struct {
	fetcher Fetcher
	cfg     config.BjNewsConfig
	logger  *zap.Logger
}

// NewBjNews builds the bjnews source.
func NewBjNews(fetcher Fetcher, cfg config.BjNewsConfig, logger *zap.Logger) *BjNews {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BjNews{fetcher: fetcher, cfg: cfg, logger: logger}
}

// Name implements Source.
func (s *BjNews) Name() string { return bjnewsSourceName }

// Pages implements Source.
func (s *BjNews) Pages() (int, int) {
	start, end := s.cfg.StartPage, s.cfg.EndPage
	if start <= 0 {
		start = 1
	}
	if end < start {
		end = start
	}
	return start, end
}

// ListDelay implements Source. The column API tolerates a short cadence.
func (s *BjNews) ListDelay() time.Duration {
	return Jitter(time.Duration(s.cfg.ListDelaySeconds)*time.Second, time.Second)
}

// DetailDelay implements Source.
func (s *BjNews) DetailDelay() time.Duration {
	return Jitter(time.Duration(s.cfg.DetailDelaySeconds)*time.Second, 2*time.Second)
}

type bjnewsListing struct {
	Code int                 `json:"code"`
	Msg  string              `json:"msg"`
	Data []bjnewsListingItem `json:"data"`
}

type bjnewsListingItem struct {
	UUID string          `json:"uuid"`
	Row  json.RawMessage `json:"row"`
}

type bjnewsRow struct {
	Title       string `json:"title"`
	PublishTime string `json:"publish_time"`
}

// ListPage implements Source. The column API answers XHR-style requests
// with a JSON envelope listing article UUIDs and display metadata.
func (s *BjNews) ListPage(ctx context.Context, page int) ([]PageRef, error) {
	listURL := fmt.Sprintf("%s?page=%d&column_id=%d", bjnewsListURL, page, s.cfg.ColumnID)
	headers := http.Header{}
	headers.Set("User-Agent", bjnewsListAgent)
	headers.Set("X-Requested-With", "XMLHttpRequest")
	headers.Set("Accept", "application/json, text/javascript, */*; q=0.01")

	resp, err := s.fetcher.Fetch(ctx, FetchRequest{URL: listURL, Headers: headers})
	if err != nil {
		return nil, fmt.Errorf("fetch bjnews listing page %d: %w", page, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("bjnews listing page %d returned status %d", page, resp.StatusCode)
	}

	var listing bjnewsListing
	if err := json.Unmarshal(resp.Body, &listing); err != nil {
		return nil, fmt.Errorf("decode bjnews listing page %d: %w", page, err)
	}
	if listing.Code != 0 {
		return nil, fmt.Errorf("bjnews listing page %d returned code %d: %s", page, listing.Code, listing.Msg)
	}

	refs := make([]PageRef, 0, len(listing.Data))
	for _, item := range listing.Data {
		if item.UUID == "" {
			s.logger.Debug("bjnews listing entry without uuid skipped", zap.Int("page", page))
			continue
		}
		var row bjnewsRow
		if len(item.Row) > 0 {
			if err := json.Unmarshal(item.Row, &row); err != nil {
				s.logger.Warn("bjnews listing row malformed",
					zap.String("uuid", item.UUID), zap.Error(err))
			}
		}
		rawUUID, err := json.Marshal(item.UUID)
		if err != nil {
			return nil, fmt.Errorf("encode bjnews uuid: %w", err)
		}
		extra := map[string]json.RawMessage{"uuid": rawUUID}
		if len(item.Row) > 0 {
			extra["row"] = item.Row
		}
		refs = append(refs, PageRef{
			Source:      bjnewsSourceName,
			ArticleID:   bjnewsSourceName + "_" + item.UUID,
			Title:       row.Title,
			URL:         fmt.Sprintf(bjnewsDetailURLFmt, item.UUID),
			PublishDate: row.PublishTime,
			Extra:       extra,
		})
	}
	return refs, nil
}

// DetailRequest implements Source. Detail pages are served for mobile
// Safari user agents.
func (s *BjNews) DetailRequest(ref PageRef) FetchRequest {
	headers := http.Header{}
	headers.Set("User-Agent", bjnewsDetailAgent)
	return FetchRequest{URL: ref.URL, Headers: headers}
}

// ParseDetail implements Source. A missing content container yields an
// article with empty content rather than an error so that the reference
// is not refetched forever.
func (s *BjNews) ParseDetail(ref PageRef, body []byte) (article.Article, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return article.Article{}, fmt.Errorf("parse bjnews detail %s: %w", ref.ArticleID, err)
	}

	title := strings.TrimSpace(doc.Find("h1.detail_title").First().Text())
	if title == "" {
		title = ref.Title
	}

	container := doc.Find(bjnewsContentPath).First()
	if container.Length() == 0 {
		container = doc.Find(bjnewsContentLoose).First()
	}
	content := ""
	if container.Length() > 0 {
		container.Find(bjnewsStripSelector).Remove()
		content = blockText(container)
	}

	return article.Article{
		ID:          ref.ArticleID,
		Title:       title,
		Content:     content,
		PublishDate: ref.PublishDate,
		URL:         ref.URL,
		Source:      bjnewsSourceName,
		Extra:       ref.Extra,
	}, nil
}
