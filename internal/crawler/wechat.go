package crawler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/TeacherLi07/essayhelper/internal/article"
	"github.com/TeacherLi07/essayhelper/internal/config"
)

const (
	wechatSourceName = "wechat"
	wechatListURL    = "https://mp.weixin.qq.com/cgi-bin/appmsg"
	wechatPageSize   = 5
	wechatAgent      = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36"
)

// Publish timestamps format in China Standard Time regardless of where
// the crawler runs.
var wechatTZ = time.FixedZone("CST", 8*60*60)

// Wechat lists an official account's published articles through the MP
// platform backend, which requires an authenticated session cookie and
// token, and parses the public article pages.
type Wechat struct {
	fetcher Fetcher
	cfg     config.WechatConfig
	logger  *zap.Logger
}

// NewWechat builds the wechat source.
func NewWechat(fetcher Fetcher, cfg config.WechatConfig, logger *zap.Logger) *Wechat {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Wechat{fetcher: fetcher, cfg: cfg, logger: logger}
}

// Name implements Source.
func (s *Wechat) Name() string { return wechatSourceName }

// Pages implements Source.
func (s *Wechat) Pages() (int, int) {
	start, end := s.cfg.StartPage, s.cfg.EndPage
	if start <= 0 {
		start = 1
	}
	if end < start {
		end = start
	}
	return start, end
}

// ListDelay implements Source. The MP backend rate-limits aggressively,
// so listing pages keep the same cadence as detail fetches.
func (s *Wechat) ListDelay() time.Duration {
	return Jitter(time.Duration(s.cfg.DelaySeconds)*time.Second, 2*time.Second)
}

// DetailDelay implements Source.
func (s *Wechat) DetailDelay() time.Duration {
	return Jitter(time.Duration(s.cfg.DelaySeconds)*time.Second, 2*time.Second)
}

type wechatListing struct {
	BaseResp   wechatBaseResp  `json:"base_resp"`
	AppMsgList []wechatListRow `json:"app_msg_list"`
	AppMsgCnt  int             `json:"app_msg_cnt"`
}

type wechatBaseResp struct {
	Ret    int    `json:"ret"`
	ErrMsg string `json:"err_msg"`
}

type wechatListRow struct {
	AID        string `json:"aid"`
	AppMsgID   int64  `json:"appmsgid"`
	Title      string `json:"title"`
	Link       string `json:"link"`
	Digest     string `json:"digest"`
	CreateTime int64  `json:"create_time"`
}

// ListPage implements Source.
func (s *Wechat) ListPage(ctx context.Context, page int) ([]PageRef, error) {
	query := url.Values{}
	query.Set("action", "list_ex")
	query.Set("begin", strconv.Itoa((page-1)*wechatPageSize))
	query.Set("count", strconv.Itoa(wechatPageSize))
	query.Set("fakeid", s.cfg.FakeID)
	query.Set("type", "9")
	query.Set("token", s.cfg.Token)
	query.Set("lang", "zh_CN")
	query.Set("f", "json")
	query.Set("ajax", "1")

	headers := http.Header{}
	headers.Set("User-Agent", wechatAgent)
	headers.Set("Cookie", s.cfg.Cookie)

	resp, err := s.fetcher.Fetch(ctx, FetchRequest{URL: wechatListURL + "?" + query.Encode(), Headers: headers})
	if err != nil {
		return nil, fmt.Errorf("fetch wechat listing page %d: %w", page, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("wechat listing page %d returned status %d", page, resp.StatusCode)
	}

	var listing wechatListing
	if err := json.Unmarshal(resp.Body, &listing); err != nil {
		return nil, fmt.Errorf("decode wechat listing page %d: %w", page, err)
	}
	if listing.BaseResp.Ret != 0 {
		// ret 200013 is the MP backend's frequency control, ret 200003
		// an expired session.
		return nil, fmt.Errorf("wechat listing page %d returned ret %d: %s",
			page, listing.BaseResp.Ret, listing.BaseResp.ErrMsg)
	}

	refs := make([]PageRef, 0, len(listing.AppMsgList))
	for _, row := range listing.AppMsgList {
		if row.Link == "" {
			s.logger.Debug("wechat listing entry without link skipped", zap.Int("page", page))
			continue
		}
		extra := map[string]json.RawMessage{}
		if row.AID != "" {
			if raw, err := json.Marshal(row.AID); err == nil {
				extra["aid"] = raw
			}
		}
		if row.Digest != "" {
			if raw, err := json.Marshal(row.Digest); err == nil {
				extra["digest"] = raw
			}
		}
		refs = append(refs, PageRef{
			Source:      wechatSourceName,
			ArticleID:   wechatArticleID(row),
			Title:       row.Title,
			URL:         row.Link,
			PublishDate: time.Unix(row.CreateTime, 0).In(wechatTZ).Format("2006-01-02 15:04:05"),
			Author:      s.cfg.Account,
			Extra:       extra,
		})
	}
	return refs, nil
}

// wechatArticleID derives a stable identifier so a refetched listing maps
// to the same stored article. The aid field already combines the message
// id with the position inside a multi-article push.
func wechatArticleID(row wechatListRow) string {
	if row.AID != "" {
		return wechatSourceName + "_" + row.AID
	}
	return fmt.Sprintf("%s_%d", wechatSourceName, row.AppMsgID)
}

// DetailRequest implements Source. Article pages are public and need no
// session cookie.
func (s *Wechat) DetailRequest(ref PageRef) FetchRequest {
	headers := http.Header{}
	headers.Set("User-Agent", wechatAgent)
	return FetchRequest{URL: ref.URL, Headers: headers}
}

// ParseDetail implements Source.
func (s *Wechat) ParseDetail(ref PageRef, body []byte) (article.Article, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return article.Article{}, fmt.Errorf("parse wechat detail %s: %w", ref.ArticleID, err)
	}

	title := strings.TrimSpace(doc.Find("h1#activity-name").First().Text())
	if title == "" {
		title = ref.Title
	}
	author := strings.TrimSpace(doc.Find("#js_name").First().Text())
	if author == "" {
		author = ref.Author
	}

	content := ""
	if container := doc.Find("div#js_content").First(); container.Length() > 0 {
		content = blockText(container)
	}

	return article.Article{
		ID:          ref.ArticleID,
		Title:       title,
		Content:     content,
		PublishDate: ref.PublishDate,
		URL:         ref.URL,
		Source:      wechatSourceName,
		Author:      author,
		Extra:       ref.Extra,
	}, nil
}
