package crawler

import (
	"context"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/TeacherLi07/essayhelper/internal/config"
)

func wechatTestConfig() config.WechatConfig {
	return config.WechatConfig{
		Enabled:      true,
		Cookie:       "session=abc",
		Token:        "1234567890",
		FakeID:       "MzA5NDc2NTY1Mg==",
		Account:      "新京报书评周刊",
		StartPage:    1,
		EndPage:      1,
		DelaySeconds: 5,
	}
}

func TestWechatListPage(t *testing.T) {
	t.Parallel()

	listing := `{
		"base_resp": {"ret": 0, "err_msg": "ok"},
		"app_msg_cnt": 120,
		"app_msg_list": [
			{"aid": "2247658606_1", "appmsgid": 2247658606, "title": "一周书单", "link": "https://mp.weixin.qq.com/s?__biz=x&mid=1", "digest": "编辑部在读", "create_time": 1700000000},
			{"aid": "", "appmsgid": 2247658590, "title": "无aid", "link": "https://mp.weixin.qq.com/s?__biz=x&mid=2", "create_time": 1700000000},
			{"aid": "2247658500_1", "appmsgid": 2247658500, "title": "无链接", "link": "", "create_time": 1700000000}
		]
	}`

	var captured FetchRequest
	fetcher := &funcFetcher{fn: func(_ context.Context, req FetchRequest) (FetchResponse, error) {
		captured = req
		return FetchResponse{URL: req.URL, StatusCode: 200, Body: []byte(listing)}, nil
	}}
	src := NewWechat(fetcher, wechatTestConfig(), nil)

	refs, err := src.ListPage(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, refs, 2, "entries without link are dropped")

	require.Equal(t, "wechat_2247658606_1", refs[0].ArticleID)
	require.Equal(t, "wechat", refs[0].Source)
	require.Equal(t, "一周书单", refs[0].Title)
	require.Equal(t, "新京报书评周刊", refs[0].Author)
	require.Equal(t, "2023-11-15 06:13:20", refs[0].PublishDate)
	require.JSONEq(t, `"编辑部在读"`, string(refs[0].Extra["digest"]))

	// Missing aid falls back to the numeric message id.
	require.Equal(t, "wechat_2247658590", refs[1].ArticleID)

	require.True(t, strings.HasPrefix(captured.URL, "https://mp.weixin.qq.com/cgi-bin/appmsg?"))
	parsed, err := url.Parse(captured.URL)
	require.NoError(t, err)
	query := parsed.Query()
	require.Equal(t, "list_ex", query.Get("action"))
	require.Equal(t, "5", query.Get("begin"), "page 2 starts after the first five messages")
	require.Equal(t, "5", query.Get("count"))
	require.Equal(t, "9", query.Get("type"))
	require.Equal(t, "1234567890", query.Get("token"))
	require.Equal(t, "MzA5NDc2NTY1Mg==", query.Get("fakeid"))
	require.Equal(t, "session=abc", captured.Headers.Get("Cookie"))
}

func TestWechatListPageSessionError(t *testing.T) {
	t.Parallel()

	fetcher := &funcFetcher{fn: func(_ context.Context, req FetchRequest) (FetchResponse, error) {
		return FetchResponse{URL: req.URL, StatusCode: 200,
			Body: []byte(`{"base_resp": {"ret": 200003, "err_msg": "invalid session"}}`)}, nil
	}}
	src := NewWechat(fetcher, wechatTestConfig(), nil)

	_, err := src.ListPage(context.Background(), 1)
	require.ErrorContains(t, err, "ret 200003")
	require.ErrorContains(t, err, "invalid session")
}

func TestWechatParseDetail(t *testing.T) {
	t.Parallel()

	page := `<html><body>
<h1 class="rich_media_title" id="activity-name">
  被重读的经典
</h1>
<span id="js_name"> 新京报书评周刊 </span>
<div class="rich_media_content" id="js_content">
  <p>导语部分。</p>
  <section><span>正文第一段。</span></section>
  <p>正文第二段。</p>
  <script>var tracking = 1;</script>
</div>
</body></html>`

	src := NewWechat(&funcFetcher{}, wechatTestConfig(), nil)
	ref := PageRef{
		Source:      "wechat",
		ArticleID:   "wechat_2247658606_1",
		Title:       "列表标题",
		URL:         "https://mp.weixin.qq.com/s?__biz=x&mid=1",
		PublishDate: "2023-11-15 06:13:20",
		Author:      "新京报书评周刊",
	}

	art, err := src.ParseDetail(ref, []byte(page))
	require.NoError(t, err)
	require.Equal(t, "wechat_2247658606_1", art.ID)
	require.Equal(t, "被重读的经典", art.Title)
	require.Equal(t, "新京报书评周刊", art.Author)
	require.Equal(t, "导语部分。\n正文第一段。\n正文第二段。", art.Content)
	require.Equal(t, "wechat", art.Source)
	require.Equal(t, "2023-11-15 06:13:20", art.PublishDate)
}

func TestWechatParseDetailFallsBackToListing(t *testing.T) {
	t.Parallel()

	src := NewWechat(&funcFetcher{}, wechatTestConfig(), nil)
	ref := PageRef{ArticleID: "wechat_1", Title: "列表标题", Author: "新京报书评周刊"}

	art, err := src.ParseDetail(ref, []byte(`<html><body><div id="js_content"></div></body></html>`))
	require.NoError(t, err)
	require.Equal(t, "列表标题", art.Title)
	require.Equal(t, "新京报书评周刊", art.Author)
	require.Empty(t, art.Content)
}

// funcFetcher adapts a function to the Fetcher interface.
type funcFetcher struct {
	fn func(ctx context.Context, req FetchRequest) (FetchResponse, error)
}

func (f *funcFetcher) Fetch(ctx context.Context, req FetchRequest) (FetchResponse, error) {
	if f.fn == nil {
		return FetchResponse{}, nil
	}
	return f.fn(ctx, req)
}
