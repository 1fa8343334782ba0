package detector

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/TeacherLi07/essayhelper/internal/crawler"
)

func TestHeuristicPromotesEmptyBody(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(100)
	resp := crawler.FetchResponse{
		StatusCode: 200,
		Body:       []byte(""),
	}
	require.True(t, h.ShouldPromote(resp))
}

func TestHeuristicPromotesSPAMarkers(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(100)
	for _, body := range []string{
		`<div id="__next"></div>`,
		`<div ID="ROOT"></div>`,
		`<div data-reactroot></div>`,
	} {
		resp := crawler.FetchResponse{
			StatusCode: 200,
			Body:       []byte(body),
		}
		require.True(t, h.ShouldPromote(resp), "body %q", body)
	}
}

func TestHeuristicPromotesScriptHeavyStubs(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(1000)
	resp := crawler.FetchResponse{
		StatusCode: 200,
		Body:       []byte(`<html><script>var a=1;</script><p>t</p></html>`),
	}
	require.True(t, h.ShouldPromote(resp))
}

func TestHeuristicKeepsFullArticles(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(100)
	body := "<html><body><article>" + strings.Repeat("server rendered text ", 20) + "</article></body></html>"
	resp := crawler.FetchResponse{
		StatusCode: 200,
		Body:       []byte(body),
	}
	require.False(t, h.ShouldPromote(resp))
}

func TestHeuristicSkipsErrorStatuses(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(100)
	resp := crawler.FetchResponse{
		StatusCode: 404,
		Body:       []byte("not found"),
	}
	require.False(t, h.ShouldPromote(resp))
}

func TestHeuristicDefaultThreshold(t *testing.T) {
	t.Parallel()

	require.Equal(t, 2048, NewHeuristic(0).BodyLengthThreshold)
	require.Equal(t, 2048, NewHeuristic(-5).BodyLengthThreshold)
	require.Equal(t, 512, NewHeuristic(512).BodyLengthThreshold)
}

func TestScriptDensityUnclosedTags(t *testing.T) {
	t.Parallel()

	require.True(t, scriptDensityHigh([]byte(`<html><script>var a`)))
	require.False(t, scriptDensityHigh([]byte(strings.Repeat("plain text ", 10))))
}
