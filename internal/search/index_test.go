package search

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flitsinc/collabhub/internal/collab"
)

func mustParse(t *testing.T, line string) collab.Event {
	t.Helper()
	evt, ok := collab.ParseLine(line)
	require.True(t, ok, "parse %s", line)
	return evt
}

func openIndex(t *testing.T) *Index {
	t.Helper()
	idx, err := Open()
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func TestSearchIsCaseInsensitiveAndOrdered(t *testing.T) {
	ctx := context.Background()
	idx := openIndex(t)
	events := []collab.Event{
		mustParse(t, `{"from":"claude_code","to":"clawbot","message":"Deploy the API","session_id":"s1"}`),
		mustParse(t, `{"from":"clawbot","to":"claude_code","message":"nothing here","session_id":"s1"}`),
		mustParse(t, `{"from":"clawbot","to":"claude_code","message":"api deployed","session_id":"s2"}`),
	}
	require.NoError(t, idx.Rebuild(ctx, events))

	seqs, err := idx.Search(ctx, Query{Keyword: "API"})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 2}, seqs)

	seqs, err = idx.Search(ctx, Query{Keyword: "api", Session: "s2"})
	require.NoError(t, err)
	assert.Equal(t, []int{2}, seqs)

	seqs, err = idx.Search(ctx, Query{Keyword: "api", Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, []int{0}, seqs)

	_, err = idx.Search(ctx, Query{Keyword: "  "})
	assert.Error(t, err)
}

func TestRebuildReplacesContents(t *testing.T) {
	ctx := context.Background()
	idx := openIndex(t)
	require.NoError(t, idx.Rebuild(ctx, []collab.Event{mustParse(t, `{"message":"old"}`)}))
	require.NoError(t, idx.Rebuild(ctx, []collab.Event{mustParse(t, `{"message":"new"}`)}))

	seqs, err := idx.Search(ctx, Query{Keyword: "old"})
	require.NoError(t, err)
	assert.Empty(t, seqs)

	require.NoError(t, idx.Add(ctx, 1, mustParse(t, `{"message":"newer"}`)))
	seqs, err = idx.Search(ctx, Query{Keyword: "new"})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, seqs)
}

func TestDirectionsAndSummary(t *testing.T) {
	ctx := context.Background()
	idx := openIndex(t)
	events := []collab.Event{
		mustParse(t, `{"from":"claude_code","to":"clawbot","message":"abcd","timestamp":"2024-01-01T10:00:00Z"}`),
		mustParse(t, `{"from":"claude_code","to":"clawbot","message":"ab","timestamp":"2024-01-01T09:00:00Z"}`),
		mustParse(t, `{"from":"clawbot","message":"x"}`),
		mustParse(t, `{"to":"clawbot"}`),
	}
	require.NoError(t, idx.Rebuild(ctx, events))

	dirs, err := idx.Directions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []Direction{
		{From: "?", To: "clawbot", Count: 1},
		{From: "claude_code", To: "clawbot", Count: 2},
		{From: "clawbot", To: "?", Count: 1},
	}, dirs)

	sum, err := idx.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, sum.Total)
	assert.InDelta(t, 7.0/4.0, sum.AvgMessageLength, 0.0001)
	assert.Equal(t, "2024-01-01T09:00:00Z", sum.FirstEvent)
	assert.Equal(t, "2024-01-01T10:00:00Z", sum.LastEvent)
}

func TestSummaryOnEmptyIndex(t *testing.T) {
	idx := openIndex(t)
	sum, err := idx.Summary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Summary{}, sum)
}
