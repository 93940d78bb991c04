package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rajchodisetti/feedsync/internal/feed"
)

func TestJournalSkipsStaleBars(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "feed.jsonl")
	j, err := OpenJournal(path)
	require.NoError(t, err)

	bars := minuteBars(3)
	for _, b := range bars {
		ok, err := j.WriteBar("aapl", b)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := j.WriteBar("aapl", bars[1])
	require.NoError(t, err)
	assert.False(t, ok, "older bar must be skipped")

	ok, err = j.WriteBar("msft", bars[0])
	require.NoError(t, err)
	assert.True(t, ok, "feeds are tracked independently")

	require.NoError(t, j.WriteNotification(feed.Notification{Feed: "aapl", Status: feed.StatusUnknown, Code: 2104, Time: t0}))

	var types []string
	var status StatusRecord
	require.NoError(t, ReadJournal(path, func(e Entry) error {
		types = append(types, e.Type+":"+e.Feed)
		if e.Type == "status" {
			require.NoError(t, json.Unmarshal(e.Data, &status))
		}
		return nil
	}))
	assert.Equal(t, []string{"bar:aapl", "bar:aapl", "bar:aapl", "bar:msft", "status:aapl"}, types)
	assert.Equal(t, "unknown", status.Status)
	assert.Equal(t, 2104, status.Code)
}

func TestJournalReopenResumes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "feed.jsonl")
	j, err := OpenJournal(path)
	require.NoError(t, err)
	bars := minuteBars(4)
	require.NoError(t, j.Save(context.Background(), "aapl", bars[2]))

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("not json\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	j, err = OpenJournal(path)
	require.NoError(t, err)
	ok, err := j.WriteBar("aapl", bars[1])
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = j.WriteBar("aapl", bars[3])
	require.NoError(t, err)
	assert.True(t, ok)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 3, strings.Count(string(data), "\n"))
}

func TestReadJournalMissing(t *testing.T) {
	err := ReadJournal(filepath.Join(t.TempDir(), "none.jsonl"), func(Entry) error { return nil })
	assert.ErrorIs(t, err, os.ErrNotExist)
}
