package journal

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJournalRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bot.journal")

	w, err := Open(path)
	require.NoError(t, err)
	stamp := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	w.SetClock(func() time.Time { return stamp })

	require.NoError(t, w.Append(Entry{
		Kind:    KindSignal,
		Symbol:  "BTCUSDT",
		Message: "entry signal accepted",
		Fields:  map[string]interface{}{"price": "100.50", "confidence": 0.8},
	}))
	require.NoError(t, w.Append(Entry{
		Kind:    KindRejection,
		Symbol:  "BTCUSDT",
		Message: "duplicate order suppressed",
	}))
	require.NoError(t, w.Close())

	entries, err := Read(path)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, KindSignal, entries[0].Kind)
	assert.Equal(t, "BTCUSDT", entries[0].Symbol)
	assert.Equal(t, "100.50", entries[0].Fields["price"])
	assert.True(t, entries[0].At.Equal(stamp))
	assert.Equal(t, KindRejection, entries[1].Kind)
}

func TestJournalAppendsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bot.journal")

	w, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, w.Append(Entry{Kind: KindOrder, Message: "first"}))
	require.NoError(t, w.Close())

	w, err = Open(path)
	require.NoError(t, err)
	require.NoError(t, w.Append(Entry{Kind: KindOrder, Message: "second"}))
	require.NoError(t, w.Close())

	entries, err := Read(path)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "first", entries[0].Message)
	assert.Equal(t, "second", entries[1].Message)
}

func TestJournalReadMissingFile(t *testing.T) {
	_, err := Read(filepath.Join(t.TempDir(), "absent.journal"))
	require.Error(t, err)
}
