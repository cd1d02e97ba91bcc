package harness

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatreplay/chatreplay/internal/errors"
)

func TestLedger_RecordAndRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")
	l, err := OpenLedger(path)
	require.NoError(t, err)
	defer l.Close()

	ctx := context.Background()
	start := time.Unix(1700000000, 0)

	rep := &Report{Start: start, Requests: 120, Elapsed: 3 * time.Second, Throughput: 40}
	id, err := l.Record(ctx, NewLedgerEntry("http://127.0.0.1:8080", "http", 8, start, rep, nil))
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)

	fail := &Failure{Kind: FailureNotFound, RequestIndex: 7, ConversationID: "c7", Position: 3,
		Err: errors.NewKeyNotFound("miss")}
	_, err = l.Record(ctx, NewLedgerEntry("127.0.0.1:9090", "grpc", 2, start, nil, fail))
	require.NoError(t, err)

	entries, err := l.Entries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, OutcomePassed, entries[0].Outcome)
	assert.Equal(t, 120, entries[0].Requests)
	assert.Equal(t, 3*time.Second, entries[0].Elapsed)
	assert.True(t, entries[0].Start.Equal(start))
	assert.Empty(t, entries[0].FailureKind)

	assert.Equal(t, OutcomeFailed, entries[1].Outcome)
	assert.Equal(t, "grpc", entries[1].Transport)
	assert.Equal(t, string(FailureNotFound), entries[1].FailureKind)
	assert.Contains(t, entries[1].FailureDetail, "c7")
}

func TestLedger_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")
	l, err := OpenLedger(path)
	require.NoError(t, err)
	_, err = l.Record(context.Background(), LedgerEntry{Start: time.Now(), Target: "t", Transport: "http", Outcome: OutcomePassed})
	require.NoError(t, err)
	require.NoError(t, l.Close())

	l, err = OpenLedger(path)
	require.NoError(t, err)
	defer l.Close()
	entries, err := l.Entries(context.Background())
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
