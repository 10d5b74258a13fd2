package logjournal

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteAndReadAll(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "journal.jsonl")
	j, err := Open(path)
	require.NoError(t, err)
	j.Write(Record{Level: "info", Msg: "ok", ReqID: "r1", Status: 200})
	j.Write(Record{Level: "warn", Msg: "bad", ReqID: "r2", Status: 502, ErrorCode: "proxy_error"})
	require.NoError(t, j.Close())

	records, err := ReadAll(path)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "r1", records[0].ReqID)
	assert.Equal(t, 502, records[1].Status)
	assert.NotEmpty(t, records[0].TS)
}

func TestExcerptCapsAt500Bytes(t *testing.T) {
	big := make([]byte, 1000)
	for i := range big {
		big[i] = 'x'
	}
	got := Excerpt(big)
	assert.Len(t, got, MaxBodyExcerpt)
}

func TestReadAllSkipsMalformedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.jsonl")
	j, err := Open(path)
	require.NoError(t, err)
	j.Write(Record{Level: "info", Msg: "ok"})
	require.NoError(t, j.Close())

	// Append a truncated line to simulate a crash mid-write.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o600)
	require.NoError(t, err)
	_, _ = f.WriteString(`{"level":"info","msg":`)
	require.NoError(t, f.Close())

	records, err := ReadAll(path)
	require.NoError(t, err)
	require.Len(t, records, 1)
}
