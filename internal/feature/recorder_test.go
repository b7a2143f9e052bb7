package feature

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scanlab/bulkscan/internal/position"
)

func TestQuote(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
		want string
	}{
		{"printable passes through", []byte("user@example.com"), "user@example.com"},
		{"tab escaped", []byte("a\tb"), "a\\x09b"},
		{"newline escaped", []byte("a\nb"), "a\\x0Ab"},
		{"backslash escaped", []byte(`a\b`), "a\\x5Cb"},
		{"binary escaped", []byte{0x1f, 0x8b, 0x08}, "\\x1F\\x8B\\x08"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, quote(tt.in))
		})
	}
}

func TestFileRecorder(t *testing.T) {
	dir := t.TempDir()
	r, err := NewFileRecorder(filepath.Join(dir, "out"))
	require.NoError(t, err)

	pos := position.New(4096).Shift(17)
	require.NoError(t, r.Record("email", pos, []byte("a@b.com"), []byte("...a@b.com...")))
	require.NoError(t, r.Record("email", pos.Shift(100), []byte("c@d.org"), nil))
	require.NoError(t, r.Record("url", pos, []byte("http://x"), nil))
	require.NoError(t, r.Close())

	data, err := os.ReadFile(filepath.Join(dir, "out", "email.txt"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "4113\ta@b.com\t...a@b.com...", lines[0])

	stats := r.Stats()
	require.Len(t, stats, 2)
	assert.Equal(t, NameCount{Name: "email", Count: 2}, stats[0])
	assert.Equal(t, NameCount{Name: "url", Count: 1}, stats[1])
}

func TestFileRecorderConcurrent(t *testing.T) {
	r, err := NewFileRecorder(t.TempDir())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				pos := position.New(uint64(worker*1000 + j))
				assert.NoError(t, r.Record("email", pos, []byte("x@y.z"), nil))
			}
		}(i)
	}
	wg.Wait()
	require.NoError(t, r.Close())

	stats := r.Stats()
	require.Len(t, stats, 1)
	assert.Equal(t, uint64(800), stats[0].Count)
}

func TestMemoryRecorder(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.Record("email", position.New(7), []byte("a@b.c"), nil))
	require.Len(t, m.Records, 1)
	assert.Equal(t, "7", m.Records[0].Pos)
	assert.Equal(t, []NameCount{{Name: "email", Count: 1}}, m.Stats())
}

func TestSQLiteRecorder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "features.db")
	r, err := NewSQLiteRecorder(path)
	require.NoError(t, err)

	pos := position.New(12345).Tag("GZIP").Shift(5)
	require.NoError(t, r.Record("email", pos, []byte("a@b.com"), []byte("ctx")))
	require.NoError(t, r.Record("email", pos.Shift(1), []byte("c@d.com"), nil))

	stats := r.Stats()
	require.Len(t, stats, 1)
	assert.Equal(t, uint64(2), stats[0].Count)
	require.NoError(t, r.Close())

	// Reopen and confirm the rows persisted.
	r2, err := NewSQLiteRecorder(path)
	require.NoError(t, err)
	defer r2.Close()
	var n int
	require.NoError(t, r2.db.QueryRow("SELECT COUNT(*) FROM features WHERE name = ?", "email").Scan(&n))
	assert.Equal(t, 2, n)
	var p string
	require.NoError(t, r2.db.QueryRow("SELECT pos0 FROM features ORDER BY id LIMIT 1").Scan(&p))
	assert.Equal(t, "12345-GZIP-5", p)
}
