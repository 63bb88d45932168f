package nfestore

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tempStore(t *testing.T) *Store {
	t.Helper()
	return New(filepath.Join(t.TempDir(), "private_test.csv"))
}

func readAll(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestAppendWritesHeaderOnce(t *testing.T) {
	s := tempStore(t)
	require.NoError(t, s.Append(sampleRecord()))

	other := sampleRecord()
	other.Item = "2"
	require.NoError(t, s.Append(other))

	rows := readAll(t, s.Path())
	require.Len(t, rows, 3)
	assert.Equal(t, Columns, rows[0])
	assert.Equal(t, sampleRecord().Row(), rows[1])
}

func TestContains(t *testing.T) {
	s := tempStore(t)
	rec := sampleRecord()

	got, err := s.Contains(rec)
	require.NoError(t, err)
	assert.False(t, got, "missing store contains nothing")

	require.NoError(t, s.Append(rec))

	got, err = s.Contains(rec)
	require.NoError(t, err)
	assert.True(t, got)

	other := rec
	other.CProd = "ZZ"
	got, err = s.Contains(other)
	require.NoError(t, err)
	assert.False(t, got, "different product code is a different record")
}

func TestContainsIgnoresRecordWithoutIdentity(t *testing.T) {
	s := tempStore(t)
	require.NoError(t, s.Append(Record{XProd: "sem chave"}))

	got, err := s.Contains(Record{XProd: "outra coisa"})
	require.NoError(t, err)
	assert.False(t, got, "records without a key never collapse into each other")
}

func TestCount(t *testing.T) {
	s := tempStore(t)
	assert.Equal(t, 0, s.Count(), "missing store counts zero")

	require.NoError(t, s.Append(sampleRecord()))
	assert.Equal(t, 1, s.Count(), "header row is excluded")
}

func TestRowsDropWrongArity(t *testing.T) {
	s := tempStore(t)
	require.NoError(t, s.Append(sampleRecord()))

	// Simulate a torn write from a crashed session.
	f, err := os.OpenFile(s.Path(), os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("short,row\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	rows, err := s.Rows()
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, sampleRecord().Row(), rows[0])
}

func TestSeedFromSharedSnapshot(t *testing.T) {
	dir := t.TempDir()
	shared := New(filepath.Join(dir, "produtos_nfe.csv"))
	require.NoError(t, shared.Append(sampleRecord()))

	private := New(filepath.Join(dir, "private_user_1.csv"))
	require.NoError(t, private.Seed(shared.Path()))

	assert.Equal(t, 1, private.Count(), "private store starts from the shared snapshot")
	got, err := private.Contains(sampleRecord())
	require.NoError(t, err)
	assert.True(t, got)
}

func TestSeedWithoutSharedCreatesHeaderOnly(t *testing.T) {
	dir := t.TempDir()
	private := New(filepath.Join(dir, "private_user_1.csv"))
	require.NoError(t, private.Seed(filepath.Join(dir, "missing.csv")))

	assert.Equal(t, 0, private.Count())
	data, err := os.ReadFile(private.Path())
	require.NoError(t, err)
	assert.Equal(t, strings.Join(Columns, ",")+"\n", string(data))
}

func TestSeedKeepsExistingStore(t *testing.T) {
	dir := t.TempDir()
	private := New(filepath.Join(dir, "private_user_1.csv"))
	require.NoError(t, private.Append(sampleRecord()))

	shared := New(filepath.Join(dir, "produtos_nfe.csv"))
	other := sampleRecord()
	other.Item = "9"
	require.NoError(t, shared.Append(other))

	// A resumed session must not lose its records to a re-seed.
	require.NoError(t, private.Seed(shared.Path()))
	assert.Equal(t, 1, private.Count())
}

func TestRecordsDecodeRows(t *testing.T) {
	s := tempStore(t)
	require.NoError(t, s.Append(sampleRecord()))

	recs, err := s.Records()
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, sampleRecord(), recs[0])
}

// Re-processing the same document must collapse into duplicates, not
// grow the store.
func TestCheckThenAppendIsIdempotent(t *testing.T) {
	s := tempStore(t)
	batch := []Record{sampleRecord()}
	second := sampleRecord()
	second.Item = "2"
	second.CProd = "B2"
	batch = append(batch, second)

	insert := func() (added int) {
		for _, rec := range batch {
			exists, err := s.Contains(rec)
			require.NoError(t, err)
			if exists {
				continue
			}
			require.NoError(t, s.Append(rec))
			added++
		}
		return added
	}

	assert.Equal(t, 2, insert())
	assert.Equal(t, 0, insert(), "second pass is entirely duplicates")
	assert.Equal(t, 2, s.Count())
}
