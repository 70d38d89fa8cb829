package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

type doc struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

func TestFileLoadMissing(t *testing.T) {
	t.Parallel()

	f, err := NewFileFactory(t.TempDir(), 5, JSON)
	assert.NoError(t, err)

	var d doc
	ok, err := f.Create("trader1").Load(&d)
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestFilePutLoadRoundtrip(t *testing.T) {
	t.Parallel()

	for _, enc := range []Encoding{JSON, Binary} {
		f, err := NewFileFactory(t.TempDir(), 5, enc)
		assert.NoError(t, err)
		st := f.Create("trader1")

		assert.NoError(t, st.Put(doc{Name: "btc", Value: 42.5}))

		var d doc
		ok, err := st.Load(&d)
		assert.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, doc{Name: "btc", Value: 42.5}, d)
	}
}

func TestFileRevisionRotation(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	f, err := NewFileFactory(dir, 3, JSON)
	assert.NoError(t, err)
	st := f.Create("k")

	for i := 1; i <= 5; i++ {
		assert.NoError(t, st.Put(doc{Value: float64(i)}))
	}

	var d doc
	ok, err := st.Load(&d)
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 5.0, d.Value)

	// Only the configured number of revisions remain.
	assert.FileExists(t, filepath.Join(dir, "k"))
	assert.FileExists(t, filepath.Join(dir, "k~1"))
	assert.FileExists(t, filepath.Join(dir, "k~2"))
	_, err = os.Stat(filepath.Join(dir, "k~3"))
	assert.True(t, os.IsNotExist(err))
}

func TestFileRotateKeepsLiveKey(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	f, err := NewFileFactory(dir, 3, JSON)
	assert.NoError(t, err)
	st := f.Create("k").(*fileStorage)
	assert.NoError(t, st.Put(doc{Value: 1}))

	// A crash can land between rotation and the final rename; the live
	// key must still load the previous revision at that point.
	st.rotate()

	var d doc
	ok, err := st.Load(&d)
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1.0, d.Value)
	assert.FileExists(t, filepath.Join(dir, "k~1"))
}

func TestFileErase(t *testing.T) {
	t.Parallel()

	f, err := NewFileFactory(t.TempDir(), 3, JSON)
	assert.NoError(t, err)
	st := f.Create("k")
	assert.NoError(t, st.Put(doc{Value: 1}))
	assert.NoError(t, st.Erase())

	var d doc
	ok, err := st.Load(&d)
	assert.NoError(t, err)
	assert.False(t, ok)

	// Erasing a missing key is not an error.
	assert.NoError(t, st.Erase())
}

func newTestSQLite(t *testing.T, revisions int) *SQLiteFactory {
	t.Helper()
	f, err := NewSQLiteFactory(filepath.Join(t.TempDir(), "state.db"), revisions)
	assert.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })
	return f
}

func TestSQLitePutLoadRoundtrip(t *testing.T) {
	t.Parallel()

	f := newTestSQLite(t, 5)
	st := f.Create("trader1")

	var d doc
	ok, err := st.Load(&d)
	assert.NoError(t, err)
	assert.False(t, ok)

	assert.NoError(t, st.Put(doc{Name: "eth", Value: 7}))
	ok, err = st.Load(&d)
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, doc{Name: "eth", Value: 7}, d)
}

func TestSQLiteRevisionPruning(t *testing.T) {
	t.Parallel()

	f := newTestSQLite(t, 2)
	st := f.Create("k")
	for i := 1; i <= 5; i++ {
		assert.NoError(t, st.Put(doc{Value: float64(i)}))
	}

	var n int
	err := f.db.QueryRow(`SELECT COUNT(*) FROM kv WHERE name = 'k'`).Scan(&n)
	assert.NoError(t, err)
	assert.Equal(t, 2, n)

	var d doc
	ok, err := st.Load(&d)
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 5.0, d.Value)
}

func TestSQLiteKeysIndependent(t *testing.T) {
	t.Parallel()

	f := newTestSQLite(t, 5)
	a := f.Create("a")
	b := f.Create("b")
	assert.NoError(t, a.Put(doc{Value: 1}))
	assert.NoError(t, b.Put(doc{Value: 2}))
	assert.NoError(t, a.Erase())

	var d doc
	ok, err := b.Load(&d)
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2.0, d.Value)
}
