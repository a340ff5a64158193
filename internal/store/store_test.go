package store

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func acceptAll([]byte) error { return nil }

func TestMultiSaveWritesAllCandidates(t *testing.T) {
	dir := t.TempDir()
	paths := []string{
		filepath.Join(dir, "a", "license.dat"),
		filepath.Join(dir, "b", "license.dat"),
		filepath.Join(dir, "c", "license.dat"),
	}
	m := NewMultiFile(nil, paths...)

	require.NoError(t, m.Save([]byte("blob")))

	for _, p := range paths {
		data, err := os.ReadFile(p)
		require.NoError(t, err, "candidate %s must be written", p)
		assert.Equal(t, []byte("blob"), data)
	}
}

func TestMultiSaveToleratesPartialFailure(t *testing.T) {
	dir := t.TempDir()
	blocked := filepath.Join(dir, "blocked")
	// A file where a directory is expected makes MkdirAll fail for that candidate.
	require.NoError(t, os.WriteFile(blocked, []byte("x"), 0o600))

	m := NewMultiFile(nil,
		filepath.Join(blocked, "license.dat"),
		filepath.Join(dir, "ok", "license.dat"),
	)

	require.NoError(t, m.Save([]byte("blob")), "one surviving candidate is enough")

	data, err := os.ReadFile(filepath.Join(dir, "ok", "license.dat"))
	require.NoError(t, err)
	assert.Equal(t, []byte("blob"), data)
}

func TestMultiSaveFailsWhenAllCandidatesFail(t *testing.T) {
	dir := t.TempDir()
	blocked := filepath.Join(dir, "blocked")
	require.NoError(t, os.WriteFile(blocked, []byte("x"), 0o600))

	m := NewMultiFile(nil, filepath.Join(blocked, "license.dat"))

	assert.Error(t, m.Save([]byte("blob")))
}

func TestMultiLoadPrefersFirstValidCandidate(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "first.dat")
	second := filepath.Join(dir, "second.dat")
	require.NoError(t, os.WriteFile(first, []byte("corrupt"), 0o600))
	require.NoError(t, os.WriteFile(second, []byte("good"), 0o600))

	m := NewMultiFile(nil, first, second)

	data, err := m.Load(func(b []byte) error {
		if string(b) != "good" {
			return errors.New("decode failed")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("good"), data)
}

func TestMultiLoadSkipsMissingCandidates(t *testing.T) {
	dir := t.TempDir()
	present := filepath.Join(dir, "present.dat")
	require.NoError(t, os.WriteFile(present, []byte("blob"), 0o600))

	m := NewMultiFile(nil, filepath.Join(dir, "missing.dat"), present)

	data, err := m.Load(acceptAll)
	require.NoError(t, err)
	assert.Equal(t, []byte("blob"), data)
}

func TestMultiLoadReturnsNotFound(t *testing.T) {
	m := NewMultiFile(nil, filepath.Join(t.TempDir(), "missing.dat"))

	_, err := m.Load(acceptAll)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMultiRemoveAll(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.dat")
	b := filepath.Join(dir, "b.dat")
	require.NoError(t, os.WriteFile(a, []byte("x"), 0o600))

	m := NewMultiFile(nil, a, b)

	assert.True(t, m.RemoveAll(), "missing candidates do not fail removal")
	assert.NoFileExists(t, a)
}

func TestSessionStoreRoundTrip(t *testing.T) {
	s := NewSessionStore(filepath.Join(t.TempDir(), "sub", "sessions.json"))

	require.NoError(t, s.Put("local-1", "server-1"))
	require.NoError(t, s.Put("local-2", "server-2"))

	all, err := s.All()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"local-1": "server-1",
		"local-2": "server-2",
	}, all)

	require.NoError(t, s.Delete("local-1"))
	require.NoError(t, s.Delete("never-existed"))

	all, err = s.All()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"local-2": "server-2"}, all)
}

func TestSessionStoreRecoversFromCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	s := NewSessionStore(path)
	all, err := s.All()
	require.NoError(t, err)
	assert.Empty(t, all)

	require.NoError(t, s.Put("local-1", "server-1"))
	all, err = s.All()
	require.NoError(t, err)
	assert.Len(t, all, 1)
}
