package history

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestFingerprint(t *testing.T) {
	base := Settings{QA: 255, QB: 64, Header: true, Name: "net", Activation: "screlu",
		Mode: "rich", FeatureName: "perspective", OutputName: "out"}
	a := Fingerprint([]byte(`{"a": 1}`), base.String())
	assert.Len(t, a, 16)
	assert.Equal(t, a, Fingerprint([]byte(`{"a": 1}`), base.String()))
	assert.NotEqual(t, a, Fingerprint([]byte(`{"a": 2}`), base.String()))

	variants := map[string]func(*Settings){
		"big output":   func(s *Settings) { s.BigOutput = true },
		"qa":           func(s *Settings) { s.QA = 181 },
		"feature name": func(s *Settings) { s.FeatureName = "l0" },
		"output name":  func(s *Settings) { s.OutputName = "l1" },
	}
	for name, mutate := range variants {
		s := base
		mutate(&s)
		assert.NotEqual(t, a, Fingerprint([]byte(`{"a": 1}`), s.String()), name)
	}
}

func TestLookupMissing(t *testing.T) {
	s := openStore(t)
	rec, err := s.Lookup("0000000000000000")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestPutCountsRuns(t *testing.T) {
	s := openStore(t)
	rec := &Record{
		RunID:       "run-1",
		Fingerprint: "abc",
		HiddenSize:  256,
		Buckets:     1,
		Outputs:     map[string]string{"net.nnue": "00000000000000ff"},
		CreatedAt:   time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, s.Put(rec))
	assert.Equal(t, 1, rec.Runs)

	second := *rec
	second.RunID = "run-2"
	require.NoError(t, s.Put(&second))

	got, err := s.Lookup("abc")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "run-2", got.RunID)
	assert.Equal(t, 2, got.Runs)
	assert.Equal(t, 256, got.HiddenSize)
	assert.True(t, rec.CreatedAt.Equal(got.CreatedAt))
}

func TestListOldestFirst(t *testing.T) {
	s := openStore(t)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.Put(&Record{Fingerprint: "zz", CreatedAt: base}))
	require.NoError(t, s.Put(&Record{Fingerprint: "aa", CreatedAt: base.Add(time.Hour)}))

	recs, err := s.List()
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "zz", recs[0].Fingerprint)
	assert.Equal(t, "aa", recs[1].Fingerprint)
}

func TestOpenOnDisk(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, s.Put(&Record{Fingerprint: "disk", Outputs: map[string]string{"x": "1"}}))
	require.NoError(t, s.Close())

	s, err = Open(dir)
	require.NoError(t, err)
	defer s.Close()
	rec, err := s.Lookup("disk")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, map[string]string{"x": "1"}, rec.Outputs)
}

func TestDiff(t *testing.T) {
	prev := &Record{Outputs: map[string]string{"a": "1", "b": "2"}}
	cur := &Record{Outputs: map[string]string{"a": "1", "b": "3", "c": "4"}}
	assert.Equal(t, []string{"b"}, Diff(prev, cur))
	assert.Empty(t, Diff(prev, prev))
}
