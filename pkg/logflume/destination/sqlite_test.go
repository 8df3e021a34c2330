package destination

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteArchivesBatch(t *testing.T) {
	s, err := NewSQLite("archive", ":memory:")
	require.NoError(t, err)
	defer s.Close()

	batch := makeBatch("alpha", "beta", "gamma")
	require.NoError(t, s.Write(context.Background(), batch))

	n, err := s.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	payload, err := s.Load(context.Background(), batch[1].ID())
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(payload, &m))
	assert.Equal(t, "beta", m["message"])
}

func TestSQLiteRedeliveryDoesNotDuplicate(t *testing.T) {
	s, err := NewSQLite("archive", ":memory:")
	require.NoError(t, err)
	defer s.Close()

	batch := makeBatch("once")
	require.NoError(t, s.Write(context.Background(), batch))
	require.NoError(t, s.Write(context.Background(), batch))

	n, err := s.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSQLiteEmptyBatch(t *testing.T) {
	s, err := NewSQLite("archive", ":memory:")
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Write(context.Background(), nil))

	n, err := s.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestSQLiteOnDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.db")

	s, err := NewSQLite("archive", path)
	require.NoError(t, err)
	require.NoError(t, s.Write(context.Background(), makeBatch("persisted")))
	require.NoError(t, s.Close())

	// Reopen and verify the rows survived.
	s, err = NewSQLite("archive", path)
	require.NoError(t, err)
	defer s.Close()

	n, err := s.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSQLiteLoadMissing(t *testing.T) {
	s, err := NewSQLite("archive", ":memory:")
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Load(context.Background(), "no-such-id")
	require.Error(t, err)
}

func TestSQLiteClosedRejectsOperations(t *testing.T) {
	s, err := NewSQLite("archive", ":memory:")
	require.NoError(t, err)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	require.Error(t, s.Write(context.Background(), makeBatch("late")))
	_, err = s.Count(context.Background())
	require.Error(t, err)
}
