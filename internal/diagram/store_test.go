package diagram

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *SQLStore {
	t.Helper()
	store, err := OpenSQLStore(context.Background(), "sqlite", filepath.Join(t.TempDir(), "diagrams.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	_, found, err := store.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, store.Put(ctx, "k", "<svg>1</svg>"))
	require.NoError(t, store.Put(ctx, "k", "<svg>2</svg>"))

	markup, found, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "<svg>2</svg>", markup)
}

func TestOpenSQLStoreValidation(t *testing.T) {
	_, err := OpenSQLStore(context.Background(), "mysql", "x")
	assert.Error(t, err)

	_, err = OpenSQLStore(context.Background(), "sqlite", "")
	assert.Error(t, err)
}

func TestBindPlaceholders(t *testing.T) {
	sqlite := &SQLStore{driver: "sqlite"}
	assert.Equal(t, "VALUES (?, ?)", sqlite.bind("VALUES ($1, $2)"))

	pg := &SQLStore{driver: "postgres"}
	assert.Equal(t, "VALUES ($1, $2)", pg.bind("VALUES ($1, $2)"))
}

func TestStoreServiceReplaysUnderFreshID(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	svc := &countingService{}

	first := NewStoreService(svc, store, time.Minute)
	defer first.Close()
	out, err := first.Render(ctx, "mermaid-a", "graph X")
	require.NoError(t, err)
	assert.Equal(t, `<svg id="mermaid-a">graph X</svg>`, out)

	out, err = first.Render(ctx, "mermaid-b", "graph X")
	require.NoError(t, err)
	assert.Equal(t, `<svg id="mermaid-b">graph X</svg>`, out, "memory tier hit")

	// A new service instance has a cold memory tier but shares the store.
	second := NewStoreService(svc, store, time.Minute)
	defer second.Close()
	out, err = second.Render(ctx, "mermaid-c", "graph X")
	require.NoError(t, err)
	assert.Equal(t, `<svg id="mermaid-c">graph X</svg>`, out, "persistent tier hit")

	assert.Equal(t, int32(1), svc.calls.Load())
}

func TestStoreServiceDoesNotStoreFailures(t *testing.T) {
	ctx := context.Background()
	svc := &countingService{err: errors.New("bad diagram")}
	s := NewStoreService(svc, nil, time.Minute)
	defer s.Close()

	_, err := s.Render(ctx, "id1", "graph ?")
	assert.Error(t, err)
	_, err = s.Render(ctx, "id2", "graph ?")
	assert.Error(t, err)
	assert.Equal(t, int32(2), svc.calls.Load())
}

func TestKeyIsStable(t *testing.T) {
	assert.Equal(t, Key("graph TD"), Key("graph TD"))
	assert.NotEqual(t, Key("graph TD"), Key("graph LR"))
	assert.Len(t, Key("x"), 64)
}
