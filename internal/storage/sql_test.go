package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pauljones0/rfd-deal-digest/internal/config"
	"github.com/pauljones0/rfd-deal-digest/internal/models"
)

func newTestSQLStore(t *testing.T) *SQLStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "subscribers.db")
	store, err := NewSQLStore(context.Background(), DriverSQLite, path)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLStore_Lifecycle(t *testing.T) {
	testLifecycle(t, newTestSQLStore(t), "a@x.com")
}

func TestSQLStore_EmptyLists(t *testing.T) {
	store := newTestSQLStore(t)
	ctx := context.Background()

	active, err := store.ListActive(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)

	inactive, err := store.ListInactive(ctx)
	require.NoError(t, err)
	assert.Empty(t, inactive)
}

func TestSQLStore_DeactivateUnknownIsNoop(t *testing.T) {
	store := newTestSQLStore(t)
	ctx := context.Background()

	require.NoError(t, store.Deactivate(ctx, "nobody@example.com"))

	sub, err := store.Get(ctx, "nobody@example.com")
	require.NoError(t, err)
	assert.Nil(t, sub)

	inactive, err := store.ListInactive(ctx)
	require.NoError(t, err)
	assert.Empty(t, inactive)
}

func TestSQLStore_EmailIsCaseSensitive(t *testing.T) {
	store := newTestSQLStore(t)
	ctx := context.Background()

	for _, email := range []string{"a@x.com", "A@x.com"} {
		got, err := store.AddOrReactivate(ctx, email)
		require.NoError(t, err)
		assert.Equal(t, models.StatusNew, got, email)
	}

	active, err := store.ListActive(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a@x.com", "A@x.com"}, active)
}

func TestSQLStore_ConcurrentSubscribeSingleRow(t *testing.T) {
	store := newTestSQLStore(t)
	ctx := context.Background()

	const workers = 16
	results := make([]models.SubscribeStatus, workers)
	errs := make([]error, workers)

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			results[i], errs[i] = store.AddOrReactivate(ctx, "race@x.com")
		}(i)
	}
	close(start)
	wg.Wait()

	newCount := 0
	for i := range results {
		if errs[i] != nil {
			assert.True(t, errors.Is(errs[i], ErrSubscriberExists), "unexpected error: %v", errs[i])
			assert.Equal(t, models.StatusError, results[i])
			continue
		}
		if results[i] == models.StatusNew {
			newCount++
		} else {
			assert.Equal(t, models.StatusAlreadyActive, results[i])
		}
	}
	assert.Equal(t, 1, newCount)

	var rows int
	require.NoError(t, store.db.Get(&rows, `SELECT COUNT(*) FROM subscribers WHERE email = ?`, "race@x.com"))
	assert.Equal(t, 1, rows)
}

func TestSQLStore_UniqueViolationMapped(t *testing.T) {
	store := newTestSQLStore(t)
	ctx := context.Background()

	_, err := store.db.ExecContext(ctx, `INSERT INTO subscribers (email) VALUES (?)`, "dup@x.com")
	require.NoError(t, err)

	_, err = store.db.ExecContext(ctx, `INSERT INTO subscribers (email) VALUES (?)`, "dup@x.com")
	require.Error(t, err)
	assert.True(t, isUniqueViolation(err))
	assert.False(t, isUniqueViolation(errors.New("other")))
}

func TestSQLStore_ReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "subscribers.db")
	ctx := context.Background()

	store, err := NewSQLStore(ctx, DriverSQLite, path)
	require.NoError(t, err)
	_, err = store.AddOrReactivate(ctx, "keep@x.com")
	require.NoError(t, err)
	require.NoError(t, store.Close())

	store, err = NewSQLStore(ctx, DriverSQLite, path)
	require.NoError(t, err)
	defer store.Close()

	active, err := store.ListActive(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"keep@x.com"}, active)
}

func TestSQLStore_ListSubscribersRows(t *testing.T) {
	store := newTestSQLStore(t)
	ctx := context.Background()
	for _, e := range []string{"first@x.com", "second@x.com", "gone@x.com"} {
		_, err := store.AddOrReactivate(ctx, e)
		require.NoError(t, err)
	}
	require.NoError(t, store.Deactivate(ctx, "gone@x.com"))

	active, err := store.ListSubscribers(ctx, true)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "first@x.com", active[0].Email)
	assert.Equal(t, "second@x.com", active[1].Email)
	for _, sub := range active {
		assert.True(t, sub.IsActive)
		assert.False(t, sub.SubscribedAt.IsZero())
		assert.NotZero(t, sub.ID)
	}

	inactive, err := store.ListSubscribers(ctx, false)
	require.NoError(t, err)
	require.Len(t, inactive, 1)
	assert.Equal(t, "gone@x.com", inactive[0].Email)
}

func TestSQLStore_ListSubscribersClosed(t *testing.T) {
	store := newTestSQLStore(t)
	require.NoError(t, store.Close())

	_, err := store.ListSubscribers(context.Background(), true)
	assert.Error(t, err)
}

func TestNewSQLStore_ConcurrentOpens(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			store, err := NewSQLStore(ctx, DriverSQLite, filepath.Join(dir, fmt.Sprintf("store-%d.db", i)))
			if err != nil {
				errs[i] = err
				return
			}
			defer store.Close()
			_, errs[i] = store.AddOrReactivate(ctx, fmt.Sprintf("user%d@x.com", i))
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		assert.NoError(t, err, "store %d", i)
	}
}

func TestNewSQLStore_UnsupportedDriver(t *testing.T) {
	_, err := NewSQLStore(context.Background(), "mysql", "whatever")
	require.Error(t, err)
}

func TestSQLiteDSN(t *testing.T) {
	assert.Equal(t, "a.db?_txlock=immediate&_busy_timeout=5000", sqliteDSN("a.db"))
	assert.Equal(t, "file:a.db?cache=shared&_txlock=immediate&_busy_timeout=5000", sqliteDSN("file:a.db?cache=shared"))
}

func TestOpen_SelectsBackend(t *testing.T) {
	cfg := &config.Config{
		SubscriberBackend: config.BackendSQL,
		DatabaseDriver:    DriverSQLite,
		DatabaseURL:       filepath.Join(t.TempDir(), "open.db"),
	}
	store, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	defer store.Close()
	assert.IsType(t, &SQLStore{}, store)

	_, err = Open(context.Background(), &config.Config{SubscriberBackend: "redis"})
	assert.Error(t, err)
}

func ExampleSQLStore_AddOrReactivate() {
	dir, _ := os.MkdirTemp("", "subscribers")
	defer os.RemoveAll(dir)

	store, err := NewSQLStore(context.Background(), DriverSQLite, filepath.Join(dir, "example.db"))
	if err != nil {
		fmt.Println(err)
		return
	}
	defer store.Close()

	first, _ := store.AddOrReactivate(context.Background(), "a@x.com")
	second, _ := store.AddOrReactivate(context.Background(), "a@x.com")
	fmt.Println(first, second)
	// Output: new already_active
}
