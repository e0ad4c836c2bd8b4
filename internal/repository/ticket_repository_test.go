package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/deskworks/ticket-desk/internal/domain"
	"github.com/deskworks/ticket-desk/internal/observability"
	"github.com/deskworks/ticket-desk/internal/persistence"
)

const testKey = "tickets_v1"

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestRepo(t *testing.T, kv persistence.KV, opts TicketRepositoryOptions) TicketRepository {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return NewTicketRepository(NewCollectionStore(kv, testKey), opts)
}

func rawValue(t *testing.T, kv persistence.KV) []byte {
	t.Helper()
	raw, err := kv.Get(context.Background(), testKey)
	require.NoError(t, err)
	return raw
}

func TestCreateOnEmptyStore(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t, persistence.NewMemoryKV(), TicketRepositoryOptions{})

	id, err := repo.Create(ctx, domain.TicketInput{Title: "Login broken", Description: "Cannot log in"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	all, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, id, all[0].ID)
	assert.Equal(t, domain.TicketPriorityMedium, all[0].Priority)
	assert.Equal(t, domain.TicketStatusOpen, all[0].Status)
	assert.Equal(t, "", all[0].Contact)
}

func TestCreateThenGetByID(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	repo := newTestRepo(t, persistence.NewMemoryKV(), TicketRepositoryOptions{Now: clock.Now})

	input := domain.TicketInput{
		Title:       "Printer on fire",
		Description: "Third floor",
		Priority:    domain.TicketPriorityHigh,
		Contact:     "ops@example.com",
	}
	id, err := repo.Create(ctx, input)
	require.NoError(t, err)

	got, err := repo.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.Ticket{
		ID:          id,
		Title:       input.Title,
		Description: input.Description,
		Priority:    input.Priority,
		Contact:     input.Contact,
		Status:      domain.TicketStatusOpen,
		CreatedAt:   clock.Now(),
		UpdatedAt:   clock.Now(),
	}, *got)
}

func TestCreateGeneratesDistinctIDs(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t, persistence.NewMemoryKV(), TicketRepositoryOptions{})

	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		id, err := repo.Create(ctx, domain.TicketInput{Title: "t", Description: "d"})
		require.NoError(t, err)
		require.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}

func TestCreateRegeneratesCollidingID(t *testing.T) {
	ctx := context.Background()
	ids := []string{"fixed", "fixed", "other"}
	next := 0
	repo := newTestRepo(t, persistence.NewMemoryKV(), TicketRepositoryOptions{
		NewID: func() string {
			id := ids[next]
			next++
			return id
		},
	})

	first, err := repo.Create(ctx, domain.TicketInput{Title: "a", Description: "a"})
	require.NoError(t, err)
	second, err := repo.Create(ctx, domain.TicketInput{Title: "b", Description: "b"})
	require.NoError(t, err)

	assert.Equal(t, "fixed", first)
	assert.Equal(t, "other", second)
}

func TestGetByIDMissing(t *testing.T) {
	repo := newTestRepo(t, persistence.NewMemoryKV(), TicketRepositoryOptions{})

	got, err := repo.GetByID(context.Background(), "nope")
	assert.Nil(t, got)
	assert.ErrorIs(t, err, ErrTicketNotFound)
}

func TestUpdateReplacesInPlace(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	repo := newTestRepo(t, persistence.NewMemoryKV(), TicketRepositoryOptions{Now: clock.Now})

	var ids []string
	for _, title := range []string{"first", "second", "third"} {
		id, err := repo.Create(ctx, domain.TicketInput{Title: title, Description: "d"})
		require.NoError(t, err)
		ids = append(ids, id)
	}
	before, err := repo.List(ctx)
	require.NoError(t, err)

	clock.Advance(time.Hour)
	changed := before[1]
	changed.Title = "second, edited"
	changed.Status = domain.TicketStatusInProgress
	changed.CreatedAt = time.Time{}
	changed.UpdatedAt = time.Time{}
	require.NoError(t, repo.Update(ctx, changed))

	after, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, after, 3)
	assert.Equal(t, before[0], after[0])
	assert.Equal(t, before[2], after[2])

	assert.Equal(t, ids[1], after[1].ID)
	assert.Equal(t, "second, edited", after[1].Title)
	assert.Equal(t, domain.TicketStatusInProgress, after[1].Status)
	assert.Equal(t, before[1].CreatedAt, after[1].CreatedAt)
	assert.Equal(t, clock.Now(), after[1].UpdatedAt)
	assert.False(t, after[1].UpdatedAt.Before(before[1].UpdatedAt))
}

func TestUpdateNeverMovesUpdatedAtBackwards(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	repo := newTestRepo(t, persistence.NewMemoryKV(), TicketRepositoryOptions{Now: clock.Now})

	id, err := repo.Create(ctx, domain.TicketInput{Title: "t", Description: "d"})
	require.NoError(t, err)
	created, err := repo.GetByID(ctx, id)
	require.NoError(t, err)

	clock.Advance(-time.Minute)
	require.NoError(t, repo.Update(ctx, *created))

	got, err := repo.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, created.UpdatedAt, got.UpdatedAt)
	assert.False(t, got.UpdatedAt.Before(got.CreatedAt))
}

func TestUpdateKeepsStoredEnumsWhenEmpty(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t, persistence.NewMemoryKV(), TicketRepositoryOptions{})

	id, err := repo.Create(ctx, domain.TicketInput{Title: "t", Description: "d", Priority: domain.TicketPriorityLow})
	require.NoError(t, err)

	require.NoError(t, repo.Update(ctx, domain.Ticket{ID: id, Title: "t2", Description: "d"}))

	got, err := repo.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketPriorityLow, got.Priority)
	assert.Equal(t, domain.TicketStatusOpen, got.Status)
}

func TestUpdateMissingDoesNotWrite(t *testing.T) {
	ctx := context.Background()
	kv := persistence.NewMemoryKV()
	repo := newTestRepo(t, kv, TicketRepositoryOptions{})

	_, err := repo.Create(ctx, domain.TicketInput{Title: "t", Description: "d"})
	require.NoError(t, err)
	before := rawValue(t, kv)

	err = repo.Update(ctx, domain.Ticket{ID: "ghost", Title: "x"})
	assert.ErrorIs(t, err, ErrTicketNotFound)
	assert.Equal(t, before, rawValue(t, kv))
}

func TestDeleteNonMemberLeavesBytesIdentical(t *testing.T) {
	ctx := context.Background()
	kv := persistence.NewMemoryKV()
	repo := newTestRepo(t, kv, TicketRepositoryOptions{})

	_, err := repo.Create(ctx, domain.TicketInput{Title: "t", Description: "d"})
	require.NoError(t, err)
	before := rawValue(t, kv)

	require.NoError(t, repo.Delete(ctx, "not-there"))
	assert.Equal(t, before, rawValue(t, kv))
}

func TestDeleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	kv := persistence.NewMemoryKV()
	repo := newTestRepo(t, kv, TicketRepositoryOptions{})

	keep, err := repo.Create(ctx, domain.TicketInput{Title: "keep", Description: "d"})
	require.NoError(t, err)
	drop, err := repo.Create(ctx, domain.TicketInput{Title: "drop", Description: "d"})
	require.NoError(t, err)

	require.NoError(t, repo.Delete(ctx, drop))
	once := rawValue(t, kv)
	require.NoError(t, repo.Delete(ctx, drop))
	assert.Equal(t, once, rawValue(t, kv))

	all, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, keep, all[0].ID)
}

func TestClear(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t, persistence.NewMemoryKV(), TicketRepositoryOptions{})

	for i := 0; i < 3; i++ {
		_, err := repo.Create(ctx, domain.TicketInput{Title: "t", Description: "d"})
		require.NoError(t, err)
	}
	require.NoError(t, repo.Clear(ctx))

	all, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
	assert.NotNil(t, all)
}

func TestListKeepsInsertionOrder(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t, persistence.NewMemoryKV(), TicketRepositoryOptions{})

	titles := []string{"c", "a", "b"}
	for _, title := range titles {
		_, err := repo.Create(ctx, domain.TicketInput{Title: title, Description: "d"})
		require.NoError(t, err)
	}
	all, err := repo.List(ctx)
	require.NoError(t, err)
	for i, title := range titles {
		assert.Equal(t, title, all[i].Title)
	}
}

func TestCorruptStoreReadsAsEmpty(t *testing.T) {
	ctx := context.Background()
	kv := persistence.NewMemoryKV()
	kv.Put(testKey, []byte("{not json"))

	core, logs := observer.New(zapcore.WarnLevel)
	metrics := observability.NewMetrics()
	repo := newTestRepo(t, kv, TicketRepositoryOptions{Logger: zap.New(core), Metrics: metrics})

	all, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
	assert.Equal(t, 1, logs.FilterMessage("ticket collection unreadable, treating as empty").Len())
	assert.Equal(t, int64(1), metrics.Snapshot().Store[observability.StoreReadFailures])

	id, err := repo.Create(ctx, domain.TicketInput{Title: "fresh", Description: "d"})
	require.NoError(t, err)
	all, err = repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, id, all[0].ID)
}

func TestReadsLegacyArrayFormat(t *testing.T) {
	ctx := context.Background()
	kv := persistence.NewMemoryKV()
	kv.Put(testKey, []byte(`[{"id":"lx1-abc","title":"Old","description":"from browser","priority":"low","contact":"","status":"open","createdAt":"2023-01-02T03:04:05.000Z","updatedAt":"2023-01-02T03:04:05.000Z"}]`))
	repo := newTestRepo(t, kv, TicketRepositoryOptions{})

	got, err := repo.GetByID(ctx, "lx1-abc")
	require.NoError(t, err)
	assert.Equal(t, "Old", got.Title)
	assert.Equal(t, domain.TicketPriorityLow, got.Priority)
	assert.Equal(t, 2023, got.CreatedAt.Year())

	_, err = repo.Create(ctx, domain.TicketInput{Title: "new", Description: "d"})
	require.NoError(t, err)
	all, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assert.Contains(t, string(rawValue(t, kv)), `"version":1`)
}

type failingKV struct {
	*persistence.MemoryKV
	getErr error
	casErr error
}

func (f *failingKV) Get(ctx context.Context, key string) ([]byte, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.MemoryKV.Get(ctx, key)
}

func (f *failingKV) CompareAndSwap(ctx context.Context, key string, prev, next []byte) (bool, error) {
	if f.casErr != nil {
		return false, f.casErr
	}
	return f.MemoryKV.CompareAndSwap(ctx, key, prev, next)
}

func TestWriteFailureIsSwallowedByDefault(t *testing.T) {
	ctx := context.Background()
	kv := &failingKV{MemoryKV: persistence.NewMemoryKV(), casErr: errors.New("quota exceeded")}
	metrics := observability.NewMetrics()
	repo := newTestRepo(t, kv, TicketRepositoryOptions{Metrics: metrics})

	id, err := repo.Create(ctx, domain.TicketInput{Title: "t", Description: "d"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	require.NoError(t, repo.Clear(ctx))

	all, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
	assert.Equal(t, int64(2), metrics.Snapshot().Store[observability.StoreWriteFailures])
}

func TestWriteFailureSurfacesInStrictMode(t *testing.T) {
	ctx := context.Background()
	kv := &failingKV{MemoryKV: persistence.NewMemoryKV(), casErr: errors.New("quota exceeded")}
	repo := newTestRepo(t, kv, TicketRepositoryOptions{StrictWrites: true})

	id, err := repo.Create(ctx, domain.TicketInput{Title: "t", Description: "d"})
	assert.ErrorIs(t, err, ErrPersistFailed)
	assert.Empty(t, id)
}

func TestUnreadableBackendDegradesAndSkipsWrite(t *testing.T) {
	ctx := context.Background()
	kv := &failingKV{MemoryKV: persistence.NewMemoryKV(), getErr: errors.New("connection refused")}
	kv.Put(testKey, []byte(`{"version":3,"tickets":[]}`))
	repo := newTestRepo(t, kv, TicketRepositoryOptions{StrictWrites: true})

	all, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)

	_, err = repo.Create(ctx, domain.TicketInput{Title: "t", Description: "d"})
	assert.ErrorIs(t, err, ErrPersistFailed)

	kv.getErr = nil
	assert.Equal(t, []byte(`{"version":3,"tickets":[]}`), rawValue(t, kv))
}

// racingKV lets another writer slip in before the first n swaps.
type racingKV struct {
	*persistence.MemoryKV
	races int
	other func()
}

func (r *racingKV) CompareAndSwap(ctx context.Context, key string, prev, next []byte) (bool, error) {
	if r.races > 0 {
		r.races--
		r.other()
	}
	return r.MemoryKV.CompareAndSwap(ctx, key, prev, next)
}

func TestConcurrentWriterIsRetried(t *testing.T) {
	ctx := context.Background()
	mem := persistence.NewMemoryKV()
	metrics := observability.NewMetrics()
	other := newTestRepo(t, mem, TicketRepositoryOptions{})

	kv := &racingKV{MemoryKV: mem, races: 1}
	kv.other = func() {
		_, err := other.Create(ctx, domain.TicketInput{Title: "from other tab", Description: "d"})
		require.NoError(t, err)
	}
	repo := newTestRepo(t, kv, TicketRepositoryOptions{Metrics: metrics})

	_, err := repo.Create(ctx, domain.TicketInput{Title: "mine", Description: "d"})
	require.NoError(t, err)

	all, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "from other tab", all[0].Title)
	assert.Equal(t, "mine", all[1].Title)
	assert.Equal(t, int64(1), metrics.Snapshot().Store[observability.StoreVersionConflicts])
}

func TestConflictAfterRetriesIsReturned(t *testing.T) {
	ctx := context.Background()
	mem := persistence.NewMemoryKV()
	other := newTestRepo(t, mem, TicketRepositoryOptions{})

	kv := &racingKV{MemoryKV: mem, races: 100}
	kv.other = func() {
		_, err := other.Create(ctx, domain.TicketInput{Title: "noise", Description: "d"})
		require.NoError(t, err)
	}
	repo := newTestRepo(t, kv, TicketRepositoryOptions{MaxRetries: 3})

	_, err := repo.Create(ctx, domain.TicketInput{Title: "mine", Description: "d"})
	assert.ErrorIs(t, err, ErrVersionConflict)
}

func TestParallelCreatesAreAllKept(t *testing.T) {
	ctx := context.Background()
	const writers = 20
	repo := newTestRepo(t, persistence.NewMemoryKV(), TicketRepositoryOptions{MaxRetries: writers + 1})

	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := repo.Create(ctx, domain.TicketInput{Title: fmt.Sprintf("t%d", i), Description: "d"})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	all, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, writers)
}

func TestCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	repo := newTestRepo(t, persistence.NewMemoryKV(), TicketRepositoryOptions{})

	_, err := repo.List(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	_, err = repo.Create(ctx, domain.TicketInput{Title: "t", Description: "d"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPatchAppliesToLatestRecord(t *testing.T) {
	ctx := context.Background()
	mem := persistence.NewMemoryKV()
	clock := newFakeClock()
	other := newTestRepo(t, mem, TicketRepositoryOptions{Now: clock.Now})

	id, err := other.Create(ctx, domain.TicketInput{Title: "Login broken", Description: "d"})
	require.NoError(t, err)
	clock.Advance(time.Minute)

	kv := &racingKV{MemoryKV: mem, races: 1}
	kv.other = func() {
		_, err := other.Patch(ctx, id, func(t *domain.Ticket) { t.Contact = "b@example.com" })
		require.NoError(t, err)
	}
	repo := newTestRepo(t, kv, TicketRepositoryOptions{Now: clock.Now})

	calls := 0
	written, err := repo.Patch(ctx, id, func(t *domain.Ticket) {
		calls++
		t.Status = domain.TicketStatusClosed
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, domain.TicketStatusClosed, written.Status)
	assert.Equal(t, "b@example.com", written.Contact)

	got, err := repo.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, *written, *got)
	assert.Equal(t, clock.Now(), got.UpdatedAt)
	assert.True(t, got.CreatedAt.Before(got.UpdatedAt))
}

func TestPatchKeepsIdentityAndCreatedAt(t *testing.T) {
	ctx := context.Background()
	kv := persistence.NewMemoryKV()
	repo := newTestRepo(t, kv, TicketRepositoryOptions{})

	id, err := repo.Create(ctx, domain.TicketInput{Title: "t", Description: "d"})
	require.NoError(t, err)
	created, err := repo.GetByID(ctx, id)
	require.NoError(t, err)

	written, err := repo.Patch(ctx, id, func(t *domain.Ticket) {
		t.ID = "hijacked"
		t.CreatedAt = time.Time{}
		t.Status = ""
	})
	require.NoError(t, err)
	assert.Equal(t, id, written.ID)
	assert.Equal(t, created.CreatedAt, written.CreatedAt)
	assert.Equal(t, domain.TicketStatusOpen, written.Status)
}

func TestPatchMissingDoesNotWrite(t *testing.T) {
	ctx := context.Background()
	kv := persistence.NewMemoryKV()
	repo := newTestRepo(t, kv, TicketRepositoryOptions{})
	_, err := repo.Create(ctx, domain.TicketInput{Title: "t", Description: "d"})
	require.NoError(t, err)
	before := rawValue(t, kv)

	called := false
	_, err = repo.Patch(ctx, "missing", func(*domain.Ticket) { called = true })
	assert.ErrorIs(t, err, ErrTicketNotFound)
	assert.False(t, called)
	assert.Equal(t, before, rawValue(t, kv))
}
