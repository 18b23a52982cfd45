package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/charlesng35/storefront/internal/cache"
	"github.com/charlesng35/storefront/internal/database/testutil"
	"github.com/charlesng35/storefront/internal/models"
)

var errCacheDown = errors.New("cache backend down")

// failingStore simulates an unreachable cache backend.
type failingStore struct{}

func (failingStore) IncrementWithTTL(context.Context, string, time.Duration) (int64, time.Duration, error) {
	return 0, 0, errCacheDown
}

func (failingStore) Set(context.Context, string, []byte, time.Duration) error { return errCacheDown }

func (failingStore) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errCacheDown
}

func (failingStore) Delete(context.Context, ...string) error { return errCacheDown }

// invalidationFailingStore serves reads and writes but refuses deletes,
// simulating a backend that stays reachable for lookups yet loses the
// invalidation that follows a write.
type invalidationFailingStore struct {
	*cache.DatabaseStore
}

func (invalidationFailingStore) Delete(context.Context, ...string) error { return errCacheDown }

// memStore is a goroutine-safe map-backed Store for concurrency tests.
type memStore struct {
	mu      sync.Mutex
	entries map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{entries: make(map[string][]byte)}
}

func (s *memStore) IncrementWithTTL(_ context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw := s.entries[key]
	count := int64(1)
	if len(raw) > 0 {
		fmt.Sscanf(string(raw), "%d", &count)
		count++
	}
	s.entries[key] = []byte(fmt.Sprintf("%d", count))
	return count, window, nil
}

func (s *memStore) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = append([]byte(nil), value...)
	return nil
}

func (s *memStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	value, ok := s.entries[key]
	return value, ok, nil
}

func (s *memStore) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		delete(s.entries, key)
	}
	return nil
}

func newTestItems(t *testing.T) (*Items, cache.Store, *gorm.DB) {
	t.Helper()
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	store := cache.NewDatabaseStore(db)
	return NewItems(db, store, time.Minute), store, db
}

func uniqueSKU() string {
	return "SKU-" + strings.ToUpper(uuid.NewString()[:8])
}

func createItem(t *testing.T, repo *Items, name string) *models.CatalogItem {
	t.Helper()
	item := &models.CatalogItem{
		Name:  name,
		SKU:   uniqueSKU(),
		Price: decimal.RequireFromString("19.99"),
	}
	require.NoError(t, repo.Create(context.Background(), item))
	require.NotEmpty(t, item.ID)
	return item
}

func addAttachment(t *testing.T, db *gorm.DB, itemID string, position, seq int) models.Attachment {
	t.Helper()
	checksum := fmt.Sprintf("%064x", seq)
	att := models.Attachment{
		ItemID:           itemID,
		FileName:         fmt.Sprintf("file-%d.bin", seq),
		ContentType:      "application/octet-stream",
		ByteSize:         128,
		Checksum:         checksum,
		StorageKey:       itemID + "/" + checksum,
		Position:         position,
		StorageConfirmed: true,
	}
	require.NoError(t, db.Create(&att).Error)
	return att
}

func TestItemsGetReadsThroughAndPopulatesCache(t *testing.T) {
	repo, store, _ := newTestItems(t)
	ctx := context.Background()

	item := createItem(t, repo, "Walnut Desk")

	_, found, err := store.Get(ctx, cache.ResourceKey("item", item.ID))
	require.NoError(t, err)
	require.False(t, found, "create must not warm the cache")

	got, err := repo.Get(ctx, item.ID)
	require.NoError(t, err)
	require.Equal(t, item.SKU, got.SKU)

	payload, found, err := store.Get(ctx, cache.ResourceKey("item", item.ID))
	require.NoError(t, err)
	require.True(t, found)

	var snapshot models.CatalogItem
	require.NoError(t, json.Unmarshal(payload, &snapshot))
	require.Equal(t, item.SKU, snapshot.SKU)
}

func TestItemsGetServesCachedSnapshotUntilInvalidated(t *testing.T) {
	repo, _, db := newTestItems(t)
	ctx := context.Background()

	item := createItem(t, repo, "Original Name")

	_, err := repo.Get(ctx, item.ID)
	require.NoError(t, err)

	// Mutate the row behind the repository's back: the snapshot must keep
	// serving until something deletes the key.
	require.NoError(t, db.Model(&models.CatalogItem{}).
		Where("id = ?", item.ID).
		Update("name", "Changed Behind Cache").Error)

	got, err := repo.Get(ctx, item.ID)
	require.NoError(t, err)
	require.Equal(t, "Original Name", got.Name)

	repo.Invalidate(ctx, item.ID)

	got, err = repo.Get(ctx, item.ID)
	require.NoError(t, err)
	require.Equal(t, "Changed Behind Cache", got.Name)
}

func TestItemsSaveInvalidatesSnapshot(t *testing.T) {
	repo, store, _ := newTestItems(t)
	ctx := context.Background()

	item := createItem(t, repo, "Before Update")

	_, err := repo.Get(ctx, item.ID)
	require.NoError(t, err)

	item.Name = "After Update"
	require.NoError(t, repo.Save(ctx, item))

	_, found, err := store.Get(ctx, cache.ResourceKey("item", item.ID))
	require.NoError(t, err)
	require.False(t, found, "save must delete the snapshot, not rewrite it")

	got, err := repo.Get(ctx, item.ID)
	require.NoError(t, err)
	require.Equal(t, "After Update", got.Name)
}

func TestItemsDeleteRemovesRowAndSnapshot(t *testing.T) {
	repo, store, _ := newTestItems(t)
	ctx := context.Background()

	item := createItem(t, repo, "To Be Deleted")

	_, err := repo.Get(ctx, item.ID)
	require.NoError(t, err)

	require.NoError(t, repo.Delete(ctx, item.ID))

	_, found, err := store.Get(ctx, cache.ResourceKey("item", item.ID))
	require.NoError(t, err)
	require.False(t, found)

	_, err = repo.Get(ctx, item.ID)
	require.ErrorIs(t, err, ErrItemNotFound)

	require.ErrorIs(t, repo.Delete(ctx, item.ID), ErrItemNotFound)
}

func TestItemsFailOpenWhenCacheUnavailable(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	repo := NewItems(db, failingStore{}, time.Minute)
	ctx := context.Background()

	item := createItem(t, repo, "Cacheless")

	got, err := repo.Get(ctx, item.ID)
	require.NoError(t, err)
	require.Equal(t, item.SKU, got.SKU)

	item.Name = "Cacheless Renamed"
	require.NoError(t, repo.Save(ctx, item))

	got, err = repo.Get(ctx, item.ID)
	require.NoError(t, err)
	require.Equal(t, "Cacheless Renamed", got.Name)

	require.NoError(t, repo.Delete(ctx, item.ID))
}

func TestItemsUpdateSurvivesInvalidationFailure(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	store := invalidationFailingStore{cache.NewDatabaseStore(db)}
	repo := NewItems(db, store, 200*time.Millisecond)
	ctx := context.Background()

	item := createItem(t, repo, "Sticky Snapshot")

	_, err := repo.Get(ctx, item.ID)
	require.NoError(t, err)

	item.Name = "Sticky Snapshot v2"
	require.NoError(t, repo.Save(ctx, item), "failed invalidation must not fail the write")

	// The stale snapshot keeps serving until its TTL runs out.
	got, err := repo.Get(ctx, item.ID)
	require.NoError(t, err)
	require.Equal(t, "Sticky Snapshot", got.Name)

	time.Sleep(250 * time.Millisecond)

	got, err = repo.Get(ctx, item.ID)
	require.NoError(t, err)
	require.Equal(t, "Sticky Snapshot v2", got.Name)

	// Once the new value is visible it never flips back.
	got, err = repo.Get(ctx, item.ID)
	require.NoError(t, err)
	require.Equal(t, "Sticky Snapshot v2", got.Name)
}

func TestItemsWorkWithoutCacheStore(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	repo := NewItems(db, nil, time.Minute)
	ctx := context.Background()

	item := createItem(t, repo, "No Cache Configured")

	got, err := repo.Get(ctx, item.ID)
	require.NoError(t, err)
	require.Equal(t, item.ID, got.ID)
}

func TestItemsGetUnknownID(t *testing.T) {
	repo, _, _ := newTestItems(t)

	_, err := repo.Get(context.Background(), uuid.NewString())
	require.ErrorIs(t, err, ErrItemNotFound)
}

func TestItemsGetDropsCorruptSnapshot(t *testing.T) {
	repo, store, _ := newTestItems(t)
	ctx := context.Background()

	item := createItem(t, repo, "Corrupt Snapshot")
	key := cache.ResourceKey("item", item.ID)

	require.NoError(t, store.Set(ctx, key, []byte("{not json"), time.Minute))

	got, err := repo.Get(ctx, item.ID)
	require.NoError(t, err)
	require.Equal(t, item.SKU, got.SKU)

	payload, found, err := store.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, found)

	var snapshot models.CatalogItem
	require.NoError(t, json.Unmarshal(payload, &snapshot))
	require.Equal(t, item.SKU, snapshot.SKU)
}

func TestItemsGetOrdersAttachmentsByPosition(t *testing.T) {
	repo, _, db := newTestItems(t)
	ctx := context.Background()

	item := createItem(t, repo, "With Attachments")
	addAttachment(t, db, item.ID, 2, 1)
	addAttachment(t, db, item.ID, 0, 2)
	addAttachment(t, db, item.ID, 1, 3)

	got, err := repo.Get(ctx, item.ID)
	require.NoError(t, err)
	require.Len(t, got.Attachments, 3)
	for i, att := range got.Attachments {
		require.Equal(t, i, att.Position)
	}
}

func TestItemsGetHidesUnconfirmedAttachments(t *testing.T) {
	repo, _, db := newTestItems(t)
	ctx := context.Background()

	item := createItem(t, repo, "Half Finalized")
	confirmed := addAttachment(t, db, item.ID, 0, 4)

	pending := models.Attachment{
		ItemID:      item.ID,
		FileName:    "pending.bin",
		ContentType: "application/octet-stream",
		ByteSize:    64,
		Checksum:    fmt.Sprintf("%064x", 5),
		StorageKey:  item.ID + "/" + fmt.Sprintf("%064x", 5),
		Position:    1,
	}
	require.NoError(t, db.Create(&pending).Error)

	got, err := repo.Get(ctx, item.ID)
	require.NoError(t, err)
	require.Len(t, got.Attachments, 1)
	require.Equal(t, confirmed.ID, got.Attachments[0].ID)
}

func TestItemsConcurrentMissesConverge(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	store := newMemStore()
	repo := NewItems(db, store, time.Minute)
	ctx := context.Background()

	item := createItem(t, repo, "Raced Item")

	const workers = 8
	var wg sync.WaitGroup
	results := make([]*models.CatalogItem, workers)
	errs := make([]error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			results[slot], errs[slot] = repo.Get(ctx, item.ID)
		}(i)
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, item.SKU, results[i].SKU)
	}

	_, found, err := store.Get(ctx, cache.ResourceKey("item", item.ID))
	require.NoError(t, err)
	require.True(t, found)
}

func TestItemsListFiltersAndPaginates(t *testing.T) {
	repo, _, db := newTestItems(t)
	ctx := context.Background()

	category := models.Category{Name: "List Test " + uuid.NewString()[:8]}
	category.Normalise()
	require.NoError(t, db.Create(&category).Error)

	token := uuid.NewString()[:8]
	for i := 0; i < 4; i++ {
		item := &models.CatalogItem{
			Name:       fmt.Sprintf("Listable %s %d", token, i),
			SKU:        uniqueSKU(),
			Price:      decimal.RequireFromString("5.00"),
			CategoryID: &category.ID,
		}
		require.NoError(t, repo.Create(ctx, item))
	}
	disabledItem := &models.CatalogItem{
		Name:       fmt.Sprintf("Listable %s hidden", token),
		SKU:        uniqueSKU(),
		Price:      decimal.RequireFromString("5.00"),
		CategoryID: &category.ID,
		Disabled:   true,
	}
	require.NoError(t, repo.Create(ctx, disabledItem))

	items, total, err := repo.List(ctx, ListOptions{CategoryID: category.ID})
	require.NoError(t, err)
	require.EqualValues(t, 4, total)
	require.Len(t, items, 4)

	_, total, err = repo.List(ctx, ListOptions{CategoryID: category.ID, IncludeDisabled: true})
	require.NoError(t, err)
	require.EqualValues(t, 5, total)

	items, total, err = repo.List(ctx, ListOptions{CategoryID: category.ID, PerPage: 2, Page: 2})
	require.NoError(t, err)
	require.EqualValues(t, 4, total)
	require.Len(t, items, 2)

	items, total, err = repo.List(ctx, ListOptions{Search: token + " 2"})
	require.NoError(t, err)
	require.EqualValues(t, 1, total)
	require.Len(t, items, 1)
	require.Contains(t, items[0].Name, token)
}
