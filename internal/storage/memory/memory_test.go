package memory

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/storefront/internal/storage"
)

func TestPutHeadGetDelete(t *testing.T) {
	store := New()
	ctx := context.Background()

	key := storage.ObjectKey("item-1", "ABCDEF")
	require.Equal(t, "item-1/abcdef", key)

	require.NoError(t, store.Put(ctx, key, strings.NewReader("payload"), "image/png"))

	info, err := store.Head(ctx, key)
	require.NoError(t, err)
	require.EqualValues(t, 7, info.Size)
	require.Equal(t, "image/png", info.ContentType)

	reader, err := store.Get(ctx, key)
	require.NoError(t, err)
	data, err := io.ReadAll(reader)
	require.NoError(t, err)
	require.NoError(t, reader.Close())
	require.Equal(t, "payload", string(data))

	require.NoError(t, store.Delete(ctx, key))

	_, err = store.Head(ctx, key)
	require.True(t, storage.IsNotFound(err))
}

func TestPutIsIdempotent(t *testing.T) {
	store := New()
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "k", strings.NewReader("original"), "text/plain"))
	require.NoError(t, store.Put(ctx, "k", strings.NewReader("ignored"), "text/plain"))

	reader, err := store.Get(ctx, "k")
	require.NoError(t, err)
	data, err := io.ReadAll(reader)
	require.NoError(t, err)
	require.Equal(t, "original", string(data))
	require.Equal(t, 1, store.Len())
	require.Equal(t, 1, store.Writes())
}

func TestDeleteMissingKeyIsNoop(t *testing.T) {
	store := New()
	require.NoError(t, store.Delete(context.Background(), "absent"))
}

func TestHeadMissing(t *testing.T) {
	store := New()

	_, err := store.Head(context.Background(), "absent")
	require.ErrorIs(t, err, storage.ErrObjectNotFound)

	_, err = store.Get(context.Background(), "absent")
	require.ErrorIs(t, err, storage.ErrObjectNotFound)
}
