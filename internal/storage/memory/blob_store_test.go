package memory

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte("<p>digest</p>")
	uri, err := store.PutObject(context.Background(), "digests/2026/digest.html", "text/html; charset=utf-8", bytes.NewReader(payload))
	require.NoError(t, err)
	require.Equal(t, "memory://digests/2026/digest.html", uri)

	payload[0] = 'X'
	obj, ok := store.Get("digests/2026/digest.html")
	require.True(t, ok)
	require.Equal(t, "<p>digest</p>", string(obj.Data))
	require.Equal(t, "text/html; charset=utf-8", obj.ContentType)

	obj.Data[0] = 'Y'
	again, _ := store.Get("digests/2026/digest.html")
	require.Equal(t, "<p>digest</p>", string(again.Data))
}

func TestBlobStorePathsAndValidation(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	ctx := context.Background()
	for _, path := range []string{"digests/b.txt", "digests/a.html", "other/c.txt"} {
		_, err := store.PutObject(ctx, path, "text/plain", strings.NewReader("x"))
		require.NoError(t, err)
	}
	require.Equal(t, []string{"digests/a.html", "digests/b.txt"}, store.Paths("digests/"))

	_, err := store.PutObject(ctx, " ", "text/plain", strings.NewReader("x"))
	require.Error(t, err)
	_, ok := store.Get("missing")
	require.False(t, ok)
}
