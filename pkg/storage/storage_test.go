package storage

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	body := []byte(`{"a":1}`)
	uri, err := store.Put(ctx, "attestations/p1/r1.json", body, "application/json")
	require.NoError(t, err)
	assert.Equal(t, "mem://attestations/p1/r1.json", uri)

	body[0] = 'x'
	got, err := store.Get(ctx, "attestations/p1/r1.json")
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(got))

	_, err = store.Get(ctx, "missing")
	assert.True(t, errors.Is(err, ErrObjectNotFound))
}

func TestContentRef(t *testing.T) {
	ref := ContentRef([]byte("abc"))
	assert.True(t, strings.HasPrefix(ref, "sha256:"))
	assert.Equal(t, "sha256:ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", ref)
}

func TestNewS3Store_RequiresBucket(t *testing.T) {
	_, err := NewS3Store(context.Background(), S3Config{})
	assert.Error(t, err)
}
