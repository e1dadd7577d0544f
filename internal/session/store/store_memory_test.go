package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "storefront/pkg/domain"
	"storefront/pkg/platform/sentinel"
)

func TestInMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	a, b := id.NewSessionID(), id.NewSessionID()

	t.Run("missing key is not found", func(t *testing.T) {
		_, err := s.Get(ctx, a, KeyCart)
		assert.ErrorIs(t, err, sentinel.ErrNotFound)
	})

	t.Run("values are isolated per session", func(t *testing.T) {
		require.NoError(t, s.Set(ctx, a, KeyCart, []byte(`{"items":[]}`)))
		_, err := s.Get(ctx, b, KeyCart)
		assert.ErrorIs(t, err, sentinel.ErrNotFound)

		got, err := s.Get(ctx, a, KeyCart)
		require.NoError(t, err)
		assert.JSONEq(t, `{"items":[]}`, string(got))
	})

	t.Run("returned slices are copies", func(t *testing.T) {
		require.NoError(t, s.Set(ctx, a, KeyVerification, []byte("abc")))
		got, err := s.Get(ctx, a, KeyVerification)
		require.NoError(t, err)
		got[0] = 'z'

		again, err := s.Get(ctx, a, KeyVerification)
		require.NoError(t, err)
		assert.Equal(t, "abc", string(again))
	})

	t.Run("delete is idempotent", func(t *testing.T) {
		require.NoError(t, s.Delete(ctx, a, KeyCart))
		require.NoError(t, s.Delete(ctx, a, KeyCart))
		_, err := s.Get(ctx, a, KeyCart)
		assert.ErrorIs(t, err, sentinel.ErrNotFound)
	})
}
