package pagination

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeLimit(t *testing.T) {
	require.Equal(t, DefaultLimit, NormalizeLimit(0))
	require.Equal(t, MaxLimit, NormalizeLimit(MaxLimit+5))
	require.Equal(t, 7, NormalizeLimit(7))
	require.Equal(t, 8, FetchLimit(7))
}

func TestCursorRoundTrip(t *testing.T) {
	id, err := DecodeCursor(EncodeCursor(42))
	require.NoError(t, err)
	require.EqualValues(t, 42, id)

	id, err = DecodeCursor("  ")
	require.NoError(t, err)
	require.Zero(t, id)
}

func TestDecodeCursorRejectsGarbage(t *testing.T) {
	forged := base64.RawURLEncoding.EncodeToString([]byte("after:5"))
	for _, bad := range []string{"!!!", "bm9waXBl", forged, EncodeCursor(0), EncodeCursor(-3)} {
		_, err := DecodeCursor(bad)
		require.ErrorIs(t, err, ErrInvalidCursor, bad)
	}
}

func TestTrim(t *testing.T) {
	ids := []int64{9, 8, 7, 6}
	idOf := func(v int64) int64 { return v }

	page, next := Trim(ids, 3, idOf)
	require.Equal(t, []int64{9, 8, 7}, page)
	after, err := DecodeCursor(next)
	require.NoError(t, err)
	require.EqualValues(t, 7, after)

	page, next = Trim(ids[:2], 3, idOf)
	require.Len(t, page, 2)
	require.Empty(t, next)
}
