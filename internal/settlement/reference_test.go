package settlement

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestUUIDv7References_AreUniqueAndPrefixed(t *testing.T) {
	gen := UUIDv7References{}
	seen := map[string]struct{}{}
	for i := 0; i < 500; i++ {
		ref, err := gen.NewReference()
		require.NoError(t, err)
		require.True(t, strings.HasPrefix(ref, ReferencePrefix))
		id, err := uuid.Parse(strings.TrimPrefix(ref, ReferencePrefix))
		require.NoError(t, err)
		require.EqualValues(t, 7, id.Version())
		_, dup := seen[ref]
		require.False(t, dup, "duplicate reference %s", ref)
		seen[ref] = struct{}{}
	}
}
