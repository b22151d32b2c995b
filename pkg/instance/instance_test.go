package instance

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGetID(t *testing.T) {
	t.Setenv("WORKER_ID", "")
	t.Setenv("DYNO", "")
	require.Equal(t, "local", GetID())

	t.Setenv("DYNO", "web.1")
	require.Equal(t, "web.1", GetID())

	t.Setenv("WORKER_ID", "publisher-2")
	require.Equal(t, "publisher-2", GetID())
}
