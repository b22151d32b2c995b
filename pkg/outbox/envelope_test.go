package outbox

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestNewPayloadEnvelopeDefaults(t *testing.T) {
	id := uuid.New()
	local := time.Date(2026, 10, 10, 12, 0, 0, 0, time.FixedZone("IST", 5*3600+1800))

	env, err := newPayloadEnvelope(id, 0, local, &ActorRef{UserID: 9}, map[string]string{"reference": "TXN-1"})
	require.NoError(t, err)
	require.Equal(t, EnvelopeVersion, env.Version)
	require.Equal(t, id.String(), env.EventID)
	require.Equal(t, time.UTC, env.OccurredAt.Location())
	require.True(t, env.OccurredAt.Equal(local))
	require.JSONEq(t, `{"reference":"TXN-1"}`, string(env.Data))
}

func TestDecodeEnvelope(t *testing.T) {
	env, err := DecodeEnvelope([]byte(`{"version":1,"eventId":"e1","data":{"reference":"TXN-2"}}`))
	require.NoError(t, err)

	var data struct {
		Reference string `json:"reference"`
	}
	require.NoError(t, env.DecodeData(&data))
	require.Equal(t, "TXN-2", data.Reference)

	_, err = DecodeEnvelope([]byte(`{"version":1,"data":null}`))
	require.ErrorIs(t, err, ErrEmptyEventData)

	_, err = DecodeEnvelope([]byte(`not json`))
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrEmptyEventData)
}
