package readthrough

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/saiset-co/sai-weather/types"
)

func TestKeyFormat(t *testing.T) {
	key, err := NewKeyBuilder("weatherapi").Key("paris")
	require.NoError(t, err)
	require.Equal(t, "weatherapi:paris", key)
}

func TestKeyKeepsSubjectVerbatim(t *testing.T) {
	keys := NewKeyBuilder("weatherapi")

	upper, err := keys.Key("Paris")
	require.NoError(t, err)
	lower, err := keys.Key("paris")
	require.NoError(t, err)

	require.NotEqual(t, upper, lower)
}

func TestKeyDefaultNamespace(t *testing.T) {
	keys := NewKeyBuilder("")
	require.Equal(t, DefaultNamespace, keys.Namespace())
}

func TestKeyRejectsEmptySubject(t *testing.T) {
	_, err := NewKeyBuilder("weatherapi").Key("")
	require.ErrorIs(t, err, types.ErrSubjectEmpty)
}

func TestCountersSnapshotJSONNames(t *testing.T) {
	var c Counters
	c.recordRequest()
	c.recordRequest()
	c.recordFetch()

	require.Equal(t, CountersSnapshot{TotalRequests: 2, ExternalFetches: 1}, c.Snapshot())
}
