package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExternalIDRoundTrip(t *testing.T) {
	t.Parallel()

	ext := NewExternalID()
	id := ext.JobID()
	require.NotEmpty(t, id)

	back, err := id.ExternalID()
	require.NoError(t, err)
	assert.Equal(t, ext, back)
}

func TestJobIDExternalIDRejectsMalformed(t *testing.T) {
	t.Parallel()

	_, err := JobID("not-a-uuid").ExternalID()
	require.Error(t, err)
	assert.IsType(t, &ValidationError{}, err)
}

func TestAttemptIDStringRoundTrip(t *testing.T) {
	t.Parallel()

	id := AttemptID{Job: JobID("3f1d8e0a-1111-2222-3333-444455556666"), Num: 2}
	parsed, err := ParseAttemptID(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)
}

func TestParseAttemptIDRejectsMalformed(t *testing.T) {
	t.Parallel()

	for _, bad := range []string{"", "no-slash", "job/-1", "job/x"} {
		_, err := ParseAttemptID(bad)
		assert.Error(t, err, bad)
	}
}

func TestExternalIDsAreUnique(t *testing.T) {
	t.Parallel()

	seen := make(map[JobID]struct{})
	for i := 0; i < 1000; i++ {
		id := NewExternalID().JobID()
		_, dup := seen[id]
		require.False(t, dup, "duplicate id %s", id)
		seen[id] = struct{}{}
	}
}
