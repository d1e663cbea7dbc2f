package eventingest_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/passrepo/depositorch/internal/eventingest"
)

func TestAdmissible_DropsSelfLoop(t *testing.T) {
	env, err := eventingest.Decode([]byte(`{
		"entityType": "Submission",
		"eventType": "MODIFICATION",
		"entityId": "sub-1",
		"payload": {"userAgent": "depositorchd/1.0"},
		"timestamp": "2026-01-01T00:00:00Z"
	}`))
	require.NoError(t, err)

	assert.False(t, eventingest.Admissible(env, "depositorchd/1.0"))
	assert.True(t, eventingest.Admissible(env, "some-other-agent"))
}

func TestAdmissible_RejectsUnknownEntityOrEventType(t *testing.T) {
	env, err := eventingest.Decode([]byte(`{"entityType": "File", "eventType": "CREATION", "entityId": "f-1"}`))
	require.NoError(t, err)
	assert.False(t, eventingest.Admissible(env, ""))

	env2, err := eventingest.Decode([]byte(`{"entityType": "Submission", "eventType": "DELETION", "entityId": "s-1"}`))
	require.NoError(t, err)
	assert.False(t, eventingest.Admissible(env2, ""))
}

func TestAdmissible_AllowsNormalEvents(t *testing.T) {
	env, err := eventingest.Decode([]byte(`{"entityType": "Deposit", "eventType": "CREATION", "entityId": "d-1"}`))
	require.NoError(t, err)
	assert.True(t, eventingest.Admissible(env, "depositorchd/1.0"))
}
