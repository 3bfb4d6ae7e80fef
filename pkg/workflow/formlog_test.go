package workflow

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	wferrors "github.com/keduman/workflow-app/pkg/errors"
)

func TestEncodePayload(t *testing.T) {
	tests := []struct {
		name string
		data map[string]any
		want string
	}{
		{"nil map", nil, "{}"},
		{"empty map", map[string]any{}, "{}"},
		{"keys sorted", map[string]any{"b": 2, "a": "x"}, `{"a":"x","b":2}`},
		{"html not escaped", map[string]any{"note": "<b>&"}, `{"note":"<b>&"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EncodePayload(tt.data)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEncodePayload_Unencodable(t *testing.T) {
	_, err := EncodePayload(map[string]any{"ch": make(chan int)})

	var verr *wferrors.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestFormLogAppend(t *testing.T) {
	now := time.Now()
	var log FormLog

	log, err := log.Append("s1", "alice", map[string]any{"amount": 50}, DefaultMaxFormDataSize, now)
	require.NoError(t, err)
	log, err = log.Append("s2", "bob", nil, DefaultMaxFormDataSize, now)
	require.NoError(t, err)

	require.Len(t, log, 2)
	assert.Equal(t, 1, log[0].Seq)
	assert.Equal(t, `{"amount":50}`, log[0].Payload)
	assert.Equal(t, "alice", log[0].SubmittedBy)
	assert.Equal(t, 2, log[1].Seq)
	assert.Equal(t, "{}", log[1].Payload)
	assert.Equal(t, len(`{"amount":50}`)+2, log.Size())
}

func TestFormLogAppend_Limit(t *testing.T) {
	now := time.Now()
	log, err := FormLog(nil).Append("s1", "alice", map[string]any{"k": strings.Repeat("x", 40)}, 60, now)
	require.NoError(t, err)

	before := log.Size()
	next, err := log.Append("s1", "alice", map[string]any{"k": strings.Repeat("y", 40)}, 60, now)

	var tooLarge *wferrors.PayloadTooLargeError
	require.ErrorAs(t, err, &tooLarge)
	assert.Equal(t, 60, tooLarge.Limit)
	assert.Greater(t, tooLarge.Size, 60)
	assert.Len(t, next, 1)
	assert.Equal(t, before, next.Size())
}

func TestFormLogAppend_NoLimit(t *testing.T) {
	log, err := FormLog(nil).Append("s1", "alice", map[string]any{"k": strings.Repeat("x", 100)}, 0, time.Now())
	require.NoError(t, err)
	assert.Len(t, log, 1)
}

func TestFormLogSize_CountsCharacters(t *testing.T) {
	log := FormLog{{Payload: `{"k":"é"}`}}
	assert.Equal(t, 9, log.Size())
}
