package cron

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var knownBatches = func(name string) bool {
	switch name {
	case "nightly", "hourly", "smoke":
		return true
	}
	return false
}

func TestParseTriggerSpecs(t *testing.T) {
	specs, err := ParseTriggerSpecs(" nightly , smoke : 0 2 * * * ; hourly:@hourly ;", knownBatches)
	require.NoError(t, err)
	require.Len(t, specs, 2)

	assert.Equal(t, TriggerSpec{Batches: []string{"nightly", "smoke"}, Schedule: "0 2 * * *"}, specs[0])
	assert.Equal(t, TriggerSpec{Batches: []string{"hourly"}, Schedule: "@hourly"}, specs[1])
	assert.Equal(t, "nightly,smoke:0 2 * * *", specs[0].String())
}

func TestParseTriggerSpecs_Errors(t *testing.T) {
	tests := []struct {
		name    string
		spec    string
		wantErr string
	}{
		{"empty", "", "cannot be empty"},
		{"whitespace", "   ", "cannot be empty"},
		{"only separators", ";;", "no valid triggers"},
		{"missing colon", "nightly 0 2 * * *", "expected format"},
		{"missing batches", ":0 2 * * *", "no batches"},
		{"missing schedule", "nightly:", "missing schedule"},
		{"unknown batch", "weekly:0 2 * * *", "unknown batch 'weekly'"},
		{"duplicate batch", "nightly,nightly:0 2 * * *", "duplicate batch 'nightly'"},
		{"bad schedule", "nightly:61 * * * *", "invalid cron spec"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseTriggerSpecs(tt.spec, knownBatches)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestTriggerSpec_ValidateWithoutKnownBatches(t *testing.T) {
	ts := TriggerSpec{Batches: []string{"anything"}, Schedule: "*/5 * * * *"}
	assert.NoError(t, ts.Validate(nil))
}
