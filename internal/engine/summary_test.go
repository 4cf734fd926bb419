package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseSummary(t *testing.T) {
	tests := []struct {
		name      string
		output    string
		resources int
		actions   int
	}{
		{
			name:      "separate summary lines",
			output:    "3 resources matched\n1 action taken\n",
			resources: 3,
			actions:   1,
		},
		{
			name:      "combined line",
			output:    "policy: 4 resources matched, 2 actions taken",
			resources: 4,
			actions:   2,
		},
		{
			name:      "later lines overwrite",
			output:    "1 resources matched\n5 resources matched\n",
			resources: 5,
		},
		{
			name:      "count not adjacent falls back to first integer",
			output:    "matched 7 total resources",
			resources: 7,
		},
		{
			name:   "non numeric lines ignored",
			output: "custodian.policy INFO resources filtered\naction: notify",
		},
		{
			name: "empty output",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resources, actions := ParseSummary(tt.output)
			assert.Equal(t, tt.resources, resources)
			assert.Equal(t, tt.actions, actions)
		})
	}
}
