package commands

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatPartitions(t *testing.T) {
	tests := []struct {
		name string
		keys []string
		want string
	}{
		{"none", nil, "-"},
		{"one", []string{"2024-03-05"}, "2024-03-05"},
		{"few", []string{"2024-03-03", "2024-03-04", "2024-03-05"}, "2024-03-03, 2024-03-04, 2024-03-05"},
		{"many", []string{"2024-03-01", "2024-03-02", "2024-03-03", "2024-03-04"}, "2024-03-01 .. 2024-03-04 (4)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, formatPartitions(tt.keys))
		})
	}
}
