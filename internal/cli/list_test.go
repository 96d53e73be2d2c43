package cli

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/vastlab/vastctl/internal/registry"
)

func TestDescribeHardware(t *testing.T) {
	gpu := &registry.InstanceRecord{GPUType: "RTX_4090", GPUCount: 2, DiskGB: 100}
	assert.Equal(t, "2x RTX_4090", describeHardware(gpu))

	cpu := &registry.InstanceRecord{DiskGB: 50}
	assert.Equal(t, "CPU, 50GB disk", describeHardware(cpu))
}

func TestAgeString(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name string
		t    time.Time
		want string
	}{
		{"zero time", time.Time{}, "-"},
		{"seconds", now.Add(-30 * time.Second), "30s"},
		{"minutes", now.Add(-5 * time.Minute), "5m"},
		{"hours", now.Add(-3 * time.Hour), "3h"},
		{"days", now.Add(-49 * time.Hour), "2d"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ageString(tt.t))
		})
	}
}
