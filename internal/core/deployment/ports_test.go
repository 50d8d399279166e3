package deployment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// ParsePortSpec Tests
// =============================================================================

func TestParsePortSpec_TableDriven(t *testing.T) {
	tests := []struct {
		name     string
		spec     string
		expected []PortPlan
	}{
		{
			name:     "host and container",
			spec:     "8080:80",
			expected: []PortPlan{{ContainerPort: 80, HostPort: "8080", Protocol: "tcp"}},
		},
		{
			name:     "container only",
			spec:     "3000",
			expected: []PortPlan{{ContainerPort: 3000, Protocol: "tcp"}},
		},
		{
			name:     "udp",
			spec:     "53:53/udp",
			expected: []PortPlan{{ContainerPort: 53, HostPort: "53", Protocol: "udp"}},
		},
		{
			name:     "host ip",
			spec:     "127.0.0.1:8443:443",
			expected: []PortPlan{{ContainerPort: 443, HostPort: "8443", Protocol: "tcp", HostIP: "127.0.0.1"}},
		},
		{
			name: "range",
			spec: "9000-9001:9000-9001",
			expected: []PortPlan{
				{ContainerPort: 9000, HostPort: "9000", Protocol: "tcp"},
				{ContainerPort: 9001, HostPort: "9001", Protocol: "tcp"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ParsePortSpec(tt.spec)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestParsePortSpec_Invalid(t *testing.T) {
	for _, spec := range []string{"not-a-port", "80:http", "1:2:3:4"} {
		t.Run(spec, func(t *testing.T) {
			_, err := ParsePortSpec(spec)
			assert.Error(t, err)
		})
	}
}
