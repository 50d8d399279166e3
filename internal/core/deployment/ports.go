package deployment

import (
	"fmt"

	"github.com/docker/go-connections/nat"
)

// =============================================================================
// Port Parsing Functions
// =============================================================================

// PortPlan represents one published port binding.
type PortPlan struct {
	ContainerPort int
	HostPort      string
	Protocol      string
	HostIP        string
}

// ParsePortSpec parses a short-syntax port entry such as "8080:80",
// "127.0.0.1:8443:443/tcp" or "3000-3001:3000-3001". Ranges expand to one
// plan per port. Default protocol is "tcp".
//
// Example:
//
//	ports, _ := ParsePortSpec("8080:80")
//	// Result: []PortPlan{{ContainerPort: 80, HostPort: "8080", Protocol: "tcp"}}
func ParsePortSpec(spec string) ([]PortPlan, error) {
	mappings, err := nat.ParsePortSpec(spec)
	if err != nil {
		return nil, err
	}
	if len(mappings) == 0 {
		return nil, fmt.Errorf("no ports in %q", spec)
	}

	result := make([]PortPlan, 0, len(mappings))
	for _, m := range mappings {
		proto := m.Port.Proto()
		if proto == "" {
			proto = "tcp"
		}
		result = append(result, PortPlan{
			ContainerPort: m.Port.Int(),
			HostPort:      m.Binding.HostPort,
			Protocol:      proto,
			HostIP:        m.Binding.HostIP,
		})
	}
	return result, nil
}
