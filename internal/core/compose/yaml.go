package compose

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mattn/go-shellwords"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// Tagged-Variant Field Types
// =============================================================================
//
// Compose allows several fields to take more than one shape. Each type below
// accepts every legal shape in UnmarshalYAML and stores one canonical form,
// so nothing downstream has to care how the document was written.

// StringList accepts a scalar or a sequence of scalars.
type StringList []string

// UnmarshalYAML implements yaml.Unmarshaler.
func (s *StringList) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		if isNull(value) {
			*s = nil
			return nil
		}
		*s = StringList{value.Value}
		return nil
	case yaml.SequenceNode:
		out := make(StringList, 0, len(value.Content))
		for _, item := range value.Content {
			if item.Kind != yaml.ScalarNode {
				return nodeError(value, "expected a list of strings")
			}
			out = append(out, item.Value)
		}
		*s = out
		return nil
	}
	return nodeError(value, "expected a string or a list of strings")
}

// ShellCommand is a command line given either as a list of tokens or as a
// single string, which is split with shell quoting rules.
type ShellCommand []string

// UnmarshalYAML implements yaml.Unmarshaler.
func (c *ShellCommand) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode && !isNull(value) {
		words, err := shellwords.Parse(value.Value)
		if err != nil {
			return nodeError(value, fmt.Sprintf("cannot split command %q: %v", value.Value, err))
		}
		*c = words
		return nil
	}
	var list StringList
	if err := list.UnmarshalYAML(value); err != nil {
		return err
	}
	*c = ShellCommand(list)
	return nil
}

// EnvValue is one entry of a MappingOrList. Value is nil when the entry
// names a key without giving a value.
type EnvValue struct {
	Key   string
	Value *string
}

// MappingOrList accepts `KEY: value` mappings and `- KEY=value` lists.
// Entries keep document order.
type MappingOrList []EnvValue

// UnmarshalYAML implements yaml.Unmarshaler.
func (m *MappingOrList) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.MappingNode:
		out := make(MappingOrList, 0, len(value.Content)/2)
		for i := 0; i+1 < len(value.Content); i += 2 {
			key, val := value.Content[i], value.Content[i+1]
			entry := EnvValue{Key: key.Value}
			if val.Kind != yaml.ScalarNode {
				return nodeError(val, fmt.Sprintf("value of %q must be a scalar", key.Value))
			}
			if !isNull(val) {
				v := val.Value
				entry.Value = &v
			}
			out = append(out, entry)
		}
		*m = out
		return nil
	case yaml.SequenceNode:
		out := make(MappingOrList, 0, len(value.Content))
		for _, item := range value.Content {
			if item.Kind != yaml.ScalarNode {
				return nodeError(item, "expected KEY=value")
			}
			key, val, ok := strings.Cut(item.Value, "=")
			entry := EnvValue{Key: key}
			if ok {
				entry.Value = &val
			}
			out = append(out, entry)
		}
		*m = out
		return nil
	case yaml.ScalarNode:
		if isNull(value) {
			*m = nil
			return nil
		}
	}
	return nodeError(value, "expected a mapping or a list of KEY=value")
}

// Map flattens the entries into a map. Key-only entries map to "${KEY}" so
// they inherit a value from lower environment layers during interpolation.
func (m MappingOrList) Map() map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for _, e := range m {
		if e.Value == nil {
			out[e.Key] = "${" + e.Key + "}"
			continue
		}
		out[e.Key] = *e.Value
	}
	return out
}

// Dependency is a single depends_on entry.
type Dependency struct {
	Service   string
	Condition string
	Required  bool
}

// DependsOn accepts the list form and the map form of depends_on.
type DependsOn []Dependency

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *DependsOn) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.SequenceNode:
		out := make(DependsOn, 0, len(value.Content))
		for _, item := range value.Content {
			if item.Kind != yaml.ScalarNode {
				return nodeError(item, "expected a service name")
			}
			out = append(out, Dependency{Service: item.Value, Required: true})
		}
		*d = out
		return nil
	case yaml.MappingNode:
		out := make(DependsOn, 0, len(value.Content)/2)
		for i := 0; i+1 < len(value.Content); i += 2 {
			dep := Dependency{Service: value.Content[i].Value, Required: true}
			var opts struct {
				Condition string `yaml:"condition"`
				Required  *bool  `yaml:"required"`
			}
			if err := value.Content[i+1].Decode(&opts); err != nil {
				return err
			}
			dep.Condition = opts.Condition
			if opts.Required != nil {
				dep.Required = *opts.Required
			}
			out = append(out, dep)
		}
		*d = out
		return nil
	case yaml.ScalarNode:
		if isNull(value) {
			*d = nil
			return nil
		}
	}
	return nodeError(value, "depends_on must be a list or a mapping")
}

// Names returns the dependency service names in declared order.
func (d DependsOn) Names() []string {
	names := make([]string, 0, len(d))
	for _, dep := range d {
		names = append(names, dep.Service)
	}
	return names
}

// NetworkAttachment is a service-level network reference.
type NetworkAttachment struct {
	Name        string
	Aliases     []string
	IPv4Address string
}

// NetworkRefs accepts the list form and the map form of service networks.
type NetworkRefs []NetworkAttachment

// UnmarshalYAML implements yaml.Unmarshaler.
func (n *NetworkRefs) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.SequenceNode:
		out := make(NetworkRefs, 0, len(value.Content))
		for _, item := range value.Content {
			if item.Kind != yaml.ScalarNode {
				return nodeError(item, "expected a network name")
			}
			out = append(out, NetworkAttachment{Name: item.Value})
		}
		*n = out
		return nil
	case yaml.MappingNode:
		out := make(NetworkRefs, 0, len(value.Content)/2)
		for i := 0; i+1 < len(value.Content); i += 2 {
			att := NetworkAttachment{Name: value.Content[i].Value}
			if body := value.Content[i+1]; !isNull(body) {
				var opts struct {
					Aliases     []string `yaml:"aliases"`
					IPv4Address string   `yaml:"ipv4_address"`
				}
				if err := body.Decode(&opts); err != nil {
					return err
				}
				att.Aliases = opts.Aliases
				att.IPv4Address = opts.IPv4Address
			}
			out = append(out, att)
		}
		*n = out
		return nil
	case yaml.ScalarNode:
		if isNull(value) {
			*n = nil
			return nil
		}
	}
	return nodeError(value, "networks must be a list or a mapping")
}

// Names returns the referenced network names in declared order.
func (n NetworkRefs) Names() []string {
	names := make([]string, 0, len(n))
	for _, att := range n {
		names = append(names, att.Name)
	}
	return names
}

// UnmarshalYAML implements yaml.Unmarshaler. A scalar is the build context.
func (b *Build) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		*b = Build{Context: value.Value}
		return nil
	}
	type plain Build
	var out plain
	if err := value.Decode(&out); err != nil {
		return err
	}
	if out.Context == "" {
		out.Context = "."
	}
	*b = Build(out)
	return nil
}

// UnmarshalYAML implements yaml.Unmarshaler for `external: bool` and
// `external: {name: ...}`.
func (e *External) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		if isNull(value) {
			*e = External{}
			return nil
		}
		v, err := strconv.ParseBool(value.Value)
		if err != nil {
			return nodeError(value, "external must be a boolean or a mapping")
		}
		*e = External{IsExternal: v}
		return nil
	case yaml.MappingNode:
		var opts struct {
			Name string `yaml:"name"`
		}
		if err := value.Decode(&opts); err != nil {
			return err
		}
		*e = External{IsExternal: true, Name: opts.Name}
		return nil
	}
	return nodeError(value, "external must be a boolean or a mapping")
}

// UnmarshalYAML implements yaml.Unmarshaler. A scalar is the source name.
func (r *ServiceFileRef) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		*r = ServiceFileRef{Source: value.Value}
		return nil
	}
	type plain ServiceFileRef
	var out plain
	if err := value.Decode(&out); err != nil {
		return err
	}
	*r = ServiceFileRef(out)
	return nil
}

// PortList accepts short-syntax port strings, bare numbers and long-syntax
// mappings. Long entries are rendered back to short syntax.
type PortList []string

// UnmarshalYAML implements yaml.Unmarshaler.
func (p *PortList) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.SequenceNode {
		if isNull(value) {
			*p = nil
			return nil
		}
		return nodeError(value, "ports must be a list")
	}
	out := make(PortList, 0, len(value.Content))
	for _, item := range value.Content {
		switch item.Kind {
		case yaml.ScalarNode:
			out = append(out, item.Value)
		case yaml.MappingNode:
			var long struct {
				Target    string `yaml:"target"`
				Published string `yaml:"published"`
				HostIP    string `yaml:"host_ip"`
				Protocol  string `yaml:"protocol"`
			}
			if err := item.Decode(&long); err != nil {
				return err
			}
			if long.Target == "" {
				return nodeError(item, "port mapping requires a target")
			}
			spec := long.Target
			if long.Published != "" {
				spec = long.Published + ":" + spec
				if long.HostIP != "" {
					spec = long.HostIP + ":" + spec
				}
			}
			if long.Protocol != "" {
				spec += "/" + long.Protocol
			}
			out = append(out, spec)
		default:
			return nodeError(item, "invalid port entry")
		}
	}
	*p = out
	return nil
}

// VolumeList accepts short-syntax mount strings and long-syntax mappings.
// Long entries are rendered back to short syntax.
type VolumeList []string

// UnmarshalYAML implements yaml.Unmarshaler.
func (v *VolumeList) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.SequenceNode {
		if isNull(value) {
			*v = nil
			return nil
		}
		return nodeError(value, "volumes must be a list")
	}
	out := make(VolumeList, 0, len(value.Content))
	for _, item := range value.Content {
		switch item.Kind {
		case yaml.ScalarNode:
			out = append(out, item.Value)
		case yaml.MappingNode:
			var long struct {
				Type     string `yaml:"type"`
				Source   string `yaml:"source"`
				Target   string `yaml:"target"`
				ReadOnly bool   `yaml:"read_only"`
			}
			if err := item.Decode(&long); err != nil {
				return err
			}
			if long.Target == "" {
				return nodeError(item, "volume mapping requires a target")
			}
			spec := long.Target
			if long.Source != "" {
				spec = long.Source + ":" + spec
			}
			if long.ReadOnly {
				spec += ":ro"
			}
			out = append(out, spec)
		default:
			return nodeError(item, "invalid volume entry")
		}
	}
	*v = out
	return nil
}

// =============================================================================
// Helpers
// =============================================================================

func isNull(n *yaml.Node) bool {
	return n.Kind == yaml.ScalarNode && n.ShortTag() == "!!null"
}

func nodeError(n *yaml.Node, msg string) error {
	return fmt.Errorf("line %d: %s", n.Line, msg)
}
