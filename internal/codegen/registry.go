package codegen

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/mx-space/cloud/internal/models"
)

// MigrateService is the built-in service present in every registry.
const MigrateService = "migrate"

// MigrateBinding is the fixed handler bound to MigrateService.
var MigrateBinding = Binding{Module: ModulePrefix + "migrate", Member: "migrate"}

// Binding locates a service implementation at call time: the module to load,
// the type exported by it and the member to invoke. An empty Type means the
// member is a module-level function.
type Binding struct {
	Module string `json:"module" msgpack:"module"`
	Type   string `json:"type"   msgpack:"type"`
	Member string `json:"member" msgpack:"member"`
}

// Registry maps service names to bindings. Names keep the order in which they
// were first assigned; reassigning a name replaces the binding in place.
type Registry struct {
	names    []string
	bindings map[string]Binding
}

// NewRegistry returns a registry holding only the migrate entry.
func NewRegistry() *Registry {
	r := &Registry{bindings: make(map[string]Binding)}
	r.Set(MigrateService, MigrateBinding)
	return r
}

// Set assigns b to name, overwriting any previous binding.
func (r *Registry) Set(name string, b Binding) {
	if _, ok := r.bindings[name]; !ok {
		r.names = append(r.names, name)
	}
	r.bindings[name] = b
}

// Lookup returns the binding for a service.
func (r *Registry) Lookup(name string) (Binding, bool) {
	b, ok := r.bindings[name]
	return b, ok
}

// Len returns the number of services.
func (r *Registry) Len() int { return len(r.names) }

// Names returns service names in emission order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// Entry is a service name with its binding.
type Entry struct {
	Service string
	Binding
}

// Entries returns all entries in emission order.
func (r *Registry) Entries() []Entry {
	out := make([]Entry, 0, len(r.names))
	for _, name := range r.names {
		out = append(out, Entry{Service: name, Binding: r.bindings[name]})
	}
	return out
}

// Generate builds the function registry for a set of model descriptors.
// Models are visited in ascending byte order of qualified name and a later
// model silently overwrites an earlier binding of the same service name.
// The input slice is not modified. Generate never fails.
func Generate(descriptors []models.ModelDescriptor) *Registry {
	sorted := make([]models.ModelDescriptor, len(descriptors))
	copy(sorted, descriptors)
	sort.SliceStable(sorted, func(i, j int) bool {
		return strings.Compare(sorted[i].QualifiedName, sorted[j].QualifiedName) < 0
	})

	r := NewRegistry()
	for _, m := range sorted {
		services := ExtractServices(m)
		if len(services) == 0 {
			continue
		}
		module := ModuleRef(m.QualifiedName)
		typeName := TypeName(m.QualifiedName)
		for _, service := range services {
			r.Set(service, Binding{Module: module, Type: typeName, Member: service})
		}
	}
	return r
}

// MarshalJSON encodes the registry as an object whose keys follow emission order.
func (r *Registry) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, name := range r.names {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(r.bindings[name])
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes an object written by MarshalJSON, keeping key order.
func (r *Registry) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("registry: expected object")
	}

	out := &Registry{bindings: make(map[string]Binding)}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name, ok := tok.(string)
		if !ok {
			return fmt.Errorf("registry: expected string key")
		}
		var b Binding
		if err := dec.Decode(&b); err != nil {
			return fmt.Errorf("registry: %s: %w", name, err)
		}
		out.Set(name, b)
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*r = *out
	return nil
}
