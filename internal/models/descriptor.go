package models

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Archetype classifies the role a model plays. Only ActiveRecord and Gateway
// models are exposed as remote services.
type Archetype string

const (
	ArchetypeActiveRecord Archetype = "ActiveRecord"
	ArchetypeGateway      Archetype = "Gateway"
	ArchetypeValue        Archetype = "Value"
	ArchetypeWidget       Archetype = "Widget"
)

// Exposable reports whether models of this archetype contribute services.
func (a Archetype) Exposable() bool {
	return a == ArchetypeActiveRecord || a == ArchetypeGateway
}

// Member is a named static property or method of a model.
type Member struct {
	Name string `json:"name" yaml:"name" validate:"required"`
}

// UnmarshalYAML accepts either `name: foo` or the bare scalar `foo`.
func (m *Member) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		m.Name = node.Value
		return nil
	}
	type plain Member
	var out plain
	if err := node.Decode(&out); err != nil {
		return err
	}
	*m = Member(out)
	return nil
}

// UnmarshalJSON accepts either {"name":"foo"} or "foo".
func (m *Member) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		m.Name = name
		return nil
	}
	type plain Member
	var out plain
	if err := json.Unmarshal(data, &out); err != nil {
		return fmt.Errorf("member: %w", err)
	}
	*m = Member(out)
	return nil
}

// ModelDescriptor describes one domain type that may be exposed remotely.
// Descriptors are owned by whoever loaded them; code generation treats them as read-only.
type ModelDescriptor struct {
	QualifiedName    string    `json:"qualifiedName"    yaml:"qualifiedName"    validate:"required"`
	Archetype        Archetype `json:"archetype"        yaml:"archetype"        validate:"required"`
	StaticProperties []Member  `json:"staticProperties" yaml:"staticProperties" validate:"dive"`
	StaticMethods    []Member  `json:"staticMethods"    yaml:"staticMethods"    validate:"dive"`
}
