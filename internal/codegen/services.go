package codegen

import (
	"path"
	"strings"

	"github.com/mx-space/cloud/internal/models"
)

// ModulePrefix is prepended to a model's qualified name to form the module
// reference a runtime loader resolves.
const ModulePrefix = "@motherboard/"

// ExtractServices returns the service names a model exposes: static property
// names followed by static method names. Duplicates are kept.
func ExtractServices(m models.ModelDescriptor) []string {
	if !m.Archetype.Exposable() {
		return nil
	}
	services := make([]string, 0, len(m.StaticProperties)+len(m.StaticMethods))
	for _, p := range m.StaticProperties {
		services = append(services, p.Name)
	}
	for _, fn := range m.StaticMethods {
		services = append(services, fn.Name)
	}
	return services
}

// ModuleRef is the module reference for a qualified name.
func ModuleRef(qualifiedName string) string {
	return ModulePrefix + qualifiedName
}

// TypeName is the exposed type name: the last slash-separated segment of the qualified name.
// Empty and all-slash names yield "".
func TypeName(qualifiedName string) string {
	trimmed := strings.TrimRight(qualifiedName, "/")
	if trimmed == "" {
		return ""
	}
	return path.Base(trimmed)
}
