package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/hashicorp/hcl/v2/hclsimple"
	"gopkg.in/yaml.v3"
)

var validate = validator.New()

// ErrUnsupportedManifest is returned for files whose extension has no decoder.
var ErrUnsupportedManifest = errors.New("unsupported manifest format")

type manifest struct {
	Models []ModelDescriptor `json:"models" yaml:"models"`
}

type hclManifest struct {
	Models []hclModel `hcl:"model,block"`
}

type hclModel struct {
	QualifiedName    string   `hcl:"qualified_name,label"`
	Archetype        string   `hcl:"archetype"`
	StaticProperties []string `hcl:"static_properties,optional"`
	StaticMethods    []string `hcl:"static_methods,optional"`
}

// Load reads model descriptors from a single manifest file.
// The format is chosen by extension: .yaml/.yml, .json or .hcl.
func Load(path string) ([]ModelDescriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return Parse(path, data)
}

// Parse decodes manifest bytes; filename only selects the decoder and labels errors.
func Parse(filename string, data []byte) ([]ModelDescriptor, error) {
	var descriptors []ModelDescriptor

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		var m manifest
		if err := yaml.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("%s: %w", filename, err)
		}
		descriptors = m.Models
	case ".json":
		var m manifest
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("%s: %w", filename, err)
		}
		descriptors = m.Models
	case ".hcl":
		var m hclManifest
		if err := hclsimple.Decode(filename, data, nil, &m); err != nil {
			return nil, fmt.Errorf("%s: %w", filename, err)
		}
		descriptors = fromHCL(m.Models)
	default:
		return nil, fmt.Errorf("%s: %w", filename, ErrUnsupportedManifest)
	}

	for i := range descriptors {
		if err := validate.Struct(&descriptors[i]); err != nil {
			return nil, fmt.Errorf("%s: model #%d (%q): %w", filename, i, descriptors[i].QualifiedName, err)
		}
	}
	return descriptors, nil
}

// LoadDir loads every manifest in dir, in lexical file order. Files with an
// unknown extension are skipped.
func LoadDir(dir string) ([]ModelDescriptor, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read models dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !isManifest(entry.Name()) {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	var all []ModelDescriptor
	for _, name := range names {
		descriptors, err := Load(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		all = append(all, descriptors...)
	}
	return all, nil
}

// LoadPath loads a directory or a single manifest file.
func LoadPath(path string) ([]ModelDescriptor, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat models path: %w", err)
	}
	if info.IsDir() {
		return LoadDir(path)
	}
	return Load(path)
}

func isManifest(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml", ".json", ".hcl":
		return true
	}
	return false
}

func fromHCL(in []hclModel) []ModelDescriptor {
	out := make([]ModelDescriptor, 0, len(in))
	for _, m := range in {
		out = append(out, ModelDescriptor{
			QualifiedName:    m.QualifiedName,
			Archetype:        Archetype(m.Archetype),
			StaticProperties: membersOf(m.StaticProperties),
			StaticMethods:    membersOf(m.StaticMethods),
		})
	}
	return out
}

func membersOf(names []string) []Member {
	if len(names) == 0 {
		return nil
	}
	out := make([]Member, len(names))
	for i, name := range names {
		out[i] = Member{Name: name}
	}
	return out
}
