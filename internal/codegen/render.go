package codegen

import (
	"bytes"
	"fmt"
	"go/format"
	"strconv"
	"text/template"
)

const (
	// RPCImportPath is the package generated sources refer to for the table type.
	RPCImportPath = "github.com/mx-space/cloud/internal/rpc"
	// DefaultPackage names the generated package when none is given.
	DefaultPackage = "functions"
)

var goTemplate = template.Must(template.New("functions").Funcs(template.FuncMap{
	"quote": strconv.Quote,
}).Parse(`// Code generated by cloudctl generate. DO NOT EDIT.

package {{ .Package }}

import "{{ .Import }}"

// Functions maps each remotely invokable service to its handler binding.
var Functions = rpc.Table{
{{- range .Entries }}
	{{ quote .Service }}: {Module: {{ quote .Module }}, Type: {{ quote .Type }}, Member: {{ quote .Member }}},
{{- end }}
}
`))

// RenderGo renders the registry as gofmt-formatted Go source declaring
// `var Functions rpc.Table` in package pkg.
func (r *Registry) RenderGo(pkg string) ([]byte, error) {
	if pkg == "" {
		pkg = DefaultPackage
	}
	var buf bytes.Buffer
	err := goTemplate.Execute(&buf, struct {
		Package string
		Import  string
		Entries []Entry
	}{
		Package: pkg,
		Import:  RPCImportPath,
		Entries: r.Entries(),
	})
	if err != nil {
		return nil, fmt.Errorf("render registry: %w", err)
	}
	src, err := format.Source(buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("format registry: %w", err)
	}
	return src, nil
}
