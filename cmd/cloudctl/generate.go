package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mx-space/cloud/internal/codegen"
	"github.com/mx-space/cloud/internal/models"
	"github.com/spf13/cobra"
)

var generateOpts struct {
	models string
	format string
	pkg    string
	out    string
}

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate the function registry from model manifests",
	Long: `Generate loads every model manifest (YAML, JSON or HCL) under --models and
prints the registry mapping service names to their module, type and member.
The Go form declares an rpc.Table that the rpc dispatcher can serve.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		modelsPath := generateOpts.models
		if modelsPath == "" {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			modelsPath = cfg.ModelsPath()
		}

		descriptors, err := models.LoadPath(modelsPath)
		if err != nil {
			return fmt.Errorf("load models: %w", err)
		}
		registry := codegen.Generate(descriptors)

		var out []byte
		switch strings.ToLower(generateOpts.format) {
		case "go":
			out, err = registry.RenderGo(generateOpts.pkg)
		case "json":
			out, err = registry.MarshalJSON()
			out = append(out, '\n')
		default:
			return fmt.Errorf("unknown format %q, expected go or json", generateOpts.format)
		}
		if err != nil {
			return fmt.Errorf("render registry: %w", err)
		}

		if generateOpts.out == "" {
			_, err = cmd.OutOrStdout().Write(out)
			return err
		}
		if err := os.MkdirAll(filepath.Dir(generateOpts.out), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(generateOpts.out, out, 0o644); err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Generated %d services from %d models into %s\n", registry.Len(), len(descriptors), generateOpts.out)
		return nil
	},
}

func init() {
	flags := generateCmd.Flags()
	flags.StringVar(&generateOpts.models, "models", "", "model manifest file or directory (default from config)")
	flags.StringVar(&generateOpts.format, "format", "go", "output format: go or json")
	flags.StringVar(&generateOpts.pkg, "package", codegen.DefaultPackage, "package name of the generated Go file")
	flags.StringVarP(&generateOpts.out, "out", "o", "", "output file (default stdout)")
}
