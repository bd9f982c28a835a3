package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/tendant/content-odata/pkg/contentrepo"
	"github.com/tendant/content-odata/pkg/contentrepo/importer"
)

func newImporter(cmd *cobra.Command, svc contentrepo.Service) *importer.Importer {
	level := slog.LevelWarn
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
	return importer.New(svc, importer.WithLogger(logger))
}

// NewImportCommand creates the import command
func NewImportCommand() *cobra.Command {
	var typesDir string

	cmd := &cobra.Command{
		Use:   "import <dir> [target-path]",
		Short: "Import a directory tree into the repository",
		Long: `Import files, folders and .Content metadata files below <dir> into the
repository under target-path (default /Root).`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(args[0]); err != nil {
				return fmt.Errorf("source directory: %w", err)
			}
			target := contentrepo.RootPath
			if len(args) == 2 {
				target = args[1]
			}

			svc, err := newService(cmd)
			if err != nil {
				return err
			}
			imp := newImporter(cmd, svc)

			if typesDir != "" {
				n, err := imp.InstallContentTypes(typesDir)
				if err != nil {
					return fmt.Errorf("install content types: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Installed %d content types\n", n)
			}

			result, err := imp.Import(cmd.Context(), args[0], target)
			if err != nil {
				return fmt.Errorf("import failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported into %s: %d created, %d updated, %d content types, %d attachments\n",
				target, result.Created, result.Updated, result.ContentTypes, result.Attachments)
			return nil
		},
	}

	cmd.Flags().StringVar(&typesDir, "types", "", "directory with content type definitions to install first")

	return cmd
}

// NewExportCommand creates the export command
func NewExportCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export <path> <dir>",
		Short: "Export a content subtree to a directory",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newService(cmd)
			if err != nil {
				return err
			}
			result, err := newImporter(cmd, svc).Export(cmd.Context(), args[0], args[1])
			if err != nil {
				return fmt.Errorf("export failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported %s to %s: %d contents, %d attachments\n",
				args[0], args[1], result.Created, result.Attachments)
			return nil
		},
	}
	return cmd
}

// NewTypesCommand creates the types command
func NewTypesCommand() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "types [name...]",
		Short: "Describe the installed content types",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newService(cmd)
			if err != nil {
				return err
			}

			var descriptions []map[string]any
			if len(args) == 0 {
				for _, ct := range svc.Types().Types() {
					descriptions = append(descriptions, ct.Describe())
				}
			} else {
				for _, name := range args {
					ct, err := svc.Types().Get(name)
					if err != nil {
						return err
					}
					descriptions = append(descriptions, ct.Describe())
				}
			}

			out := cmd.OutOrStdout()
			switch output {
			case "json":
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(descriptions)
			case "yaml":
				enc := yaml.NewEncoder(out)
				enc.SetIndent(2)
				defer enc.Close()
				return enc.Encode(descriptions)
			case "", "table":
				for _, d := range descriptions {
					parent, _ := d["ParentTypeName"].(string)
					fmt.Fprintf(out, "%-24s %-24s %s\n", d["ContentTypeName"], parent, d["DisplayName"])
				}
				return nil
			}
			return fmt.Errorf("unknown output format %q", output)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "table", "output format: table, json or yaml")

	return cmd
}
