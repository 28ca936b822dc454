package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jdholdren/awesync/internal/awesome"
	"github.com/jdholdren/awesync/internal/markdown"
)

// listFile is the YAML document rendered by `awesync render`.
type listFile struct {
	Format    markdown.FormatConfig    `yaml:"format"`
	Resources []awesome.ParsedResource `yaml:"resources"`
}

func newLintCmd() *cobra.Command {
	var strict, asJSON bool

	cmd := &cobra.Command{
		Use:   "lint FILE",
		Short: "Check a list against the awesome conventions",
		Long:  "Check a list against the awesome conventions. Use - to read standard input.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}

			result := markdown.Validate(text)
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(result); err != nil {
					return fmt.Errorf("error encoding result: %w", err)
				}
			} else {
				printLint(cmd.OutOrStdout(), args[0], result)
			}

			if !result.Acceptable(strict) {
				return errInvalid
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&strict, "strict", false, "Treat warnings as errors")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the result as JSON")

	return cmd
}

func printLint(w io.Writer, name string, result awesome.ValidationResult) {
	for _, e := range result.Errors {
		fmt.Fprintf(w, "%s:%d: error: %s (%s)\n", name, e.Line, e.Message, e.Rule)
	}
	for _, e := range result.Warnings {
		fmt.Fprintf(w, "%s:%d: warning: %s (%s)\n", name, e.Line, e.Message, e.Rule)
	}
	fmt.Fprintf(w, "%d error(s), %d warning(s), %d resource(s) in %d categories\n",
		len(result.Errors), len(result.Warnings), result.Stats.TotalResources, result.Stats.TotalCategories)
}

func newParseCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "parse FILE",
		Short: "Print the title, badges and resources of a list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}
			doc := markdown.Parse(text)

			switch format {
			case "json":
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(doc)
			case "yaml":
				// Same shape `render` reads back in.
				enc := yaml.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent(2)
				err := enc.Encode(listFile{
					Format: markdown.FormatConfig{
						Title:       doc.Title,
						Description: doc.Description,
					},
					Resources: doc.Resources,
				})
				if err != nil {
					return fmt.Errorf("error encoding document: %w", err)
				}
				return enc.Close()
			default:
				return fmt.Errorf("unknown format %q, want json or yaml", format)
			}
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "json", "Output format: json or yaml")

	return cmd
}

func newRenderCmd() *cobra.Command {
	var out, contributing string

	cmd := &cobra.Command{
		Use:   "render LIST.yaml",
		Short: "Render a YAML list file as an awesome list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}

			var list listFile
			if err := yaml.Unmarshal([]byte(data), &list); err != nil {
				return fmt.Errorf("error parsing list file: %w", err)
			}

			readme := markdown.Render(list.Resources, list.Format)
			if v := markdown.Validate(readme); !v.Valid {
				printLint(cmd.ErrOrStderr(), "rendered", v)
				return errInvalid
			}

			if err := writeOutput(cmd, out, readme); err != nil {
				return err
			}
			if contributing != "" {
				guide := markdown.RenderContributingGuide(list.Format.WebsiteURL, list.Format.RepoURL)
				if err := os.WriteFile(contributing, []byte(guide), 0o644); err != nil {
					return fmt.Errorf("error writing contributing guide: %w", err)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "", "Write the list here instead of standard output")
	cmd.Flags().StringVar(&contributing, "contributing", "", "Also write a contribution guide to this path")

	return cmd
}

func readInput(cmd *cobra.Command, name string) (string, error) {
	if name == "-" {
		b, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", fmt.Errorf("error reading standard input: %w", err)
		}
		return string(b), nil
	}

	b, err := os.ReadFile(name)
	if err != nil {
		return "", fmt.Errorf("error reading %s: %w", name, err)
	}
	return string(b), nil
}

func writeOutput(cmd *cobra.Command, path, content string) error {
	if path == "" {
		_, err := io.WriteString(cmd.OutOrStdout(), content)
		return err
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("error writing %s: %w", path, err)
	}
	return nil
}
