package main

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"fieldconfig-backend/internal/fieldconfig"
	"fieldconfig-backend/internal/grouping"
	"fieldconfig-backend/internal/schema"
	"fieldconfig-backend/internal/template"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "fieldctl",
		Short:         "Inspect and convert field configuration documents",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newNormalizeCmd(), newGroupsCmd(), newExportCmd())
	return root
}

func newNormalizeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "normalize <schema-file>",
		Short: "Convert a schema document into a descriptor list",
		Long: `Classifies the document (OpenAPI components, Swagger definitions, field
arrays, items wrappers, properties maps or plain key maps) and prints the
resulting descriptors as JSON.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			res, err := schema.NormalizeResult(raw)
			if err != nil {
				return fmt.Errorf("normalize %s: %w", args[0], err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "kind=%s schema=%q fields=%d\n", res.Kind, res.Schema, len(res.Fields))
			return template.Export(cmd.OutOrStdout(), res.Fields, template.FormatJSON)
		},
	}
}

func newGroupsCmd() *cobra.Command {
	var overrides []string
	cmd := &cobra.Command{
		Use:   "groups <file>",
		Short: "Show how fields are grouped on the form",
		Long: `Reads a descriptor list or a schema document and prints each group with
its fields in form order. Extra overrides use PREFIX=GROUP.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			seq, err := loadSequence(args[0])
			if err != nil {
				return err
			}
			extra, err := parseOverrides(overrides)
			if err != nil {
				return err
			}
			eng, err := grouping.New(extra...)
			if err != nil {
				return err
			}
			return printGroups(cmd.OutOrStdout(), eng.Group(seq))
		},
	}
	cmd.Flags().StringArrayVar(&overrides, "override", nil, "extra grouping override PREFIX=GROUP (repeatable)")
	return cmd
}

func newExportCmd() *cobra.Command {
	var (
		format string
		output string
	)
	cmd := &cobra.Command{
		Use:   "export <file>",
		Short: "Export a descriptor list or schema document as a template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := template.Format(strings.ToLower(format))
			if err := f.Validate(); err != nil {
				return fmt.Errorf("format: %w", err)
			}
			seq, err := loadSequence(args[0])
			if err != nil {
				return err
			}
			if output == "" {
				return template.Export(cmd.OutOrStdout(), seq, f)
			}
			if output == "auto" {
				output = template.ExportFilename(f, time.Now())
			}
			out, err := os.Create(output)
			if err != nil {
				return err
			}
			if err := template.Export(out, seq, f); err != nil {
				out.Close()
				return err
			}
			if err := out.Close(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "wrote %s\n", output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", string(template.FormatJSON), "json, yaml or spreadsheet")
	cmd.Flags().StringVarP(&output, "output", "o", "", `output file ("auto" for the dated template name, default stdout)`)
	return cmd
}

// loadSequence accepts either a descriptor list or any schema document.
func loadSequence(path string) (fieldconfig.Sequence, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if seq, err := template.DecodeUpload(bytes.NewReader(raw)); err == nil {
		return seq, nil
	}
	seq, err := schema.Normalize(raw)
	if err != nil {
		return nil, fmt.Errorf("%s is neither a descriptor list nor a schema document: %w", path, err)
	}
	return seq, nil
}

func parseOverrides(specs []string) ([]grouping.Override, error) {
	out := make([]grouping.Override, 0, len(specs))
	for _, s := range specs {
		prefix, group, ok := strings.Cut(s, "=")
		if !ok || prefix == "" || group == "" {
			return nil, fmt.Errorf("invalid override %q, want PREFIX=GROUP", s)
		}
		out = append(out, grouping.Override{Prefix: prefix, Group: group})
	}
	return out, nil
}

func printGroups(w io.Writer, groups []grouping.Group) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, g := range groups {
		fmt.Fprintf(tw, "%s (%d)\n", g.Name, len(g.Fields))
		for _, d := range g.Fields {
			flags := ""
			if d.Mandatory {
				flags = "required"
			} else if !d.Display {
				flags = "hidden"
			}
			fmt.Fprintf(tw, "  %s\t%s\t%s\n", d.Key, d.Label, flags)
		}
	}
	return tw.Flush()
}
