package cli

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/santiagomed/plmgen/fs"
	"github.com/santiagomed/plmgen/tree"
	"github.com/spf13/cobra"
)

func newHistoryCommand(getApp func() *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List, show, export and delete generated batches",
	}

	var kind string
	var limit int
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List batches, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return getApp().listBatches(kind, limit)
		},
	}
	listCmd.Flags().StringVarP(&kind, "kind", "k", "", "Only list batches of this kind (items, bom, requirements)")
	listCmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of batches, 0 for all")

	showCmd := &cobra.Command{
		Use:   "show <batch-id>",
		Short: "Print a batch as an outline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := getApp()
			b, err := a.store.GetBatch(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "%s %s\n", faintStyle.Render("prompt:"), b.Prompt)
			if b.Model != "" {
				fmt.Fprintf(a.out, "%s %s\n", faintStyle.Render("model: "), b.Model)
			}
			printBatch(a.out, b)
			return nil
		},
	}

	exportCmd := &cobra.Command{
		Use:   "export <batch-id> <path>",
		Short: "Write a batch to a .json, .yaml or .yml file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := getApp()
			b, err := a.store.GetBatch(args[0])
			if err != nil {
				return err
			}
			if err := a.fs.ExportBatch(b, args[1]); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "%s Batch exported to %s\n", checkStyle.Render("✓"), nameStyle.Render(args[1]))
			return nil
		},
	}

	var format string
	exportAllCmd := &cobra.Command{
		Use:   "export-all <zip-path>",
		Short: "Write every batch into one zip archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return getApp().exportAll(args[0], format)
		},
	}
	exportAllCmd.Flags().StringVar(&format, "format", "yaml", "Format of the files in the archive (json or yaml)")

	deleteCmd := &cobra.Command{
		Use:   "delete <batch-id>",
		Short: "Delete a batch and its push records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := getApp()
			if err := a.store.DeleteBatch(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "%s Batch %s deleted\n", checkStyle.Render("✓"), args[0])
			return nil
		},
	}

	pushesCmd := &cobra.Command{
		Use:   "pushes <batch-id>",
		Short: "List the pushes of a batch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return getApp().listPushes(args[0])
		},
	}

	cmd.AddCommand(listCmd, showCmd, exportCmd, exportAllCmd, deleteCmd, pushesCmd)
	return cmd
}

func (a *app) listBatches(kind string, limit int) error {
	var k tree.Kind
	if kind != "" {
		var err error
		if k, err = tree.ParseKind(kind); err != nil {
			return err
		}
	}
	batches, err := a.store.ListBatches(k, limit)
	if err != nil {
		return err
	}
	if len(batches) == 0 {
		fmt.Fprintln(a.out, faintStyle.Render("No batches yet. Create one with: plmgen generate"))
		return nil
	}

	t := newTable("ID", "KIND", "NODES", "CREATED", "PROMPT")
	for _, b := range batches {
		t.Row(b.ID, string(b.Kind), strconv.Itoa(b.Nodes),
			b.CreatedAt.Local().Format("2006-01-02 15:04"), truncate(b.Prompt, 50))
	}
	fmt.Fprintln(a.out, t)
	return nil
}

func (a *app) listPushes(batchID string) error {
	pushes, err := a.store.ListPushes(batchID)
	if err != nil {
		return err
	}
	if len(pushes) == 0 {
		fmt.Fprintln(a.out, faintStyle.Render(fmt.Sprintf("Batch %s has not been pushed", batchID)))
		return nil
	}

	t := newTable("PUSHED", "FOLDER", "CREATED", "FAILED", "NOT LINKED", "ERROR")
	for _, p := range pushes {
		t.Row(p.PushedAt.Local().Format("2006-01-02 15:04"), p.FolderUID,
			fmt.Sprintf("%d/%d", p.Total-p.Failed, p.Total),
			strconv.Itoa(p.Failed), strconv.Itoa(p.Orphaned), truncate(p.Error, 60))
	}
	fmt.Fprintln(a.out, t)
	return nil
}

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(faintStyle).
		Headers(headers...)
}

// exportAll stages every batch in memory and zips them into path.
func (a *app) exportAll(path string, format string) error {
	format = strings.ToLower(format)
	if format != "json" && format != "yaml" {
		return fmt.Errorf("unsupported format %q (want json or yaml)", format)
	}
	summaries, err := a.store.ListBatches("", 0)
	if err != nil {
		return err
	}
	if len(summaries) == 0 {
		return fmt.Errorf("no batches to export")
	}

	staging := fs.NewMemoryFileSystem()
	dir := "plmgen-" + time.Now().Format("20060102")
	for _, s := range summaries {
		b, err := a.store.GetBatch(s.ID)
		if err != nil {
			return err
		}
		name := filepath.Join(dir, string(b.Kind), b.ID+"."+format)
		if err := staging.ExportBatch(b, name); err != nil {
			return err
		}
	}

	out, err := a.fs.Fs.Create(path)
	if err != nil {
		return fmt.Errorf("error creating zip file: %w", err)
	}
	defer out.Close()
	if err := staging.WriteToZip(out, []string{dir}); err != nil {
		return err
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("error closing zip file: %w", err)
	}
	fmt.Fprintf(a.out, "%s %d batches exported to %s\n", checkStyle.Render("✓"), len(summaries), nameStyle.Render(path))
	return nil
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
