package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/devplatform/directory-sync/internal/export"
	"github.com/devplatform/directory-sync/internal/hierarchy"
	"github.com/devplatform/directory-sync/internal/models"
	"github.com/spf13/cobra"
)

func newDepartmentsCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "departments",
		Short: "Inspect and reconcile the department hierarchy",
	}
	cmd.AddCommand(newDepartmentsSyncCmd(c))
	cmd.AddCommand(newDepartmentsExportCmd(c))
	cmd.AddCommand(newDepartmentsEmptyCmd(c))
	cmd.AddCommand(newDepartmentsUnusedCmd(c))
	cmd.AddCommand(newDepartmentsDeleteAllCmd(c))
	cmd.AddCommand(newDepartmentsSearchCmd(c))
	return cmd
}

func (c *cli) reconciler(dryRun bool) *hierarchy.Reconciler {
	r := hierarchy.NewReconciler(c.app.Client, c.app.Cache, c.app.Logger)
	r.DryRun = dryRun || c.app.Config.DryRun
	return r
}

func (c *cli) departmentsFile(flag string) ([]hierarchy.FileEntry, string, error) {
	path := flag
	if path == "" {
		path = c.app.Config.DepsFile
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, path, fmt.Errorf("failed to open departments file: %w", err)
	}
	defer f.Close()

	entries, err := hierarchy.ParseDepartmentFile(f)
	return entries, path, err
}

// askYesNo prints question and accepts only y or yes
func askYesNo(cmd *cobra.Command, question string) (bool, error) {
	fmt.Fprintf(cmd.ErrOrStderr(), "%s (Y/n): ", question)
	answer, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && answer == "" {
		return false, nil
	}
	switch strings.ToUpper(strings.TrimSpace(answer)) {
	case "Y", "YES":
		return true, nil
	}
	return false, nil
}

type departmentsSyncOutput struct {
	File      string   `json:"file"`
	Requested int      `json:"requested"`
	Deleted   int      `json:"deleted,omitempty"`
	Created   []string `json:"created"`
	Errors    []string `json:"errors,omitempty"`
	DryRun    bool     `json:"dryRun"`
}

func newDepartmentsSyncCmd(c *cli) *cobra.Command {
	var (
		file        string
		dryRun      bool
		fromScratch bool
		yes         bool
	)

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Create every department listed in the departments file that does not exist yet",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			entries, path, err := c.departmentsFile(file)
			if err != nil {
				return err
			}

			r := c.reconciler(dryRun)
			out := departmentsSyncOutput{File: path, Requested: len(entries), DryRun: r.DryRun, Created: []string{}}

			// STEP 1: Optionally wipe the existing hierarchy
			if fromScratch {
				if !yes {
					ok, err := askYesNo(cmd, "Delete ALL departments before creating them from the file?")
					if err != nil || !ok {
						fmt.Fprintln(cmd.ErrOrStderr(), "Aborted.")
						return err
					}
				}
				deleted, err := r.DeleteAll(ctx)
				out.Deleted = deleted
				if err != nil {
					return fmt.Errorf("failed to delete departments: %w", err)
				}
			}

			// STEP 2: Create missing paths level by level
			result, err := r.SyncFromPaths(ctx, hierarchy.Paths(entries))
			if err != nil {
				return err
			}
			if result.Created != nil {
				out.Created = result.Created
			}
			if result.Errors != nil {
				for _, e := range result.Errors.Errors {
					out.Errors = append(out.Errors, e.Error())
				}
			}
			if !r.DryRun {
				c.app.Cache.Invalidate()
			}
			return writeJSON(cmd.OutOrStdout(), out)
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "Departments file with id|path lines (default: DEPS_FILE)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Log intended creations without calling the directory")
	cmd.Flags().BoolVar(&fromScratch, "from-scratch", false, "Delete every existing department first")
	cmd.Flags().BoolVar(&yes, "yes", false, "Do not ask before deleting")
	return cmd
}

func newDepartmentsExportCmd(c *cli) *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write every department as an id|path line",
		RunE: func(cmd *cobra.Command, args []string) error {
			tree, _, err := c.app.Cache.Departments(cmd.Context(), true)
			if err != nil {
				return err
			}
			f, err := export.CreateFile(c.app.Config.ExportDir, name, time.Now())
			if err != nil {
				return err
			}
			defer f.Close()

			if err := export.Departments(f, tree.Nodes()); err != nil {
				return fmt.Errorf("failed to write %s: %w", f.Name(), err)
			}
			c.app.Logger.WithField("file", f.Name()).Info("Departments exported")
			fmt.Fprintln(cmd.OutOrStdout(), f.Name())
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "deps_export.csv", "Output file name inside EXPORT_DIR")
	return cmd
}

func printNodes(cmd *cobra.Command, nodes []models.DepartmentNode) error {
	out := make([]map[string]interface{}, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, map[string]interface{}{"id": n.ID, "path": n.Path})
	}
	return writeJSON(cmd.OutOrStdout(), out)
}

func newDepartmentsEmptyCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "empty",
		Short: "List departments with no members in their whole subtree",
		RunE: func(cmd *cobra.Command, args []string) error {
			tree, _, err := c.app.Cache.Departments(cmd.Context(), true)
			if err != nil {
				return err
			}
			users, _, err := c.app.Cache.Users(cmd.Context(), true)
			if err != nil {
				return err
			}
			return printNodes(cmd, hierarchy.EmptyDepartments(tree, users.Users()))
		},
	}
}

func newDepartmentsUnusedCmd(c *cli) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "unused",
		Short: "List departments absent from the departments file",
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, _, err := c.departmentsFile(file)
			if err != nil {
				return err
			}
			tree, _, err := c.app.Cache.Departments(cmd.Context(), true)
			if err != nil {
				return err
			}
			return printNodes(cmd, hierarchy.UnusedDepartments(tree, hierarchy.Paths(entries)))
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "Departments file with id|path lines (default: DEPS_FILE)")
	return cmd
}

func newDepartmentsDeleteAllCmd(c *cli) *cobra.Command {
	var (
		dryRun bool
		yes    bool
	)

	cmd := &cobra.Command{
		Use:   "delete-all",
		Short: "Move every user to the root department and delete all other departments",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				ok, err := askYesNo(cmd, "Delete ALL departments?")
				if err != nil || !ok {
					fmt.Fprintln(cmd.ErrOrStderr(), "Aborted.")
					return err
				}
			}
			r := c.reconciler(dryRun)
			deleted, err := r.DeleteAll(cmd.Context())
			if !r.DryRun {
				c.app.Cache.Invalidate()
			}
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), map[string]interface{}{"deleted": deleted, "dryRun": r.DryRun})
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Log intended deletions without calling the directory")
	cmd.Flags().BoolVar(&yes, "yes", false, "Do not ask for confirmation")
	return cmd
}

func newDepartmentsSearchCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "search <id|name|label|alias>",
		Short: "Find departments and print their paths",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tree, _, err := c.app.Cache.Departments(cmd.Context(), false)
			if err != nil {
				return err
			}
			found := hierarchy.Search(tree, args[0])
			out := make([]map[string]interface{}, 0, len(found))
			for _, d := range found {
				path, _ := tree.PathOf(d.ID)
				out = append(out, map[string]interface{}{
					"id":     d.ID,
					"name":   d.Name,
					"path":   path,
					"label":  d.Label,
					"parent": d.ParentID,
				})
			}
			return writeJSON(cmd.OutOrStdout(), out)
		},
	}
}

func newClearDepartmentsCmd(c *cli) *cobra.Command {
	var (
		dryRun bool
		yes    bool
	)

	cmd := &cobra.Command{
		Use:   "clear-departments",
		Short: "Move every user back to the root department",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				ok, err := askYesNo(cmd, "Move ALL users to the root department?")
				if err != nil || !ok {
					fmt.Fprintln(cmd.ErrOrStderr(), "Aborted.")
					return err
				}
			}
			r := c.reconciler(dryRun)
			moved, err := r.ClearUserDepartments(cmd.Context())
			if !r.DryRun {
				c.app.Cache.InvalidateUsers()
			}
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), map[string]interface{}{"moved": moved, "dryRun": r.DryRun})
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Log intended moves without calling the directory")
	cmd.Flags().BoolVar(&yes, "yes", false, "Do not ask for confirmation")
	return cmd
}
