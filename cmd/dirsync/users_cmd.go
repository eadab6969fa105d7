package main

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/devplatform/directory-sync/internal/directory"
	"github.com/devplatform/directory-sync/internal/export"
	"github.com/devplatform/directory-sync/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func newUsersCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Inspect and export directory users",
	}
	cmd.AddCommand(newUsersExportCmd(c))
	cmd.AddCommand(newUsersShowCmd(c))
	return cmd
}

func newUsersExportCmd(c *cli) *cobra.Command {
	var (
		format string
		name   string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export every user (csv, xlsx, or short: the import table format)",
		RunE: func(cmd *cobra.Command, args []string) error {
			var write func(w io.Writer, users []models.DirectoryUser, tree *directory.Hierarchy) error
			ext := "." + format
			switch format {
			case "csv":
				write = export.UsersCSV
			case "xlsx":
				write = export.UsersXLSX
			case "short":
				ext = ".csv"
				write = func(w io.Writer, users []models.DirectoryUser, tree *directory.Hierarchy) error {
					return export.ShortCSV(w, export.CandidatesFromDirectory(users, tree), c.app.Config.ClearValue)
				}
			default:
				return fmt.Errorf("unknown --format %q, expected csv, xlsx or short", format)
			}

			users, _, err := c.app.Cache.Users(cmd.Context(), true)
			if err != nil {
				return err
			}
			tree, _, err := c.app.Cache.Departments(cmd.Context(), true)
			if err != nil {
				return err
			}

			if name == "" {
				name = c.app.Config.AllUsersFile
			}
			name = strings.TrimSuffix(name, filepath.Ext(name)) + ext

			f, err := export.CreateFile(c.app.Config.ExportDir, name, time.Now())
			if err != nil {
				return err
			}
			defer f.Close()

			if err := write(f, users.Users(), tree); err != nil {
				return fmt.Errorf("failed to write %s: %w", f.Name(), err)
			}
			c.app.Logger.WithFields(logrus.Fields{
				"file":  f.Name(),
				"users": users.Len(),
			}).Info("Users exported")
			fmt.Fprintln(cmd.OutOrStdout(), f.Name())
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "csv", "Output format: csv, xlsx or short")
	cmd.Flags().StringVar(&name, "name", "", "Output file name inside EXPORT_DIR (default: ALL_USERS_FILE)")
	return cmd
}

func newUsersShowCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "show <login|id|alias|email>",
		Short: "Print every attribute of one user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			users, _, err := c.app.Cache.Users(cmd.Context(), true)
			if err != nil {
				return err
			}
			tree, _, err := c.app.Cache.Departments(cmd.Context(), false)
			if err != nil {
				return err
			}

			user := users.Resolve(args[0])
			if user == nil {
				found := users.Search(args[0])
				if len(found) == 0 {
					fmt.Fprintf(cmd.ErrOrStderr(), "No user matches %q\n", args[0])
					return nil
				}
				for _, u := range found {
					if err := export.UserAttributes(cmd.OutOrStdout(), u, tree); err != nil {
						return err
					}
				}
				return nil
			}
			return export.UserAttributes(cmd.OutOrStdout(), user, tree)
		},
	}
}

func newCheckTokenCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "check-token",
		Short: "Verify the OAuth token organization and scopes",
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := c.app.CheckToken(cmd.Context())
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), map[string]interface{}{
				"login":  info.Login,
				"orgIds": info.OrgIDs,
				"scopes": info.Scopes,
			})
		},
	}
}
