package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/devplatform/directory-sync/internal/conflict"
	"github.com/devplatform/directory-sync/internal/models"
	gosync "github.com/devplatform/directory-sync/internal/sync"
	"github.com/spf13/cobra"
)

type importOptions struct {
	file   string
	dryRun bool
	yes    bool
}

func newImportCmd(c *cli) *cobra.Command {
	var opts importOptions

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Create users listed in the users file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runImport(cmd, models.ModeCreate, opts)
		},
	}
	addImportFlags(cmd, &opts)
	return cmd
}

func newUpdateCmd(c *cli) *cobra.Command {
	var opts importOptions

	cmd := &cobra.Command{
		Use:   "update",
		Short: "Update existing users from the users file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runImport(cmd, models.ModeUpdate, opts)
		},
	}
	addImportFlags(cmd, &opts)
	return cmd
}

func newAnalyzeCmd(c *cli) *cobra.Command {
	var (
		file   string
		update bool
	)

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Validate the users file and check uniqueness without changing anything",
		RunE: func(cmd *cobra.Command, args []string) error {
			mode := models.ModeCreate
			if update {
				mode = models.ModeUpdate
			}
			return c.runAnalyze(cmd, mode, file)
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "Users file (default: USERS_FILE)")
	cmd.Flags().BoolVar(&update, "update", false, "Analyze with update mode rules")
	return cmd
}

func addImportFlags(cmd *cobra.Command, opts *importOptions) {
	cmd.Flags().StringVar(&opts.file, "file", "", "Users file (default: USERS_FILE)")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "Log every intended change without calling the directory")
	cmd.Flags().BoolVar(&opts.yes, "yes", false, "Apply rows with warnings without asking")
}

func (c *cli) usersFile(flag string) string {
	if flag != "" {
		return flag
	}
	return c.app.Config.UsersFile
}

// runImport applies one batch. Rejected batches and partial failures are
// reported on stdout and in the log; only infrastructure failures return an error.
func (c *cli) runImport(cmd *cobra.Command, mode models.Mode, opts importOptions) error {
	path := c.usersFile(opts.file)
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open users file: %w", err)
	}
	defer f.Close()

	var confirmer gosync.Confirmer = newPromptConfirmer(cmd.InOrStdin(), cmd.ErrOrStderr())
	if opts.yes {
		confirmer = gosync.AcceptAll
	}

	result, importErr := c.app.Service.Import(cmd.Context(), f, gosync.ImportOptions{
		Mode:      mode,
		DryRun:    opts.dryRun,
		Confirmer: confirmer,
	})
	report := gosync.NewFileReport(path, mode, result, importErr)
	if err := writeJSON(cmd.OutOrStdout(), report); err != nil {
		return err
	}
	if report.Status == gosync.StatusFailed {
		return importErr
	}
	return nil
}

// analysis is the outcome of a validation-only run
type analysis struct {
	File       string              `json:"file"`
	Mode       models.Mode         `json:"mode"`
	Rows       int                 `json:"rows"`
	Correct    int                 `json:"correct"`
	Suspicious []string            `json:"suspicious,omitempty"`
	Rejected   []string            `json:"rejected,omitempty"`
	Conflicts  []conflict.Conflict `json:"conflicts,omitempty"`
	Error      string              `json:"error,omitempty"`
	Clean      bool                `json:"clean"`
}

func (c *cli) runAnalyze(cmd *cobra.Command, mode models.Mode, file string) error {
	path := c.usersFile(file)
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open users file: %w", err)
	}
	defer f.Close()

	result, importErr := c.app.Service.Import(cmd.Context(), f, gosync.ImportOptions{Mode: mode, AnalyzeOnly: true})
	report := gosync.NewFileReport(path, mode, result, importErr)
	if report.Status == gosync.StatusFailed {
		return importErr
	}

	out := analysis{
		File:      path,
		Mode:      mode,
		Rows:      result.Rows,
		Correct:   len(result.Correct),
		Rejected:  report.Rejected,
		Conflicts: result.Conflicts,
		Error:     report.Error,
	}
	for _, s := range result.Suspicious {
		out.Suspicious = append(out.Suspicious, suspiciousLine(s))
	}
	out.Clean = importErr == nil && len(out.Suspicious) == 0
	return writeJSON(cmd.OutOrStdout(), out)
}

func suspiciousLine(c *models.CandidateUser) string {
	return fmt.Sprintf("line %d: login %s; %s", c.Line, c.Login, strings.Join(c.Warnings, "; "))
}

// promptConfirmer lists suspicious rows and asks the operator before applying them
type promptConfirmer struct {
	in  *bufio.Reader
	out io.Writer
}

func newPromptConfirmer(in io.Reader, out io.Writer) *promptConfirmer {
	return &promptConfirmer{in: bufio.NewReader(in), out: out}
}

func (p *promptConfirmer) Confirm(ctx context.Context, suspicious []*models.CandidateUser) (bool, error) {
	fmt.Fprintf(p.out, "There are %d rows with warnings. Check cyrillic letters in login and name fields:\n", len(suspicious))
	for _, s := range suspicious {
		fmt.Fprintf(p.out, "  %s\n", suspiciousLine(s))
	}
	fmt.Fprint(p.out, "Continue to import? (Y/n): ")

	answer, err := p.in.ReadString('\n')
	if err != nil && err != io.EOF {
		return false, err
	}
	switch strings.ToUpper(strings.TrimSpace(answer)) {
	case "Y", "YES":
		return true, nil
	default:
		return false, nil
	}
}
