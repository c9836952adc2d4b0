package main

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/ZebulonRouseFrantzich/packsync/internal/cache"
	"github.com/ZebulonRouseFrantzich/packsync/internal/config"
	uerrors "github.com/ZebulonRouseFrantzich/packsync/internal/errors"
	"github.com/ZebulonRouseFrantzich/packsync/internal/ledger"
	"github.com/ZebulonRouseFrantzich/packsync/internal/platform"
	"github.com/ZebulonRouseFrantzich/packsync/internal/transaction"
	"github.com/ZebulonRouseFrantzich/packsync/internal/transfer"
)

type statusOptions struct {
	dir   string
	files bool
}

func newStatusCommand(flags *globalFlags) *cobra.Command {
	opts := &statusOptions{}
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show what the last update recorded for an installation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := opts.dir
			if dir == "" {
				cfg, err := config.NewParser(platform.NewDetector()).ParseFile(cmd.Context(), flags.configPath)
				if err != nil {
					return uerrors.Wrap(fmt.Errorf("%s", config.FormatError(err, flags.verbosity > 0)), uerrors.ErrConfig, "load config").
						WithPath(flags.configPath)
				}
				dir = cfg.Install.Dir
			}
			return runStatus(cmd.OutOrStdout(), dir, opts.files)
		},
	}
	cmd.Flags().StringVar(&opts.dir, "dir", "", "Installation directory (default: install.dir from the configuration)")
	cmd.Flags().BoolVar(&opts.files, "files", false, "List every tracked file and its version marker")
	return cmd
}

// runStatus reports the cache, the ledger and any interrupted run. It
// only reads.
func runStatus(out io.Writer, dir string, listFiles bool) error {
	c, err := cache.Open(filepath.Join(dir, cache.FileName))
	if err != nil {
		return err
	}
	l, err := ledger.Read(filepath.Join(dir, ledger.FileName))
	if err != nil {
		return err
	}

	lastUpdate := c.LastUpdateID()
	if lastUpdate == "" {
		lastUpdate = "never"
	}
	tracked := c.Identities()

	fmt.Fprintf(out, "Installation:   %s\n", dir)
	fmt.Fprintf(out, "Last update:    %s\n", lastUpdate)
	fmt.Fprintf(out, "Tracked files:  %d\n", len(tracked))
	fmt.Fprintf(out, "Installed:      %d paths\n", l.Len())

	j, err := transaction.LoadJournal(filepath.Join(dir, transfer.StagingDirName))
	switch {
	case err != nil:
		fmt.Fprintf(out, "Journal:        unreadable (%v)\n", err)
	case j != nil && j.Interrupted():
		fmt.Fprintf(out, "Interrupted:    run %s started %s\n", j.ID, j.Timestamp.Format("2006-01-02 15:04:05"))
	case j != nil:
		fmt.Fprintf(out, "Last failure:   run %s %s at %s: %s\n", j.ID, j.State, j.Step, j.LastError)
	}

	if !listFiles || len(tracked) == 0 {
		return nil
	}

	data := pterm.TableData{{"File", "Version", "Installed"}}
	for _, id := range tracked {
		marker, _ := c.Get(id)
		installed := "no"
		if l.Has(id) || l.HasGroup(id) {
			installed = "yes"
		}
		data = append(data, []string{id, marker, installed})
	}
	table, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
	if err != nil {
		return fmt.Errorf("render file table: %w", err)
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, table)
	return nil
}
