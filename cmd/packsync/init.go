package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ZebulonRouseFrantzich/packsync/internal/config"
	uerrors "github.com/ZebulonRouseFrantzich/packsync/internal/errors"
	"github.com/ZebulonRouseFrantzich/packsync/internal/transaction"
)

type initOptions struct {
	baseURL  string
	manifest string
	dir      string
	force    bool
}

func newInitCommand(flags *globalFlags) *cobra.Command {
	opts := &initOptions{}
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := runInit(flags.configPath, opts); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", flags.configPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.baseURL, "base-url", "", "Remote prefix package files are fetched from (required)")
	cmd.Flags().StringVar(&opts.manifest, "manifest", "", "Manifest URL or path (default: <base-url>/manifest.yaml)")
	cmd.Flags().StringVar(&opts.dir, "dir", "", "Installation directory (required)")
	cmd.Flags().BoolVar(&opts.force, "force", false, "Overwrite an existing configuration")
	return cmd
}

// runInit generates a configuration from the defaults and the flags,
// checks that it parses, then writes it atomically.
func runInit(path string, opts *initOptions) error {
	if !opts.force {
		if _, err := os.Stat(path); err == nil {
			return uerrors.Newf(uerrors.ErrInvalidInput, "%s already exists (use --force to overwrite)", path)
		}
	}

	cfg := config.Default()
	cfg.Source.BaseURL = opts.baseURL
	cfg.Source.Manifest = opts.manifest
	if cfg.Source.Manifest == "" && opts.baseURL != "" {
		cfg.Source.Manifest = joinURL(opts.baseURL, "manifest.yaml")
	}
	cfg.Install.Dir = opts.dir
	if err := cfg.Validate(); err != nil {
		return uerrors.Wrap(err, uerrors.ErrConfig, "invalid init options")
	}

	code, err := config.NewGenerator().Generate(cfg)
	if err != nil {
		return uerrors.Wrap(err, uerrors.ErrConfig, "generate config")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := transaction.WriteFileAtomic(path, []byte(code), 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func joinURL(base, name string) string {
	if len(base) > 0 && base[len(base)-1] == '/' {
		return base + name
	}
	return base + "/" + name
}
