package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"path"

	"github.com/ProtonMail/go-crypto/openpgp" //nolint:staticcheck // Using ProtonMail's maintained fork
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/ZebulonRouseFrantzich/packsync/internal/config"
	"github.com/ZebulonRouseFrantzich/packsync/internal/deploy"
	uerrors "github.com/ZebulonRouseFrantzich/packsync/internal/errors"
	"github.com/ZebulonRouseFrantzich/packsync/internal/logging"
	"github.com/ZebulonRouseFrantzich/packsync/internal/manifest"
	"github.com/ZebulonRouseFrantzich/packsync/internal/platform"
	"github.com/ZebulonRouseFrantzich/packsync/internal/transfer"
	"github.com/ZebulonRouseFrantzich/packsync/internal/update"
)

type updateOptions struct {
	forced bool
	target string
	yes    bool
	quiet  bool
}

func newUpdateCommand(flags *globalFlags) *cobra.Command {
	opts := &updateOptions{}
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Bring the installation up to date with the manifest",
		Long: `update runs one update pass: it shows the manifest's messages, asks for
optional components, downloads and verifies changed files, deploys them and
removes files the new manifest no longer lists. Nothing is recorded unless
the whole pass succeeds.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return runUpdate(ctx, cmd.OutOrStdout(), flags, opts)
		},
	}
	cmd.Flags().BoolVar(&opts.forced, "forced", false, "Re-download every file, ignoring cached versions and entity tags")
	cmd.Flags().StringVar(&opts.target, "target", "", "Override source.target_version")
	cmd.Flags().BoolVarP(&opts.yes, "yes", "y", false, "Do not prompt: accept every message and use configured components")
	cmd.Flags().BoolVarP(&opts.quiet, "quiet", "q", false, "Do not render progress")
	return cmd
}

func runUpdate(ctx context.Context, out io.Writer, flags *globalFlags, opts *updateOptions) error {
	logger := logging.Component("update")

	detector := platform.NewDetector()
	cfg, err := config.NewParser(detector).ParseFile(ctx, flags.configPath)
	if err != nil {
		return uerrors.Wrap(fmt.Errorf("%s", config.FormatError(err, flags.verbosity > 0)), uerrors.ErrConfig, "load config").
			WithPath(flags.configPath)
	}
	info, err := detector.Detect(ctx)
	if err != nil {
		return uerrors.Wrap(err, uerrors.ErrConfig, "detect platform")
	}

	fetcher := transfer.NewHTTPFetcher(cfg.Timeout(), cfg.Download.UserAgent)
	m, err := loadManifest(ctx, fetcher, cfg)
	if err != nil {
		return err
	}

	var keyring openpgp.EntityList
	if cfg.Verify.Keyring != "" {
		if keyring, err = deploy.LoadKeyring(cfg.Verify.Keyring); err != nil {
			return uerrors.Wrap(err, uerrors.ErrConfig, "load keyring").WithPath(cfg.Verify.Keyring)
		}
	}

	mode, err := resolveMode(cfg, opts.forced, flags.configPath)
	if err != nil {
		return err
	}
	target := cfg.Source.TargetVersion
	if opts.target != "" {
		target = opts.target
	}

	ui := newTerminalUI(out, cfg.Components, !opts.yes, !opts.quiet)
	defer ui.finish()

	u, err := update.New(update.Options{
		Root:          cfg.Install.Dir,
		BaseURL:       cfg.Source.BaseURL,
		Manifest:      m,
		TargetVersion: target,
		Mode:          mode,
		Fetcher:       fetcher,
		Platform:      info,
		Keyring:       keyring,
		Tries:         cfg.Download.Tries,
		RetryDelay:    cfg.RetryDelay(),
		Listener:      ui,
		Selector:      ui,
		Prompter:      ui,
		Logger:        logger,
		PruneCache:    cfg.Update.PruneCache,
	})
	if err != nil {
		return err
	}

	res, err := u.Run(ctx)
	ui.finish()
	if err != nil {
		return err
	}

	if !opts.quiet {
		pterm.Success.Printfln("Update complete: %d downloaded, %d installed, %d unchanged, %d removed",
			len(res.Downloaded), len(res.Deployed), len(res.Skipped), len(res.Removed))
	}
	fmt.Fprintf(out, "run %s: %d downloaded, %d installed, %d unchanged, %d removed\n",
		res.RunID, len(res.Downloaded), len(res.Deployed), len(res.Skipped), len(res.Removed))
	return nil
}

// loadManifest reads the manifest from disk or fetches it over HTTP. The
// document format follows the file extension.
func loadManifest(ctx context.Context, fetcher transfer.Fetcher, cfg *config.Config) (*manifest.Manifest, error) {
	if !cfg.ManifestIsRemote() {
		return manifest.Load(cfg.Source.Manifest)
	}

	var buf bytes.Buffer
	if _, err := fetcher.Fetch(ctx, cfg.Source.Manifest, &buf, transfer.FetchOptions{}); err != nil {
		return nil, uerrors.Wrap(err, uerrors.ErrTransport, "fetch manifest").WithPath(cfg.Source.Manifest)
	}
	u, err := url.Parse(cfg.Source.Manifest)
	if err != nil {
		return nil, uerrors.Wrap(err, uerrors.ErrConfig, "parse manifest URL")
	}
	m, err := manifest.Decode(buf.Bytes(), manifest.FormatFromPath(path.Base(u.Path)))
	if err != nil {
		return nil, uerrors.Wrap(err, uerrors.ErrManifestRejected, "decode manifest").WithPath(cfg.Source.Manifest)
	}
	return m, nil
}

// resolveMode picks the update mode from the config, overridden by --forced.
func resolveMode(cfg *config.Config, forced bool, configPath string) (update.Mode, error) {
	if forced {
		return update.ModeForced, nil
	}
	mode, ok := update.ParseMode(cfg.Update.Mode)
	if !ok {
		return "", uerrors.Newf(uerrors.ErrConfig, "unknown update mode %q", cfg.Update.Mode).WithPath(configPath)
	}
	return mode, nil
}
