// Package update drives one update pass over an installation directory.
//
// The pass is sequential: messages, component selection, a download pass
// into staging, a deploy pass into the tree, a cleanup pass driven by the
// previous ledger, and a commit that writes the new ledger and the version
// cache. Nothing is committed unless every earlier step succeeded, so an
// aborted pass leaves the cache and ledger exactly as they were.
package update

import (
	"context"
	"errors"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ProtonMail/go-crypto/openpgp" //nolint:staticcheck // Using ProtonMail's maintained fork

	"github.com/ZebulonRouseFrantzich/packsync/internal/cache"
	"github.com/ZebulonRouseFrantzich/packsync/internal/clock"
	"github.com/ZebulonRouseFrantzich/packsync/internal/deploy"
	uerrors "github.com/ZebulonRouseFrantzich/packsync/internal/errors"
	"github.com/ZebulonRouseFrantzich/packsync/internal/ledger"
	"github.com/ZebulonRouseFrantzich/packsync/internal/logging"
	"github.com/ZebulonRouseFrantzich/packsync/internal/manifest"
	"github.com/ZebulonRouseFrantzich/packsync/internal/platform"
	"github.com/ZebulonRouseFrantzich/packsync/internal/transaction"
	"github.com/ZebulonRouseFrantzich/packsync/internal/transfer"
)

// Step names attached to fatal errors.
const (
	StepLock       = "lock"
	StepInitialize = "initialize"
	StepSelect     = "component_selection"
	StepMessages   = "messages"
	StepDownload   = "download"
	StepDeploy     = "deploy"
	StepCleanup    = "cleanup"
	StepCommit     = "commit"
)

// PendingGroup is the ledger group holding orphans whose deletion failed.
// They stay recorded so the next pass tries again.
const PendingGroup = "~pending"

// Progress windows of the overall bar.
const (
	downloadOffset = 0.0
	downloadSize   = 0.95
	installOffset  = 0.95
	installSize    = 0.05
)

// Options configure an Updater.
type Options struct {
	// Root is the installation directory.
	Root string
	// BaseURL is the remote prefix file URLs are joined onto.
	BaseURL  string
	Manifest *manifest.Manifest
	// TargetVersion is recorded as the last update id on commit. When
	// empty the run id is recorded instead.
	TargetVersion string
	Mode          Mode

	// Fetcher defaults to an HTTPFetcher.
	Fetcher transfer.Fetcher
	// Platform filters files by environment. Nil matches every file.
	Platform *platform.Info
	// Keyring verifies signed groups.
	Keyring    openpgp.EntityList
	Tries      int
	RetryDelay time.Duration

	Listener Listener
	Selector Selector
	Prompter Prompter
	Logger   logging.Logger
	Clock    clock.Clock

	// PruneCache drops cache entries for files no longer in the manifest.
	PruneCache bool
}

// Result summarizes a committed pass. Paths are identities.
type Result struct {
	RunID      string
	Downloaded []string
	Skipped    []string
	Deployed   []string
	Removed    []string
	Selection  manifest.Selection
}

// Updater runs update passes for one installation.
type Updater struct {
	opts     Options
	base     *url.URL
	logger   logging.Logger
	listener Listener
	selector Selector
	prompter Prompter
	clock    clock.Clock

	mu    sync.Mutex
	state State
}

// New validates opts and fills in defaults.
func New(opts Options) (*Updater, error) {
	if opts.Root == "" {
		return nil, uerrors.New(uerrors.ErrInvalidInput, "installation root is required")
	}
	if opts.Manifest == nil {
		return nil, uerrors.New(uerrors.ErrInvalidInput, "manifest is required")
	}
	if err := opts.Manifest.Validate(); err != nil {
		return nil, err
	}
	base, err := url.Parse(opts.BaseURL)
	if err != nil || base.Scheme == "" {
		return nil, uerrors.Newf(uerrors.ErrInvalidInput, "invalid base URL %q", opts.BaseURL)
	}

	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, uerrors.Wrap(err, uerrors.ErrInvalidInput, "resolve installation root")
	}
	opts.Root = root

	if opts.Mode == "" {
		opts.Mode = ModeIncremental
	}
	if opts.Fetcher == nil {
		opts.Fetcher = transfer.NewHTTPFetcher(0, "")
	}
	if opts.Tries <= 0 {
		opts.Tries = transfer.DefaultTries
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = transfer.DefaultRetryDelay
	}

	u := &Updater{
		opts:     opts,
		base:     base,
		logger:   opts.Logger,
		listener: opts.Listener,
		selector: opts.Selector,
		prompter: opts.Prompter,
		clock:    opts.Clock,
	}
	if u.logger == nil {
		u.logger = logging.Noop()
	}
	if u.listener == nil {
		u.listener = NopListener{}
	}
	if u.selector == nil {
		u.selector = keepSelection{}
	}
	if u.prompter == nil {
		u.prompter = logPrompter{logger: u.logger}
	}
	if u.clock == nil {
		u.clock = clock.Real{}
	}
	return u, nil
}

// State returns the current lifecycle state. Safe to call from any
// goroutine.
func (u *Updater) State() State {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.state
}

func (u *Updater) setState(s State) {
	u.mu.Lock()
	u.state = s
	u.mu.Unlock()
	u.logger.Debug("update state", "state", s.String())
}

// plan is the per-file record carried from the download pass to the
// deploy pass.
type plan struct {
	entry    manifest.Entry
	policy   manifest.Policy
	eligible bool
	outcome  transfer.Outcome
}

// run holds the state of one pass.
type run struct {
	staging   *transfer.Staging
	journal   *transaction.Journal
	cache     *cache.Cache
	previous  *ledger.Ledger
	current   *ledger.Ledger
	selection manifest.Selection
	progress  *progress
	result    *Result
}

// Run performs one update pass.
func (u *Updater) Run(ctx context.Context) (_ *Result, err error) {
	root := u.opts.Root
	m := u.opts.Manifest

	lock, err := transaction.AcquireLock(ctx, root)
	if err != nil {
		if errors.Is(err, transaction.ErrLockExists) {
			return nil, uerrors.Wrap(err, uerrors.ErrInvalidInput, "installation is locked").WithPath(root).WithStep(StepLock)
		}
		return nil, uerrors.Wrap(err, uerrors.ErrDeploy, "lock installation").WithPath(root).WithStep(StepLock)
	}
	defer func() {
		if rerr := lock.Release(); rerr != nil {
			u.logger.Warn("failed to release lock", "error", rerr)
		}
	}()

	r := &run{
		staging:  transfer.NewStaging(root),
		current:  ledger.New(),
		progress: newProgress(u.listener),
	}

	if prev, jerr := transaction.LoadJournal(r.staging.Dir); jerr != nil {
		u.logger.Warn("unreadable journal from a previous run", "error", jerr)
	} else if prev.Interrupted() {
		u.logger.Warn("previous update was interrupted", "run", prev.ID, "step", prev.Step, "started", prev.Timestamp)
	}

	r.journal = transaction.NewJournal(u.opts.TargetVersion, string(u.opts.Mode), u.clock.Now())
	r.result = &Result{RunID: r.journal.ID}

	defer func() {
		if err == nil {
			return
		}
		u.setState(StateAborted)
		state := transaction.StateFailed
		if uerrors.IsErrorCode(err, uerrors.ErrCancelled) {
			state = transaction.StateCancelled
		}
		step := ""
		var ue *uerrors.UpdateError
		if errors.As(err, &ue) {
			step = ue.Step
		}
		r.journal.Mark(state, step, err)
		if serr := r.saveJournal(); serr != nil {
			u.logger.Warn("failed to save journal", "error", serr)
		}
		u.logger.Error("update aborted", "run", r.journal.ID, "error", err)
	}()

	u.setState(StateInitialize)
	title := m.Title
	if title == "" {
		title = "package"
	}
	r.progress.title("Updating " + title)
	u.logger.Info("starting update", "run", r.journal.ID, "root", root, "mode", string(u.opts.Mode), "target", u.opts.TargetVersion)

	if r.cache, err = cache.Open(filepath.Join(root, cache.FileName)); err != nil {
		return nil, stepError(err, StepInitialize)
	}
	if r.previous, err = ledger.Read(filepath.Join(root, ledger.FileName)); err != nil {
		return nil, stepError(err, StepInitialize)
	}
	if err := r.saveJournal(); err != nil {
		return nil, uerrors.Wrap(err, uerrors.ErrDeploy, "write journal").WithStep(StepInitialize)
	}

	if err := u.showMessages(ctx, r, manifest.PhaseInitialize); err != nil {
		return nil, err
	}

	u.setState(StateComponentSelection)
	if err := u.selectComponents(ctx, r); err != nil {
		return nil, err
	}

	if u.opts.Mode == ModeForced {
		u.logger.Info("forced update, clearing staging", "dir", r.staging.Dir)
		if err := r.staging.Clear(); err != nil {
			return nil, uerrors.Wrap(err, uerrors.ErrDeploy, "clear staging").WithStep(StepDownload)
		}
		if err := r.saveJournal(); err != nil {
			return nil, uerrors.Wrap(err, uerrors.ErrDeploy, "write journal").WithStep(StepDownload)
		}
	}

	u.setState(StatePreDownload)
	r.progress.status("Downloading files...")
	r.progress.window(downloadOffset, downloadSize)
	if err := u.showMessages(ctx, r, manifest.PhasePreDownload); err != nil {
		return nil, err
	}

	u.setState(StateDownloading)
	plans, err := u.downloadPass(ctx, r)
	if err != nil {
		return nil, err
	}

	u.setState(StatePostDownload)
	if err := u.showMessages(ctx, r, manifest.PhasePostDownload); err != nil {
		return nil, err
	}

	u.setState(StatePreInstall)
	r.progress.status("Installing...")
	r.progress.window(installOffset, installSize)
	if err := u.showMessages(ctx, r, manifest.PhasePreInstall); err != nil {
		return nil, err
	}

	u.setState(StateDeploying)
	if err := u.deployPass(ctx, r, plans); err != nil {
		return nil, err
	}

	u.setState(StatePostInstall)
	if err := u.showMessages(ctx, r, manifest.PhasePostInstall); err != nil {
		return nil, err
	}

	u.setState(StateCleanup)
	r.progress.status("Removing old files...")
	if err := u.cleanup(ctx, r); err != nil {
		return nil, err
	}

	u.setState(StateFinalize)
	if err := u.showMessages(ctx, r, manifest.PhaseFinalize); err != nil {
		return nil, err
	}
	if err := u.commit(r); err != nil {
		return nil, err
	}

	u.setState(StateCommitted)
	r.progress.overall(1)
	r.progress.status("Update complete.")
	u.logger.Info("update committed", "run", r.journal.ID,
		"downloaded", len(r.result.Downloaded), "deployed", len(r.result.Deployed),
		"skipped", len(r.result.Skipped), "removed", len(r.result.Removed))
	return r.result, nil
}

func (r *run) saveJournal() error {
	if err := r.staging.Ensure(); err != nil {
		return err
	}
	return r.journal.Save(r.staging.Dir)
}

// showMessages presents the messages of one phase. One-time messages are
// skipped once acknowledged. A declined message cancels the pass.
func (u *Updater) showMessages(ctx context.Context, r *run, phase manifest.Phase) error {
	for _, msg := range u.opts.Manifest.MessagesForPhase(phase) {
		if err := checkCancelled(ctx, StepMessages); err != nil {
			return err
		}
		if msg.Once && r.cache.Acknowledged(msg.ID) {
			continue
		}
		ok, err := u.prompter.Show(ctx, msg)
		if err != nil {
			return uerrors.Wrapf(err, uerrors.ErrCancelled, "message %q could not be shown", msg.ID).WithStep(StepMessages)
		}
		if !ok {
			return uerrors.Newf(uerrors.ErrCancelled, "message %q was declined", msg.ID).WithStep(StepMessages)
		}
		if msg.Once {
			r.cache.Acknowledge(msg.ID)
		}
	}
	return nil
}

// selectComponents recalls earlier choices, asks the Selector when there
// is anything to choose and stores the confirmed choices in the cache.
func (u *Updater) selectComponents(ctx context.Context, r *run) error {
	m := u.opts.Manifest
	sel := m.DefaultSelection()
	optional := m.OptionalComponents()

	for _, c := range optional {
		if v, ok := r.cache.RecallSelection(c.ID); ok {
			sel[c.ID] = v
		}
	}

	if len(optional) > 0 {
		r.progress.status("Asking for install options...")
		current := make(manifest.Selection, len(sel))
		for k, v := range sel {
			current[k] = v
		}
		chosen, err := u.selector.Select(ctx, optional, current)
		if err != nil {
			return uerrors.Wrap(err, uerrors.ErrCancelled, "component selection failed").WithStep(StepSelect)
		}
		for _, c := range optional {
			if v, ok := chosen[c.ID]; ok {
				sel[c.ID] = v
			}
		}
	}

	for _, c := range optional {
		r.cache.StoreSelection(c.ID, sel[c.ID])
	}
	r.selection = sel
	r.result.Selection = sel
	return nil
}

// downloadPass stages every eligible file that is not already current.
func (u *Updater) downloadPass(ctx context.Context, r *run) ([]plan, error) {
	m := u.opts.Manifest
	entries := m.Entries()
	plans := make([]plan, len(entries))

	downloader := u.newDownloader(r)

	tracker := &sizeTracker{}
	for i, e := range entries {
		p, err := manifest.Resolve(u.opts.Root, u.base, e.Group, e.File)
		if err != nil {
			return nil, uerrors.Wrap(err, uerrors.ErrManifestRejected, "resolve file").WithPath(e.File.Path).WithStep(StepDownload)
		}
		if reserved(p.Identity) {
			return nil, uerrors.Newf(uerrors.ErrManifestRejected, "%s is reserved for update bookkeeping", p.Identity).
				WithPath(p.Identity).WithStep(StepDownload)
		}
		plans[i] = plan{entry: e, policy: p}
		if manifest.MatchesEnvironment(e.File, u.opts.Platform) && m.MatchesComponents(e.File, r.selection) {
			plans[i].eligible = true
			tracker.total += p.Size
			tracker.count++
		}
	}

	for i := range plans {
		pl := &plans[i]
		if err := checkCancelled(ctx, StepDownload); err != nil {
			return nil, err
		}
		if !pl.eligible {
			continue
		}

		p := pl.policy
		cur := cursor{index: i, total: len(plans), name: path.Base(p.Identity)}
		last, hasLast := r.cache.Get(p.Identity)

		out, err := downloader.Download(ctx, transfer.Request{
			Policy:     p,
			LastMarker: last,
			HasLast:    hasLast,
			Forced:     u.opts.Mode == ModeForced,
			OnAttempt: func(attempt int) {
				r.progress.status("Downloading %s (%d/%d) [try %d]...", cur.name, cur.ordinal(), cur.total, attempt)
			},
			Progress: func(done, total int64) {
				if total > 0 {
					r.progress.status("(%d left) %s: Downloaded %d/%d KB...", cur.left(), cur.name, done/1024, total/1024)
					r.progress.value(tracker.fraction(p.Size, float64(done)/float64(total)))
				} else {
					r.progress.status("(%d left) %s: Downloaded %d KB...", cur.left(), cur.name, done/1024)
				}
			},
		})
		if err != nil {
			return nil, stepError(withPath(err, p.Identity), StepDownload)
		}
		pl.outcome = out

		if out.Skipped {
			r.cache.Touch(p.Identity)
			r.result.Skipped = append(r.result.Skipped, p.Identity)
		} else {
			r.cache.Set(p.Identity, out.Marker)
			r.result.Downloaded = append(r.result.Downloaded, p.Identity)
		}

		tracker.complete(p.Size)
		r.progress.value(tracker.fraction(0, 0))
	}
	return plans, nil
}

func (u *Updater) newDownloader(r *run) *transfer.Downloader {
	d := transfer.NewDownloader(u.opts.Fetcher, r.staging)
	d.Tries = u.opts.Tries
	d.RetryDelay = u.opts.RetryDelay
	d.Clock = u.clock
	d.Logger = u.logger
	return d
}

// refetchFull replaces a patch whose result did not match its checksum
// with a full download of the file.
func (u *Updater) refetchFull(ctx context.Context, r *run, pl *plan, cur cursor) error {
	p := pl.policy
	last, hasLast := r.cache.Get(p.Identity)
	out, err := u.newDownloader(r).Download(ctx, transfer.Request{
		Policy:     p,
		LastMarker: last,
		HasLast:    hasLast,
		Forced:     true,
		OnAttempt: func(attempt int) {
			r.progress.status("Downloading %s (%d/%d) [try %d]...", cur.name, cur.ordinal(), cur.total, attempt)
		},
	})
	if err != nil {
		return stepError(withPath(err, p.Identity), StepDeploy)
	}
	r.cache.Set(p.Identity, out.Marker)
	pl.outcome = out
	return nil
}

// deployPass writes every staged file into place in declaration order and
// records each placed path in the current ledger. Files left untouched
// carry their previous ledger records forward.
func (u *Updater) deployPass(ctx context.Context, r *run, plans []plan) error {
	deployer := deploy.New(u.opts.Keyring, u.logger)

	for i := range plans {
		pl := &plans[i]
		if err := checkCancelled(ctx, StepDeploy); err != nil {
			return err
		}
		if !pl.eligible {
			continue
		}

		p := pl.policy
		if pl.outcome.Skipped {
			if !r.current.CopyGroupFrom(r.previous, p.Identity) && p.Kind == manifest.KindFile && exists(p.Dest) {
				r.current.Add(p.Identity, p.Identity)
			}
			continue
		}

		cur := cursor{index: i, total: len(plans), name: path.Base(p.Identity)}
		r.progress.value(float64(cur.index) / float64(cur.total))
		r.progress.status("Installing %s (%d/%d)...", cur.name, cur.ordinal(), cur.total)

		req := deploy.Request{
			Policy:        p,
			Root:          u.opts.Root,
			StagedPath:    pl.outcome.StagedPath,
			SignaturePath: pl.outcome.SignaturePath,
			Delta:         pl.outcome.Delta,
		}
		placed, err := deployer.Deploy(req)
		if err != nil && errors.Is(err, deploy.ErrDeltaMismatch) {
			u.logger.Warn("patched file did not match, downloading it in full", "file", p.Identity)
			if err := u.refetchFull(ctx, r, pl, cur); err != nil {
				return err
			}
			req.StagedPath = pl.outcome.StagedPath
			req.SignaturePath = pl.outcome.SignaturePath
			req.Delta = false
			placed, err = deployer.Deploy(req)
		}
		if err != nil {
			u.logger.Warn("failed to deploy", "file", p.Identity, "error", err)
			return stepError(withPath(err, p.Identity), StepDeploy)
		}
		for _, id := range placed {
			r.current.Add(p.Identity, id)
		}
		r.result.Deployed = append(r.result.Deployed, placed...)
	}
	r.progress.value(1)
	return nil
}

// cleanup deletes every path the previous installation placed that the
// current pass did not. A path that cannot be deleted stays in the ledger
// so the next pass retries it.
func (u *Updater) cleanup(ctx context.Context, r *run) error {
	for _, orphan := range ledger.Orphans(r.previous, r.current) {
		if err := checkCancelled(ctx, StepCleanup); err != nil {
			return err
		}
		if reserved(orphan) {
			continue
		}
		if err := deploy.Remove(u.opts.Root, orphan); err != nil {
			u.logger.Warn("failed to remove old file", "file", orphan, "error", err)
			r.current.Add(PendingGroup, orphan)
			continue
		}
		u.logger.Debug("removed old file", "file", orphan)
		r.result.Removed = append(r.result.Removed, orphan)
	}
	return nil
}

// commit persists the new ledger and the version cache and removes the
// staging area. Until here nothing but installed files changed on disk.
func (u *Updater) commit(r *run) error {
	root := u.opts.Root
	if err := r.current.Write(filepath.Join(root, ledger.FileName)); err != nil {
		return stepError(err, StepCommit)
	}

	if err := r.staging.Remove(); err != nil {
		u.logger.Warn("failed to remove staging", "dir", r.staging.Dir, "error", err)
	}

	id := u.opts.TargetVersion
	if id == "" {
		id = r.journal.ID
	}
	r.cache.SetLastUpdateID(id)
	if u.opts.PruneCache {
		if pruned := r.cache.Prune(); len(pruned) > 0 {
			u.logger.Debug("pruned version cache", "entries", len(pruned))
		}
	}
	if err := r.cache.Persist(); err != nil {
		return stepError(err, StepCommit)
	}
	return nil
}

// reserved reports whether identity names a bookkeeping file of the
// installation root.
func reserved(identity string) bool {
	switch identity {
	case cache.FileName, ledger.FileName, transaction.LockFileName, transfer.StagingDirName:
		return true
	}
	return strings.HasPrefix(identity, transfer.StagingDirName+"/")
}

func checkCancelled(ctx context.Context, step string) error {
	if err := ctx.Err(); err != nil {
		return uerrors.Wrap(err, uerrors.ErrCancelled, "update cancelled").WithStep(step)
	}
	return nil
}

// stepError makes sure err is coded and names its step.
func stepError(err error, step string) error {
	var ue *uerrors.UpdateError
	if errors.As(err, &ue) {
		if ue.Step == "" {
			ue.Step = step
		}
		return err
	}
	return uerrors.Wrap(err, uerrors.ErrUnknown, "update failed").WithStep(step)
}

// withPath fills in the file of a coded error that lacks one.
func withPath(err error, identity string) error {
	var ue *uerrors.UpdateError
	if errors.As(err, &ue) && ue.Path == "" {
		ue.Path = identity
	}
	return err
}

func exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}
