package update

// State is a step of the update lifecycle. A pass walks the states in
// declaration order; cancellation or failure jumps to StateAborted.
type State int

const (
	StateIdle State = iota
	StateInitialize
	StateComponentSelection
	StatePreDownload
	StateDownloading
	StatePostDownload
	StatePreInstall
	StateDeploying
	StatePostInstall
	StateCleanup
	StateFinalize
	StateCommitted
	StateAborted
)

var stateNames = map[State]string{
	StateIdle:               "idle",
	StateInitialize:         "initialize",
	StateComponentSelection: "component_selection",
	StatePreDownload:        "pre_download",
	StateDownloading:        "downloading",
	StatePostDownload:       "post_download",
	StatePreInstall:         "pre_install",
	StateDeploying:          "deploying",
	StatePostInstall:        "post_install",
	StateCleanup:            "cleanup",
	StateFinalize:           "finalize",
	StateCommitted:          "committed",
	StateAborted:            "aborted",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// Terminal reports whether the pass has ended.
func (s State) Terminal() bool {
	return s == StateCommitted || s == StateAborted
}

// Mode selects between an incremental and a forced update.
type Mode string

const (
	// ModeIncremental honours cached versions and entity tags.
	ModeIncremental Mode = "incremental"
	// ModeForced clears staging and re-fetches every eligible file.
	// Digests are still verified.
	ModeForced Mode = "forced"
)

// ParseMode accepts "incremental", "forced" and "full".
func ParseMode(s string) (Mode, bool) {
	switch s {
	case "", string(ModeIncremental):
		return ModeIncremental, true
	case string(ModeForced), "full":
		return ModeForced, true
	}
	return "", false
}
