package update

import (
	"context"

	"github.com/ZebulonRouseFrantzich/packsync/internal/logging"
	"github.com/ZebulonRouseFrantzich/packsync/internal/manifest"
)

// Selector asks which optional components to install. It receives the
// optional components and the current choices (recalled from earlier runs
// or defaults) and returns the confirmed choices. It may block.
type Selector interface {
	Select(ctx context.Context, optional []manifest.Component, current manifest.Selection) (manifest.Selection, error)
}

// Prompter shows a lifecycle message. Returning false or an error
// cancels the update.
type Prompter interface {
	Show(ctx context.Context, msg manifest.Message) (bool, error)
}

// SelectorFunc adapts a function to Selector.
type SelectorFunc func(ctx context.Context, optional []manifest.Component, current manifest.Selection) (manifest.Selection, error)

func (f SelectorFunc) Select(ctx context.Context, optional []manifest.Component, current manifest.Selection) (manifest.Selection, error) {
	return f(ctx, optional, current)
}

// PrompterFunc adapts a function to Prompter.
type PrompterFunc func(ctx context.Context, msg manifest.Message) (bool, error)

func (f PrompterFunc) Show(ctx context.Context, msg manifest.Message) (bool, error) {
	return f(ctx, msg)
}

// keepSelection confirms the current choices unchanged.
type keepSelection struct{}

func (keepSelection) Select(_ context.Context, _ []manifest.Component, current manifest.Selection) (manifest.Selection, error) {
	return current, nil
}

// logPrompter writes messages to the log and accepts them.
type logPrompter struct {
	logger logging.Logger
}

func (p logPrompter) Show(_ context.Context, msg manifest.Message) (bool, error) {
	p.logger.Info("update message", "phase", string(msg.Phase), "title", msg.Title, "text", msg.Text)
	return true, nil
}
