package main

import (
	"context"
	"fmt"
	"io"

	"github.com/pterm/pterm"

	"github.com/ZebulonRouseFrantzich/packsync/internal/manifest"
)

// progressScale is the progress bar resolution.
const progressScale = 1000

// terminalUI renders update progress with pterm and answers the update's
// selection and message hooks. With interactive off every message is
// accepted and the configured components are applied without asking.
type terminalUI struct {
	out         io.Writer
	preset      map[string]bool
	interactive bool
	render      bool

	title string
	bar   *pterm.ProgressbarPrinter
}

func newTerminalUI(out io.Writer, preset map[string]bool, interactive, render bool) *terminalUI {
	return &terminalUI{out: out, preset: preset, interactive: interactive, render: render}
}

func (t *terminalUI) TitleChanged(title string) {
	t.title = title
	if t.render {
		pterm.DefaultSection.Println(title)
	}
}

func (t *terminalUI) StatusChanged(status string) {
	if t.bar != nil {
		t.bar.UpdateTitle(status)
	}
}

func (t *terminalUI) ValueChanged(value float64) {
	if !t.render {
		return
	}
	if t.bar == nil {
		bar, err := pterm.DefaultProgressbar.
			WithTotal(progressScale).
			WithTitle(t.title).
			WithShowElapsedTime(true).
			Start()
		if err != nil {
			return
		}
		t.bar = bar
	}
	target := int(value * progressScale)
	if delta := target - t.bar.Current; delta > 0 {
		t.bar.Add(delta)
	}
}

// pause stops the bar before an interactive prompt. The next value
// change starts a fresh one.
func (t *terminalUI) pause() {
	if t.bar != nil {
		_, _ = t.bar.Stop()
		t.bar = nil
	}
}

func (t *terminalUI) finish() {
	t.pause()
}

// Select merges the configured components into the current choices and,
// when interactive, lets the user adjust them.
func (t *terminalUI) Select(ctx context.Context, optional []manifest.Component, current manifest.Selection) (manifest.Selection, error) {
	sel := make(manifest.Selection, len(current))
	for id, v := range current {
		sel[id] = v
	}
	for _, c := range optional {
		if v, ok := t.preset[c.ID]; ok {
			sel[c.ID] = v
		}
	}
	if !t.interactive {
		return sel, nil
	}

	t.pause()
	labels := make([]string, 0, len(optional))
	byLabel := make(map[string]string, len(optional))
	var defaults []string
	for _, c := range optional {
		label := componentLabel(c)
		labels = append(labels, label)
		byLabel[label] = c.ID
		if sel[c.ID] {
			defaults = append(defaults, label)
		}
	}

	chosen, err := pterm.DefaultInteractiveMultiselect.
		WithOptions(labels).
		WithDefaultOptions(defaults).
		Show("Select the components to install")
	if err != nil {
		return nil, fmt.Errorf("component prompt: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for _, c := range optional {
		sel[c.ID] = false
	}
	for _, label := range chosen {
		sel[byLabel[label]] = true
	}
	return sel, nil
}

func componentLabel(c manifest.Component) string {
	label := c.ID
	if c.Title != "" {
		label = c.Title + " (" + c.ID + ")"
	}
	if c.Description != "" {
		label += " - " + c.Description
	}
	return label
}

// Show prints a lifecycle message and, when interactive, asks the user to
// continue.
func (t *terminalUI) Show(ctx context.Context, msg manifest.Message) (bool, error) {
	t.pause()
	if msg.Title != "" {
		fmt.Fprintln(t.out, msg.Title)
	}
	fmt.Fprintln(t.out, msg.Text)
	if !t.interactive {
		return true, nil
	}

	ok, err := pterm.DefaultInteractiveConfirm.
		WithDefaultValue(true).
		Show("Continue?")
	if err != nil {
		return false, fmt.Errorf("message prompt: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return ok, nil
}
