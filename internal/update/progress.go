package update

import "fmt"

// Listener receives progress notifications. Calls are made synchronously
// from the goroutine running the update; implementations marshal to their
// own display thread if they need one.
type Listener interface {
	TitleChanged(title string)
	StatusChanged(status string)
	// ValueChanged reports overall completion in [0, 1].
	ValueChanged(value float64)
}

// NopListener ignores every notification.
type NopListener struct{}

func (NopListener) TitleChanged(string)  {}
func (NopListener) StatusChanged(string) {}
func (NopListener) ValueChanged(float64) {}

// EventKind tags an Event.
type EventKind int

const (
	EventTitle EventKind = iota
	EventStatus
	EventValue
)

// Event is one progress notification.
type Event struct {
	Kind  EventKind
	Text  string
	Value float64
}

func (e Event) String() string {
	switch e.Kind {
	case EventTitle:
		return "title: " + e.Text
	case EventStatus:
		return "status: " + e.Text
	default:
		return fmt.Sprintf("value: %.3f", e.Value)
	}
}

// ChannelListener turns notifications into Events on a channel. The
// update goroutine is the only producer; sends block when the buffer is
// full so no event is dropped.
type ChannelListener struct {
	events chan Event
}

// NewChannelListener creates a listener with the given buffer size.
func NewChannelListener(buffer int) *ChannelListener {
	return &ChannelListener{events: make(chan Event, buffer)}
}

// Events returns the receive side of the channel.
func (c *ChannelListener) Events() <-chan Event {
	return c.events
}

// Close closes the channel. Call it after Run returns.
func (c *ChannelListener) Close() {
	close(c.events)
}

func (c *ChannelListener) TitleChanged(title string) {
	c.events <- Event{Kind: EventTitle, Text: title}
}

func (c *ChannelListener) StatusChanged(status string) {
	c.events <- Event{Kind: EventStatus, Text: status}
}

func (c *ChannelListener) ValueChanged(value float64) {
	c.events <- Event{Kind: EventValue, Value: value}
}

// progress maps a phase's own [0, 1] completion into a window of the
// overall bar.
type progress struct {
	listener Listener
	offset   float64
	size     float64
}

func newProgress(l Listener) *progress {
	return &progress{listener: l, size: 1}
}

// window selects the slice of the overall bar the next phase reports into.
func (p *progress) window(offset, size float64) {
	p.offset = offset
	p.size = size
}

// value reports a phase-local fraction.
func (p *progress) value(v float64) {
	if v < 0 {
		v = 0
	} else if v > 1 {
		v = 1
	}
	p.listener.ValueChanged(p.offset + p.size*v)
}

// overall reports an absolute value, ignoring the window.
func (p *progress) overall(v float64) {
	p.listener.ValueChanged(v)
}

func (p *progress) status(format string, args ...interface{}) {
	p.listener.StatusChanged(fmt.Sprintf(format, args...))
}

func (p *progress) title(s string) {
	p.listener.TitleChanged(s)
}

// cursor is the position of one pass over the manifest, threaded through
// the loop so progress messages need no shared state.
type cursor struct {
	index int
	total int
	name  string
}

// ordinal is the 1-based position.
func (c cursor) ordinal() int {
	return c.index + 1
}

// left counts the files not yet processed, the current one included.
func (c cursor) left() int {
	return c.total - c.index
}

// sizeTracker blends the current file's fraction with the estimated bytes
// already downloaded, each file weighted by its declared size.
type sizeTracker struct {
	total int64
	done  int64
	count int
	seen  int
}

// fraction returns the download-phase completion while a file of size
// bytes is partFraction complete.
func (s *sizeTracker) fraction(size int64, partFraction float64) float64 {
	if s.total <= 0 {
		if s.count == 0 {
			return 1
		}
		return (float64(s.seen) + partFraction) / float64(s.count)
	}
	return float64(s.done)/float64(s.total) + float64(size)/float64(s.total)*partFraction
}

// complete records that a file finished.
func (s *sizeTracker) complete(size int64) {
	s.done += size
	s.seen++
}
