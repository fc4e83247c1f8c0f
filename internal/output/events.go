package output

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/valyala/fastjson"

	"cw/internal/tail"
)

// Format selects how events are rendered.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// ParseFormat accepts "text" or "json", case-insensitively.
func ParseFormat(value string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(value))) {
	case "", FormatText:
		return FormatText, nil
	case FormatJSON:
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want text or json)", value)
	}
}

// EventOptions toggles the parts of an event that get printed.
type EventOptions struct {
	Format     Format
	Timestamp  bool
	GroupName  bool
	StreamName bool
	EventID    bool
	// Local renders timestamps in the local zone instead of UTC.
	Local bool
	// ExpandJSON embeds messages that are JSON objects as objects in JSON
	// output rather than as escaped strings.
	ExpandJSON bool
	Color      bool
}

// EventSink writes events to w. It is safe for concurrent use; each event is
// written with a single Write call.
type EventSink struct {
	mu   sync.Mutex
	w    io.Writer
	opts EventOptions

	buf    bytes.Buffer
	arena  fastjson.Arena
	parser fastjson.Parser

	timeColor   *color.Color
	groupColor  *color.Color
	streamColor *color.Color
	idColor     *color.Color
}

// NewEventSink builds a sink for the given options.
func NewEventSink(w io.Writer, opts EventOptions) *EventSink {
	if opts.Format == "" {
		opts.Format = FormatText
	}
	sink := &EventSink{
		w:           w,
		opts:        opts,
		timeColor:   color.New(color.FgGreen),
		groupColor:  color.New(color.FgBlue),
		streamColor: color.New(color.FgCyan),
		idColor:     color.New(color.FgYellow),
	}
	for _, c := range []*color.Color{sink.timeColor, sink.groupColor, sink.streamColor, sink.idColor} {
		if opts.Color {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return sink
}

// Write renders a single event.
func (s *EventSink) Write(ev tail.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.buf.Reset()
	if s.opts.Format == FormatJSON {
		s.renderJSON(ev)
	} else {
		s.renderText(ev)
	}
	s.buf.WriteByte('\n')
	if _, err := s.w.Write(s.buf.Bytes()); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return nil
}

// WriteBatch renders events in order, stopping at the first write error.
func (s *EventSink) WriteBatch(events []tail.Event) error {
	for _, ev := range events {
		if err := s.Write(ev); err != nil {
			return err
		}
	}
	return nil
}

func (s *EventSink) renderText(ev tail.Event) {
	if s.opts.Timestamp && !ev.Timestamp.IsZero() {
		s.prefix(s.timeColor, s.formatTime(ev.Timestamp))
	}
	if s.opts.GroupName {
		s.prefix(s.groupColor, ev.Source)
	}
	if s.opts.StreamName && ev.Stream != "" {
		s.prefix(s.streamColor, ev.Stream)
	}
	if s.opts.EventID && ev.ID != "" {
		s.prefix(s.idColor, ev.ID)
	}
	s.buf.WriteString(strings.TrimRight(ev.Message, "\r\n"))
}

func (s *EventSink) prefix(c *color.Color, value string) {
	s.buf.WriteString(c.Sprint(value))
	s.buf.WriteString(" - ")
}

// renderJSON writes keys in lexical order: group, id, message, stream,
// timestamp.
func (s *EventSink) renderJSON(ev tail.Event) {
	s.arena.Reset()
	obj := s.arena.NewObject()
	if s.opts.GroupName {
		obj.Set("group", s.arena.NewString(ev.Source))
	}
	if s.opts.EventID && ev.ID != "" {
		obj.Set("id", s.arena.NewString(ev.ID))
	}
	obj.Set("message", s.messageValue(ev.Message))
	if s.opts.StreamName && ev.Stream != "" {
		obj.Set("stream", s.arena.NewString(ev.Stream))
	}
	if s.opts.Timestamp && !ev.Timestamp.IsZero() {
		obj.Set("timestamp", s.arena.NewString(s.formatTime(ev.Timestamp)))
	}
	s.buf.Write(obj.MarshalTo(nil))
}

func (s *EventSink) messageValue(message string) *fastjson.Value {
	if s.opts.ExpandJSON {
		trimmed := strings.TrimSpace(message)
		if strings.HasPrefix(trimmed, "{") {
			if v, err := s.parser.Parse(trimmed); err == nil && v.Type() == fastjson.TypeObject {
				return v
			}
		}
	}
	return s.arena.NewString(message)
}

func (s *EventSink) formatTime(ts time.Time) string {
	if s.opts.Local {
		return ts.Local().Format(time.RFC3339)
	}
	return ts.UTC().Format(time.RFC3339)
}

// ShouldColorize reports whether w is an interactive terminal.
func ShouldColorize(w io.Writer) bool {
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
