package main

import (
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"

	"cw/internal/output"
	"cw/internal/query"
)

// querySpinner shows the status of a running query on an interactive
// stderr. On anything else it does nothing.
type querySpinner struct {
	bar  *progressbar.ProgressBar
	done bool
}

func newQuerySpinner(w io.Writer) *querySpinner {
	if !output.ShouldColorize(w) {
		return &querySpinner{}
	}
	bar := progressbar.NewOptions(-1,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetDescription("submitting query"),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)
	return &querySpinner{bar: bar}
}

func (s *querySpinner) Update(p query.Progress) {
	if s.bar == nil || s.done {
		return
	}
	desc := fmt.Sprintf("%s %s %s", p.RunID, p.Status, formatDuration(p.Elapsed))
	if p.Stats != nil {
		desc += fmt.Sprintf(", %s records scanned (%s)",
			humanize.Commaf(p.Stats.RecordsScanned),
			humanize.Bytes(uint64(max(p.Stats.BytesScanned, 0))),
		)
	}
	s.bar.Describe(desc)
	_ = s.bar.Add(1)
}

func (s *querySpinner) Finish() {
	if s.bar == nil || s.done {
		return
	}
	s.done = true
	_ = s.bar.Finish()
}
