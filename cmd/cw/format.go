package main

import (
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
)

func formatAgo(ts time.Time) string {
	if ts.IsZero() {
		return "-"
	}
	return humanize.Time(ts)
}

func formatCount(value *int64) string {
	if value == nil {
		return "-"
	}
	return humanize.Comma(*value)
}

func formatFloatCount(value *float64) string {
	if value == nil {
		return "-"
	}
	return humanize.Commaf(*value)
}

func formatBytes(value *float64) string {
	if value == nil || *value < 0 {
		return "-"
	}
	return humanize.Bytes(uint64(*value))
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return strconv.FormatInt(d.Milliseconds(), 10) + "ms"
	}
	return d.Round(100 * time.Millisecond).String()
}
