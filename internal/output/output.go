package output

import (
	"fmt"
	"io"
	"time"
)

type Formatter struct {
	w io.Writer
}

func NewFormatter(w io.Writer) *Formatter {
	return &Formatter{w: w}
}

func (f *Formatter) Countdown(remaining time.Duration) {
	fmt.Fprintf(f.w, "⏳ Recording starts in %d...\n", int((remaining+time.Second-1)/time.Second))
}

func (f *Formatter) RecordingStarted(configured time.Duration) {
	fmt.Fprintf(f.w, "🔴 Recording (%s). Press p to pause/resume, s to stop.\n", FormatRemaining(configured))
}

// Progress rewrites the current line with the time left.
func (f *Formatter) Progress(remaining time.Duration, paused bool) {
	label := "recording"
	if paused {
		label = "paused"
	}
	fmt.Fprintf(f.w, "\r⏺️  %s remaining (%s)   ", FormatRemaining(remaining), label)
}

func (f *Formatter) Paused() {
	fmt.Fprintf(f.w, "\n⏸️  Paused\n")
}

func (f *Formatter) Resumed() {
	fmt.Fprintf(f.w, "\n▶️  Resumed\n")
}

func (f *Formatter) RecordingStopped(recorded time.Duration, auto bool) {
	if auto {
		fmt.Fprintf(f.w, "\n⏰ Time is up. Recording stopped (%s)\n", formatDuration(recorded))
		return
	}
	fmt.Fprintf(f.w, "\n⏹️  Recording stopped (%s)\n", formatDuration(recorded))
}

func (f *Formatter) Finalizing() {
	fmt.Fprintf(f.w, "💾 Saving recording...\n")
}

func (f *Formatter) RecordingSaved(path string, transcoded bool) {
	if transcoded {
		fmt.Fprintf(f.w, "✅ Recording saved: %s\n", path)
		return
	}
	fmt.Fprintf(f.w, "✅ Recording saved (not converted): %s\n", path)
}

func (f *Formatter) Archived(key string) {
	fmt.Fprintf(f.w, "☁️  Uploaded: %s\n", key)
}

func (f *Formatter) Error(msg string) {
	fmt.Fprintf(f.w, "❌ %s\n", msg)
}

func (f *Formatter) Info(msg string) {
	fmt.Fprintf(f.w, "ℹ️  %s\n", msg)
}

func (f *Formatter) Success(msg string) {
	fmt.Fprintf(f.w, "✅ %s\n", msg)
}

func (f *Formatter) Warning(msg string) {
	fmt.Fprintf(f.w, "⚠️  %s\n", msg)
}

func (f *Formatter) Status(state, sessionID string, remaining, recorded time.Duration) {
	fmt.Fprintf(f.w, "State:     %s\n", state)
	if sessionID != "" {
		fmt.Fprintf(f.w, "Session:   %s\n", sessionID)
	}
	fmt.Fprintf(f.w, "Remaining: %s\n", FormatRemaining(remaining))
	fmt.Fprintf(f.w, "Recorded:  %s\n", formatDuration(recorded))
}

func (f *Formatter) RecordingListHeader(title string) {
	fmt.Fprintf(f.w, "📁 %s:\n\n", title)
}

func (f *Formatter) RecordingListItem(name string, size int64, modified time.Time) {
	if size <= 0 {
		fmt.Fprintf(f.w, "  %s  %s\n", modified.Local().Format("2006-01-02 15:04"), name)
		return
	}
	fmt.Fprintf(f.w, "  %s  %9s  %s\n", modified.Local().Format("2006-01-02 15:04"), formatSize(size), name)
}

func (f *Formatter) SetupCheck(name string, ok bool, detail string) {
	if ok {
		fmt.Fprintf(f.w, "  ✅ %s: %s\n", name, detail)
	} else {
		fmt.Fprintf(f.w, "  ❌ %s: %s\n", name, detail)
	}
}

// FormatRemaining renders a countdown as MM:SS, or HH:MM:SS from one hour up.
func FormatRemaining(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64((d + time.Second - 1) / time.Second)
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	if h > 0 {
		return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%02dm%02ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%02ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}

func formatSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
