package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/fatih/color"
	"golang.org/x/term"

	"github.com/codefionn/greyhound/internal/download"
	"github.com/codefionn/greyhound/internal/reader"
)

// meter reports finished regions. On a terminal it redraws a single bar,
// otherwise it prints one line per region.
type meter struct {
	w     io.Writer
	total int
	tty   bool
	width int

	mu     sync.Mutex
	done   int
	failed int
	points int64
	bytes  int64
}

func newMeter(w io.Writer, total int) *meter {
	m := &meter{w: w, total: total, width: 80}
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		m.tty = true
		if cols, _, err := term.GetSize(int(f.Fd())); err == nil && cols > 0 {
			m.width = cols
		}
	}
	return m
}

func (m *meter) region(r download.Region, res *reader.ReadResult, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.done++
	if err != nil {
		m.failed++
	} else if res != nil {
		m.points += res.NumPoints
		m.bytes += res.NumBytes
	}

	if !m.tty {
		if err != nil {
			fmt.Fprintf(m.w, "region %d: %s %v\n", r.Index, color.RedString("failed"), err)
			return
		}
		fmt.Fprintf(m.w, "region %d: read complete, points: %d bytes: %s\n", r.Index, res.NumPoints, formatBytes(res.NumBytes))
		return
	}
	fmt.Fprintf(m.w, "\r%s", m.line())
}

func (m *meter) finish() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tty && m.done > 0 {
		fmt.Fprintln(m.w)
	}
}

// line renders the bar, clipped to the terminal width.
func (m *meter) line() string {
	status := fmt.Sprintf(" %d/%d  %d pts  %s", m.done, m.total, m.points, formatBytes(m.bytes))
	if m.failed > 0 {
		status += fmt.Sprintf("  %d failed", m.failed)
	}

	bar := m.width - len(status) - 3
	if bar < 10 {
		return padRight(status, m.width-1)
	}
	filled := 0
	if m.total > 0 {
		filled = bar * m.done / m.total
	}
	return padRight("["+strings.Repeat("=", filled)+strings.Repeat(" ", bar-filled)+"]"+status, m.width-1)
}

func padRight(s string, width int) string {
	if width <= 0 {
		return s
	}
	if len(s) >= width {
		return s[:width]
	}
	return s + strings.Repeat(" ", width-len(s))
}

func formatBytes(n int64) string {
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
