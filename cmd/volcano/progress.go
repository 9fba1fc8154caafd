package main

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"golang.org/x/term"
)

const (
	progressUpdateInterval = 100 * time.Millisecond
	clearLineSequence      = "\r\033[K"
)

// ProgressPrinter shows "<prefix> (Ns)" on one line while a slow step runs.
// It only draws when the writer is a terminal.
//
//	p := NewProgressPrinter(os.Stderr, "Connecting")
//	p.Start()
//	defer p.Stop()
type ProgressPrinter struct {
	w      io.Writer
	prefix string
	active bool

	once sync.Once
	stop chan struct{}
	done chan struct{}
}

func NewProgressPrinter(w io.Writer, prefix string) *ProgressPrinter {
	return &ProgressPrinter{
		w:      w,
		prefix: prefix,
		active: isTerminal(w),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Start begins drawing in a background goroutine. It must be called at most once.
func (p *ProgressPrinter) Start() {
	if !p.active {
		close(p.done)
		return
	}

	start := time.Now()
	fmt.Fprintf(p.w, "\r%s...", p.prefix)

	go func() {
		defer close(p.done)
		ticker := time.NewTicker(progressUpdateInterval)
		defer ticker.Stop()

		for {
			select {
			case <-p.stop:
				return
			case <-ticker.C:
				fmt.Fprintf(p.w, "\r%s (%ds)   ", p.prefix, int(time.Since(start).Seconds()))
			}
		}
	}()
}

// Stop ends drawing and clears the line. Safe to call more than once.
func (p *ProgressPrinter) Stop() {
	p.once.Do(func() {
		close(p.stop)
		<-p.done
		if p.active {
			fmt.Fprint(p.w, clearLineSequence)
		}
	})
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
