package volcano

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/volcano/internal/groutine"
)

// Pattern is a screen brightness animation
type Pattern string

const (
	PatternNone    Pattern = "none"
	PatternBlink   Pattern = "blink"
	PatternBreathe Pattern = "breathe"
	PatternAscend  Pattern = "ascend"
	PatternDescend Pattern = "descend"
)

const animationStep = 8

// Patterns lists the animations accepted by StartAnimation
var Patterns = []Pattern{PatternNone, PatternBlink, PatternBreathe, PatternAscend, PatternDescend}

// ParsePattern accepts a pattern name case-insensitively
func ParsePattern(name string) (Pattern, error) {
	p := Pattern(strings.ToLower(strings.TrimSpace(name)))
	for _, known := range Patterns {
		if p == known {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown animation pattern %q", name)
}

// Interval returns the tick period of the pattern
func (p Pattern) Interval() time.Duration {
	if p == PatternBlink {
		return 500 * time.Millisecond
	}
	return 100 * time.Millisecond
}

// NextBrightness computes one animation step. direction is +1 or -1 and only
// matters for breathe, which reverses it at the bounds.
func NextBrightness(p Pattern, current, direction int) (next, nextDirection int) {
	if direction == 0 {
		direction = 1
	}

	switch p {
	case PatternBlink:
		if current == MaxBrightness {
			return MinBrightness, direction
		}
		return MaxBrightness, direction

	case PatternBreathe:
		next = current + animationStep*direction
		if next >= MaxBrightness || next <= MinBrightness {
			direction = -direction
		}
		return clamp(next, MinBrightness, MaxBrightness), direction

	case PatternAscend:
		if current >= MaxBrightness {
			current = -animationStep
		}
		return min(current+animationStep, MaxBrightness), direction

	case PatternDescend:
		if current <= MinBrightness {
			current = MaxBrightness + animationStep
		}
		return max(current-animationStep, MinBrightness), direction

	default:
		return current, direction
	}
}

type animation struct {
	pattern Pattern
	cancel  context.CancelFunc
	done    chan struct{}
}

// StartAnimation replaces any running animation. PatternNone only stops.
func (d *Device) StartAnimation(pattern Pattern) error {
	if _, err := ParsePattern(string(pattern)); err != nil {
		return err
	}

	d.animStart.Lock()
	defer d.animStart.Unlock()

	d.stopAnimation()
	if pattern == PatternNone {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	a := &animation{
		pattern: pattern,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	d.animMu.Lock()
	d.anim = a
	d.animMu.Unlock()

	groutine.Go(ctx, "volcano-animation", func(ctx context.Context) {
		defer close(a.done)
		d.animate(ctx, pattern)
	})

	d.logger.WithField("pattern", pattern).Info("Animation started")
	return nil
}

// StopAnimation signals the running animation and waits a bounded time for it to exit
func (d *Device) StopAnimation() {
	d.animStart.Lock()
	defer d.animStart.Unlock()
	d.stopAnimation()
}

func (d *Device) stopAnimation() {
	d.animMu.Lock()
	a := d.anim
	d.anim = nil
	d.animMu.Unlock()

	if a == nil {
		return
	}

	a.cancel()
	select {
	case <-a.done:
		d.logger.WithField("pattern", a.pattern).Debug("Animation stopped")
	case <-time.After(d.cfg.AnimationStopTimeout):
		d.logger.WithField("pattern", a.pattern).Warn("Animation did not stop in time")
	}
}

// Animating returns the running pattern, or PatternNone
func (d *Device) Animating() Pattern {
	d.animMu.Lock()
	defer d.animMu.Unlock()
	if d.anim == nil {
		return PatternNone
	}
	return d.anim.pattern
}

func (d *Device) animate(ctx context.Context, pattern Pattern) {
	log := d.logger.WithField("pattern", pattern)
	defer d.restoreBrightness(log)

	brightness := MinBrightness
	direction := 1
	reconnected := false

	ticker := time.NewTicker(pattern.Interval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		next, nextDirection := NextBrightness(pattern, brightness, direction)
		if err := d.SetBrightness(ctx, next); err != nil {
			if ctx.Err() != nil {
				return
			}
			if reconnected {
				log.WithError(err).Warn("Animation giving up after reconnect")
				return
			}

			log.WithError(err).Info("Animation step failed, reconnecting once")
			reconnected = true
			if cerr := d.conn.Connect(ctx); cerr != nil {
				log.WithError(cerr).Warn("Animation reconnect failed")
				return
			}
			continue
		}

		brightness, direction = next, nextDirection
		reconnected = false
	}
}

// restoreBrightness sets the neutral brightness after an animation ends
func (d *Device) restoreBrightness(log *logrus.Entry) {
	if !d.conn.IsConnected() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.Commands.Timeout)
	defer cancel()

	if err := d.SetBrightness(ctx, DefaultBrightness); err != nil {
		log.WithError(err).Warn("Failed to restore brightness after animation")
	}
}
