package volcano

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/volcano/internal/groutine"
)

// FanTimer turns the fan on now and schedules it off after delay, optionally
// turning the heater off and the screen dark as well.
//
// The delayed action is detached from ctx and cannot be cancelled; a second
// timer does not replace the first, the last write wins. The returned channel
// resolves once the delayed commands have run.
func (d *Device) FanTimer(ctx context.Context, delay time.Duration, turnOffHeat, turnOffScreen bool) (<-chan error, error) {
	if err := d.TurnFanOn(ctx); err != nil {
		return nil, err
	}

	done := make(chan error, 1)
	log := d.logger.WithFields(logrus.Fields{
		"delay":      delay,
		"heater_off": turnOffHeat,
		"screen_off": turnOffScreen,
	})
	log.Info("Fan timer started")

	groutine.Go(context.Background(), "volcano-fan-timer", func(ctx context.Context) {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		<-timer.C

		var errs []error
		if err := d.TurnFanOff(ctx); err != nil {
			errs = append(errs, err)
		}
		if turnOffHeat {
			if err := d.TurnHeaterOff(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		if turnOffScreen {
			if err := d.SetBrightness(ctx, 0); err != nil {
				errs = append(errs, err)
			}
		}

		err := errors.Join(errs...)
		if err != nil {
			log.WithError(err).Warn("Fan timer actions failed")
		} else {
			log.Info("Fan timer finished")
		}
		done <- err
	})

	return done, nil
}
