package volcano

import (
	"context"
	"time"
)

// keepalive runs for one connected session. It pokes an idle link and
// periodically refreshes device info and settings.
func (d *Device) keepalive(ctx context.Context) {
	interval := d.cfg.Keepalive.Interval
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var refresh <-chan time.Time
	if d.cfg.InfoRefreshInterval > 0 {
		refreshTicker := time.NewTicker(d.cfg.InfoRefreshInterval)
		defer refreshTicker.Stop()
		refresh = refreshTicker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.keepaliveTick(ctx)
		case <-refresh:
			d.logger.Debug("Refreshing device info")
			d.readDeviceInfo(ctx)
			d.readSettings(ctx)
		}
	}
}

// keepaliveTick reads the primary status if the link has been idle too long.
// The payload is kept raw; decoding it here would reset the heater override window.
func (d *Device) keepaliveTick(ctx context.Context) {
	idle := d.conn.IdleFor()
	if idle <= d.cfg.Keepalive.IdleThreshold {
		return
	}

	raw, ok := d.readOptional(ctx, PrimaryStatusUUID)
	if !ok {
		return
	}
	d.store.SetRawStatus(raw)
	d.logger.WithField("idle", idle).Debug("Keepalive read")
}
