package app

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "clanwatch/pkg/logx"
)

// sd_notify integration. All calls are no-ops when NOTIFY_SOCKET is unset,
// so running outside systemd costs nothing.

func notifyReady() {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
}

func notifyStopping() {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
}

// watchdogLoop pings the systemd watchdog at half the configured interval.
func (a *App) watchdogLoop(ctx context.Context) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		a.log.Warn("watchdog probe failed", logx.Err(err))
		return
	}
	if interval <= 0 {
		return
	}

	t := time.NewTicker(interval / 2)
	defer t.Stop()
	a.log.Debug("watchdog enabled", logx.Duration("interval", interval))

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
		}
	}
}
