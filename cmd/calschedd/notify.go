package main

import (
	"context"
	"time"

	logx "calsched/pkg/logx"

	sddaemon "github.com/coreos/go-systemd/v22/daemon"
)

func notifyReady(log logx.Logger, status string) {
	sdNotify(log, sddaemon.SdNotifyReady+"\nSTATUS="+status)
}

func notifyStatus(log logx.Logger, status string) {
	sdNotify(log, "STATUS="+status)
}

func notifyStopping(log logx.Logger) {
	sdNotify(log, sddaemon.SdNotifyStopping)
}

// sdNotify is a no-op outside systemd (NOTIFY_SOCKET unset).
func sdNotify(log logx.Logger, state string) {
	sent, err := sddaemon.SdNotify(false, state)
	if err != nil {
		log.Warn("sd_notify failed", logx.Err(err))
		return
	}
	if sent {
		log.Debug("sd_notify sent", logx.String("state", state))
	}
}

// startWatchdog pings the systemd watchdog at half its interval when
// WatchdogSec is configured for the unit.
func startWatchdog(ctx context.Context, log logx.Logger) (stop func()) {
	interval, err := sddaemon.SdWatchdogEnabled(false)
	if err != nil {
		log.Warn("watchdog check failed", logx.Err(err))
		return func() {}
	}
	if interval <= 0 {
		return func() {}
	}

	wctx, cancel := context.WithCancel(ctx)
	go func() {
		t := time.NewTicker(interval / 2)
		defer t.Stop()
		for {
			select {
			case <-wctx.Done():
				return
			case <-t.C:
				sdNotify(log, sddaemon.SdNotifyWatchdog)
			}
		}
	}()
	log.Info("systemd watchdog enabled", logx.Duration("interval", interval))
	return cancel
}
