// Package systemd speaks the sd_notify protocol for Type=notify units.
// Outside systemd (no NOTIFY_SOCKET) every call is a no-op.
package systemd

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
)

// Ready reports startup completion.
func Ready() (bool, error) { return daemon.SdNotify(false, daemon.SdNotifyReady) }

// Stopping reports that shutdown began.
func Stopping() (bool, error) { return daemon.SdNotify(false, daemon.SdNotifyStopping) }

// Status sets the free-form status line shown by systemctl status.
func Status(s string) (bool, error) { return daemon.SdNotify(false, "STATUS="+s) }

// WatchdogInterval returns how often to ping, or 0 when the unit has no
// WatchdogSec. Pings go out at half the configured timeout.
func WatchdogInterval() time.Duration {
	d, err := daemon.SdWatchdogEnabled(false)
	if err != nil || d <= 0 {
		return 0
	}
	return d / 2
}

// Watchdog pings until ctx is done. It returns immediately when the
// watchdog is not enabled.
func Watchdog(ctx context.Context) error {
	every := WatchdogInterval()
	if every <= 0 {
		return nil
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if _, err := daemon.SdNotify(false, daemon.SdNotifyWatchdog); err != nil {
				return err
			}
		}
	}
}
