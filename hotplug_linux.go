//go:build linux

package main

import (
	"context"
	"time"

	"github.com/smazurov/camrelay/internal/events"
	"github.com/smazurov/camrelay/pkg/linuxav/hotplug"
)

// watchHotplug publishes video4linux uevents and cuts the reopen backoff
// short when a device appears.
func (r *relay) watchHotplug(ctx context.Context) {
	mon, err := hotplug.NewMonitor("video4linux")
	if err != nil {
		r.logger.Warn("Hotplug monitoring unavailable", "error", err)
		return
	}

	go func() {
		<-ctx.Done()
		mon.Close()
	}()

	go func() {
		err := mon.Run(ctx, func(ev hotplug.Event) {
			node := ev.Node()
			r.logger.Debug("Device hotplug", "action", ev.Action, "device", node)
			r.bus.Publish(events.DeviceHotplugEvent{
				Action:     ev.Action,
				DevicePath: node,
				Timestamp:  time.Now().Format(time.RFC3339),
			})
			if ev.Action == "add" {
				r.loop.Wake()
			}
		})
		if err != nil && ctx.Err() == nil {
			r.logger.Warn("Hotplug monitor stopped", "error", err)
		}
	}()
}
