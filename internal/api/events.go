package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"
	"github.com/smazurov/camrelay/internal/events"
)

// registerSSERoutes streams pipeline events.
func (s *Server) registerSSERoutes() {
	sse.Register(s.api, huma.Operation{
		OperationID: "events-stream",
		Method:      http.MethodGet,
		Path:        "/api/events",
		Summary:     "Event Stream",
		Description: "Acquisition, session and device events as Server-Sent Events",
		Tags:        []string{"events"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, map[string]any{
		"acquisition-state": events.AcquisitionStateChangedEvent{},
		"source-reopened":   events.SourceReopenedEvent{},
		"session-started":   events.SessionStartedEvent{},
		"session-stopped":   events.SessionStoppedEvent{},
		"consumer-attached": events.ConsumerAttachedEvent{},
		"consumer-detached": events.ConsumerDetachedEvent{},
		"delivery-error":    events.DeliveryErrorEvent{},
		"device-hotplug":    events.DeviceHotplugEvent{},
	}, func(ctx context.Context, _ *struct{}, send sse.Sender) {
		eventCh := make(chan any, 32)
		bus := s.opts.EventBus
		unsubscribers := []func(){
			events.SubscribeToChannel[events.AcquisitionStateChangedEvent](bus, eventCh),
			events.SubscribeToChannel[events.SourceReopenedEvent](bus, eventCh),
			events.SubscribeToChannel[events.SessionStartedEvent](bus, eventCh),
			events.SubscribeToChannel[events.SessionStoppedEvent](bus, eventCh),
			events.SubscribeToChannel[events.ConsumerAttachedEvent](bus, eventCh),
			events.SubscribeToChannel[events.ConsumerDetachedEvent](bus, eventCh),
			events.SubscribeToChannel[events.DeliveryErrorEvent](bus, eventCh),
			events.SubscribeToChannel[events.DeviceHotplugEvent](bus, eventCh),
		}
		defer func() {
			for _, unsub := range unsubscribers {
				unsub()
			}
		}()

		// Current state first so clients need no separate request.
		if s.opts.Acquisition != nil {
			stats := s.opts.Acquisition.Stats()
			if err := send.Data(events.AcquisitionStateChangedEvent{
				Source:    s.opts.Acquisition.Source().String(),
				NewState:  string(stats.State),
				Error:     stats.LastError,
				Timestamp: nowRFC3339(),
			}); err != nil {
				return
			}
		}

		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-eventCh:
				if err := send.Data(ev); err != nil {
					return
				}
			}
		}
	})
}
