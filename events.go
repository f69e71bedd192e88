package rsp

import (
	"encoding/json"
	"fmt"
	"log/slog"
)

// EventName names a broadcast notification of the remote. The payload type published
// with each name is fixed:
//
//	EventDiscoveryPathAdded, EventDiscoveryPathRemoved   DiscoveryPath
//	EventServerAdded, EventServerRemoved                 ServerHandle
//	EventServerAttributesChanged                         ServerHandle
//	EventServerStateChanged                              ServerState
//	EventServerProcessCreated, EventServerProcessTerminated ServerProcess
//	EventServerProcessOutputAppended                     ServerProcessOutput
type EventName string

const (
	EventDiscoveryPathAdded          EventName = "discoveryPathAdded"
	EventDiscoveryPathRemoved        EventName = "discoveryPathRemoved"
	EventServerAdded                 EventName = "serverAdded"
	EventServerRemoved               EventName = "serverRemoved"
	EventServerAttributesChanged     EventName = "serverAttributesChanged"
	EventServerStateChanged          EventName = "serverStateChanged"
	EventServerProcessCreated        EventName = "serverProcessCreated"
	EventServerProcessTerminated     EventName = "serverProcessTerminated"
	EventServerProcessOutputAppended EventName = "serverProcessOutputAppended"
)

// eventBinding maps one client/* notification onto the bus.
type eventBinding struct {
	event  EventName
	decode func(json.RawMessage) (any, error)
}

var eventBindings = []eventBinding{
	{EventDiscoveryPathAdded, decodePayload[DiscoveryPath]},
	{EventDiscoveryPathRemoved, decodePayload[DiscoveryPath]},
	{EventServerAdded, decodePayload[ServerHandle]},
	{EventServerRemoved, decodePayload[ServerHandle]},
	{EventServerAttributesChanged, decodePayload[ServerHandle]},
	{EventServerStateChanged, decodePayload[ServerState]},
	{EventServerProcessCreated, decodePayload[ServerProcess]},
	{EventServerProcessTerminated, decodePayload[ServerProcess]},
	{EventServerProcessOutputAppended, decodePayload[ServerProcessOutput]},
}

// Method returns the notification method the remote uses to broadcast the event.
func (e EventName) Method() string {
	return "client/" + string(e)
}

// BindEvents registers a notification handler on ch for every known event, decoding each
// notification into its payload type and publishing it on bus. Notifications that fail
// to decode are logged and dropped.
func BindEvents(ch MessageChannel, bus *EventBus, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	for _, b := range eventBindings {
		ch.OnNotification(b.event.Method(), func(params json.RawMessage) {
			payload, err := b.decode(params)
			if err != nil {
				logger.Warn("dropping malformed notification",
					slog.String("event", string(b.event)),
					slog.String("err", err.Error()))
				return
			}
			bus.Publish(b.event, payload)
		})
	}
}

func decodePayload[T any](params json.RawMessage) (any, error) {
	var v T
	if err := json.Unmarshal(params, &v); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %T: %w", v, err)
	}
	return v, nil
}

// typed adapts a payload-typed callback into a Listener. Payloads of another type are
// ignored.
func typed[T any](fn func(T)) Listener {
	return func(payload any) {
		if v, ok := payload.(T); ok {
			fn(v)
		}
	}
}

// OnDiscoveryPathAdded subscribes fn to discoveryPathAdded.
func (b *EventBus) OnDiscoveryPathAdded(fn func(DiscoveryPath)) *Subscription {
	return b.Subscribe(EventDiscoveryPathAdded, typed(fn))
}

// OnDiscoveryPathRemoved subscribes fn to discoveryPathRemoved.
func (b *EventBus) OnDiscoveryPathRemoved(fn func(DiscoveryPath)) *Subscription {
	return b.Subscribe(EventDiscoveryPathRemoved, typed(fn))
}

// OnServerAdded subscribes fn to serverAdded.
func (b *EventBus) OnServerAdded(fn func(ServerHandle)) *Subscription {
	return b.Subscribe(EventServerAdded, typed(fn))
}

// OnServerRemoved subscribes fn to serverRemoved.
func (b *EventBus) OnServerRemoved(fn func(ServerHandle)) *Subscription {
	return b.Subscribe(EventServerRemoved, typed(fn))
}

// OnServerAttributesChanged subscribes fn to serverAttributesChanged.
func (b *EventBus) OnServerAttributesChanged(fn func(ServerHandle)) *Subscription {
	return b.Subscribe(EventServerAttributesChanged, typed(fn))
}

// OnServerStateChanged subscribes fn to serverStateChanged.
func (b *EventBus) OnServerStateChanged(fn func(ServerState)) *Subscription {
	return b.Subscribe(EventServerStateChanged, typed(fn))
}

// OnServerProcessCreated subscribes fn to serverProcessCreated.
func (b *EventBus) OnServerProcessCreated(fn func(ServerProcess)) *Subscription {
	return b.Subscribe(EventServerProcessCreated, typed(fn))
}

// OnServerProcessTerminated subscribes fn to serverProcessTerminated.
func (b *EventBus) OnServerProcessTerminated(fn func(ServerProcess)) *Subscription {
	return b.Subscribe(EventServerProcessTerminated, typed(fn))
}

// OnServerProcessOutputAppended subscribes fn to serverProcessOutputAppended.
func (b *EventBus) OnServerProcessOutputAppended(fn func(ServerProcessOutput)) *Subscription {
	return b.Subscribe(EventServerProcessOutputAppended, typed(fn))
}
