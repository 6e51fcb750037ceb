package broadcast

import (
	"rtchat/internal/model"
	"rtchat/internal/service/registry"
	"rtchat/internal/utils/log"

	"go.uber.org/zap"
)

type (
	// Predicate selects which identities receive a notification. A nil
	// predicate matches everyone.
	Predicate func(userID string) bool

	// Dispatcher fans tagged events out to live connections. Delivery is
	// best effort: a full or dead connection loses the frame and the rest
	// of the fan-out is unaffected.
	Dispatcher struct {
		registry *registry.Registry
	}
)

func NewDispatcher(reg *registry.Registry) *Dispatcher {
	return &Dispatcher{registry: reg}
}

// Notify serializes the event once and enqueues it to every live connection
// satisfying pred.
func (d *Dispatcher) Notify(eventType string, payload any, pred Predicate) {
	data, err := model.Encode(eventType, payload)
	if err != nil {
		log.Error("encode event failed", zap.String("type", eventType), zap.Error(err))
		return
	}

	for _, b := range d.registry.Snapshot() {
		if pred != nil && !pred(b.UserID()) {
			continue
		}
		if !b.Send(data) {
			log.Debug("dropped event",
				zap.String("type", eventType),
				zap.String("userID", b.UserID()))
		}
	}
}

// NotifyUser delivers one event to a single identity. Returns false if the
// identity has no live connection or the frame was dropped.
func (d *Dispatcher) NotifyUser(userID, eventType string, payload any) bool {
	b, ok := d.registry.Lookup(userID)
	if !ok {
		return false
	}

	data, err := model.Encode(eventType, payload)
	if err != nil {
		log.Error("encode event failed", zap.String("type", eventType), zap.Error(err))
		return false
	}
	return b.Send(data)
}

// ToUsers builds a predicate matching a fixed participant set.
func ToUsers(userIDs ...string) Predicate {
	set := make(map[string]struct{}, len(userIDs))
	for _, id := range userIDs {
		set[id] = struct{}{}
	}
	return func(userID string) bool {
		_, ok := set[userID]
		return ok
	}
}
