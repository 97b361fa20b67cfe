package events

import (
	"sync"
	"time"
)

// EventType represents different types of events in the system
type EventType string

const (
	EventUserRegistered       EventType = "USER_REGISTERED"
	EventUserLogin            EventType = "USER_LOGIN"
	EventUserLogout           EventType = "USER_LOGOUT"
	EventDeviceChanged        EventType = "DEVICE_CHANGED"
	EventLicenseCreated       EventType = "LICENSE_CREATED"
	EventLicenseActivated     EventType = "LICENSE_ACTIVATED"
	EventLicenseVerified      EventType = "LICENSE_VERIFIED"
	EventLicenseExtended      EventType = "LICENSE_EXTENDED"
	EventSubscriptionExtended EventType = "SUBSCRIPTION_EXTENDED"
	EventUsageRecorded        EventType = "USAGE_RECORDED"
	EventError                EventType = "ERROR"
)

// Event represents a system event
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Subscriber is a function that handles events
type Subscriber func(Event)

// EventBus manages event publishing and subscriptions
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Subscriber
	allSubs     []Subscriber // Subscribers to all events
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[EventType][]Subscriber),
		allSubs:     make([]Subscriber, 0),
	}
}

// Subscribe registers a subscriber for a specific event type
func (eb *EventBus) Subscribe(eventType EventType, subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.subscribers[eventType] = append(eb.subscribers[eventType], subscriber)
}

// SubscribeAll registers a subscriber for all events
func (eb *EventBus) SubscribeAll(subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.allSubs = append(eb.allSubs, subscriber)
}

// Publish sends an event to all subscribers
func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	// Set timestamp if not provided
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	// Notify specific subscribers
	if subs, ok := eb.subscribers[event.Type]; ok {
		for _, sub := range subs {
			go sub(event) // Run in goroutine to avoid blocking
		}
	}

	// Notify all-event subscribers
	for _, sub := range eb.allSubs {
		go sub(event)
	}
}

// PublishUserLogin publishes a successful login event
func (eb *EventBus) PublishUserLogin(userID, deviceUUID string) {
	eb.Publish(Event{
		Type: EventUserLogin,
		Data: map[string]interface{}{
			"user_id":     userID,
			"device_uuid": deviceUUID,
		},
	})
}

// PublishDeviceChanged publishes a device rebinding event
func (eb *EventBus) PublishDeviceChanged(userID, oldDeviceUUID, newDeviceUUID string) {
	eb.Publish(Event{
		Type: EventDeviceChanged,
		Data: map[string]interface{}{
			"user_id":         userID,
			"old_device_uuid": oldDeviceUUID,
			"new_device_uuid": newDeviceUUID,
		},
	})
}

// PublishLicenseActivated publishes a first-activation event
func (eb *EventBus) PublishLicenseActivated(licenseKey, hardwareID string) {
	eb.Publish(Event{
		Type: EventLicenseActivated,
		Data: map[string]interface{}{
			"license_key": licenseKey,
			"hardware_id": hardwareID,
		},
	})
}

// PublishLicenseVerified publishes a verification check event
func (eb *EventBus) PublishLicenseVerified(licenseKey string, valid bool, reason string) {
	eb.Publish(Event{
		Type: EventLicenseVerified,
		Data: map[string]interface{}{
			"license_key": licenseKey,
			"valid":       valid,
			"reason":      reason,
		},
	})
}

// PublishUsageRecorded publishes a usage recording event
func (eb *EventBus) PublishUsageRecorded(key, action string) {
	eb.Publish(Event{
		Type: EventUsageRecorded,
		Data: map[string]interface{}{
			"key":    key,
			"action": action,
		},
	})
}

// PublishSubscriptionExtended publishes a subscription ledger extension event
func (eb *EventBus) PublishSubscriptionExtended(userID string, periodDays int, newExpiry time.Time) {
	eb.Publish(Event{
		Type: EventSubscriptionExtended,
		Data: map[string]interface{}{
			"user_id":     userID,
			"period_days": periodDays,
			"new_expiry":  newExpiry.Format(time.RFC3339),
		},
	})
}

// PublishError publishes an error event
func (eb *EventBus) PublishError(source, message string) {
	eb.Publish(Event{
		Type: EventError,
		Data: map[string]interface{}{
			"source":  source,
			"message": message,
		},
	})
}
