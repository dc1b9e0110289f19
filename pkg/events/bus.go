package events

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultEventHistorySize is the default number of events to keep in history.
const DefaultEventHistorySize = 100

// SubscriptionID is a unique identifier for a subscription.
type SubscriptionID string

// SubscriptionStats tracks statistics for a subscription.
type SubscriptionStats struct {
	EventsReceived atomic.Uint64
	EventsDropped  atomic.Uint64
	LastEventTime  atomic.Int64 // Unix timestamp in nanoseconds
	CreatedAt      time.Time
}

// SubscribeOptions configures subscription behavior.
type SubscribeOptions struct {
	// ReplayLast replays the last N events matching the subscription's
	// event types. 0 disables replay.
	ReplayLast int
	// ChannelSize is the buffer size for the subscription channel.
	// Defaults to 100 if <= 0.
	ChannelSize int
}

// DefaultSubscribeOptions returns default subscription options.
func DefaultSubscribeOptions() SubscribeOptions {
	return SubscribeOptions{ReplayLast: 0, ChannelSize: 100}
}

// Subscription represents a client subscription to events.
type Subscription struct {
	ID         SubscriptionID
	EventTypes map[EventType]bool
	Channel    chan Event
	CancelFunc context.CancelFunc
	Stats      SubscriptionStats
}

type eventHistoryEntry struct {
	event     Event
	timestamp time.Time
}

// EventBus is the in-process implementation of the Sink contract: it
// fans out every published Event to every subscription whose
// EventTypes includes that event's Type. Grounded on the teacher's
// events/bus.go publish-channel/broadcast/ring-buffer-history
// architecture, trimmed of per-event value filtering now that
// subscriptions discriminate only by EventType — value-level matching
// already happened upstream, in the Event Builder.
type EventBus struct {
	subscribers map[SubscriptionID]*Subscription
	mu          sync.RWMutex

	publishCh chan Event
	done      chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc

	eventHistory     []eventHistoryEntry
	eventHistorySize int
	eventHistoryIdx  int
	eventHistoryMu   sync.RWMutex

	stats struct {
		totalEvents     atomic.Uint64
		totalDeliveries atomic.Uint64
		droppedEvents   atomic.Uint64
	}

	metrics *Metrics

	fatalErr atomic.Pointer[error]
}

// NewEventBus creates a new EventBus with the given publish buffer size.
func NewEventBus(publishBufferSize int) *EventBus {
	return NewEventBusWithHistory(publishBufferSize, DefaultEventHistorySize)
}

// NewEventBusWithHistory creates a new EventBus with a configurable
// replay-history size.
func NewEventBusWithHistory(publishBufferSize, historySize int) *EventBus {
	ctx, cancel := context.WithCancel(context.Background())
	if historySize <= 0 {
		historySize = DefaultEventHistorySize
	}
	return &EventBus{
		subscribers:      make(map[SubscriptionID]*Subscription),
		publishCh:        make(chan Event, publishBufferSize),
		done:             make(chan struct{}),
		ctx:              ctx,
		cancel:           cancel,
		eventHistory:     make([]eventHistoryEntry, historySize),
		eventHistorySize: historySize,
	}
}

// SetMetrics enables Prometheus metrics for the EventBus.
func (eb *EventBus) SetMetrics(metrics *Metrics) {
	eb.metrics = metrics
}

// Run starts the event bus main loop; call it in a goroutine.
func (eb *EventBus) Run() {
	defer close(eb.done)
	for {
		select {
		case <-eb.ctx.Done():
			eb.closeAllSubscriptions()
			return
		case event := <-eb.publishCh:
			eb.stats.totalEvents.Add(1)
			eb.storeEventInHistory(event)
			if eb.metrics != nil {
				eb.metrics.RecordEventPublished(event.Type())
			}
			eb.broadcastEvent(event)
		}
	}
}

func (eb *EventBus) storeEventInHistory(event Event) {
	eb.eventHistoryMu.Lock()
	defer eb.eventHistoryMu.Unlock()
	eb.eventHistory[eb.eventHistoryIdx] = eventHistoryEntry{event: event, timestamp: time.Now()}
	eb.eventHistoryIdx = (eb.eventHistoryIdx + 1) % eb.eventHistorySize
}

func (eb *EventBus) getRecentEvents(n int, eventTypes map[EventType]bool) []Event {
	eb.eventHistoryMu.RLock()
	defer eb.eventHistoryMu.RUnlock()

	if n <= 0 || n > eb.eventHistorySize {
		n = eb.eventHistorySize
	}

	var matched []Event
	for i := 0; i < eb.eventHistorySize; i++ {
		idx := (eb.eventHistoryIdx + i) % eb.eventHistorySize
		entry := eb.eventHistory[idx]
		if entry.event == nil {
			continue
		}
		if !eventTypes[entry.event.Type()] {
			continue
		}
		matched = append(matched, entry.event)
	}
	if len(matched) > n {
		matched = matched[len(matched)-n:]
	}
	return matched
}

func (eb *EventBus) broadcastEvent(event Event) {
	startTime := time.Now()
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	eventType := event.Type()
	for _, sub := range eb.subscribers {
		if !sub.EventTypes[eventType] {
			continue
		}

		deliveryStart := time.Now()
		select {
		case sub.Channel <- event:
			eb.stats.totalDeliveries.Add(1)
			sub.Stats.EventsReceived.Add(1)
			sub.Stats.LastEventTime.Store(time.Now().UnixNano())
			if eb.metrics != nil {
				eb.metrics.RecordEventDelivered(eventType)
				eb.metrics.ObserveEventDelivery(eventType, time.Since(deliveryStart))
			}
		default:
			eb.stats.droppedEvents.Add(1)
			sub.Stats.EventsDropped.Add(1)
			if eb.metrics != nil {
				eb.metrics.RecordEventDropped(eventType)
			}
		}
	}

	if eb.metrics != nil {
		eb.metrics.ObserveBroadcast(time.Since(startTime))
	}
}

func (eb *EventBus) closeAllSubscriptions() {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	for _, sub := range eb.subscribers {
		close(sub.Channel)
		if sub.CancelFunc != nil {
			sub.CancelFunc()
		}
	}
	eb.subscribers = make(map[SubscriptionID]*Subscription)
}

// Stop gracefully stops the event bus and closes every subscription.
func (eb *EventBus) Stop() {
	eb.cancel()
	<-eb.done
}

// SubscriberCount returns the current number of active subscribers.
func (eb *EventBus) SubscriberCount() int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.subscribers)
}

// Stats returns the bus's cumulative counters.
func (eb *EventBus) Stats() (totalEvents, totalDeliveries, droppedEvents uint64) {
	return eb.stats.totalEvents.Load(), eb.stats.totalDeliveries.Load(), eb.stats.droppedEvents.Load()
}

// OnEvent implements Sink by publishing event to every subscriber whose
// EventTypes includes it. Publish is non-blocking: a full publish buffer
// drops the event and OnEvent returns an error.
func (eb *EventBus) OnEvent(ctx context.Context, event Event) error {
	select {
	case <-eb.ctx.Done():
		return context.Canceled
	default:
	}
	select {
	case eb.publishCh <- event:
		return nil
	default:
		eb.stats.droppedEvents.Add(1)
		return errEventBusFull
	}
}

// OnFatalError implements Sink. It is terminal: the first call records
// err and stops the bus; subsequent calls are no-ops.
func (eb *EventBus) OnFatalError(err error) {
	if !eb.fatalErr.CompareAndSwap(nil, &err) {
		return
	}
	eb.Stop()
}

// FatalError returns the error passed to OnFatalError, or nil if the bus
// has not been stopped by a fatal error.
func (eb *EventBus) FatalError() error {
	if p := eb.fatalErr.Load(); p != nil {
		return *p
	}
	return nil
}

// Subscribe creates a subscription for eventTypes with default options.
func (eb *EventBus) Subscribe(id SubscriptionID, eventTypes []EventType, channelSize int) *Subscription {
	return eb.SubscribeWithOptions(id, eventTypes, SubscribeOptions{ChannelSize: channelSize})
}

// SubscribeWithOptions creates a subscription for eventTypes, optionally
// replaying recent matching history before returning.
func (eb *EventBus) SubscribeWithOptions(id SubscriptionID, eventTypes []EventType, opts SubscribeOptions) *Subscription {
	select {
	case <-eb.ctx.Done():
		return nil
	default:
	}

	eventTypeMap := make(map[EventType]bool, len(eventTypes))
	for _, et := range eventTypes {
		eventTypeMap[et] = true
	}

	channelSize := opts.ChannelSize
	if channelSize <= 0 {
		channelSize = 100
	}

	_, cancel := context.WithCancel(eb.ctx)
	sub := &Subscription{
		ID:         id,
		EventTypes: eventTypeMap,
		Channel:    make(chan Event, channelSize),
		CancelFunc: cancel,
		Stats:      SubscriptionStats{CreatedAt: time.Now()},
	}

	eb.mu.Lock()
	eb.subscribers[id] = sub
	eb.mu.Unlock()

	if eb.metrics != nil {
		eb.metrics.RecordSubscription()
		eb.updateSubscriberMetrics()
	}

	if opts.ReplayLast > 0 {
		eb.replayEventsToSubscriber(sub, opts.ReplayLast)
	}

	return sub
}

func (eb *EventBus) replayEventsToSubscriber(sub *Subscription, count int) {
	for _, event := range eb.getRecentEvents(count, sub.EventTypes) {
		select {
		case sub.Channel <- event:
			sub.Stats.EventsReceived.Add(1)
			sub.Stats.LastEventTime.Store(time.Now().UnixNano())
		default:
			sub.Stats.EventsDropped.Add(1)
		}
	}
}

// Unsubscribe removes a subscription, closing its channel.
func (eb *EventBus) Unsubscribe(id SubscriptionID) {
	eb.mu.Lock()
	if sub, exists := eb.subscribers[id]; exists {
		close(sub.Channel)
		if sub.CancelFunc != nil {
			sub.CancelFunc()
		}
		delete(eb.subscribers, id)
	}
	eb.mu.Unlock()

	if eb.metrics != nil {
		eb.metrics.RecordUnsubscription()
		eb.updateSubscriberMetrics()
	}
}

func (eb *EventBus) updateSubscriberMetrics() {
	if eb.metrics == nil {
		return
	}
	eb.mu.RLock()
	totalCount := len(eb.subscribers)
	typeCount := make(map[EventType]int)
	for _, sub := range eb.subscribers {
		for eventType := range sub.EventTypes {
			typeCount[eventType]++
		}
	}
	eb.mu.RUnlock()

	eb.metrics.UpdateSubscriberCount(totalCount)
	for eventType, count := range typeCount {
		eb.metrics.UpdateSubscribersByType(eventType, count)
	}
	eb.metrics.UpdatePublishChannelSize(len(eb.publishCh))
}

// SubscriberInfo describes one subscriber for introspection.
type SubscriberInfo struct {
	ID             SubscriptionID
	EventTypes     []EventType
	EventsReceived uint64
	EventsDropped  uint64
	LastEventTime  time.Time
	CreatedAt      time.Time
	Uptime         time.Duration
}

// GetSubscriberInfo returns information about one subscriber, or nil if
// id is not currently subscribed.
func (eb *EventBus) GetSubscriberInfo(id SubscriptionID) *SubscriberInfo {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	sub, exists := eb.subscribers[id]
	if !exists {
		return nil
	}

	eventTypes := make([]EventType, 0, len(sub.EventTypes))
	for et := range sub.EventTypes {
		eventTypes = append(eventTypes, et)
	}

	var lastEventTime time.Time
	if n := sub.Stats.LastEventTime.Load(); n > 0 {
		lastEventTime = time.Unix(0, n)
	}

	return &SubscriberInfo{
		ID:             sub.ID,
		EventTypes:     eventTypes,
		EventsReceived: sub.Stats.EventsReceived.Load(),
		EventsDropped:  sub.Stats.EventsDropped.Load(),
		LastEventTime:  lastEventTime,
		CreatedAt:      sub.Stats.CreatedAt,
		Uptime:         time.Since(sub.Stats.CreatedAt),
	}
}

// GetAllSubscriberInfo returns information about every current subscriber.
func (eb *EventBus) GetAllSubscriberInfo() []SubscriberInfo {
	eb.mu.RLock()
	ids := make([]SubscriptionID, 0, len(eb.subscribers))
	for id := range eb.subscribers {
		ids = append(ids, id)
	}
	eb.mu.RUnlock()

	infos := make([]SubscriberInfo, 0, len(ids))
	for _, id := range ids {
		if info := eb.GetSubscriberInfo(id); info != nil {
			infos = append(infos, *info)
		}
	}
	return infos
}
