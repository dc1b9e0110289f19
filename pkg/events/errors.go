package events

import "errors"

// errEventBusFull is returned by EventBus.OnEvent when the publish
// buffer is saturated; the event is dropped rather than blocking the
// pipeline's single consumer.
var errEventBusFull = errors.New("event bus publish buffer full")
