// Package events lets the task runner announce task outcomes without knowing
// who consumes them.
//
// The runner emits task.succeeded and task.failed events through an
// EventEmitter; handlers such as the eviction policy register with the
// InMemoryEventEmitter at startup. Dispatch is synchronous, in registration
// order, on the emitting goroutine.
package events
