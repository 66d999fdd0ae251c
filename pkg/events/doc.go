/*
Package events provides an in-memory, fire-and-forget broker for the
coordinator's state-change notifications: repository/extractor/executor
registration, binding admission, content creation, task lifecycle, and
index creation.

Broker.Publish queues an event on a 100-slot buffer and blocks only while
that buffer is full; when fanning out, a subscriber whose own buffer is
full skips the event rather than stall the broker. Manager.GetEventBroker
hands the broker to callers that would otherwise have to poll the store.
*/
package events
