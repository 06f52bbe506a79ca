/*
Package events provides an in-memory event broker for fbuildd's internal
pub/sub wiring.

It is a fan-out bus used inside the daemon process: processor.Run
publishes operation started/completed/failed and lock-rejected events,
and the daemon Context publishes client-disconnected and port-closed
events; each subscriber picks them up on its own buffered channel. No
daemon subsystem subscribes to the bus, and the remaining event types
(queued, cancelled, client connected, port attached/preempted) are
defined but not published. Delivery is best-effort: a subscriber with
a full buffer skips the event rather than stalling the dispatch loop.

This bus is internal plumbing, not the client-facing wire protocol;
clients observe daemon state through pkg/status and pkg/transport, not
through Subscribe.

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	go func() {
		for ev := range sub {
			// react to ev.Type
		}
	}()

	broker.Publish(&events.Event{
		Type:    events.EventOperationFailed,
		Message: "build failed: exit status 1",
		Metadata: map[string]string{"operation_id": opID},
	})
*/
package events
