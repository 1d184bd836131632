/*
Package events provides the in-memory event broker the node actor uses to
announce group lifecycle and leadership changes.

# Event types

	EventLeaderElection  "group.leader_election"
	EventApply           "group.apply"
	EventGroupCreated    "group.created"
	EventGroupRemoved    "group.removed"
	EventMembership      "group.membership"

The node actor publishes EventGroupCreated and EventGroupRemoved when it
creates or removes a group, and the EventLeaderElection events a group's
HandleReady reports. EventApply and EventMembership are defined, but no
code in this module publishes them.

Each Event carries an ID, Type, GroupID, ReplicaID, Timestamp, Message and
Metadata (a string map). Publish sets Timestamp to the current time when it
is zero.

# Delivery

NewBroker creates a broker whose inbound channel holds up to 100 events;
Start launches the goroutine that broadcasts each event to every current
subscriber. Subscribe returns a channel buffered for 50 events. A
subscriber whose buffer is full misses that event; the broadcast does not
wait for it. Unsubscribe removes the subscriber and closes its channel, and
SubscriberCount reports how many subscribers are registered.

Publish blocks while the inbound channel is full, until the broadcast loop
takes the event or the broker is stopped. Stop ends the broadcast loop:
events still in the inbound channel are not delivered, and subscriber
channels stay open until Unsubscribe is called.

Events are kept in memory only; there is no persistence, replay or
per-type subscription.

# Usage

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	go func() {
		for ev := range sub {
			if ev.Type == events.EventLeaderElection {
				fmt.Printf("group %d: %s\n", ev.GroupID, ev.Message)
			}
		}
	}()
*/
package events
