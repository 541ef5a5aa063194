/*
Package events provides an in-memory pub/sub broker for coordinator lifecycle
notifications.

The coordinator loop and the snapshot writer publish fire-and-forget events
(dispatch, termination trip, snapshot written, abort) for external observers
such as a status CLI or a log shipper. Publish never blocks: the broker holds
a bounded event channel and each subscriber holds its own bounded channel, and
a full broker channel or a full subscriber buffer simply drops the event
rather than stalling the coordinator.
*/
package events
