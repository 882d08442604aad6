// Package event layers three event-delivery classes on top of a notify
// connection: fire-and-forget, guaranteed-but-unordered, and guaranteed
// ordered. Ordered events carry a 7-bit wrapped sequence number and are
// dispatched to Process in post order even when the packet that carried
// one is dropped and has to be resent.
package event
