/*
Package servicebus provides the in-process message bus: a handler registry keyed by message name and a
dispatcher that drains one root message, and everything its handlers emit, to completion.

Commands have exactly one handler and their failures reach the caller of Handle. Events fan out to every
registered handler in registration order; a failing event handler is logged and never affects its
siblings or the caller. Messages emitted while handling are processed breadth-first from an explicit
worklist.
*/
package servicebus
