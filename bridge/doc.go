// Package bridge connects the in-process bus to an external pub/sub channel.
//
// Publisher serialises selected events onto named channels and is registered on the bus as an ordinary
// event handler. Listener subscribes to inbound channels, decodes each payload into a command and
// dispatches it with a fresh unit of work.
package bridge
