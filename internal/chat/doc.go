// Package chat implements the core routing domain: the room registry that
// owns membership state, the message router that sequences and fans out
// messages, and the typing tracker for ephemeral typing indicators.
//
// Components in this package never write to a connection directly. Peers are
// reached only through their outbound queues via the Peer interface, so a
// slow reader can never stall another connection's handling path.
package chat
