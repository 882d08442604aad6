// Package tnl ties the socket, handshake, notify, event, and ghost
// packages into the two facade types an application actually embeds:
// NetConnection (one established peer) and NetInterface (the listening
// dispatcher that accepts and originates connections).
package tnl
