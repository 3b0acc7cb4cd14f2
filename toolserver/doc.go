// Package toolserver manages the connection to a remote tool server: the
// transport layer (stdio subprocess or websocket), the session lifecycle
// (connect, handshake, invoke, close), and the capability catalog derived
// from the handshake.
//
// A Session owns exactly one Transport. Connections are epoch-numbered; every
// successful (re)connect bumps the epoch, which the Catalog uses to decide
// whether its cached descriptor list is still valid.
package toolserver
