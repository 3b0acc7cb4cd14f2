// Package testutil contains deterministic fakes used across tests: a
// scripted tool-server transport with failure injection and a canned tool
// catalog. These helpers keep tests off the network and are not intended for
// production usage.
package testutil
