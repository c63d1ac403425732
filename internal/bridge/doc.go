// Package bridge is the BandBridge dispatch server.
//
// A Service accepts framed request envelopes over TCP and answers each one
// from the session registry. Independently, readings emitted by paired
// devices are pushed to their client endpoint over short-lived outbound
// connections; a failed push clears the pairing.
package bridge
