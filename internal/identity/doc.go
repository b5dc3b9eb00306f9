// Package identity resolves which serial port belongs to which anonymous
// device.
//
// Several devices may be wired to the board with no stable mapping from
// OS port path to device. Each device registers an Arbitrator with an
// Identifier, a handshake run on a freshly opened, untrusted connection.
// The conventional handshake is TagProbe: send "ic" and expect a reply that
// starts with the device's tag.
//
// Resolution runs one arbitration at a time through the shared Registry:
//
//  1. The first arbitration performs a one-time sweep that opens every
//     available port and offers it to every registered arbitrator.
//  2. An arbitrator with a claim opens its port directly.
//  3. Otherwise it probes its next candidate. A mismatching port is
//     offered to every other pending arbitrator before it is closed.
//  4. With Retry set the next untried candidate follows; when none is
//     left the caller receives ErrNoCandidates.
//
// A claimed port is never offered to another arbitrator, and an arbitrator
// never probes the same port twice.
package identity
