// Package fabric frames ordered byte streams into discrete messages.
//
// Every device on the vehicle talks over exactly one transport: a TCP socket
// or a serial line. A Conn wraps that transport and applies the same framing
// rules to both:
//
//   - Each message is terminated by a delimiter (";" by default, "\n" for
//     line-oriented serial hardware such as NMEA GPS receivers).
//   - One physical read may carry several messages. Bytes past the first
//     delimiter are kept in a remainder buffer and served by the next
//     Receive without touching the transport again.
//   - Transport failures never surface as errors of their own. Receive
//     reports ErrEndOfStream instead, which callers treat like the reserved
//     "disconnect" message.
//
// # Wire format
//
//	ABC;DEF;disconnect;
//
// Sending the literal "disconnect" closes the local side once the frame has
// been written. The peer's staging loop sees it as a normal message and
// shuts its end down.
//
// # Transports
//
// Sockets read opportunistically in 4096-byte chunks. Serial lines read one
// byte at a time so a device that emits delimiters mid-packet is never
// over-read. Serial ports are opened through go.bug.st/serial, which also
// provides OS port enumeration for identity arbitration.
//
// # Thread Safety
//
// Send and Receive may be called from different goroutines. Concurrent
// Receive calls are serialised; concurrent Send calls never interleave
// frames.
package fabric
