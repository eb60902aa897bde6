// Package protocol defines the djbs wire format spoken between workers and
// the storage server.
//
// Every packet is an eight byte header followed by a payload:
//
//	op      uint32  little endian
//	length  uint32  little endian, payload bytes
//	payload [length]byte
//
// Payload fields are laid out back to back. Integers are little endian
// uint32 or uint64. Strings and byte fields carry a uint32 length prefix.
// Requests other than the handshake start with the uint64 job id.
//
// A connection opens with HANDSHAKE (worker id) answered by
// HANDSHAKE_RESPONSE (block size). Every later request gets exactly one
// response: OK, ERROR, or READ_RESPONSE for reads.
package protocol
