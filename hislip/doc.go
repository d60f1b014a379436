// Package hislip implements the message layer of the IVI-6.1 High-Speed LAN Instrument Protocol (HiSLIP).
//
// Every HiSLIP message starts with a 16-byte big-endian header:
//
//	prologue "HS" | message type (1) | control code (1) | parameter (4) | payload length (8)
//
// followed by the payload. The package provides:
//   - Message: the immutable frame with encoding (ToBytes) and decoding (Decode, DecodeHeader).
//   - MessageType: the 39 message types of IVI-6.1 Table 4.
//   - Body: one typed view per message type, e.g. InitializeResponse or AsyncLockResponse, built by DecodeBody.
//   - FatalError and Error: the fatal and non-fatal error taxonomy with the protocol error codes.
//   - ParseAddress: parsing of VISA "TCPIP::host::hislipN" resource strings.
//
// The client side of the protocol, the synchronous and asynchronous channels and the session
// handshake, lives in the client package.
package hislip
