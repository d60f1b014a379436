// Package client implements a HiSLIP (IVI-6.1) client session.
//
// A HiSLIP session consists of two TCP connections to the same server:
//   - SyncChannel carries the data transfers. It owns the message id sequence, splits outgoing data
//     into Data/DataEnd messages and reassembles responses, including the recovery from interrupted
//     transfers.
//   - AsyncChannel carries the out-of-band operations: maximum message size negotiation, locking,
//     device clear, remote/local control and status byte queries.
//
// Session coordinates both channels. It performs the initialization handshake, exposes the
// instrument-level operations (Write, Read, Query, ReadSTB, Trigger, Clear, Lock, Unlock, ...) and
// applies the fatal error procedure: when a fatal error is detected the client sends a FatalError
// message on both channels and closes the session.
//
// Example:
//
//	cfg, err := client.NewSessionConfig("TCPIP::192.168.1.10::hislip0::INSTR",
//		client.WithTimeout(5*time.Second),
//	)
//	if err != nil {
//		return err
//	}
//
//	session, err := client.NewSession(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	if err := session.Connect(ctx); err != nil {
//		return err
//	}
//	defer session.Disconnect()
//
//	idn, err := session.Query([]byte("*IDN?\n"))
package client
