package protocol

import "fmt"

// PacketFormatError reports malformed packet bytes: an unknown header, a
// truncated payload, or a missing sentinel byte. Decoding is all-or-nothing;
// a format error means nothing of the packet is usable.
type PacketFormatError struct {
	Header byte   // header byte of the offending packet, 0 if unreadable
	Length int    // length of the offending payload
	Reason string
}

func (e *PacketFormatError) Error() string {
	return fmt.Sprintf("malformed packet (header 0x%02X, %d bytes): %s",
		e.Header, e.Length, e.Reason)
}

// ProtocolError reports a well-formed packet that is wrong for the current
// exchange: an unexpected response type, or a challenge rotated twice for
// the same logical query.
type ProtocolError struct {
	Expected byte
	Actual   byte
	Reason   string
}

func (e *ProtocolError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("protocol error: %s (expected 0x%02X, got 0x%02X)",
			e.Reason, e.Expected, e.Actual)
	}
	return fmt.Sprintf("protocol error: expected response 0x%02X, got 0x%02X",
		e.Expected, e.Actual)
}

func formatErr(header byte, length int, format string, args ...interface{}) *PacketFormatError {
	return &PacketFormatError{
		Header: header,
		Length: length,
		Reason: fmt.Sprintf(format, args...),
	}
}
