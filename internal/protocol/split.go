package protocol

import "encoding/binary"

// SplitFragment is one datagram of a response too large for a single
// packet. Fragments share an ID and are numbered 0..Total-1; the
// concatenated payloads form an ordinary marker-framed packet.
type SplitFragment struct {
	ID      uint32
	Total   uint8
	Number  uint8
	Payload []byte
}

// IsSplitDatagram reports whether the datagram is a fragment of a split
// response (0xFFFFFFFE marker).
func IsSplitDatagram(data []byte) bool {
	return len(data) >= 4 && binary.LittleEndian.Uint32(data[:4]) == SplitMarker
}

// ParseSplitFragment decodes one split datagram. Source engines frame
// fragments as (id, total, number, size); GoldSrc packs number and total
// into one byte after the id. The size field disambiguates: when it
// matches the remaining length the Source layout applies.
func ParseSplitFragment(data []byte) (SplitFragment, error) {
	if len(data) < 9 {
		return SplitFragment{}, formatErr(0, len(data), "split fragment shorter than its header")
	}
	if binary.LittleEndian.Uint32(data[:4]) != SplitMarker {
		return SplitFragment{}, formatErr(0, len(data), "split fragment missing 0xFFFFFFFE marker")
	}

	frag := SplitFragment{ID: binary.LittleEndian.Uint32(data[4:8])}

	if len(data) >= 12 {
		total := data[8]
		number := data[9]
		size := binary.LittleEndian.Uint16(data[10:12])
		if total > 0 && number < total && int(size) == len(data)-12 {
			frag.Total = total
			frag.Number = number
			frag.Payload = data[12:]
			return frag, nil
		}
	}

	// GoldSrc layout: one byte holds the fragment number in the upper
	// nibble and the total in the lower nibble.
	frag.Number = data[8] >> 4
	frag.Total = data[8] & 0x0F
	frag.Payload = data[9:]

	if frag.Total == 0 || frag.Number >= frag.Total {
		return SplitFragment{}, formatErr(0, len(data),
			"split fragment %d of %d is out of range", frag.Number, frag.Total)
	}
	return frag, nil
}
