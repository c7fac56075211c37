package protocol

import (
	"bytes"
	"encoding/binary"
	"io"
	"strconv"
	"strings"
)

// Decode parses a single inbound datagram into a typed Response. The
// datagram must carry the 0xFFFFFFFF marker; split fragments must be
// reassembled first (see ParseSplitFragment). Decoding is all-or-nothing:
// any truncation, bad sentinel, or unknown header fails with
// *PacketFormatError and no partial result.
func Decode(data []byte) (*Response, error) {
	if len(data) < 5 {
		return nil, formatErr(0, len(data), "datagram shorter than marker and header")
	}

	marker := binary.LittleEndian.Uint32(data[:4])
	switch marker {
	case PacketMarker:
	case SplitMarker:
		return nil, formatErr(0, len(data), "split fragment passed to Decode, reassemble first")
	default:
		return nil, formatErr(0, len(data), "unknown packet marker 0x%08X", marker)
	}

	header := data[4]
	payload := data[5:]
	r := bytes.NewReader(payload)

	resp := &Response{Header: header}
	var err error

	switch header {
	case S2CChallenge:
		err = binary.Read(r, binary.LittleEndian, &resp.Challenge)
		if err != nil {
			return nil, formatErr(header, len(payload), "challenge payload truncated")
		}
	case S2AInfo2:
		resp.Info, err = parseSourceInfo(r)
	case S2AInfoDetailed:
		resp.Info, err = parseGoldSrcInfo(r)
	case S2APlayer:
		resp.Players, err = parsePlayers(r, len(payload))
	case S2ARules:
		resp.Rules, err = parseRules(r, len(payload))
	case M2AServerBatch:
		resp.Servers, err = parseServerBatch(payload)
	case S2CConnReject:
		resp.RejectReason = cString(payload)
	case RconGoldSrcChallenge:
		resp.Challenge, err = parseRconChallenge(header, payload)
	case RconGoldSrcResponse:
		resp.RconText = cString(payload)
	default:
		return nil, formatErr(header, len(payload), "unknown header byte 0x%02X", header)
	}

	if err != nil {
		return nil, err
	}
	return resp, nil
}

// parseSourceInfo decodes the S2A_INFO2 body sent by Source servers.
// Layout: protocol byte, four strings, app id, three count bytes, four
// flag bytes, version string, then EDF-gated extra fields.
func parseSourceInfo(r *bytes.Reader) (*ServerInfo, error) {
	info := &ServerInfo{Engine: EngineSource}

	var err error
	if info.Protocol, err = r.ReadByte(); err != nil {
		return nil, truncated(S2AInfo2, r)
	}
	if info.Name, err = readCString(r); err != nil {
		return nil, truncated(S2AInfo2, r)
	}
	if info.Map, err = readCString(r); err != nil {
		return nil, truncated(S2AInfo2, r)
	}
	if info.Folder, err = readCString(r); err != nil {
		return nil, truncated(S2AInfo2, r)
	}
	if info.Game, err = readCString(r); err != nil {
		return nil, truncated(S2AInfo2, r)
	}
	if err = binary.Read(r, binary.LittleEndian, &info.AppID); err != nil {
		return nil, truncated(S2AInfo2, r)
	}

	var counts [3]byte
	if _, err = io.ReadFull(r, counts[:]); err != nil {
		return nil, truncated(S2AInfo2, r)
	}
	info.Players, info.MaxPlayers, info.Bots = counts[0], counts[1], counts[2]

	var flags [4]byte
	if _, err = io.ReadFull(r, flags[:]); err != nil {
		return nil, truncated(S2AInfo2, r)
	}
	info.ServerType = flags[0]
	info.Environment = flags[1]
	info.Passworded = flags[2] == 1
	info.VAC = flags[3] == 1

	if info.Version, err = readCString(r); err != nil {
		return nil, truncated(S2AInfo2, r)
	}

	// Extra Data Flag block is optional; absence is not an error.
	edf, err := r.ReadByte()
	if err != nil {
		return info, nil
	}
	if edf&0x80 != 0 {
		if err = binary.Read(r, binary.LittleEndian, &info.GamePort); err != nil {
			return nil, truncated(S2AInfo2, r)
		}
	}
	if edf&0x10 != 0 {
		if err = binary.Read(r, binary.LittleEndian, &info.SteamID); err != nil {
			return nil, truncated(S2AInfo2, r)
		}
	}
	if edf&0x40 != 0 {
		if err = binary.Read(r, binary.LittleEndian, &info.SourceTVPort); err != nil {
			return nil, truncated(S2AInfo2, r)
		}
		if info.SourceTVName, err = readCString(r); err != nil {
			return nil, truncated(S2AInfo2, r)
		}
	}
	if edf&0x20 != 0 {
		if info.Keywords, err = readCString(r); err != nil {
			return nil, truncated(S2AInfo2, r)
		}
	}
	if edf&0x01 != 0 {
		if err = binary.Read(r, binary.LittleEndian, &info.GameID); err != nil {
			return nil, truncated(S2AInfo2, r)
		}
	}

	return info, nil
}

// parseGoldSrcInfo decodes the S2A_INFO_DETAILED body sent by GoldSrc
// servers. The server's own address string comes first and the flag bytes
// are ordered differently from the Source layout.
func parseGoldSrcInfo(r *bytes.Reader) (*ServerInfo, error) {
	info := &ServerInfo{Engine: EngineGoldSrc}

	var err error
	if _, err = readCString(r); err != nil { // server address, redundant
		return nil, truncated(S2AInfoDetailed, r)
	}
	if info.Name, err = readCString(r); err != nil {
		return nil, truncated(S2AInfoDetailed, r)
	}
	if info.Map, err = readCString(r); err != nil {
		return nil, truncated(S2AInfoDetailed, r)
	}
	if info.Folder, err = readCString(r); err != nil {
		return nil, truncated(S2AInfoDetailed, r)
	}
	if info.Game, err = readCString(r); err != nil {
		return nil, truncated(S2AInfoDetailed, r)
	}

	var fixed [7]byte // players, max, protocol, type, env, visibility, mod
	if _, err = io.ReadFull(r, fixed[:]); err != nil {
		return nil, truncated(S2AInfoDetailed, r)
	}
	info.Players = fixed[0]
	info.MaxPlayers = fixed[1]
	info.Protocol = fixed[2]
	info.ServerType = fixed[3]
	info.Environment = fixed[4]
	info.Passworded = fixed[5] == 1

	if fixed[6] == 1 {
		// Mod block: two strings, a null byte, two int32 sizes, two flag
		// bytes. The contents are not surfaced, but the block must be
		// consumed so the trailing fields line up.
		if _, err = readCString(r); err != nil {
			return nil, truncated(S2AInfoDetailed, r)
		}
		if _, err = readCString(r); err != nil {
			return nil, truncated(S2AInfoDetailed, r)
		}
		var modBlock [11]byte
		if _, err = io.ReadFull(r, modBlock[:]); err != nil {
			return nil, truncated(S2AInfoDetailed, r)
		}
	}

	var tail [2]byte // VAC, bots
	if _, err = io.ReadFull(r, tail[:]); err != nil {
		return nil, truncated(S2AInfoDetailed, r)
	}
	info.VAC = tail[0] == 1
	info.Bots = tail[1]

	return info, nil
}

// parsePlayers decodes the S2A_PLAYER body: a count byte followed by that
// many (index, name, score, duration) records. Fewer records than declared
// is a format error.
func parsePlayers(r *bytes.Reader, payloadLen int) ([]PlayerEntry, error) {
	count, err := r.ReadByte()
	if err != nil {
		return nil, formatErr(S2APlayer, payloadLen, "missing player count")
	}

	players := make([]PlayerEntry, 0, count)
	for i := 0; i < int(count); i++ {
		var p PlayerEntry
		if p.Index, err = r.ReadByte(); err != nil {
			return nil, playerTruncated(i, count, payloadLen)
		}
		if p.Name, err = readCString(r); err != nil {
			return nil, playerTruncated(i, count, payloadLen)
		}
		if err = binary.Read(r, binary.LittleEndian, &p.Score); err != nil {
			return nil, playerTruncated(i, count, payloadLen)
		}
		if err = binary.Read(r, binary.LittleEndian, &p.Duration); err != nil {
			return nil, playerTruncated(i, count, payloadLen)
		}
		players = append(players, p)
	}

	return players, nil
}

func playerTruncated(got int, want byte, payloadLen int) *PacketFormatError {
	return formatErr(S2APlayer, payloadLen,
		"player list truncated after %d of %d records", got, want)
}

// parseRules decodes the S2A_RULES body: a uint16 count followed by that
// many (name, value) string pairs. Fewer pairs than declared is a format
// error.
func parseRules(r *bytes.Reader, payloadLen int) ([]RuleEntry, error) {
	var count uint16
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, formatErr(S2ARules, payloadLen, "missing rule count")
	}

	rules := make([]RuleEntry, 0, count)
	for i := 0; i < int(count); i++ {
		var rule RuleEntry
		var err error
		if rule.Name, err = readCString(r); err != nil {
			return nil, formatErr(S2ARules, payloadLen,
				"rule list truncated after %d of %d records", i, count)
		}
		if rule.Value, err = readCString(r); err != nil {
			return nil, formatErr(S2ARules, payloadLen,
				"rule list truncated after %d of %d records", i, count)
		}
		rules = append(rules, rule)
	}

	return rules, nil
}

// parseServerBatch decodes the M2A_SERVER_BATCH body: a flat sequence of
// 6-byte entries (4-byte IPv4 address, big-endian port) closed by a single
// required 0x0A byte. The 0.0.0.0:0 end-of-list sentinel, when present, is
// returned as a regular entry; callers decide pagination from it.
func parseServerBatch(payload []byte) ([]ServerEndpoint, error) {
	if len(payload) == 0 {
		return nil, formatErr(M2AServerBatch, 0, "empty batch payload")
	}
	if payload[len(payload)-1] != 0x0A {
		return nil, formatErr(M2AServerBatch, len(payload),
			"batch payload missing trailing 0x0A byte (got 0x%02X)", payload[len(payload)-1])
	}

	entries := payload[:len(payload)-1]
	if len(entries)%6 != 0 {
		return nil, formatErr(M2AServerBatch, len(payload),
			"batch payload of %d bytes is not a whole number of 6-byte entries", len(entries))
	}

	servers := make([]ServerEndpoint, 0, len(entries)/6)
	for off := 0; off < len(entries); off += 6 {
		var e ServerEndpoint
		copy(e.IP[:], entries[off:off+4])
		e.Port = binary.BigEndian.Uint16(entries[off+4 : off+6])
		servers = append(servers, e)
	}

	return servers, nil
}

// parseRconChallenge extracts the challenge number from a GoldSrc
// "challenge rcon <number>" reply. The header byte is the leading 'c' of
// the ASCII body.
func parseRconChallenge(header byte, payload []byte) (int32, error) {
	text := string(header) + cString(payload)
	fields := strings.Fields(text)
	if len(fields) < 3 || fields[0] != "challenge" || fields[1] != "rcon" {
		return 0, formatErr(header, len(payload), "unrecognized rcon challenge reply %q", text)
	}

	n, err := strconv.ParseInt(fields[2], 10, 32)
	if err != nil {
		return 0, formatErr(header, len(payload), "bad rcon challenge number %q", fields[2])
	}
	return int32(n), nil
}

// readCString reads a null-terminated string. A missing terminator means
// the packet was truncated mid-string.
func readCString(r *bytes.Reader) (string, error) {
	var sb strings.Builder
	for {
		b, err := r.ReadByte()
		if err != nil {
			return "", io.ErrUnexpectedEOF
		}
		if b == 0 {
			return sb.String(), nil
		}
		sb.WriteByte(b)
	}
}

// cString interprets a whole payload as text, dropping the trailing NUL
// and newline padding some engines append.
func cString(payload []byte) string {
	return strings.TrimRight(string(payload), "\x00\n")
}

func truncated(header byte, r *bytes.Reader) *PacketFormatError {
	return formatErr(header, int(r.Size()), "payload exhausted mid-record")
}
