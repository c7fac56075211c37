package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// PacketBuilder constructs outbound query packets.
type PacketBuilder struct {
	buf bytes.Buffer
}

// NewPacketBuilder creates a builder with the 0xFFFFFFFF marker and the
// given header byte already written.
func NewPacketBuilder(header byte) *PacketBuilder {
	b := &PacketBuilder{}
	b.buf.Write([]byte{0xFF, 0xFF, 0xFF, 0xFF})
	b.buf.WriteByte(header)
	return b
}

// WriteByte writes a single byte.
func (b *PacketBuilder) WriteByte(v byte) *PacketBuilder {
	b.buf.WriteByte(v)
	return b
}

// WriteInt32 writes an int32 in little-endian order.
func (b *PacketBuilder) WriteInt32(v int32) *PacketBuilder {
	binary.Write(&b.buf, binary.LittleEndian, v)
	return b
}

// WriteNullString writes a null-terminated string.
func (b *PacketBuilder) WriteNullString(s string) *PacketBuilder {
	b.buf.WriteString(s)
	b.buf.WriteByte(0)
	return b
}

// WriteString writes raw string bytes without a terminator.
func (b *PacketBuilder) WriteString(s string) *PacketBuilder {
	b.buf.WriteString(s)
	return b
}

// WriteBytes writes raw bytes.
func (b *PacketBuilder) WriteBytes(data []byte) *PacketBuilder {
	b.buf.Write(data)
	return b
}

// Build returns the constructed packet bytes.
func (b *PacketBuilder) Build() []byte {
	return b.buf.Bytes()
}

// Len returns the current size of the packet being built.
func (b *PacketBuilder) Len() int {
	return b.buf.Len()
}

// String returns a hex dump of the current packet for debugging.
func (b *PacketBuilder) String() string {
	data := b.buf.Bytes()
	return fmt.Sprintf("PacketBuilder[%d bytes]: %x", len(data), data)
}

// ---- Request constructors ----

// infoPayload is the fixed A2S_INFO body. The full request is byte-exact:
// 0xFFFFFFFF + 0x54 + "Source Engine Query" + 0x00.
const infoPayload = "Source Engine Query"

// EncodeInfoRequest creates an A2S_INFO request.
func EncodeInfoRequest() []byte {
	return NewPacketBuilder(A2SInfo).WriteNullString(infoPayload).Build()
}

// EncodePlayerRequest creates an A2S_PLAYER request carrying the given
// challenge number. Pass ChallengeNone to request a challenge instead of
// the player list.
func EncodePlayerRequest(challenge int32) []byte {
	return NewPacketBuilder(A2SPlayer).WriteInt32(challenge).Build()
}

// EncodeRulesRequest creates an A2S_RULES request carrying the given
// challenge number. Pass ChallengeNone to request a challenge instead of
// the rules list.
func EncodeRulesRequest(challenge int32) []byte {
	return NewPacketBuilder(A2SRules).WriteInt32(challenge).Build()
}

// EncodeChallengeRequest creates an A2S_SERVERQUERY_GETCHALLENGE request.
// Marker and header only, no payload.
func EncodeChallengeRequest() []byte {
	return NewPacketBuilder(A2SServerQueryGetChallenge).Build()
}

// EncodeMasterRequest creates an A2M_GET_SERVERS_BATCH2 request for the
// page starting after startAddr. The first page starts at
// MasterStartAddress; filter narrows results ("\gamedir\cstrike" etc.) and
// may be empty.
func EncodeMasterRequest(region byte, startAddr, filter string) []byte {
	if startAddr == "" {
		startAddr = MasterStartAddress
	}
	return NewPacketBuilder(A2MGetServersBatch2).
		WriteByte(region).
		WriteNullString(startAddr).
		WriteNullString(filter).
		Build()
}

// EncodeCheckMD5Request creates a C2M_CHECKMD5 request for the given file.
func EncodeCheckMD5Request(file string) []byte {
	return NewPacketBuilder(C2MCheckMD5).WriteNullString(file).Build()
}

// EncodeRconChallengeRequest creates a GoldSrc RCON challenge request. The
// body is the ASCII command "challenge rcon"; its first byte is the
// RCON_GOLDSRC_CHALLENGE header.
func EncodeRconChallengeRequest() []byte {
	return NewPacketBuilder(RconGoldSrcChallenge).WriteString("hallenge rcon").Build()
}

// EncodeRconCommand creates a GoldSrc RCON command request authenticated
// with the given challenge number and password.
func EncodeRconCommand(challenge int32, password, command string) []byte {
	b := &PacketBuilder{}
	b.buf.Write([]byte{0xFF, 0xFF, 0xFF, 0xFF})
	return b.WriteNullString(fmt.Sprintf("rcon %d \"%s\" %s", challenge, password, command)).Build()
}
