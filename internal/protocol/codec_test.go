package protocol

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func marker(header byte) []byte {
	return []byte{0xFF, 0xFF, 0xFF, 0xFF, header}
}

func TestEncodeInfoRequestExactBytes(t *testing.T) {
	want := append(marker(0x54), []byte("Source Engine Query\x00")...)

	got := EncodeInfoRequest()
	if !cmp.Equal(got, want) {
		t.Fatalf("A2S_INFO encoding mismatch:\n got %x\nwant %x", got, want)
	}
}

func TestEncodePlayerRequestChallenge(t *testing.T) {
	got := EncodePlayerRequest(0x11223344)
	want := append(marker(0x55), 0x44, 0x33, 0x22, 0x11)
	if !cmp.Equal(got, want) {
		t.Fatalf("A2S_PLAYER encoding mismatch:\n got %x\nwant %x", got, want)
	}
}

func TestEncodePlayerRequestSentinel(t *testing.T) {
	got := EncodePlayerRequest(ChallengeNone)
	want := append(marker(0x55), 0xFF, 0xFF, 0xFF, 0xFF)
	if !cmp.Equal(got, want) {
		t.Fatalf("sentinel challenge encoding mismatch:\n got %x\nwant %x", got, want)
	}
}

func TestEncodeChallengeRequest(t *testing.T) {
	if got := EncodeChallengeRequest(); !cmp.Equal(got, marker(0x57)) {
		t.Fatalf("A2S_SERVERQUERY_GETCHALLENGE should be marker and header only, got %x", got)
	}
}

func TestEncodeCheckMD5Request(t *testing.T) {
	got := EncodeCheckMD5Request("maps/de_dust2.bsp")
	want := append(marker(0x4D), []byte("maps/de_dust2.bsp\x00")...)

	if !cmp.Equal(got, want) {
		t.Fatalf("C2M_CHECKMD5 encoding mismatch:\n got %x\nwant %x", got, want)
	}
}

func TestEncodeRconCommand(t *testing.T) {
	got := EncodeRconCommand(987654, "hunter2", "status")

	// Rcon requests carry no header byte after the marker.
	want := append([]byte{0xFF, 0xFF, 0xFF, 0xFF}, []byte(`rcon 987654 "hunter2" status`+"\x00")...)

	if !cmp.Equal(got, want) {
		t.Fatalf("rcon command encoding mismatch:\n got %x\nwant %x", got, want)
	}
}

func TestEncodeMasterRequest(t *testing.T) {
	got := EncodeMasterRequest(RegionAll, "", `\gamedir\cstrike`)

	want := append(marker(0x31), 0xFF)
	want = append(want, []byte("0.0.0.0:0\x00")...)
	want = append(want, []byte(`\gamedir\cstrike`+"\x00")...)

	if !cmp.Equal(got, want) {
		t.Fatalf("A2M_GET_SERVERS_BATCH2 encoding mismatch:\n got %x\nwant %x", got, want)
	}
}

func TestDecodeChallenge(t *testing.T) {
	data := append(marker(S2CChallenge), 0x78, 0x56, 0x34, 0x12)

	resp, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if resp.Header != S2CChallenge || resp.Challenge != 0x12345678 {
		t.Fatalf("got header 0x%02X challenge 0x%08X", resp.Header, resp.Challenge)
	}
}

func TestDecodeUnknownHeader(t *testing.T) {
	_, err := Decode(append(marker(0xAB), 1, 2, 3))

	var pfe *PacketFormatError
	if !errors.As(err, &pfe) {
		t.Fatalf("want *PacketFormatError, got %v", err)
	}
	if pfe.Header != 0xAB {
		t.Fatalf("error should identify the unknown byte, got 0x%02X", pfe.Header)
	}
}

func TestDecodeBadMarker(t *testing.T) {
	_, err := Decode([]byte{0x01, 0x02, 0x03, 0x04, 0x49})

	var pfe *PacketFormatError
	if !errors.As(err, &pfe) {
		t.Fatalf("want *PacketFormatError, got %v", err)
	}
}

func TestDecodeServerBatch(t *testing.T) {
	payload := []byte{
		10, 0, 0, 1, 0x69, 0x87, // 10.0.0.1:27015
		192, 168, 1, 2, 0x69, 0x88, // 192.168.1.2:27016
		0, 0, 0, 0, 0, 0, // end-of-list sentinel
		0x0A,
	}

	resp, err := Decode(append(marker(M2AServerBatch), payload...))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	want := []ServerEndpoint{
		{IP: [4]byte{10, 0, 0, 1}, Port: 27015},
		{IP: [4]byte{192, 168, 1, 2}, Port: 27016},
		{},
	}
	if diff := cmp.Diff(want, resp.Servers); diff != "" {
		t.Fatalf("batch mismatch (-want +got):\n%s", diff)
	}

	if !resp.Servers[2].IsZero() {
		t.Fatal("sentinel entry should report IsZero")
	}
	if resp.Servers[0].String() != "10.0.0.1:27015" {
		t.Fatalf("endpoint String() = %q", resp.Servers[0].String())
	}
}

func TestDecodeServerBatchMissingTrailingByte(t *testing.T) {
	payload := []byte{10, 0, 0, 1, 0x69, 0x87} // no 0x0A

	_, err := Decode(append(marker(M2AServerBatch), payload...))

	var pfe *PacketFormatError
	if !errors.As(err, &pfe) {
		t.Fatalf("want *PacketFormatError for missing 0x0A, got %v", err)
	}
}

func TestDecodeServerBatchPartialEntry(t *testing.T) {
	payload := []byte{10, 0, 0, 1, 0x69, 0x87, 10, 0, 0, 0x0A} // 4 leftover bytes

	_, err := Decode(append(marker(M2AServerBatch), payload...))

	var pfe *PacketFormatError
	if !errors.As(err, &pfe) {
		t.Fatalf("want *PacketFormatError for partial entry, got %v", err)
	}
}

func buildPlayerPayload(players []PlayerEntry) []byte {
	out := []byte{byte(len(players))}
	for _, p := range players {
		out = append(out, p.Index)
		out = append(out, []byte(p.Name)...)
		out = append(out, 0)
		out = binary.LittleEndian.AppendUint32(out, uint32(p.Score))
		out = binary.LittleEndian.AppendUint32(out, math.Float32bits(p.Duration))
	}
	return out
}

func TestDecodePlayers(t *testing.T) {
	want := []PlayerEntry{
		{Index: 0, Name: "alice", Score: 12, Duration: 321.5},
		{Index: 1, Name: "bob", Score: -3, Duration: 4.25},
	}

	resp, err := Decode(append(marker(S2APlayer), buildPlayerPayload(want)...))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if diff := cmp.Diff(want, resp.Players); diff != "" {
		t.Fatalf("players mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodePlayersTruncated(t *testing.T) {
	payload := buildPlayerPayload([]PlayerEntry{{Name: "alice", Score: 1, Duration: 2}})
	payload[0] = 2 // declare one more record than present

	_, err := Decode(append(marker(S2APlayer), payload...))

	var pfe *PacketFormatError
	if !errors.As(err, &pfe) {
		t.Fatalf("want *PacketFormatError for short player list, got %v", err)
	}
}

func buildRulesPayload(rules []RuleEntry) []byte {
	out := binary.LittleEndian.AppendUint16(nil, uint16(len(rules)))
	for _, r := range rules {
		out = append(out, []byte(r.Name)...)
		out = append(out, 0)
		out = append(out, []byte(r.Value)...)
		out = append(out, 0)
	}
	return out
}

func TestDecodeRules(t *testing.T) {
	want := []RuleEntry{
		{Name: "mp_friendlyfire", Value: "1"},
		{Name: "sv_gravity", Value: "800"},
	}

	resp, err := Decode(append(marker(S2ARules), buildRulesPayload(want)...))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if diff := cmp.Diff(want, resp.Rules); diff != "" {
		t.Fatalf("rules mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeRulesTruncated(t *testing.T) {
	payload := buildRulesPayload([]RuleEntry{{Name: "sv_cheats", Value: "0"}})
	binary.LittleEndian.PutUint16(payload[:2], 3)

	_, err := Decode(append(marker(S2ARules), payload...))

	var pfe *PacketFormatError
	if !errors.As(err, &pfe) {
		t.Fatalf("want *PacketFormatError for short rule list, got %v", err)
	}
}

func buildSourceInfoPayload() []byte {
	out := []byte{17} // protocol
	for _, s := range []string{"Test Server", "de_dust2", "cstrike", "Counter-Strike: Source"} {
		out = append(out, []byte(s)...)
		out = append(out, 0)
	}
	out = binary.LittleEndian.AppendUint16(out, 240) // app id
	out = append(out, 12, 32, 2)                     // players, max, bots
	out = append(out, 'd', 'l', 0, 1)                // type, env, visibility, vac
	out = append(out, []byte("1.0.0.71\x00")...)
	out = append(out, 0x80) // EDF: port only
	out = binary.LittleEndian.AppendUint16(out, 27015)
	return out
}

func TestDecodeSourceInfo(t *testing.T) {
	resp, err := Decode(append(marker(S2AInfo2), buildSourceInfoPayload()...))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	want := &ServerInfo{
		Engine:      EngineSource,
		Protocol:    17,
		Name:        "Test Server",
		Map:         "de_dust2",
		Folder:      "cstrike",
		Game:        "Counter-Strike: Source",
		AppID:       240,
		Players:     12,
		MaxPlayers:  32,
		Bots:        2,
		ServerType:  'd',
		Environment: 'l',
		Passworded:  false,
		VAC:         true,
		Version:     "1.0.0.71",
		GamePort:    27015,
	}
	if diff := cmp.Diff(want, resp.Info); diff != "" {
		t.Fatalf("info mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeSourceInfoTruncated(t *testing.T) {
	payload := buildSourceInfoPayload()

	_, err := Decode(append(marker(S2AInfo2), payload[:8]...))

	var pfe *PacketFormatError
	if !errors.As(err, &pfe) {
		t.Fatalf("want *PacketFormatError for truncated info, got %v", err)
	}
}

func TestDecodeGoldSrcInfo(t *testing.T) {
	var payload []byte
	for _, s := range []string{"192.168.1.5:27015", "HLDM Box", "crossfire", "valve", "Half-Life"} {
		payload = append(payload, []byte(s)...)
		payload = append(payload, 0)
	}
	payload = append(payload, 4, 16) // players, max
	payload = append(payload, 47)    // protocol
	payload = append(payload, 'd', 'l', 0)
	payload = append(payload, 0)    // no mod block
	payload = append(payload, 1, 0) // vac, bots

	resp, err := Decode(append(marker(S2AInfoDetailed), payload...))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	info := resp.Info
	if info.Engine != EngineGoldSrc || info.Name != "HLDM Box" || info.Map != "crossfire" ||
		info.Players != 4 || info.MaxPlayers != 16 || !info.VAC {
		t.Fatalf("unexpected GoldSrc info: %+v", info)
	}
}

func TestDecodeRconChallengeReply(t *testing.T) {
	data := append(marker(RconGoldSrcChallenge), []byte("hallenge rcon 981235\n\x00")...)

	resp, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if resp.Challenge != 981235 {
		t.Fatalf("challenge = %d, want 981235", resp.Challenge)
	}
}

func TestDecodeRconChallengeOverflow(t *testing.T) {
	data := append(marker(RconGoldSrcChallenge), []byte("hallenge rcon 4294967296\n\x00")...)

	_, err := Decode(data)
	var perr *PacketFormatError
	if !errors.As(err, &perr) {
		t.Fatalf("challenge beyond int32 should be a format error, got %v", err)
	}
}

func TestDecodeConnReject(t *testing.T) {
	data := append(marker(S2CConnReject), []byte("Bad rcon_password.\x00")...)

	resp, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if resp.RejectReason != "Bad rcon_password." {
		t.Fatalf("reason = %q", resp.RejectReason)
	}
}

func TestParseSplitFragmentSource(t *testing.T) {
	data := []byte{0xFE, 0xFF, 0xFF, 0xFF} // split marker
	data = binary.LittleEndian.AppendUint32(data, 42)
	data = append(data, 2, 1)                             // total, number
	data = binary.LittleEndian.AppendUint16(data, 3)      // size
	data = append(data, 0xAA, 0xBB, 0xCC)

	frag, err := ParseSplitFragment(data)
	if err != nil {
		t.Fatalf("ParseSplitFragment: %v", err)
	}

	want := SplitFragment{ID: 42, Total: 2, Number: 1, Payload: []byte{0xAA, 0xBB, 0xCC}}
	if diff := cmp.Diff(want, frag); diff != "" {
		t.Fatalf("fragment mismatch (-want +got):\n%s", diff)
	}
}

func TestParseSplitFragmentGoldSrc(t *testing.T) {
	data := []byte{0xFE, 0xFF, 0xFF, 0xFF}
	data = binary.LittleEndian.AppendUint32(data, 7)
	data = append(data, 0x12)       // fragment 1 of 2
	data = append(data, 0xDE, 0xAD)

	frag, err := ParseSplitFragment(data)
	if err != nil {
		t.Fatalf("ParseSplitFragment: %v", err)
	}
	if frag.ID != 7 || frag.Number != 1 || frag.Total != 2 {
		t.Fatalf("unexpected fragment: %+v", frag)
	}
}

func TestIsSplitDatagram(t *testing.T) {
	if IsSplitDatagram(marker(S2AInfo2)) {
		t.Fatal("plain packet misidentified as split")
	}
	if !IsSplitDatagram([]byte{0xFE, 0xFF, 0xFF, 0xFF, 0}) {
		t.Fatal("split datagram not identified")
	}
}
