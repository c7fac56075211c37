package query

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/sourcewatch-project/sourcewatch/internal/protocol"
)

// fakeTransport replays a scripted sequence of receive results and records
// every request sent through it.
type fakeTransport struct {
	sent    [][]byte
	replies []fakeReply
}

type fakeReply struct {
	data []byte
	err  error
}

func (f *fakeTransport) Send(p []byte) error {
	buf := make([]byte, len(p))
	copy(buf, p)
	f.sent = append(f.sent, buf)
	return nil
}

func (f *fakeTransport) Receive(time.Duration) ([]byte, error) {
	if len(f.replies) == 0 {
		return nil, &TransportError{Op: "receive", Addr: "fake", Err: ErrTimeout}
	}
	r := f.replies[0]
	f.replies = f.replies[1:]
	return r.data, r.err
}

func (f *fakeTransport) Close() error { return nil }

func packet(header byte, payload ...byte) []byte {
	return append([]byte{0xFF, 0xFF, 0xFF, 0xFF, header}, payload...)
}

func challengePacket(n int32) []byte {
	return packet(protocol.S2CChallenge, byte(n), byte(n>>8), byte(n>>16), byte(n>>24))
}

func playersPacket(names ...string) []byte {
	payload := []byte{byte(len(names))}
	for i, name := range names {
		payload = append(payload, byte(i))
		payload = append(payload, []byte(name)...)
		payload = append(payload, 0)
		payload = binary.LittleEndian.AppendUint32(payload, 10)
		payload = binary.LittleEndian.AppendUint32(payload, math.Float32bits(60))
	}
	return packet(protocol.S2APlayer, payload...)
}

func TestPlayersChallengeFlow(t *testing.T) {
	ft := &fakeTransport{replies: []fakeReply{
		{data: challengePacket(0x0BADCAFE)},
		{data: playersPacket("alice", "bob")},
	}}
	s := NewSession(ft, time.Second)

	players, err := s.Players()
	if err != nil {
		t.Fatalf("Players: %v", err)
	}
	if len(players) != 2 || players[0].Name != "alice" || players[1].Name != "bob" {
		t.Fatalf("unexpected players: %+v", players)
	}

	if len(ft.sent) != 2 {
		t.Fatalf("expected 2 requests, got %d", len(ft.sent))
	}
	// First request bootstraps with the -1 sentinel.
	if diff := cmp.Diff(protocol.EncodePlayerRequest(protocol.ChallengeNone), ft.sent[0]); diff != "" {
		t.Fatalf("bootstrap request mismatch (-want +got):\n%s", diff)
	}
	// Retry carries the delivered challenge.
	if diff := cmp.Diff(protocol.EncodePlayerRequest(0x0BADCAFE), ft.sent[1]); diff != "" {
		t.Fatalf("retry request mismatch (-want +got):\n%s", diff)
	}
}

func TestPlayersCachesChallenge(t *testing.T) {
	ft := &fakeTransport{replies: []fakeReply{
		{data: challengePacket(77)},
		{data: playersPacket("alice")},
		{data: playersPacket("alice")},
	}}
	s := NewSession(ft, time.Second)

	if _, err := s.Players(); err != nil {
		t.Fatalf("first Players: %v", err)
	}
	if _, err := s.Players(); err != nil {
		t.Fatalf("second Players: %v", err)
	}

	// The second logical query reuses the cached challenge: three sends
	// total, the last carrying challenge 77 directly.
	if len(ft.sent) != 3 {
		t.Fatalf("expected 3 requests, got %d", len(ft.sent))
	}
	if diff := cmp.Diff(protocol.EncodePlayerRequest(77), ft.sent[2]); diff != "" {
		t.Fatalf("cached-challenge request mismatch (-want +got):\n%s", diff)
	}
}

func TestPlayersDoubleChallengeFails(t *testing.T) {
	ft := &fakeTransport{replies: []fakeReply{
		{data: challengePacket(1)},
		{data: challengePacket(2)},
	}}
	s := NewSession(ft, time.Second)

	_, err := s.Players()

	var pe *protocol.ProtocolError
	if !errors.As(err, &pe) {
		t.Fatalf("want *ProtocolError after double challenge, got %v", err)
	}
	if len(ft.sent) != 2 {
		t.Fatalf("session must not keep retrying, sent %d requests", len(ft.sent))
	}
}

func TestPlayersWrongPacketFails(t *testing.T) {
	rules := packet(protocol.S2ARules, 0, 0)
	ft := &fakeTransport{replies: []fakeReply{
		{data: challengePacket(5)},
		{data: rules},
	}}
	s := NewSession(ft, time.Second)

	_, err := s.Players()

	var pe *protocol.ProtocolError
	if !errors.As(err, &pe) {
		t.Fatalf("want *ProtocolError for wrong response type, got %v", err)
	}
	if pe.Expected != protocol.S2APlayer || pe.Actual != protocol.S2ARules {
		t.Fatalf("error should name both headers: %+v", pe)
	}
}

func TestInfoSingleExchange(t *testing.T) {
	payload := []byte{17}
	for _, s := range []string{"srv", "map", "dir", "game"} {
		payload = append(payload, []byte(s)...)
		payload = append(payload, 0)
	}
	payload = binary.LittleEndian.AppendUint16(payload, 10)
	payload = append(payload, 1, 8, 0)
	payload = append(payload, 'd', 'l', 0, 0)
	payload = append(payload, []byte("1.0\x00")...)

	ft := &fakeTransport{replies: []fakeReply{
		{data: packet(protocol.S2AInfo2, payload...)},
	}}
	s := NewSession(ft, time.Second)

	info, err := s.Info()
	if err != nil {
		t.Fatalf("Info: %v", err)
	}
	if info.Name != "srv" || info.Map != "map" || info.MaxPlayers != 8 {
		t.Fatalf("unexpected info: %+v", info)
	}
	if len(ft.sent) != 1 {
		t.Fatalf("info must be a single exchange, sent %d requests", len(ft.sent))
	}
}

func TestTimeoutLeavesChallengeCache(t *testing.T) {
	ft := &fakeTransport{replies: []fakeReply{
		{data: challengePacket(99)},
		{data: playersPacket("alice")},
		// Next query times out.
		{err: &TransportError{Op: "receive", Addr: "fake", Err: ErrTimeout}},
		// Retry succeeds without renegotiating the challenge.
		{data: playersPacket("alice")},
	}}
	s := NewSession(ft, time.Second)

	if _, err := s.Players(); err != nil {
		t.Fatalf("warm-up Players: %v", err)
	}

	_, err := s.Players()
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("want ErrTimeout, got %v", err)
	}

	if _, err := s.Players(); err != nil {
		t.Fatalf("Players after timeout: %v", err)
	}
	last := ft.sent[len(ft.sent)-1]
	if diff := cmp.Diff(protocol.EncodePlayerRequest(99), last); diff != "" {
		t.Fatalf("challenge cache lost across timeout (-want +got):\n%s", diff)
	}
}

func splitInto(id uint32, parts ...[]byte) [][]byte {
	var out [][]byte
	for i, p := range parts {
		d := []byte{0xFE, 0xFF, 0xFF, 0xFF}
		d = binary.LittleEndian.AppendUint32(d, id)
		d = append(d, byte(len(parts)), byte(i))
		d = binary.LittleEndian.AppendUint16(d, uint16(len(p)))
		d = append(d, p...)
		out = append(out, d)
	}
	return out
}

func TestSplitResponseReassembly(t *testing.T) {
	whole := playersPacket("alice", "bob", "carol")
	frags := splitInto(31337, whole[:9], whole[9:])

	// Deliver fragments out of order.
	ft := &fakeTransport{replies: []fakeReply{
		{data: frags[1]},
		{data: frags[0]},
	}}
	s := NewSession(ft, time.Second)
	s.challenge = 12 // warm cache so the first reply is the data

	players, err := s.Players()
	if err != nil {
		t.Fatalf("Players over split response: %v", err)
	}
	if len(players) != 3 || players[2].Name != "carol" {
		t.Fatalf("unexpected players: %+v", players)
	}
}

func TestSplitFragmentMismatchFails(t *testing.T) {
	whole := playersPacket("alice")
	frags := splitInto(1, whole[:4], whole[4:])
	other := splitInto(2, whole[:4], whole[4:])

	ft := &fakeTransport{replies: []fakeReply{
		{data: frags[0]},
		{data: other[1]},
	}}
	s := NewSession(ft, time.Second)
	s.challenge = 12

	_, err := s.Players()

	var pfe *protocol.PacketFormatError
	if !errors.As(err, &pfe) {
		t.Fatalf("want *PacketFormatError for mismatched fragment, got %v", err)
	}
}
