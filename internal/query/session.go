package query

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/sourcewatch-project/sourcewatch/internal/protocol"
)

// Session sequences query exchanges against one game server: it owns the
// transport, caches the challenge number across calls, and retries exactly
// once when the server rotates the challenge mid-query. A session serves
// one caller at a time; concurrent queries need one session each.
type Session struct {
	transport Transport
	timeout   time.Duration
	challenge int32
	logger    zerolog.Logger
}

// NewSession creates a session over the given transport. The timeout
// bounds each receive within an exchange.
func NewSession(t Transport, timeout time.Duration) *Session {
	return &Session{
		transport: t,
		timeout:   timeout,
		challenge: protocol.ChallengeNone,
		logger:    log.With().Str("component", "query").Logger(),
	}
}

// Close releases the underlying transport.
func (s *Session) Close() error {
	return s.transport.Close()
}

// Info requests basic server information. Unconditional: one request, one
// response, no challenge.
func (s *Session) Info() (*protocol.ServerInfo, error) {
	resp, err := s.exchange(protocol.EncodeInfoRequest())
	if err != nil {
		return nil, err
	}

	switch resp.Header {
	case protocol.S2AInfo2, protocol.S2AInfoDetailed:
		return resp.Info, nil
	default:
		return nil, &protocol.ProtocolError{Expected: protocol.S2AInfo2, Actual: resp.Header}
	}
}

// Players requests the current player list. Challenge gated.
func (s *Session) Players() ([]protocol.PlayerEntry, error) {
	resp, err := s.challengedQuery(protocol.EncodePlayerRequest, protocol.S2APlayer)
	if err != nil {
		return nil, err
	}
	return resp.Players, nil
}

// Rules requests the active server rules. Challenge gated.
func (s *Session) Rules() ([]protocol.RuleEntry, error) {
	resp, err := s.challengedQuery(protocol.EncodeRulesRequest, protocol.S2ARules)
	if err != nil {
		return nil, err
	}
	return resp.Rules, nil
}

// Challenge explicitly requests a challenge number and caches it. Players
// and Rules obtain one on demand through the -1 sentinel, so calling this
// first is optional.
func (s *Session) Challenge() (int32, error) {
	resp, err := s.exchange(protocol.EncodeChallengeRequest())
	if err != nil {
		return 0, err
	}
	if resp.Header != protocol.S2CChallenge {
		return 0, &protocol.ProtocolError{Expected: protocol.S2CChallenge, Actual: resp.Header}
	}

	s.challenge = resp.Challenge
	return resp.Challenge, nil
}

// challengedQuery drives the challenge state machine for A2S_PLAYER and
// A2S_RULES. The first send carries the cached challenge (or the -1
// sentinel); a challenge reply updates the cache and the request is
// re-issued once. A second consecutive challenge reply is a protocol
// failure rather than a loop.
func (s *Session) challengedQuery(encode func(int32) []byte, want byte) (*protocol.Response, error) {
	resp, err := s.exchange(encode(s.challenge))
	if err != nil {
		return nil, err
	}

	if resp.Header == protocol.S2CChallenge {
		s.challenge = resp.Challenge
		s.logger.Debug().
			Int32("challenge", resp.Challenge).
			Uint8("request", want).
			Msg("challenge received, re-issuing request")

		resp, err = s.exchange(encode(s.challenge))
		if err != nil {
			return nil, err
		}
		if resp.Header == protocol.S2CChallenge {
			s.challenge = resp.Challenge
			return nil, &protocol.ProtocolError{
				Expected: want,
				Actual:   resp.Header,
				Reason:   "server rotated the challenge twice for one query",
			}
		}
	}

	if resp.Header != want {
		return nil, &protocol.ProtocolError{Expected: want, Actual: resp.Header}
	}
	return resp, nil
}

// exchange performs one send-then-receive round trip and decodes the
// reply, reassembling split responses as needed.
func (s *Session) exchange(req []byte) (*protocol.Response, error) {
	if err := s.transport.Send(req); err != nil {
		return nil, err
	}

	data, err := s.receivePacket()
	if err != nil {
		return nil, err
	}

	return protocol.Decode(data)
}

// receivePacket reads one complete packet, collecting and ordering split
// fragments until the response is whole.
func (s *Session) receivePacket() ([]byte, error) {
	data, err := s.transport.Receive(s.timeout)
	if err != nil {
		return nil, err
	}
	if !protocol.IsSplitDatagram(data) {
		return data, nil
	}
	return s.reassemble(data)
}

// reassemble collects the remaining fragments of a split response. All
// fragments must agree on ID and total; the concatenated payloads form an
// ordinary marker-framed packet.
func (s *Session) reassemble(first []byte) ([]byte, error) {
	frag, err := protocol.ParseSplitFragment(first)
	if err != nil {
		return nil, err
	}

	parts := make([][]byte, frag.Total)
	parts[frag.Number] = frag.Payload
	received := 1

	for received < int(frag.Total) {
		data, err := s.transport.Receive(s.timeout)
		if err != nil {
			return nil, err
		}
		if !protocol.IsSplitDatagram(data) {
			// A stray single packet in the middle of a split response
			// means the datagrams belong to different requests.
			return nil, &protocol.PacketFormatError{
				Length: len(data),
				Reason: "plain packet received among split fragments",
			}
		}

		next, err := protocol.ParseSplitFragment(data)
		if err != nil {
			return nil, err
		}
		if next.ID != frag.ID || next.Total != frag.Total {
			return nil, &protocol.PacketFormatError{
				Length: len(data),
				Reason: "split fragment does not match the response being reassembled",
			}
		}

		if parts[next.Number] == nil {
			received++
		}
		parts[next.Number] = next.Payload
	}

	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}

	s.logger.Debug().
		Uint32("id", frag.ID).
		Uint8("fragments", frag.Total).
		Int("bytes", len(out)).
		Msg("split response reassembled")

	return out, nil
}
