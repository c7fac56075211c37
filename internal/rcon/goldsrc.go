// Package rcon implements the GoldSrc remote-console protocol over the
// same UDP packet framing as the query protocol: a "challenge rcon"
// exchange followed by authenticated command packets.
package rcon

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/sourcewatch-project/sourcewatch/internal/protocol"
	"github.com/sourcewatch-project/sourcewatch/internal/query"
)

// continuationTimeout bounds the wait for follow-up datagrams of a long
// command response. GoldSrc servers send those back-to-back, so a short
// window is enough.
const continuationTimeout = 500 * time.Millisecond

// RejectedError reports that the server refused the RCON command, usually
// because of a wrong password.
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("rcon rejected: %s", e.Reason)
}

// Client executes remote-console commands on one GoldSrc server. Like a
// query session it caches its challenge and serves one caller at a time.
type Client struct {
	transport query.Transport
	password  string
	timeout   time.Duration
	challenge int32
	haveChal  bool
	logger    zerolog.Logger
}

// NewClient creates an RCON client over the given transport.
func NewClient(t query.Transport, password string, timeout time.Duration) *Client {
	return &Client{
		transport: t,
		password:  password,
		timeout:   timeout,
		logger:    log.With().Str("component", "rcon").Logger(),
	}
}

// Close releases the underlying transport.
func (c *Client) Close() error {
	return c.transport.Close()
}

// Exec runs one console command and returns its output. The challenge is
// negotiated on first use and renegotiated once if the server rejects the
// cached one.
func (c *Client) Exec(command string) (string, error) {
	if !c.haveChal {
		if err := c.negotiate(); err != nil {
			return "", err
		}
	}

	out, err := c.exec(command)
	if err == nil {
		return out, nil
	}

	var rej *RejectedError
	if !errors.As(err, &rej) || !strings.Contains(strings.ToLower(rej.Reason), "challenge") {
		return "", err
	}

	// The cached challenge expired; negotiate a fresh one and retry once.
	c.haveChal = false
	if err := c.negotiate(); err != nil {
		return "", err
	}
	return c.exec(command)
}

// negotiate performs the "challenge rcon" exchange and caches the result.
func (c *Client) negotiate() error {
	if err := c.transport.Send(protocol.EncodeRconChallengeRequest()); err != nil {
		return err
	}

	data, err := c.transport.Receive(c.timeout)
	if err != nil {
		return err
	}

	resp, err := protocol.Decode(data)
	if err != nil {
		return err
	}
	if resp.Header != protocol.RconGoldSrcChallenge {
		return &protocol.ProtocolError{Expected: protocol.RconGoldSrcChallenge, Actual: resp.Header}
	}

	c.challenge = resp.Challenge
	c.haveChal = true
	c.logger.Debug().Int32("challenge", c.challenge).Msg("rcon challenge negotiated")
	return nil
}

// exec sends one authenticated command and collects the full response,
// which may span several datagrams for long console output.
func (c *Client) exec(command string) (string, error) {
	req := protocol.EncodeRconCommand(c.challenge, c.password, command)
	if err := c.transport.Send(req); err != nil {
		return "", err
	}

	data, err := c.transport.Receive(c.timeout)
	if err != nil {
		return "", err
	}

	resp, err := protocol.Decode(data)
	if err != nil {
		return "", err
	}

	switch resp.Header {
	case protocol.RconGoldSrcResponse:
	case protocol.S2CConnReject:
		return "", &RejectedError{Reason: resp.RejectReason}
	default:
		return "", &protocol.ProtocolError{Expected: protocol.RconGoldSrcResponse, Actual: resp.Header}
	}

	var sb strings.Builder
	sb.WriteString(resp.RconText)

	// Drain continuation datagrams until the server goes quiet or sends
	// an empty terminator.
	for {
		data, err := c.transport.Receive(continuationTimeout)
		if err != nil {
			break
		}
		next, err := protocol.Decode(data)
		if err != nil || next.Header != protocol.RconGoldSrcResponse || next.RconText == "" {
			break
		}
		sb.WriteString(next.RconText)
	}

	return sb.String(), nil
}
