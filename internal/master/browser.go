// Package master drives the Steam master-server list protocol: repeated
// A2M_GET_SERVERS_BATCH2 requests paging through the registered game
// servers for a region and filter.
package master

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/sourcewatch-project/sourcewatch/internal/protocol"
	"github.com/sourcewatch-project/sourcewatch/internal/query"
)

// Browser pages through a master server's list. Each page is one
// send-then-receive exchange; the next page starts after the last entry of
// the previous one until the 0.0.0.0:0 sentinel appears or the page budget
// runs out.
type Browser struct {
	transport query.Transport
	timeout   time.Duration
	region    byte
	filter    string
	pageLimit int // 0 means unlimited
	logger    zerolog.Logger
}

// Option configures a Browser.
type Option func(*Browser)

// WithRegion restricts results to a region code (default all regions).
func WithRegion(region byte) Option {
	return func(b *Browser) { b.region = region }
}

// WithFilter narrows results with a master-server filter string such as
// `\gamedir\cstrike` or `\type\d` (default none).
func WithFilter(filter string) Option {
	return func(b *Browser) { b.filter = filter }
}

// WithPageLimit caps the number of page requests issued per sweep
// (default unlimited).
func WithPageLimit(n int) Option {
	return func(b *Browser) { b.pageLimit = n }
}

// NewBrowser creates a browser over the given transport to a master
// server. The timeout bounds each page's receive.
func NewBrowser(t query.Transport, timeout time.Duration, opts ...Option) *Browser {
	b := &Browser{
		transport: t,
		timeout:   timeout,
		region:    protocol.RegionAll,
		logger:    log.With().Str("component", "master").Logger(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Servers pages through the full result set and returns every endpoint
// before the end-of-list sentinel. The sentinel itself is excluded. The
// context cancels a sweep between pages; entries fetched so far are
// returned alongside the context error.
func (b *Browser) Servers(ctx context.Context) ([]protocol.ServerEndpoint, error) {
	var all []protocol.ServerEndpoint
	start := protocol.MasterStartAddress

	for page := 0; b.pageLimit == 0 || page < b.pageLimit; page++ {
		if err := ctx.Err(); err != nil {
			return all, err
		}

		entries, err := b.fetchPage(start)
		if err != nil {
			return all, err
		}

		done := false
		for _, e := range entries {
			if e.IsZero() {
				done = true
				break
			}
			all = append(all, e)
		}

		b.logger.Debug().
			Int("page", page).
			Int("entries", len(entries)).
			Str("start", start).
			Bool("final", done).
			Msg("master page fetched")

		if done || len(entries) == 0 {
			return all, nil
		}
		start = all[len(all)-1].String()
	}

	b.logger.Warn().
		Int("pages", b.pageLimit).
		Int("servers", len(all)).
		Msg("page budget exhausted before end-of-list sentinel")
	return all, nil
}

// fetchPage performs one page exchange.
func (b *Browser) fetchPage(start string) ([]protocol.ServerEndpoint, error) {
	req := protocol.EncodeMasterRequest(b.region, start, b.filter)
	if err := b.transport.Send(req); err != nil {
		return nil, err
	}

	data, err := b.transport.Receive(b.timeout)
	if err != nil {
		return nil, err
	}

	resp, err := protocol.Decode(data)
	if err != nil {
		return nil, err
	}
	if resp.Header != protocol.M2AServerBatch {
		return nil, &protocol.ProtocolError{Expected: protocol.M2AServerBatch, Actual: resp.Header}
	}

	return resp.Servers, nil
}
