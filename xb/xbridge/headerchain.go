package xbridge

import (
	"bytes"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// AddHeaderResult is the fine-grained outcome of [HeaderChain.AddHeader].
type AddHeaderResult uint8

//go:generate go run golang.org/x/tools/cmd/stringer -type AddHeaderResult -trimprefix=Header .
const (
	// Zero value, not a valid result.
	HeaderUnspecified AddHeaderResult = iota

	// Header extended the verified chain.
	HeaderAccepted

	// Header was already verified; no state change.
	HeaderAlreadyKnown

	// Header arrived ahead of its parent and was buffered.
	HeaderBuffered
)

// HeaderChainConfig configures a [HeaderChain].
type HeaderChainConfig struct {
	Log *slog.Logger

	Anchor GenesisAnchor

	// Minimum number of attestation signatures per header.
	AttestationThreshold int

	// Bounded depth of the out-of-order buffer.
	// Zero means [DefaultMaxOrphans].
	MaxOrphans int

	// How long a buffered header may wait for its parent
	// before eviction. Zero means [DefaultOrphanTTL].
	OrphanTTL time.Duration

	// Clock override for tests. Nil means [time.Now].
	Now func() time.Time
}

const (
	DefaultMaxOrphans = 32
	DefaultOrphanTTL  = time.Minute
)

// HeaderChain tracks the verified header chain of one foreign chain,
// from a trusted genesis anchor forward.
//
// Headers must link by parent hash; headers arriving ahead of their
// parent are buffered to a bounded depth and connected as gaps fill.
type HeaderChain struct {
	log *slog.Logger

	chainID string

	attestationThreshold int
	maxOrphans           int
	orphanTTL            time.Duration
	now                  func() time.Time

	mu sync.Mutex

	byHash map[string]ForeignHeader

	headHash   []byte
	headHeight uint64

	orphans map[string]orphanEntry
}

type orphanEntry struct {
	Header   ForeignHeader
	Deadline time.Time
}

// NewHeaderChain returns a HeaderChain rooted at cfg.Anchor.
func NewHeaderChain(cfg HeaderChainConfig) (*HeaderChain, error) {
	if cfg.Log == nil {
		return nil, fmt.Errorf("HeaderChainConfig.Log must not be nil")
	}
	if cfg.Anchor.ChainID == "" {
		return nil, fmt.Errorf("HeaderChainConfig.Anchor.ChainID must not be empty")
	}
	if cfg.AttestationThreshold < 1 {
		return nil, fmt.Errorf(
			"HeaderChainConfig.AttestationThreshold must be positive (got %d)",
			cfg.AttestationThreshold,
		)
	}

	if cfg.MaxOrphans == 0 {
		cfg.MaxOrphans = DefaultMaxOrphans
	}
	if cfg.OrphanTTL == 0 {
		cfg.OrphanTTL = DefaultOrphanTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &HeaderChain{
		log: cfg.Log,

		chainID: cfg.Anchor.ChainID,

		attestationThreshold: cfg.AttestationThreshold,
		maxOrphans:           cfg.MaxOrphans,
		orphanTTL:            cfg.OrphanTTL,
		now:                  cfg.Now,

		byHash: make(map[string]ForeignHeader),

		headHash:   bytes.Clone(cfg.Anchor.Hash),
		headHeight: cfg.Anchor.Height,

		orphans: make(map[string]orphanEntry),
	}, nil
}

// ChainID returns the foreign chain ID this chain tracks.
func (c *HeaderChain) ChainID() string {
	return c.chainID
}

// HeadHeight returns the height of the verified head
// (the anchor height if nothing has been added).
func (c *HeaderChain) HeadHeight() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.headHeight
}

// OrphanCount returns the number of currently buffered headers.
func (c *HeaderChain) OrphanCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.orphans)
}

// AddHeader verifies h and either extends the chain,
// buffers h until its parent arrives, or rejects it.
//
// A non-nil error means h was rejected;
// [HeaderBuffered] with a nil error means h is pending its parent.
func (c *HeaderChain) AddHeader(h ForeignHeader) (AddHeaderResult, error) {
	if h.ChainID != c.chainID {
		return HeaderUnspecified, UnknownChainError{ChainID: h.ChainID}
	}
	if len(h.Attestations) < c.attestationThreshold {
		return HeaderUnspecified, AttestationThresholdError{
			ChainID: c.chainID,
			Need:    c.attestationThreshold,
			Got:     len(h.Attestations),
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.evictExpiredOrphans()

	if _, ok := c.byHash[string(h.Hash)]; ok {
		return HeaderAlreadyKnown, nil
	}

	if h.linksTo(c.headHash, c.headHeight) {
		c.extend(h)
		c.connectOrphans()
		return HeaderAccepted, nil
	}

	if h.Height <= c.headHeight {
		return HeaderUnspecified, HeaderLinkError{
			ChainID:    c.chainID,
			HeadHeight: c.headHeight,
			GotHeight:  h.Height,
		}
	}

	if _, ok := c.orphans[string(h.Hash)]; ok {
		return HeaderAlreadyKnown, nil
	}

	if len(c.orphans) >= c.maxOrphans {
		// Full buffer: refuse the newcomer rather than
		// letting a flood displace headers close to connecting.
		return HeaderUnspecified, OrphanHeaderError{
			ChainID:    c.chainID,
			HeaderHash: h.Hash,
			Height:     h.Height,
		}
	}

	c.orphans[string(h.Hash)] = orphanEntry{
		Header:   h,
		Deadline: c.now().Add(c.orphanTTL),
	}
	return HeaderBuffered, nil
}

// HeaderByHash returns the verified header with the given hash.
func (c *HeaderChain) HeaderByHash(hash []byte) (ForeignHeader, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	h, ok := c.byHash[string(hash)]
	if !ok {
		return ForeignHeader{}, UnknownHeaderError{
			ChainID:    c.chainID,
			HeaderHash: hash,
		}
	}
	return h, nil
}

func (c *HeaderChain) extend(h ForeignHeader) {
	c.byHash[string(h.Hash)] = h
	c.headHash = h.Hash
	c.headHeight = h.Height
}

// connectOrphans repeatedly attaches any buffered header
// whose parent just became the head.
func (c *HeaderChain) connectOrphans() {
	for {
		var connected bool
		for hash, e := range c.orphans {
			if !e.Header.linksTo(c.headHash, c.headHeight) {
				continue
			}

			delete(c.orphans, hash)
			c.extend(e.Header)
			c.log.Debug(
				"Connected buffered foreign header",
				"header", e.Header,
			)
			connected = true
			break
		}
		if !connected {
			return
		}
	}
}

func (c *HeaderChain) evictExpiredOrphans() {
	now := c.now()
	for hash, e := range c.orphans {
		if now.Before(e.Deadline) {
			continue
		}

		delete(c.orphans, hash)
		c.log.Info(
			"Evicting buffered foreign header",
			"err", OrphanHeaderError{
				ChainID:    c.chainID,
				HeaderHash: e.Header.Hash,
				Height:     e.Header.Height,
			},
		)
	}
}
