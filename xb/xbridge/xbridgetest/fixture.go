// Package xbridgetest provides a fixture for constructing
// attested foreign chains and inclusion proofs in tests.
package xbridgetest

import (
	"fmt"

	"golang.org/x/crypto/blake2b"

	"github.com/kestrel-chain/kestrel/kmerkle"
	"github.com/kestrel-chain/kestrel/xb/xbridge"
)

// FixtureForeignChainID is the chain ID used by [ForeignChainFixture].
const FixtureForeignChainID = "foreign-test"

// FixtureAttestationThreshold is the attestation count
// fixture headers always carry.
const FixtureAttestationThreshold = 3

// ForeignChainFixture deterministically fabricates a foreign chain:
// linked, attested headers whose commitment roots cover
// caller-supplied payload batches.
type ForeignChainFixture struct {
	scheme kmerkle.Blake2b256Scheme

	anchor xbridge.GenesisAnchor

	headers []fixtureBlock
}

type fixtureBlock struct {
	Header xbridge.ForeignHeader
	Tree   *kmerkle.Tree[string]

	Payloads [][]byte
}

// NewForeignChainFixture returns a fixture anchored at height 0.
func NewForeignChainFixture() *ForeignChainFixture {
	return &ForeignChainFixture{
		anchor: xbridge.GenesisAnchor{
			ChainID: FixtureForeignChainID,
			Height:  0,
			Hash:    fixtureHash("anchor"),
		},
	}
}

// Anchor returns the genesis anchor for chains built from this fixture.
func (f *ForeignChainFixture) Anchor() xbridge.GenesisAnchor {
	return f.anchor
}

// NewHeaderChain returns a header chain rooted at the fixture's anchor,
// with the fixture's attestation threshold and the given extra config.
// Zero-valued config fields keep their defaults.
func (f *ForeignChainFixture) NewHeaderChain(cfg xbridge.HeaderChainConfig) (*xbridge.HeaderChain, error) {
	cfg.Anchor = f.anchor
	if cfg.AttestationThreshold == 0 {
		cfg.AttestationThreshold = FixtureAttestationThreshold
	}
	return xbridge.NewHeaderChain(cfg)
}

// AddBlock fabricates the next foreign header,
// committing to the given payloads, and returns it.
//
// Payloads must not be empty; foreign blocks without
// bridge events never reach this node in tests.
func (f *ForeignChainFixture) AddBlock(payloads [][]byte) xbridge.ForeignHeader {
	tree, err := kmerkle.NewTree(f.scheme, payloads)
	if err != nil {
		panic(fmt.Errorf("failed to build commitment tree: %w", err))
	}

	height := f.anchor.Height + uint64(len(f.headers)) + 1

	parentHash := f.anchor.Hash
	if n := len(f.headers); n > 0 {
		parentHash = f.headers[n-1].Header.Hash
	}

	attestations := make([][]byte, FixtureAttestationThreshold)
	for i := range attestations {
		attestations[i] = fixtureHash(fmt.Sprintf("attestation:%d:%d", height, i))
	}

	h := xbridge.ForeignHeader{
		ChainID: FixtureForeignChainID,

		Height: height,

		Hash:       fixtureHash(fmt.Sprintf("header:%d:%x", height, tree.RootID())),
		ParentHash: parentHash,

		CommitmentRoot: []byte(tree.RootID()),

		Attestations: attestations,
	}

	f.headers = append(f.headers, fixtureBlock{
		Header:   h,
		Tree:     tree,
		Payloads: payloads,
	})

	return h
}

// Header returns the fabricated header at the given foreign height.
func (f *ForeignChainFixture) Header(height uint64) xbridge.ForeignHeader {
	return f.block(height).Header
}

// Proof returns a cross-chain proof for the payload at payloadIdx
// in the block at the given foreign height.
func (f *ForeignChainFixture) Proof(
	height uint64, payloadIdx int,
	account string, seq uint64,
) xbridge.CrossChainProof {
	blk := f.block(height)

	incl, err := blk.Tree.Prove(payloadIdx)
	if err != nil {
		panic(fmt.Errorf("failed to build inclusion proof: %w", err))
	}

	return xbridge.CrossChainProof{
		ChainID: FixtureForeignChainID,

		SourceAccount: account,
		Seq:           seq,

		Payload: blk.Payloads[payloadIdx],

		HeaderHash: blk.Header.Hash,
		Inclusion:  incl,
	}
}

func (f *ForeignChainFixture) block(height uint64) fixtureBlock {
	idx := int(height - f.anchor.Height - 1)
	if idx < 0 || idx >= len(f.headers) {
		panic(fmt.Errorf("BUG: no fabricated block at foreign height %d", height))
	}
	return f.headers[idx]
}

func fixtureHash(s string) []byte {
	h := blake2b.Sum256([]byte(s))
	return h[:]
}
