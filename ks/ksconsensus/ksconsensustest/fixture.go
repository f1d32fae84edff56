package ksconsensustest

import (
	"context"
	"fmt"

	"github.com/kestrel-chain/kestrel/kcrypto"
	"github.com/kestrel-chain/kestrel/ks/ksconsensus"
)

// FixtureChainID is the chain ID used by [Fixture] genesis data.
const FixtureChainID = "kestrel-test"

// Fixture is a convenience type to get a validator set
// and signed consensus artifacts in tests.
//
// The zero value is not useful; use [NewFixture].
type Fixture struct {
	PrivVals PrivVals

	SignatureScheme ksconsensus.SignatureScheme

	HashScheme ksconsensus.HashScheme

	SignatureProofScheme kcrypto.SignatureProofScheme

	Genesis ksconsensus.Genesis

	prevCommitQC QuorumCertificateRecord

	prevBlockHash    []byte
	prevAppStateHash []byte
}

// QuorumCertificateRecord tracks the most recent certificate
// the fixture produced through [Fixture.CommitHeader].
type QuorumCertificateRecord struct {
	Set bool
	QC  ksconsensus.QuorumCertificate
}

// NewFixture returns an initialized Fixture with the given number
// of deterministic validators, the production hash and signature schemes,
// and a default genesis at initial height 1.
func NewFixture(numVals int) *Fixture {
	privVals := DeterministicValidators(numVals)

	f := &Fixture{
		PrivVals: privVals,

		SignatureScheme: ksconsensus.ChainSignatureScheme{ChainID: FixtureChainID},

		HashScheme: ksconsensus.Blake2bHashScheme{},

		SignatureProofScheme: kcrypto.BasicSignatureProofScheme,

		prevAppStateHash: []byte("initial_app_state"),
	}

	f.Genesis = ksconsensus.Genesis{
		ChainID:             FixtureChainID,
		InitialHeight:       1,
		CurrentAppStateHash: f.prevAppStateHash,
		ValidatorSet:        f.ValSet(),
	}

	gh, err := f.Genesis.Header(f.HashScheme)
	if err != nil {
		panic(fmt.Errorf("failed to build genesis header: %w", err))
	}
	f.prevBlockHash = gh.Hash

	return f
}

// Vals returns the plain validators of the fixture.
func (f *Fixture) Vals() []ksconsensus.Validator {
	return f.PrivVals.Vals()
}

// ValSet returns the fixture's validator set, at epoch 1.
func (f *Fixture) ValSet() ksconsensus.ValidatorSet {
	vs, err := ksconsensus.NewValidatorSet(1, f.Vals(), f.HashScheme)
	if err != nil {
		panic(fmt.Errorf("failed to build validator set: %w", err))
	}
	return vs
}

// ValidatorPubKey returns the public key of the validator at idx.
func (f *Fixture) ValidatorPubKey(idx int) kcrypto.PubKey {
	return f.PrivVals[idx].Signer.PubKey()
}

// NextProposedHeader returns a proposed header for the next height,
// using the given app data ID and proposed by the validator at valIdx.
//
// The header refers to the previous block hash and commit certificate
// recorded by the last call to [Fixture.CommitHeader],
// or to genesis if nothing has been committed yet.
//
// The proposal is returned unsigned; use [Fixture.SignProposal].
func (f *Fixture) NextProposedHeader(dataID []byte, valIdx int) ksconsensus.ProposedHeader {
	height := f.Genesis.InitialHeight
	if f.prevCommitQC.Set {
		height = f.prevCommitQC.QC.Height + 1
	}

	vs := f.ValSet()

	h := ksconsensus.Header{
		PrevBlockHash: f.prevBlockHash,

		Height: height,

		ValidatorSet:     vs,
		NextValidatorSet: vs,

		DataID: dataID,

		PrevAppStateHash: f.prevAppStateHash,
	}

	if f.prevCommitQC.Set {
		h.PrevCommitQC = f.prevCommitQC.QC.Clone()
	}

	hash, err := f.HashScheme.Header(h)
	if err != nil {
		panic(fmt.Errorf("failed to calculate header hash: %w", err))
	}
	h.Hash = hash

	return ksconsensus.ProposedHeader{
		Header: h,
		Round:  0,

		ProposerPubKey: f.ValidatorPubKey(valIdx),
	}
}

// SignProposal sets the signature on ph
// as the validator at valIdx.
func (f *Fixture) SignProposal(ctx context.Context, ph *ksconsensus.ProposedHeader, valIdx int) {
	s := ksconsensus.PassthroughSigner{
		Signer:          f.PrivVals[valIdx].Signer,
		SignatureScheme: f.SignatureScheme,
	}

	if err := s.SignProposedHeader(ctx, ph); err != nil {
		panic(fmt.Errorf("failed to sign proposal: %w", err))
	}
}

// PrevoteSignature returns the signature of the validator at valIdx
// over the prevote content for vt.
func (f *Fixture) PrevoteSignature(ctx context.Context, vt ksconsensus.VoteTarget, valIdx int) []byte {
	s := ksconsensus.PassthroughSigner{
		Signer:          f.PrivVals[valIdx].Signer,
		SignatureScheme: f.SignatureScheme,
	}

	_, sig, err := s.Prevote(ctx, vt)
	if err != nil {
		panic(fmt.Errorf("failed to sign prevote: %w", err))
	}
	return sig
}

// PrecommitSignature returns the signature of the validator at valIdx
// over the precommit content for vt.
func (f *Fixture) PrecommitSignature(ctx context.Context, vt ksconsensus.VoteTarget, valIdx int) []byte {
	s := ksconsensus.PassthroughSigner{
		Signer:          f.PrivVals[valIdx].Signer,
		SignatureScheme: f.SignatureScheme,
	}

	_, sig, err := s.Precommit(ctx, vt)
	if err != nil {
		panic(fmt.Errorf("failed to sign precommit: %w", err))
	}
	return sig
}

// PrevoteSignatureProof returns a full prevote proof for vt,
// containing the signatures of the validators at valIdxs.
func (f *Fixture) PrevoteSignatureProof(
	ctx context.Context,
	vt ksconsensus.VoteTarget,
	valIdxs []int,
) kcrypto.SignatureProof {
	msg, err := ksconsensus.PrevoteSignBytes(vt, f.SignatureScheme)
	if err != nil {
		panic(fmt.Errorf("failed to build prevote sign bytes: %w", err))
	}

	return f.signatureProof(ctx, msg, valIdxs, f.PrevoteSignature, vt)
}

// PrecommitSignatureProof returns a full precommit proof for vt,
// containing the signatures of the validators at valIdxs.
func (f *Fixture) PrecommitSignatureProof(
	ctx context.Context,
	vt ksconsensus.VoteTarget,
	valIdxs []int,
) kcrypto.SignatureProof {
	msg, err := ksconsensus.PrecommitSignBytes(vt, f.SignatureScheme)
	if err != nil {
		panic(fmt.Errorf("failed to build precommit sign bytes: %w", err))
	}

	return f.signatureProof(ctx, msg, valIdxs, f.PrecommitSignature, vt)
}

func (f *Fixture) signatureProof(
	ctx context.Context,
	msg []byte,
	valIdxs []int,
	sign func(context.Context, ksconsensus.VoteTarget, int) []byte,
	vt ksconsensus.VoteTarget,
) kcrypto.SignatureProof {
	vs := f.ValSet()

	proof, err := f.SignatureProofScheme.New(
		msg,
		ksconsensus.ValidatorsToPubKeys(vs.Validators),
		string(vs.PubKeyHash),
	)
	if err != nil {
		panic(fmt.Errorf("failed to build signature proof: %w", err))
	}

	for _, idx := range valIdxs {
		sig := sign(ctx, vt, idx)
		if err := proof.AddSignature(sig, f.ValidatorPubKey(idx)); err != nil {
			panic(fmt.Errorf("failed to add signature for validator %d: %w", idx, err))
		}
	}

	return proof
}

// PrevoteProofMap returns full prevote proofs for one height and round,
// from a map of block hash (empty string for nil) to voting validator indices.
func (f *Fixture) PrevoteProofMap(
	ctx context.Context,
	height uint64, round uint32,
	voteMap map[string][]int,
) map[string]kcrypto.SignatureProof {
	out := make(map[string]kcrypto.SignatureProof, len(voteMap))
	for blockHash, valIdxs := range voteMap {
		vt := ksconsensus.VoteTarget{Height: height, Round: round, BlockHash: blockHash}
		out[blockHash] = f.PrevoteSignatureProof(ctx, vt, valIdxs)
	}
	return out
}

// PrecommitProofMap returns full precommit proofs for one height and round,
// from a map of block hash (empty string for nil) to voting validator indices.
func (f *Fixture) PrecommitProofMap(
	ctx context.Context,
	height uint64, round uint32,
	voteMap map[string][]int,
) map[string]kcrypto.SignatureProof {
	out := make(map[string]kcrypto.SignatureProof, len(voteMap))
	for blockHash, valIdxs := range voteMap {
		vt := ksconsensus.VoteTarget{Height: height, Round: round, BlockHash: blockHash}
		out[blockHash] = f.PrecommitSignatureProof(ctx, vt, valIdxs)
	}
	return out
}

// SparsePrecommitProofMap returns the sparse network form of
// [Fixture.PrecommitProofMap] output.
func (f *Fixture) SparsePrecommitProofMap(
	ctx context.Context,
	height uint64, round uint32,
	voteMap map[string][]int,
) map[string][]kcrypto.SparseSignature {
	full := f.PrecommitProofMap(ctx, height, round, voteMap)

	out := make(map[string][]kcrypto.SparseSignature, len(full))
	for blockHash, proof := range full {
		out[blockHash] = proof.AsSparse().Signatures
	}
	return out
}

// SparsePrevoteProofMap returns the sparse network form of
// [Fixture.PrevoteProofMap] output.
func (f *Fixture) SparsePrevoteProofMap(
	ctx context.Context,
	height uint64, round uint32,
	voteMap map[string][]int,
) map[string][]kcrypto.SparseSignature {
	full := f.PrevoteProofMap(ctx, height, round, voteMap)

	out := make(map[string][]kcrypto.SparseSignature, len(full))
	for blockHash, proof := range full {
		out[blockHash] = proof.AsSparse().Signatures
	}
	return out
}

// QuorumCertificate returns a certificate for blockHash at height and round,
// with precommits from the validators at valIdxs.
//
// Passing indices below the quorum threshold is valid,
// and useful for negative verification tests.
func (f *Fixture) QuorumCertificate(
	ctx context.Context,
	height uint64, round uint32,
	blockHash string,
	valIdxs []int,
) ksconsensus.QuorumCertificate {
	vt := ksconsensus.VoteTarget{Height: height, Round: round, BlockHash: blockHash}
	proof := f.PrecommitSignatureProof(ctx, vt, valIdxs)
	return ksconsensus.NewQuorumCertificate(height, round, blockHash, proof)
}

// CommitHeader records h as committed at round,
// with precommits from every fixture validator,
// so that the next call to [Fixture.NextProposedHeader]
// builds on top of h.
//
// appStateHash is the app state resulting from executing h.
func (f *Fixture) CommitHeader(ctx context.Context, h ksconsensus.Header, appStateHash []byte, round uint32) {
	allIdxs := make([]int, len(f.PrivVals))
	for i := range allIdxs {
		allIdxs[i] = i
	}

	f.prevCommitQC = QuorumCertificateRecord{
		Set: true,
		QC:  f.QuorumCertificate(ctx, h.Height, round, string(h.Hash), allIdxs),
	}
	f.prevBlockHash = h.Hash
	f.prevAppStateHash = appStateHash
}

// LastCommitQC returns the certificate recorded by the last
// [Fixture.CommitHeader] call, which must have happened.
func (f *Fixture) LastCommitQC() ksconsensus.QuorumCertificate {
	if !f.prevCommitQC.Set {
		panic(fmt.Errorf("BUG: LastCommitQC called before CommitHeader"))
	}
	return f.prevCommitQC.QC.Clone()
}

// RecalculateHash recalculates and sets the hash on h.
// Use this after modifying a header built by fixture methods.
func (f *Fixture) RecalculateHash(h *ksconsensus.Header) {
	hash, err := f.HashScheme.Header(*h)
	if err != nil {
		panic(fmt.Errorf("failed to recalculate header hash: %w", err))
	}
	h.Hash = hash
}
