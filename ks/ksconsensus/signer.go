package ksconsensus

import (
	"context"
	"fmt"

	"github.com/kestrel-chain/kestrel/kcrypto"
)

// Signer is the consensus-aware signer.
// [kcrypto.Signer] signs raw bytes; this interface is aware of consensus types,
// in case the underlying signer wants context on what is being signed.
type Signer interface {
	// Prevote and Precommit return the signing content and the signature
	// for a vote on the block (or nil) identified by the VoteTarget.
	//
	// The signing content is returned alongside the signature
	// to avoid recomputing it inside the engine.
	Prevote(ctx context.Context, vt VoteTarget) (signContent, signature []byte, err error)
	Precommit(ctx context.Context, vt VoteTarget) (signContent, signature []byte, err error)

	// SignProposedHeader sets the Signature field on ph.
	// All other fields on ph must already be populated.
	SignProposedHeader(ctx context.Context, ph *ProposedHeader) error

	// PubKey returns the public key of the signer.
	PubKey() kcrypto.PubKey
}

var _ Signer = PassthroughSigner{}

// PassthroughSigner generates signatures directly
// with the given low-level signer and scheme.
type PassthroughSigner struct {
	Signer          kcrypto.Signer
	SignatureScheme SignatureScheme
}

func (s PassthroughSigner) Prevote(ctx context.Context, vt VoteTarget) (
	signContent, signature []byte, err error,
) {
	signContent, err = PrevoteSignBytes(vt, s.SignatureScheme)
	if err != nil {
		return nil, nil, fmt.Errorf("PassthroughSigner.Prevote failed to generate sign bytes: %w", err)
	}

	signature, err = s.Signer.Sign(ctx, signContent)
	if err != nil {
		return nil, nil, fmt.Errorf("PassthroughSigner.Prevote failed to sign prevote bytes: %w", err)
	}

	return signContent, signature, nil
}

func (s PassthroughSigner) Precommit(ctx context.Context, vt VoteTarget) (
	signContent, signature []byte, err error,
) {
	signContent, err = PrecommitSignBytes(vt, s.SignatureScheme)
	if err != nil {
		return nil, nil, fmt.Errorf("PassthroughSigner.Precommit failed to generate sign bytes: %w", err)
	}

	signature, err = s.Signer.Sign(ctx, signContent)
	if err != nil {
		return nil, nil, fmt.Errorf("PassthroughSigner.Precommit failed to sign precommit bytes: %w", err)
	}

	return signContent, signature, nil
}

func (s PassthroughSigner) SignProposedHeader(ctx context.Context, ph *ProposedHeader) error {
	signContent, err := ProposalSignBytes(ph.Header, ph.Round, ph.Annotations, s.SignatureScheme)
	if err != nil {
		return fmt.Errorf("PassthroughSigner.SignProposedHeader failed to generate sign bytes: %w", err)
	}

	sig, err := s.Signer.Sign(ctx, signContent)
	if err != nil {
		return fmt.Errorf("PassthroughSigner.SignProposedHeader failed to sign proposal: %w", err)
	}

	ph.Signature = sig
	return nil
}

func (s PassthroughSigner) PubKey() kcrypto.PubKey {
	return s.Signer.PubKey()
}
