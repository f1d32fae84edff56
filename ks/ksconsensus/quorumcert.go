package ksconsensus

import (
	"errors"
	"fmt"

	"github.com/kestrel-chain/kestrel/kcrypto"
)

// NewQuorumCertificate extracts a certificate from a full precommit proof
// for one block. The caller is responsible for having confirmed quorum;
// use [VerifyQuorumCertificate] to check an untrusted certificate.
func NewQuorumCertificate(
	height uint64, round uint32, blockHash string,
	proof kcrypto.SignatureProof,
) QuorumCertificate {
	sparse := proof.AsSparse()
	return QuorumCertificate{
		Height:     height,
		Round:      round,
		BlockHash:  blockHash,
		PubKeyHash: sparse.PubKeyHash,
		Signatures: sparse.Signatures,
	}
}

// ErrQCBelowQuorum indicates a certificate whose valid signatures
// do not reach the quorum threshold of the validator set.
var ErrQCBelowQuorum = errors.New("quorum certificate below quorum threshold")

// ErrQCEmptyBlockHash indicates a certificate claiming a nil block,
// which can never be certified.
var ErrQCEmptyBlockHash = errors.New("quorum certificate has empty block hash")

// QCPubKeyHashMismatchError indicates a certificate built
// against a different validator set than expected.
type QCPubKeyHashMismatchError struct {
	Want, Got string
}

func (e QCPubKeyHashMismatchError) Error() string {
	return fmt.Sprintf(
		"quorum certificate public key hash mismatch: expected %x, got %x",
		e.Want, e.Got,
	)
}

// VerifyQuorumCertificate checks an untrusted certificate against vals:
// the key set must match, every counted signature must verify
// as a precommit for qc's block at qc's height and round,
// and the verified weight must reach the set's quorum threshold.
func VerifyQuorumCertificate(
	qc QuorumCertificate,
	vals ValidatorSet,
	sps kcrypto.SignatureProofScheme,
	sigScheme SignatureScheme,
) error {
	if qc.BlockHash == "" {
		return ErrQCEmptyBlockHash
	}

	if qc.PubKeyHash != string(vals.PubKeyHash) {
		return QCPubKeyHashMismatchError{
			Want: string(vals.PubKeyHash),
			Got:  qc.PubKeyHash,
		}
	}

	vt := VoteTarget{
		Height:    qc.Height,
		Round:     qc.Round,
		BlockHash: qc.BlockHash,
	}
	msg, err := PrecommitSignBytes(vt, sigScheme)
	if err != nil {
		return fmt.Errorf("failed to build precommit sign bytes: %w", err)
	}

	proof, err := sps.New(msg, ValidatorsToPubKeys(vals.Validators), string(vals.PubKeyHash))
	if err != nil {
		return fmt.Errorf("failed to build signature proof: %w", err)
	}

	// Invalid signatures are simply not absorbed;
	// only the verified weight counts toward quorum.
	_ = proof.MergeSparse(kcrypto.SparseSignatureProof{
		PubKeyHash: qc.PubKeyHash,
		Signatures: qc.Signatures,
	})

	var power uint64
	bs := proof.SignatureBitSet()
	for i, ok := bs.NextSet(0); ok && int(i) < len(vals.Validators); i, ok = bs.NextSet(i + 1) {
		power += vals.Validators[int(i)].Power
	}

	if power < vals.QuorumThreshold() {
		return fmt.Errorf(
			"%w: have %d, need %d",
			ErrQCBelowQuorum, power, vals.QuorumThreshold(),
		)
	}

	return nil
}
