package ksconsensus

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/kestrel-chain/kestrel/kcrypto"
	"golang.org/x/crypto/blake2b"
)

// Blake2bHashScheme is the standard [HashScheme],
// hashing a line-oriented rendering of each input with blake2b-256.
// The rendering is deliberately human-readable so that a hash mismatch
// can be debugged by comparing the pre-hash content.
type Blake2bHashScheme struct{}

var _ HashScheme = Blake2bHashScheme{}

func (Blake2bHashScheme) Header(h Header) ([]byte, error) {
	hasher, err := blake2b.New(32, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create new blake2b hasher: %w", err)
	}

	var buf bytes.Buffer
	for i, v := range h.ValidatorSet.Validators {
		if i > 0 {
			buf.WriteByte(',')
		}
		fmt.Fprintf(&buf, "%x/%d", v.PubKey.PubKeyBytes(), v.Power)
	}
	valData := buf.String()

	buf.Reset()
	for i, v := range h.NextValidatorSet.Validators {
		if i > 0 {
			buf.WriteByte(',')
		}
		fmt.Fprintf(&buf, "%x/%d", v.PubKey.PubKeyBytes(), v.Power)
	}
	nextValData := buf.String()

	// The QC signatures arrive in canonical key ID order from AsSparse,
	// so they can be rendered directly.
	buf.Reset()
	for i, sig := range h.PrevCommitQC.Signatures {
		if i > 0 {
			buf.WriteString(", ")
		}
		fmt.Fprintf(&buf, "%x:%x", sig.KeyID, sig.Sig)
	}
	qcSignatures := buf.String()

	fmt.Fprintf(hasher, `HEADER
PrevBlockHash: %x
Height: %d
PrevCommitQC:
  Round: %d
  BlockHash: %x
  PubKeyHash: %x
  Signatures: %s
Epoch: %d
Validators: %s
NextEpoch: %d
NextValidators: %s
DataID: %x
PrevAppStateHash: %x
`,
		h.PrevBlockHash,
		h.Height,
		h.PrevCommitQC.Round,
		h.PrevCommitQC.BlockHash,
		h.PrevCommitQC.PubKeyHash,
		qcSignatures,
		h.ValidatorSet.Epoch,
		valData,
		h.NextValidatorSet.Epoch,
		nextValData,
		h.DataID,
		h.PrevAppStateHash,
	)

	if h.Annotations.User != nil {
		fmt.Fprintf(hasher, "UserAnnotation: %x\n", h.Annotations.User)
	}
	if h.Annotations.Driver != nil {
		fmt.Fprintf(hasher, "DriverAnnotation: %x\n", h.Annotations.Driver)
	}

	return hasher.Sum(nil), nil
}

func (Blake2bHashScheme) PubKeys(keys []kcrypto.PubKey) ([]byte, error) {
	if len(keys) == 0 {
		panic(errors.New("BUG: HashScheme.PubKeys should never be called with zero keys"))
	}

	hasher, err := blake2b.New(32, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create new blake2b hasher: %w", err)
	}

	for i, k := range keys {
		if i > 0 {
			hasher.Write([]byte{'\n'})
		}
		fmt.Fprintf(hasher, "%x", k.PubKeyBytes())
	}

	return hasher.Sum(nil), nil
}

func (Blake2bHashScheme) VotePowers(pows []uint64) ([]byte, error) {
	if len(pows) == 0 {
		panic(errors.New("BUG: HashScheme.VotePowers should never be called with zero powers"))
	}

	hasher, err := blake2b.New(32, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create new blake2b hasher: %w", err)
	}

	for i, pow := range pows {
		if i > 0 {
			hasher.Write([]byte{','})
		}
		fmt.Fprintf(hasher, "%d", pow)
	}

	return hasher.Sum(nil), nil
}
