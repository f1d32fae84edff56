package ksconsensus

import (
	"fmt"
	"io"
)

// ChainSignatureScheme is the standard [SignatureScheme].
// Every piece of signing content starts with the chain ID,
// so validator keys reused on another chain cannot produce
// signatures that replay here.
//
// The content is line-oriented and human-readable,
// which makes unexpected signing input easy to inspect.
type ChainSignatureScheme struct {
	ChainID string
}

var _ SignatureScheme = ChainSignatureScheme{}

func (s ChainSignatureScheme) WriteProposalSigningContent(
	w io.Writer, h Header, round uint32, phAnnotations Annotations,
) (int, error) {
	n, err := fmt.Fprintf(w, `PROPOSAL:
ChainID=%s
Height=%d
Round=%d
PrevBlockHash=%x
PrevAppStateHash=%x
DataID=%x
`, s.ChainID, h.Height, round, h.PrevBlockHash, h.PrevAppStateHash, h.DataID)
	if err != nil {
		return n, err
	}

	if phAnnotations.User != nil {
		m, err := fmt.Fprintf(w, "UserAnnotation=%x\n", phAnnotations.User)
		n += m
		if err != nil {
			return n, err
		}
	}

	if phAnnotations.Driver != nil {
		m, err := fmt.Fprintf(w, "DriverAnnotation=%x\n", phAnnotations.Driver)
		n += m
		if err != nil {
			return n, err
		}
	}

	return n, nil
}

func (s ChainSignatureScheme) WritePrevoteSigningContent(w io.Writer, vt VoteTarget) (int, error) {
	if vt.BlockHash == "" {
		return fmt.Fprintf(w, `NIL PREVOTE:
ChainID=%s
Height=%d
Round=%d
`, s.ChainID, vt.Height, vt.Round)
	}

	return fmt.Fprintf(w, `PREVOTE:
ChainID=%s
Height=%d
Round=%d
BlockHash=%x
`, s.ChainID, vt.Height, vt.Round, vt.BlockHash)
}

func (s ChainSignatureScheme) WritePrecommitSigningContent(w io.Writer, vt VoteTarget) (int, error) {
	if vt.BlockHash == "" {
		return fmt.Fprintf(w, `NIL PRECOMMIT:
ChainID=%s
Height=%d
Round=%d
`, s.ChainID, vt.Height, vt.Round)
	}

	return fmt.Fprintf(w, `PRECOMMIT:
ChainID=%s
Height=%d
Round=%d
BlockHash=%x
`, s.ChainID, vt.Height, vt.Round, vt.BlockHash)
}
