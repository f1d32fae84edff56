package kcryptotest

import (
	"context"
	"testing"

	"github.com/kestrel-chain/kestrel/kcrypto"
	"github.com/stretchr/testify/require"
)

// TestSignatureProofCompliance_Ed25519 exercises the behavior every
// [kcrypto.SignatureProof] implementation must provide,
// using ed25519 keys as the candidate set.
func TestSignatureProofCompliance_Ed25519(
	t *testing.T,
	s kcrypto.SignatureProofScheme,
) {
	t.Parallel()

	ctx := context.Background()

	signers := DeterministicEd25519Signers(4)

	keys := make([]kcrypto.PubKey, len(signers))
	for i, sg := range signers {
		keys[i] = sg.PubKey()
	}

	msg := []byte("common message")

	sigs := make([][]byte, len(signers))
	for i, sg := range signers {
		sig, err := sg.Sign(ctx, msg)
		require.NoError(t, err)
		sigs[i] = sig
	}

	t.Run("Message", func(t *testing.T) {
		t.Parallel()

		p, err := s.New(msg, keys[:2], "keyhash")
		require.NoError(t, err)

		require.Equal(t, msg, p.Message())
	})

	t.Run("AddSignature", func(t *testing.T) {
		t.Run("accepts a valid signature", func(t *testing.T) {
			t.Parallel()

			p, err := s.New(msg, keys[:2], "keyhash")
			require.NoError(t, err)

			require.NoError(t, p.AddSignature(sigs[0], keys[0]))
			require.True(t, p.SignatureBitSet().Test(0))
		})

		t.Run("rejects a wrong-message signature from a candidate key", func(t *testing.T) {
			t.Parallel()

			p, err := s.New(msg, keys[:2], "keyhash")
			require.NoError(t, err)

			badSig, err := signers[0].Sign(ctx, []byte("a different message"))
			require.NoError(t, err)

			require.ErrorIs(t, p.AddSignature(badSig, keys[0]), kcrypto.ErrInvalidSignature)
		})

		t.Run("rejects a key outside the candidate set", func(t *testing.T) {
			t.Parallel()

			p, err := s.New(msg, keys[:1], "keyhash")
			require.NoError(t, err)

			require.ErrorIs(t, p.AddSignature(sigs[1], keys[1]), kcrypto.ErrUnknownKey)
		})
	})

	t.Run("Matches", func(t *testing.T) {
		t.Run("false when messages differ", func(t *testing.T) {
			t.Parallel()

			p1, err := s.New([]byte("msg1"), keys[:2], "keyhash")
			require.NoError(t, err)

			p2, err := s.New([]byte("msg2"), keys[:2], "keyhash")
			require.NoError(t, err)

			require.False(t, p1.Matches(p2))
			require.False(t, p2.Matches(p1))
		})

		t.Run("false when key sets differ", func(t *testing.T) {
			t.Parallel()

			p1, err := s.New(msg, keys[:1], "h1")
			require.NoError(t, err)

			p2, err := s.New(msg, keys[1:2], "h2")
			require.NoError(t, err)

			require.False(t, p1.Matches(p2))
		})

		t.Run("true for same message and keys regardless of signatures", func(t *testing.T) {
			t.Parallel()

			p1, err := s.New(msg, keys[:2], "keyhash")
			require.NoError(t, err)
			require.NoError(t, p1.AddSignature(sigs[0], keys[0]))

			p2, err := s.New(msg, keys[:2], "keyhash")
			require.NoError(t, err)

			require.True(t, p1.Matches(p2))
			require.True(t, p2.Matches(p1))
		})
	})

	t.Run("Merge", func(t *testing.T) {
		t.Run("absorbs new signatures", func(t *testing.T) {
			t.Parallel()

			p1, err := s.New(msg, keys, "keyhash")
			require.NoError(t, err)
			require.NoError(t, p1.AddSignature(sigs[0], keys[0]))

			p2, err := s.New(msg, keys, "keyhash")
			require.NoError(t, err)
			require.NoError(t, p2.AddSignature(sigs[1], keys[1]))

			res := p1.Merge(p2)
			require.True(t, res.AllValidSignatures)
			require.True(t, res.IncreasedSignatures)
			require.False(t, res.WasStrictSuperset)

			require.True(t, p1.SignatureBitSet().Test(0))
			require.True(t, p1.SignatureBitSet().Test(1))
		})

		t.Run("reports strict superset", func(t *testing.T) {
			t.Parallel()

			p1, err := s.New(msg, keys, "keyhash")
			require.NoError(t, err)
			require.NoError(t, p1.AddSignature(sigs[0], keys[0]))

			p2, err := s.New(msg, keys, "keyhash")
			require.NoError(t, err)
			require.NoError(t, p2.AddSignature(sigs[0], keys[0]))
			require.NoError(t, p2.AddSignature(sigs[1], keys[1]))

			res := p1.Merge(p2)
			require.True(t, res.AllValidSignatures)
			require.True(t, res.IncreasedSignatures)
			require.True(t, res.WasStrictSuperset)
		})

		t.Run("mismatched proofs add nothing", func(t *testing.T) {
			t.Parallel()

			p1, err := s.New(msg, keys, "keyhash")
			require.NoError(t, err)

			p2, err := s.New([]byte("other message"), keys, "keyhash")
			require.NoError(t, err)

			otherSig, err := signers[0].Sign(ctx, []byte("other message"))
			require.NoError(t, err)
			require.NoError(t, p2.AddSignature(otherSig, keys[0]))

			res := p1.Merge(p2)
			require.False(t, res.AllValidSignatures)
			require.False(t, res.IncreasedSignatures)
			require.True(t, p1.SignatureBitSet().None())
		})
	})

	t.Run("MergeSparse", func(t *testing.T) {
		t.Run("round trips through AsSparse", func(t *testing.T) {
			t.Parallel()

			p1, err := s.New(msg, keys, "keyhash")
			require.NoError(t, err)
			require.NoError(t, p1.AddSignature(sigs[0], keys[0]))
			require.NoError(t, p1.AddSignature(sigs[2], keys[2]))

			p2, err := s.New(msg, keys, "keyhash")
			require.NoError(t, err)

			res := p2.MergeSparse(p1.AsSparse())
			require.True(t, res.AllValidSignatures)
			require.True(t, res.IncreasedSignatures)
			require.True(t, res.WasStrictSuperset)

			require.True(t, p2.SignatureBitSet().Test(0))
			require.False(t, p2.SignatureBitSet().Test(1))
			require.True(t, p2.SignatureBitSet().Test(2))
		})

		t.Run("rejects a different key hash", func(t *testing.T) {
			t.Parallel()

			p1, err := s.New(msg, keys, "keyhash")
			require.NoError(t, err)
			require.NoError(t, p1.AddSignature(sigs[0], keys[0]))

			p2, err := s.New(msg, keys, "otherhash")
			require.NoError(t, err)

			res := p2.MergeSparse(p1.AsSparse())
			require.False(t, res.AllValidSignatures)
			require.True(t, p2.SignatureBitSet().None())
		})
	})

	t.Run("Clone and Derive", func(t *testing.T) {
		t.Parallel()

		p, err := s.New(msg, keys, "keyhash")
		require.NoError(t, err)
		require.NoError(t, p.AddSignature(sigs[0], keys[0]))

		c := p.Clone()
		require.True(t, c.SignatureBitSet().Test(0))
		require.True(t, c.Matches(p))

		d := p.Derive()
		require.True(t, d.SignatureBitSet().None())
		require.True(t, d.Matches(p))

		// Writes to the original must not leak into the clone.
		require.NoError(t, p.AddSignature(sigs[1], keys[1]))
		require.False(t, c.SignatureBitSet().Test(1))
	})

	t.Run("HasSparseKeyID", func(t *testing.T) {
		t.Parallel()

		p, err := s.New(msg, keys, "keyhash")
		require.NoError(t, err)
		require.NoError(t, p.AddSignature(sigs[0], keys[0]))

		sparse := p.AsSparse()
		require.Len(t, sparse.Signatures, 1)

		has, valid := p.HasSparseKeyID(sparse.Signatures[0].KeyID)
		require.True(t, has)
		require.True(t, valid)
	})
}
