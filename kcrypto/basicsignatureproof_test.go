package kcrypto_test

import (
	"testing"

	"github.com/kestrel-chain/kestrel/kcrypto"
	"github.com/kestrel-chain/kestrel/kcrypto/kcryptotest"
)

func TestBasicSignatureProof_Compliance(t *testing.T) {
	kcryptotest.TestSignatureProofCompliance_Ed25519(t, kcrypto.BasicSignatureProofScheme)
}
