package kcryptotest

import (
	"bytes"
	"crypto/ed25519"
	"fmt"
	"sync"

	"github.com/kestrel-chain/kestrel/kcrypto"
)

// DeterministicEd25519Signers returns n signers derived from fixed seeds.
//
// Deterministic keys keep key material stable across test runs,
// so logged key bytes don't change from run to run,
// and the cache makes repeated calls effectively free.
func DeterministicEd25519Signers(n int) []kcrypto.Ed25519Signer {
	res, got := loadCachedEd25519Signers(n)
	if got >= len(res) {
		return res
	}

	muEd.Lock()
	defer muEd.Unlock()

	// Another goroutine may have filled the cache while we waited for the lock.
	haveGenerated := len(generatedEd25519)
	if haveGenerated < len(res) {
		newPrivs := make([]ed25519.PrivateKey, len(res)-haveGenerated)
		generatedEd25519 = append(generatedEd25519, newPrivs...)

		var wg sync.WaitGroup
		for i := haveGenerated; i < len(generatedEd25519); i++ {
			wg.Add(1)
			go func(idx int) {
				defer wg.Done()
				seed := fmt.Sprintf("%032d", idx) // Seeds are 32 bytes.
				generatedEd25519[idx] = ed25519.NewKeyFromSeed([]byte(seed))
			}(i)
		}
		wg.Wait()
	}

	for i := got; i < len(res); i++ {
		res[i] = kcrypto.NewEd25519Signer(bytes.Clone(generatedEd25519[i]))
	}

	return res
}

func loadCachedEd25519Signers(n int) ([]kcrypto.Ed25519Signer, int) {
	res := make([]kcrypto.Ed25519Signer, n)

	muEd.RLock()
	defer muEd.RUnlock()

	got := 0
	for i := range res {
		if i >= len(generatedEd25519) {
			break
		}

		res[i] = kcrypto.NewEd25519Signer(bytes.Clone(generatedEd25519[i]))
		got++
	}

	return res, got
}

var (
	muEd             sync.RWMutex
	generatedEd25519 []ed25519.PrivateKey
)
