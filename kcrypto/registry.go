package kcrypto

import (
	"bytes"
	"fmt"
	"reflect"
)

// Type name prefixes are encoded at a fixed width.
const prefixSize = 8

// Registry maps a runtime-chosen set of public key types
// to and from a self-describing byte encoding.
type Registry struct {
	byType map[reflect.Type]string

	// For unmarshalling.
	byName map[string]NewPubKeyFunc
}

type NewPubKeyFunc func([]byte) (PubKey, error)

func (r *Registry) Register(name string, inst PubKey, newFn NewPubKeyFunc) {
	if len(name) > prefixSize {
		panic(fmt.Errorf("BUG: key type name %q exceeds %d bytes", name, prefixSize))
	}

	if r.byName == nil {
		r.byName = map[string]NewPubKeyFunc{}
	}
	r.byName[name] = newFn

	if r.byType == nil {
		r.byType = map[reflect.Type]string{}
	}
	r.byType[reflect.TypeOf(inst)] = name
}

// Marshal prefixes the key's bytes with its zero-padded type name.
func (r *Registry) Marshal(pubKey PubKey) []byte {
	var nameHeader [prefixSize]byte

	typ := reflect.TypeOf(pubKey)
	prefix, ok := r.byType[typ]
	if !ok {
		panic(fmt.Errorf(
			"BUG: attempted to Marshal a public key that was never registered (reflect type: %s, type name: %s)",
			typ, pubKey.TypeName(),
		))
	}

	copy(nameHeader[:], prefix)

	return append(nameHeader[:], pubKey.PubKeyBytes()...)
}

// Unmarshal decodes b, which must be the output of a previous [*Registry.Marshal].
//
// The returned PubKey may retain a reference to b,
// so b must not be modified afterwards.
func (r *Registry) Unmarshal(b []byte) (PubKey, error) {
	if len(b) < prefixSize {
		return nil, fmt.Errorf("cannot unmarshal public key: input shorter than %d-byte prefix", prefixSize)
	}

	prefix := bytes.TrimRight(b[:prefixSize], "\x00")

	fn := r.byName[string(prefix)]
	if fn == nil {
		return nil, fmt.Errorf("no registered public key type for prefix %q", prefix)
	}

	return fn(b[prefixSize:])
}

// Decode returns a new PubKey from an explicit type name and raw key bytes.
// Like [*Registry.Unmarshal], the result may retain a reference to b.
func (r *Registry) Decode(typeName string, b []byte) (PubKey, error) {
	fn := r.byName[typeName]
	if fn == nil {
		return nil, fmt.Errorf("no registered public key type for name %q", typeName)
	}

	return fn(b)
}
