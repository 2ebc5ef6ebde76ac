package token

import (
	"crypto/ed25519"

	jose "github.com/go-jose/go-jose/v4"
)

// EmptyJWKS is a key set with no keys. It marshals as {"keys":[]}.
func EmptyJWKS() jose.JSONWebKeySet {
	return jose.JSONWebKeySet{Keys: []jose.JSONWebKey{}}
}

// PublicJWKS returns the verification keys that may be handed to
// independent verifiers. Symmetric codecs publish an empty set since their
// key also grants issuance.
func (c *Codec) PublicJWKS() jose.JSONWebKeySet {
	set := EmptyJWKS()
	pub, ok := c.verifyKey.(ed25519.PublicKey)
	if !ok {
		return set
	}
	set.Keys = append(set.Keys, jose.JSONWebKey{
		Key:       pub,
		KeyID:     c.cfg.KeyID,
		Algorithm: string(jose.EdDSA),
		Use:       "sig",
	})
	return set
}
