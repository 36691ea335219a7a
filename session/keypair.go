package session

import (
	"bytes"
	stded25519 "crypto/ed25519"
	"crypto/x509"

	"golang.org/x/crypto/curve25519"

	"cryptdrive.io/core"
	"cryptdrive.io/errors"
)

// KeyPair holds the three asymmetric keypairs an account carries: RSA
// (node-key wrapping), Ed25519 (signing) and X25519/Cu25519 (key
// agreement).
type KeyPair struct {
	RSAPub, RSAPriv         []byte
	Ed25519Pub, Ed25519Priv []byte
	X25519Pub, X25519Priv   []byte

	// Signatures published alongside the public keys: the Cu25519 key
	// signed by the Ed25519 key, and the RSA key signed by the Ed25519
	// key (§4.8).
	Cu25519Sig []byte
	RSASig     []byte
}

// present reports which of the three keypairs are non-empty.
func (k *KeyPair) present() (rsa, ed, x bool) {
	return len(k.RSAPub) > 0 && len(k.RSAPriv) > 0,
		len(k.Ed25519Pub) > 0 && len(k.Ed25519Priv) > 0,
		len(k.X25519Pub) > 0 && len(k.X25519Priv) > 0
}

// ReconcileKeyPair implements §4.8's first-login keypair policy: absent
// entirely, generate fresh; fully present, cross-verify and keep; any
// other combination is treated as compromised mixed state and cleared so
// the caller regenerates from scratch. Key generation always draws from
// crypto/rand, never the injected core.PRNG, which is unsuitable for key
// material.
func ReconcileKeyPair(crypto core.Crypto, k *KeyPair) (*KeyPair, error) {
	const op = "session.ReconcileKeyPair"
	rsaOK, edOK, xOK := k.present()

	switch {
	case !rsaOK && !edOK && !xOK:
		return generateKeyPair(crypto)
	case rsaOK && edOK && xOK:
		if err := verifyKeyPair(crypto, k); err != nil {
			return generateKeyPair(crypto)
		}
		return k, nil
	default:
		return &KeyPair{}, errors.E(op, errors.Invalid, errors.Str("partial keypair discarded as mixed state"))
	}
}

// verifyKeyPair implements the "presence of all" branch of §4.8: each
// private key must reproduce its claimed public key, the Cu25519 public
// key must carry a valid Ed25519 signature, and likewise for the RSA
// public key.
func verifyKeyPair(crypto core.Crypto, k *KeyPair) error {
	const op = "session.verifyKeyPair"

	if len(k.Ed25519Priv) != stded25519.PrivateKeySize {
		return errors.E(op, errors.Permission, errors.Str("malformed Ed25519 private key"))
	}
	if !bytes.Equal(stded25519.PrivateKey(k.Ed25519Priv).Public().(stded25519.PublicKey), k.Ed25519Pub) {
		return errors.E(op, errors.Permission, errors.Str("Ed25519 keypair does not cross-verify"))
	}

	recomputedX, err := curve25519.X25519(k.X25519Priv, curve25519.Basepoint)
	if err != nil {
		return errors.E(op, err)
	}
	if !bytes.Equal(recomputedX, k.X25519Pub) {
		return errors.E(op, errors.Permission, errors.Str("X25519 keypair does not cross-verify"))
	}

	rsaPriv, err := x509.ParsePKCS1PrivateKey(k.RSAPriv)
	if err != nil {
		return errors.E(op, errors.Permission, err)
	}
	if !bytes.Equal(x509.MarshalPKCS1PublicKey(&rsaPriv.PublicKey), k.RSAPub) {
		return errors.E(op, errors.Permission, errors.Str("RSA keypair does not cross-verify"))
	}

	if !crypto.Ed25519Verify(k.Ed25519Pub, k.X25519Pub, k.Cu25519Sig) {
		return errors.E(op, errors.Permission, errors.Str("Cu25519 signature does not verify"))
	}
	if !crypto.Ed25519Verify(k.Ed25519Pub, k.RSAPub, k.RSASig) {
		return errors.E(op, errors.Permission, errors.Str("RSA signature does not verify"))
	}
	return nil
}

func generateKeyPair(crypto core.Crypto) (*KeyPair, error) {
	const op = "session.generateKeyPair"

	edPub, edPriv, err := generateEd25519()
	if err != nil {
		return nil, errors.E(op, err)
	}
	xPub, xPriv, err := generateX25519()
	if err != nil {
		return nil, errors.E(op, err)
	}
	rsaPub, rsaPriv, err := generateRSA()
	if err != nil {
		return nil, errors.E(op, err)
	}

	cuSig, err := crypto.Ed25519Sign(edPriv, xPub)
	if err != nil {
		return nil, errors.E(op, err)
	}
	rsaSig, err := crypto.Ed25519Sign(edPriv, rsaPub)
	if err != nil {
		return nil, errors.E(op, err)
	}

	return &KeyPair{
		RSAPub: rsaPub, RSAPriv: rsaPriv,
		Ed25519Pub: edPub, Ed25519Priv: edPriv,
		X25519Pub: xPub, X25519Priv: xPriv,
		Cu25519Sig: cuSig,
		RSASig:     rsaSig,
	}, nil
}
