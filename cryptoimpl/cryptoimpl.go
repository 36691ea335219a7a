// Package cryptoimpl provides the default implementation of the core.Crypto
// capability (§1: "Cryptographic primitives ... consumed via a Crypto
// capability"). The engine itself never imports crypto packages directly;
// every subsystem talks to core.Crypto so an embedder can substitute a
// hardware-backed or FIPS-validated implementation. This package is the
// reference implementation used by tests and by embedders with no such
// requirement.
//
// Grounded on the teacher's factotum package (now deleted, §DESIGN.md) for
// the general shape of "one package owns all crypto primitive calls", but
// implements this spec's algorithm set (AES-ECB/CBC/CTR, RSA, Ed25519,
// X25519, SHA-256/512, PBKDF2, HMAC) rather than factotum's ECDSA P-256.
package cryptoimpl

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/x509"
	"io"
	"math/big"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/ed25519"
	"golang.org/x/crypto/pbkdf2"

	"cryptdrive.io/core"
	"cryptdrive.io/errors"
)

// Default is the stdlib/x-crypto backed implementation of core.Crypto.
type Default struct{}

var _ core.Crypto = Default{}

// New returns the default Crypto capability implementation.
func New() core.Crypto { return Default{} }

func (Default) AESECBEncrypt(key, plaintext []byte) ([]byte, error) {
	const op = "cryptoimpl.AESECBEncrypt"
	if len(plaintext)%aes.BlockSize != 0 {
		return nil, errors.E(op, errors.Invalid, errors.Str("plaintext not block-aligned"))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.E(op, errors.CryptoKind, err)
	}
	out := make([]byte, len(plaintext))
	for i := 0; i < len(plaintext); i += aes.BlockSize {
		block.Encrypt(out[i:i+aes.BlockSize], plaintext[i:i+aes.BlockSize])
	}
	return out, nil
}

func (Default) AESECBDecrypt(key, ciphertext []byte) ([]byte, error) {
	const op = "cryptoimpl.AESECBDecrypt"
	if len(ciphertext)%aes.BlockSize != 0 {
		return nil, errors.E(op, errors.Invalid, errors.Str("ciphertext not block-aligned"))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.E(op, errors.CryptoKind, err)
	}
	out := make([]byte, len(ciphertext))
	for i := 0; i < len(ciphertext); i += aes.BlockSize {
		block.Decrypt(out[i:i+aes.BlockSize], ciphertext[i:i+aes.BlockSize])
	}
	return out, nil
}

func (Default) AESCBCEncrypt(key, iv, plaintext []byte) ([]byte, error) {
	const op = "cryptoimpl.AESCBCEncrypt"
	if len(plaintext)%aes.BlockSize != 0 {
		return nil, errors.E(op, errors.Invalid, errors.Str("plaintext not block-aligned"))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.E(op, errors.CryptoKind, err)
	}
	out := make([]byte, len(plaintext))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, plaintext)
	return out, nil
}

func (Default) AESCBCDecrypt(key, iv, ciphertext []byte) ([]byte, error) {
	const op = "cryptoimpl.AESCBCDecrypt"
	if len(ciphertext)%aes.BlockSize != 0 {
		return nil, errors.E(op, errors.Invalid, errors.Str("ciphertext not block-aligned"))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.E(op, errors.CryptoKind, err)
	}
	out := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, ciphertext)
	return out, nil
}

// AESCTR both encrypts and decrypts (CTR mode is symmetric), used by the
// transfer engine for chunked upload/download bodies (§4.5.2).
func (Default) AESCTR(key, iv []byte, data []byte) ([]byte, error) {
	const op = "cryptoimpl.AESCTR"
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.E(op, errors.CryptoKind, err)
	}
	out := make([]byte, len(data))
	cipher.NewCTR(block, iv).XORKeyStream(out, data)
	return out, nil
}

func (Default) RSADecrypt(privateKeyDER []byte, ciphertext []byte) ([]byte, error) {
	const op = "cryptoimpl.RSADecrypt"
	priv, err := x509.ParsePKCS1PrivateKey(privateKeyDER)
	if err != nil {
		return nil, errors.E(op, errors.CryptoKind, err)
	}
	// RSA node keys are unpadded (raw modular exponentiation), matching
	// §4.4.1's "RSA ciphertext" framing rather than PKCS1v15/OAEP, which
	// the wire format does not carry padding overhead for.
	out, err := rsaRawDecrypt(priv, ciphertext)
	if err != nil {
		return nil, errors.E(op, errors.CryptoKind, err)
	}
	return out, nil
}

func (Default) RSAEncrypt(publicKeyDER []byte, plaintext []byte) ([]byte, error) {
	const op = "cryptoimpl.RSAEncrypt"
	pub, err := x509.ParsePKCS1PublicKey(publicKeyDER)
	if err != nil {
		return nil, errors.E(op, errors.CryptoKind, err)
	}
	out, err := rsaRawEncrypt(pub, plaintext)
	if err != nil {
		return nil, errors.E(op, errors.CryptoKind, err)
	}
	return out, nil
}

func (Default) Ed25519Sign(privateKey, message []byte) ([]byte, error) {
	const op = "cryptoimpl.Ed25519Sign"
	if len(privateKey) != ed25519.PrivateKeySize {
		return nil, errors.E(op, errors.Invalid, errors.Str("bad Ed25519 private key size"))
	}
	return ed25519.Sign(privateKey, message), nil
}

func (Default) Ed25519Verify(publicKey, message, sig []byte) bool {
	if len(publicKey) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(publicKey, message, sig)
}

func (Default) X25519(privateKey, peerPublicKey []byte) ([]byte, error) {
	const op = "cryptoimpl.X25519"
	out, err := curve25519.X25519(privateKey, peerPublicKey)
	if err != nil {
		return nil, errors.E(op, errors.CryptoKind, err)
	}
	return out, nil
}

func (Default) SHA256(data []byte) [32]byte { return sha256.Sum256(data) }
func (Default) SHA512(data []byte) [64]byte { return sha512.Sum512(data) }

func (Default) HMACSHA256(key, data []byte) []byte {
	m := hmac.New(sha256.New, key)
	m.Write(data)
	return m.Sum(nil)
}

// PBKDF2HMACSHA512 implements §4.8's v2 password key derivation
// (100000 iterations, SHA-512) and §6.2's password-link MAC-key derivation.
func (Default) PBKDF2HMACSHA512(password, salt []byte, iterations, keyLen int) []byte {
	return pbkdf2.Key(password, salt, iterations, keyLen, sha512.New)
}

func (Default) RandomBytes(n int) []byte {
	b := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		panic(err) // crypto/rand failing is unrecoverable
	}
	return b
}

// rsaRawDecrypt performs unpadded RSA decryption: m = c^d mod n.
func rsaRawDecrypt(priv *rsa.PrivateKey, ciphertext []byte) ([]byte, error) {
	c := new(big.Int).SetBytes(ciphertext)
	if c.Cmp(priv.N) >= 0 {
		return nil, errors.Str("ciphertext representative out of range")
	}
	m := new(big.Int).Exp(c, priv.D, priv.N)
	return m.Bytes(), nil
}

// rsaRawEncrypt performs unpadded RSA encryption: c = m^e mod n.
func rsaRawEncrypt(pub *rsa.PublicKey, plaintext []byte) ([]byte, error) {
	m := new(big.Int).SetBytes(plaintext)
	if m.Cmp(pub.N) >= 0 {
		return nil, errors.Str("message representative out of range")
	}
	e := big.NewInt(int64(pub.E))
	c := new(big.Int).Exp(m, e, pub.N)
	return c.Bytes(), nil
}
