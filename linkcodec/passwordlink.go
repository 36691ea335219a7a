package linkcodec

import (
	"bytes"

	"cryptdrive.io/core"
	"cryptdrive.io/errors"
)

// PBKDF2 rounds used to derive a password-link's AES key and MAC key from
// the account password and a per-link salt (§6.2).
const passwordLinkIterations = 100000

const (
	saltLen = 32
	macLen  = 32
)

// Algorithm selects the byte order in which the legacy client fed the
// derived key and the ciphertext into the HMAC when building a
// password-protected link. Algorithm 1 is the corrected order; algorithm 2
// reproduces a legacy client bug that swapped the two arguments, and is
// kept solely so old `#P!` links other clients minted still decrypt.
type Algorithm byte

const (
	AlgorithmHashThenKey Algorithm = 1
	AlgorithmKeyThenHash Algorithm = 2
)

// EncryptLink builds a password-protected `#P!` blob: the header
// (algorithm, isFile, public handle), a 32-byte salt, the file/folder key
// encrypted under a PBKDF2-derived AES key, and a MAC over the header and
// ciphertext.
func EncryptLink(crypto core.Crypto, algorithm Algorithm, isFile bool, ph, key, password, salt []byte) ([]byte, error) {
	const op = "linkcodec.EncryptLink"
	if len(salt) != saltLen {
		return nil, errors.E(op, errors.Invalid, errors.Str("salt must be 32 bytes"))
	}

	derived := crypto.PBKDF2HMACSHA512(password, salt, passwordLinkIterations, 64)
	aesKey, macKey := derived[:32], derived[32:64]

	encKey, err := crypto.AESECBEncrypt(aesKey[:keyWidth(len(key))], key)
	if err != nil {
		return nil, errors.E(op, err)
	}

	header := buildHeader(algorithm, isFile, ph)
	mac, err := linkMAC(crypto, algorithm, macKey, header, encKey)
	if err != nil {
		return nil, errors.E(op, err)
	}

	blob := make([]byte, 0, len(header)+saltLen+len(encKey)+macLen)
	blob = append(blob, header...)
	blob = append(blob, salt...)
	blob = append(blob, encKey...)
	blob = append(blob, mac...)
	return blob, nil
}

// DecryptLink is the inverse of EncryptLink: it recovers the plaintext
// public handle and file/folder key from a `#P!` blob and the account
// password, after verifying the embedded MAC.
func DecryptLink(crypto core.Crypto, blob, password []byte) (ph []byte, key []byte, isFile bool, err error) {
	const op = "linkcodec.DecryptLink"
	if len(blob) < 2+6+saltLen+macLen {
		return nil, nil, false, errors.E(op, errors.Invalid, errors.Str("blob too short"))
	}

	algorithm := Algorithm(blob[0])
	isFile = blob[1] != 0
	ph = blob[2:8]
	salt := blob[8 : 8+saltLen]
	encKey := blob[8+saltLen : len(blob)-macLen]
	mac := blob[len(blob)-macLen:]

	derived := crypto.PBKDF2HMACSHA512(password, salt, passwordLinkIterations, 64)
	aesKey, macKey := derived[:32], derived[32:64]

	header := blob[:8]
	wantMAC, err := linkMAC(crypto, algorithm, macKey, header, encKey)
	if err != nil {
		return nil, nil, false, errors.E(op, err)
	}
	if !bytes.Equal(mac, wantMAC) {
		return nil, nil, false, errors.E(op, errors.Permission, errors.Str("password-link MAC mismatch"))
	}

	key, err = crypto.AESECBDecrypt(aesKey[:keyWidth(len(encKey))], encKey)
	if err != nil {
		return nil, nil, false, errors.E(op, err)
	}
	return ph, key, isFile, nil
}

func buildHeader(algorithm Algorithm, isFile bool, ph []byte) []byte {
	h := make([]byte, 8)
	h[0] = byte(algorithm)
	if isFile {
		h[1] = 1
	}
	copy(h[2:8], ph)
	return h
}

func keyWidth(n int) int {
	if n <= 16 {
		return 16
	}
	return 32
}

// linkMAC computes the integrity tag over header||encKey, keyed by macKey.
// Algorithm 2 reproduces the legacy client's swapped HMAC(key=data,
// data=key) call.
func linkMAC(crypto core.Crypto, algorithm Algorithm, macKey, header, encKey []byte) ([]byte, error) {
	data := append(append([]byte(nil), header...), encKey...)
	switch algorithm {
	case AlgorithmHashThenKey:
		return crypto.HMACSHA256(macKey, data), nil
	case AlgorithmKeyThenHash:
		return crypto.HMACSHA256(data, macKey), nil
	}
	return nil, errors.Str("unknown password-link algorithm")
}
