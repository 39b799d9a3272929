package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/roach88/locket/internal/canon"
)

// Encrypt canonicalizes v and seals it under key with a fresh nonce.
func Encrypt(v any, key *Key) (Package, error) {
	plaintext, err := canon.Marshal(v)
	if err != nil {
		return Package{}, newError("encrypt", ErrMalformed, err)
	}

	var pkg Package
	err = key.use("encrypt", func(raw []byte) error {
		gcm, err := newGCM(raw)
		if err != nil {
			return newError("encrypt", ErrBadKey, err)
		}
		nonce := make([]byte, NonceSize)
		if _, err := rand.Read(nonce); err != nil {
			return fmt.Errorf("crypto: encrypt: nonce: %w", err)
		}
		sealed := gcm.Seal(nil, nonce, plaintext, nil)
		split := len(sealed) - TagSize
		pkg = Package{
			IV:            hex.EncodeToString(nonce),
			EncryptedData: hex.EncodeToString(sealed[:split]),
			AuthTag:       hex.EncodeToString(sealed[split:]),
		}
		return nil
	})
	if err != nil {
		return Package{}, err
	}
	return pkg, nil
}

// DecryptBytes verifies and opens pkg, returning the plaintext.
func DecryptBytes(pkg Package, key *Key) ([]byte, error) {
	iv, ciphertext, tag, err := pkg.decode()
	if err != nil {
		return nil, err
	}

	var plaintext []byte
	err = key.use("decrypt", func(raw []byte) error {
		gcm, err := newGCM(raw)
		if err != nil {
			return newError("decrypt", ErrBadKey, err)
		}
		sealed := make([]byte, 0, len(ciphertext)+len(tag))
		sealed = append(append(sealed, ciphertext...), tag...)
		plaintext, err = gcm.Open(nil, iv, sealed, nil)
		if err != nil {
			return newError("decrypt", ErrAuthFailed, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return plaintext, nil
}

// Decrypt opens pkg and parses the plaintext as JSON, numbers as
// json.Number. Plaintext that is not JSON is returned as a string.
func Decrypt(pkg Package, key *Key) (any, error) {
	plaintext, err := DecryptBytes(pkg, key)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(plaintext))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil || dec.More() {
		return string(plaintext), nil
	}
	return v, nil
}

// IntegrityHash returns "0x" + hex(SHA-256(canonical(pkg))).
func IntegrityHash(pkg Package) (string, error) {
	b, err := canon.Marshal(pkg)
	if err != nil {
		return "", newError("hash", ErrMalformed, err)
	}
	sum := sha256.Sum256(b)
	return "0x" + hex.EncodeToString(sum[:]), nil
}

// EncryptHex is Encrypt for callers holding only the hex key.
func EncryptHex(v any, keyHex string) (Package, error) {
	key, err := ParseKey(keyHex)
	if err != nil {
		return Package{}, err
	}
	defer key.Destroy()
	return Encrypt(v, key)
}

// DecryptHex is Decrypt for callers holding only the hex key.
func DecryptHex(pkg Package, keyHex string) (any, error) {
	key, err := ParseKey(keyHex)
	if err != nil {
		return nil, err
	}
	defer key.Destroy()
	return Decrypt(pkg, key)
}

func newGCM(raw []byte) (cipher.AEAD, error) {
	if len(raw) != KeySize {
		return nil, fmt.Errorf("key must be %d bytes, got %d", KeySize, len(raw))
	}
	block, err := aes.NewCipher(raw)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
