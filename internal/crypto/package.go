package crypto

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
)

const (
	// NonceSize is the GCM nonce length in bytes.
	NonceSize = 12

	// TagSize is the GCM authentication tag length in bytes.
	TagSize = 16
)

// Package is the encrypted form of one event value. All fields are
// lowercase hex.
type Package struct {
	IV            string `json:"iv"`
	EncryptedData string `json:"encryptedData"`
	AuthTag       string `json:"authTag"`
}

// UnmarshalJSON accepts both {iv, encryptedData, authTag} and the older
// {iv, content, tag} shape. The primary names win when both are present.
func (p *Package) UnmarshalJSON(data []byte) error {
	var raw struct {
		IV            string `json:"iv"`
		EncryptedData string `json:"encryptedData"`
		AuthTag       string `json:"authTag"`
		Content       string `json:"content"`
		Tag           string `json:"tag"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	p.IV = raw.IV
	p.EncryptedData = raw.EncryptedData
	if p.EncryptedData == "" {
		p.EncryptedData = raw.Content
	}
	p.AuthTag = raw.AuthTag
	if p.AuthTag == "" {
		p.AuthTag = raw.Tag
	}
	return nil
}

// ParsePackage decodes a stored payload into a Package.
func ParsePackage(payload []byte) (Package, error) {
	var p Package
	if err := json.Unmarshal(payload, &p); err != nil {
		return Package{}, newError("parse package", ErrMalformed, err)
	}
	if err := p.Validate(); err != nil {
		return Package{}, err
	}
	return p, nil
}

// Validate checks that every field is hex of the expected length.
func (p Package) Validate() error {
	_, _, _, err := p.decode()
	return err
}

func (p Package) decode() (iv, ciphertext, tag []byte, err error) {
	if iv, err = hex.DecodeString(p.IV); err != nil || len(iv) != NonceSize {
		return nil, nil, nil, newError("decode package", ErrMalformed,
			fmt.Errorf("iv must be %d hex bytes", NonceSize))
	}
	if tag, err = hex.DecodeString(p.AuthTag); err != nil || len(tag) != TagSize {
		return nil, nil, nil, newError("decode package", ErrMalformed,
			fmt.Errorf("auth tag must be %d hex bytes", TagSize))
	}
	if ciphertext, err = hex.DecodeString(p.EncryptedData); err != nil {
		return nil, nil, nil, newError("decode package", ErrMalformed, err)
	}
	return iv, ciphertext, tag, nil
}

// NoisePackage returns a Package of random bytes shaped like a real one,
// with a ciphertext length drawn uniformly from [minLen, maxLen].
// Used for padding records; nothing can decrypt it.
func NoisePackage(minLen, maxLen int) (Package, error) {
	if minLen < 1 || maxLen < minLen {
		return Package{}, fmt.Errorf("crypto: invalid noise range [%d, %d]", minLen, maxLen)
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(maxLen-minLen+1)))
	if err != nil {
		return Package{}, fmt.Errorf("crypto: noise length: %w", err)
	}
	size := minLen + int(n.Int64())

	buf := make([]byte, NonceSize+size+TagSize)
	if _, err := rand.Read(buf); err != nil {
		return Package{}, fmt.Errorf("crypto: noise: %w", err)
	}
	return Package{
		IV:            hex.EncodeToString(buf[:NonceSize]),
		EncryptedData: hex.EncodeToString(buf[NonceSize : NonceSize+size]),
		AuthTag:       hex.EncodeToString(buf[NonceSize+size:]),
	}, nil
}
