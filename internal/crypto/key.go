package crypto

import (
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	"github.com/awnumar/memguard"
)

// KeySize is the AES-256 key length in bytes.
const KeySize = 32

// Key holds 32 bytes of AES key material in locked memory.
// A Key is safe for concurrent use. After Destroy every operation using it
// fails with ErrBadKey.
type Key struct {
	mu  sync.RWMutex
	buf *memguard.LockedBuffer
}

// GenerateKey returns a fresh random key as 64 lowercase hex characters.
func GenerateKey() (string, error) {
	buf := memguard.NewBufferRandom(KeySize)
	defer buf.Destroy()
	if buf.Size() != KeySize {
		return "", newError("generate key", ErrBadKey, fmt.Errorf("short random buffer"))
	}
	return hex.EncodeToString(buf.Bytes()), nil
}

// ParseKey validates a 64 hex character key and seals it.
func ParseKey(keyHex string) (*Key, error) {
	keyHex = strings.TrimSpace(keyHex)
	if len(keyHex) != KeySize*2 {
		return nil, newError("parse key", ErrBadKey,
			fmt.Errorf("want %d hex chars, got %d", KeySize*2, len(keyHex)))
	}
	raw, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, newError("parse key", ErrBadKey, err)
	}
	// NewBufferFromBytes wipes raw.
	buf := memguard.NewBufferFromBytes(raw)
	buf.Freeze()
	return &Key{buf: buf}, nil
}

// Destroy wipes the key material. Safe to call more than once.
func (k *Key) Destroy() {
	if k == nil {
		return
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.buf != nil {
		k.buf.Destroy()
		k.buf = nil
	}
}

// Alive reports whether the key can still be used.
func (k *Key) Alive() bool {
	if k == nil {
		return false
	}
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.buf != nil && k.buf.IsAlive()
}

// use runs fn with the raw key bytes. fn must not retain the slice.
func (k *Key) use(op string, fn func(raw []byte) error) error {
	if k == nil {
		return newError(op, ErrBadKey, fmt.Errorf("nil key"))
	}
	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.buf == nil || !k.buf.IsAlive() {
		return newError(op, ErrBadKey, fmt.Errorf("key destroyed"))
	}
	return fn(k.buf.Bytes())
}
