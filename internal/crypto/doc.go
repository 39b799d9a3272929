// Package crypto implements the encryption and integrity layer of the ledger.
//
// Values are canonicalized (see package canon), sealed with AES-256-GCM under
// a fresh 96-bit nonce, and stored as a Package of hex strings. The integrity
// hash anchored remotely is SHA-256 over the canonical form of the Package,
// so it covers ciphertext only and reveals nothing about the content.
//
// Key material lives in a memguard LockedBuffer for the lifetime of a Key
// and is wiped by Key.Destroy.
package crypto
