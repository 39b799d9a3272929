package canon

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// NormalizeIdentity returns the NFC form of an identity string such as a
// user DID, trimmed of surrounding whitespace.
//
// Payload strings are never normalized: decrypt(encrypt(v)) must return v
// exactly. Identities are different, they are compared by the ledger as
// opaque strings and two spellings of the same DID must anchor as one.
func NormalizeIdentity(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}
