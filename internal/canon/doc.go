// Package canon provides the canonical JSON serialization used for every
// hash the ledger computes.
//
// Hashes anchored on the remote ledger are compared byte for byte against
// locally recomputed values, so the encoding must not depend on map
// iteration order or on which code path built the value.
//
// # Rules
//
//   - Object keys are sorted by UTF-16 code units, recursively.
//   - Arrays keep their order.
//   - Strings use the minimal JSON escape set: no HTML escaping, and
//     U+2028/U+2029 stay literal.
//   - Numbers use ECMAScript formatting (1.0 encodes as 1).
//   - NaN and infinities are rejected.
//
// Values that are not plain JSON-like Go values (structs, typed slices and
// maps) are round-tripped through encoding/json first, so struct tags decide
// the key names.
package canon
