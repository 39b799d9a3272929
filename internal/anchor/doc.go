// Package anchor is the HTTP client of the anchoring control-plane, plus
// the wire types shared with the control-plane server in package gateway.
//
// Only integrity hashes and an identity string ever cross the wire. The
// client performs no retries: the sync engine retries whole batches on its
// next cycle, and stable asset ids make that safe.
package anchor
