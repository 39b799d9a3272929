// Package gateway is a development control-plane for anchoring.
//
// It serves the same HTTP contract as the production gateway and keeps the
// ledger world state in BadgerDB. A ledger asset holds only an asset id, the
// user identity, the data hash and the commit time; payloads and keys never
// reach it.
//
// Endpoints:
//
//	POST /api/anchor           anchor one hash (201)
//	POST /api/anchor/batch     anchor many hashes in one ledger transaction (201)
//	GET  /api/verify/{assetId} read an asset (200, 404)
//	GET  /health               liveness
//	GET  /metrics              Prometheus exposition
package gateway
