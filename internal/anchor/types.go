package anchor

// Wire paths of the control-plane.
const (
	PathAnchor      = "/api/anchor"
	PathAnchorBatch = "/api/anchor/batch"
	PathVerify      = "/api/verify/"
	PathHealth      = "/health"
)

// AnchorRequest is the body of POST /api/anchor.
type AnchorRequest struct {
	UserDID  string `json:"userDID"`
	DataHash string `json:"dataHash"`
}

// AnchorResponse is the 201 body of POST /api/anchor.
type AnchorResponse struct {
	Success     bool   `json:"success"`
	AssetID     string `json:"assetId"`
	TxID        string `json:"txId"`
	BlockHeight int64  `json:"blockHeight,omitempty"`
}

// BatchItem is one element of a batch anchor request. ID is optional; the
// control-plane generates one when it is empty.
type BatchItem struct {
	ID       string `json:"id,omitempty"`
	UserDID  string `json:"userDID"`
	DataHash string `json:"dataHash"`
}

// BatchRequest is the body of POST /api/anchor/batch.
type BatchRequest struct {
	Assets []BatchItem `json:"assets"`
}

// BatchResultItem names the asset created (or already present) for the
// batch item at the same position.
type BatchResultItem struct {
	AssetID string `json:"assetId"`
}

// BatchResponse is the 201 body of POST /api/anchor/batch.
type BatchResponse struct {
	Success bool              `json:"success"`
	TxID    string            `json:"txId"`
	Results []BatchResultItem `json:"results"`
}

// Asset is the ledger record returned by GET /api/verify/{assetId}.
type Asset struct {
	AssetID  string `json:"assetId"`
	UserDID  string `json:"userDID"`
	DataHash string `json:"dataHash"`
	// Timestamp is the ledger commit time in unix seconds.
	Timestamp int64 `json:"timestamp"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// ErrorResponse is the body of every non-2xx control-plane response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// AnchorResult is returned by Client.AnchorOne.
type AnchorResult struct {
	AssetID     string
	TxID        string
	BlockHeight int64
}

// BatchResult is returned by Client.AnchorBatch. AssetIDs is positionally
// aligned with the request items.
type BatchResult struct {
	TxID     string
	AssetIDs []string
}

// Verification is returned by Client.Verify.
type Verification struct {
	// Found is false when the ledger has no such asset.
	Found bool
	// Verified is true iff the remote hash equals the local hash.
	Verified   bool
	RemoteHash string
	Asset      Asset
}
