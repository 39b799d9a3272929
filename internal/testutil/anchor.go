package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/roach88/locket/internal/anchor"
)

// FakeAnchorer is an in-memory control-plane for engine and session tests.
//
// It records every batch, anchors each item under its id (generating one
// when empty) and answers Verify from what it anchored. Set Err to make the
// next calls fail; set Gate to hold AnchorBatch until the channel is closed
// or receives.
type FakeAnchorer struct {
	mu      sync.Mutex
	batches [][]anchor.BatchItem
	assets  map[string]anchor.Asset
	n       int

	// Err, when non-nil, is returned by AnchorBatch and Verify.
	Err error

	// Gate, when non-nil, blocks AnchorBatch until it can receive.
	Gate chan struct{}

	// Entered, when non-nil, receives once per AnchorBatch call before
	// Gate is consulted.
	Entered chan struct{}
}

// NewFakeAnchorer creates an empty fake.
func NewFakeAnchorer() *FakeAnchorer {
	return &FakeAnchorer{assets: make(map[string]anchor.Asset)}
}

// AnchorBatch implements the engine's Anchorer.
func (f *FakeAnchorer) AnchorBatch(ctx context.Context, items []anchor.BatchItem) (anchor.BatchResult, error) {
	if f.Entered != nil {
		f.Entered <- struct{}{}
	}
	if f.Gate != nil {
		select {
		case <-f.Gate:
		case <-ctx.Done():
			return anchor.BatchResult{}, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.batches = append(f.batches, append([]anchor.BatchItem(nil), items...))
	if f.Err != nil {
		return anchor.BatchResult{}, f.Err
	}

	f.n++
	res := anchor.BatchResult{
		TxID:     fmt.Sprintf("tx-%03d", f.n),
		AssetIDs: make([]string, len(items)),
	}
	for i, it := range items {
		id := it.ID
		if id == "" {
			id = fmt.Sprintf("asset-fake-%03d-%d", f.n, i)
		}
		if _, ok := f.assets[id]; !ok {
			f.assets[id] = anchor.Asset{AssetID: id, UserDID: it.UserDID, DataHash: it.DataHash}
		}
		res.AssetIDs[i] = id
	}
	return res, nil
}

// Verify implements the session's verifier.
func (f *FakeAnchorer) Verify(ctx context.Context, assetID, localHash string) (anchor.Verification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return anchor.Verification{}, f.Err
	}
	a, ok := f.assets[assetID]
	if !ok {
		return anchor.Verification{}, nil
	}
	return anchor.Verification{
		Found:      true,
		Verified:   a.DataHash == localHash,
		RemoteHash: a.DataHash,
		Asset:      a,
	}, nil
}

// SetErr replaces Err under the lock.
func (f *FakeAnchorer) SetErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Err = err
}

// Batches returns a copy of every submitted batch.
func (f *FakeAnchorer) Batches() [][]anchor.BatchItem {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]anchor.BatchItem, len(f.batches))
	copy(out, f.batches)
	return out
}

// Tamper overwrites the anchored hash of assetID.
func (f *FakeAnchorer) Tamper(assetID, hash string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a := f.assets[assetID]
	a.AssetID = assetID
	a.DataHash = hash
	f.assets[assetID] = a
}
