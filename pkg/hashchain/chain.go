// Package hashchain binds an ordered batch of message digests into one chain
// result that a single timestamp token can cover, and produces a proof per
// digest that verifies without the other members of the batch.
//
// The chain is the RFC 6962 Merkle tree used by Go's checksum database:
// leaves are SHA-256(0x00 || d), interior nodes SHA-256(0x01 || left || right).
// Leaf position is part of every audit path, so reordering the batch changes
// the result.
package hashchain

import (
	"errors"
	"fmt"

	"golang.org/x/mod/sumdb/tlog"

	"github.com/secgw/messagelog/pkg/digest"
)

// TreeAlgorithm names the tree construction recorded in every proof.
const TreeAlgorithm = "RFC6962-SHA-256"

// ErrEmptyBatch is returned when Build is called without digests.
var ErrEmptyBatch = errors.New("hash chain needs at least one digest")

// Chain is the outcome of building a batch.
type Chain struct {
	// Result is the tree hash over all digests; it is what gets timestamped.
	Result []byte
	// Proofs holds one proof per input digest, in input order.
	Proofs []*Proof
}

// Build constructs the chain over digests, which keep their order. algorithm
// names the hash that produced the digests and is recorded in the proofs.
func Build(digests [][]byte, algorithm string) (*Chain, error) {
	if len(digests) == 0 {
		return nil, ErrEmptyBatch
	}
	if _, err := digest.Parse(algorithm); err != nil {
		return nil, err
	}

	stored := make(map[int64]tlog.Hash)
	reader := hashReader(stored)
	for n, d := range digests {
		hashes, err := tlog.StoredHashes(int64(n), d, reader)
		if err != nil {
			return nil, fmt.Errorf("store leaf %d: %w", n, err)
		}
		base := tlog.StoredHashIndex(0, int64(n))
		for i, h := range hashes {
			stored[base+int64(i)] = h
		}
	}

	size := int64(len(digests))
	root, err := tlog.TreeHash(size, reader)
	if err != nil {
		return nil, fmt.Errorf("compute tree hash: %w", err)
	}

	chain := &Chain{
		Result: append([]byte(nil), root[:]...),
		Proofs: make([]*Proof, len(digests)),
	}
	for i, d := range digests {
		path, err := tlog.ProveRecord(size, int64(i), reader)
		if err != nil {
			return nil, fmt.Errorf("prove leaf %d: %w", i, err)
		}
		chain.Proofs[i] = newProof(d, digest.Canonical(algorithm), size, int64(i), path, root)
	}
	return chain, nil
}

// Verify checks that d contributed to chainResult according to proof.
func Verify(d []byte, proof *Proof, chainResult []byte) error {
	if proof == nil {
		return fmt.Errorf("%w: missing proof", ErrInvalidProof)
	}
	if proof.TreeAlgorithm != TreeAlgorithm {
		return fmt.Errorf("%w: unsupported tree algorithm %q", ErrInvalidProof, proof.TreeAlgorithm)
	}
	if len(chainResult) != tlog.HashSize {
		return fmt.Errorf("%w: chain result has %d bytes", ErrInvalidProof, len(chainResult))
	}
	leaf, path, root, err := proof.decode()
	if err != nil {
		return err
	}
	if string(leaf) != string(d) {
		return fmt.Errorf("%w: proof is for a different digest", ErrInvalidProof)
	}
	if root != toHash(chainResult) {
		return fmt.Errorf("%w: proof is for a different chain result", ErrInvalidProof)
	}
	if err := tlog.CheckRecord(path, proof.TreeSize, root, proof.LeafIndex, tlog.RecordHash(d)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidProof, err)
	}
	return nil
}

func hashReader(stored map[int64]tlog.Hash) tlog.HashReaderFunc {
	return func(indexes []int64) ([]tlog.Hash, error) {
		list := make([]tlog.Hash, 0, len(indexes))
		for _, id := range indexes {
			h, ok := stored[id]
			if !ok {
				return nil, fmt.Errorf("hash %d not stored", id)
			}
			list = append(list, h)
		}
		return list, nil
	}
}

func toHash(b []byte) tlog.Hash {
	var h tlog.Hash
	copy(h[:], b)
	return h
}
