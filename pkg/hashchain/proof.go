package hashchain

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/mod/sumdb/tlog"
)

// ErrInvalidProof is returned when a proof does not verify or cannot be
// decoded.
var ErrInvalidProof = errors.New("invalid hash chain proof")

const proofVersion = 1

// Proof is the per-record hash chain document stored with a log record and
// inside its archived container.
type Proof struct {
	Version         int      `json:"version"`
	TreeAlgorithm   string   `json:"treeAlgorithm"`
	DigestAlgorithm string   `json:"digestAlgorithm"`
	TreeSize        int64    `json:"treeSize"`
	LeafIndex       int64    `json:"leafIndex"`
	LeafDigest      string   `json:"leafDigest"`
	AuditPath       []string `json:"auditPath"`
	ChainResult     string   `json:"chainResult"`
}

func newProof(d []byte, algorithm string, size, index int64, path tlog.RecordProof, root tlog.Hash) *Proof {
	p := &Proof{
		Version:         proofVersion,
		TreeAlgorithm:   TreeAlgorithm,
		DigestAlgorithm: algorithm,
		TreeSize:        size,
		LeafIndex:       index,
		LeafDigest:      hex.EncodeToString(d),
		AuditPath:       make([]string, 0, len(path)),
		ChainResult:     hex.EncodeToString(root[:]),
	}
	for _, h := range path {
		p.AuditPath = append(p.AuditPath, hex.EncodeToString(h[:]))
	}
	return p
}

// Marshal encodes the proof as JSON.
func (p *Proof) Marshal() (string, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("marshal proof: %w", err)
	}
	return string(b), nil
}

// ParseProof decodes a proof produced by Marshal.
func ParseProof(s string) (*Proof, error) {
	var p Proof
	if err := json.Unmarshal([]byte(s), &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProof, err)
	}
	if p.Version != proofVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrInvalidProof, p.Version)
	}
	return &p, nil
}

func (p *Proof) decode() (leaf []byte, path tlog.RecordProof, root tlog.Hash, err error) {
	if p.TreeSize <= 0 || p.LeafIndex < 0 || p.LeafIndex >= p.TreeSize {
		return nil, nil, root, fmt.Errorf("%w: leaf %d outside tree of size %d", ErrInvalidProof, p.LeafIndex, p.TreeSize)
	}
	leaf, err = hex.DecodeString(p.LeafDigest)
	if err != nil {
		return nil, nil, root, fmt.Errorf("%w: leaf digest: %v", ErrInvalidProof, err)
	}
	for i, s := range p.AuditPath {
		h, err := decodeHash(s)
		if err != nil {
			return nil, nil, root, fmt.Errorf("%w: audit path[%d]: %v", ErrInvalidProof, i, err)
		}
		path = append(path, h)
	}
	root, err = decodeHash(p.ChainResult)
	if err != nil {
		return nil, nil, root, fmt.Errorf("%w: chain result: %v", ErrInvalidProof, err)
	}
	return leaf, path, root, nil
}

func decodeHash(s string) (tlog.Hash, error) {
	var h tlog.Hash
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, err
	}
	if len(b) != tlog.HashSize {
		return h, fmt.Errorf("hash has %d bytes", len(b))
	}
	copy(h[:], b)
	return h, nil
}
