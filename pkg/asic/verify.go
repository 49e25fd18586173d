package asic

import (
	"errors"
	"fmt"

	"github.com/secgw/messagelog/pkg/digest"
	"github.com/secgw/messagelog/pkg/hashchain"
	"github.com/secgw/messagelog/pkg/timestamp"
)

// ErrNotTimestamped is returned by Verify for a container without a
// timestamp.
var ErrNotTimestamped = errors.New("container has no timestamp")

// Verify checks that the signature digest is covered by the timestamp
// hash chain and that the token is valid over the chain result and issued
// by a trusted TSA.
func (c *Container) Verify(trust *timestamp.TrustStore) error {
	if !c.IsTimestamped() {
		return ErrNotTimestamped
	}
	proof, err := hashchain.ParseProof(c.TimestampHashChain)
	if err != nil {
		return err
	}
	d, err := digest.Sum(proof.DigestAlgorithm, c.Signature)
	if err != nil {
		return fmt.Errorf("digest signature: %w", err)
	}
	if err := hashchain.Verify(d, proof, c.TimestampHashChainResult); err != nil {
		return err
	}
	if err := timestamp.Verify(c.Timestamp, c.TimestampHashChainResult, trust); err != nil {
		return fmt.Errorf("verify timestamp: %w", err)
	}
	return nil
}

// VerifyBytes decodes and verifies an encoded container.
func VerifyBytes(data []byte, trust *timestamp.TrustStore) (*Container, error) {
	c, err := Read(data)
	if err != nil {
		return nil, err
	}
	return c, c.Verify(trust)
}
