package timestamp

import (
	"bytes"
	"crypto"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"

	"github.com/digitorus/pkcs7"
	"github.com/digitorus/timestamp"
)

// ErrUntrustedToken is returned when a token's signer is not trusted or its
// imprint does not match.
var ErrUntrustedToken = errors.New("untrusted timestamp token")

// TrustStore holds the TSA certificates tokens are checked against.
type TrustStore struct {
	certs []*x509.Certificate
	pool  *x509.CertPool
}

// NewTrustStore builds a store from certificates.
func NewTrustStore(certs ...*x509.Certificate) *TrustStore {
	s := &TrustStore{pool: x509.NewCertPool()}
	for _, c := range certs {
		s.certs = append(s.certs, c)
		s.pool.AddCert(c)
	}
	return s
}

// LoadTrustStore reads every certificate from the given PEM files.
func LoadTrustStore(paths []string) (*TrustStore, error) {
	var certs []*x509.Certificate
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read TSA certificate %s: %w", p, err)
		}
		for {
			var block *pem.Block
			block, data = pem.Decode(data)
			if block == nil {
				break
			}
			if block.Type != "CERTIFICATE" {
				continue
			}
			c, err := x509.ParseCertificate(block.Bytes)
			if err != nil {
				return nil, fmt.Errorf("parse TSA certificate %s: %w", p, err)
			}
			certs = append(certs, c)
		}
	}
	return NewTrustStore(certs...), nil
}

// Len returns the number of trusted certificates.
func (s *TrustStore) Len() int { return len(s.certs) }

// Verify checks that der is a validly signed token over chainResult whose
// signer the store trusts.
func Verify(der, chainResult []byte, trust *TrustStore) error {
	_, err := trust.verify(der, chainResult)
	return err
}

func (s *TrustStore) verify(der, chainResult []byte) (*timestamp.Timestamp, error) {
	if s == nil || len(s.certs) == 0 {
		return nil, fmt.Errorf("%w: no trusted TSA certificates", ErrUntrustedToken)
	}
	ts, err := timestamp.Parse(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUntrustedToken, err)
	}
	if ts.HashAlgorithm != crypto.SHA256 {
		return nil, fmt.Errorf("%w: unexpected imprint algorithm %v", ErrUntrustedToken, ts.HashAlgorithm)
	}
	if !bytes.Equal(ts.HashedMessage, chainResult) {
		return nil, fmt.Errorf("%w: imprint does not match chain result", ErrUntrustedToken)
	}
	signer, intermediates, err := signerOf(der)
	if err != nil {
		return nil, err
	}
	if s.trustsDirectly(signer) {
		return ts, nil
	}
	_, err = signer.Verify(x509.VerifyOptions{
		Roots:         s.pool,
		Intermediates: intermediates,
		CurrentTime:   ts.Time,
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageTimeStamping},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUntrustedToken, err)
	}
	return ts, nil
}

func (s *TrustStore) trustsDirectly(c *x509.Certificate) bool {
	for _, t := range s.certs {
		if bytes.Equal(t.Raw, c.Raw) {
			return true
		}
	}
	return false
}

// signerOf returns the certificate named by the token's only SignerInfo,
// with the remaining embedded certificates as intermediates. Embedded
// certificates the signature does not refer to are never taken as signer.
func signerOf(der []byte) (*x509.Certificate, *x509.CertPool, error) {
	p7, err := pkcs7.Parse(der)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrUntrustedToken, err)
	}
	signer := p7.GetOnlySigner()
	if signer == nil {
		return nil, nil, fmt.Errorf("%w: token must carry exactly one signer and its certificate", ErrUntrustedToken)
	}
	if err := p7.Verify(); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrUntrustedToken, err)
	}
	intermediates := x509.NewCertPool()
	for _, c := range p7.Certificates {
		if !bytes.Equal(c.Raw, signer.Raw) {
			intermediates.AddCert(c)
		}
	}
	return signer, intermediates, nil
}
