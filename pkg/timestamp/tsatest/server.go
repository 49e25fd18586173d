// Package tsatest runs an in-process RFC 3161 Time-Stamping Authority for
// tests.
package tsatest

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/digitorus/timestamp"

	tsclient "github.com/secgw/messagelog/pkg/timestamp"
)

var (
	oidExtKeyUsage     = asn1.ObjectIdentifier{2, 5, 29, 37}
	oidTimeStampingEKU = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 3, 8}
	testPolicy         = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 99999, 1}
)

// Server is a TSA backed by httptest.
type Server struct {
	*httptest.Server

	Cert *x509.Certificate
	key  crypto.Signer

	mu      sync.Mutex
	calls   int
	serial  int64
	failing bool
	delay   time.Duration
	imprint []byte
}

// Option customizes a Server.
type Option func(*Server)

// WithCertificate signs tokens with the given certificate and key instead of
// a freshly generated self-signed one.
func WithCertificate(cert *x509.Certificate, key crypto.Signer) Option {
	return func(s *Server) {
		s.Cert = cert
		s.key = key
	}
}

// NewServer starts a TSA that is closed when the test ends.
func NewServer(t testing.TB, opts ...Option) *Server {
	t.Helper()
	s := &Server{}
	for _, o := range opts {
		o(s)
	}
	if s.Cert == nil {
		s.Cert, s.key = SelfSigned(t)
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.Close)
	return s
}

// TrustStore returns a store trusting this server's certificate.
func (s *Server) TrustStore() *tsclient.TrustStore {
	return tsclient.NewTrustStore(s.Cert)
}

// Calls returns how many requests were received.
func (s *Server) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// SetFailing makes the server answer HTTP 500.
func (s *Server) SetFailing(failing bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failing = failing
}

// SetDelay delays every answer.
func (s *Server) SetDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay = d
}

// SetImprint makes the server timestamp imprint instead of the requested
// digest. Passing nil restores normal behavior.
func (s *Server) SetImprint(imprint []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.imprint = imprint
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.calls++
	s.serial++
	serial, failing, delay, imprint := s.serial, s.failing, s.delay, s.imprint
	s.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}
	if failing {
		http.Error(w, "unavailable", http.StatusInternalServerError)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	req, err := timestamp.ParseRequest(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	hashed := req.HashedMessage
	if imprint != nil {
		hashed = imprint
	}
	tst := timestamp.Timestamp{
		HashAlgorithm:     req.HashAlgorithm,
		HashedMessage:     hashed,
		Time:              time.Now().UTC(),
		Nonce:             req.Nonce,
		SerialNumber:      big.NewInt(serial),
		Policy:            testPolicy,
		Accuracy:          time.Second,
		AddTSACertificate: req.Certificates,
	}
	resp, err := tst.CreateResponseWithOpts(s.Cert, s.key, crypto.SHA256)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/timestamp-reply")
	_, _ = w.Write(resp)
}

// SelfSigned creates a self-signed TSA certificate with a critical
// time-stamping extended key usage.
func SelfSigned(t testing.TB) (*x509.Certificate, crypto.Signer) {
	t.Helper()
	key := newKey(t)
	tmpl := tsaTemplate(t, "Test TSA")
	return createCert(t, tmpl, tmpl, key, key), key
}

// NewCA creates a self-signed certificate authority.
func NewCA(t testing.TB) (*x509.Certificate, crypto.Signer) {
	t.Helper()
	key := newKey(t)
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(time.Now().UnixNano()),
		Subject:               pkix.Name{CommonName: "Test TSA Root"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	return createCert(t, tmpl, tmpl, key, key), key
}

// IssueTSA creates a TSA certificate signed by ca.
func IssueTSA(t testing.TB, ca *x509.Certificate, caKey crypto.Signer) (*x509.Certificate, crypto.Signer) {
	t.Helper()
	key := newKey(t)
	return createCert(t, tsaTemplate(t, "Test TSA Leaf"), ca, key, caKey), key
}

func tsaTemplate(t testing.TB, cn string) *x509.Certificate {
	t.Helper()
	eku, err := asn1.Marshal([]asn1.ObjectIdentifier{oidTimeStampingEKU})
	if err != nil {
		t.Fatalf("marshal extended key usage: %v", err)
	}
	return &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject:      pkix.Name{CommonName: cn},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtraExtensions: []pkix.Extension{
			{Id: oidExtKeyUsage, Critical: true, Value: eku},
		},
		BasicConstraintsValid: true,
	}
}

func newKey(t testing.TB) *ecdsa.PrivateKey {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key
}

func createCert(t testing.TB, tmpl, parent *x509.Certificate, key *ecdsa.PrivateKey, parentKey crypto.Signer) *x509.Certificate {
	t.Helper()
	der, err := x509.CreateCertificate(rand.Reader, tmpl, parent, &key.PublicKey, parentKey)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parse certificate: %v", err)
	}
	return cert
}
