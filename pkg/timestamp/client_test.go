package timestamp_test

import (
	"context"
	"crypto/sha256"
	"encoding/asn1"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/digitorus/pkcs7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/secgw/messagelog/pkg/timestamp"
	"github.com/secgw/messagelog/pkg/timestamp/tsatest"
)

func chainResult(s string) []byte {
	sum := sha256.Sum256([]byte(s))
	return sum[:]
}

func newClient(trust *timestamp.TrustStore, urls ...string) *timestamp.Client {
	cfg := timestamp.DefaultConfig()
	cfg.URLs = urls
	cfg.ConnectTimeout = time.Second
	cfg.ReadTimeout = 500 * time.Millisecond
	return timestamp.NewClient(cfg, trust, nil)
}

func TestRequestTimestampSuccess(t *testing.T) {
	tsa := tsatest.NewServer(t)
	client := newClient(tsa.TrustStore(), tsa.URL)

	result := chainResult("batch")
	tok, err := client.RequestTimestamp(context.Background(), result, client.URLs())
	require.NoError(t, err)
	assert.Equal(t, tsa.URL, tok.URL)
	assert.NotEmpty(t, tok.DER)
	assert.WithinDuration(t, time.Now(), tok.Time, time.Minute)
	assert.Equal(t, 1, tsa.Calls())

	require.NoError(t, timestamp.Verify(tok.DER, result, tsa.TrustStore()))
}

func TestRequestTimestampFallsBackInOrder(t *testing.T) {
	down := tsatest.NewServer(t)
	down.SetFailing(true)
	up := tsatest.NewServer(t)
	third := tsatest.NewServer(t)

	trust := timestamp.NewTrustStore(down.Cert, up.Cert, third.Cert)
	client := newClient(trust)

	tok, err := client.RequestTimestamp(context.Background(), chainResult("x"), []string{down.URL, up.URL, third.URL})
	require.NoError(t, err)
	assert.Equal(t, up.URL, tok.URL)
	assert.Equal(t, 1, down.Calls())
	assert.Equal(t, 1, up.Calls())
	assert.Zero(t, third.Calls(), "first success short-circuits")
}

func TestRequestTimestampTimeoutFallsThrough(t *testing.T) {
	slow := tsatest.NewServer(t)
	slow.SetDelay(5 * time.Second)
	fast := tsatest.NewServer(t)

	client := newClient(timestamp.NewTrustStore(slow.Cert, fast.Cert))

	start := time.Now()
	tok, err := client.RequestTimestamp(context.Background(), chainResult("x"), []string{slow.URL, fast.URL})
	require.NoError(t, err)
	assert.Equal(t, fast.URL, tok.URL)
	assert.Less(t, time.Since(start), 4*time.Second)
}

func TestRequestTimestampAllFail(t *testing.T) {
	a := tsatest.NewServer(t)
	a.SetFailing(true)
	b := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not a timestamp response"))
	}))
	defer b.Close()

	client := newClient(a.TrustStore())
	_, err := client.RequestTimestamp(context.Background(), chainResult("x"), []string{a.URL, b.URL})
	require.Error(t, err)
	require.ErrorIs(t, err, timestamp.ErrTimestampingFailed)

	var failed *timestamp.FailedError
	require.True(t, errors.As(err, &failed))
	assert.Len(t, failed.Errors, 2)
	assert.Contains(t, failed.Errors[a.URL].Error(), "HTTP 500")
	assert.Equal(t, failed.Errors[b.URL], failed.Last)
}

func TestRequestTimestampNoURLs(t *testing.T) {
	client := newClient(timestamp.NewTrustStore())
	_, err := client.RequestTimestamp(context.Background(), chainResult("x"), nil)
	require.ErrorIs(t, err, timestamp.ErrNoTSAConfigured)
}

func TestRequestTimestampRejectsUntrustedSigner(t *testing.T) {
	tsa := tsatest.NewServer(t)
	other := tsatest.NewServer(t)
	client := newClient(other.TrustStore())

	_, err := client.RequestTimestamp(context.Background(), chainResult("x"), []string{tsa.URL})
	require.ErrorIs(t, err, timestamp.ErrTimestampingFailed)
	require.ErrorIs(t, err, timestamp.ErrUntrustedToken)
}

func TestRequestTimestampRejectsWrongImprint(t *testing.T) {
	tsa := tsatest.NewServer(t)
	tsa.SetImprint(chainResult("something else"))
	client := newClient(tsa.TrustStore())

	_, err := client.RequestTimestamp(context.Background(), chainResult("x"), []string{tsa.URL})
	require.ErrorIs(t, err, timestamp.ErrUntrustedToken)
}

func TestVerifyAcceptsSignerChainedToTrustedRoot(t *testing.T) {
	ca, caKey := tsatest.NewCA(t)
	leaf, leafKey := tsatest.IssueTSA(t, ca, caKey)
	tsa := tsatest.NewServer(t, tsatest.WithCertificate(leaf, leafKey))

	trust := timestamp.NewTrustStore(ca)
	client := newClient(trust)
	result := chainResult("chained")
	tok, err := client.RequestTimestamp(context.Background(), result, []string{tsa.URL})
	require.NoError(t, err)

	require.NoError(t, timestamp.Verify(tok.DER, result, trust))
	require.ErrorIs(t, timestamp.Verify(tok.DER, chainResult("other"), trust), timestamp.ErrUntrustedToken)
}

func TestVerifyRejectsTokenSignedByOtherKeyEmbeddingTrustedCert(t *testing.T) {
	tsa := tsatest.NewServer(t)
	trust := tsa.TrustStore()
	client := newClient(trust)
	result := chainResult("forged")
	legit, err := client.RequestTimestamp(context.Background(), result, []string{tsa.URL})
	require.NoError(t, err)

	p7, err := pkcs7.Parse(legit.DER)
	require.NoError(t, err)

	// Same TSTInfo, signed by another key, with the trusted TSA certificate
	// riding along in the certificate set.
	attacker, attackerKey := tsatest.SelfSigned(t)
	sd, err := pkcs7.NewSignedData(p7.Content)
	require.NoError(t, err)
	sd.SetContentType(asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 16, 1, 4})
	sd.SetDigestAlgorithm(pkcs7.OIDDigestAlgorithmSHA256)
	require.NoError(t, sd.AddSigner(attacker, attackerKey, pkcs7.SignerInfoConfig{}))
	sd.AddCertificate(tsa.Cert)
	forged, err := sd.Finish()
	require.NoError(t, err)

	require.NoError(t, timestamp.Verify(legit.DER, result, trust))
	require.ErrorIs(t, timestamp.Verify(forged, result, trust), timestamp.ErrUntrustedToken)
}

func TestProberReportsOutcome(t *testing.T) {
	tsa := tsatest.NewServer(t)
	client := newClient(tsa.TrustStore(), tsa.URL)
	prober := timestamp.NewProber(client, time.Minute, nil, nil)

	require.NoError(t, prober.Probe(context.Background()))
	tsa.SetFailing(true)
	require.ErrorIs(t, prober.Probe(context.Background()), timestamp.ErrTimestampingFailed)
}
