package asic

import (
	"archive/zip"
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/secgw/messagelog/pkg/digest"
	"github.com/secgw/messagelog/pkg/hashchain"
	"github.com/secgw/messagelog/pkg/records"
	"github.com/secgw/messagelog/pkg/timestamp"
	"github.com/secgw/messagelog/pkg/timestamp/tsatest"
)

// timestampedRecords returns n records sharing one real timestamp.
func timestampedRecords(t *testing.T, tsa *tsatest.Server, n int) []*records.LogRecord {
	t.Helper()
	out := make([]*records.LogRecord, n)
	digests := make([][]byte, n)
	for i := range out {
		sig := []byte{byte(i), 0xde, 0xad}
		d, err := digest.Sum(digest.Default, sig)
		require.NoError(t, err)
		digests[i] = d
		out[i] = &records.LogRecord{
			ID:        int64(i + 1),
			Kind:      records.KindMessage,
			QueryID:   "query/1",
			Message:   []byte("<Envelope/>"),
			Signature: sig,
			Attachments: []records.Attachment{
				{Position: 0, Data: []byte("att-1")},
				{Position: 1, Data: []byte("att-2")},
			},
		}
	}

	chain, err := hashchain.Build(digests, digest.Default)
	require.NoError(t, err)
	client := timestamp.NewClient(&timestamp.Config{ConnectTimeout: time.Second, ReadTimeout: 2 * time.Second}, tsa.TrustStore(), nil)
	tok, err := client.RequestTimestamp(context.Background(), chain.Result, []string{tsa.URL})
	require.NoError(t, err)

	ts := &records.TimestampRecord{ID: 1, Time: tok.Time, TimestampDER: tok.DER, HashChainResult: chain.Result}
	for i, r := range out {
		doc, err := chain.Proofs[i].Marshal()
		require.NoError(t, err)
		r.TimestampHashChain = doc
		r.TimestampRecord = ts
	}
	return out
}

func TestRoundTripAndVerify(t *testing.T) {
	tsa := tsatest.NewServer(t)
	recs := timestampedRecords(t, tsa, 3)

	data, err := FromRecord(recs[1]).Bytes()
	require.NoError(t, err)

	c, err := VerifyBytes(data, tsa.TrustStore())
	require.NoError(t, err)
	assert.Equal(t, recs[1].Message, c.Message)
	assert.False(t, c.Rest)
	assert.Equal(t, [][]byte{[]byte("att-1"), []byte("att-2")}, c.Attachments)
	assert.Equal(t, recs[1].Signature, c.Signature)
	assert.Equal(t, recs[1].TimestampRecord.HashChainResult, c.TimestampHashChainResult)
}

func TestMimetypeIsFirstAndStored(t *testing.T) {
	tsa := tsatest.NewServer(t)
	data, err := FromRecord(timestampedRecords(t, tsa, 1)[0]).Bytes()
	require.NoError(t, err)

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	require.NotEmpty(t, zr.File)
	assert.Equal(t, EntryMimeType, zr.File[0].Name)
	assert.Equal(t, zip.Store, zr.File[0].Method)

	names := make([]string, 0, len(zr.File))
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	assert.Contains(t, names, EntryMessageXML)
	assert.Contains(t, names, EntryManifest)
	assert.Contains(t, names, EntryTimestamp)
	assert.Contains(t, names, EntryTSHashChain)
	assert.NotContains(t, names, EntrySigHashChain)
}

func TestVerifyDetectsTampering(t *testing.T) {
	tsa := tsatest.NewServer(t)
	recs := timestampedRecords(t, tsa, 2)

	c := FromRecord(recs[0])
	c.Signature = []byte("forged")
	assert.ErrorIs(t, c.Verify(tsa.TrustStore()), hashchain.ErrInvalidProof)

	// A proof from another record of the batch does not fit this signature.
	c = FromRecord(recs[0])
	c.TimestampHashChain = recs[1].TimestampHashChain
	assert.ErrorIs(t, c.Verify(tsa.TrustStore()), hashchain.ErrInvalidProof)

	other := tsatest.NewServer(t)
	assert.ErrorIs(t, FromRecord(recs[0]).Verify(other.TrustStore()), timestamp.ErrUntrustedToken)
}

func TestUntimestampedContainer(t *testing.T) {
	r := &records.LogRecord{
		ID:                       5,
		Kind:                     records.KindRest,
		QueryID:                  "q",
		Message:                  []byte("GET /r1 HTTP/1.1"),
		Signature:                []byte("sig"),
		SignatureHashChainResult: []byte("<result/>"),
		SignatureHashChain:       []byte("<chain/>"),
	}
	data, err := FromRecord(r).Bytes()
	require.NoError(t, err)

	c, err := Read(data)
	require.NoError(t, err)
	assert.True(t, c.Rest)
	assert.Equal(t, []byte("<chain/>"), c.SignatureHashChain)
	assert.ErrorIs(t, c.Verify(nil), ErrNotTimestamped)
}

func TestReadRejectsMalformedContainers(t *testing.T) {
	_, err := Read([]byte("not a zip"))
	assert.ErrorIs(t, err, ErrInvalidContainer)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create(EntryMessageXML)
	require.NoError(t, err)
	_, _ = w.Write([]byte("<x/>"))
	require.NoError(t, zw.Close())
	_, err = Read(buf.Bytes())
	assert.ErrorIs(t, err, ErrInvalidContainer)

	_, err = (&Container{Message: []byte("x")}).Bytes()
	assert.ErrorIs(t, err, ErrInvalidContainer)
}

func TestFileName(t *testing.T) {
	r := &records.LogRecord{ID: 42, QueryID: "a/b c:d", Response: true}
	assert.Equal(t, "a_b_c_d-response-42.asice", FileName(r))
	r.Response = false
	assert.Equal(t, "a_b_c_d-request-42.asice", FileName(r))
}
