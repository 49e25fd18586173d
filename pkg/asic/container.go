// Package asic packages one log record, its signature and its timestamp into
// an ASiC-E zip container and verifies such containers offline.
package asic

import (
	"archive/zip"
	"bytes"
	"encoding/hex"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/secgw/messagelog/pkg/records"
)

const (
	MimeType = "application/vnd.etsi.asic-e+zip"

	EntryMimeType          = "mimetype"
	EntryMessageXML        = "message.xml"
	EntryMessageText       = "message.txt"
	entryAttachmentPrefix  = "attachment"
	EntryManifest          = "META-INF/manifest.xml"
	EntrySignature         = "META-INF/signatures.xml"
	EntrySigHashChainRes   = "META-INF/hashchainresult.xml"
	EntrySigHashChain      = "META-INF/hashchain.xml"
	EntryTimestamp         = "META-INF/timestamp.tst"
	EntryTSHashChainResult = "META-INF/ts-hashchainresult"
	EntryTSHashChain       = "META-INF/ts-hashchain.json"

	// Extension of container files.
	Extension = ".asice"
)

var (
	// ErrInvalidContainer is returned for containers missing mandatory
	// entries or laid out incorrectly.
	ErrInvalidContainer = errors.New("invalid ASiC container")

	unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]`)
)

// Container is the decoded content of one ASiC-E container.
type Container struct {
	// Message is the SOAP envelope, or the REST request line and headers.
	Message []byte
	// Rest selects message.txt over message.xml.
	Rest        bool
	Attachments [][]byte

	Signature                []byte
	SignatureHashChainResult []byte
	SignatureHashChain       []byte

	Timestamp                []byte
	TimestampHashChainResult []byte
	TimestampHashChain       string
}

// FromRecord builds the container of r. The record's timestamp must be
// preloaded for the timestamp entries to be included.
func FromRecord(r *records.LogRecord) *Container {
	c := &Container{
		Message:                  r.Message,
		Rest:                     r.Kind == records.KindRest,
		Signature:                r.Signature,
		SignatureHashChainResult: r.SignatureHashChainResult,
		SignatureHashChain:       r.SignatureHashChain,
	}
	for _, a := range r.Attachments {
		c.Attachments = append(c.Attachments, a.Data)
	}
	if r.TimestampRecord != nil {
		c.Timestamp = r.TimestampRecord.TimestampDER
		c.TimestampHashChainResult = r.TimestampRecord.HashChainResult
		c.TimestampHashChain = r.TimestampHashChain
	}
	return c
}

// FileName is the container name of r inside archives and downloads:
// <queryId>-<request|response>-<id>.asice with unsafe characters replaced.
func FileName(r *records.LogRecord) string {
	dir := "request"
	if r.Response {
		dir = "response"
	}
	q := unsafeName.ReplaceAllString(r.QueryID, "_")
	return fmt.Sprintf("%s-%s-%d%s", q, dir, r.ID, Extension)
}

// IsTimestamped reports whether the container carries a timestamp.
func (c *Container) IsTimestamped() bool { return len(c.Timestamp) > 0 }

func (c *Container) messageEntry() string {
	if c.Rest {
		return EntryMessageText
	}
	return EntryMessageXML
}

// Write encodes the container. The mimetype entry is written first and
// stored uncompressed.
func (c *Container) Write(w io.Writer) error {
	if len(c.Signature) == 0 {
		return fmt.Errorf("%w: no signature", ErrInvalidContainer)
	}
	zw := zip.NewWriter(w)

	mt, err := zw.CreateHeader(&zip.FileHeader{Name: EntryMimeType, Method: zip.Store})
	if err != nil {
		return fmt.Errorf("write mimetype: %w", err)
	}
	if _, err := io.WriteString(mt, MimeType); err != nil {
		return fmt.Errorf("write mimetype: %w", err)
	}

	content := []entry{{c.messageEntry(), c.Message}}
	files := []manifestEntry{{Path: c.messageEntry(), MediaType: messageMime(c.Rest)}}
	for i, a := range c.Attachments {
		name := entryAttachmentPrefix + strconv.Itoa(i+1)
		content = append(content, entry{name, a})
		files = append(files, manifestEntry{Path: name, MediaType: "application/octet-stream"})
	}
	mf, err := encodeManifest(files)
	if err != nil {
		return err
	}

	content = append(content, entry{EntryManifest, mf}, entry{EntrySignature, c.Signature})
	if len(c.SignatureHashChainResult) > 0 {
		content = append(content,
			entry{EntrySigHashChainRes, c.SignatureHashChainResult},
			entry{EntrySigHashChain, c.SignatureHashChain})
	}
	if c.IsTimestamped() {
		content = append(content,
			entry{EntryTimestamp, c.Timestamp},
			entry{EntryTSHashChainResult, []byte(hex.EncodeToString(c.TimestampHashChainResult))},
			entry{EntryTSHashChain, []byte(c.TimestampHashChain)})
	}

	for _, e := range content {
		ew, err := zw.Create(e.name)
		if err != nil {
			return fmt.Errorf("create entry %s: %w", e.name, err)
		}
		if _, err := ew.Write(e.data); err != nil {
			return fmt.Errorf("write entry %s: %w", e.name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("close container: %w", err)
	}
	return nil
}

// Bytes returns the encoded container.
func (c *Container) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := c.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Read decodes a container.
func Read(data []byte) (*Container, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidContainer, err)
	}
	if len(zr.File) == 0 || zr.File[0].Name != EntryMimeType || zr.File[0].Method != zip.Store {
		return nil, fmt.Errorf("%w: mimetype must be the first, uncompressed entry", ErrInvalidContainer)
	}

	c := &Container{}
	attachments := map[int][]byte{}
	var hasMessage bool
	for _, f := range zr.File {
		b, err := readEntry(f)
		if err != nil {
			return nil, err
		}
		switch {
		case f.Name == EntryMimeType:
			if string(b) != MimeType {
				return nil, fmt.Errorf("%w: unexpected mimetype %q", ErrInvalidContainer, b)
			}
		case f.Name == EntryMessageXML, f.Name == EntryMessageText:
			c.Message, c.Rest, hasMessage = b, f.Name == EntryMessageText, true
		case strings.HasPrefix(f.Name, entryAttachmentPrefix):
			n, err := strconv.Atoi(strings.TrimPrefix(f.Name, entryAttachmentPrefix))
			if err != nil || n < 1 {
				return nil, fmt.Errorf("%w: bad attachment entry %q", ErrInvalidContainer, f.Name)
			}
			attachments[n] = b
		case f.Name == EntrySignature:
			c.Signature = b
		case f.Name == EntrySigHashChainRes:
			c.SignatureHashChainResult = b
		case f.Name == EntrySigHashChain:
			c.SignatureHashChain = b
		case f.Name == EntryTimestamp:
			c.Timestamp = b
		case f.Name == EntryTSHashChainResult:
			if c.TimestampHashChainResult, err = hex.DecodeString(strings.TrimSpace(string(b))); err != nil {
				return nil, fmt.Errorf("%w: timestamp hash chain result: %w", ErrInvalidContainer, err)
			}
		case f.Name == EntryTSHashChain:
			c.TimestampHashChain = string(b)
		}
	}
	if !hasMessage {
		return nil, fmt.Errorf("%w: no message entry", ErrInvalidContainer)
	}
	if len(c.Signature) == 0 {
		return nil, fmt.Errorf("%w: no signature entry", ErrInvalidContainer)
	}

	keys := make([]int, 0, len(attachments))
	for k := range attachments {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	for i, k := range keys {
		if k != i+1 {
			return nil, fmt.Errorf("%w: attachment %d missing", ErrInvalidContainer, i+1)
		}
		c.Attachments = append(c.Attachments, attachments[k])
	}
	return c, nil
}

type entry struct {
	name string
	data []byte
}

func readEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open entry %s: %w", f.Name, err)
	}
	defer rc.Close()
	b, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read entry %s: %w", f.Name, err)
	}
	return b, nil
}

func messageMime(rest bool) string {
	if rest {
		return "text/plain"
	}
	return "text/xml"
}

type manifestEntry struct {
	Path      string `xml:"manifest:full-path,attr"`
	MediaType string `xml:"manifest:media-type,attr"`
}

type manifest struct {
	XMLName xml.Name        `xml:"manifest:manifest"`
	Xmlns   string          `xml:"xmlns:manifest,attr"`
	Entries []manifestEntry `xml:"manifest:file-entry"`
}

func encodeManifest(files []manifestEntry) ([]byte, error) {
	m := manifest{
		Xmlns:   "urn:oasis:names:tc:opendocument:xmlns:manifest:1.0",
		Entries: append([]manifestEntry{{Path: "/", MediaType: MimeType}}, files...),
	}
	b, err := xml.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}
	return append([]byte(xml.Header), b...), nil
}
