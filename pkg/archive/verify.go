package archive

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/secgw/messagelog/pkg/asic"
	"github.com/secgw/messagelog/pkg/timestamp"
)

// ErrBrokenChain is returned when an archive's linking info does not match
// its entries or the expected previous digest.
var ErrBrokenChain = errors.New("archive linking chain is broken")

// Verification is the outcome of a successful VerifyArchive.
type Verification struct {
	Entries []string
	// Digest is the running digest after the last entry; it must equal the
	// group's stored digest or the first line of the next archive.
	Digest string
}

// VerifyArchive replays the linking info of a plain zip archive starting
// from previous. With trust non-nil every container is verified as well.
func VerifyArchive(data []byte, previous string, trust *timestamp.TrustStore) (*Verification, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	files := zr.File
	if len(files) == 0 || files[len(files)-1].Name != LinkingInfoEntry {
		return nil, fmt.Errorf("%w: %s is not the last entry", ErrBrokenChain, LinkingInfoEntry)
	}
	raw, err := readAll(files[len(files)-1])
	if err != nil {
		return nil, err
	}
	lines, err := ParseLinkingInfo(raw)
	if err != nil {
		return nil, err
	}
	entries := files[:len(files)-1]
	if len(lines) != len(entries) {
		return nil, fmt.Errorf("%w: %d entries but %d linking lines", ErrBrokenChain, len(entries), len(lines))
	}

	v := &Verification{Digest: previous}
	for i, f := range entries {
		line := lines[i]
		if line.Entry != f.Name {
			return nil, fmt.Errorf("%w: line %d names %s, entry is %s", ErrBrokenChain, i+1, line.Entry, f.Name)
		}
		if line.Digest != v.Digest {
			return nil, fmt.Errorf("%w: digest mismatch at %s", ErrBrokenChain, f.Name)
		}
		body, err := readAll(f)
		if err != nil {
			return nil, err
		}
		if trust != nil {
			if _, err := asic.VerifyBytes(body, trust); err != nil {
				return nil, fmt.Errorf("verify %s: %w", f.Name, err)
			}
		}
		if v.Digest, err = nextDigest(line.Algorithm, v.Digest, body); err != nil {
			return nil, err
		}
		v.Entries = append(v.Entries, f.Name)
	}
	return v, nil
}

func readAll(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", f.Name, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", f.Name, err)
	}
	return data, nil
}
