package archive

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/secgw/messagelog/pkg/digest"
)

// LinkingInfoEntry is the name of the linking-info entry, always the last
// one in an archive.
const LinkingInfoEntry = "linkinginfo"

// noDigest stands for the empty digest of a group's first archive.
const noDigest = "-"

// linkingInfo accumulates the linking-info lines of one archive file.
// Line k carries D_k, the running digest before entry k; D_{k+1} is
// H(hex(D_k) || hex(H(entry_k))).
type linkingInfo struct {
	alg     string
	current string
	lines   []string
}

func newLinkingInfo(alg, previous string) *linkingInfo {
	return &linkingInfo{alg: digest.Canonical(alg), current: previous}
}

func (l *linkingInfo) add(name string, entry []byte) error {
	next, err := nextDigest(l.alg, l.current, entry)
	if err != nil {
		return err
	}
	l.lines = append(l.lines, formatLine(l.current, name, l.alg))
	l.current = next
	return nil
}

// digest returns the running digest after the last added entry.
func (l *linkingInfo) digest() string { return l.current }

func (l *linkingInfo) bytes() []byte {
	var b bytes.Buffer
	for _, line := range l.lines {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.Bytes()
}

func nextDigest(alg, current string, entry []byte) (string, error) {
	h, err := digest.Sum(alg, entry)
	if err != nil {
		return "", err
	}
	return digest.SumHex(alg, []byte(current+hex.EncodeToString(h)))
}

func formatLine(d, name, alg string) string {
	if d == "" {
		d = noDigest
	}
	return d + " " + name + " " + alg
}

// LinkingLine is one parsed line of a linking-info entry.
type LinkingLine struct {
	Digest    string
	Entry     string
	Algorithm string
}

// ParseLinkingInfo parses a linking-info entry.
func ParseLinkingInfo(data []byte) ([]LinkingLine, error) {
	var out []LinkingLine
	sc := bufio.NewScanner(bytes.NewReader(data))
	for n := 1; sc.Scan(); n++ {
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		f := strings.Fields(text)
		if len(f) != 3 {
			return nil, fmt.Errorf("linking info line %d: expected 3 fields, got %d", n, len(f))
		}
		d := f[0]
		if d == noDigest {
			d = ""
		}
		out = append(out, LinkingLine{Digest: d, Entry: f[1], Algorithm: f[2]})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read linking info: %w", err)
	}
	return out, nil
}
