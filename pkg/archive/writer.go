package archive

import (
	"archive/zip"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/google/uuid"

	"github.com/secgw/messagelog/pkg/asic"
	"github.com/secgw/messagelog/pkg/records"
)

const fileTimeLayout = "20060102150405"

type countingWriter struct {
	f *os.File
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.f.Write(p)
	c.n += int64(n)
	return n, err
}

// groupWriter writes the archives of one group, rotating to a new file
// whenever the current one reaches maxSize. Each new file continues the
// linking-info chain of the previous one.
type groupWriter struct {
	dir        string
	alg        string
	maxSize    int64
	recipients []*openpgp.Entity

	link     *linkingInfo
	tmp      string
	cw       *countingWriter
	zw       *zip.Writer
	firstAt  time.Time
	lastAt   time.Time
	produced []string
}

func newGroupWriter(dir, alg string, maxSize int64, previous string, recipients []*openpgp.Entity) *groupWriter {
	return &groupWriter{
		dir:        dir,
		alg:        alg,
		maxSize:    maxSize,
		recipients: recipients,
		link:       newLinkingInfo(alg, previous),
	}
}

// add appends the container of r to the current archive.
func (w *groupWriter) add(r *records.LogRecord) error {
	if w.zw == nil {
		if err := w.open(); err != nil {
			return err
		}
		w.firstAt = r.Time
	}

	data, err := asic.FromRecord(r).Bytes()
	if err != nil {
		return fmt.Errorf("build container of record %d: %w", r.ID, err)
	}
	name := asic.FileName(r)
	ew, err := w.zw.Create(name)
	if err != nil {
		return fmt.Errorf("create entry %s: %w", name, err)
	}
	if _, err := ew.Write(data); err != nil {
		return fmt.Errorf("write entry %s: %w", name, err)
	}
	if err := w.link.add(name, data); err != nil {
		return err
	}
	w.lastAt = r.Time

	if err := w.zw.Flush(); err != nil {
		return fmt.Errorf("flush archive: %w", err)
	}
	if w.maxSize > 0 && w.cw.n >= w.maxSize {
		return w.rotate()
	}
	return nil
}

func (w *groupWriter) open() error {
	f, err := os.CreateTemp(w.dir, ".mlog-*.tmp")
	if err != nil {
		return fmt.Errorf("create temporary archive: %w", err)
	}
	w.tmp = f.Name()
	w.cw = &countingWriter{f: f}
	w.zw = zip.NewWriter(w.cw)
	return nil
}

// rotate closes the current archive, if any, and moves it into place.
func (w *groupWriter) rotate() error {
	if w.zw == nil {
		return nil
	}
	zw, f, tmp := w.zw, w.cw.f, w.tmp
	w.zw, w.cw, w.tmp = nil, nil, ""

	err := writeLinkingInfo(zw, w.link.bytes())
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return err
	}

	name := archiveName(w.firstAt, w.lastAt)
	src := tmp
	if len(w.recipients) > 0 {
		enc := tmp + ".gpg"
		if err := encryptFile(enc, tmp, w.recipients); err != nil {
			os.Remove(tmp)
			os.Remove(enc)
			return err
		}
		os.Remove(tmp)
		src = enc
		name += ".gpg"
	}

	dst := filepath.Join(w.dir, name)
	if err := os.Rename(src, dst); err != nil {
		os.Remove(src)
		return fmt.Errorf("move archive into place: %w", err)
	}
	w.produced = append(w.produced, dst)
	w.link = newLinkingInfo(w.alg, w.link.digest())
	return nil
}

func writeLinkingInfo(zw *zip.Writer, data []byte) error {
	ew, err := zw.Create(LinkingInfoEntry)
	if err != nil {
		return fmt.Errorf("create linking info: %w", err)
	}
	if _, err := ew.Write(data); err != nil {
		return fmt.Errorf("write linking info: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("close archive: %w", err)
	}
	return nil
}

// finish closes the open archive and returns the final running digest and
// the base name of the last produced file.
func (w *groupWriter) finish() (string, string, error) {
	if err := w.rotate(); err != nil {
		return "", "", err
	}
	if len(w.produced) == 0 {
		return "", "", errors.New("no archive produced")
	}
	return w.link.digest(), filepath.Base(w.produced[len(w.produced)-1]), nil
}

// abort removes everything this writer produced.
func (w *groupWriter) abort() {
	if w.zw != nil {
		w.cw.f.Close()
		os.Remove(w.tmp)
		w.zw, w.cw, w.tmp = nil, nil, ""
	}
	for _, p := range w.produced {
		os.Remove(p)
	}
	w.produced = nil
}

// archiveName is mlog-<first>-<last>-<suffix>.zip with UTC record times
// and ten random hex characters.
func archiveName(first, last time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:10]
	return fmt.Sprintf("mlog-%s-%s-%s.zip",
		first.UTC().Format(fileTimeLayout), last.UTC().Format(fileTimeLayout), suffix)
}
