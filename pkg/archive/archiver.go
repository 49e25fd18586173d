package archive

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/ProtonMail/go-crypto/openpgp"

	"github.com/secgw/messagelog/pkg/records"
)

// Store is the part of the record store the archiver uses.
type Store interface {
	ListArchivable(ctx context.Context, afterID int64, limit int) ([]records.LogRecord, error)
	MarkTimestampRecordsArchived(ctx context.Context) (int64, error)
	InTransaction(ctx context.Context, fn func(tx *records.Store) error) error
}

// Result summarizes one archive cycle.
type Result struct {
	Records int
	Files   []string
}

// Archiver writes timestamped records into linked archive files.
type Archiver struct {
	store    Store
	cfg      *Config
	keys     *keySource
	transfer []Transfer
	logger   *slog.Logger
}

// NewArchiver creates an Archiver. The archive path must be a writable
// directory and, when encryption is enabled, the keyring must be readable.
func NewArchiver(store Store, cfg *Config, logger *slog.Logger, transfer ...Transfer) (*Archiver, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := checkDir(cfg.Path); err != nil {
		return nil, err
	}
	a := &Archiver{store: store, cfg: cfg, transfer: transfer, logger: logger}
	if cfg.Encryption.Enabled {
		keys, err := loadKeys(cfg.Encryption)
		if err != nil {
			return nil, fmt.Errorf("load archive encryption keys: %w", err)
		}
		a.keys = keys
	}
	return a, nil
}

func checkDir(path string) error {
	fi, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("archive path: %w", err)
	}
	if !fi.IsDir() {
		return fmt.Errorf("archive path %s is not a directory", path)
	}
	f, err := os.CreateTemp(path, ".probe-*")
	if err != nil {
		return fmt.Errorf("archive path %s is not writable: %w", path, err)
	}
	f.Close()
	return os.Remove(f.Name())
}

// Archive runs one archive cycle. Each group is archived in its own
// transaction; the cycle stops at the first failing group, leaving its
// records unarchived for the next cycle.
func (a *Archiver) Archive(ctx context.Context) (*Result, error) {
	start := time.Now()
	res := &Result{}
	limit := a.cfg.batchSize()

	var afterID int64
	for {
		page, err := a.store.ListArchivable(ctx, afterID, limit)
		if err != nil {
			return res, err
		}
		if len(page) == 0 {
			break
		}
		afterID = page[len(page)-1].ID

		for _, g := range a.group(page) {
			if err := ctx.Err(); err != nil {
				return res, err
			}
			files, err := a.archiveGroup(ctx, g.key, g.records)
			if err != nil {
				return res, fmt.Errorf("archive group %q: %w", g.key, err)
			}
			res.Records += len(g.records)
			res.Files = append(res.Files, files...)
		}
		if len(page) < limit {
			break
		}
	}

	if res.Records > 0 {
		if _, err := a.store.MarkTimestampRecordsArchived(ctx); err != nil {
			return res, err
		}
	}
	a.logger.Info("archive cycle finished",
		"records", res.Records, "files", len(res.Files), "duration", time.Since(start).String())

	if len(res.Files) > 0 {
		for _, t := range a.transfer {
			if err := t.Transfer(ctx, a.cfg.Path, res.Files); err != nil {
				// Archives stay on disk for the next transfer.
				a.logger.Error("archive transfer failed", "error", err)
			}
		}
	}
	return res, nil
}

type recordGroup struct {
	key     string
	records []records.LogRecord
}

// group splits page by grouping key, keeping id order within each group.
func (a *Archiver) group(page []records.LogRecord) []recordGroup {
	idx := map[string]int{}
	var out []recordGroup
	for _, r := range page {
		key := a.cfg.Grouping.Key(r.Client)
		i, ok := idx[key]
		if !ok {
			i = len(out)
			idx[key] = i
			out = append(out, recordGroup{key: key})
		}
		out[i].records = append(out[i].records, r)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].key < out[j].key })
	return out
}

func (a *Archiver) archiveGroup(ctx context.Context, group string, recs []records.LogRecord) ([]string, error) {
	var w *groupWriter
	err := a.store.InTransaction(ctx, func(tx *records.Store) error {
		prev, err := tx.ArchiveDigest(ctx, group)
		if err != nil {
			return err
		}
		previous := ""
		if prev != nil {
			previous = prev.LastDigest
		}

		w = newGroupWriter(a.cfg.Path, a.cfg.HashAlgorithm, a.cfg.MaxFilesize, previous, a.recipients(group))
		ids := make([]int64, 0, len(recs))
		for i := range recs {
			if err := w.add(&recs[i]); err != nil {
				return err
			}
			ids = append(ids, recs[i].ID)
		}
		last, lastFile, err := w.finish()
		if err != nil {
			return err
		}

		if err := tx.SaveArchiveDigest(ctx, &records.ArchiveDigest{
			GroupName:   group,
			LastArchive: lastFile,
			LastDigest:  last,
		}); err != nil {
			return err
		}
		return tx.MarkArchived(ctx, ids)
	})
	if err != nil {
		if w != nil {
			w.abort()
		}
		return nil, err
	}
	return w.produced, nil
}

func (a *Archiver) recipients(group string) []*openpgp.Entity {
	if a.keys == nil {
		return nil
	}
	return a.keys.recipients(group)
}
