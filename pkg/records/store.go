package records

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrTimestampSaveFailed marks a failure to persist a timestamp record and
	// its links. The TSA call that produced the token may have succeeded.
	ErrTimestampSaveFailed = errors.New("timestamp record save failed")

	// ErrNothingToAttach is returned when every record of a batch already
	// carries a timestamp, so no new timestamp record was kept.
	ErrNothingToAttach = errors.New("no untimestamped records to attach")
)

// Store provides database operations for log records, timestamp records and
// archive digests.
type Store struct {
	db *gorm.DB
}

// NewStore creates a new Store.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// AutoMigrate creates or updates the tables.
func (s *Store) AutoMigrate() error {
	return s.db.AutoMigrate(&TimestampRecord{}, &LogRecord{}, &Attachment{}, &ArchiveDigest{})
}

// Ping checks that the underlying database answers.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

// InTransaction runs fn against a Store bound to a single transaction.
func (s *Store) InTransaction(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx})
	})
}

// Save inserts a new record together with its attachments and returns the
// assigned id.
func (s *Store) Save(ctx context.Context, r *LogRecord) (int64, error) {
	if r.Time.IsZero() {
		r.Time = time.Now()
	}
	r.Time = r.Time.UTC()
	if r.Kind == "" {
		r.Kind = KindMessage
	}
	for i := range r.Attachments {
		r.Attachments[i].Position = i
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Omit("TimestampRecord").Create(r).Error
	})
	if err != nil {
		return 0, fmt.Errorf("save log record: %w", err)
	}
	return r.ID, nil
}

// Get returns a record with its attachments. Returns nil, nil if not found.
func (s *Store) Get(ctx context.Context, id int64) (*LogRecord, error) {
	var r LogRecord
	err := s.db.WithContext(ctx).
		Preload("Attachments", orderByPosition).
		Preload("TimestampRecord").
		First(&r, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get log record: %w", err)
	}
	return &r, nil
}

// FindByQueryID returns the first record (lowest id) with the given query id
// created within [from, to]. Returns nil, nil if none matches.
func (s *Store) FindByQueryID(ctx context.Context, queryID string, from, to time.Time) (*LogRecord, error) {
	var r LogRecord
	err := s.db.WithContext(ctx).
		Preload("Attachments", orderByPosition).
		Where("query_id = ? AND time >= ? AND time <= ?", queryID, from.UTC(), to.UTC()).
		Order("id ASC").
		First(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find log record by query id: %w", err)
	}
	return &r, nil
}

// Query narrows a query id lookup down to an exact exchange.
type Query struct {
	QueryID    string
	Client     *ClientID
	Response   *bool
	XRequestID string
}

// FindByQuery returns all records matching q, oldest first.
func (s *Store) FindByQuery(ctx context.Context, q Query) ([]LogRecord, error) {
	tx := s.db.WithContext(ctx).Where("query_id = ?", q.QueryID)
	if q.Client != nil {
		tx = tx.Where("client_instance = ? AND client_member_class = ? AND client_member_code = ? AND client_subsystem_code = ?",
			q.Client.Instance, q.Client.MemberClass, q.Client.MemberCode, q.Client.Subsystem)
	}
	if q.Response != nil {
		tx = tx.Where("response = ?", *q.Response)
	}
	if q.XRequestID != "" {
		tx = tx.Where("x_request_id = ?", q.XRequestID)
	}
	var out []LogRecord
	if err := tx.Order("id ASC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("find log records: %w", err)
	}
	return out, nil
}

// PendingIDs returns the ids of all records that have no timestamp yet, in id
// order.
func (s *Store) PendingIDs(ctx context.Context) ([]int64, error) {
	var ids []int64
	err := s.db.WithContext(ctx).Model(&LogRecord{}).
		Where("timestamp_record_id IS NULL").
		Order("id ASC").
		Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("list pending record ids: %w", err)
	}
	return ids, nil
}

// DigestRow is the slice of a record needed to build a hash chain.
type DigestRow struct {
	ID                int64
	SignatureHash     string
	TimestampRecordID *int64
}

// LoadDigests returns the digest rows for ids in the order the ids were
// given. Ids that do not exist are left out.
func (s *Store) LoadDigests(ctx context.Context, ids []int64) ([]DigestRow, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var rows []DigestRow
	err := s.db.WithContext(ctx).Model(&LogRecord{}).
		Select("id", "signature_hash", "timestamp_record_id").
		Where("id IN ?", ids).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("load record digests: %w", err)
	}
	byID := make(map[int64]DigestRow, len(rows))
	for _, r := range rows {
		byID[r.ID] = r
	}
	out := make([]DigestRow, 0, len(rows))
	for _, id := range ids {
		if r, ok := byID[id]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

// AttachTimestamp stores ts and links it to every record in recordIDs, with
// hashChains[i] stored as the proof of recordIDs[i]. It is all-or-nothing.
// Records that already have a timestamp are left untouched and are not
// listed in ts.RecordIDs; if that applies to all of them nothing is stored
// and ErrNothingToAttach is returned. Database failures wrap
// ErrTimestampSaveFailed.
func (s *Store) AttachTimestamp(ctx context.Context, recordIDs []int64, ts *TimestampRecord, hashChains []string) error {
	if len(recordIDs) == 0 {
		return ErrNothingToAttach
	}
	if len(hashChains) != len(recordIDs) {
		return fmt.Errorf("attach timestamp: %d hash chains for %d records", len(hashChains), len(recordIDs))
	}

	ts.RecordIDs = recordIDs
	ts.HashChains = hashChains
	if ts.Time.IsZero() {
		ts.Time = time.Now()
	}
	ts.Time = ts.Time.UTC()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(ts).Error; err != nil {
			return fmt.Errorf("%w: insert timestamp record: %w", ErrTimestampSaveFailed, err)
		}

		var (
			linked []int64
			chains []string
		)
		for i, id := range recordIDs {
			res := tx.Model(&LogRecord{}).
				Where("id = ? AND timestamp_record_id IS NULL", id).
				Updates(map[string]any{
					"timestamp_record_id":  ts.ID,
					"timestamp_hash_chain": hashChains[i],
				})
			if res.Error != nil {
				return fmt.Errorf("%w: link record %d: %w", ErrTimestampSaveFailed, id, res.Error)
			}
			if res.RowsAffected > 0 {
				linked = append(linked, id)
				chains = append(chains, hashChains[i])
			}
		}
		if len(linked) == 0 {
			return ErrNothingToAttach
		}
		if len(linked) == len(recordIDs) {
			return nil
		}

		ts.RecordIDs = linked
		ts.HashChains = chains
		if err := tx.Model(ts).Select("record_ids", "hash_chains").Updates(ts).Error; err != nil {
			return fmt.Errorf("%w: update timestamp record: %w", ErrTimestampSaveFailed, err)
		}
		return nil
	})
	if err != nil {
		ts.ID = 0
		if errors.Is(err, ErrNothingToAttach) || errors.Is(err, ErrTimestampSaveFailed) {
			return err
		}
		return fmt.Errorf("%w: %w", ErrTimestampSaveFailed, err)
	}
	return nil
}

// GetTimestampRecord returns a timestamp record by id. Returns nil, nil if not
// found.
func (s *Store) GetTimestampRecord(ctx context.Context, id int64) (*TimestampRecord, error) {
	var ts TimestampRecord
	err := s.db.WithContext(ctx).First(&ts, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get timestamp record: %w", err)
	}
	return &ts, nil
}

// ListArchivable returns up to limit timestamped, unarchived records with id
// greater than afterID, oldest first, with attachments and timestamp loaded.
func (s *Store) ListArchivable(ctx context.Context, afterID int64, limit int) ([]LogRecord, error) {
	var out []LogRecord
	err := s.db.WithContext(ctx).
		Preload("Attachments", orderByPosition).
		Preload("TimestampRecord").
		Where("timestamp_record_id IS NOT NULL AND archived = ? AND id > ?", false, afterID).
		Order("id ASC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list archivable records: %w", err)
	}
	return out, nil
}

// MarkArchived flags the given records as archived.
func (s *Store) MarkArchived(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).Model(&LogRecord{}).
		Where("id IN ?", ids).
		Update("archived", true).Error
	if err != nil {
		return fmt.Errorf("mark records archived: %w", err)
	}
	return nil
}

// MarkTimestampRecordsArchived flags every timestamp record none of whose
// records is still unarchived.
func (s *Store) MarkTimestampRecordsArchived(ctx context.Context) (int64, error) {
	db := s.db.WithContext(ctx)
	unarchived := db.Session(&gorm.Session{NewDB: true}).Model(&LogRecord{}).
		Select("1").
		Where("log_records.timestamp_record_id = timestamp_records.id AND log_records.archived = ?", false)
	res := db.Model(&TimestampRecord{}).
		Where("archived = ?", false).
		Where("NOT EXISTS (?)", unarchived).
		Update("archived", true)
	if res.Error != nil {
		return 0, fmt.Errorf("mark timestamp records archived: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// ArchiveDigest returns the digest of group, or nil, nil if the group has
// never been archived.
func (s *Store) ArchiveDigest(ctx context.Context, group string) (*ArchiveDigest, error) {
	var d ArchiveDigest
	err := s.db.WithContext(ctx).First(&d, "group_name = ?", group).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get archive digest: %w", err)
	}
	return &d, nil
}

// SaveArchiveDigest replaces the digest of d.GroupName.
func (s *Store) SaveArchiveDigest(ctx context.Context, d *ArchiveDigest) error {
	d.UpdatedAt = time.Now().UTC()
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "group_name"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_archive", "last_digest", "updated_at"}),
	}).Create(d).Error
	if err != nil {
		return fmt.Errorf("save archive digest: %w", err)
	}
	return nil
}

// DeleteOlderThan removes archived records created before cutoff, their
// attachments, and archived timestamp records that no longer cover any
// record. It returns the number of log records deleted.
func (s *Store) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	cutoff = cutoff.UTC()
	var deleted int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		expired := tx.Session(&gorm.Session{NewDB: true}).Model(&LogRecord{}).
			Select("id").
			Where("archived = ? AND time < ?", true, cutoff)
		if err := tx.Where("log_record_id IN (?)", expired).Delete(&Attachment{}).Error; err != nil {
			return fmt.Errorf("delete attachments: %w", err)
		}

		res := tx.Where("archived = ? AND time < ?", true, cutoff).Delete(&LogRecord{})
		if res.Error != nil {
			return fmt.Errorf("delete log records: %w", res.Error)
		}
		deleted = res.RowsAffected

		referenced := tx.Session(&gorm.Session{NewDB: true}).Model(&LogRecord{}).
			Select("timestamp_record_id").
			Where("timestamp_record_id IS NOT NULL")
		err := tx.Where("archived = ? AND time < ? AND id NOT IN (?)", true, cutoff, referenced).
			Delete(&TimestampRecord{}).Error
		if err != nil {
			return fmt.Errorf("delete timestamp records: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("delete expired records: %w", err)
	}
	return deleted, nil
}

// Stats counts records by lifecycle stage.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	var st Stats
	db := s.db.WithContext(ctx).Model(&LogRecord{})
	if err := db.Session(&gorm.Session{}).Count(&st.Total).Error; err != nil {
		return nil, fmt.Errorf("count records: %w", err)
	}
	if err := db.Session(&gorm.Session{}).Where("timestamp_record_id IS NULL").Count(&st.Untimestamped).Error; err != nil {
		return nil, fmt.Errorf("count untimestamped records: %w", err)
	}
	if err := db.Session(&gorm.Session{}).Where("archived = ?", true).Count(&st.Archived).Error; err != nil {
		return nil, fmt.Errorf("count archived records: %w", err)
	}
	st.Unarchived = st.Total - st.Archived
	return &st, nil
}

func orderByPosition(db *gorm.DB) *gorm.DB {
	return db.Order("position ASC")
}
