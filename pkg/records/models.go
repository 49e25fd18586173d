// Package records is the durable store for logged messages, the timestamp
// records that cover them and the per-group archive digests.
package records

import (
	"fmt"
	"time"
)

// RecordKind discriminates the two log record flavours sharing one table.
type RecordKind string

const (
	// KindMessage is a SOAP message record.
	KindMessage RecordKind = "message"
	// KindRest is a REST request or response record.
	KindRest RecordKind = "rest"
)

// ClientID identifies the member or subsystem on whose behalf a message was
// exchanged.
type ClientID struct {
	Instance    string `gorm:"column:client_instance;index:idx_log_client,priority:1" json:"instance"`
	MemberClass string `gorm:"column:client_member_class;index:idx_log_client,priority:2" json:"memberClass"`
	MemberCode  string `gorm:"column:client_member_code;index:idx_log_client,priority:3" json:"memberCode"`
	Subsystem   string `gorm:"column:client_subsystem_code" json:"subsystemCode,omitempty"`
}

// MemberKey is the client's member identity without the subsystem part.
func (c ClientID) MemberKey() string {
	return fmt.Sprintf("%s/%s/%s", c.Instance, c.MemberClass, c.MemberCode)
}

// String renders the full identity, including the subsystem when present.
func (c ClientID) String() string {
	if c.Subsystem == "" {
		return c.MemberKey()
	}
	return c.MemberKey() + "/" + c.Subsystem
}

// LogRecord is one logged request or response. Everything except Archived
// and the timestamp link is immutable after insert.
type LogRecord struct {
	ID         int64      `gorm:"primaryKey;column:id;autoIncrement" json:"id"`
	Kind       RecordKind `gorm:"column:kind;type:varchar(16);not null;default:message" json:"kind"`
	QueryID    string     `gorm:"column:query_id;type:varchar(255);index:idx_log_query_time,priority:1;not null" json:"queryId"`
	XRequestID string     `gorm:"column:x_request_id;type:varchar(255);index" json:"xRequestId,omitempty"`
	Time       time.Time  `gorm:"column:time;index:idx_log_query_time,priority:2;index:idx_log_time;not null" json:"time"`
	Response   bool       `gorm:"column:response;not null" json:"response"`
	Client     ClientID   `gorm:"embedded" json:"client"`
	ServiceID  string     `gorm:"column:service_id" json:"serviceId,omitempty"`

	Message         []byte `gorm:"column:message" json:"-"`
	RestMethod      string `gorm:"column:rest_method" json:"restMethod,omitempty"`
	RestPath        string `gorm:"column:rest_path" json:"restPath,omitempty"`
	RestHeadersHash string `gorm:"column:rest_headers_hash" json:"restHeadersHash,omitempty"`
	BodyTruncated   bool   `gorm:"column:body_truncated;not null" json:"bodyTruncated,omitempty"`

	Signature                []byte `gorm:"column:signature;not null" json:"-"`
	SignatureHash            string `gorm:"column:signature_hash;not null" json:"signatureHash"`
	SignatureHashChainResult []byte `gorm:"column:signature_hash_chain_result" json:"-"`
	SignatureHashChain       []byte `gorm:"column:signature_hash_chain" json:"-"`
	SigningCertRef           string `gorm:"column:signing_cert_ref" json:"signingCertRef,omitempty"`

	Archived           bool   `gorm:"column:archived;index;not null" json:"archived"`
	TimestampRecordID  *int64 `gorm:"column:timestamp_record_id;index" json:"timestampRecordId,omitempty"`
	TimestampHashChain string `gorm:"column:timestamp_hash_chain" json:"-"`

	TimestampRecord *TimestampRecord `gorm:"foreignKey:TimestampRecordID" json:"-"`
	Attachments     []Attachment     `gorm:"foreignKey:LogRecordID" json:"-"`
}

// TableName returns the GORM table name.
func (LogRecord) TableName() string { return "log_records" }

// IsTimestamped reports whether a timestamp record covers this record.
func (r *LogRecord) IsTimestamped() bool { return r.TimestampRecordID != nil }

// IsBatchSigned reports whether the signature was produced over a batch hash
// chain rather than the message directly.
func (r *LogRecord) IsBatchSigned() bool { return len(r.SignatureHashChainResult) > 0 }

// Attachment is a SOAP attachment or the cached body of a REST message.
type Attachment struct {
	ID          int64  `gorm:"primaryKey;column:id;autoIncrement"`
	LogRecordID int64  `gorm:"column:log_record_id;index;not null"`
	Position    int    `gorm:"column:position;not null"`
	ContentType string `gorm:"column:content_type"`
	Data        []byte `gorm:"column:data"`
}

// TableName returns the GORM table name.
func (Attachment) TableName() string { return "log_record_attachments" }

// TimestampRecord holds the TSA token covering a batch of log records. The
// per-record proofs in HashChains line up with RecordIDs by position.
type TimestampRecord struct {
	ID              int64     `gorm:"primaryKey;column:id;autoIncrement" json:"id"`
	Time            time.Time `gorm:"column:time;index;not null" json:"time"`
	TimestampDER    []byte    `gorm:"column:timestamp_der;not null" json:"timestampDer"`
	HashChainResult []byte    `gorm:"column:hash_chain_result;not null" json:"hashChainResult"`
	HashChains      []string  `gorm:"column:hash_chains;type:text;serializer:json" json:"hashChains"`
	RecordIDs       []int64   `gorm:"column:record_ids;type:text;serializer:json" json:"recordIds"`
	TSAURL          string    `gorm:"column:tsa_url" json:"tsaUrl"`
	Archived        bool      `gorm:"column:archived;index;not null" json:"archived"`
}

// TableName returns the GORM table name.
func (TimestampRecord) TableName() string { return "timestamp_records" }

// HashChainFor returns the proof stored for recordID, or "" when the record is
// not covered by this timestamp.
func (t *TimestampRecord) HashChainFor(recordID int64) string {
	for i, id := range t.RecordIDs {
		if id == recordID && i < len(t.HashChains) {
			return t.HashChains[i]
		}
	}
	return ""
}

// ArchiveDigest is the rolling linking-info digest of one archive group at
// the moment its latest archive file was closed.
type ArchiveDigest struct {
	GroupName   string    `gorm:"primaryKey;column:group_name;type:varchar(255)"`
	LastArchive string    `gorm:"column:last_archive"`
	LastDigest  string    `gorm:"column:last_digest"`
	UpdatedAt   time.Time `gorm:"column:updated_at"`
}

// TableName returns the GORM table name.
func (ArchiveDigest) TableName() string { return "archive_digests" }

// Stats is a point-in-time count of records by lifecycle stage.
type Stats struct {
	Total         int64 `json:"total"`
	Untimestamped int64 `json:"untimestamped"`
	Unarchived    int64 `json:"unarchived"`
	Archived      int64 `json:"archived"`
}
