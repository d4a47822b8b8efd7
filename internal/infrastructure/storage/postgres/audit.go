package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/klauspost/compress/zstd"

	appctx "backoffice/internal/core/context"
	"backoffice/internal/core/id"
	"backoffice/internal/core/numerator"
)

// AuditAction represents the type of audited operation.
type AuditAction string

const (
	AuditActionRenumber AuditAction = "renumber"
)

// EntityNumberingScope is the sys_audit entity type of renumbering entries.
const EntityNumberingScope = "numbering_scope"

// CompressionAlgo specifies the compression algorithm used.
type CompressionAlgo string

const (
	CompressionNone CompressionAlgo = "none"
	CompressionZstd CompressionAlgo = "zstd"
)

// DefaultCompressThreshold is the changes size above which payloads are compressed.
const DefaultCompressThreshold = 10 * 1024

// AuditEntry is one sys_audit row.
type AuditEntry struct {
	ID                id.ID           `db:"id"`
	EntityType        string          `db:"entity_type"`
	EntityID          string          `db:"entity_id"`
	Action            AuditAction     `db:"action"`
	UserID            string          `db:"user_id"`
	Changes           json.RawMessage `db:"changes"`
	ChangesCompressed []byte          `db:"changes_compressed"`
	CompressionAlgo   CompressionAlgo `db:"compression_algo"`
	Metadata          json.RawMessage `db:"metadata"`
	CreatedAt         time.Time       `db:"created_at"`
}

// renumberMetadata is stored next to the changes of a renumbering.
type renumberMetadata struct {
	TenantID  string `json:"tenantId"`
	DocType   string `json:"docType"`
	Period    string `json:"period"`
	Count     int    `json:"count"`
	RequestID string `json:"requestId,omitempty"`
}

// Compile-time check that AuditService implements numerator.Auditor.
var _ numerator.Auditor = (*AuditService)(nil)

// AuditService writes renumbering history into sys_audit inside the caller's transaction.
type AuditService struct {
	txManager         *TxManager
	encoder           *zstd.Encoder
	decoder           *zstd.Decoder
	compressThreshold int
}

// NewAuditService creates a new audit service.
func NewAuditService(txManager *TxManager) (*AuditService, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}

	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}

	return &AuditService{
		txManager:         txManager,
		encoder:           encoder,
		decoder:           decoder,
		compressThreshold: DefaultCompressThreshold,
	}, nil
}

// RecordRenumbering implements numerator.Auditor.
// Large scopes produce large change lists, which are stored zstd-compressed.
func (s *AuditService) RecordRenumbering(ctx context.Context, scope numerator.Scope, changes []numerator.Change) error {
	changesJSON, err := json.Marshal(changes)
	if err != nil {
		return fmt.Errorf("marshal changes: %w", err)
	}
	meta, err := json.Marshal(renumberMetadata{
		TenantID:  scope.TenantID,
		DocType:   scope.DocType,
		Period:    scope.Period.Label(),
		Count:     len(changes),
		RequestID: appctx.GetRequestID(ctx),
	})
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	return s.Log(ctx, AuditEntry{
		EntityType: EntityNumberingScope,
		EntityID:   scope.Key(),
		Action:     AuditActionRenumber,
		Changes:    changesJSON,
		Metadata:   meta,
	})
}

// Log records an audit entry.
func (s *AuditService) Log(ctx context.Context, entry AuditEntry) error {
	if entry.UserID == "" {
		entry.UserID = appctx.GetUserID(ctx)
	}
	if id.IsNil(entry.ID) {
		entry.ID = id.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	s.deflate(&entry)

	sql, args, err := Builder().
		Insert("sys_audit").
		Columns("id", "entity_type", "entity_id", "action", "user_id",
			"changes", "changes_compressed", "compression_algo", "metadata", "created_at").
		Values(entry.ID, entry.EntityType, entry.EntityID, entry.Action, entry.UserID,
			entry.Changes, entry.ChangesCompressed, entry.CompressionAlgo, entry.Metadata, entry.CreatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("build audit insert: %w", err)
	}

	if _, err := s.txManager.GetQuerier(ctx).Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// RenumberingHistory returns the newest renumberings of a scope, decompressed.
func (s *AuditService) RenumberingHistory(ctx context.Context, scopeKey string, limit int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	sql, args, err := Builder().
		Select("id", "entity_type", "entity_id", "action", "user_id",
			"changes", "changes_compressed", "compression_algo", "metadata", "created_at").
		From("sys_audit").
		Where("entity_type = ? AND entity_id = ?", EntityNumberingScope, scopeKey).
		OrderBy("created_at DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build history query: %w", err)
	}

	rows, err := s.txManager.GetQuerier(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var entries []AuditEntry
	for rows.Next() {
		var e AuditEntry
		if err := rows.Scan(
			&e.ID, &e.EntityType, &e.EntityID, &e.Action, &e.UserID,
			&e.Changes, &e.ChangesCompressed, &e.CompressionAlgo, &e.Metadata, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		if err := s.inflate(&e); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *AuditService) deflate(e *AuditEntry) {
	e.CompressionAlgo = CompressionNone
	if len(e.Changes) > s.compressThreshold {
		e.ChangesCompressed = s.encoder.EncodeAll(e.Changes, nil)
		e.Changes = nil
		e.CompressionAlgo = CompressionZstd
	}
}

func (s *AuditService) inflate(e *AuditEntry) error {
	if e.CompressionAlgo != CompressionZstd || len(e.ChangesCompressed) == 0 {
		return nil
	}
	decompressed, err := s.decoder.DecodeAll(e.ChangesCompressed, nil)
	if err != nil {
		return fmt.Errorf("decompress changes: %w", err)
	}
	e.Changes = decompressed
	e.ChangesCompressed = nil
	return nil
}

// DecodeChanges parses the change list of a renumbering entry.
func DecodeChanges(e AuditEntry) ([]numerator.Change, error) {
	var changes []numerator.Change
	if len(e.Changes) == 0 {
		return changes, nil
	}
	if err := json.Unmarshal(e.Changes, &changes); err != nil {
		return nil, fmt.Errorf("decode changes: %w", err)
	}
	return changes, nil
}
