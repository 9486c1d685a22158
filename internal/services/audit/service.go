// Package audit implements the audit recorder. Reveal and delete operations
// require a durable entry before they may return; everything else records
// best-effort with a logged warning on failure.
package audit

import (
	"context"
	"time"

	"github.com/R3E-Network/credential_layer/internal/domain/audit"
	svcerr "github.com/R3E-Network/credential_layer/internal/errors"
	"github.com/R3E-Network/credential_layer/internal/logging"
	"github.com/R3E-Network/credential_layer/internal/storage"
)

// Recorder appends audit entries to the store.
type Recorder struct {
	store  storage.AuditStore
	logger *logging.Logger
}

// NewRecorder creates an audit recorder.
func NewRecorder(store storage.AuditStore, logger *logging.Logger) *Recorder {
	if logger == nil {
		logger = logging.NewDefault("audit")
	}
	return &Recorder{store: store, logger: logger}
}

// Record appends an entry synchronously. A write failure is fatal to the
// calling operation: it returns AuditFailure and the caller must not proceed.
func (r *Recorder) Record(ctx context.Context, entry audit.Entry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if _, err := r.store.AppendAuditEntry(ctx, entry); err != nil {
		return svcerr.AuditFailure(err)
	}
	return nil
}

// RecordBestEffort appends an entry and only logs on failure. Used for
// operations where the metadata row itself is the system of record.
func (r *Recorder) RecordBestEffort(ctx context.Context, entry audit.Entry) {
	if err := r.Record(ctx, entry); err != nil {
		r.logger.WithError(err).WithFields(map[string]any{
			"action":      entry.Action,
			"resource_id": entry.ResourceID,
			"user_id":     entry.UserID,
		}).Warn("audit entry could not be written")
	}
}

// List returns recent entries matching the filter, newest first.
func (r *Recorder) List(ctx context.Context, filter storage.AuditFilter) ([]audit.Entry, error) {
	entries, err := r.store.ListAuditEntries(ctx, filter)
	if err != nil {
		return nil, svcerr.Internal("list audit entries", err)
	}
	return entries, nil
}
