package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/streamwager/wagerd/internal/domain"
)

// settledRecord is one JSONL line in a settled-markets archive: the final
// market snapshot together with every stake row it closed with.
type settledRecord struct {
	Market domain.Market  `json:"market"`
	Stakes []domain.Stake `json:"stakes"`
}

// Archiver implements domain.Archiver by exporting terminal-state markets
// and old audit entries to object storage as JSONL. Nothing is deleted from
// the primary store; the archive is an audit export.
type Archiver struct {
	writer  domain.BlobWriter
	markets domain.MarketStore
	stakes  domain.StakeStore
	audit   domain.AuditStore

	// Marks are the upper bounds of the last completed sweeps. Each sweep
	// exports only the [mark, before) delta and the mark advances only once
	// the sweep succeeds, so a failed upload is retried on the next cycle.
	// After a restart the first sweep re-exports the current window once.
	mu          sync.Mutex
	settledMark time.Time
	auditMark   time.Time
}

// NewArchiver creates an Archiver over the given stores.
func NewArchiver(writer domain.BlobWriter, markets domain.MarketStore, stakes domain.StakeStore, audit domain.AuditStore) *Archiver {
	return &Archiver{
		writer:  writer,
		markets: markets,
		stakes:  stakes,
		audit:   audit,
	}
}

// ArchiveSettled exports resolved or cancelled markets last updated since
// the previous sweep and before the cutoff, with their stakes, to a
// per-sweep object under archive/settled/. It returns the number of markets
// archived.
func (a *Archiver) ArchiveSettled(ctx context.Context, before time.Time) (int64, error) {
	a.mu.Lock()
	since := a.settledMark
	a.mu.Unlock()

	markets, err := a.markets.ListTerminalBetween(ctx, since, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive settled query: %w", err)
	}
	if len(markets) == 0 {
		a.advanceSettled(before)
		return 0, nil
	}

	records := make([]settledRecord, 0, len(markets))
	for _, m := range markets {
		stakes, err := a.stakes.ListByMarket(ctx, m.ID)
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive settled stakes for market %d: %w", m.ID, err)
		}
		records = append(records, settledRecord{Market: m, Stakes: stakes})
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive settled marshal: %w", err)
	}

	path := archivePath("settled", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive settled upload: %w", err)
	}
	a.advanceSettled(before)

	count := int64(len(records))
	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive.settled", map[string]any{
			"path":   path,
			"count":  count,
			"since":  since.Format(time.RFC3339),
			"before": before.Format(time.RFC3339),
		}); err != nil {
			return count, fmt.Errorf("s3blob: archive settled audit log: %w", err)
		}
	}
	return count, nil
}

// ArchiveAuditLog exports audit entries created since the previous sweep and
// before the cutoff to a per-sweep object under archive/audit/. It returns
// the number of entries archived.
func (a *Archiver) ArchiveAuditLog(ctx context.Context, before time.Time) (int64, error) {
	a.mu.Lock()
	since := a.auditMark
	a.mu.Unlock()

	entries, err := a.audit.List(ctx, domain.ListOpts{Since: &since, Until: &before})
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit query: %w", err)
	}
	if len(entries) == 0 {
		a.advanceAudit(before)
		return 0, nil
	}

	buf, err := marshalJSONL(entries)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit marshal: %w", err)
	}

	path := archivePath("audit", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive audit upload: %w", err)
	}
	a.advanceAudit(before)
	return int64(len(entries)), nil
}

func (a *Archiver) advanceSettled(to time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if to.After(a.settledMark) {
		a.settledMark = to
	}
}

func (a *Archiver) advanceAudit(to time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if to.After(a.auditMark) {
		a.auditMark = to
	}
}

// archivePath builds a per-sweep object key, partitioned by the cutoff's
// year-month so one month's sweeps list together.
func archivePath(kind string, before time.Time) string {
	u := before.UTC()
	return fmt.Sprintf("archive/%s/%s/%s.jsonl", kind, u.Format("2006-01"), u.Format("20060102T150405Z"))
}

// marshalJSONL serialises records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

var _ domain.Archiver = (*Archiver)(nil)
