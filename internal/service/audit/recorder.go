// Package audit records a tamper-evident trail of report actions.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"fleet-reports/internal/domain"
	"fleet-reports/internal/metrics"
)

// Event describes one audited action.
type Event struct {
	Action   domain.AuditAction
	Outcome  domain.AuditOutcome
	ReportID *string
	Spec     *domain.QuerySpecification
	Err      error
	Duration time.Duration
}

// VerifyResult is the outcome of walking a tenant's audit chain.
type VerifyResult struct {
	TenantID string `json:"tenant_id"`
	Entries  int    `json:"entries"`
	Valid    bool   `json:"valid"`
	// BrokenAt is the id of the first entry whose link does not verify.
	BrokenAt string `json:"broken_at,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// Recorder appends audit entries. Entries of one tenant are chained: each
// stores the hash of its predecessor, and its own hash covers that link.
type Recorder struct {
	repo   domain.AuditRepository
	logger *slog.Logger
	now    func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewRecorder creates a Recorder backed by repo.
func NewRecorder(repo domain.AuditRepository, logger *slog.Logger) *Recorder {
	return &Recorder{
		repo:   repo,
		logger: logger,
		now:    time.Now,
		locks:  make(map[string]*sync.Mutex),
	}
}

// Record appends an entry for ev. It never fails the caller: write errors are
// logged and counted.
func (r *Recorder) Record(ctx context.Context, tenant domain.TenantContext, ev Event) {
	if r == nil || r.repo == nil {
		return
	}
	// An audit entry outlives a cancelled request.
	ctx = context.WithoutCancel(ctx)

	spec, err := normalizeSpec(ev.Spec)
	if err != nil {
		r.fail(&domain.AuditEntry{TenantID: tenant.TenantID, ActorID: tenant.ActorID, Action: ev.Action, Outcome: ev.Outcome}, err)
		return
	}
	entry := &domain.AuditEntry{
		ID:            domain.NewID(),
		ActorID:       tenant.ActorID,
		TenantID:      tenant.TenantID,
		Action:        ev.Action,
		Outcome:       ev.Outcome,
		ReportID:      ev.ReportID,
		Specification: spec,
		DurationMs:    float64(ev.Duration.Microseconds()) / 1000,
		CreatedAt:     r.now().UTC().Truncate(time.Microsecond),
	}
	if ev.Err != nil {
		msg := ev.Err.Error()
		entry.ErrorMessage = &msg
	}

	lock := r.tenantLock(tenant.TenantID)
	lock.Lock()
	defer lock.Unlock()

	prev, err := r.repo.LastHash(ctx, tenant.TenantID)
	if err != nil {
		r.fail(entry, fmt.Errorf("read chain head: %w", err))
		return
	}
	entry.PrevHash = prev
	hash, err := Hash(entry)
	if err != nil {
		r.fail(entry, err)
		return
	}
	entry.Hash = hash
	if err := r.repo.Append(ctx, entry); err != nil {
		r.fail(entry, err)
	}
}

// List returns audit entries matching filter.
func (r *Recorder) List(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditEntry, int64, error) {
	return r.repo.List(ctx, filter)
}

// Verify walks the chain of tenantID from its first entry and reports the
// first entry whose link or hash does not match.
func (r *Recorder) Verify(ctx context.Context, tenantID string) (*VerifyResult, error) {
	entries, err := r.repo.ListChain(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list audit chain: %w", err)
	}
	res := &VerifyResult{TenantID: tenantID, Entries: len(entries), Valid: true}
	prev := ""
	for i := range entries {
		e := &entries[i]
		if e.PrevHash != prev {
			res.Valid, res.BrokenAt, res.Reason = false, e.ID, "previous hash does not match"
			return res, nil
		}
		want, err := Hash(e)
		if err != nil {
			return nil, err
		}
		if want != e.Hash {
			res.Valid, res.BrokenAt, res.Reason = false, e.ID, "entry hash does not match contents"
			return res, nil
		}
		prev = e.Hash
	}
	return res, nil
}

// hashedEntry is the canonical form covered by an entry's hash.
type hashedEntry struct {
	ID            string              `json:"id"`
	ActorID       string              `json:"actor_id"`
	TenantID      string              `json:"tenant_id"`
	Action        domain.AuditAction  `json:"action"`
	Outcome       domain.AuditOutcome `json:"outcome"`
	ReportID      *string             `json:"report_id"`
	Specification json.RawMessage     `json:"specification"`
	ErrorMessage  *string             `json:"error_message"`
	DurationMs    float64             `json:"duration_ms"`
	CreatedAt     string              `json:"created_at"`
}

// Hash computes sha256(prevHash | canonical entry) as lowercase hex. The
// specification is hashed in the form it has after a trip through storage.
func Hash(e *domain.AuditEntry) (string, error) {
	spec, err := normalizeSpec(e.Specification)
	if err != nil {
		return "", err
	}
	specJSON, err := json.Marshal(spec)
	if err != nil {
		return "", fmt.Errorf("encode audit specification: %w", err)
	}
	body, err := json.Marshal(hashedEntry{
		ID:            e.ID,
		ActorID:       e.ActorID,
		TenantID:      e.TenantID,
		Action:        e.Action,
		Outcome:       e.Outcome,
		ReportID:      e.ReportID,
		Specification: specJSON,
		ErrorMessage:  e.ErrorMessage,
		DurationMs:    e.DurationMs,
		CreatedAt:     e.CreatedAt.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return "", fmt.Errorf("encode audit entry: %w", err)
	}
	h := sha256.New()
	h.Write([]byte(e.PrevHash))
	h.Write([]byte{'|'})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// normalizeSpec round-trips spec through JSON so condition values take the
// types they decode to, e.g. integers become float64.
func normalizeSpec(spec *domain.QuerySpecification) (*domain.QuerySpecification, error) {
	if spec == nil {
		return nil, nil
	}
	b, err := json.Marshal(spec)
	if err != nil {
		return nil, fmt.Errorf("encode audit specification: %w", err)
	}
	var out domain.QuerySpecification
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("decode audit specification: %w", err)
	}
	return &out, nil
}

func (r *Recorder) tenantLock(tenantID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[tenantID]
	if !ok {
		l = &sync.Mutex{}
		r.locks[tenantID] = l
	}
	return l
}

func (r *Recorder) fail(e *domain.AuditEntry, err error) {
	metrics.AuditWriteFailures.Inc()
	r.logger.Warn("audit write failed",
		"tenant_id", e.TenantID,
		"actor_id", e.ActorID,
		"action", e.Action,
		"outcome", e.Outcome,
		"error", err,
	)
}
