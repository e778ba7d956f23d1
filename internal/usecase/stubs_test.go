package usecase

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"verifactu/internal/domain"
	cryptoinfra "verifactu/internal/infra/crypto"
)

type stubRecordRepo struct {
	mu      sync.Mutex
	records []domain.InvoiceRecord
	nextID  int64

	createErr    error
	lastHashErr  error
	sequenceErr  error
	artifactsErr error
}

func newStubRecordRepo() *stubRecordRepo {
	return &stubRecordRepo{nextID: 1}
}

func (r *stubRecordRepo) Create(_ context.Context, record domain.InvoiceRecord) (domain.InvoiceRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return domain.InvoiceRecord{}, r.createErr
	}
	record.ID = r.nextID
	r.nextID++
	r.records = append(r.records, record)
	return record, nil
}

func (r *stubRecordRepo) GetByID(_ context.Context, id int64) (*domain.InvoiceRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.records {
		if r.records[i].ID == id {
			record := r.records[i]
			return &record, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *stubRecordRepo) LoadLastHash(_ context.Context, tenantID string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lastHashErr != nil {
		return "", r.lastHashErr
	}
	last := domain.RecordChainGenesis
	for _, record := range r.records {
		if record.TenantID == tenantID {
			last = record.HashRecord
		}
	}
	return last, nil
}

func (r *stubRecordRepo) LoadSequence(_ context.Context, tenantID string, fromID int64) ([]domain.InvoiceRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sequenceErr != nil {
		return nil, r.sequenceErr
	}
	var out []domain.InvoiceRecord
	for _, record := range r.records {
		if record.TenantID == tenantID && record.ID > fromID {
			out = append(out, record)
		}
	}
	return out, nil
}

func (r *stubRecordRepo) ListPending(_ context.Context) ([]domain.InvoiceRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.InvoiceRecord
	for _, record := range r.records {
		if record.Status == domain.RecordStatusPending && record.BatchID == nil {
			out = append(out, record)
		}
	}
	return out, nil
}

func (r *stubRecordRepo) ListByBatch(_ context.Context, batchID int64) ([]domain.InvoiceRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.InvoiceRecord
	for _, record := range r.records {
		if record.BatchID != nil && *record.BatchID == batchID {
			out = append(out, record)
		}
	}
	return out, nil
}

func (r *stubRecordRepo) AssignBatch(_ context.Context, recordIDs []int64, batchID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range recordIDs {
		for i := range r.records {
			if r.records[i].ID == id {
				assigned := batchID
				r.records[i].BatchID = &assigned
			}
		}
	}
	return nil
}

func (r *stubRecordRepo) UpdateStatus(_ context.Context, id int64, status domain.RecordStatus, code, message string, submittedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.records {
		if r.records[i].ID == id {
			r.records[i].Status = status
			r.records[i].ResponseCode = code
			r.records[i].ResponseMessage = message
			at := submittedAt
			r.records[i].SubmittedAt = &at
			return nil
		}
	}
	return domain.ErrNotFound
}

func (r *stubRecordRepo) SetArtifacts(_ context.Context, id int64, verificationURL string, qrImage []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.artifactsErr != nil {
		return r.artifactsErr
	}
	for i := range r.records {
		if r.records[i].ID == id {
			r.records[i].VerificationURL = verificationURL
			r.records[i].QRImage = qrImage
			return nil
		}
	}
	return domain.ErrNotFound
}

// tamper rewrites a stored record in place, bypassing the append-only
// contract, to simulate direct storage manipulation.
func (r *stubRecordRepo) tamper(id int64, mutate func(*domain.InvoiceRecord)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.records {
		if r.records[i].ID == id {
			mutate(&r.records[i])
		}
	}
}

type stubBatchRepo struct {
	mu      sync.Mutex
	batches map[int64]domain.RemisionBatch
	nextID  int64

	updateErr error
}

func newStubBatchRepo() *stubBatchRepo {
	return &stubBatchRepo{batches: map[int64]domain.RemisionBatch{}, nextID: 1}
}

func (r *stubBatchRepo) Create(_ context.Context, batch domain.RemisionBatch) (domain.RemisionBatch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	batch.ID = r.nextID
	r.nextID++
	r.batches[batch.ID] = batch
	return batch, nil
}

func (r *stubBatchRepo) GetByID(_ context.Context, id int64) (*domain.RemisionBatch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	batch, ok := r.batches[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &batch, nil
}

func (r *stubBatchRepo) Update(_ context.Context, batch domain.RemisionBatch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.updateErr != nil {
		return r.updateErr
	}
	if _, ok := r.batches[batch.ID]; !ok {
		return domain.ErrNotFound
	}
	r.batches[batch.ID] = batch
	return nil
}

func (r *stubBatchRepo) MarkSent(_ context.Context, batch domain.RemisionBatch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.batches[batch.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if current.Status != domain.BatchStatusQueued {
		return fmt.Errorf("%w: batch %d is no longer queued", domain.ErrBatchNotRetryable, batch.ID)
	}
	r.batches[batch.ID] = batch
	return nil
}

func (r *stubBatchRepo) ListByTenant(_ context.Context, tenantID string) ([]domain.RemisionBatch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.RemisionBatch
	for _, batch := range r.batches {
		if batch.TenantID == tenantID {
			out = append(out, batch)
		}
	}
	return out, nil
}

func (r *stubBatchRepo) ListDue(_ context.Context, now time.Time) ([]domain.RemisionBatch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.RemisionBatch
	for _, batch := range r.batches {
		if batch.Status == domain.BatchStatusQueued && batch.NextAttemptAt != nil && !batch.NextAttemptAt.After(now) {
			out = append(out, batch)
		}
	}
	return out, nil
}

// stubEventRepo mirrors the storage repository's append contract: it
// canonicalizes details and assigns seq and chain hashes.
type stubEventRepo struct {
	mu      sync.Mutex
	entries map[string][]domain.EventLogEntry

	appendErr error
	listErr   error
}

func newStubEventRepo() *stubEventRepo {
	return &stubEventRepo{entries: map[string][]domain.EventLogEntry{}}
}

func (r *stubEventRepo) Append(_ context.Context, entry domain.EventLogEntry) (domain.EventLogEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.appendErr != nil {
		return domain.EventLogEntry{}, r.appendErr
	}
	if entry.Details == nil {
		entry.Details = map[string]any{}
	}
	detailsJSON, err := cryptoinfra.CanonicalizeAny(entry.Details)
	if err != nil {
		return domain.EventLogEntry{}, err
	}
	entry.Details = detailsJSON
	entry.DetailsHash = cryptoinfra.SHA256Hex(detailsJSON)

	chain := r.entries[entry.TenantID]
	entry.Seq = int64(len(chain)) + 1
	entry.ID = fmt.Sprintf("evt-%s-%d", entry.TenantID, entry.Seq)
	if len(chain) == 0 {
		entry.HashPreviousEvent = domain.EventChainGenesis
	} else {
		entry.HashPreviousEvent = chain[len(chain)-1].HashEvent
	}
	hash, err := ComputeEventHash(entry)
	if err != nil {
		return domain.EventLogEntry{}, err
	}
	entry.HashEvent = hash
	r.entries[entry.TenantID] = append(chain, entry)
	return entry, nil
}

func (r *stubEventRepo) ListByTenant(_ context.Context, tenantID string) ([]domain.EventLogEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listErr != nil {
		return nil, r.listErr
	}
	out := make([]domain.EventLogEntry, len(r.entries[tenantID]))
	copy(out, r.entries[tenantID])
	return out, nil
}

func (r *stubEventRepo) tamper(tenantID string, seq int64, mutate func(*domain.EventLogEntry)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	chain := r.entries[tenantID]
	for i := range chain {
		if chain[i].Seq == seq {
			mutate(&chain[i])
		}
	}
}

type stubTenantRepo struct {
	mu      sync.Mutex
	configs map[string]domain.TenantConfig

	chainHeadErr error
}

func newStubTenantRepo(configs ...domain.TenantConfig) *stubTenantRepo {
	repo := &stubTenantRepo{configs: map[string]domain.TenantConfig{}}
	for _, cfg := range configs {
		repo.configs[cfg.TenantID] = cfg
	}
	return repo
}

func (r *stubTenantRepo) GetByTenant(_ context.Context, tenantID string) (*domain.TenantConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cfg, ok := r.configs[tenantID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &cfg, nil
}

func (r *stubTenantRepo) Update(_ context.Context, cfg domain.TenantConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configs[cfg.TenantID] = cfg
	return nil
}

func (r *stubTenantRepo) UpdateChainHead(_ context.Context, tenantID, lastHash string, lastRecordID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.chainHeadErr != nil {
		return r.chainHeadErr
	}
	cfg, ok := r.configs[tenantID]
	if !ok {
		return domain.ErrNotFound
	}
	cfg.LastChainHash = lastHash
	cfg.LastRecordID = lastRecordID
	r.configs[tenantID] = cfg
	return nil
}

type stubLock struct {
	mu       sync.Mutex
	held     map[string]bool
	acquires int
	releases int

	denyAll    bool
	acquireErr error
}

func newStubLock() *stubLock {
	return &stubLock{held: map[string]bool{}}
}

func (l *stubLock) Acquire(_ context.Context, key string, _ time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.acquireErr != nil {
		return false, l.acquireErr
	}
	l.acquires++
	if l.denyAll || l.held[key] {
		return false, nil
	}
	l.held[key] = true
	return true, nil
}

func (l *stubLock) Release(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.releases++
	delete(l.held, key)
	return nil
}

type stubState struct {
	mu     sync.Mutex
	values map[string]int64
}

func newStubState() *stubState {
	return &stubState{values: map[string]int64{}}
}

func (s *stubState) GetInt64(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values[key], nil
}

func (s *stubState) SetInt64(_ context.Context, key string, value int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}

func (s *stubState) Increment(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key]++
	return s.values[key], nil
}

func (s *stubState) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	return nil
}

type stubEnvelope struct {
	err   error
	built int
}

func (e *stubEnvelope) BuildEnvelope(records []domain.InvoiceRecord) ([]byte, error) {
	if e.err != nil {
		return nil, e.err
	}
	e.built++
	return []byte(fmt.Sprintf("<envelope records=%d/>", len(records))), nil
}

type stubParser struct {
	response domain.AeatResponse
}

func (p *stubParser) ParseResponse([]byte) domain.AeatResponse {
	return p.response
}

type stubTransport struct {
	mu    sync.Mutex
	calls int

	response []byte
	err      error

	// onSend runs outside the mutex on every delivery, letting tests hold a
	// call open or observe state mid-flight.
	onSend func()
}

func (t *stubTransport) Send(context.Context, string, domain.Environment, []byte) ([]byte, error) {
	t.mu.Lock()
	t.calls++
	hook := t.onSend
	err := t.err
	response := t.response
	t.mu.Unlock()
	if hook != nil {
		hook()
	}
	if err != nil {
		return nil, err
	}
	return response, nil
}

func (t *stubTransport) callCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls
}

type stubArtifacts struct {
	qrErr error
}

func (a *stubArtifacts) BuildVerificationURL(record domain.InvoiceRecord) string {
	return "https://verify.example/qr?num=" + record.NumeroFactura
}

func (a *stubArtifacts) GenerateQR(string) ([]byte, error) {
	if a.qrErr != nil {
		return nil, a.qrErr
	}
	return []byte("png-bytes"), nil
}

func fixedClock(at time.Time) Clock {
	return func() time.Time { return at }
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
