package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/frotaapp/capture/internal/camera"
	"github.com/frotaapp/capture/internal/extract"
	"github.com/frotaapp/capture/internal/identity"
	"github.com/frotaapp/capture/internal/imaging"
)

// defaultMaxEdge bounds preprocessed images; phone photos above this
// edge are downsampled before extraction and upload.
const defaultMaxEdge = 1200

// Service orchestrates the capture pipeline: camera or file input,
// preprocessing, code extraction, and durable persistence, with one
// active capture at a time.
type Service struct {
	manager     *camera.Manager
	extractor   *extract.Extractor
	coordinator *Coordinator
	db          DB
	machine     *Machine
	maxEdge     int
}

// NewService creates a Service.
func NewService(manager *camera.Manager, extractor *extract.Extractor, coordinator *Coordinator, db DB) *Service {
	return &Service{
		manager:     manager,
		extractor:   extractor,
		coordinator: coordinator,
		db:          db,
		machine:     NewMachine(),
		maxEdge:     defaultMaxEdge,
	}
}

// State exposes the capture flow state for UI branching.
func (s *Service) State() State {
	return s.machine.State()
}

// Message exposes the last failure message for UI display.
func (s *Service) Message() string {
	return s.machine.Message()
}

// Back handles back-navigation from the UI.
func (s *Service) Back() {
	s.machine.Back()
}

// ScanLive acquires the camera, runs the live decode loop until a code
// is found, the context is cancelled, or the scan fails, and persists
// the decoded capture. The device is released on every outcome.
func (s *Service) ScanLive(ctx context.Context, ident identity.Context, facing camera.Facing) (*ExpenseRecord, error) {
	if err := ident.Validate(); err != nil {
		return nil, err
	}

	var session *camera.Session
	if err := s.machine.BeginScan(func() {
		if session != nil {
			session.Stop()
		}
	}); err != nil {
		return nil, err
	}

	session, err := s.manager.Start(ctx, facing)
	if err != nil {
		s.machine.Fail(err.Error())
		return nil, err
	}

	select {
	case <-ctx.Done():
		session.Stop()
		s.machine.Fail("capture cancelled")
		return nil, ctx.Err()
	case r := <-session.Results():
		if r.Err != nil {
			s.machine.Fail(r.Err.Error())
			return nil, r.Err
		}

		result := &Result{
			Kind:       KindQRLink,
			Payload:    r.Code,
			CapturedAt: s.coordinator.timeSource.Now(),
		}
		record, err := s.coordinator.Persist(ctx, ident, result, nil, SourceCamera)
		if err != nil {
			s.machine.Fail(err.Error())
			return nil, err
		}

		s.finish()
		return record, nil
	}
}

// CaptureFromImage runs the still-image pipeline on a gallery photo or
// native-camera shot: preprocess, layered extraction, upload, record
// insert.
func (s *Service) CaptureFromImage(ctx context.Context, ident identity.Context, data []byte, contentType string) (*ExpenseRecord, error) {
	if err := ident.Validate(); err != nil {
		return nil, err
	}
	if err := s.machine.BeginLoad(); err != nil {
		return nil, err
	}

	record, err := s.captureFromImage(ctx, ident, data, contentType)
	if err != nil {
		s.machine.Fail(failureMessage(err))
		return nil, err
	}

	s.finish()
	return record, nil
}

func (s *Service) captureFromImage(ctx context.Context, ident identity.Context, data []byte, contentType string) (*ExpenseRecord, error) {
	processed, err := imaging.Resize(data, contentType, s.maxEdge)
	if err != nil {
		return nil, fmt.Errorf("preprocessing image: %w", err)
	}

	code, err := s.extractor.Extract(ctx, processed.Data)
	if err != nil {
		return nil, err
	}

	// A late cancellation must not commit a state transition or a
	// record.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result := &Result{
		Kind:       captureKind(code.Kind),
		Payload:    code.Value,
		CapturedAt: s.coordinator.timeSource.Now(),
	}
	return s.coordinator.Persist(ctx, ident, result, processed, SourceUpload)
}

// CapturePhotoEvidence persists a photo as-is when no code could be
// extracted but the user still wants the receipt on file.
func (s *Service) CapturePhotoEvidence(ctx context.Context, ident identity.Context, data []byte, contentType string) (*ExpenseRecord, error) {
	if err := ident.Validate(); err != nil {
		return nil, err
	}
	if err := s.machine.BeginLoad(); err != nil {
		return nil, err
	}

	processed, err := imaging.Resize(data, contentType, s.maxEdge)
	if err != nil {
		s.machine.Fail(failureMessage(err))
		return nil, fmt.Errorf("preprocessing image: %w", err)
	}

	result := &Result{
		Kind:       KindPhotoEvidence,
		CapturedAt: s.coordinator.timeSource.Now(),
	}
	record, err := s.coordinator.Persist(ctx, ident, result, processed, SourceUpload)
	if err != nil {
		s.machine.Fail(failureMessage(err))
		return nil, err
	}

	s.finish()
	return record, nil
}

// SubmitManualKey validates and persists a hand-typed fiscal key. The
// digit count is checked locally before anything is contacted.
func (s *Service) SubmitManualKey(ctx context.Context, ident identity.Context, raw string) (*ExpenseRecord, error) {
	if err := ident.Validate(); err != nil {
		return nil, err
	}
	if err := s.machine.BeginManual(); err != nil {
		return nil, err
	}

	key, err := ValidateManualKey(raw)
	if err != nil {
		s.machine.Fail(err.Error())
		return nil, err
	}

	result := &Result{
		Kind:       KindFiscalKey44,
		Payload:    key,
		CapturedAt: s.coordinator.timeSource.Now(),
	}
	record, err := s.coordinator.Persist(ctx, ident, result, nil, SourceManual)
	if err != nil {
		s.machine.Fail(failureMessage(err))
		return nil, err
	}

	s.finish()
	return record, nil
}

// SubmitManualDraft validates and persists a hand-entered expense
// draft.
func (s *Service) SubmitManualDraft(ctx context.Context, ident identity.Context, draft *ExpenseDraft) (*ExpenseRecord, error) {
	if err := ident.Validate(); err != nil {
		return nil, err
	}
	if draft == nil {
		return nil, fmt.Errorf("draft is required")
	}
	if err := s.machine.BeginManual(); err != nil {
		return nil, err
	}

	if err := draft.Validate(); err != nil {
		s.machine.Fail(err.Error())
		return nil, err
	}

	result := &Result{
		Kind:       KindManualData,
		Draft:      draft,
		CapturedAt: s.coordinator.timeSource.Now(),
	}
	record, err := s.coordinator.Persist(ctx, ident, result, nil, SourceManual)
	if err != nil {
		s.machine.Fail(failureMessage(err))
		return nil, err
	}

	s.finish()
	return record, nil
}

// ListRecords returns the owner's persisted records.
func (s *Service) ListRecords(ident identity.Context) ([]*ExpenseRecord, error) {
	if err := ident.Validate(); err != nil {
		return nil, err
	}
	records, err := s.db.ListRecords(ident.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("listing records: %w", err)
	}
	return records, nil
}

func (s *Service) finish() {
	if err := s.machine.Complete(); err != nil {
		slog.Warn("Capture completed outside an active state", "error", err)
	}
	s.machine.Reset()
}

func captureKind(k extract.Kind) Kind {
	switch k {
	case extract.KindQRLink:
		return KindQRLink
	case extract.KindFiscalKey44:
		return KindFiscalKey44
	}
	return KindPhotoEvidence
}

// failureMessage keeps the no-code case actionable for the user; every
// other failure surfaces its own message.
func failureMessage(err error) string {
	if errors.Is(err, extract.ErrNoCodeFound) {
		return "No QR code or fiscal key located. Try a sharper photo or enter the key manually."
	}
	return err.Error()
}
