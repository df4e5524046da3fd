package capture

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/frotaapp/capture/internal/identity"
	"github.com/frotaapp/capture/internal/imaging"
)

const (
	// settleDelay is inserted before the first upload attempt so the
	// surrounding session/auth layer can stabilize after a capture.
	settleDelay = 400 * time.Millisecond

	// maxUploadAttempts bounds transient-contention retries. Two total
	// attempts: the original try plus one retry.
	maxUploadAttempts = 2

	// initialBackoff is the delay before the first retry; it doubles
	// per subsequent retry.
	initialBackoff = 500 * time.Millisecond
)

// IDGenerator generates unique IDs for expense records.
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time.
type TimeSource interface {
	Now() time.Time
}

type uuidGenerator struct{}

func (g *uuidGenerator) Generate() string {
	return uuid.NewString()
}

type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Coordinator durably persists capture results: artifact upload with
// bounded retry on transient contention, then the record insert.
type Coordinator struct {
	storage     Storage
	db          DB
	idGenerator IDGenerator
	timeSource  TimeSource
	sleep       func(ctx context.Context, d time.Duration) error
}

// NewCoordinator creates a Coordinator with default ID generation,
// time source, and sleeping.
func NewCoordinator(storage Storage, db DB) *Coordinator {
	return NewCoordinatorWithDeps(storage, db, &uuidGenerator{}, &defaultTimeSource{}, sleepCtx)
}

// NewCoordinatorWithDeps creates a Coordinator with custom
// dependencies for testing.
func NewCoordinatorWithDeps(storage Storage, db DB, idGen IDGenerator, timeSrc TimeSource, sleep func(context.Context, time.Duration) error) *Coordinator {
	return &Coordinator{
		storage:     storage,
		db:          db,
		idGenerator: idGen,
		timeSource:  timeSrc,
		sleep:       sleep,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Persist writes the capture durably. When an artifact is present it
// is uploaded first; the record insert only happens after a successful
// upload, so no partial record exists for a failed upload. An insert
// failure after a successful upload leaves the artifact orphaned in
// storage; the coordinator logs the key and reports the failure
// without inventing compensation.
func (c *Coordinator) Persist(ctx context.Context, ident identity.Context, result *Result, artifact *imaging.Processed, source DataSource) (*ExpenseRecord, error) {
	if err := ident.Validate(); err != nil {
		return nil, err
	}
	if result == nil {
		return nil, fmt.Errorf("capture result is required")
	}

	now := c.timeSource.Now()
	var receiptURL string

	if artifact != nil {
		task := &UploadTask{
			StorageKey:  storageKey(ident.OwnerID, now, "jpg"),
			MaxAttempts: maxUploadAttempts,
			BackoffMs:   int(initialBackoff / time.Millisecond),
		}

		url, err := c.upload(ctx, task, artifact)
		if err != nil {
			return nil, err
		}
		receiptURL = url
	}

	record := c.buildRecord(ident, result, receiptURL, source, now)
	if err := c.db.SaveRecord(record); err != nil {
		if receiptURL != "" {
			slog.Error("Record insert failed after successful upload; artifact orphaned",
				"owner_id", ident.OwnerID,
				"receipt_url", receiptURL,
				"error", err,
			)
			return nil, &PersistenceError{StorageKey: receiptURL, Err: err}
		}
		return nil, &PersistenceError{Err: err}
	}

	return record, nil
}

// upload runs the bounded retry loop over the storage collaborator.
// Transient contention retries with a doubling delay; fatal errors
// abort immediately.
func (c *Coordinator) upload(ctx context.Context, task *UploadTask, artifact *imaging.Processed) (string, error) {
	if err := c.sleep(ctx, settleDelay); err != nil {
		return "", err
	}

	backoff := time.Duration(task.BackoffMs) * time.Millisecond
	var lastErr error

	for task.Attempt = 1; task.Attempt <= task.MaxAttempts; task.Attempt++ {
		url, err := c.storage.Upload(ctx, task.StorageKey, artifact.Data, artifact.ContentType)
		if err == nil {
			return url, nil
		}

		task.ErrorClass = ClassifyStorageError(err)
		if task.ErrorClass == ClassFatal {
			return "", &UploadError{Class: ClassFatal, Attempts: task.Attempt, Err: err}
		}

		lastErr = err
		if task.Attempt == task.MaxAttempts {
			break
		}

		slog.Warn("Upload hit transient contention, will retry",
			"storage_key", task.StorageKey,
			"attempt", task.Attempt,
			"max_attempts", task.MaxAttempts,
			"backoff", backoff.String(),
			"error", err,
		)
		if err := c.sleep(ctx, backoff); err != nil {
			return "", err
		}
		backoff *= 2
	}

	slog.Error("Upload failed after all attempts", "storage_key", task.StorageKey, "error", lastErr)
	return "", &UploadError{Class: ClassTransient, Attempts: task.MaxAttempts, Err: lastErr}
}

func (c *Coordinator) buildRecord(ident identity.Context, result *Result, receiptURL string, source DataSource, now time.Time) *ExpenseRecord {
	record := &ExpenseRecord{
		ID:         c.idGenerator.Generate(),
		OwnerID:    ident.OwnerID,
		TenantID:   ident.TenantID,
		Type:       "receipt",
		Status:     StatusPendingProcessing,
		ReceiptURL: receiptURL,
		DataSource: source,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	switch result.Kind {
	case KindQRLink, KindFiscalKey44:
		record.NFEKey = result.Payload
	case KindManualData:
		record.Type = "fuel"
		record.Draft = result.Draft
		if result.Draft != nil {
			record.TotalValue = result.Draft.TotalValue
			record.Odometer = result.Draft.OdometerKm
		}
	case KindPhotoEvidence:
		// Evidence only; downstream processing extracts the fiscal
		// data from the stored artifact.
	}

	return record
}
