package capture

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kind is the classification of a single capture. Exactly one kind per
// capture.
type Kind string

const (
	// KindQRLink is a decoded QR payload (SEFAZ link).
	KindQRLink Kind = "QR_LINK"
	// KindFiscalKey44 is a 44-digit fiscal access key.
	KindFiscalKey44 Kind = "FISCAL_KEY_44"
	// KindManualData is a hand-entered expense draft.
	KindManualData Kind = "MANUAL_DATA"
	// KindPhotoEvidence is a photo kept as evidence with no extracted
	// code.
	KindPhotoEvidence Kind = "PHOTO_EVIDENCE"
)

// Result is the immutable outcome of one capture. Payload carries the
// code for QR/key kinds; Draft carries the fields for manual entry.
type Result struct {
	Kind       Kind          `json:"kind"`
	Payload    string        `json:"payload,omitempty"`
	Draft      *ExpenseDraft `json:"draft,omitempty"`
	CapturedAt time.Time     `json:"captured_at"`
}

// FuelType enumerates the fuel kinds a manual draft can declare.
type FuelType string

const (
	FuelUnspecified FuelType = ""
	FuelGasoline    FuelType = "gasoline"
	FuelEthanol     FuelType = "ethanol"
	FuelDiesel      FuelType = "diesel"
	FuelCNG         FuelType = "cng"
)

// ParseFuelType validates a fuel type string.
func ParseFuelType(s string) (FuelType, error) {
	switch FuelType(strings.ToLower(strings.TrimSpace(s))) {
	case FuelGasoline:
		return FuelGasoline, nil
	case FuelEthanol:
		return FuelEthanol, nil
	case FuelDiesel:
		return FuelDiesel, nil
	case FuelCNG:
		return FuelCNG, nil
	case FuelUnspecified:
		return FuelUnspecified, nil
	}
	return FuelUnspecified, fmt.Errorf("unknown fuel type %q", s)
}

// ExpenseDraft holds hand-entered expense fields. Used only for
// MANUAL_DATA captures.
type ExpenseDraft struct {
	OdometerKm    float64  `json:"odometer_km"`
	FuelType      FuelType `json:"fuel_type"`
	Liters        float64  `json:"liters"`
	PricePerLiter float64  `json:"price_per_liter"`
	TotalValue    float64  `json:"total_value"`
}

// Validate rejects drafts with negative numeric fields.
func (d *ExpenseDraft) Validate() error {
	fields := map[string]float64{
		"odometer_km":     d.OdometerKm,
		"liters":          d.Liters,
		"price_per_liter": d.PricePerLiter,
		"total_value":     d.TotalValue,
	}
	for name, v := range fields {
		if v < 0 {
			return fmt.Errorf("draft field %s must be non-negative, got %v", name, v)
		}
	}
	return nil
}

// Status of a persisted record. The pipeline only ever writes
// StatusPendingProcessing; terminal statuses belong to downstream
// processing.
type Status string

const (
	StatusPendingProcessing Status = "PENDING_PROCESSING"
)

// DataSource records which entry path produced a record.
type DataSource string

const (
	SourceCamera DataSource = "camera"
	SourceUpload DataSource = "upload"
	SourceManual DataSource = "manual"
)

// ExpenseRecord is the persisted form of a capture.
type ExpenseRecord struct {
	ID         string        `json:"id"`
	OwnerID    string        `json:"owner_id"`
	TenantID   string        `json:"tenant_id"`
	Type       string        `json:"type"`
	TotalValue float64       `json:"total_value,omitempty"`
	Odometer   float64       `json:"odometer,omitempty"`
	Status     Status        `json:"status"`
	ReceiptURL string        `json:"receipt_url,omitempty"`
	NFEKey     string        `json:"nfe_key,omitempty"`
	Draft      *ExpenseDraft `json:"draft,omitempty"`
	DataSource DataSource    `json:"data_source"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

// UploadTask tracks one artifact upload through its retry budget.
type UploadTask struct {
	StorageKey  string     `json:"storage_key"`
	Attempt     int        `json:"attempt"`
	MaxAttempts int        `json:"max_attempts"`
	BackoffMs   int        `json:"backoff_ms"`
	ErrorClass  ErrorClass `json:"error_class,omitempty"`
}

var ownerKeyChars = regexp.MustCompile(`[^a-zA-Z0-9\-_]`)

// sanitizeOwnerSegment cleans the owner id for use as a key prefix.
// The id arrives from a request header, so path separators and dot
// runs must never survive into the key.
func sanitizeOwnerSegment(ownerID string) string {
	clean := ownerKeyChars.ReplaceAllString(ownerID, "")
	if clean == "" {
		return "owner"
	}
	return clean
}

// storageKey builds a collision-resistant object key:
// {ownerId}/{timestamp}_{randomSuffix}.{ext}.
func storageKey(ownerID string, now time.Time, ext string) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	ext = strings.TrimPrefix(ext, ".")
	if ext == "" {
		ext = "jpg"
	}
	return fmt.Sprintf("%s/%d_%s.%s", sanitizeOwnerSegment(ownerID), now.UnixMilli(), suffix, ext)
}
