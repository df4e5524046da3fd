package extract

import (
	"context"
	"errors"
	"fmt"
)

// ErrDecodeNotFound signals a barcode decode miss. It is internal to
// the pipeline: callers fall through to the next extraction stage
// instead of surfacing it.
var ErrDecodeNotFound = errors.New("no structured code found in image")

// ErrNoCodeFound signals that every extraction stage came up empty.
// The caller routes the user to manual entry or a retry with a
// clearer image.
var ErrNoCodeFound = errors.New("no QR code or fiscal key found")

// Kind classifies what an extraction produced.
type Kind string

const (
	// KindQRLink is a decoded QR payload, typically a SEFAZ link.
	KindQRLink Kind = "QR_LINK"
	// KindFiscalKey44 is a 44-digit fiscal access key recovered by OCR.
	KindFiscalKey44 Kind = "FISCAL_KEY_44"
)

// Code is the uniform result shape shared by the still-image and
// live-stream decode paths.
type Code struct {
	Kind  Kind
	Value string
}

// ImageDecoder decodes a structured barcode from a still image.
// Implementations return ErrDecodeNotFound when no code is present.
type ImageDecoder interface {
	DecodeImage(data []byte) (string, error)
}

// TextRecognizer runs text recognition over an image.
type TextRecognizer interface {
	// Recognize returns the raw recognized text. The language is a
	// hint (e.g. "por" for Brazilian fiscal receipts).
	Recognize(ctx context.Context, data []byte, language string) (string, error)
	// Close releases the recognizer's resources.
	Close() error
}

// Extractor classifies a still image into a Code using layered
// fallback: structured barcode decode first, then OCR with fiscal-key
// matching.
type Extractor struct {
	decoder    ImageDecoder
	recognizer TextRecognizer
	language   string
}

// NewExtractor creates an Extractor with the given decode and OCR
// backends.
func NewExtractor(decoder ImageDecoder, recognizer TextRecognizer, language string) *Extractor {
	if language == "" {
		language = "por"
	}
	return &Extractor{
		decoder:    decoder,
		recognizer: recognizer,
		language:   language,
	}
}

// Extract runs the fallback chain. The barcode attempt strictly
// precedes OCR: when a code is decoded, the recognizer is never
// invoked.
func (e *Extractor) Extract(ctx context.Context, data []byte) (*Code, error) {
	value, err := e.decoder.DecodeImage(data)
	if err == nil {
		return &Code{Kind: KindQRLink, Value: value}, nil
	}
	if !errors.Is(err, ErrDecodeNotFound) {
		return nil, fmt.Errorf("decoding barcode: %w", err)
	}

	text, err := e.recognizer.Recognize(ctx, data, e.language)
	if err != nil {
		return nil, fmt.Errorf("recognizing text: %w", err)
	}

	key, ok := FiscalKey(text)
	if !ok {
		return nil, ErrNoCodeFound
	}
	return &Code{Kind: KindFiscalKey44, Value: key}, nil
}
