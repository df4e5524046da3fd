package imaging

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"  // Register GIF decoder
	"image/jpeg"
	_ "image/png" // Register PNG decoder
	"strings"

	"github.com/gen2brain/go-fitz"
	"github.com/gen2brain/heic"
	"golang.org/x/image/draw"
)

// jpegQuality is the fixed re-encode quality factor for preprocessed
// captures (0.8 on the canvas scale).
const jpegQuality = 80

// Processed is the bounded artifact handed to the rest of the pipeline.
type Processed struct {
	Data        []byte
	Width       int
	Height      int
	ContentType string
}

// Resize decodes the source image, scales it so the longer edge equals
// maxEdge (never upscaling), and re-encodes as JPEG. PDFs are rendered
// from their first page and HEIC photos are decoded with a pure Go
// decoder; everything else goes through the registered stdlib decoders.
func Resize(data []byte, contentType string, maxEdge int) (*Processed, error) {
	if maxEdge <= 0 {
		return nil, fmt.Errorf("imaging: maxEdge must be positive, got %d", maxEdge)
	}

	img, err := decode(data, contentType)
	if err != nil {
		return nil, err
	}

	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	outW, outH := targetSize(width, height, maxEdge)

	if outW != width || outH != height {
		scaled := image.NewRGBA(image.Rect(0, 0, outW, outH))
		draw.CatmullRom.Scale(scaled, scaled.Bounds(), img, bounds, draw.Over, nil)
		img = scaled
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("encoding jpeg: %w", err)
	}

	return &Processed{
		Data:        buf.Bytes(),
		Width:       outW,
		Height:      outH,
		ContentType: "image/jpeg",
	}, nil
}

// targetSize preserves aspect ratio; the longer edge lands exactly on
// maxEdge when the source exceeds it.
func targetSize(width, height, maxEdge int) (int, int) {
	if width <= maxEdge && height <= maxEdge {
		return width, height
	}
	if width >= height {
		return maxEdge, int(float64(height)*float64(maxEdge)/float64(width) + 0.5)
	}
	return int(float64(width)*float64(maxEdge)/float64(height) + 0.5), maxEdge
}

func decode(data []byte, contentType string) (image.Image, error) {
	mimeType := strings.ToLower(strings.TrimSpace(contentType))

	if mimeType == "application/pdf" {
		return pdfFirstPage(data)
	}

	if isHEICData(data) || isHEICMimeType(mimeType) {
		img, err := heic.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("decoding HEIC/HEIF image: %w", err)
		}
		return img, nil
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		if strings.Contains(err.Error(), "unknown format") || strings.Contains(err.Error(), "unsupported") {
			return nil, fmt.Errorf("unsupported image format. Supported formats: JPEG, PNG, GIF, HEIC, HEIF, PDF. Error: %w", err)
		}
		return nil, fmt.Errorf("decoding image: %w", err)
	}
	return img, nil
}

// pdfFirstPage rasterizes the first page; fiscal receipts are almost
// always single-page documents.
func pdfFirstPage(data []byte) (image.Image, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer doc.Close()

	img, err := doc.Image(0)
	if err != nil {
		return nil, fmt.Errorf("rendering PDF page: %w", err)
	}
	return img, nil
}

// isHEICData checks the ftyp box brands used by iPhone photos; the
// stdlib image package cannot decode them.
func isHEICData(data []byte) bool {
	if len(data) < 12 {
		return false
	}
	if string(data[4:8]) != "ftyp" {
		return false
	}
	brand := string(data[8:12])
	return brand == "heic" || brand == "heif" || brand == "mif1" || brand == "msf1"
}

func isHEICMimeType(mimeType string) bool {
	return mimeType == "image/heic" || mimeType == "image/heif" ||
		strings.Contains(mimeType, "heic") || strings.Contains(mimeType, "heif")
}
