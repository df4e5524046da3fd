package extract

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"
)

// QRDecoder decodes QR codes from still images and live video frames
// using the zxing port. The zero value is not usable; construct with
// NewQRDecoder.
type QRDecoder struct {
	reader gozxing.Reader
}

// NewQRDecoder creates a QR decoder.
func NewQRDecoder() *QRDecoder {
	return &QRDecoder{reader: qrcode.NewQRCodeReader()}
}

// DecodeImage decodes a QR code from encoded image bytes. A decode
// miss is reported as ErrDecodeNotFound.
func (d *QRDecoder) DecodeImage(data []byte) (string, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("decoding image: %w", err)
	}
	return d.DecodeFrame(img)
}

// DecodeFrame decodes a QR code from an already-decoded frame. This is
// the live-stream variant consumed by the camera decode loop.
func (d *QRDecoder) DecodeFrame(frame image.Image) (string, error) {
	bmp, err := gozxing.NewBinaryBitmapFromImage(frame)
	if err != nil {
		return "", fmt.Errorf("preparing bitmap: %w", err)
	}
	result, err := d.reader.Decode(bmp, nil)
	if err != nil {
		// zxing reports misses as NotFound/Checksum/Format exceptions;
		// all of them mean "no usable code in this image".
		return "", ErrDecodeNotFound
	}
	return result.GetText(), nil
}
