package capture

import (
	"bytes"
	"context"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/frotaapp/capture/internal/camera"
	"github.com/frotaapp/capture/internal/extract"
	"github.com/frotaapp/capture/internal/identity"
)

// End-to-end pipeline over the real collaborators: preprocessing, the
// real QR decoder (which misses on a featureless photo), OCR fallback,
// filesystem storage and bolt persistence. Only the text recognizer is
// stubbed.
var _ = Describe("Capture pipeline", func() {
	var (
		storageDir string
		db         *BoltDB
		recognizer *stubRecognizer
		service    *Service
		ident      identity.Context
	)

	phonePhoto := func() []byte {
		img := image.NewRGBA(image.Rect(0, 0, 4000, 3000))
		var buf bytes.Buffer
		Expect(jpeg.Encode(&buf, img, nil)).To(Succeed())
		return buf.Bytes()
	}

	BeforeEach(func() {
		var err error
		storageDir, err = os.MkdirTemp("", "capture-storage")
		Expect(err).NotTo(HaveOccurred())

		dbDir, err := os.MkdirTemp("", "capture-db")
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(os.RemoveAll, storageDir)
		DeferCleanup(os.RemoveAll, dbDir)

		db, err = NewBoltDB(filepath.Join(dbDir, "records.db"))
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(db.Close)

		storage, err := NewLocalStorage(storageDir, "http://localhost:8080/receipts")
		Expect(err).NotTo(HaveOccurred())

		recognizer = &stubRecognizer{
			text: "NFC-e 3123 0112 3456 7890 1234 5500 1000 0001 2341 0000 1234",
		}

		coordinator := NewCoordinatorWithDeps(
			storage,
			db,
			&uuidGenerator{},
			&defaultTimeSource{},
			func(context.Context, time.Duration) error { return nil },
		)
		extractor := extract.NewExtractor(extract.NewQRDecoder(), recognizer, "por")
		manager := camera.NewManager(camera.NoDeviceOpener{}, extract.NewQRDecoder())
		service = NewService(manager, extractor, coordinator, db)
		ident = identity.Context{OwnerID: "owner-1", TenantID: "tenant-1"}
	})

	It("captures a phone photo end to end", func() {
		record, err := service.CaptureFromImage(context.Background(), ident, phonePhoto(), "image/jpeg")
		Expect(err).NotTo(HaveOccurred())

		By("falling back to OCR when the QR decode misses")
		Expect(recognizer.calls).To(Equal(1))
		Expect(record.NFEKey).To(HaveLen(44))

		By("persisting exactly one pending record for the owner")
		records, err := db.ListRecords("owner-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(records).To(HaveLen(1))
		Expect(records[0].Status).To(Equal(StatusPendingProcessing))
		Expect(records[0].DataSource).To(Equal(SourceUpload))

		By("storing a downsampled artifact under the owner prefix")
		Expect(record.ReceiptURL).To(HavePrefix("http://localhost:8080/receipts/owner-1/"))
		key := strings.TrimPrefix(record.ReceiptURL, "http://localhost:8080/receipts/")
		stored, err := os.ReadFile(filepath.Join(storageDir, filepath.FromSlash(key)))
		Expect(err).NotTo(HaveOccurred())

		img, err := jpeg.Decode(bytes.NewReader(stored))
		Expect(err).NotTo(HaveOccurred())
		Expect(img.Bounds().Dx()).To(Equal(1200))
		Expect(img.Bounds().Dy()).To(Equal(900))

		By("returning the flow to Home")
		Expect(service.State()).To(Equal(StateHome))
	})

	It("leaves nothing behind when no code is found anywhere", func() {
		recognizer.text = "posto de gasolina obrigado volte sempre"

		_, err := service.CaptureFromImage(context.Background(), ident, phonePhoto(), "image/jpeg")
		Expect(err).To(MatchError(extract.ErrNoCodeFound))

		records, err := db.ListRecords("owner-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(records).To(BeEmpty())

		entries, err := os.ReadDir(storageDir)
		Expect(err).NotTo(HaveOccurred())
		Expect(entries).To(BeEmpty())
	})
})
