package capture

import (
	"context"
	"errors"
	"fmt"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/frotaapp/capture/internal/identity"
	"github.com/frotaapp/capture/internal/imaging"
)

var _ = Describe("Coordinator", func() {
	var (
		storage     *mockStorage
		db          *mockDB
		sleeper     *sleepRecorder
		coordinator *Coordinator
		ident       identity.Context
		result      *Result
		artifact    *imaging.Processed
		record      *ExpenseRecord
		err         error
	)

	BeforeEach(func() {
		storage = newMockStorage()
		db = newMockDB()
		sleeper = &sleepRecorder{}
		coordinator = NewCoordinatorWithDeps(
			storage,
			db,
			&mockIDGenerator{id: "record-1"},
			&mockTimeSource{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)},
			sleeper.sleep,
		)
		ident = identity.Context{OwnerID: "owner-1", TenantID: "tenant-1"}
		result = &Result{
			Kind:       KindFiscalKey44,
			Payload:    "31230112345678901234550010000012341000012345",
			CapturedAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		}
		artifact = &imaging.Processed{
			Data:        []byte("jpeg bytes"),
			Width:       1000,
			Height:      750,
			ContentType: "image/jpeg",
		}
	})

	JustBeforeEach(func() {
		record, err = coordinator.Persist(context.Background(), ident, result, artifact, SourceUpload)
	})

	When("the upload succeeds on the first attempt", func() {
		It("should not return an error", func() {
			Expect(err).NotTo(HaveOccurred())
		})

		It("waits the settle delay before the first attempt", func() {
			Expect(sleeper.slept).To(Equal([]time.Duration{settleDelay}))
		})

		It("uploads exactly once under the owner's prefix", func() {
			Expect(storage.calls).To(Equal(1))
			Expect(storage.objects).To(HaveLen(1))
			for key := range storage.objects {
				Expect(key).To(HavePrefix("owner-1/"))
				Expect(key).To(HaveSuffix(".jpg"))
			}
		})

		It("persists one record in pending state", func() {
			Expect(db.records).To(HaveLen(1))
			Expect(record.Status).To(Equal(StatusPendingProcessing))
			Expect(record.OwnerID).To(Equal("owner-1"))
			Expect(record.TenantID).To(Equal("tenant-1"))
			Expect(record.DataSource).To(Equal(SourceUpload))
			Expect(record.NFEKey).To(Equal(result.Payload))
			Expect(record.ReceiptURL).To(HavePrefix("https://storage.example/owner-1/"))
		})
	})

	When("the first attempt hits transient contention", func() {
		BeforeEach(func() {
			storage.attemptErr = []error{fmt.Errorf("object locked: %w", ErrContention)}
		})

		It("retries once and persists exactly one record", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(storage.calls).To(Equal(2))
			Expect(db.records).To(HaveLen(1))
		})

		It("delays between the attempts", func() {
			Expect(sleeper.slept).To(Equal([]time.Duration{settleDelay, initialBackoff}))
		})
	})

	When("every attempt hits transient contention", func() {
		BeforeEach(func() {
			contention := fmt.Errorf("object locked: %w", ErrContention)
			storage.attemptErr = []error{contention, contention}
		})

		It("surfaces one aggregated failure", func() {
			var uploadErr *UploadError
			Expect(errors.As(err, &uploadErr)).To(BeTrue())
			Expect(uploadErr.Class).To(Equal(ClassTransient))
			Expect(uploadErr.Attempts).To(Equal(maxUploadAttempts))
		})

		It("stops at the attempt bound", func() {
			Expect(storage.calls).To(Equal(maxUploadAttempts))
		})

		It("writes no partial record", func() {
			Expect(db.records).To(BeEmpty())
		})
	})

	When("the upload fails fatally", func() {
		BeforeEach(func() {
			storage.attemptErr = []error{errors.New("network is down")}
		})

		It("aborts without retrying", func() {
			var uploadErr *UploadError
			Expect(errors.As(err, &uploadErr)).To(BeTrue())
			Expect(uploadErr.Class).To(Equal(ClassFatal))
			Expect(storage.calls).To(Equal(1))
		})

		It("writes no partial record", func() {
			Expect(db.records).To(BeEmpty())
		})
	})

	When("the record insert fails after a successful upload", func() {
		BeforeEach(func() {
			db.saveErr = errors.New("database error")
		})

		It("reports the orphaned artifact", func() {
			var persistErr *PersistenceError
			Expect(errors.As(err, &persistErr)).To(BeTrue())
			Expect(persistErr.StorageKey).To(HavePrefix("https://storage.example/owner-1/"))
		})

		It("leaves the artifact in storage", func() {
			Expect(storage.objects).To(HaveLen(1))
		})
	})

	When("there is no artifact", func() {
		BeforeEach(func() {
			artifact = nil
			result = &Result{Kind: KindManualData, Draft: &ExpenseDraft{
				FuelType:   FuelEthanol,
				TotalValue: 250.5,
				OdometerKm: 123456,
			}}
		})

		It("skips storage entirely", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(storage.calls).To(BeZero())
			Expect(sleeper.slept).To(BeEmpty())
		})

		It("persists the draft fields", func() {
			Expect(record.Type).To(Equal("fuel"))
			Expect(record.TotalValue).To(Equal(250.5))
			Expect(record.Odometer).To(Equal(float64(123456)))
			Expect(record.Draft).To(Equal(result.Draft))
		})
	})

	When("identity is incomplete", func() {
		BeforeEach(func() {
			ident = identity.Context{OwnerID: "owner-1"}
		})

		It("fails fast before any upload", func() {
			Expect(err).To(HaveOccurred())
			Expect(storage.calls).To(BeZero())
			Expect(db.records).To(BeEmpty())
		})
	})
})

var _ = Describe("ClassifyStorageError", func() {
	It("classifies wrapped contention as transient", func() {
		err := fmt.Errorf("writing object: %w", ErrContention)
		Expect(ClassifyStorageError(err)).To(Equal(ClassTransient))
	})

	It("classifies unknown errors as fatal", func() {
		Expect(ClassifyStorageError(errors.New("no route to host"))).To(Equal(ClassFatal))
	})
})
