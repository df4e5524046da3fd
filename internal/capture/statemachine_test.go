package capture

import (
	"errors"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Machine", func() {
	var (
		machine   *Machine
		stopCalls int
	)

	BeforeEach(func() {
		machine = NewMachine()
		stopCalls = 0
	})

	stop := func() { stopCalls++ }

	It("starts in Home", func() {
		Expect(machine.State()).To(Equal(StateHome))
	})

	Describe("BeginScan", func() {
		It("enters Scanning from Home", func() {
			Expect(machine.BeginScan(stop)).To(Succeed())
			Expect(machine.State()).To(Equal(StateScanning))
		})

		It("rejects a second capture while scanning", func() {
			Expect(machine.BeginScan(stop)).To(Succeed())
			Expect(machine.BeginScan(stop)).To(MatchError(ErrCaptureInFlight))
			Expect(machine.BeginLoad()).To(MatchError(ErrCaptureInFlight))
			Expect(machine.BeginManual()).To(MatchError(ErrCaptureInFlight))
		})
	})

	Describe("Complete", func() {
		It("moves Scanning to Success and stops the session", func() {
			Expect(machine.BeginScan(stop)).To(Succeed())
			Expect(machine.Complete()).To(Succeed())
			Expect(machine.State()).To(Equal(StateSuccess))
			Expect(stopCalls).To(Equal(1))
		})

		It("moves Loading to Success", func() {
			Expect(machine.BeginLoad()).To(Succeed())
			Expect(machine.Complete()).To(Succeed())
			Expect(machine.State()).To(Equal(StateSuccess))
		})

		It("rejects completing from Home", func() {
			Expect(machine.Complete()).To(MatchError(ErrInvalidTransition))
		})
	})

	Describe("Fail", func() {
		It("returns Scanning to Home, stops the session, and keeps the message", func() {
			Expect(machine.BeginScan(stop)).To(Succeed())
			machine.Fail("camera unavailable")
			Expect(machine.State()).To(Equal(StateHome))
			Expect(machine.Message()).To(Equal("camera unavailable"))
			Expect(stopCalls).To(Equal(1))
		})

		It("returns Manual to Home", func() {
			Expect(machine.BeginManual()).To(Succeed())
			machine.Fail("wrong digit count")
			Expect(machine.State()).To(Equal(StateHome))
		})
	})

	Describe("Back", func() {
		It("returns Scanning to Home and stops the session", func() {
			Expect(machine.BeginScan(stop)).To(Succeed())
			machine.Back()
			Expect(machine.State()).To(Equal(StateHome))
			Expect(stopCalls).To(Equal(1))
		})

		It("returns Manual to Home", func() {
			Expect(machine.BeginManual()).To(Succeed())
			machine.Back()
			Expect(machine.State()).To(Equal(StateHome))
		})

		It("stays in Home when already there", func() {
			machine.Back()
			Expect(machine.State()).To(Equal(StateHome))
		})
	})

	Describe("Reset", func() {
		It("acknowledges Success back to Home", func() {
			Expect(machine.BeginLoad()).To(Succeed())
			Expect(machine.Complete()).To(Succeed())
			machine.Reset()
			Expect(machine.State()).To(Equal(StateHome))
		})

		It("does nothing outside Success", func() {
			Expect(machine.BeginManual()).To(Succeed())
			machine.Reset()
			Expect(machine.State()).To(Equal(StateManual))
		})
	})

	It("allows a fresh capture after a failure", func() {
		Expect(machine.BeginScan(stop)).To(Succeed())
		machine.Fail("boom")
		Expect(machine.BeginLoad()).To(Succeed())
	})
})

var _ = Describe("ValidateManualKey", func() {
	// 44 digits in the 4-digit groups users actually type.
	const spacedKey = "3123 0112 3456 7890 1234 5500 1000 0001 2341 0000 1234"

	It("accepts 44 digits broken up by spaces", func() {
		key, err := ValidateManualKey(spacedKey)
		Expect(err).NotTo(HaveOccurred())
		Expect(key).To(HaveLen(44))
	})

	It("rejects a 43-digit key and reports the count", func() {
		raw := strings.TrimSpace(strings.ReplaceAll(spacedKey, " ", ""))[:43]
		_, err := ValidateManualKey(raw)

		var validationErr *ManualValidationError
		Expect(errors.As(err, &validationErr)).To(BeTrue())
		Expect(validationErr.Digits).To(Equal(43))
	})

	It("rejects empty input with a zero count", func() {
		_, err := ValidateManualKey("abc")

		var validationErr *ManualValidationError
		Expect(errors.As(err, &validationErr)).To(BeTrue())
		Expect(validationErr.Digits).To(BeZero())
	})
})
