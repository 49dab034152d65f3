package extraction

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"

	"github.com/gastos-dev/gastos/internal/config"
)

type fakeRecognizer struct {
	text string
	err  error
}

func (f *fakeRecognizer) Recognize(_ context.Context, _ []byte) (string, error) {
	return f.text, f.err
}

type fakeStructured struct {
	reply string
	err   error
}

func (f *fakeStructured) Extract(_ context.Context, _ []byte, _ string) (*Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	return parseStructured(f.reply, "Otros")
}

func (f *fakeStructured) Close() error { return nil }

func testImagePNG() []byte {
	img := image.NewGray(image.Rect(0, 0, 8, 8))
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

var _ = Describe("Arbiter", func() {
	var (
		recognizer *fakeRecognizer
		structured *fakeStructured
		arbiter    *Arbiter
		result     *Result
		err        error
	)

	receiptText := "RESTAURANTE EL RINCON\nFecha: 15/03/2024\nmenu del dia\nTOTAL 21,40 €"

	BeforeEach(func() {
		recognizer = &fakeRecognizer{text: receiptText}
		structured = &fakeStructured{}
		now := func() time.Time {
			return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
		}
		heuristic := NewHeuristicWithClock(config.Default().Categories, "Otros", now)
		arbiter = NewArbiter(recognizer, structured, heuristic)
	})

	JustBeforeEach(func() {
		result, err = arbiter.Extract(context.Background(), testImagePNG(), "image/png")
	})

	When("the structured tier returns a complete reply", func() {
		BeforeEach(func() {
			structured.reply = `{"amount": 21.40, "currency": "EUR", "date": "2024-03-15", "description": "Restaurante El Rincón", "concept": "Restaurante"}`
		})

		It("should not return an error", func() {
			Expect(err).NotTo(HaveOccurred())
		})

		It("uses the structured values for every field", func() {
			Expect(result.Amount.String()).To(Equal("21.4"))
			Expect(result.Source(FieldAmount)).To(Equal(TierLLM))
			Expect(result.Source(FieldDescription)).To(Equal(TierLLM))
		})
	})

	When("the structured tier returns garbage", func() {
		BeforeEach(func() {
			structured.reply = "this is definitely not JSON"
		})

		It("should not surface an error", func() {
			Expect(err).NotTo(HaveOccurred())
		})

		It("falls back to the heuristic result in full", func() {
			heuristicOnly := NewHeuristicWithClock(config.Default().Categories, "Otros", func() time.Time {
				return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
			}).Extract(receiptText)

			Expect(result.Amount.String()).To(Equal(heuristicOnly.Amount.String()))
			Expect(result.Date).To(Equal(heuristicOnly.Date))
			Expect(result.Description).To(Equal(heuristicOnly.Description))
			Expect(result.Category).To(Equal(heuristicOnly.Category))
			Expect(result.Source(FieldAmount)).To(Equal(TierHeuristic))
		})
	})

	When("the structured tier call fails outright", func() {
		BeforeEach(func() {
			structured.err = fmt.Errorf("connection refused")
		})

		It("degrades to the heuristic tier without error", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Amount.String()).To(Equal("21.4"))
			Expect(result.Source(FieldAmount)).To(Equal(TierHeuristic))
		})
	})

	When("the structured tier fills only some fields", func() {
		BeforeEach(func() {
			structured.reply = `{"amount": 21.40, "date": null, "description": null}`
		})

		It("merges per field, structured values winning", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Source(FieldAmount)).To(Equal(TierLLM))
			Expect(result.Date).To(Equal("2024-03-15"))
			Expect(result.Source(FieldDate)).To(Equal(TierHeuristic))
			Expect(result.Description).To(Equal("RESTAURANTE EL RINCON"))
			Expect(result.Source(FieldDescription)).To(Equal(TierHeuristic))
		})
	})

	When("structured and heuristic disagree on the amount", func() {
		BeforeEach(func() {
			structured.reply = `{"amount": 19.95}`
		})

		It("keeps the structured amount", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Amount.Equal(decimal.NewFromFloat(19.95))).To(BeTrue())
			Expect(result.Source(FieldAmount)).To(Equal(TierLLM))
		})
	})

	When("text recognition fails", func() {
		BeforeEach(func() {
			recognizer.err = fmt.Errorf("tesseract: exit status 1")
			structured.reply = `{"amount": 21.40, "date": "2024-03-15"}`
		})

		It("continues with the structured tier alone", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Amount.String()).To(Equal("21.4"))
		})
	})

	When("no recognizer or structured extractor is configured", func() {
		BeforeEach(func() {
			arbiter = NewArbiter(nil, nil, NewHeuristicWithClock(config.Default().Categories, "Otros", func() time.Time {
				return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
			}))
		})

		It("still produces a dated, categorized result", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Amount).To(BeNil())
			Expect(result.Date).To(Equal("2024-06-01"))
			Expect(result.Category).To(Equal("Otros"))
		})
	})

	When("the image cannot be decoded", func() {
		JustBeforeEach(func() {
			result, err = arbiter.Extract(context.Background(), []byte("not an image"), "image/png")
		})

		It("returns an error", func() {
			Expect(err).To(HaveOccurred())
			Expect(result).To(BeNil())
		})
	})
})
