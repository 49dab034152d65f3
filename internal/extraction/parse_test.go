package extraction

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("parseStructured", func() {
	var (
		reply  string
		result *Result
		err    error
	)

	JustBeforeEach(func() {
		result, err = parseStructured(reply, "Otros")
	})

	When("parsing a complete valid reply", func() {
		BeforeEach(func() {
			reply = `{"amount": 15.50, "currency": "eur", "date": "2024-03-15", "description": "Restaurante El Rincón", "concept": "Restaurante"}`
		})

		It("should not return an error", func() {
			Expect(err).NotTo(HaveOccurred())
		})

		It("parses the amount", func() {
			Expect(result.Amount.String()).To(Equal("15.5"))
		})

		It("upper-cases the currency", func() {
			Expect(result.Currency).To(Equal("EUR"))
		})

		It("keeps the date", func() {
			Expect(result.Date).To(Equal("2024-03-15"))
		})

		It("keeps description and category", func() {
			Expect(result.Description).To(Equal("Restaurante El Rincón"))
			Expect(result.Category).To(Equal("Restaurante"))
		})

		It("tags every field as llm", func() {
			for _, field := range []string{FieldAmount, FieldCurrency, FieldDate, FieldDescription, FieldCategory} {
				Expect(result.Source(field)).To(Equal(TierLLM))
			}
		})
	})

	When("the reply is wrapped in markdown code fences", func() {
		BeforeEach(func() {
			reply = "```json\n{\"amount\": 10.50, \"currency\": \"USD\"}\n```"
		})

		It("strips the fences before parsing", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Amount.String()).To(Equal("10.5"))
			Expect(result.Currency).To(Equal("USD"))
		})
	})

	When("the reply wraps the JSON in prose", func() {
		BeforeEach(func() {
			reply = `Here is the extracted data: {"amount": 7.25} Let me know if you need more.`
		})

		It("extracts the outermost JSON object", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Amount.String()).To(Equal("7.25"))
		})
	})

	When("the amount is not positive", func() {
		BeforeEach(func() {
			reply = `{"amount": -3.00, "currency": "EUR"}`
		})

		It("drops the amount and keeps the currency", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Amount).To(BeNil())
			Expect(result.Currency).To(Equal("EUR"))
		})
	})

	When("the amount arrives as a numeric string", func() {
		BeforeEach(func() {
			reply = `{"amount": "42.75"}`
		})

		It("parses it anyway", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Amount.String()).To(Equal("42.75"))
		})
	})

	When("fields carry sentinel placeholders", func() {
		BeforeEach(func() {
			reply = `{"amount": null, "currency": "null", "date": "null", "description": "No disponible", "concept": "Otros"}`
		})

		It("treats every field as absent", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Amount).To(BeNil())
			Expect(result.Currency).To(BeEmpty())
			Expect(result.Date).To(BeEmpty())
			Expect(result.Description).To(BeEmpty())
			Expect(result.Category).To(BeEmpty())
		})
	})

	When("the date is too short to be a full date", func() {
		BeforeEach(func() {
			reply = `{"date": "2024"}`
		})

		It("drops the date", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Date).To(BeEmpty())
		})
	})

	When("the reply is truncated JSON", func() {
		BeforeEach(func() {
			reply = `{"amount": 15.5, "currency":`
		})

		It("returns a malformed-response error", func() {
			Expect(err).To(MatchError(errMalformedResponse))
		})
	})

	When("the reply contains no JSON at all", func() {
		BeforeEach(func() {
			reply = "I could not read this receipt, sorry."
		})

		It("returns a malformed-response error", func() {
			Expect(err).To(MatchError(errMalformedResponse))
		})
	})
})
