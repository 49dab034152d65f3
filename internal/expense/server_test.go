package expense

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"
	"github.com/shopspring/decimal"

	"github.com/gastos-dev/gastos/internal/config"
	"github.com/gastos-dev/gastos/internal/currency"
	"github.com/gastos-dev/gastos/internal/extraction"
)

var _ = Describe("Server", func() {
	var (
		db          *mockDB
		extractor   *mockExtractor
		reconciler  *Reconciler
		service     *Service
		server      *Server
		ghttpServer *ghttp.Server

		paul   = Identity{User: "paul"}
		edurne = Identity{User: "edurne", Admin: true}
	)

	BeforeEach(func() {
		cfg := config.Default()
		db = newMockDB()
		extractor = &mockExtractor{result: &extraction.Result{}}
		converter := currency.NewConverter(cfg.BaseCurrency, cfg.DecimalRates())
		clock := &tickingTimeSource{now: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)}
		ids := &seqIDGenerator{}
		reconciler = NewReconcilerWithDeps(db, converter, ids, clock)
		service = NewServiceWithDeps(db, newMockStorage(), extractor, converter, reconciler, cfg.DefaultCategory, ids, clock)
		server = NewServerWithMux(service, reconciler, converter, cfg, http.NewServeMux())
		ghttpServer = ghttp.NewServer()
	})

	AfterEach(func() {
		ghttpServer.Close()
	})

	// do sends one request through the server with the given credentials.
	do := func(method, path, user, password string, body io.Reader, contentType string) *http.Response {
		ghttpServer.AppendHandlers(server.ServeHTTP)
		req, err := http.NewRequest(method, ghttpServer.URL()+path, body)
		Expect(err).NotTo(HaveOccurred())
		if user != "" {
			req.SetBasicAuth(user, password)
		}
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		resp, err := http.DefaultClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	asPaul := func(method, path string, body io.Reader) *http.Response {
		return do(method, path, "paul", "paul", body, "application/json")
	}

	decode := func(resp *http.Response, out any) {
		defer resp.Body.Close()
		data, err := io.ReadAll(resp.Body)
		Expect(err).NotTo(HaveOccurred())
		Expect(json.Unmarshal(data, out)).NotTo(HaveOccurred())
	}

	Describe("authentication", func() {
		It("rejects requests without credentials", func() {
			resp := do("GET", "/api/expenses", "", "", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
			Expect(resp.Header.Get("WWW-Authenticate")).NotTo(BeEmpty())
			resp.Body.Close()
		})

		It("rejects wrong passwords", func() {
			resp := do("GET", "/api/expenses", "paul", "wrong", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
			resp.Body.Close()
		})

		It("accepts configured credentials", func() {
			resp := asPaul("GET", "/api/expenses", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			resp.Body.Close()
		})
	})

	Describe("expenses", func() {
		It("creates an expense from JSON input", func() {
			body, _ := json.Marshal(map[string]any{
				"date":        "2024-03-15",
				"category":    "Restaurante",
				"description": "menu del dia",
				"amount":      "21.40",
			})
			resp := asPaul("POST", "/api/expenses", bytes.NewReader(body))
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))

			var record Record
			decode(resp, &record)
			Expect(record.ID).NotTo(BeEmpty())
			Expect(record.Amount).To(Equal(int64(2140)))
			Expect(record.User).To(Equal("paul"))
		})

		It("returns 404 for an unknown expense", func() {
			resp := asPaul("GET", "/api/expenses/nonexistent", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			resp.Body.Close()
		})

		It("returns 403 when a user reads another user's expense", func() {
			record, err := service.CreateExpense(edurne, Input{User: "edurne", Amount: decimalPtr("5.00")})
			Expect(err).NotTo(HaveOccurred())

			resp := asPaul("GET", "/api/expenses/"+record.ID, nil)
			Expect(resp.StatusCode).To(Equal(http.StatusForbidden))
			resp.Body.Close()
		})

		It("flips the checked flag", func() {
			record, err := service.CreateExpense(paul, Input{Amount: decimalPtr("5.00")})
			Expect(err).NotTo(HaveOccurred())

			body, _ := json.Marshal(map[string]bool{"checked": true})
			resp := asPaul("POST", "/api/expenses/"+record.ID+"/checked", bytes.NewReader(body))
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var updated Record
			decode(resp, &updated)
			Expect(updated.Checked).To(BeTrue())
		})

		It("deletes an expense", func() {
			record, err := service.CreateExpense(paul, Input{Amount: decimalPtr("5.00")})
			Expect(err).NotTo(HaveOccurred())

			resp := asPaul("DELETE", "/api/expenses/"+record.ID, nil)
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			resp.Body.Close()
			Expect(db.expenses).To(BeEmpty())
		})

		It("exports CSV", func() {
			_, err := service.CreateExpense(paul, Input{Date: "2024-03-15", Amount: decimalPtr("21.40")})
			Expect(err).NotTo(HaveOccurred())

			resp := asPaul("GET", "/api/expenses/export.csv", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(HavePrefix("text/csv"))
			defer resp.Body.Close()
			data, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(data)).To(ContainSubstring("21.40"))
		})
	})

	Describe("scanning", func() {
		It("returns a draft without persisting it", func() {
			amount := decimal.RequireFromString("21.40")
			extractor.result = &extraction.Result{Amount: &amount, Date: "2024-03-15"}

			var b bytes.Buffer
			writer := multipart.NewWriter(&b)
			part, _ := writer.CreateFormFile("file", "receipt.jpg")
			part.Write([]byte("fake image data"))
			writer.Close()

			resp := do("POST", "/api/scan", "paul", "paul", &b, writer.FormDataContentType())
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var draft Record
			decode(resp, &draft)
			Expect(draft.ID).To(BeEmpty())
			Expect(draft.Amount).To(Equal(int64(2140)))
			Expect(db.expenses).To(BeEmpty())
		})

		It("returns 400 when no file is provided", func() {
			var b bytes.Buffer
			writer := multipart.NewWriter(&b)
			writer.Close()

			resp := do("POST", "/api/scan", "paul", "paul", &b, writer.FormDataContentType())
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			resp.Body.Close()
		})
	})

	Describe("settlement", func() {
		It("creates a pool entry", func() {
			body, _ := json.Marshal(map[string]any{
				"trip":     "roma",
				"amount":   "30.00",
				"currency": "EUR",
			})
			resp := asPaul("POST", "/api/pool-entries", bytes.NewReader(body))
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))

			var entry PoolEntry
			decode(resp, &entry)
			Expect(entry.Amount).To(Equal(int64(3000)))
			Expect(entry.Matched).To(BeFalse())
		})

		It("rejects a non-positive amount with 400", func() {
			body, _ := json.Marshal(map[string]any{"trip": "roma", "amount": "0"})
			resp := asPaul("POST", "/api/pool-entries", bytes.NewReader(body))
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			resp.Body.Close()
		})

		It("lists candidates and matches through the API", func() {
			entry, err := reconciler.AddPoolEntry(paul, "roma", "", decimal.RequireFromString("30.00"), "EUR")
			Expect(err).NotTo(HaveOccurred())
			record, err := service.CreateExpense(paul, Input{Trip: "roma", Amount: decimalPtr("30.00")})
			Expect(err).NotTo(HaveOccurred())

			resp := asPaul("GET", "/api/expenses/"+record.ID+"/candidates", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var candidates []*PoolEntry
			decode(resp, &candidates)
			Expect(candidates).To(HaveLen(1))

			body, _ := json.Marshal(map[string]string{"entry_id": entry.ID})
			resp = asPaul("POST", "/api/expenses/"+record.ID+"/match", bytes.NewReader(body))
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			resp.Body.Close()
		})

		It("returns 409 for a second match on the same entry", func() {
			entry, err := reconciler.AddPoolEntry(paul, "roma", "", decimal.RequireFromString("30.00"), "EUR")
			Expect(err).NotTo(HaveOccurred())
			first, err := service.CreateExpense(paul, Input{Trip: "roma", Amount: decimalPtr("30.00")})
			Expect(err).NotTo(HaveOccurred())
			second, err := service.CreateExpense(paul, Input{Trip: "roma", Amount: decimalPtr("30.00")})
			Expect(err).NotTo(HaveOccurred())
			Expect(reconciler.Match(paul, first.ID, entry.ID)).To(Succeed())

			body, _ := json.Marshal(map[string]string{"entry_id": entry.ID})
			resp := asPaul("POST", "/api/expenses/"+second.ID+"/match", bytes.NewReader(body))
			Expect(resp.StatusCode).To(Equal(http.StatusConflict))
			resp.Body.Close()
		})

		It("unmatches idempotently", func() {
			record, err := service.CreateExpense(paul, Input{Trip: "roma", Amount: decimalPtr("30.00")})
			Expect(err).NotTo(HaveOccurred())

			resp := asPaul("POST", "/api/expenses/"+record.ID+"/unmatch", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			resp.Body.Close()
		})

		It("summarizes pools", func() {
			_, err := reconciler.AddPoolEntry(paul, "roma", "", decimal.RequireFromString("30.00"), "EUR")
			Expect(err).NotTo(HaveOccurred())

			resp := asPaul("GET", "/api/pools/summary", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var summaries []PoolSummary
			decode(resp, &summaries)
			Expect(summaries).To(HaveLen(1))
			Expect(summaries[0].PendingAmount).To(Equal(int64(3000)))
		})
	})

	Describe("trips", func() {
		It("registers and lists trips", func() {
			body, _ := json.Marshal(map[string]string{"name": "roma"})
			resp := asPaul("POST", "/api/trips", bytes.NewReader(body))
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))
			resp.Body.Close()

			resp = asPaul("GET", "/api/trips", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var trips []TripInfo
			decode(resp, &trips)
			Expect(trips).To(HaveLen(1))
			Expect(trips[0].Name).To(Equal("roma"))
			Expect(trips[0].Active).To(BeTrue())
		})

		It("lets only admins retire a trip", func() {
			body, _ := json.Marshal(map[string]string{"name": "roma"})
			resp := asPaul("POST", "/api/trips", bytes.NewReader(body))
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))
			resp.Body.Close()

			toggle, _ := json.Marshal(map[string]bool{"active": false})
			resp = asPaul("PUT", "/api/trips/roma/active", bytes.NewReader(toggle))
			Expect(resp.StatusCode).To(Equal(http.StatusForbidden))
			resp.Body.Close()

			resp = do("PUT", "/api/trips/roma/active", "edurne", "edurne", bytes.NewReader(toggle), "application/json")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var trip Trip
			decode(resp, &trip)
			Expect(trip.Active).To(BeFalse())
		})

		It("refuses to delete a trip in use", func() {
			body, _ := json.Marshal(map[string]string{"name": "roma"})
			resp := asPaul("POST", "/api/trips", bytes.NewReader(body))
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))
			resp.Body.Close()

			expenseBody, _ := json.Marshal(map[string]any{"trip": "roma", "amount": "10.00"})
			resp = asPaul("POST", "/api/expenses", bytes.NewReader(expenseBody))
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))
			resp.Body.Close()

			resp = do("DELETE", "/api/trips/roma", "edurne", "edurne", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			resp.Body.Close()
		})
	})

	Describe("utilities", func() {
		It("converts currencies", func() {
			resp := asPaul("GET", "/api/convert?amount=10.90&from=USD", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var body map[string]any
			decode(resp, &body)
			Expect(body["to"]).To(Equal("EUR"))
			Expect(body["converted"]).To(Equal("10"))
		})

		It("lists configured categories in order", func() {
			resp := asPaul("GET", "/api/categories", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var categories []string
			decode(resp, &categories)
			Expect(categories[0]).To(Equal("Restaurante"))
			Expect(categories).To(ContainElement("Otros"))
		})
	})
})
