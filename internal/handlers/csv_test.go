package handlers

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/dompet-ai/orchestrator/internal/auth"
	"github.com/dompet-ai/orchestrator/internal/models"
)

type testValidator struct{}

func (testValidator) Validate(i interface{}) error { return nil }

func csvBody(rows int) string {
	var b strings.Builder
	b.WriteString("date,description,amount,type,category\n")
	for i := 0; i < rows; i++ {
		fmt.Fprintf(&b, "2024-05-%02d,row %d,RM1%d.50,expense,food\n", i%28+1, i, i%9)
	}
	return b.String()
}

// TestParseCSVRows проверяет разбор корректного CSV.
func TestParseCSVRows(t *testing.T) {
	rows, err := parseCSVRows(csvBody(3))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}
	if rows[0].Type != "expense" || rows[0].Category != "food" {
		t.Fatalf("unexpected row: %+v", rows[0])
	}
}

// TestParseCSVRowsBadHeader проверяет отказ на неверном заголовке.
func TestParseCSVRowsBadHeader(t *testing.T) {
	if _, err := parseCSVRows("when,what,how much,kind,tag\n2024-05-01,x,1,expense,food"); err == nil {
		t.Fatal("expected error for wrong header")
	}
}

// TestParseAmount проверяет валютные префиксы и разделители.
func TestParseAmount(t *testing.T) {
	cases := map[string]float64{
		"1234.50":    1234.5,
		"RM1,234.50": 1234.5,
		"-RM12":      -12,
		"MYR 99":     99,
		" 7 ":        7,
	}
	for input, want := range cases {
		got, err := parseAmount(input)
		if err != nil {
			t.Fatalf("%q: %v", input, err)
		}
		if got != want {
			t.Fatalf("%q: expected %v, got %v", input, want, got)
		}
	}

	if _, err := parseAmount("abc"); err == nil {
		t.Fatal("expected error for invalid amount")
	}
}

// TestUploadCSVRowLimit проверяет, что 2001 строка дает VALIDATION_ERROR
// без единой вставки (сервис в тесте не сконфигурирован и упал бы при
// любом обращении).
func TestUploadCSVRowLimit(t *testing.T) {
	e := echo.New()
	e.Validator = testValidator{}

	body := fmt.Sprintf(`{"month":"2024-05","csv":%q}`, csvBody(2001))
	request := httptest.NewRequest(http.MethodPost, "/v1/upload-csv", strings.NewReader(body))
	request.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	recorder := httptest.NewRecorder()

	c := e.NewContext(request, recorder)
	c.Set(auth.ContextUserKey, models.AuthenticatedUser{})

	handler := NewCSVHandler(nil)
	if err := handler.Upload(c); err != nil {
		t.Fatalf("handler returned error: %v", err)
	}

	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", recorder.Code)
	}
	if !strings.Contains(recorder.Body.String(), "VALIDATION_ERROR") {
		t.Fatalf("expected VALIDATION_ERROR envelope, got %s", recorder.Body.String())
	}
}

// TestSplitChunks проверяет разбиение ответа на SSE-чанки.
func TestSplitChunks(t *testing.T) {
	chunks := splitChunks(strings.Repeat("a", 170), 80)
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	if len(chunks[0]) != 80 || len(chunks[2]) != 10 {
		t.Fatalf("unexpected chunk sizes: %d/%d", len(chunks[0]), len(chunks[2]))
	}

	if chunks := splitChunks("", 80); len(chunks) != 0 {
		t.Fatalf("expected no chunks for empty text, got %d", len(chunks))
	}
}
