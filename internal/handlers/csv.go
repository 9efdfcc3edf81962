package handlers

import (
	"encoding/csv"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/dompet-ai/orchestrator/internal/auth"
	"github.com/dompet-ai/orchestrator/internal/tools"
)

const (
	csvMaxRows   = 2000
	csvChunkSize = 500
)

var csvColumns = []string{"date", "description", "amount", "type", "category"}

var currencyPrefix = regexp.MustCompile(`(?i)^(rm|myr)\s*`)

type CSVHandler struct {
	Service *tools.Service
}

// NewCSVHandler создает обработчик загрузки CSV с транзакциями.
func NewCSVHandler(service *tools.Service) *CSVHandler {
	return &CSVHandler{Service: service}
}

type UploadCSVRequest struct {
	Month string `json:"month" validate:"required,len=7"`
	CSV   string `json:"csv" validate:"required"`
}

type CSVBatchResponse struct {
	Batch    int    `json:"batch"`
	RowCount int    `json:"rowCount"`
	Month    string `json:"month"`
}

// Upload разбирает CSV с колонками date,description,amount,type,category.
// Жесткий предел 2000 строк проверяется до единственной вставки; вставка
// идет чанками по 500 строк.
func (h *CSVHandler) Upload(c echo.Context) error {
	scope, ok := auth.UserFromContext(c)
	if !ok {
		return unauthorized(c)
	}

	var req UploadCSVRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid payload")
	}
	if err := c.Validate(&req); err != nil {
		return validationError(c, err)
	}

	rows, err := parseCSVRows(req.CSV)
	if err != nil {
		return badRequest(c, err.Error())
	}
	if len(rows) > csvMaxRows {
		return badRequest(c, fmt.Sprintf("csv exceeds the %d row limit", csvMaxRows))
	}

	batches := make([]CSVBatchResponse, 0, len(rows)/csvChunkSize+1)
	ingested := 0
	for start := 0; start < len(rows); start += csvChunkSize {
		end := start + csvChunkSize
		if end > len(rows) {
			end = len(rows)
		}
		chunk := rows[start:end]

		count, err := h.Service.CreateTransactionsBatch(c.Request().Context(), scope, chunk)
		if err != nil {
			return respondError(c, err)
		}

		ingested += count
		batches = append(batches, CSVBatchResponse{
			Batch:    len(batches) + 1,
			RowCount: len(chunk),
			Month:    req.Month,
		})
	}

	return c.JSON(http.StatusOK, map[string]any{
		"ingestedCount": ingested,
		"batches":       batches,
	})
}

func parseCSVRows(payload string) ([]tools.TransactionPayload, error) {
	reader := csv.NewReader(strings.NewReader(strings.TrimSpace(payload)))
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("csv parse failed: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("csv is empty")
	}

	header := records[0]
	if len(header) < len(csvColumns) {
		return nil, fmt.Errorf("csv must contain columns %s", strings.Join(csvColumns, ","))
	}
	for i, column := range csvColumns {
		if !strings.EqualFold(strings.TrimSpace(header[i]), column) {
			return nil, fmt.Errorf("csv column %d must be %q", i+1, column)
		}
	}

	rows := make([]tools.TransactionPayload, 0, len(records)-1)
	for line, record := range records[1:] {
		if len(record) < len(csvColumns) {
			return nil, fmt.Errorf("csv row %d has too few columns", line+2)
		}

		amount, err := parseAmount(record[2])
		if err != nil {
			return nil, fmt.Errorf("csv row %d: %w", line+2, err)
		}

		rows = append(rows, tools.TransactionPayload{
			OccurredAt:  strings.TrimSpace(record[0]),
			Description: strings.TrimSpace(record[1]),
			Amount:      amount,
			Type:        strings.ToLower(strings.TrimSpace(record[3])),
			Category:    strings.TrimSpace(record[4]),
		})
	}

	return rows, nil
}

// parseAmount принимает суммы в виде "1234.50", "RM1,234.50" и "-RM12".
func parseAmount(value string) (float64, error) {
	cleaned := strings.TrimSpace(value)
	negative := strings.HasPrefix(cleaned, "-")
	cleaned = strings.TrimPrefix(cleaned, "-")
	cleaned = currencyPrefix.ReplaceAllString(cleaned, "")
	cleaned = strings.ReplaceAll(cleaned, ",", "")

	amount, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q", value)
	}
	if negative {
		amount = -amount
	}
	return amount, nil
}
