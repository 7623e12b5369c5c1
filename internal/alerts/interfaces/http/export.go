package http

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	alertapp "hazardwatch/internal/alerts/application"
	alerts "hazardwatch/internal/alerts/domain"
	"hazardwatch/internal/observability/metrics"
)

// BuildAlertsPDF renders an alert history report.
func BuildAlertsPDF(list []alerts.Alert, from, to time.Time) ([]byte, error) {
	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Alert History")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("From: %s", from.Format(time.RFC3339)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("To: %s", to.Format(time.RFC3339)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Alerts: %d", len(list)))
	pdf.Ln(8)

	pdf.SetFont("Arial", "B", 9)
	pdf.CellFormat(40, 6, "Created", "1", 0, "C", false, 0, "")
	pdf.CellFormat(30, 6, "Hazard", "1", 0, "C", false, 0, "")
	pdf.CellFormat(25, 6, "Severity", "1", 0, "C", false, 0, "")
	pdf.CellFormat(95, 6, "Title", "1", 0, "C", false, 0, "")
	pdf.CellFormat(25, 6, "Sent", "1", 0, "C", false, 0, "")
	pdf.CellFormat(25, 6, "Acked", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 9)
	for _, alert := range list {
		sent := "no"
		if !alert.SentAt.IsZero() {
			sent = "yes"
		}
		acked := "no"
		if alert.Acknowledged {
			acked = "yes"
		}
		pdf.CellFormat(40, 6, alert.CreatedAt.Format("2006-01-02 15:04"), "1", 0, "C", false, 0, "")
		pdf.CellFormat(30, 6, string(alert.AlertType), "1", 0, "C", false, 0, "")
		pdf.CellFormat(25, 6, string(alert.Severity), "1", 0, "C", false, 0, "")
		pdf.CellFormat(95, 6, alert.Title, "1", 0, "L", false, 0, "")
		pdf.CellFormat(25, 6, sent, "1", 0, "C", false, 0, "")
		pdf.CellFormat(25, 6, acked, "1", 0, "C", false, 0, "")
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildAlertsXLSX renders an alert history workbook.
func BuildAlertsXLSX(list []alerts.Alert, from, to time.Time) ([]byte, error) {
	f := excelize.NewFile()
	summarySheet := "summary"
	alertsSheet := "alerts"
	f.SetSheetName("Sheet1", summarySheet)
	f.NewSheet(alertsSheet)

	_ = f.SetCellValue(summarySheet, "A1", "Alert History")
	_ = f.SetCellValue(summarySheet, "A3", "From")
	_ = f.SetCellValue(summarySheet, "B3", from.Format(time.RFC3339))
	_ = f.SetCellValue(summarySheet, "A4", "To")
	_ = f.SetCellValue(summarySheet, "B4", to.Format(time.RFC3339))
	_ = f.SetCellValue(summarySheet, "A5", "Alerts")
	_ = f.SetCellValue(summarySheet, "B5", len(list))

	headers := []string{"Created", "Hazard", "Severity", "Title", "Message", "Rule", "Sent At", "Acknowledged", "Acknowledged By"}
	for i, header := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(alertsSheet, cell, header)
	}
	for i, alert := range list {
		row := i + 2
		sentAt := ""
		if !alert.SentAt.IsZero() {
			sentAt = alert.SentAt.Format(time.RFC3339)
		}
		values := []any{
			alert.CreatedAt.Format(time.RFC3339),
			string(alert.AlertType),
			string(alert.Severity),
			alert.Title,
			alert.Message,
			alert.RuleID,
			sentAt,
			alert.Acknowledged,
			alert.AcknowledgedBy,
		}
		for col, value := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			_ = f.SetCellValue(alertsSheet, cell, value)
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ExportHandler serves alert history downloads.
type ExportHandler struct {
	service *alertapp.AlertService
}

// NewExportHandler constructs a handler.
func NewExportHandler(service *alertapp.AlertService) (*ExportHandler, error) {
	if service == nil {
		return nil, errors.New("export handler: nil service")
	}
	return &ExportHandler{service: service}, nil
}

// ServeHTTP handles GET /api/v1/exports/alerts.{xlsx,pdf}.
func (h *ExportHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var format string
	switch r.URL.Path {
	case "/api/v1/exports/alerts.xlsx":
		format = "xlsx"
	case "/api/v1/exports/alerts.pdf":
		format = "pdf"
	default:
		w.WriteHeader(http.StatusNotFound)
		return
	}

	query := alertapp.AlertQuery{}
	var err error
	if query.From, err = parseOptionalTime(r, "from"); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if query.To, err = parseOptionalTime(r, "to"); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if query.To.IsZero() {
		query.To = time.Now().UTC()
	}
	if query.From.IsZero() {
		query.From = query.To.AddDate(0, 0, -30)
	}
	if !query.To.After(query.From) {
		http.Error(w, "to must be after from", http.StatusBadRequest)
		return
	}

	start := time.Now()
	list, err := h.service.List(r.Context(), query)
	if err != nil {
		metrics.ObserveAlertExport(format, metrics.ResultError, time.Since(start))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	var payload []byte
	var contentType, filename string
	switch format {
	case "xlsx":
		payload, err = BuildAlertsXLSX(list, query.From, query.To)
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
		filename = "alerts.xlsx"
	case "pdf":
		payload, err = BuildAlertsPDF(list, query.From, query.To)
		contentType = "application/pdf"
		filename = "alerts.pdf"
	}
	if err != nil {
		metrics.ObserveAlertExport(format, metrics.ResultError, time.Since(start))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	metrics.ObserveAlertExport(format, metrics.ResultSuccess, time.Since(start))

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	_, _ = w.Write(payload)
}
