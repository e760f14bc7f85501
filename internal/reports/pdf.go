package reports

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
)

type pdfBuilder struct {
	pdf *gofpdf.Fpdf
}

func newPDFBuilder(title string) *pdfBuilder {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(15, 15, 15)
	pdf.SetAutoPageBreak(true, 20)
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 18)
	pdf.SetTextColor(33, 37, 41)
	pdf.CellFormat(0, 14, title, "", 1, "C", false, 0, "")

	pdf.SetFont("Arial", "", 10)
	pdf.SetTextColor(108, 117, 125)
	pdf.CellFormat(0, 8, fmt.Sprintf("Generated: %s", time.Now().Format("January 2, 2006 3:04 PM")), "", 1, "C", false, 0, "")
	pdf.Ln(8)

	return &pdfBuilder{pdf: pdf}
}

func (b *pdfBuilder) section(title string) {
	b.pdf.SetFont("Arial", "B", 13)
	b.pdf.SetTextColor(33, 37, 41)
	b.pdf.SetFillColor(240, 240, 240)
	b.pdf.CellFormat(0, 9, title, "", 1, "L", true, 0, "")
	b.pdf.Ln(4)
}

func (b *pdfBuilder) keyValues(pairs [][2]string) {
	for _, kv := range pairs {
		b.pdf.SetFont("Arial", "", 10)
		b.pdf.SetTextColor(108, 117, 125)
		b.pdf.CellFormat(60, 7, kv[0]+":", "", 0, "L", false, 0, "")
		b.pdf.SetFont("Arial", "B", 10)
		b.pdf.SetTextColor(33, 37, 41)
		b.pdf.CellFormat(0, 7, kv[1], "", 1, "L", false, 0, "")
	}
	b.pdf.Ln(4)
}

func (b *pdfBuilder) table(headers []string, rows [][]string) {
	pageWidth := 180.0
	colWidth := pageWidth / float64(len(headers))

	b.pdf.SetFont("Arial", "B", 8)
	b.pdf.SetFillColor(52, 58, 64)
	b.pdf.SetTextColor(255, 255, 255)
	for _, h := range headers {
		b.pdf.CellFormat(colWidth, 8, h, "1", 0, "C", true, 0, "")
	}
	b.pdf.Ln(-1)

	b.pdf.SetFont("Arial", "", 8)
	b.pdf.SetTextColor(33, 37, 41)
	fill := false
	for _, row := range rows {
		if fill {
			b.pdf.SetFillColor(248, 249, 250)
		} else {
			b.pdf.SetFillColor(255, 255, 255)
		}
		for _, cell := range row {
			if len(cell) > 28 {
				cell = cell[:25] + "..."
			}
			b.pdf.CellFormat(colWidth, 7, cell, "1", 0, "L", true, 0, "")
		}
		b.pdf.Ln(-1)
		fill = !fill
	}
	b.pdf.Ln(4)
}

func (b *pdfBuilder) bytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := b.pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("rendering PDF: %w", err)
	}
	return buf.Bytes(), nil
}

// CategoryPDF renders a category detail report as a downloadable PDF.
func CategoryPDF(report *CategoryDetailsReport) ([]byte, error) {
	b := newPDFBuilder(fmt.Sprintf("Health Events - %s", report.Name))

	b.section("Summary")
	b.keyValues([][2]string{
		{"Total events", fmt.Sprintf("%d", report.Summary.TotalEvents)},
		{"Upcoming events", fmt.Sprintf("%d", report.Summary.UpcomingEvents)},
		{"Services affected", fmt.Sprintf("%d", report.Summary.ServicesAffected)},
		{"Regions affected", fmt.Sprintf("%d", report.Summary.RegionsAffected)},
	})

	b.section("Events")
	rows := make([][]string, 0, len(report.Events))
	for _, e := range report.Events {
		rows = append(rows, []string{e.Service, e.Region, e.EventType, e.Status, e.StartTime})
	}
	b.table([]string{"Service", "Region", "Event Type", "Status", "Start"}, rows)

	return b.bytes()
}
