package notify

import (
	"fmt"
	"io"

	"github.com/gfmartins/nfe-monitor/internal/domain"

	"github.com/xuri/excelize/v2"
)

const reportSheet = "Documentos"

var reportHeaders = []string{
	"Chave de Acesso", "Número NFe", "Série", "CNPJ Emitente", "Emitente",
	"Data Emissão", "Valor Total", "ICMS", "IPI", "Status",
}

// documentReport renders the documents as a spreadsheet, written lazily
// while the mail body is being streamed.
func documentReport(docs []domain.FiscalDocument) func(w io.Writer) error {
	return func(w io.Writer) error {
		f := excelize.NewFile()
		defer f.Close()

		f.SetSheetName("Sheet1", reportSheet)

		for i, header := range reportHeaders {
			cell, err := excelize.CoordinatesToCellName(i+1, 1)
			if err != nil {
				return fmt.Errorf("failed to build header cell: %w", err)
			}
			if err := f.SetCellValue(reportSheet, cell, header); err != nil {
				return fmt.Errorf("failed to write header: %w", err)
			}
		}

		for row, doc := range docs {
			values := []interface{}{
				doc.AccessKey,
				doc.Number,
				doc.Series,
				doc.IssuerCNPJ,
				doc.IssuerName,
				doc.IssueDate.Format("02/01/2006"),
				doc.TotalValue,
				doc.ICMSValue,
				doc.IPIValue,
				string(doc.Status),
			}
			for col, value := range values {
				cell, err := excelize.CoordinatesToCellName(col+1, row+2)
				if err != nil {
					return fmt.Errorf("failed to build cell: %w", err)
				}
				if err := f.SetCellValue(reportSheet, cell, value); err != nil {
					return fmt.Errorf("failed to write row %d: %w", row+1, err)
				}
			}
		}

		if _, err := f.WriteTo(w); err != nil {
			return fmt.Errorf("failed to write report: %w", err)
		}
		return nil
	}
}
