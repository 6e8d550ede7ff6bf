package portal

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gfmartins/nfe-monitor/internal/domain"
)

// minRowCells is the number of cells a results row needs before it can be
// parsed: access key, number, series, issuer CNPJ, issuer name, issue date,
// total value.
const minRowCells = 7

const issueDateLayout = "02/01/2006"

// ParseRow turns the ordered cell texts of one results row into a
// ScrapedDocument. Any failure is local to the row: the caller logs the
// error and skips the row, the page and the run continue.
func ParseRow(cells []string) (domain.ScrapedDocument, error) {
	if len(cells) < minRowCells {
		return domain.ScrapedDocument{}, fmt.Errorf("row has %d cells, need %d", len(cells), minRowCells)
	}

	trimmed := make([]string, len(cells))
	for i, cell := range cells {
		trimmed[i] = strings.TrimSpace(cell)
	}

	accessKey := trimmed[0]
	if len(accessKey) != domain.AccessKeyLength {
		return domain.ScrapedDocument{}, fmt.Errorf("access key %q has %d characters, want %d",
			accessKey, len(accessKey), domain.AccessKeyLength)
	}

	issueDate, err := time.Parse(issueDateLayout, trimmed[5])
	if err != nil {
		return domain.ScrapedDocument{}, fmt.Errorf("unparsable issue date %q: %w", trimmed[5], err)
	}

	totalValue, err := ParseMoney(trimmed[6])
	if err != nil {
		return domain.ScrapedDocument{}, fmt.Errorf("unparsable total value %q: %w", trimmed[6], err)
	}

	// ICMS and IPI columns are present on some portal layouts only.
	var icms, ipi float64
	if len(trimmed) > 7 && trimmed[7] != "" {
		if icms, err = ParseMoney(trimmed[7]); err != nil {
			return domain.ScrapedDocument{}, fmt.Errorf("unparsable ICMS value %q: %w", trimmed[7], err)
		}
	}
	if len(trimmed) > 8 && trimmed[8] != "" {
		if ipi, err = ParseMoney(trimmed[8]); err != nil {
			return domain.ScrapedDocument{}, fmt.Errorf("unparsable IPI value %q: %w", trimmed[8], err)
		}
	}

	return domain.ScrapedDocument{
		AccessKey:  accessKey,
		Number:     trimmed[1],
		Series:     trimmed[2],
		IssuerCNPJ: trimmed[3],
		IssuerName: trimmed[4],
		IssueDate:  issueDate,
		TotalValue: totalValue,
		ICMSValue:  icms,
		IPIValue:   ipi,
		Status:     domain.DocumentStatusAuthorized,
	}, nil
}

// ParseMoney parses a Brazilian-formatted monetary cell: optional "R$"
// prefix, "." thousands separator, "," decimal separator. "R$ 1.234,56"
// parses to 1234.56.
func ParseMoney(s string) (float64, error) {
	cleaned := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s), "R$"))
	cleaned = strings.ReplaceAll(cleaned, ".", "")
	cleaned = strings.ReplaceAll(cleaned, ",", ".")
	if cleaned == "" {
		return 0, fmt.Errorf("empty monetary value")
	}

	value, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid monetary value: %w", err)
	}

	return value, nil
}
