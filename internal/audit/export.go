package audit

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/rpattn/lexsign/internal/domain"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"
)

const (
	trailSheet    = "Audit Trail"
	summarySheet  = "Document"
	XLSXMediaType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

var trailHeader = []any{"Entry", "Timestamp (UTC)", "Action", "Actor", "Source IP", "User Agent", "Details"}

// ExportXLSX renders a document summary and its audit trail as a workbook.
func ExportXLSX(doc domain.Document, entries []domain.AuditEntry) ([]byte, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, fmt.Errorf("failed to name summary sheet: %w", err)
	}
	if err := writeSummary(f, doc); err != nil {
		return nil, err
	}

	if _, err := f.NewSheet(trailSheet); err != nil {
		return nil, fmt.Errorf("failed to create audit sheet: %w", err)
	}
	if err := f.SetSheetRow(trailSheet, "A1", &trailHeader); err != nil {
		return nil, fmt.Errorf("failed to write audit header: %w", err)
	}
	for i, entry := range entries {
		row := []any{
			entry.ID,
			entry.Timestamp.UTC().Format(time.RFC3339),
			string(entry.Action),
			actorLabel(entry.ActorID),
			entry.SourceIP,
			entry.UserAgent,
			details(entry.Metadata),
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, fmt.Errorf("failed to address row %d: %w", i+2, err)
		}
		if err := f.SetSheetRow(trailSheet, cell, &row); err != nil {
			return nil, fmt.Errorf("failed to write audit row %d: %w", i+2, err)
		}
	}
	if err := styleHeader(f, trailSheet, len(trailHeader)); err != nil {
		return nil, err
	}
	_ = f.SetColWidth(trailSheet, "A", "A", 30)
	_ = f.SetColWidth(trailSheet, "B", "C", 24)
	_ = f.SetColWidth(trailSheet, "G", "G", 60)

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("failed to serialise workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func writeSummary(f *excelize.File, doc domain.Document) error {
	rows := [][]any{
		{"Document ID", doc.ID.String()},
		{"Title", doc.Title},
		{"Status", string(doc.Status)},
		{"Version", doc.Version},
		{"Party A", doc.PartyAID.String()},
		{"Party B", optionalID(doc.PartyBID)},
		{"Notary", doc.Notary.String()},
		{"Party A signed", optionalTime(doc.PartyASignedAt)},
		{"Party B signed", optionalTime(doc.PartyBSignedAt)},
		{"Notarized", optionalTime(doc.NotarizedAt)},
		{"Completed", optionalTime(doc.CompletedAt)},
		{"Cancelled", optionalTime(doc.CancelledAt)},
		{"Created", doc.CreatedAt.UTC().Format(time.RFC3339)},
	}
	for i := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return fmt.Errorf("failed to address summary row: %w", err)
		}
		if err := f.SetSheetRow(summarySheet, cell, &rows[i]); err != nil {
			return fmt.Errorf("failed to write summary row: %w", err)
		}
	}
	_ = f.SetColWidth(summarySheet, "A", "A", 18)
	_ = f.SetColWidth(summarySheet, "B", "B", 40)
	return nil
}

func styleHeader(f *excelize.File, sheet string, columns int) error {
	style, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}
	last, err := excelize.CoordinatesToCellName(columns, 1)
	if err != nil {
		return fmt.Errorf("failed to address header: %w", err)
	}
	return f.SetCellStyle(sheet, "A1", last, style)
}

// details flattens metadata into "key=value" pairs with stable key order.
func details(metadata map[string]any) string {
	if len(metadata) == 0 {
		return ""
	}
	keys := make([]string, 0, len(metadata))
	for k := range metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var buf bytes.Buffer
	for i, k := range keys {
		if i > 0 {
			buf.WriteString("; ")
		}
		buf.WriteString(k)
		buf.WriteByte('=')
		switch v := metadata[k].(type) {
		case string:
			buf.WriteString(v)
		default:
			raw, err := json.Marshal(v)
			if err != nil {
				fmt.Fprint(&buf, v)
				continue
			}
			buf.Write(raw)
		}
	}
	return buf.String()
}

func actorLabel(id *uuid.UUID) string {
	if id == nil {
		return "system"
	}
	return id.String()
}

func optionalID(id *uuid.UUID) string {
	if id == nil {
		return ""
	}
	return id.String()
}

func optionalTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
