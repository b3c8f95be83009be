package bulk

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/rpattn/metacat/internal/domain"
	"github.com/rpattn/metacat/internal/repository"
)

// Exporter renders current snapshots back into the contract's wire format,
// the exact inverse of import: header row first, one row per entity, empty
// string for unset fields, FieldSeparator-joined multi-values.
type Exporter struct {
	contract  Contract
	snapshots repository.SnapshotRepository
}

// NewExporter wires an exporter for one contract.
func NewExporter(contract Contract, snapshots repository.SnapshotRepository) *Exporter {
	return &Exporter{contract: contract, snapshots: snapshots}
}

// ExportCsv writes all current entities of the contract's type, restricted
// to the scope subtree when the contract declares a scoped column.
func (e *Exporter) ExportCsv(ctx context.Context, scopePath string) (string, error) {
	rows, err := e.collectRows(ctx, scopePath)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)
	if err := writer.Write(e.contract.Header()); err != nil {
		return "", fmt.Errorf("write header: %w", err)
	}
	for _, row := range rows {
		if err := writer.Write(row); err != nil {
			return "", fmt.Errorf("write row: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return "", fmt.Errorf("flush export: %w", err)
	}
	return buf.String(), nil
}

// ExportXlsx renders the same rows as a single-sheet workbook.
func (e *Exporter) ExportXlsx(ctx context.Context, scopePath string) ([]byte, error) {
	rows, err := e.collectRows(ctx, scopePath)
	if err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	defer func() { _ = f.Close() }()
	sheet := f.GetSheetName(0)

	all := append([][]string{e.contract.Header()}, rows...)
	for i, row := range all {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return nil, fmt.Errorf("address row %d: %w", i+1, err)
		}
		values := make([]any, len(row))
		for j, v := range row {
			values[j] = v
		}
		if err := f.SetSheetRow(sheet, cell, &values); err != nil {
			return nil, fmt.Errorf("write row %d: %w", i+1, err)
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("render workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func (e *Exporter) collectRows(ctx context.Context, scopePath string) ([][]string, error) {
	snapshots, err := e.snapshots.List(ctx, e.contract.EntityType)
	if err != nil {
		return nil, fmt.Errorf("list %s entities: %w", e.contract.EntityType, err)
	}

	scopedCol := e.contract.ScopedColumn()
	rows := make([][]string, 0, len(snapshots))
	for _, snapshot := range snapshots {
		if scopePath != "" && scopedCol >= 0 && !inScope(snapshot.Field(e.contract.Columns[scopedCol].FieldName()), scopePath) {
			continue
		}
		row := make([]string, len(e.contract.Columns))
		for i, col := range e.contract.Columns {
			row[i] = renderCell(col, snapshot.Field(col.FieldName()))
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func inScope(value domain.FieldValue, scopePath string) bool {
	for _, ref := range value.Refs {
		if ref.IsUnder(scopePath) {
			return true
		}
	}
	return false
}

func parseExcel(payload []byte) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to open xlsx: %w", err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.New("excel file has no sheets")
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read rows from xlsx: %w", err)
	}

	// Pad ragged xlsx rows so column counting matches CSV behavior.
	width := 0
	for _, row := range rows {
		if len(row) > width {
			width = len(row)
		}
	}
	for i, row := range rows {
		if len(row) < width && !rowEmpty(row) {
			padded := make([]string, width)
			copy(padded, row)
			rows[i] = padded
		}
	}

	filtered := rows[:0]
	for _, row := range rows {
		if !rowEmpty(row) {
			filtered = append(filtered, row)
		}
	}
	return filtered, nil
}

func rowEmpty(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
