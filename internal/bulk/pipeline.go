// Package bulk parses tabular payloads against declared header contracts,
// validates each row independently, and maps validated rows onto entity
// mutations. Runs are restartable: every failure is reported with the row
// number and offending column so callers can resubmit only the failed rows.
package bulk

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/multierr"

	"github.com/rpattn/metacat/internal/domain"
	"github.com/rpattn/metacat/internal/repository"
	"github.com/rpattn/metacat/pkg/validator"
)

// ErrUnsupportedFormat is returned when an uploaded payload is neither CSV
// nor XLSX.
var ErrUnsupportedFormat = errors.New("unsupported file format")

var byteOrderMark = []byte{0xEF, 0xBB, 0xBF}

// RowApplier converts one validated snapshot into a create or update. Row
// apply failures are recorded per row, never propagated.
type RowApplier interface {
	ApplyRow(ctx context.Context, requested domain.Snapshot) error
}

// Pipeline runs bulk imports for one entity type.
type Pipeline struct {
	contract    Contract
	resolver    repository.ReferenceRepository
	applier     RowApplier
	fields      *validator.FieldValidator
	parallelism int
}

// NewPipeline wires a pipeline over its contract and collaborators.
func NewPipeline(contract Contract, resolver repository.ReferenceRepository, applier RowApplier, parallelism int) *Pipeline {
	if parallelism <= 0 {
		parallelism = 4
	}
	return &Pipeline{
		contract:    contract,
		resolver:    resolver,
		applier:     applier,
		fields:      validator.NewFieldValidator(),
		parallelism: parallelism,
	}
}

// Request describes one pipeline run.
type Request struct {
	// FileName decides the payload format by extension; empty means CSV.
	FileName string
	Payload  []byte

	// DryRun stops after validation with no persisted side effects.
	DryRun bool

	// ScopePath is the caller-declared subtree scoped columns must resolve
	// within.
	ScopePath string
}

type rowOutcome struct {
	cells    []string
	snapshot domain.Snapshot
	errs     []string
}

// Run executes PARSE -> VALIDATE -> APPLY -> AGGREGATE. Structural failures
// that prevent any row from being evaluated return a wrapped
// domain.ErrPipelineAbort alongside an ABORTED result; everything row-level
// lands in the result instead.
func (p *Pipeline) Run(ctx context.Context, req Request) (domain.ImportResult, error) {
	result := domain.ImportResult{EntityType: p.contract.EntityType, DryRun: req.DryRun}

	records, err := parsePayload(req.FileName, req.Payload)
	if err != nil {
		return p.abort(result, err)
	}
	if len(records) == 0 {
		return p.abort(result, errors.New("payload is empty"))
	}
	if !p.contract.MatchesHeader(records[0]) {
		return p.abort(result, fmt.Errorf("header %q does not match contract for %s",
			strings.Join(records[0], Separator), p.contract.EntityType))
	}

	rows := records[1:]
	result.TotalRows = len(rows)
	outcomes := p.validateRows(ctx, rows, req.ScopePath)

	if !req.DryRun {
		p.applyRows(ctx, outcomes, &result)
	}

	p.aggregate(outcomes, &result)
	log.Printf("[bulk] %s import: %d rows, %d ok, %d failed, status=%s dryRun=%v",
		p.contract.EntityType, result.TotalRows, result.SuccessCount, result.FailureCount, result.Status, req.DryRun)
	return result, nil
}

func (p *Pipeline) abort(result domain.ImportResult, cause error) (domain.ImportResult, error) {
	result.Status = domain.ImportAborted
	result.AbortReason = cause.Error()
	return result, fmt.Errorf("%w: %v", domain.ErrPipelineAbort, cause)
}

// validateRows checks rows independently and in parallel; rows share no
// mutable state during validation.
func (p *Pipeline) validateRows(ctx context.Context, rows [][]string, scopePath string) []rowOutcome {
	outcomes := make([]rowOutcome, len(rows))

	sem := make(chan struct{}, p.parallelism)
	var wg sync.WaitGroup
	for i := range rows {
		wg.Add(1)
		sem <- struct{}{}
		go func(idx int) {
			defer wg.Done()
			defer func() { <-sem }()
			outcomes[idx] = p.validateRow(ctx, rows[idx], scopePath)
		}(i)
	}
	wg.Wait()
	return outcomes
}

func (p *Pipeline) validateRow(ctx context.Context, cells []string, scopePath string) rowOutcome {
	outcome := rowOutcome{cells: cells}

	if len(cells) != len(p.contract.Columns) {
		outcome.errs = []string{fmt.Sprintf("expected %d columns, found %d", len(p.contract.Columns), len(cells))}
		return outcome
	}

	key := strings.TrimSpace(cells[p.contract.KeyColumn])
	snapshot := domain.NewSnapshot(p.contract.EntityType, key)

	var rowErr error
	for colIdx, col := range p.contract.Columns {
		raw := strings.TrimSpace(cells[colIdx])

		if verr := p.fields.ValidateValue(col.Name, raw, col.Rule()); verr != nil {
			rowErr = multierr.Append(rowErr, domain.NewColumnError(colIdx, "%s", verr.Message))
			continue
		}
		if raw == "" {
			continue
		}

		value, err := p.coerceCell(ctx, col, colIdx, raw, scopePath)
		if err != nil {
			rowErr = multierr.Append(rowErr, err)
			continue
		}
		snapshot.Fields[col.FieldName()] = value
	}

	for _, err := range multierr.Errors(rowErr) {
		outcome.errs = append(outcome.errs, err.Error())
	}
	if len(outcome.errs) == 0 {
		outcome.snapshot = snapshot
	}
	return outcome
}

// coerceCell turns one raw cell into its snapshot field value, resolving
// references and enforcing the scope hint.
func (p *Pipeline) coerceCell(ctx context.Context, col Column, colIdx int, raw, scopePath string) (domain.FieldValue, error) {
	if col.ReferenceType != "" {
		names := []string{raw}
		if col.Multi {
			names = strings.Split(raw, FieldSeparator)
		}
		refs := make([]domain.EntityReference, 0, len(names))
		for _, name := range names {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			ref, err := p.resolver.Resolve(ctx, col.ReferenceType, name)
			if err != nil {
				if errors.Is(err, domain.ErrNotFound) {
					return domain.FieldValue{}, domain.NewColumnError(colIdx, "%s %q not found", col.ReferenceType, name)
				}
				return domain.FieldValue{}, domain.NewColumnError(colIdx, "resolve %s %q: %v", col.ReferenceType, name, err)
			}
			if col.Scoped && !ref.IsUnder(scopePath) {
				return domain.FieldValue{}, domain.NewColumnError(colIdx, "%s %q is outside the declared scope", col.ReferenceType, name)
			}
			refs = append(refs, ref)
		}
		return domain.RefListValue(refs...), nil
	}

	if col.Bool {
		b, err := strconv.ParseBool(strings.ToLower(raw))
		if err != nil {
			return domain.FieldValue{}, domain.NewColumnError(colIdx, "unable to coerce %q to boolean", raw)
		}
		return domain.ScalarValue(b), nil
	}

	return domain.ScalarValue(raw), nil
}

// applyRows pushes validated rows through the applier in row order, so two
// rows targeting the same entity name apply last-row-wins. Cancellation is
// cooperative and only observed between rows; already-applied rows stay
// applied.
func (p *Pipeline) applyRows(ctx context.Context, outcomes []rowOutcome, result *domain.ImportResult) {
	for i := range outcomes {
		if len(outcomes[i].errs) > 0 {
			continue
		}
		if err := ctx.Err(); err != nil {
			result.Status = domain.ImportAborted
			result.AbortReason = fmt.Sprintf("cancelled after %d rows", i)
			for j := i; j < len(outcomes); j++ {
				if len(outcomes[j].errs) == 0 {
					outcomes[j].errs = append(outcomes[j].errs, "not applied: run cancelled")
				}
			}
			return
		}
		if err := p.applier.ApplyRow(ctx, outcomes[i].snapshot); err != nil {
			outcomes[i].errs = append(outcomes[i].errs, err.Error())
		}
	}
}

// aggregate fills the tallies, per-row results, and the echoed result rows.
func (p *Pipeline) aggregate(outcomes []rowOutcome, result *domain.ImportResult) {
	lines := [][]string{p.contract.ResultHeader()}
	for i, outcome := range outcomes {
		row := domain.RowResult{RowNumber: i + 1, Status: domain.RowSuccess}
		status, details := "success", ""
		if len(outcome.errs) > 0 {
			row.Status = domain.RowFailure
			row.Errors = outcome.errs
			status = "failure"
			details = "[" + strings.Join(outcome.errs, "; ") + "]"
			result.FailureCount++
		} else {
			result.SuccessCount++
		}
		result.Rows = append(result.Rows, row)
		lines = append(lines, append([]string{status, details}, outcome.cells...))
	}

	result.ResultRows = encodeResultRows(lines)
	if result.Status != domain.ImportAborted {
		result.Status = domain.AggregateStatus(result.TotalRows, result.FailureCount)
	}
}

// encodeResultRows renders each record through its own writer so a quoted
// cell holding a newline stays inside one result row.
func encodeResultRows(lines [][]string) []string {
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		var buf bytes.Buffer
		writer := csv.NewWriter(&buf)
		_ = writer.Write(line)
		writer.Flush()
		out = append(out, strings.TrimRight(buf.String(), "\r\n"))
	}
	return out
}

func parsePayload(fileName string, payload []byte) ([][]string, error) {
	ext := strings.ToLower(filepath.Ext(fileName))
	switch ext {
	case "", ".csv":
		return parseCSV(payload)
	case ".xlsx":
		return parseExcel(payload)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}
}

func parseCSV(payload []byte) ([][]string, error) {
	reader := bufio.NewReader(bytes.NewReader(payload))
	if prefix, err := reader.Peek(len(byteOrderMark)); err == nil && bytes.Equal(prefix, byteOrderMark) {
		_, _ = reader.Discard(len(byteOrderMark))
	}

	csvReader := csv.NewReader(reader)
	csvReader.TrimLeadingSpace = true
	csvReader.FieldsPerRecord = -1

	records, err := csvReader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read csv: %w", err)
	}
	return records, nil
}
