// Package excel renders a confirmed material request into the fixed-layout
// spreadsheet template.
//
// The template has a merged header block; writing into a merged region only
// takes effect on the region's anchor (top-left) cell, so every header write
// goes through an explicit anchor-resolution step. Item rows occupy a fixed
// contiguous range that is cleared before writing to avoid stale template
// values.
package excel

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/ptoflow/materials-backend/internal/domain"
)

// Template layout constants. Row/column positions are part of the template
// contract and must match the asset shipped with the service.
const (
	itemsStartRow = 12
	itemsEndRow   = 36

	colLineNo   = "A"
	colName     = "B"
	colTypeMark = "C"
	colUnit     = "E"
	colQty      = "F"

	// MaxItemRows is how many item rows the template can hold. Lines past it
	// are dropped with a logged diagnostic.
	MaxItemRows = itemsEndRow - itemsStartRow + 1
)

var (
	// ErrTemplateMissing indicates the template asset could not be read.
	ErrTemplateMissing = errors.New("request template not found")

	// ErrNoLines indicates there is nothing to render.
	ErrNoLines = errors.New("request has no line items")
)

// HeaderData carries the resolved object's descriptive fields written into
// the template's header block (cells C1..C7).
type HeaderData struct {
	PSName         string
	Contractor     string
	WorkType       string
	ContractNumber string
	WorkPeriod     string
	Customer       string
	Address        string
}

// Generator renders requests against one template asset loaded at startup.
type Generator struct {
	templatePath string
	// Place is the locality line written next to the request date (cell B39).
	Place string
}

// NewGenerator validates that the template asset exists and returns a
// generator bound to it. The template is re-read per render: renders are rare
// and re-reading keeps the generator stateless and safe for concurrent use.
func NewGenerator(templatePath, place string) (*Generator, error) {
	if _, err := os.Stat(templatePath); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrTemplateMissing, templatePath)
	}
	return &Generator{templatePath: templatePath, Place: place}, nil
}

// Generate fills the template with the request header and its items and
// returns the raw .xlsx bytes.
//
// It fails with ErrTemplateMissing when the asset disappeared after startup
// and with ErrNoLines for a request without items. Items beyond MaxItemRows
// are dropped (logged), never an error.
func (g *Generator) Generate(req *domain.MaterialRequest, header HeaderData) ([]byte, error) {
	if len(req.Items) == 0 {
		return nil, ErrNoLines
	}

	f, err := excelize.OpenFile(g.templatePath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTemplateMissing, err)
	}
	defer f.Close()

	sheet := f.GetSheetName(0)
	merges, err := mergedRegions(f, sheet)
	if err != nil {
		return nil, err
	}

	// Header block: object fields C1..C7, request fields H9/H10, place+date.
	number := ""
	if req.RequestNumber != nil {
		number = *req.RequestNumber
	}
	headerCells := map[string]string{
		"C1":  header.PSName,
		"C2":  header.Contractor,
		"C3":  header.WorkType,
		"C4":  header.ContractNumber,
		"C5":  header.WorkPeriod,
		"C6":  header.Customer,
		"C7":  header.Address,
		"H9":  number,
		"H10": req.RequesterName,
		"B39": fmt.Sprintf("%s, %s", g.Place, req.RequestDate.Format("02.01.2006")),
	}
	for ref, val := range headerCells {
		if err := setAnchored(f, sheet, merges, ref, val); err != nil {
			return nil, err
		}
	}

	// Clear the whole item range first so unused rows never leak template
	// leftovers into the artifact.
	for row := itemsStartRow; row <= itemsEndRow; row++ {
		for _, col := range []string{colLineNo, colName, colTypeMark, colUnit, colQty} {
			if err := setAnchored(f, sheet, merges, fmt.Sprintf("%s%d", col, row), nil); err != nil {
				return nil, err
			}
		}
	}

	for _, item := range req.Items {
		if item.LineNo > MaxItemRows {
			log.Warn().
				Str("draft_id", req.DraftID).
				Int("line_no", item.LineNo).
				Int("max", MaxItemRows).
				Msg("item row overflow, dropping")
			break
		}
		row := itemsStartRow + item.LineNo - 1
		cells := map[string]any{
			fmt.Sprintf("%s%d", colLineNo, row):   item.LineNo,
			fmt.Sprintf("%s%d", colName, row):     item.Name,
			fmt.Sprintf("%s%d", colTypeMark, row): item.TypeMark,
			fmt.Sprintf("%s%d", colUnit, row):     item.Unit,
			fmt.Sprintf("%s%d", colQty, row):      qtyCellValue(item.Qty),
		}
		for ref, val := range cells {
			if err := setAnchored(f, sheet, merges, ref, val); err != nil {
				return nil, err
			}
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}

	log.Info().
		Str("draft_id", req.DraftID).
		Int("lines", len(req.Items)).
		Str("ps_label", req.PSLabel).
		Msg("artifact generated")
	return buf.Bytes(), nil
}

// BuildFileName derives the artifact filename from the site label, request
// date, and sequence number, e.g. "Request_PS-110_2026-02-21_No3.xlsx".
// Path-unsafe characters in the label are replaced.
func BuildFileName(psLabel string, requestDate time.Time, counter int) string {
	label := psLabel
	if label == "" {
		label = "object"
	}
	label = strings.NewReplacer(" ", "_", "/", "-", "\\", "-").Replace(label)
	return fmt.Sprintf("Request_%s_%s_No%d.xlsx", label, requestDate.Format("2006-01-02"), counter)
}

// mergedRegions loads the sheet's merge ranges once per render.
func mergedRegions(f *excelize.File, sheet string) ([]excelize.MergeCell, error) {
	merges, err := f.GetMergeCells(sheet)
	if err != nil {
		return nil, err
	}
	return merges, nil
}

// setAnchored writes a value at ref, redirecting to the anchor cell when ref
// falls inside a merged region. Writes to non-anchor cells are silently
// ineffective in the file format, so the redirect happens here, explicitly.
func setAnchored(f *excelize.File, sheet string, merges []excelize.MergeCell, ref string, value any) error {
	target, err := resolveAnchor(merges, ref)
	if err != nil {
		return err
	}
	return f.SetCellValue(sheet, target, value)
}

// resolveAnchor returns the top-left cell of the merged region containing
// ref, or ref itself when the cell is not merged.
func resolveAnchor(merges []excelize.MergeCell, ref string) (string, error) {
	col, row, err := excelize.CellNameToCoordinates(ref)
	if err != nil {
		return "", err
	}
	for _, m := range merges {
		c1, r1, err := excelize.CellNameToCoordinates(m.GetStartAxis())
		if err != nil {
			continue
		}
		c2, r2, err := excelize.CellNameToCoordinates(m.GetEndAxis())
		if err != nil {
			continue
		}
		if col >= c1 && col <= c2 && row >= r1 && row <= r2 {
			return m.GetStartAxis(), nil
		}
	}
	return ref, nil
}

// qtyCellValue renders an integral quantity as an integer cell (no trailing
// ".0") and a fractional one as its exact float value.
func qtyCellValue(q decimal.Decimal) any {
	if q.IsInteger() {
		return q.IntPart()
	}
	v, _ := q.Float64()
	return v
}
