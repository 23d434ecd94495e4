package catalog

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/MikeSquared-Agency/Crucible/internal/alloy"
)

// File names LoadDir looks for.
const (
	MaterialsFile    = "materials.csv"
	AdditivesFile    = "additives.csv"
	PresetsFile      = "blending_ratio.csv"
	CalibrationGlob  = "Calibration_upper_limit_*.csv"
	calibrationStart = "Calibration_upper_limit_"
)

var (
	yieldColumns = map[string]bool{"yield": true, "歩留まり": true}
	kindColumns  = map[string]bool{"kind": true, "区分": true}
	groupColumn  = "Group"
)

// ErrEmptyTable is returned for a CSV without a header row.
var ErrEmptyTable = errors.New("catalog: empty table")

// decode returns a UTF-8 reader for data that is either UTF-8 (optionally with a
// BOM) or CP932.
func decode(r io.Reader) (io.Reader, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	if utf8.Valid(data) {
		return transform.NewReader(bytes.NewReader(data), unicode.BOMOverride(unicode.UTF8.NewDecoder())), nil
	}
	return transform.NewReader(bytes.NewReader(data), japanese.ShiftJIS.NewDecoder()), nil
}

func readTable(r io.Reader) ([]string, [][]string, error) {
	dr, err := decode(r)
	if err != nil {
		return nil, nil, err
	}
	cr := csv.NewReader(dr)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	records, err := cr.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("parse csv: %w", err)
	}
	if len(records) == 0 {
		return nil, nil, ErrEmptyTable
	}
	header := make([]string, len(records[0]))
	for i, h := range records[0] {
		header[i] = strings.TrimSpace(h)
	}
	return header, records[1:], nil
}

// parseCell returns the numeric value of a cell. Blank, non-numeric and
// non-finite cells report ok=false and are treated as absent by callers.
func parseCell(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

func elementColumns(header []string) map[int]alloy.Element {
	cols := make(map[int]alloy.Element)
	for i, h := range header {
		if e, err := alloy.ParseElement(h); err == nil {
			cols[i] = e
		}
	}
	return cols
}

func cell(rec []string, i int) string {
	if i < 0 || i >= len(rec) {
		return ""
	}
	return rec[i]
}

func parseKind(s string) alloy.MaterialKind {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "base", "材料":
		return alloy.KindBase
	}
	return alloy.KindAlloy
}

// ReadMaterials parses a material table keyed by its first column.
func ReadMaterials(r io.Reader) ([]alloy.Material, error) {
	header, rows, err := readTable(r)
	if err != nil {
		return nil, err
	}
	elems := elementColumns(header)
	yieldCol, kindCol := -1, -1
	for i, h := range header {
		switch {
		case yieldColumns[strings.ToLower(h)]:
			yieldCol = i
		case kindColumns[strings.ToLower(h)]:
			kindCol = i
		}
	}

	var out []alloy.Material
	for _, rec := range rows {
		name := NormalizeName(cell(rec, 0))
		if name == "" {
			continue
		}
		m := alloy.Material{Name: name, Kind: parseKind(cell(rec, kindCol)), Content: make(map[alloy.Element]float64)}
		for i, e := range elems {
			if v, ok := parseCell(cell(rec, i)); ok {
				m.Content[e] = v
			}
		}
		if v, ok := parseCell(cell(rec, yieldCol)); ok {
			y := v
			m.Yield = &y
		}
		out = append(out, m)
	}
	return out, nil
}

// ReadAdditives parses an additive table keyed by its first column.
func ReadAdditives(r io.Reader) ([]alloy.Additive, error) {
	header, rows, err := readTable(r)
	if err != nil {
		return nil, err
	}
	elems := elementColumns(header)

	var out []alloy.Additive
	for _, rec := range rows {
		name := NormalizeName(cell(rec, 0))
		if name == "" {
			continue
		}
		a := alloy.Additive{Name: name, Content: make(map[alloy.Element]float64)}
		for i, e := range elems {
			if v, ok := parseCell(cell(rec, i)); ok {
				a.Content[e] = v
			}
		}
		out = append(out, a)
	}
	return out, nil
}

// ReadCalibration parses a calibration table with a Group column. Blank and zero
// cells mean the element is unbounded for that group.
func ReadCalibration(r io.Reader) (map[string]alloy.Limits, error) {
	header, rows, err := readTable(r)
	if err != nil {
		return nil, err
	}
	groupCol := -1
	for i, h := range header {
		if h == groupColumn {
			groupCol = i
			break
		}
	}
	if groupCol < 0 {
		return nil, fmt.Errorf("calibration table has no %q column", groupColumn)
	}
	elems := elementColumns(header)

	out := make(map[string]alloy.Limits)
	for _, rec := range rows {
		group := strings.TrimSpace(cell(rec, groupCol))
		if group == "" {
			continue
		}
		if _, seen := out[group]; seen {
			continue
		}
		limits := make(alloy.Limits)
		for i, e := range elems {
			if v, ok := parseCell(cell(rec, i)); ok && v != 0 {
				limits[e] = v
			}
		}
		out[group] = limits
	}
	return out, nil
}

// ReadPresets parses per-channel target rows. A cell such as "<0.02" is an
// upper-bound target of 0.02; every non-zero element is pre-selected.
func ReadPresets(r io.Reader) ([]Preset, error) {
	header, rows, err := readTable(r)
	if err != nil {
		return nil, err
	}
	elems := elementColumns(header)

	var out []Preset
	for _, rec := range rows {
		channel := strings.TrimSpace(cell(rec, 0))
		if channel == "" {
			continue
		}
		values := make(map[alloy.Element]alloy.ElementTarget)
		for i, e := range elems {
			if !e.Selectable() {
				continue
			}
			v, mode, ok := parseTarget(cell(rec, i))
			if !ok || v == 0 {
				continue
			}
			values[e] = alloy.ElementTarget{Value: v, Tolerance: alloy.DefaultTolerance(e), Mode: mode}
		}
		p := Preset{Channel: channel, Targets: values}
		for _, e := range alloy.Elements {
			if _, ok := values[e]; ok {
				p.Selected = append(p.Selected, e)
			}
		}
		out = append(out, p)
	}
	return out, nil
}

func parseTarget(s string) (float64, alloy.ToleranceMode, bool) {
	s = strings.TrimSpace(s)
	mode := alloy.Symmetric
	if strings.HasPrefix(s, "<") {
		mode = alloy.UpperOnly
		s = strings.TrimPrefix(strings.TrimPrefix(s, "<"), "=")
	}
	v, ok := parseCell(s)
	return v, mode, ok
}

// LoadDir builds a catalog from the CSV files in dir. Materials and additives are
// required. Each Calibration_upper_limit_<INSTRUMENT>.csv contributes groups keyed
// "<INSTRUMENT>/<Group>". The preset file is optional.
func LoadDir(dir string) (*Catalog, error) {
	materials, err := readFile(filepath.Join(dir, MaterialsFile), ReadMaterials)
	if err != nil {
		return nil, err
	}
	additives, err := readFile(filepath.Join(dir, AdditivesFile), ReadAdditives)
	if err != nil {
		return nil, err
	}

	limits := make(map[string]alloy.Limits)
	paths, err := filepath.Glob(filepath.Join(dir, CalibrationGlob))
	if err != nil {
		return nil, fmt.Errorf("glob calibration: %w", err)
	}
	sort.Strings(paths)
	for _, p := range paths {
		instrument := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(p), calibrationStart), ".csv")
		groups, err := readFile(p, ReadCalibration)
		if err != nil {
			return nil, err
		}
		for g, l := range groups {
			limits[GroupKey(instrument, g)] = l
		}
	}

	var presets []Preset
	presetPath := filepath.Join(dir, PresetsFile)
	if _, err := os.Stat(presetPath); err == nil {
		presets, err = readFile(presetPath, ReadPresets)
		if err != nil {
			return nil, err
		}
	}

	return New(materials, additives, limits, presets), nil
}

// GroupKey joins an instrument name and a calibration group.
func GroupKey(instrument, group string) string {
	if instrument == "" {
		return group
	}
	return instrument + "/" + group
}

func readFile[T any](path string, read func(io.Reader) (T, error)) (T, error) {
	var zero T
	f, err := os.Open(path)
	if err != nil {
		return zero, fmt.Errorf("open %s: %w", filepath.Base(path), err)
	}
	defer f.Close()
	v, err := read(f)
	if err != nil {
		return zero, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return v, nil
}
