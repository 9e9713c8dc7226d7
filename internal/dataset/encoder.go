package dataset

import (
	"fmt"
	"sort"
	"strings"

	"github.com/galinamarkova/beeswax-api/internal/models"
)

// Field names used as one-hot column prefixes.
const (
	FieldInventorySource = "inventory_source"
	FieldAppBundle       = "app_bundle"
	FieldPlatform        = "platform"
	FieldBannerSize      = "banner_size"
	FieldPlacementType   = "placement_type"
	FieldBandwidth       = "bandwidth"
	FieldRewarded        = "rewarded"
)

// unknownValue replaces empty categorical values so every row has a column.
const unknownValue = "unknown"

type categorical struct {
	name  string
	value func(models.Row) string
}

var categoricalFields = []categorical{
	{FieldInventorySource, func(r models.Row) string { return r.InventorySource }},
	{FieldAppBundle, func(r models.Row) string { return r.AppBundle }},
	{FieldPlatform, func(r models.Row) string { return r.Platform }},
	{FieldBannerSize, func(r models.Row) string { return r.BannerSize() }},
	{FieldPlacementType, func(r models.Row) string { return r.PlacementType }},
	{FieldBandwidth, func(r models.Row) string { return r.Bandwidth }},
}

// AllFields lists every original field in column order.
func AllFields() []string {
	out := make([]string, 0, len(categoricalFields)+1)
	for _, f := range categoricalFields {
		out = append(out, f.name)
	}
	return append(out, FieldRewarded)
}

// Encoder one-hot expands rows into a feature matrix. Columns are named
// <field>_<value>; the rewarded flag is a single numeric column.
type Encoder struct {
	columns []string
	index   map[string]int
}

// NewEncoder learns the vocabulary of every categorical field from rows.
// Values within a field are sorted so the column order is deterministic.
func NewEncoder(rows []models.Row) *Encoder {
	var columns []string
	for _, f := range categoricalFields {
		seen := make(map[string]struct{})
		for _, r := range rows {
			seen[normalize(f.value(r))] = struct{}{}
		}
		values := make([]string, 0, len(seen))
		for v := range seen {
			values = append(values, v)
		}
		sort.Strings(values)
		for _, v := range values {
			columns = append(columns, f.name+"_"+v)
		}
	}
	columns = append(columns, FieldRewarded)
	return newEncoder(columns)
}

// NewEncoderForColumns builds an encoder producing exactly the given columns,
// e.g. the feature list recorded in a descriptor.
func NewEncoderForColumns(columns []string) *Encoder {
	return newEncoder(append([]string(nil), columns...))
}

func newEncoder(columns []string) *Encoder {
	index := make(map[string]int, len(columns))
	for i, c := range columns {
		index[c] = i
	}
	return &Encoder{columns: columns, index: index}
}

// Columns returns the encoded column names in order.
func (e *Encoder) Columns() []string {
	return append([]string(nil), e.columns...)
}

// Encode converts rows into a matrix. Values not in the vocabulary encode to
// an all-zero block for their field.
func (e *Encoder) Encode(rows []models.Row) *models.Matrix {
	m := &models.Matrix{
		Columns:  e.Columns(),
		Labels:   make([]float64, len(rows)),
		Features: make([][]float64, len(rows)),
	}
	for i, r := range rows {
		vec := make([]float64, len(e.columns))
		for _, f := range categoricalFields {
			if idx, ok := e.index[f.name+"_"+normalize(f.value(r))]; ok {
				vec[idx] = 1
			}
		}
		if idx, ok := e.index[FieldRewarded]; ok && r.Rewarded {
			vec[idx] = 1
		}
		m.Labels[i] = r.ConversionRate
		m.Features[i] = vec
	}
	return m
}

// Drop returns an encoder without any column of the given field groups.
func (e *Encoder) Drop(groups ...string) (*Encoder, error) {
	drop := make(map[string]bool, len(groups))
	for _, g := range groups {
		if !isField(g) {
			return nil, fmt.Errorf("unknown feature group %q", g)
		}
		drop[g] = true
	}
	var kept []string
	for _, c := range e.columns {
		if !drop[GroupOf(c)] {
			kept = append(kept, c)
		}
	}
	return newEncoder(kept), nil
}

// Keep returns an encoder producing only columns, in the given order. Every
// column must be known to e.
func (e *Encoder) Keep(columns []string) (*Encoder, error) {
	for _, c := range columns {
		if _, ok := e.index[c]; !ok {
			return nil, fmt.Errorf("unknown column %q", c)
		}
	}
	return NewEncoderForColumns(columns), nil
}

// GroupOf maps a column back to the field it was expanded from using the
// longest matching field prefix. Columns that match no field are their own group.
func GroupOf(column string) string {
	best := ""
	for _, f := range AllFields() {
		if (column == f || strings.HasPrefix(column, f+"_")) && len(f) > len(best) {
			best = f
		}
	}
	if best == "" {
		return column
	}
	return best
}

func isField(name string) bool {
	for _, f := range AllFields() {
		if f == name {
			return true
		}
	}
	return false
}

func normalize(v string) string {
	v = strings.TrimSpace(strings.ToLower(v))
	if v == "" {
		return unknownValue
	}
	return v
}
