// Package product holds a processed day, its attribute metadata and the
// sinks that persist it.
package product

import (
	"errors"
	"fmt"
	"time"
)

// DefaultQualityFlagValue marks a value as "not evaluated".
const DefaultQualityFlagValue int8 = 2

// ErrInvalidProduct is returned when a product's arrays disagree in shape.
var ErrInvalidProduct = errors.New("product: inconsistent day product")

// DayProduct is one day of hybrid millidecade band levels.
type DayProduct struct {
	Date  time.Time
	Times []time.Time
	// Frequencies are the band centers in Hz.
	Frequencies []float32
	// PSD is indexed [time][band].
	PSD    [][]float32
	Effort []float32
	// Sensitivity is either one value per band or a single flat value. Nil
	// when no calibration was applied.
	Sensitivity []float32
	// QualityFlag has the shape of PSD when present.
	QualityFlag [][]int8

	Global    Attributes
	Variables map[string]Attributes
}

// NewQualityFlag returns a rows x cols matrix filled with
// DefaultQualityFlagValue.
func NewQualityFlag(rows, cols int) [][]int8 {
	flags := make([][]int8, rows)
	for i := range flags {
		row := make([]int8, cols)
		for j := range row {
			row[j] = DefaultQualityFlagValue
		}
		flags[i] = row
	}
	return flags
}

// Validate checks that the arrays agree in shape.
func (p *DayProduct) Validate() error {
	n, m := len(p.Times), len(p.Frequencies)
	if len(p.PSD) != n || len(p.Effort) != n {
		return fmt.Errorf("%w: %d times, %d psd rows, %d effort values", ErrInvalidProduct, n, len(p.PSD), len(p.Effort))
	}
	for i, row := range p.PSD {
		if len(row) != m {
			return fmt.Errorf("%w: psd row %d has %d bands, want %d", ErrInvalidProduct, i, len(row), m)
		}
	}
	if s := len(p.Sensitivity); s != 0 && s != 1 && s != m {
		return fmt.Errorf("%w: %d sensitivity values for %d bands", ErrInvalidProduct, s, m)
	}
	if p.QualityFlag != nil {
		if len(p.QualityFlag) != n {
			return fmt.Errorf("%w: %d quality flag rows, want %d", ErrInvalidProduct, len(p.QualityFlag), n)
		}
		for i, row := range p.QualityFlag {
			if len(row) != m {
				return fmt.Errorf("%w: quality flag row %d has %d bands, want %d", ErrInvalidProduct, i, len(row), m)
			}
		}
	}
	return nil
}
