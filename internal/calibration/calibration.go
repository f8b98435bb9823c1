package calibration

import (
	"errors"
	"fmt"
	"math"

	"smartcrowd.klederson.com/internal/config"
)

// Anchor IDs. The solver needs exactly these three.
const (
	A1 = "A1"
	A2 = "A2"
	A3 = "A3"
)

// IDs lists the anchors in solver order; A1 is the linearization pivot.
var IDs = [3]string{A1, A2, A3}

var (
	ErrUnknownAnchor   = errors.New("unknown anchor")
	ErrInvalidExponent = errors.New("path loss exponent must be positive")
)

// Anchor holds the calibration of one fixed reference beacon.
type Anchor struct {
	ID          string  `json:"-"`
	RSSIAt1m    float64 `json:"rssi_1m"` // dBm
	PathLossExp float64 `json:"n"`
	X           float64 `json:"x"` // meters
	Y           float64 `json:"y"` // meters
	Name        string  `json:"name"`
}

// Table is the full calibration set, one field per anchor.
type Table struct {
	A1 Anchor `json:"A1"`
	A2 Anchor `json:"A2"`
	A3 Anchor `json:"A3"`
}

// Defaults returns the built-in room geometry.
func Defaults() Table {
	return Table{
		A1: Anchor{ID: A1, RSSIAt1m: config.MeasuredPower, PathLossExp: config.PathLossExp, X: 0, Y: 0, Name: "ENTRANCE"},
		A2: Anchor{ID: A2, RSSIAt1m: config.MeasuredPower, PathLossExp: config.PathLossExp, X: 10, Y: 0, Name: "BACKSTAGE_1"},
		A3: Anchor{ID: A3, RSSIAt1m: config.MeasuredPower, PathLossExp: config.PathLossExp, X: 5, Y: 10, Name: "BACKSTAGE_2"},
	}
}

// IsAnchor reports whether id names one of the three anchors.
func IsAnchor(id string) bool {
	return id == A1 || id == A2 || id == A3
}

// Anchor returns the record for id.
func (t Table) Anchor(id string) (Anchor, bool) {
	p := (&t).field(id)
	if p == nil {
		return Anchor{}, false
	}
	return *p, true
}

// Anchors returns the records in solver order.
func (t Table) Anchors() [3]Anchor {
	return [3]Anchor{t.A1, t.A2, t.A3}
}

// WithIDs fills in the anchor IDs, which are not part of the JSON form.
func (t Table) WithIDs() Table {
	t.A1.ID, t.A2.ID, t.A3.ID = A1, A2, A3
	return t
}

func (t *Table) field(id string) *Anchor {
	switch id {
	case A1:
		return &t.A1
	case A2:
		return &t.A2
	case A3:
		return &t.A3
	}
	return nil
}

// Validate checks that every anchor carries its own ID and a positive,
// finite path loss exponent.
func (t Table) Validate() error {
	for i, a := range t.Anchors() {
		if a.ID != IDs[i] {
			return fmt.Errorf("%w: slot %s holds %q", ErrUnknownAnchor, IDs[i], a.ID)
		}
		if !(a.PathLossExp > 0) || math.IsInf(a.PathLossExp, 0) {
			return fmt.Errorf("anchor %s: %w (got %v)", a.ID, ErrInvalidExponent, a.PathLossExp)
		}
	}
	return nil
}
