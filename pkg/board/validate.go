package board

import (
	"errors"
	"fmt"
)

// ErrInvalidElement is the sentinel wrapped by all schema validation
// failures. Handlers map it to HTTP 400.
var ErrInvalidElement = errors.New("invalid element")

var validTypes = map[string]struct{}{
	TypeRectangle: {},
	TypeCircle:    {},
	TypeLine:      {},
	TypeArrow:     {},
	TypePen:       {},
	TypeText:      {},
	TypeNote:      {},
}

// Validate checks the element type discriminant. Geometry and style fields
// are deliberately not checked here: renderers tolerate missing optional
// fields (color defaults to #000000, strokeWidth to 2).
func Validate(e Element) error {
	if e == nil {
		return fmt.Errorf("%w: element body missing", ErrInvalidElement)
	}
	t := e.Type()
	if t == "" {
		return fmt.Errorf("%w: missing type", ErrInvalidElement)
	}
	if _, ok := validTypes[t]; !ok {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidElement, t)
	}
	return nil
}

// ValidateBatch validates elements in input order and fails on the first
// invalid one, so an invalid batch commits nothing.
func ValidateBatch(list []Element) error {
	for i, e := range list {
		if err := Validate(e); err != nil {
			return fmt.Errorf("element %d: %w", i, err)
		}
	}
	return nil
}
