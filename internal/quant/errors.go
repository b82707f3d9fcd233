package quant

import "fmt"

// ShapeError reports tensors whose dimensions disagree.
type ShapeError struct {
	Tensor string
	Got    int
	Want   int
	Detail string
}

func (e *ShapeError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("shape mismatch in %s: %s", e.Tensor, e.Detail)
	}
	return fmt.Sprintf("shape mismatch in %s: got %d, want %d", e.Tensor, e.Got, e.Want)
}

// RangeError reports a scaled value that cannot be stored as int16.
type RangeError struct {
	Tensor string
	Index  int
	Value  float64
	Scale  int
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("%s[%d] = %g scaled by %d does not fit in int16", e.Tensor, e.Index, e.Value, e.Scale)
}
