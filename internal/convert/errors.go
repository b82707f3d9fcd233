package convert

import (
	"errors"
	"fmt"

	"github.com/23skdu/longbow-nnue/internal/config"
	"github.com/23skdu/longbow-nnue/internal/nnuefile"
	"github.com/23skdu/longbow-nnue/internal/quant"
	"github.com/23skdu/longbow-nnue/internal/tensors"
)

var (
	ErrInputRead   = errors.New("failed to read input")
	ErrOutputWrite = errors.New("failed to write output")
)

// Kind is the category of a failed conversion, used as a metric label.
type Kind string

const (
	KindInputRead   Kind = "input_read"
	KindJSONParse   Kind = "json_parse"
	KindSchema      Kind = "schema"
	KindShape       Kind = "shape"
	KindRange       Kind = "range"
	KindConfig      Kind = "config"
	KindOutputWrite Kind = "output_write"
	KindUnknown     Kind = "unknown"
)

// Classify maps an error returned by Run to its Kind.
func Classify(err error) Kind {
	var (
		parseErr    *tensors.ParseError
		schemaErr   *tensors.SchemaError
		shapeErr    *quant.ShapeError
		rangeErr    *quant.RangeError
		overflowErr *nnuefile.OverflowError
		headerErr   *nnuefile.HeaderError
	)
	switch {
	case err == nil:
		return ""
	case errors.Is(err, config.ErrInvalidConfig), errors.As(err, &headerErr):
		return KindConfig
	case errors.Is(err, ErrInputRead):
		return KindInputRead
	case errors.As(err, &parseErr):
		return KindJSONParse
	case errors.As(err, &schemaErr):
		return KindSchema
	case errors.As(err, &shapeErr):
		return KindShape
	case errors.As(err, &rangeErr), errors.As(err, &overflowErr):
		return KindRange
	case errors.Is(err, ErrOutputWrite):
		return KindOutputWrite
	default:
		return KindUnknown
	}
}

// writeError tags I/O failures from the serializer. Overflow and header
// errors keep their own kind.
func writeError(err error) error {
	var (
		overflowErr *nnuefile.OverflowError
		headerErr   *nnuefile.HeaderError
	)
	if errors.As(err, &overflowErr) || errors.As(err, &headerErr) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrOutputWrite, err)
}
