package nnuefile

import (
	"fmt"
	"strings"
)

const (
	Magic      = 0x45554E4E // "NNUE"
	Version    = 1
	HeaderSize = 64
	Alignment  = 64

	MaxNameLength = 48
	nameOffset    = 16
)

// Header flag bits.
const (
	FlagBigOutput uint16 = 1 << 0
	FlagPSQT      uint16 = 1 << 1
)

type Arch uint8

const (
	ArchPerspective Arch = 0
	ArchHalfKA      Arch = 1
)

func (a Arch) String() string {
	switch a {
	case ArchPerspective:
		return "perspective"
	case ArchHalfKA:
		return "halfka"
	default:
		return fmt.Sprintf("UNKNOWN_ARCH_%d", a)
	}
}

type Activation uint8

const (
	ActivationReLU    Activation = 0
	ActivationCReLU   Activation = 1
	ActivationSCReLU  Activation = 2
	ActivationSqrReLU Activation = 3
)

func (a Activation) String() string {
	switch a {
	case ActivationReLU:
		return "relu"
	case ActivationCReLU:
		return "crelu"
	case ActivationSCReLU:
		return "screlu"
	case ActivationSqrReLU:
		return "sqrrelu"
	default:
		return fmt.Sprintf("UNKNOWN_ACTIVATION_%d", a)
	}
}

// ParseActivation accepts the names printed by Activation.String, in any case.
func ParseActivation(s string) (Activation, error) {
	for a := ActivationReLU; a <= ActivationSqrReLU; a++ {
		if strings.EqualFold(s, a.String()) {
			return a, nil
		}
	}
	return 0, &HeaderError{Field: "activation", Reason: fmt.Sprintf("unknown activation %q", s)}
}

// Header is the 64-byte record that optionally prefixes a unified file.
//
//	offset  size  field
//	0       4     magic "NNUE"
//	4       2     version
//	6       2     flags
//	8       1     reserved
//	9       1     arch
//	10      1     activation
//	11      2     hidden size
//	13      1     input buckets
//	14      1     output buckets
//	15      1     name length
//	16      48    name, zero padded
type Header struct {
	Version       uint16
	Flags         uint16
	Arch          Arch
	Activation    Activation
	HiddenSize    uint16
	InputBuckets  uint8
	OutputBuckets uint8
	Name          string
}

func (h *Header) BigOutput() bool { return h.Flags&FlagBigOutput != 0 }

func (h *Header) HasPSQT() bool { return h.Flags&FlagPSQT != 0 }

// Error types
type ErrInvalidMagic struct{ Magic uint32 }

func (e ErrInvalidMagic) Error() string {
	return fmt.Sprintf("invalid NNUE magic: %x", e.Magic)
}

type ErrUnsupportedVersion struct{ Version uint16 }

func (e ErrUnsupportedVersion) Error() string {
	return fmt.Sprintf("unsupported NNUE version: %d", e.Version)
}

// HeaderError reports a header field that cannot be encoded.
type HeaderError struct {
	Field  string
	Reason string
}

func (e *HeaderError) Error() string {
	return fmt.Sprintf("header %s: %s", e.Field, e.Reason)
}

// OverflowError reports an output weight that does not fit in 8 bits.
type OverflowError struct {
	Index int
	Value int16
}

func (e *OverflowError) Error() string {
	return fmt.Sprintf("output weight %d = %d does not fit in int8 [-128, 127], use big output weights", e.Index, e.Value)
}

// WrittenFile describes one finished output file.
type WrittenFile struct {
	Path   string
	Size   int64
	Digest uint64 // xxhash64 of the file contents
}
