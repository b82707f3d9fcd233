package nnuefile

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"unicode/utf8"

	"github.com/23skdu/longbow-nnue/internal/quant"
)

// Options select the serialized form of a network.
type Options struct {
	BigOutput  bool // keep output weights as int16
	Header     bool
	Name       string
	Activation Activation
}

// NewHeader builds the header describing net.
func NewHeader(net *quant.Network, opts Options) (*Header, error) {
	if err := checkName(opts.Name); err != nil {
		return nil, err
	}
	if opts.Name == "" {
		return nil, &HeaderError{Field: "name", Reason: "a name is required when writing a header"}
	}
	if net.HiddenSize <= 0 || net.HiddenSize > math.MaxUint16 {
		return nil, &HeaderError{Field: "hidden size", Reason: fmt.Sprintf("%d does not fit in 16 bits", net.HiddenSize)}
	}

	h := &Header{
		Version:       Version,
		Arch:          ArchPerspective,
		Activation:    opts.Activation,
		HiddenSize:    uint16(net.HiddenSize),
		InputBuckets:  1,
		OutputBuckets: 1,
		Name:          opts.Name,
	}
	if net.HasBuckets() {
		h.Arch = ArchHalfKA
		h.InputBuckets = 64
	}
	if opts.BigOutput {
		h.Flags |= FlagBigOutput
	}
	if net.HasPSQT() {
		h.Flags |= FlagPSQT
	}
	return h, nil
}

func checkName(name string) error {
	if len(name) > MaxNameLength {
		return &HeaderError{Field: "name", Reason: fmt.Sprintf("%d bytes exceeds the %d byte limit", len(name), MaxNameLength)}
	}
	if !utf8.ValidString(name) {
		return &HeaderError{Field: "name", Reason: "not valid UTF-8"}
	}
	return nil
}

// MarshalBinary encodes h into exactly HeaderSize bytes.
func (h *Header) MarshalBinary() ([]byte, error) {
	if err := checkName(h.Name); err != nil {
		return nil, err
	}
	buf := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(buf[0:], Magic)
	binary.LittleEndian.PutUint16(buf[4:], h.Version)
	binary.LittleEndian.PutUint16(buf[6:], h.Flags)
	buf[9] = byte(h.Arch)
	buf[10] = byte(h.Activation)
	binary.LittleEndian.PutUint16(buf[11:], h.HiddenSize)
	buf[13] = h.InputBuckets
	buf[14] = h.OutputBuckets
	buf[15] = byte(len(h.Name))
	copy(buf[nameOffset:], h.Name)
	return buf, nil
}

func (h *Header) UnmarshalBinary(data []byte) error {
	if len(data) < HeaderSize {
		return io.ErrUnexpectedEOF
	}
	if magic := binary.LittleEndian.Uint32(data[0:]); magic != Magic {
		return ErrInvalidMagic{Magic: magic}
	}
	version := binary.LittleEndian.Uint16(data[4:])
	if version != Version {
		return ErrUnsupportedVersion{Version: version}
	}

	nameLen := int(data[15])
	if nameLen > MaxNameLength {
		return &HeaderError{Field: "name", Reason: fmt.Sprintf("length %d exceeds %d", nameLen, MaxNameLength)}
	}
	name := string(data[nameOffset : nameOffset+nameLen])
	if !utf8.ValidString(name) {
		return &HeaderError{Field: "name", Reason: "not valid UTF-8"}
	}

	*h = Header{
		Version:       version,
		Flags:         binary.LittleEndian.Uint16(data[6:]),
		Arch:          Arch(data[9]),
		Activation:    Activation(data[10]),
		HiddenSize:    binary.LittleEndian.Uint16(data[11:]),
		InputBuckets:  data[13],
		OutputBuckets: data[14],
		Name:          name,
	}
	return nil
}
