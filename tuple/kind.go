package tuple

import (
	"fmt"

	"github.com/lnsp/tuplestore/buffer"
)

// Kind is the element kind of a field.
type Kind uint8

const (
	Int8    Kind = 0x01
	UInt8   Kind = 0x02
	Int16   Kind = 0x03
	UInt16  Kind = 0x04
	Int32   Kind = 0x05
	UInt32  Kind = 0x06
	Int64   Kind = 0x07
	UInt64  Kind = 0x08
	Float32 Kind = 0x09
	Float64 Kind = 0x0A
	Pointer Kind = 0x0B
)

var kindNames = map[Kind]string{
	Int8:    "int8",
	UInt8:   "uint8",
	Int16:   "int16",
	UInt16:  "uint16",
	Int32:   "int32",
	UInt32:  "uint32",
	Int64:   "int64",
	UInt64:  "uint64",
	Float32: "float32",
	Float64: "float64",
	Pointer: "pointer",
}

// Valid reports whether k is one of the known element kinds.
func (k Kind) Valid() bool {
	_, ok := kindNames[k]
	return ok
}

// Size returns the byte size of one element of kind k.
func (k Kind) Size() int {
	switch k {
	case Int8, UInt8:
		return 1
	case Int16, UInt16:
		return 2
	case Int32, UInt32, Float32:
		return 4
	case Int64, UInt64, Float64:
		return 8
	case Pointer:
		return buffer.PointerSize
	default:
		return 0
	}
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%#x)", uint8(k))
}

// Tag is the type tag of a field: an element kind plus shape flags.
// Its numeric value is the one written by the header encoding.
type Tag uint32

const (
	// FlagArray marks a field holding a fixed number of elements.
	FlagArray Tag = 0x100
	// FlagText marks a field holding fixed-capacity text; its kind is UInt8.
	FlagText Tag = 0x200

	kindMask Tag = 0xff

	// TagText is the tag of a single text field.
	TagText = Tag(UInt8) | FlagText
	// TagTextArray is the tag of an array of text values.
	TagTextArray = TagText | FlagArray
)

// ScalarTag returns the tag of a scalar field of kind k.
func ScalarTag(k Kind) Tag {
	return Tag(k)
}

// ArrayTag returns the tag of an array field of kind k.
func ArrayTag(k Kind) Tag {
	return Tag(k) | FlagArray
}

// Kind returns the element kind.
func (t Tag) Kind() Kind {
	return Kind(t & kindMask)
}

func (t Tag) IsArray() bool {
	return t&FlagArray != 0
}

func (t Tag) IsText() bool {
	return t&FlagText != 0
}

// Valid reports whether t is a well-formed tag: a known kind, no unknown
// flag bits, and text tags only over UInt8.
func (t Tag) Valid() bool {
	if t&^(kindMask|FlagArray|FlagText) != 0 {
		return false
	}
	if !t.Kind().Valid() {
		return false
	}
	return !t.IsText() || t.Kind() == UInt8
}

func (t Tag) String() string {
	switch {
	case t.IsText() && t.IsArray():
		return "text[]"
	case t.IsText():
		return "text"
	case t.IsArray():
		return t.Kind().String() + "[]"
	default:
		return t.Kind().String()
	}
}
