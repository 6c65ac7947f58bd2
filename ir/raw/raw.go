package raw

import (
	"context"
	"fmt"
)

// ObjectRef uniquely identifies an indirect PDF object.
type ObjectRef struct {
	Num int
	Gen int
}

func (r ObjectRef) String() string { return fmt.Sprintf("%d %d R", r.Num, r.Gen) }

// Object is the base interface for all raw PDF objects.
type Object interface {
	Type() string
	IsIndirect() bool
}

// Dictionary represents a PDF dictionary object.
type Dictionary interface {
	Object
	Get(key Name) (Object, bool)
	Set(key Name, value Object)
	Delete(key Name)
	Keys() []Name
	Len() int
}

// Array represents a PDF array object.
type Array interface {
	Object
	Get(index int) (Object, bool)
	Len() int
	Append(obj Object)
}

// Stream represents a raw (undecoded) PDF stream.
type Stream interface {
	Object
	Dictionary() Dictionary
	RawData() []byte
	Length() int64
}

// Name represents a PDF name object.
type Name interface {
	Object
	Value() string
}

// String represents a PDF string (literal or hex).
type String interface {
	Object
	Value() []byte
	IsHex() bool
}

// Number represents a PDF numeric value.
type Number interface {
	Object
	Int() int64
	Float() float64
	IsInteger() bool
}

// Boolean represents a PDF boolean.
type Boolean interface {
	Object
	Value() bool
}

// Null represents the PDF null object.
type Null interface{ Object }

// Reference represents an indirect object reference.
type Reference interface {
	Object
	Ref() ObjectRef
}

// Permissions describes the actions the document's encryption dictionary
// allows. An unencrypted document permits everything.
type Permissions struct {
	Print             bool
	Modify            bool
	Copy              bool
	ModifyAnnotations bool
	FillForms         bool
	ExtractAccessible bool
	Assemble          bool
	PrintHighQuality  bool
}

// AllPermissions returns the permission set of an unencrypted document.
func AllPermissions() Permissions {
	return Permissions{
		Print: true, Modify: true, Copy: true, ModifyAnnotations: true,
		FillForms: true, ExtractAccessible: true, Assemble: true, PrintHighQuality: true,
	}
}

// Permission bit positions in the /P entry (1-based, per the PDF spec).
const (
	permBitPrint             = 3
	permBitModify            = 4
	permBitCopy              = 5
	permBitModifyAnnotations = 6
	permBitFillForms         = 9
	permBitExtractAccessible = 10
	permBitAssemble          = 11
	permBitPrintHighQuality  = 12
)

// PermissionsFromP decodes the signed 32-bit /P value.
func PermissionsFromP(p int64) Permissions {
	bit := func(n uint) bool { return p&(1<<(n-1)) != 0 }
	return Permissions{
		Print:             bit(permBitPrint),
		Modify:            bit(permBitModify),
		Copy:              bit(permBitCopy),
		ModifyAnnotations: bit(permBitModifyAnnotations),
		FillForms:         bit(permBitFillForms),
		ExtractAccessible: bit(permBitExtractAccessible),
		Assemble:          bit(permBitAssemble),
		PrintHighQuality:  bit(permBitPrintHighQuality),
	}
}

// P encodes the permission set back into a /P value with the reserved bits
// set as required for the standard security handler.
func (p Permissions) P() int64 {
	var v int64 = ^int64(0) &^ 0xFFF // upper bits all ones
	v |= 0b11000000                  // reserved bits 7-8
	set := func(n uint, on bool) {
		if on {
			v |= 1 << (n - 1)
		}
	}
	set(permBitPrint, p.Print)
	set(permBitModify, p.Modify)
	set(permBitCopy, p.Copy)
	set(permBitModifyAnnotations, p.ModifyAnnotations)
	set(permBitFillForms, p.FillForms)
	set(permBitExtractAccessible, p.ExtractAccessible)
	set(permBitAssemble, p.Assemble)
	set(permBitPrintHighQuality, p.PrintHighQuality)
	return v
}

// Document is the root container for raw PDF objects.
type Document struct {
	Objects     map[ObjectRef]Object
	Trailer     Dictionary
	Version     string // e.g., "1.7"
	Permissions Permissions
	Encrypted   bool
}

// Catalog resolves the /Root dictionary from the trailer.
func (d *Document) Catalog() (Dictionary, ObjectRef, bool) {
	if d.Trailer == nil {
		return nil, ObjectRef{}, false
	}
	rootObj, ok := d.Trailer.Get(NameLiteral("Root"))
	if !ok {
		return nil, ObjectRef{}, false
	}
	ref, ok := rootObj.(Reference)
	if !ok {
		return nil, ObjectRef{}, false
	}
	dict, ok := d.Objects[ref.Ref()].(*DictObj)
	if !ok {
		return nil, ObjectRef{}, false
	}
	return dict, ref.Ref(), true
}

// Resolve follows an indirect reference; direct objects pass through.
func (d *Document) Resolve(obj Object) Object {
	for i := 0; i < 32; i++ { // guard against reference cycles
		ref, ok := obj.(Reference)
		if !ok {
			return obj
		}
		next, ok := d.Objects[ref.Ref()]
		if !ok {
			return NullObj{}
		}
		obj = next
	}
	return NullObj{}
}

// MaxObjectNum returns the highest allocated object number.
func (d *Document) MaxObjectNum() int {
	max := 0
	for ref := range d.Objects {
		if ref.Num > max {
			max = ref.Num
		}
	}
	return max
}

// Parser converts bytes into a raw.Document.
type Parser interface {
	Parse(ctx context.Context, data []byte) (*Document, error)
}
