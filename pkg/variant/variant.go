// Package variant defines the transformation variants a job can request
// and the parameter set that travels with a job's source artifact.
//
// Variant parameters are deliberately not persisted as job columns: they
// are attached to the source object as user metadata so the triggering
// event carries everything the compute step needs.
package variant

import "fmt"

// Kind selects a transformation variant at submission time.
type Kind string

const (
	// KindTypeID classifies the Pokémon type of an image.
	KindTypeID Kind = "typeid"

	// KindTypeConv converts a Pokémon image to a target type via the
	// generative model.
	KindTypeConv Kind = "typecov"

	// KindFormatConv applies a style filter to an image.
	KindFormatConv Kind = "formatcov"
)

// Kinds is the fixed enumeration of supported variants.
var Kinds = []Kind{KindTypeID, KindTypeConv, KindFormatConv}

// ParseKind validates an action string against the fixed enumeration.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindTypeID, KindTypeConv, KindFormatConv:
		return Kind(s), nil
	}
	return "", &UnsupportedVariantError{Field: "action", Value: s}
}

// BackendClass identifies which physically distinct result store holds a
// job's artifacts. There is one class per variant family, and the class
// is persisted on the job row because the status handler has no other
// way to know which store to query.
type BackendClass string

const (
	ClassTypeID     BackendClass = "typeid"
	ClassTypeConv   BackendClass = "typecov"
	ClassFormatConv BackendClass = "formatcov"
)

// BackendClassFor resolves the result-store class for a variant kind.
func BackendClassFor(k Kind) (BackendClass, error) {
	switch k {
	case KindTypeID:
		return ClassTypeID, nil
	case KindTypeConv:
		return ClassTypeConv, nil
	case KindFormatConv:
		return ClassFormatConv, nil
	}
	return "", &UnsupportedVariantError{Field: "action", Value: string(k)}
}

// ParseBackendClass validates a persisted backend class value.
func ParseBackendClass(s string) (BackendClass, error) {
	switch BackendClass(s) {
	case ClassTypeID, ClassTypeConv, ClassFormatConv:
		return BackendClass(s), nil
	}
	return "", &UnsupportedVariantError{Field: "backend_class", Value: s}
}

// UnsupportedVariantError reports a value outside a fixed enumeration.
// It is raised before any external call or state change is attempted.
type UnsupportedVariantError struct {
	Field string
	Value string
}

func (e *UnsupportedVariantError) Error() string {
	return fmt.Sprintf("unsupported %s: %q", e.Field, e.Value)
}
