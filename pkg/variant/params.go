package variant

import "strings"

// Object-metadata keys. S3 lowercases user metadata keys, so these are
// the canonical lowercase forms.
const (
	MetaAction       = "action"
	MetaTargetType   = "target-type"
	MetaTargetFormat = "target-format"
)

// Styles supported by the format-conversion variant.
var Styles = []string{
	"grayscale",
	"comic",
	"abstract",
	"stylization",
	"sketch",
	"color_pencil_sketch",
}

// TargetTypes are the Pokémon types the conversion and classification
// variants operate over.
var TargetTypes = []string{
	"normal", "fire", "water", "electric", "grass", "ice",
	"fighting", "poison", "ground", "flying", "psychic", "bug",
	"rock", "ghost", "dragon", "dark", "steel", "fairy",
}

func IsSupportedStyle(s string) bool {
	for _, v := range Styles {
		if s == v {
			return true
		}
	}
	return false
}

func IsSupportedTargetType(s string) bool {
	s = strings.ToLower(s)
	for _, v := range TargetTypes {
		if s == v {
			return true
		}
	}
	return false
}

// Params is the transformation selector and its per-kind parameters.
type Params struct {
	Kind         Kind
	TargetType   string
	TargetFormat string
}

// Validate checks the per-kind parameter against its allow-list. It must
// be called before any storage or database write so that a bad selector
// never creates state.
func (p Params) Validate() error {
	if _, err := ParseKind(string(p.Kind)); err != nil {
		return err
	}
	switch p.Kind {
	case KindTypeConv:
		if !IsSupportedTargetType(p.TargetType) {
			return &UnsupportedVariantError{Field: "target_type", Value: p.TargetType}
		}
	case KindFormatConv:
		if !IsSupportedStyle(p.TargetFormat) {
			return &UnsupportedVariantError{Field: "target_format", Value: p.TargetFormat}
		}
	}
	return nil
}

// Metadata encodes the params as object user metadata.
func (p Params) Metadata() map[string]string {
	return map[string]string{
		MetaAction:       string(p.Kind),
		MetaTargetType:   p.TargetType,
		MetaTargetFormat: p.TargetFormat,
	}
}

// ParamsFromMetadata decodes params from object user metadata, as
// delivered with an object-created event. The fallback kind is used when
// the metadata carries no action (the event's backend class implies it).
func ParamsFromMetadata(md map[string]string, fallback Kind) (Params, error) {
	p := Params{Kind: fallback}
	if md != nil {
		if v := md[MetaAction]; v != "" {
			p.Kind = Kind(v)
		}
		p.TargetType = md[MetaTargetType]
		p.TargetFormat = md[MetaTargetFormat]
	}
	if _, err := ParseKind(string(p.Kind)); err != nil {
		return Params{}, err
	}
	return p, nil
}
