// Package storekey derives the object-store keys that correlate a job
// with its artifacts.
//
// The correlation scheme is deterministic: the source key embeds the
// owner as a path prefix and a random suffix for collision-free
// concurrent submits, and every downstream key (result, error text) is
// derived from the source key by a single extension-substitution rule.
package storekey

import (
	"fmt"
	"path"
	"strings"

	"github.com/google/uuid"

	"github.com/3leaps/pokefantasia/pkg/variant"
)

// SourceExtensions is the allow-list for submitted filenames.
var SourceExtensions = []string{".jpg", ".jpeg"}

// IsAllowedExtension reports whether ext (with leading dot, any case) is
// an accepted source extension.
func IsAllowedExtension(ext string) bool {
	ext = strings.ToLower(ext)
	for _, e := range SourceExtensions {
		if ext == e {
			return true
		}
	}
	return false
}

// SourceKey builds the storage key for a new source artifact:
//
//	<owner>/<stem>-<uuid>.<ext>
//
// The owner prefix makes ownership derivable from the key alone; the
// uuid suffix keeps concurrent submits of the same filename distinct
// without coordination. The original extension is preserved (lowercased)
// for downstream format dispatch.
func SourceKey(owner, filename string) (string, error) {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return "", fmt.Errorf("owner is required")
	}
	if strings.ContainsAny(owner, "/\\") {
		return "", fmt.Errorf("owner must not contain path separators")
	}
	base := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	ext := strings.ToLower(path.Ext(base))
	if !IsAllowedExtension(ext) {
		return "", fmt.Errorf("expecting filename with .jpg or .jpeg extension, got %q", filename)
	}
	stem := strings.TrimSuffix(base, path.Ext(base))
	if stem == "" {
		return "", fmt.Errorf("filename has no stem: %q", filename)
	}
	return owner + "/" + stem + "-" + uuid.New().String() + ext, nil
}

// OwnerFromKey extracts the owner path prefix from a source key.
func OwnerFromKey(key string) string {
	if i := strings.IndexByte(key, '/'); i > 0 {
		return key[:i]
	}
	return ""
}

// ResultKey derives the result-artifact key for a successful job from
// its source key. One rule for every variant: substitute the source
// extension with the variant's result extension. Image-producing
// variants emit .jpg, classification emits .json.
func ResultKey(sourceKey string, kind variant.Kind) (string, error) {
	switch kind {
	case variant.KindTypeID:
		return replaceExt(sourceKey, ".json")
	case variant.KindTypeConv, variant.KindFormatConv:
		return replaceExt(sourceKey, ".jpg")
	}
	return "", &variant.UnsupportedVariantError{Field: "action", Value: string(kind)}
}

// ErrorKey derives the error-text artifact key from a source key.
func ErrorKey(sourceKey string) (string, error) {
	return replaceExt(sourceKey, ".txt")
}

func replaceExt(key, newExt string) (string, error) {
	ext := path.Ext(key)
	if !IsAllowedExtension(ext) {
		return "", fmt.Errorf("expecting storage key with .jpg or .jpeg extension, got %q", key)
	}
	return strings.TrimSuffix(key, ext) + newExt, nil
}
