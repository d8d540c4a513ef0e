package storekey

import (
	"strings"
	"testing"

	"github.com/3leaps/pokefantasia/pkg/variant"
)

func TestSourceKey_Shape(t *testing.T) {
	key, err := SourceKey("b_cheng", "charizard.jpg")
	if err != nil {
		t.Fatalf("SourceKey() error: %v", err)
	}
	if !strings.HasPrefix(key, "b_cheng/charizard-") {
		t.Fatalf("key missing owner/stem prefix: %q", key)
	}
	if !strings.HasSuffix(key, ".jpg") {
		t.Fatalf("key did not preserve extension: %q", key)
	}
	if OwnerFromKey(key) != "b_cheng" {
		t.Fatalf("OwnerFromKey(%q) = %q", key, OwnerFromKey(key))
	}
}

func TestSourceKey_PreservesJpegExtension(t *testing.T) {
	key, err := SourceKey("h_wang", "pikachu.JPEG")
	if err != nil {
		t.Fatalf("SourceKey() error: %v", err)
	}
	if !strings.HasSuffix(key, ".jpeg") {
		t.Fatalf("expected lowercased .jpeg suffix, got %q", key)
	}
}

func TestSourceKey_UniquePerCall(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		key, err := SourceKey("s_zhu", "eevee.jpg")
		if err != nil {
			t.Fatalf("SourceKey() error: %v", err)
		}
		if seen[key] {
			t.Fatalf("duplicate key generated: %q", key)
		}
		seen[key] = true
	}
}

func TestSourceKey_Rejections(t *testing.T) {
	tests := []struct {
		name     string
		owner    string
		filename string
	}{
		{"bad extension", "b_cheng", "charizard.png"},
		{"no extension", "b_cheng", "charizard"},
		{"empty owner", "", "charizard.jpg"},
		{"owner with slash", "a/b", "charizard.jpg"},
		{"filename with only extension", "b_cheng", ".jpg"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := SourceKey(tt.owner, tt.filename); err == nil {
				t.Fatalf("SourceKey(%q, %q) expected error", tt.owner, tt.filename)
			}
		})
	}
}

func TestResultKey_Derivation(t *testing.T) {
	tests := []struct {
		source string
		kind   variant.Kind
		want   string
	}{
		{"u/a-1.jpg", variant.KindFormatConv, "u/a-1.jpg"},
		{"u/a-1.jpeg", variant.KindFormatConv, "u/a-1.jpg"},
		{"u/a-1.jpg", variant.KindTypeConv, "u/a-1.jpg"},
		{"u/a-1.jpeg", variant.KindTypeConv, "u/a-1.jpg"},
		{"u/a-1.jpg", variant.KindTypeID, "u/a-1.json"},
		{"u/a-1.jpeg", variant.KindTypeID, "u/a-1.json"},
	}
	for _, tt := range tests {
		got, err := ResultKey(tt.source, tt.kind)
		if err != nil {
			t.Fatalf("ResultKey(%q, %q) error: %v", tt.source, tt.kind, err)
		}
		if got != tt.want {
			t.Fatalf("ResultKey(%q, %q) = %q, want %q", tt.source, tt.kind, got, tt.want)
		}
	}
}

func TestResultKey_UnsupportedKind(t *testing.T) {
	if _, err := ResultKey("u/a-1.jpg", variant.Kind("bogus")); err == nil {
		t.Fatal("expected error for unsupported kind")
	}
}

func TestErrorKey_Derivation(t *testing.T) {
	for source, want := range map[string]string{
		"u/a-1.jpg":  "u/a-1.txt",
		"u/a-1.jpeg": "u/a-1.txt",
	} {
		got, err := ErrorKey(source)
		if err != nil {
			t.Fatalf("ErrorKey(%q) error: %v", source, err)
		}
		if got != want {
			t.Fatalf("ErrorKey(%q) = %q, want %q", source, got, want)
		}
	}
}

func TestErrorKey_RejectsForeignExtension(t *testing.T) {
	if _, err := ErrorKey("u/a-1.png"); err == nil {
		t.Fatal("expected error for non-jpeg key")
	}
}
