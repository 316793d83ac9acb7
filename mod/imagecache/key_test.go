package imagecache

import (
	"testing"
)

func TestDeriveOriginID(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		want    string
		wantErr bool
	}{
		{
			name: "plain path",
			path: "posts/u1/photo.png",
			want: "posts/u1/photo.png",
		},
		{
			name: "leading slash",
			path: "/posts/u1/photo.png",
			want: "posts/u1/photo.png",
		},
		{
			name: "redundant segments",
			path: "posts//u1/./photo.png",
			want: "posts/u1/photo.png",
		},
		{
			name:    "empty path",
			path:    "",
			wantErr: true,
		},
		{
			name:    "traversal",
			path:    "../../etc/passwd",
			wantErr: true,
		},
		{
			name:    "root only",
			path:    "/",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DeriveOriginID(tt.path)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Expected error for path %q, got %q", tt.path, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("DeriveOriginID(%q) failed: %v", tt.path, err)
			}
			if got != tt.want {
				t.Errorf("DeriveOriginID(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

func TestDeriveOriginID_StoreAndInvalidateAgree(t *testing.T) {
	// The same image referenced with and without a leading slash must
	// derive to one identity, otherwise invalidation can miss entries
	a, err := DeriveOriginID("posts/u1/photo.png")
	if err != nil {
		t.Fatalf("Failed to derive: %v", err)
	}
	b, err := DeriveOriginID("/posts/u1/photo.png")
	if err != nil {
		t.Fatalf("Failed to derive: %v", err)
	}
	if a != b {
		t.Errorf("Derivations disagree: %q vs %q", a, b)
	}
}

func TestKey_StringRoundtrip(t *testing.T) {
	keys := []Key{
		{OriginID: "posts/u1/photo.png", Quality: QualityDesktop, MaxWidth: 1200, Format: FormatJPEG},
		{OriginID: "avatars/x.jpg", Quality: QualityThumbnail, MaxWidth: 150, Format: FormatWebP},
		{OriginID: "a/b/c.gif", Quality: QualityOriginal, MaxWidth: 0, Format: FormatSource},
		// Origin ids containing the separator must survive the roundtrip
		{OriginID: "odd|name/photo.png", Quality: QualityMobile, MaxWidth: 600, Format: FormatJPEG},
	}

	for _, k := range keys {
		parsed, err := ParseKey(k.String())
		if err != nil {
			t.Fatalf("Failed to parse %q: %v", k.String(), err)
		}
		if parsed != k {
			t.Errorf("Roundtrip mismatch: got %+v, want %+v", parsed, k)
		}
	}
}

func TestParseKey_Malformed(t *testing.T) {
	bad := []string{
		"",
		"only-one-part",
		"a|desktop|w100",
		"a|desktop|100|jpeg",
		"a|desktop|wNaN|jpeg",
		"a|ultra|w100|jpeg",
		"a|desktop|w100|bmp",
		"|desktop|w100|jpeg",
	}

	for _, s := range bad {
		if _, err := ParseKey(s); err == nil {
			t.Errorf("Expected error for %q", s)
		}
	}
}

func TestParseQuality(t *testing.T) {
	q, err := ParseQuality("")
	if err != nil {
		t.Fatalf("Empty quality should default: %v", err)
	}
	if q != QualityDesktop {
		t.Errorf("Expected desktop default, got %q", q)
	}

	if _, err := ParseQuality("ultra"); err == nil {
		t.Error("Expected error for unknown quality")
	}
}

func TestKey_Validate(t *testing.T) {
	valid := Key{OriginID: "a.png", Quality: QualityDesktop, MaxWidth: 1200, Format: FormatJPEG}
	if err := valid.Validate(); err != nil {
		t.Fatalf("Valid key rejected: %v", err)
	}

	tooWide := valid
	tooWide.MaxWidth = 9000
	if err := tooWide.Validate(); err == nil {
		t.Error("Expected error for out-of-range width")
	}

	negative := valid
	negative.MaxWidth = -1
	if err := negative.Validate(); err == nil {
		t.Error("Expected error for negative width")
	}
}

func TestMatcher_ExactAndPrefix(t *testing.T) {
	exact, err := NewMatcher("posts/u1/photo.png", ScopeExact)
	if err != nil {
		t.Fatalf("Failed to create matcher: %v", err)
	}

	// Exact scope matches every variant of the one origin id
	thumb := Key{OriginID: "posts/u1/photo.png", Quality: QualityThumbnail, MaxWidth: 150, Format: FormatJPEG}
	desktop := Key{OriginID: "posts/u1/photo.png", Quality: QualityDesktop, MaxWidth: 1200, Format: FormatWebP}
	other := Key{OriginID: "posts/u1/photo2.png", Quality: QualityDesktop, MaxWidth: 1200, Format: FormatJPEG}

	if !exact.Match(thumb) || !exact.Match(desktop) {
		t.Error("Exact matcher should match all variants of the origin id")
	}
	if exact.Match(other) {
		t.Error("Exact matcher should not match a different origin id")
	}

	prefix, err := NewMatcher("posts/u1", ScopePrefix)
	if err != nil {
		t.Fatalf("Failed to create matcher: %v", err)
	}
	if !prefix.Match(thumb) || !prefix.Match(other) {
		t.Error("Prefix matcher should match everything under the prefix")
	}
	if prefix.Match(Key{OriginID: "avatars/u1.png", Quality: QualityDesktop, MaxWidth: 1200, Format: FormatJPEG}) {
		t.Error("Prefix matcher should not match outside the prefix")
	}
}

func TestMatcher_NormalizesPattern(t *testing.T) {
	// A pattern with a leading slash must match keys stored without one
	m, err := NewMatcher("/posts/u1/photo.png", ScopeExact)
	if err != nil {
		t.Fatalf("Failed to create matcher: %v", err)
	}

	k := Key{OriginID: "posts/u1/photo.png", Quality: QualityDesktop, MaxWidth: 1200, Format: FormatJPEG}
	if !m.MatchString(k.String()) {
		t.Error("Normalized matcher should match the stored key")
	}
}

func TestMatcher_UnparseableKeyNeverMatches(t *testing.T) {
	m, err := NewMatcher("posts", ScopePrefix)
	if err != nil {
		t.Fatalf("Failed to create matcher: %v", err)
	}
	if m.MatchString("posts-but-not-a-key") {
		t.Error("Unparseable key should never match")
	}
}

func TestParseScope(t *testing.T) {
	s, err := ParseScope("")
	if err != nil || s != ScopeExact {
		t.Errorf("Empty scope should default to exact, got %q, %v", s, err)
	}
	if _, err := ParseScope("glob"); err == nil {
		t.Error("Expected error for unknown scope")
	}
}
