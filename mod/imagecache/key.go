package imagecache

import (
	"fmt"
	"net/url"
	"path"
	"strconv"
	"strings"
)

// Quality is the delivery tier of an image variant
type Quality string

const (
	QualityThumbnail Quality = "thumbnail"
	QualityMobile    Quality = "mobile"
	QualityDesktop   Quality = "desktop"
	QualityOriginal  Quality = "original"
)

// Format is the encoding of a cached payload
type Format string

const (
	FormatSource Format = "source"
	FormatWebP   Format = "webp"
	FormatJPEG   Format = "jpeg"
)

// Key identifies one cacheable image variant. Two requests with an equal
// Key share the same cache slot across every tier.
type Key struct {
	// OriginID is the canonical identity of the source image, derived
	// from its request path via DeriveOriginID
	OriginID string

	// Quality is the requested delivery tier
	Quality Quality

	// MaxWidth is the maximum delivered width in pixels (0 = unbounded)
	MaxWidth int

	// Format is the requested payload encoding
	Format Format
}

// DefaultWidths maps each quality tier to its default maximum width.
// A width of 0 means the source dimensions are kept.
var DefaultWidths = map[Quality]int{
	QualityThumbnail: 150,
	QualityMobile:    600,
	QualityDesktop:   1200,
	QualityOriginal:  0,
}

// DeriveOriginID derives the canonical origin identifier from a request
// path. The same derivation is used when storing and when invalidating,
// so a stored key can always be matched by an invalidation built from the
// same path. The result is a normalized relative path, never a hash, so
// keys stay human-debuggable.
func DeriveOriginID(requestPath string) (string, error) {
	if requestPath == "" {
		return "", fmt.Errorf("%w: empty path", ErrInvalidRequest)
	}

	cleaned := path.Clean("/" + requestPath)
	if cleaned == "/" || strings.Contains(cleaned, "..") {
		return "", fmt.Errorf("%w: unusable path %q", ErrInvalidRequest, requestPath)
	}

	return strings.TrimPrefix(cleaned, "/"), nil
}

// ParseQuality parses a quality query parameter. An empty value defaults
// to desktop.
func ParseQuality(s string) (Quality, error) {
	switch Quality(s) {
	case "":
		return QualityDesktop, nil
	case QualityThumbnail, QualityMobile, QualityDesktop, QualityOriginal:
		return Quality(s), nil
	default:
		return "", fmt.Errorf("%w: unknown quality %q", ErrInvalidRequest, s)
	}
}

// Validate checks that the key can be stored and later parsed back
func (k Key) Validate() error {
	if k.OriginID == "" {
		return fmt.Errorf("%w: empty origin id", ErrInvalidRequest)
	}
	switch k.Quality {
	case QualityThumbnail, QualityMobile, QualityDesktop, QualityOriginal:
	default:
		return fmt.Errorf("%w: unknown quality %q", ErrInvalidRequest, k.Quality)
	}
	if k.MaxWidth < 0 || k.MaxWidth > 8192 {
		return fmt.Errorf("%w: max width %d out of range", ErrInvalidRequest, k.MaxWidth)
	}
	switch k.Format {
	case FormatSource, FormatWebP, FormatJPEG:
	default:
		return fmt.Errorf("%w: unknown format %q", ErrInvalidRequest, k.Format)
	}
	return nil
}

// String renders the key in its canonical reversible form:
//
//	<escaped origin id>|<quality>|w<maxWidth>|<format>
//
// The origin id is url-escaped so the rendered key never contains the
// field separator; ParseKey inverts the encoding exactly.
func (k Key) String() string {
	return url.PathEscape(k.OriginID) + "|" + string(k.Quality) +
		"|w" + strconv.Itoa(k.MaxWidth) + "|" + string(k.Format)
}

// ParseKey parses the canonical string form produced by Key.String
func ParseKey(s string) (Key, error) {
	parts := strings.Split(s, "|")
	if len(parts) != 4 {
		return Key{}, fmt.Errorf("%w: malformed key %q", ErrInvalidRequest, s)
	}

	originID, err := url.PathUnescape(parts[0])
	if err != nil {
		return Key{}, fmt.Errorf("%w: bad origin id in key %q", ErrInvalidRequest, s)
	}

	if !strings.HasPrefix(parts[2], "w") {
		return Key{}, fmt.Errorf("%w: bad width in key %q", ErrInvalidRequest, s)
	}
	width, err := strconv.Atoi(parts[2][1:])
	if err != nil {
		return Key{}, fmt.Errorf("%w: bad width in key %q", ErrInvalidRequest, s)
	}

	k := Key{
		OriginID: originID,
		Quality:  Quality(parts[1]),
		MaxWidth: width,
		Format:   Format(parts[3]),
	}
	if err := k.Validate(); err != nil {
		return Key{}, err
	}
	return k, nil
}

// Scope selects how an invalidation pattern is matched against origin ids
type Scope string

const (
	ScopeExact  Scope = "exact"
	ScopePrefix Scope = "prefix"
)

// ParseScope parses a scope value. Empty defaults to exact.
func ParseScope(s string) (Scope, error) {
	switch Scope(s) {
	case "":
		return ScopeExact, nil
	case ScopeExact, ScopePrefix:
		return Scope(s), nil
	default:
		return "", fmt.Errorf("%w: unknown scope %q", ErrInvalidRequest, s)
	}
}

// Matcher matches cache keys for invalidation. An exact matcher matches
// every variant of one origin id; a prefix matcher matches every origin id
// that starts with the pattern.
type Matcher struct {
	Pattern string
	Scope   Scope
}

// NewMatcher normalizes the pattern with the same derivation used for
// storing, so store and invalidate paths can never disagree on identity
func NewMatcher(pattern string, scope Scope) (Matcher, error) {
	normalized, err := DeriveOriginID(pattern)
	if err != nil {
		return Matcher{}, err
	}
	if scope != ScopeExact && scope != ScopePrefix {
		return Matcher{}, fmt.Errorf("%w: unknown scope %q", ErrInvalidRequest, scope)
	}
	return Matcher{Pattern: normalized, Scope: scope}, nil
}

// Match reports whether the key's origin id falls under the matcher
func (m Matcher) Match(k Key) bool {
	if m.Scope == ScopePrefix {
		return strings.HasPrefix(k.OriginID, m.Pattern)
	}
	return k.OriginID == m.Pattern
}

// MatchString matches against a key in canonical string form. Unparseable
// keys never match.
func (m Matcher) MatchString(s string) bool {
	k, err := ParseKey(s)
	if err != nil {
		return false
	}
	return m.Match(k)
}
