package slug

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"learnhub/internal/apperr"
)

const (
	// Fallback is used when a title has no ASCII letters or digits left.
	Fallback    = "package"
	maxBaseLen  = 80
	suffixLen   = 6
	maxAttempts = 8
)

// Checker reports whether a slug is already in use.
type Checker interface {
	SlugExists(ctx context.Context, slug string) (bool, error)
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc func(ctx context.Context, slug string) (bool, error)

func (f CheckerFunc) SlugExists(ctx context.Context, slug string) (bool, error) {
	return f(ctx, slug)
}

// Allocator hands out slugs that no checker reports as taken. Typical checkers
// are the ledger and the package store's top-level directories.
type Allocator struct {
	Checkers []Checker
	// Suffix returns the disambiguator appended on collision.
	Suffix func() string
}

func NewAllocator(checkers ...Checker) *Allocator {
	return &Allocator{Checkers: checkers, Suffix: randomSuffix}
}

// Allocate derives a slug from title and disambiguates it until unique.
func (a *Allocator) Allocate(ctx context.Context, title string) (string, error) {
	return a.AllocateFrom(ctx, Slugify(title))
}

// AllocateFrom disambiguates an already slugified base.
func (a *Allocator) AllocateFrom(ctx context.Context, base string) (string, error) {
	if base == "" {
		base = Fallback
	}
	candidate := base
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		taken, err := a.taken(ctx, candidate)
		if err != nil {
			return "", fmt.Errorf("check slug %q: %w", candidate, err)
		}
		if !taken {
			return candidate, nil
		}
		candidate = base + "-" + a.suffix()
	}
	return "", apperr.Errorf(apperr.SlugCollision, "allocate slug", "no free slug for %q after %d attempts", base, maxAttempts)
}

func (a *Allocator) taken(ctx context.Context, s string) (bool, error) {
	for _, c := range a.Checkers {
		ok, err := c.SlugExists(ctx, s)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

func (a *Allocator) suffix() string {
	if a.Suffix != nil {
		return a.Suffix()
	}
	return randomSuffix()
}

func randomSuffix() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:suffixLen]
}

var foldMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Slugify lower-cases title, folds diacritics to ASCII, and collapses every
// run of other characters into a single "-".
func Slugify(title string) string {
	folded, _, err := transform.String(foldMarks, title)
	if err != nil {
		folded = title
	}
	folded = strings.ToLower(folded)

	var b strings.Builder
	b.Grow(len(folded))
	sep := false
	for _, r := range folded {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if sep && b.Len() > 0 {
				b.WriteByte('-')
			}
			b.WriteRune(r)
			sep = false
			continue
		}
		if foldedASCII, ok := ligatures[r]; ok {
			if sep && b.Len() > 0 {
				b.WriteByte('-')
			}
			b.WriteString(foldedASCII)
			sep = false
			continue
		}
		sep = true
	}

	out := b.String()
	if len(out) > maxBaseLen {
		out = strings.TrimRight(out[:maxBaseLen], "-")
	}
	if out == "" {
		return Fallback
	}
	return out
}

// letters NFD does not decompose
var ligatures = map[rune]string{
	'ß': "ss",
	'æ': "ae",
	'œ': "oe",
	'ø': "o",
	'đ': "d",
	'ł': "l",
	'þ': "th",
	'ı': "i",
}
