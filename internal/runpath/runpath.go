// Package runpath formats per-realization run directories from a template
// and creates them on disk.
package runpath

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
)

// Keys that are always available for substitution.
const (
	KeyIens = "IENS"
	KeyIter = "ITER"
)

// KeywordSource supplies the substitution keywords of one realization.
type KeywordSource interface {
	Keywords(iens int) map[string]string
}

// StaticKeywords is a KeywordSource backed by a fixed map per realization.
type StaticKeywords map[int]map[string]string

// Keywords implements KeywordSource.
func (s StaticKeywords) Keywords(iens int) map[string]string {
	return s[iens]
}

// Maker creates the directory a realization runs in.
type Maker interface {
	Make(path string) error
}

// DirMaker creates run directories with os.MkdirAll. Relative paths are
// resolved against Root.
type DirMaker struct {
	Root string
}

// Make implements Maker.
func (d DirMaker) Make(path string) error {
	if !filepath.IsAbs(path) && d.Root != "" {
		path = filepath.Join(d.Root, path)
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("create run path: %w", err)
	}
	return nil
}

// Resolve returns path as it will be created by Make.
func (d DirMaker) Resolve(path string) string {
	if !filepath.IsAbs(path) && d.Root != "" {
		return filepath.Join(d.Root, path)
	}
	return path
}

// Format renders a run path template. Printf verbs are filled first (one %d
// receives iens, two receive iens and iter), then <KEY> placeholders are
// replaced from keywords, with <IENS> and <ITER> always defined. Keyword
// values are never read as format verbs.
func Format(template string, iens, iter int, keywords map[string]string) (string, error) {
	if template == "" {
		return "", errors.New("empty run path template")
	}

	path := template
	switch n := strings.Count(template, "%d"); n {
	case 0:
	case 1:
		path = fmt.Sprintf(template, iens)
	case 2:
		path = fmt.Sprintf(template, iens, iter)
	default:
		return "", fmt.Errorf("run path template %q has %d %%d verbs, at most 2 allowed", template, n)
	}
	return Substitute(path, iens, iter, keywords), nil
}

// Substitute replaces <KEY> placeholders in s from keywords, plus <IENS> and
// <ITER>. Unknown placeholders are left as they are.
func Substitute(s string, iens, iter int, keywords map[string]string) string {
	return NewReplacer(iens, iter, keywords).Replace(s)
}

// NewReplacer returns a replacer for the placeholders of one realization.
// Replacement is a single pass: a value containing another placeholder is
// inserted literally. A keyword named IENS or ITER overrides the built-in.
func NewReplacer(iens, iter int, keywords map[string]string) *strings.Replacer {
	values := map[string]string{
		KeyIens: strconv.Itoa(iens),
		KeyIter: strconv.Itoa(iter),
	}
	maps.Copy(values, keywords)

	pairs := make([]string, 0, 2*len(values))
	for _, k := range slices.Sorted(maps.Keys(values)) {
		pairs = append(pairs, "<"+k+">", values[k])
	}
	return strings.NewReplacer(pairs...)
}
