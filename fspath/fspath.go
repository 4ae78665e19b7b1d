// Package fspath parses and normalizes the slash-separated paths used by the
// file system API. Parsing collapses "." and ".." eagerly, so a Path is
// always in resolved form: a flag for absolute/relative plus a bounded list
// of validated name components.
package fspath

import (
	"fmt"
	"strings"

	"github.com/zkurisu/simplefs"
)

// Path is a parsed, normalized path.
type Path struct {
	Components []string
	IsAbsolute bool
}

// ValidName reports whether a name is usable as a directory entry: non-empty,
// shorter than the dirent name field, and made of alphanumerics plus '.',
// '_', and '-'.
func ValidName(name string) bool {
	if name == "" || len(name) >= simplefs.MaxFilenameLen {
		return false
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '.' || c == '_' || c == '-':
		default:
			return false
		}
	}
	return true
}

// Parse splits a path string on '/', dropping empty components and ".",
// popping a component for each ".." (".." at the anchor is discarded), and
// validating every remaining name.
func Parse(pathStr string) (Path, error) {
	if pathStr == "" {
		return Path{}, simplefs.ErrInvalidPath.WithMessage("empty path")
	}

	parsed := Path{IsAbsolute: strings.HasPrefix(pathStr, "/")}

	for _, component := range strings.Split(pathStr, "/") {
		switch component {
		case "", ".":
			continue
		case "..":
			if len(parsed.Components) > 0 {
				parsed.Components = parsed.Components[:len(parsed.Components)-1]
			}
		default:
			if len(parsed.Components) >= simplefs.MaxPathDepth {
				return Path{}, simplefs.ErrInvalidPath.WithMessage(
					fmt.Sprintf("path deeper than %d components", simplefs.MaxPathDepth))
			}
			if !ValidName(component) {
				return Path{}, simplefs.ErrInvalidName.WithMessage(
					fmt.Sprintf("invalid path component %q", component))
			}
			parsed.Components = append(parsed.Components, component)
		}
	}

	return parsed, nil
}

// String recomposes the path with '/' separators. An empty absolute path is
// "/", an empty relative path is ".".
func (p Path) String() string {
	if len(p.Components) == 0 {
		if p.IsAbsolute {
			return "/"
		}
		return "."
	}

	joined := strings.Join(p.Components, "/")
	if p.IsAbsolute {
		return "/" + joined
	}
	return joined
}

// Depth returns the number of components.
func (p Path) Depth() int {
	return len(p.Components)
}

// Base returns the final component, or "" for an empty path.
func (p Path) Base() string {
	if len(p.Components) == 0 {
		return ""
	}
	return p.Components[len(p.Components)-1]
}

// Dir returns the path with the final component dropped. Dropping from an
// empty path returns the path unchanged.
func (p Path) Dir() Path {
	if len(p.Components) == 0 {
		return p
	}
	return Path{
		Components: p.Components[:len(p.Components)-1],
		IsAbsolute: p.IsAbsolute,
	}
}

// Merge appends a relative path's components onto an absolute one. Both
// halves are already normalized by Parse; the result is not re-normalized.
func Merge(abs, rel Path) (Path, error) {
	if !abs.IsAbsolute {
		return Path{}, simplefs.ErrBadArgument.WithMessage(
			"merge base must be an absolute path")
	}
	if rel.IsAbsolute {
		return Path{}, simplefs.ErrBadArgument.WithMessage(
			"merge suffix must be a relative path")
	}
	if len(abs.Components)+len(rel.Components) > simplefs.MaxPathDepth {
		return Path{}, simplefs.ErrInvalidPath.WithMessage(
			fmt.Sprintf("merged path deeper than %d components", simplefs.MaxPathDepth))
	}

	merged := Path{IsAbsolute: true}
	merged.Components = append(merged.Components, abs.Components...)
	merged.Components = append(merged.Components, rel.Components...)
	return merged, nil
}
