package vfskit

import (
	"strings"
	"time"

	"github.com/gobwas/glob"
)

// FileInfo is what a FileSelector sees of each listed child. It is built
// from the directory listing; the child's record is not materialized.
type FileInfo struct {
	Name string
	// Path is relative to the handle the listing started from.
	Path  string
	Depth int
	Dir   bool
	// Size is -1 when the backend did not report it while listing.
	Size     int64
	Modified time.Time
}

// FileSelector filters the handles returned by Handle.List and Handle.Find.
//
//	classes, err := dir.Find(ctx, vfskit.And(vfskit.Glob("**/*.class"), vfskit.FilesOnly()))
type FileSelector interface {
	Match(file *FileInfo) bool
	// TraverseDescendants decides whether Find descends into a directory.
	TraverseDescendants(file *FileInfo) bool
}

type predicate func(*FileInfo) bool

func always(*FileInfo) bool { return true }

// selector is the single FileSelector implementation; every constructor
// below differs only in its two predicates.
type selector struct {
	match, traverse predicate
}

func (s selector) Match(file *FileInfo) bool               { return s.match(file) }
func (s selector) TraverseDescendants(file *FileInfo) bool { return s.traverse(file) }

// All matches everything.
func All() FileSelector { return selector{always, always} }

// FuncSelector matches with fn and descends everywhere.
func FuncSelector(fn func(*FileInfo) bool) FileSelector {
	return selector{fn, always}
}

// FuncSelectorFull takes both the match and the traversal predicate.
func FuncSelectorFull(matchFn, traverseFn func(*FileInfo) bool) FileSelector {
	return selector{matchFn, traverseFn}
}

// Glob compiles pattern with '/' as separator. A pattern without a slash
// is tested against the name, otherwise against the relative path so that
// "**" spans directories. An invalid pattern matches nothing.
//
//	Glob("*.txt")
//	Glob("src/**/*.go")
//	Glob("{a,b}*.json")
func Glob(pattern string) FileSelector {
	g, err := glob.Compile(pattern, '/')
	if err != nil {
		return selector{func(*FileInfo) bool { return false }, always}
	}
	if strings.Contains(pattern, "/") {
		return selector{func(f *FileInfo) bool { return g.Match(f.Path) }, always}
	}
	return selector{func(f *FileInfo) bool { return g.Match(f.Name) }, always}
}

// Depth limits Find to maxDepth levels; 1 is the immediate children.
func Depth(maxDepth int) FileSelector {
	return selector{
		match:    func(f *FileInfo) bool { return f.Depth <= maxDepth },
		traverse: func(f *FileInfo) bool { return f.Depth < maxDepth },
	}
}

func FilesOnly() FileSelector {
	return selector{func(f *FileInfo) bool { return !f.Dir }, always}
}

func DirsOnly() FileSelector {
	return selector{func(f *FileInfo) bool { return f.Dir }, always}
}

// And requires every selector to match, and descends only where all of
// them allow it.
func And(selectors ...FileSelector) FileSelector {
	return selector{
		match: func(f *FileInfo) bool {
			for _, s := range selectors {
				if !s.Match(f) {
					return false
				}
			}
			return true
		},
		traverse: func(f *FileInfo) bool {
			for _, s := range selectors {
				if !s.TraverseDescendants(f) {
					return false
				}
			}
			return true
		},
	}
}

// Or requires any selector to match, and descends where any allows it.
func Or(selectors ...FileSelector) FileSelector {
	return selector{
		match: func(f *FileInfo) bool {
			for _, s := range selectors {
				if s.Match(f) {
					return true
				}
			}
			return false
		},
		traverse: func(f *FileInfo) bool {
			for _, s := range selectors {
				if s.TraverseDescendants(f) {
					return true
				}
			}
			return false
		},
	}
}

// Not inverts the match. Traversal is unrestricted.
func Not(s FileSelector) FileSelector {
	return selector{func(f *FileInfo) bool { return !s.Match(f) }, always}
}
