package ingestion

import (
	"context"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rohankatakam/repograph/internal/errors"
	"github.com/rohankatakam/repograph/internal/ignore"
	"github.com/rohankatakam/repograph/internal/treesitter"
)

// WalkSourceFiles walks the matcher's root and returns the sorted,
// repository-relative paths of every parseable source file.
// Ignored directories are not descended into.
func WalkSourceFiles(ctx context.Context, matcher *ignore.Matcher) ([]string, error) {
	root := matcher.Root()
	var files []string

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if d != nil && d.IsDir() && path != root {
				return filepath.SkipDir
			}
			if path == root {
				return err
			}
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if path == root {
			return nil
		}

		if matcher.MatchAbs(path, d.IsDir()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		rel, ok := matcher.Rel(path)
		if ok && isSourceFile(rel) {
			files = append(files, rel)
		}
		return nil
	})
	if err != nil {
		return nil, errors.FileSystemErrorf(err, "failed to walk %s", root)
	}

	sort.Strings(files)
	return files, nil
}

// isSourceFile returns true if file should be parsed
func isSourceFile(relPath string) bool {
	if !treesitter.IsSupported(relPath) {
		return false
	}
	return !isGeneratedFile(relPath)
}

// isGeneratedFile returns true if file is likely generated
func isGeneratedFile(relPath string) bool {
	generatedPatterns := []string{
		".min.js",       // Minified JS
		".bundle.js",    // Bundled JS
		".generated.ts", // Generated TypeScript
		".generated.js", // Generated JS
		".pb.js",        // Protocol buffers
		".pb.ts",        // Protocol buffers
		"_pb.js",        // Protocol buffers
		"_pb.ts",        // Protocol buffers
	}

	for _, pattern := range generatedPatterns {
		if strings.HasSuffix(relPath, pattern) {
			return true
		}
	}
	return false
}

// FileStats holds statistics about discovered files
type FileStats struct {
	Total      int
	TypeScript int
	JavaScript int
	Python     int
}

// CountFiles tallies walked paths by language
func CountFiles(relPaths []string) FileStats {
	stats := FileStats{Total: len(relPaths)}
	for _, p := range relPaths {
		switch treesitter.DetectLanguage(p) {
		case treesitter.LanguageTypeScript, treesitter.LanguageTSX:
			stats.TypeScript++
		case treesitter.LanguageJavaScript, treesitter.LanguageJSX:
			stats.JavaScript++
		case treesitter.LanguagePython:
			stats.Python++
		}
	}
	return stats
}
