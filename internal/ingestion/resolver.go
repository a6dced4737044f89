package ingestion

import (
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/rohankatakam/repograph/internal/models"
	"github.com/rohankatakam/repograph/internal/treesitter"
)

// ECMAScript resolution candidates, tried in order after the exact path
var (
	scriptExtensions = []string{".ts", ".tsx", ".js", ".jsx", ".mts", ".cts", ".mjs", ".cjs"}
	pythonExtensions = []string{".py", ".pyi"}
)

// existsFunc reports whether a repository-relative file exists
type existsFunc func(relPath string) bool

// fileSet answers existence from a walked file list
func fileSet(relPaths []string) existsFunc {
	set := make(map[string]bool, len(relPaths))
	for _, p := range relPaths {
		set[p] = true
	}
	return func(relPath string) bool { return set[relPath] }
}

// onDisk answers existence by stat-ing regular files under root
func onDisk(root string) existsFunc {
	return func(relPath string) bool {
		info, err := os.Stat(filepath.Join(root, filepath.FromSlash(relPath)))
		return err == nil && info.Mode().IsRegular()
	}
}

// resolveImports sets the target of every import in fs that resolves to a
// file inside the repository. Unresolved imports keep an empty target.
func resolveImports(fs *models.FileStructure, exists existsFunc) {
	lang := treesitter.Language(fs.Language)
	for i := range fs.Items {
		item := &fs.Items[i]
		if item.Kind != models.KindImport {
			continue
		}
		var target string
		if lang == treesitter.LanguagePython {
			target = resolvePythonImport(item.Properties[models.PropSource], fs.FilePath, exists)
		} else {
			target = resolveImportPath(item.Properties[models.PropSource], fs.FilePath, exists)
		}
		if target != "" {
			item.Properties[models.PropTarget] = target
		}
	}
}

// resolveImportPath attempts to resolve an import path to an actual file in the repository
// Returns empty string if the import is external (npm package, node builtin, path alias)
func resolveImportPath(importPath, sourceFile string, exists existsFunc) string {
	if !isRelativeSpecifier(importPath) {
		return ""
	}

	candidatePath, ok := joinInRepo(path.Dir(sourceFile), importPath)
	if !ok {
		return ""
	}

	// Try exact match first
	if exists(candidatePath) {
		return candidatePath
	}

	// ESM TypeScript imports name the emitted .js file
	if ext := path.Ext(candidatePath); ext == ".js" || ext == ".jsx" || ext == ".mjs" || ext == ".cjs" {
		stem := strings.TrimSuffix(candidatePath, ext)
		for _, alt := range []string{".ts", ".tsx", ".mts", ".cts"} {
			if exists(stem + alt) {
				return stem + alt
			}
		}
	}

	// Try with common extensions (TypeScript/JavaScript often omit extensions)
	for _, ext := range scriptExtensions {
		if exists(candidatePath + ext) {
			return candidatePath + ext
		}
	}

	// Try as directory with index file
	for _, ext := range scriptExtensions {
		indexFile := path.Join(candidatePath, "index"+ext)
		if exists(indexFile) {
			return indexFile
		}
	}

	return ""
}

// resolvePythonImport resolves dotted relative imports such as ".models" or
// "..pkg.util". Absolute module names are treated as external.
func resolvePythonImport(module, sourceFile string, exists existsFunc) string {
	dots := len(module) - len(strings.TrimLeft(module, "."))
	if dots == 0 {
		return ""
	}

	dir := path.Dir(sourceFile)
	for i := 1; i < dots; i++ {
		if dir == "." {
			return ""
		}
		dir = path.Dir(dir)
	}

	rest := strings.ReplaceAll(module[dots:], ".", "/")
	base := dir
	if rest != "" {
		base = path.Join(dir, rest)
		for _, ext := range pythonExtensions {
			if exists(base + ext) {
				return base + ext
			}
		}
	}
	if init := path.Join(base, "__init__.py"); exists(init) {
		return init
	}
	return ""
}

func isRelativeSpecifier(s string) bool {
	return s == "." || s == ".." || strings.HasPrefix(s, "./") || strings.HasPrefix(s, "../")
}

// joinInRepo joins a relative specifier onto dir. The second return is false
// when the result escapes the repository root.
func joinInRepo(dir, specifier string) (string, bool) {
	joined := path.Clean(path.Join(dir, specifier))
	if joined == ".." || strings.HasPrefix(joined, "../") {
		return "", false
	}
	return joined, true
}
