package treesitter

import (
	"errors"
	"path/filepath"
	"strings"
)

// ErrUnsupportedLanguage is returned for files whose extension has no grammar.
// Callers skip such files.
var ErrUnsupportedLanguage = errors.New("unsupported language")

var errNoSyntaxTree = errors.New("no syntax tree")

// Language tags a grammar
type Language string

const (
	LanguageTypeScript Language = "typescript"
	LanguageTSX        Language = "tsx"
	LanguageJavaScript Language = "javascript"
	LanguageJSX        Language = "jsx"
	LanguagePython     Language = "python"
)

var extensionLanguages = map[string]Language{
	".ts":  LanguageTypeScript,
	".mts": LanguageTypeScript,
	".cts": LanguageTypeScript,
	".tsx": LanguageTSX,
	".js":  LanguageJavaScript,
	".mjs": LanguageJavaScript,
	".cjs": LanguageJavaScript,
	".jsx": LanguageJSX,
	".py":  LanguagePython,
	".pyi": LanguagePython,
}

// DetectLanguage returns the language for a file extension, or "" if unsupported
func DetectLanguage(filePath string) Language {
	return extensionLanguages[strings.ToLower(filepath.Ext(filePath))]
}

// IsSupported reports whether a file has a registered grammar
func IsSupported(filePath string) bool {
	return DetectLanguage(filePath) != ""
}

// isECMAScript reports whether the language uses quoted module specifiers
func (l Language) isECMAScript() bool {
	return l != LanguagePython
}
