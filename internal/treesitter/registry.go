package treesitter

import (
	"sort"
	"unsafe"

	"github.com/rohankatakam/repograph/internal/errors"
	sitter "github.com/tree-sitter/go-tree-sitter"
	tree_sitter_javascript "github.com/tree-sitter/tree-sitter-javascript/bindings/go"
	tree_sitter_python "github.com/tree-sitter/tree-sitter-python/bindings/go"
	tree_sitter_typescript "github.com/tree-sitter/tree-sitter-typescript/bindings/go"
)

// grammar pairs a language with its compiled capture query
type grammar struct {
	language *sitter.Language
	query    *sitter.Query
	captures []string
}

// Registry maps each language to its grammar and compiled query.
// Queries are compiled once; the registry is read-only afterwards and
// may be shared by concurrent parsers.
type Registry struct {
	grammars map[Language]*grammar
}

type grammarSpec struct {
	lang  Language
	ptr   unsafe.Pointer
	query string
}

// NewRegistry compiles the query for every supported language.
// A compilation failure is a packaging defect and is returned as a fatal config error.
func NewRegistry() (*Registry, error) {
	specs := []grammarSpec{
		{LanguageTypeScript, tree_sitter_typescript.LanguageTypescript(), typescriptQuery},
		{LanguageTSX, tree_sitter_typescript.LanguageTSX(), typescriptQuery},
		{LanguageJavaScript, tree_sitter_javascript.Language(), javascriptQuery},
		{LanguageJSX, tree_sitter_javascript.Language(), javascriptQuery},
		{LanguagePython, tree_sitter_python.Language(), pythonQuery},
	}

	r := &Registry{grammars: make(map[Language]*grammar, len(specs))}
	for _, spec := range specs {
		language := sitter.NewLanguage(spec.ptr)
		if language == nil {
			r.Close()
			return nil, errors.ConfigErrorf("failed to load %s grammar", spec.lang)
		}

		query, qerr := sitter.NewQuery(language, spec.query)
		if qerr != nil {
			r.Close()
			return nil, errors.ConfigErrorf("failed to compile %s query: %s", spec.lang, qerr.Error())
		}

		r.grammars[spec.lang] = &grammar{
			language: language,
			query:    query,
			captures: query.CaptureNames(),
		}
	}

	return r, nil
}

// Languages returns the registered language tags, sorted
func (r *Registry) Languages() []Language {
	langs := make([]Language, 0, len(r.grammars))
	for lang := range r.grammars {
		langs = append(langs, lang)
	}
	sort.Slice(langs, func(i, j int) bool { return langs[i] < langs[j] })
	return langs
}

func (r *Registry) lookup(lang Language) (*grammar, bool) {
	g, ok := r.grammars[lang]
	return g, ok
}

// Close releases the compiled queries (CGO memory)
func (r *Registry) Close() {
	for _, g := range r.grammars {
		if g.query != nil {
			g.query.Close()
		}
	}
	r.grammars = map[Language]*grammar{}
}
