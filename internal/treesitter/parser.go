package treesitter

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/rohankatakam/repograph/internal/errors"
	"github.com/rohankatakam/repograph/internal/fingerprint"
	"github.com/rohankatakam/repograph/internal/models"
	sitter "github.com/tree-sitter/go-tree-sitter"
)

// Import kinds recorded on Import entities
const (
	ImportStatic   = "static"
	ImportReexport = "reexport"
	ImportDynamic  = "dynamic"
	ImportRequire  = "require"
)

// Parser turns source text into code entities using the registry's queries.
// A Parser is safe for concurrent use; each call builds its own tree-sitter
// parser and query cursor.
type Parser struct {
	registry *Registry
}

// NewParser creates a parser backed by registry
func NewParser(registry *Registry) *Parser {
	return &Parser{registry: registry}
}

// declaration is a class, interface, function or method found by the query
type declaration struct {
	kind      models.EntityKind
	name      string
	node      sitter.Node
	startByte uint
	startLine int
	endLine   int
	exported  bool
	signature string
}

// dependency is a module specifier found by the query
type dependency struct {
	source string
	kind   string
	line   int
}

// Parse detects the language of relPath and returns its file structure.
// Unsupported extensions return ErrUnsupportedLanguage.
func (p *Parser) Parse(relPath string, source []byte) (*models.FileStructure, error) {
	lang := DetectLanguage(relPath)
	if lang == "" {
		return nil, fmt.Errorf("%s: %w", relPath, ErrUnsupportedLanguage)
	}

	items, err := p.ParseFile(relPath, lang, source)
	if err != nil {
		return nil, err
	}

	return &models.FileStructure{
		FilePath:  relPath,
		FileHash:  fingerprint.HashBytes(source),
		Language:  string(lang),
		LineCount: countLines(source),
		Items:     items,
	}, nil
}

// ParseFile runs the language's capture query over source and returns the
// top-level entities sorted by line. Methods are nested under their class.
// Re-parsing identical text yields identical output.
func (p *Parser) ParseFile(relPath string, lang Language, source []byte) ([]models.CodeEntity, error) {
	g, ok := p.registry.lookup(lang)
	if !ok {
		return nil, fmt.Errorf("%s (%s): %w", relPath, lang, ErrUnsupportedLanguage)
	}

	parser := sitter.NewParser()
	defer parser.Close()
	if err := parser.SetLanguage(g.language); err != nil {
		return nil, errors.ConfigErrorf("failed to set %s grammar: %v", lang, err)
	}

	tree := parser.Parse(source, nil)
	if tree == nil {
		return nil, errors.ParseError(errNoSyntaxTree, "failed to parse").WithPath(relPath)
	}
	defer tree.Close()

	cursor := sitter.NewQueryCursor()
	defer cursor.Close()

	var decls []declaration
	var deps []dependency
	seen := make(map[string]bool)
	exportedNames := make(map[string]bool)

	matches := cursor.Matches(g.query, tree.RootNode(), source)
	for match := matches.Next(); match != nil; match = matches.Next() {
		caps := make(map[string]sitter.Node, len(match.Captures))
		for _, c := range match.Captures {
			name := g.captures[c.Index]
			if _, dup := caps[name]; !dup {
				caps[name] = c.Node
			}
		}

		if name, ok := exportedName(caps, source); ok {
			exportedNames[name] = true
			continue
		}
		if d, ok := toDeclaration(lang, caps, source); ok {
			key := fmt.Sprintf("%d:%s", d.startByte, d.kind)
			if !seen[key] {
				seen[key] = true
				decls = append(decls, d)
			}
			continue
		}
		deps = append(deps, toDependencies(lang, caps, source)...)
	}

	// export default App; and export { App } export a top-level declaration
	for i := range decls {
		d := &decls[i]
		if d.kind != models.KindMethod && exportedNames[d.name] && isTopLevel(&d.node) {
			d.exported = true
		}
	}

	return buildEntities(relPath, lang, decls, deps), nil
}

// exportedName returns the local name exported by a statement that carries no
// declaration of its own
func exportedName(caps map[string]sitter.Node, source []byte) (string, bool) {
	if value, ok := caps[captureValue]; ok && hasCapture(caps, captureDefault) {
		if value.Kind() != "identifier" {
			return "", false
		}
		return getNodeText(&value, source), true
	}
	stmt, ok := caps[captureExport]
	if !ok {
		return "", false
	}
	// export { a } from "./x" re-exports another module's binding
	if stmt.ChildByFieldName("source") != nil {
		return "", true
	}
	name := caps[captureExported]
	return getNodeText(&name, source), true
}

func toDeclaration(lang Language, caps map[string]sitter.Node, source []byte) (declaration, bool) {
	var d declaration
	var node sitter.Node

	if _, ok := caps[captureDefault]; ok {
		value, ok := caps[captureValue]
		if !ok {
			return d, false
		}
		switch value.Kind() {
		case "arrow_function", "function_expression", "function", "generator_function":
			d.kind = models.KindFunction
		case "class":
			d.kind = models.KindClass
		default:
			return d, false
		}
		d.name = "default"
		d.exported = true
		node = value
	} else {
		roles := []struct {
			capture string
			kind    models.EntityKind
		}{
			{captureClass, models.KindClass},
			{captureInterface, models.KindInterface},
			{captureFunction, models.KindFunction},
			{captureMethod, models.KindMethod},
		}
		found := false
		for _, role := range roles {
			if n, ok := caps[role.capture]; ok {
				d.kind = role.kind
				node = n
				found = true
				break
			}
		}
		if !found {
			return d, false
		}
		nameNode, ok := caps[captureName]
		if !ok {
			return d, false
		}
		d.name = getNodeText(&nameNode, source)
		if lang == LanguagePython {
			d.exported = !strings.HasPrefix(d.name, "_") && isModuleLevel(&node)
		} else {
			d.exported = isExported(&node)
		}
	}

	if lang == LanguagePython && d.kind == models.KindFunction && findEnclosingClass(&node) != nil {
		d.kind = models.KindMethod
	}
	if d.kind == models.KindMethod {
		d.exported = false
	}
	if d.kind == models.KindFunction || d.kind == models.KindMethod {
		d.signature = signature(&node, source)
	}

	d.node = node
	d.startByte = node.StartByte()
	d.startLine, d.endLine = lineSpan(&node)
	return d, true
}

func toDependencies(lang Language, caps map[string]sitter.Node, source []byte) []dependency {
	srcNode, ok := caps[captureSource]
	if !ok {
		return nil
	}

	var dep dependency
	var stmt sitter.Node
	switch {
	case hasCapture(caps, captureImport):
		dep.kind = ImportStatic
		stmt = caps[captureImport]
	case hasCapture(caps, captureReexport):
		dep.kind = ImportReexport
		stmt = caps[captureReexport]
	case hasCapture(caps, captureCall):
		callee := caps[captureCallee]
		switch strings.TrimSpace(getNodeText(&callee, source)) {
		case "require":
			dep.kind = ImportRequire
		case "import":
			dep.kind = ImportDynamic
		default:
			return nil
		}
		stmt = caps[captureCall]
	default:
		return nil
	}

	text := getNodeText(&srcNode, source)
	if lang.isECMAScript() {
		text = unquote(text)
	}
	if text == "" {
		return nil
	}
	dep.line, _ = lineSpan(&stmt)

	// from . import a, b names sibling modules .a and .b
	if lang == LanguagePython && strings.Trim(text, ".") == "" {
		var out []dependency
		for _, name := range importedNames(&stmt, source) {
			d := dep
			d.source = text + name
			out = append(out, d)
		}
		if len(out) > 0 {
			return out
		}
	}

	dep.source = text
	return []dependency{dep}
}

func hasCapture(caps map[string]sitter.Node, name string) bool {
	_, ok := caps[name]
	return ok
}

// buildEntities assigns ids, nests methods under classes and orders the output
func buildEntities(relPath string, lang Language, decls []declaration, deps []dependency) []models.CodeEntity {
	sort.SliceStable(decls, func(i, j int) bool {
		if decls[i].startByte != decls[j].startByte {
			return decls[i].startByte < decls[j].startByte
		}
		return decls[i].kind < decls[j].kind
	})

	classes := make(map[uint]*declaration)
	for i := range decls {
		if decls[i].kind == models.KindClass {
			classes[decls[i].startByte] = &decls[i]
		}
	}

	usedIDs := make(map[string]bool)
	uniqueID := func(id string, line int) string {
		if usedIDs[id] {
			id = id + "@" + strconv.Itoa(line)
		}
		usedIDs[id] = true
		return id
	}

	var items []models.CodeEntity
	classIndex := make(map[uint]int)
	type pendingMethod struct {
		ownerStart uint
		entity     models.CodeEntity
	}
	var methods []pendingMethod

	for _, d := range decls {
		props := map[string]string{
			models.PropName:     d.name,
			models.PropLanguage: string(lang),
			models.PropExported: strconv.FormatBool(d.exported),
		}
		if d.signature != "" {
			props["signature"] = d.signature
		}

		qualified := d.name
		var owner *declaration
		if d.kind == models.KindMethod {
			node := d.node
			if classNode := findEnclosingClass(&node); classNode != nil {
				owner = classes[classNode.StartByte()]
			}
			if owner != nil {
				qualified = owner.name + "." + d.name
				props["class"] = owner.name
			}
		}

		entity := models.CodeEntity{
			ID:         uniqueID(models.DeclarationID(d.kind, relPath, qualified), d.startLine),
			Path:       relPath,
			Kind:       d.kind,
			StartLine:  d.startLine,
			EndLine:    d.endLine,
			Properties: props,
		}

		if owner != nil {
			methods = append(methods, pendingMethod{ownerStart: owner.startByte, entity: entity})
			continue
		}
		if d.kind == models.KindClass {
			classIndex[d.startByte] = len(items)
		}
		items = append(items, entity)
	}

	for _, m := range methods {
		idx, ok := classIndex[m.ownerStart]
		if !ok {
			items = append(items, m.entity)
			continue
		}
		items[idx].Children = append(items[idx].Children, m.entity)
	}

	sort.SliceStable(deps, func(i, j int) bool {
		return deps[i].line < deps[j].line
	})
	seenSources := make(map[string]bool)
	for _, dep := range deps {
		if seenSources[dep.source] {
			continue
		}
		seenSources[dep.source] = true
		items = append(items, models.CodeEntity{
			ID:        uniqueID(models.DeclarationID(models.KindImport, relPath, dep.source), dep.line),
			Path:      relPath,
			Kind:      models.KindImport,
			StartLine: dep.line,
			EndLine:   dep.line,
			Properties: map[string]string{
				models.PropName:       dep.source,
				models.PropSource:     dep.source,
				models.PropImportKind: dep.kind,
				models.PropLanguage:   string(lang),
			},
		})
	}

	sortEntities(items)
	for i := range items {
		sortEntities(items[i].Children)
	}
	return items
}

func sortEntities(entities []models.CodeEntity) {
	sort.SliceStable(entities, func(i, j int) bool {
		if entities[i].StartLine != entities[j].StartLine {
			return entities[i].StartLine < entities[j].StartLine
		}
		return entities[i].ID < entities[j].ID
	})
}

func countLines(source []byte) int {
	if len(source) == 0 {
		return 0
	}
	n := bytes.Count(source, []byte{'\n'})
	if source[len(source)-1] != '\n' {
		n++
	}
	return n
}
