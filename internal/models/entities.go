package models

import (
	"fmt"
	"path"
	"strings"
)

// EntityKind is the kind of a code entity and doubles as its graph label
type EntityKind string

const (
	KindProject   EntityKind = "Project"
	KindDirectory EntityKind = "Directory"
	KindFile      EntityKind = "File"
	KindClass     EntityKind = "Class"
	KindInterface EntityKind = "Interface"
	KindMethod    EntityKind = "Method"
	KindFunction  EntityKind = "Function"
	KindImport    EntityKind = "Import"
)

// IsDeclaration reports whether the kind is a declaration contained in a file
func (k EntityKind) IsDeclaration() bool {
	switch k {
	case KindClass, KindInterface, KindMethod, KindFunction:
		return true
	}
	return false
}

// Prefix returns the lowercased kind used in synthesized ids
func (k EntityKind) Prefix() string {
	return strings.ToLower(string(k))
}

// LinkKind is the kind of a directed relationship between two entities
type LinkKind string

const (
	LinkHas    LinkKind = "Has"
	LinkOwns   LinkKind = "Owns"
	LinkUses   LinkKind = "Uses"
	LinkImport LinkKind = "Import"
)

// RelType returns the Cypher relationship type for the link
func (k LinkKind) RelType() string {
	switch k {
	case LinkHas:
		return "HAS"
	case LinkOwns:
		return "OWNS"
	case LinkUses:
		return "USES"
	case LinkImport:
		return "IMPORTS"
	}
	return strings.ToUpper(string(k))
}

// Property keys set by the parser and the synchronizer
const (
	PropName            = "name"
	PropLanguage        = "language"
	PropExported        = "exported"
	PropSource          = "source"
	PropTarget          = "target"
	PropImportKind      = "kind"
	PropExtension       = "extension"
	PropHash            = "hash"
	PropLineCount       = "line_count"
	PropExternalImports = "external_imports"
	PropRoot            = "root"
)

// CodeEntity is a named code construct extracted from a repository.
// StartLine and EndLine are 1-based and zero when unknown.
// Children is only populated during extraction and is never persisted as nesting.
type CodeEntity struct {
	ID         string
	Path       string
	Kind       EntityKind
	StartLine  int
	EndLine    int
	Properties map[string]string
	Children   []CodeEntity
}

// Name returns the entity's name property
func (e CodeEntity) Name() string {
	return e.Properties[PropName]
}

// LinkEntity is a directed, labeled edge between two entity ids
type LinkEntity struct {
	FromID string
	ToID   string
	Kind   LinkKind
}

// FileStructure is the result of parsing one file
type FileStructure struct {
	FilePath  string
	FileHash  string
	Language  string
	LineCount int
	Items     []CodeEntity
}

// FileID returns the entity id for a repository-relative file path
func FileID(relPath string) string {
	return "file:" + relPath
}

// DirectoryID returns the entity id for a repository-relative directory path
func DirectoryID(relDir string) string {
	return "directory:" + relDir
}

// ProjectID returns the entity id for a project
func ProjectID(name string) string {
	return "project:" + name
}

// DeclarationID qualifies a declaration name with its owning file so that
// same-named declarations in different files never merge
func DeclarationID(kind EntityKind, relPath, name string) string {
	return fmt.Sprintf("%s:%s#%s", kind.Prefix(), relPath, name)
}

// ParentDir returns the repository-relative parent directory of a path, "." for the root
func ParentDir(relPath string) string {
	return path.Dir(relPath)
}

// Walk visits e and its children depth-first
func (e CodeEntity) Walk(fn func(CodeEntity)) {
	fn(e)
	for _, child := range e.Children {
		child.Walk(fn)
	}
}
