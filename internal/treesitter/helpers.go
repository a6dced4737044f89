package treesitter

import (
	"strings"

	sitter "github.com/tree-sitter/go-tree-sitter"
)

var classKinds = map[string]bool{
	"class_declaration":          true,
	"abstract_class_declaration": true,
	"class":                      true,
	"class_definition":           true,
}

// getNodeText extracts text from a node using byte offsets
func getNodeText(node *sitter.Node, code []byte) string {
	if node == nil {
		return ""
	}
	start := node.StartByte()
	end := node.EndByte()
	if int(end) > len(code) {
		end = uint(len(code))
	}
	if start > end {
		return ""
	}
	return string(code[start:end])
}

// unquote strips the delimiters of a string literal node's text
func unquote(s string) string {
	if len(s) >= 2 {
		first, last := s[0], s[len(s)-1]
		if (first == '"' || first == '\'' || first == '`') && first == last {
			return s[1 : len(s)-1]
		}
	}
	return s
}

// findEnclosingClass returns the nearest class node containing node. Object
// literals stop the search so their methods are not attributed to an outer class.
// Python functions stop it too, leaving nested functions top-level.
func findEnclosingClass(node *sitter.Node) *sitter.Node {
	current := node.Parent()
	for current != nil {
		kind := current.Kind()
		if classKinds[kind] {
			return current
		}
		if kind == "object" || kind == "function_definition" {
			return nil
		}
		current = current.Parent()
	}
	return nil
}

// isExported reports whether a declaration sits directly under an export statement,
// either itself or through the lexical declaration that holds an arrow function
func isExported(node *sitter.Node) bool {
	parent := node.Parent()
	if parent == nil {
		return false
	}
	switch parent.Kind() {
	case "export_statement":
		return true
	case "lexical_declaration", "variable_declaration":
		grand := parent.Parent()
		return grand != nil && grand.Kind() == "export_statement"
	}
	return false
}

// isTopLevel reports whether a declaration sits directly in the program or
// module body, possibly through the statement that holds it
func isTopLevel(node *sitter.Node) bool {
	parent := node.Parent()
	for parent != nil {
		switch parent.Kind() {
		case "program", "module":
			return true
		case "lexical_declaration", "variable_declaration", "export_statement", "decorated_definition":
			parent = parent.Parent()
		default:
			return false
		}
	}
	return false
}

// isModuleLevel reports whether a Python definition is outside every function
// and class body. Definitions under module-level if or try blocks count.
func isModuleLevel(node *sitter.Node) bool {
	for parent := node.Parent(); parent != nil; parent = parent.Parent() {
		switch parent.Kind() {
		case "function_definition", "class_definition", "lambda":
			return false
		}
	}
	return true
}

// importedNames returns the module names of a Python from-import, without aliases
func importedNames(stmt *sitter.Node, code []byte) []string {
	var names []string
	cursor := stmt.Walk()
	defer cursor.Close()
	for _, child := range stmt.ChildrenByFieldName("name", cursor) {
		target := &child
		if child.Kind() == "aliased_import" {
			target = child.ChildByFieldName("name")
			if target == nil {
				continue
			}
		}
		names = append(names, getNodeText(target, code))
	}
	return names
}

// signature returns the parameter list text of a function-like node
func signature(node *sitter.Node, code []byte) string {
	target := node
	if node.Kind() == "variable_declarator" {
		target = node.ChildByFieldName("value")
		if target == nil {
			return ""
		}
	}
	params := target.ChildByFieldName("parameters")
	if params == nil {
		params = target.ChildByFieldName("parameter")
	}
	if params == nil {
		return ""
	}
	return strings.Join(strings.Fields(getNodeText(params, code)), " ")
}

// lineSpan converts a node's 0-based rows into 1-based lines
func lineSpan(node *sitter.Node) (int, int) {
	return int(node.StartPosition().Row) + 1, int(node.EndPosition().Row) + 1
}
