package treesitter

// Capture names shared by every query. A match carries exactly one role
// capture (class, interface, function, method, default, export_list, import,
// reexport, call) plus the name, source or callee captures that role needs.
const (
	captureClass     = "class"
	captureInterface = "interface"
	captureFunction  = "function"
	captureMethod    = "method"
	captureDefault   = "default"
	captureExport    = "export_list"
	captureImport    = "import"
	captureReexport  = "reexport"
	captureCall      = "call"
	captureName      = "name"
	captureSource    = "source"
	captureCallee    = "callee"
	captureValue     = "value"
	captureExported  = "exported"
)

// ecmaDependencyPatterns match static imports, re-exports, dynamic import() and require()
const ecmaDependencyPatterns = `
(import_statement source: (string) @source) @import
(export_statement source: (string) @source) @reexport
(call_expression
  function: (_) @callee
  arguments: (arguments . (string) @source)) @call
`

// ecmaCommonPatterns are valid in the JavaScript, TypeScript and TSX grammars
const ecmaCommonPatterns = `
(function_declaration name: (identifier) @name) @function
(generator_function_declaration name: (identifier) @name) @function
(variable_declarator name: (identifier) @name value: (arrow_function)) @function
(class_body (method_definition name: (_) @name) @method)
(export_statement value: (_) @value) @default
(export_statement (export_clause (export_specifier name: (_) @exported))) @export_list
`

const typescriptQuery = `
(class_declaration name: (type_identifier) @name) @class
(abstract_class_declaration name: (type_identifier) @name) @class
(interface_declaration name: (type_identifier) @name) @interface
` + ecmaCommonPatterns + ecmaDependencyPatterns

const javascriptQuery = `
(class_declaration name: (identifier) @name) @class
` + ecmaCommonPatterns + ecmaDependencyPatterns

const pythonQuery = `
(class_definition name: (identifier) @name) @class
(function_definition name: (identifier) @name) @function
(import_statement name: (dotted_name) @source) @import
(import_statement name: (aliased_import name: (dotted_name) @source)) @import
(import_from_statement module_name: (_) @source) @import
`
