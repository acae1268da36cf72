package javahost

import (
	sitter "github.com/smacker/go-tree-sitter"
)

var typeDeclTypes = map[string]bool{
	"class_declaration":           true,
	"interface_declaration":       true,
	"enum_declaration":            true,
	"record_declaration":          true,
	"annotation_type_declaration": true,
}

var literalTypes = map[string]bool{
	"null_literal":                   true,
	"true":                           true,
	"false":                          true,
	"decimal_integer_literal":        true,
	"hex_integer_literal":            true,
	"octal_integer_literal":          true,
	"binary_integer_literal":         true,
	"decimal_floating_point_literal": true,
	"hex_floating_point_literal":     true,
	"character_literal":              true,
	"string_literal":                 true,
	"text_block":                     true,
}

// Node types whose "name" field declares an identifier.
var namedDeclTypes = map[string]bool{
	"class_declaration":                   true,
	"interface_declaration":               true,
	"enum_declaration":                    true,
	"record_declaration":                  true,
	"annotation_type_declaration":         true,
	"method_declaration":                  true,
	"constructor_declaration":             true,
	"compact_constructor_declaration":     true,
	"variable_declarator":                 true,
	"formal_parameter":                    true,
	"catch_formal_parameter":              true,
	"enhanced_for_statement":              true,
	"enum_constant":                       true,
	"resource":                            true,
	"annotation_type_element_declaration": true,
}

func isIdentifier(n *sitter.Node) bool {
	return n != nil && (n.Type() == "identifier" || n.Type() == "type_identifier")
}

func sameNode(a, b *sitter.Node) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.StartByte() == b.StartByte() && a.EndByte() == b.EndByte() && a.Type() == b.Type()
}

// isField reports whether child is the field of parent called name.
func isField(parent, child *sitter.Node, name string) bool {
	if parent == nil {
		return false
	}
	for i := 0; i < int(parent.ChildCount()); i++ {
		if parent.FieldNameForChild(i) == name && sameNode(parent.Child(i), child) {
			return true
		}
	}
	return false
}

// fieldChildren returns every child of n stored under field name.
func fieldChildren(n *sitter.Node, name string) []*sitter.Node {
	var out []*sitter.Node
	for i := 0; i < int(n.ChildCount()); i++ {
		if n.FieldNameForChild(i) == name {
			out = append(out, n.Child(i))
		}
	}
	return out
}

func namedChildren(n *sitter.Node) []*sitter.Node {
	out := make([]*sitter.Node, 0, n.NamedChildCount())
	for i := 0; i < int(n.NamedChildCount()); i++ {
		out = append(out, n.NamedChild(i))
	}
	return out
}

func firstNamedChildOfType(n *sitter.Node, types ...string) *sitter.Node {
	for _, c := range namedChildren(n) {
		for _, t := range types {
			if c.Type() == t {
				return c
			}
		}
	}
	return nil
}

// nameNode returns the identifier a declaration node declares.
func nameNode(decl *sitter.Node) *sitter.Node {
	if decl == nil {
		return nil
	}
	if decl.Type() == "identifier" {
		return decl
	}
	if decl.Type() == "spread_parameter" {
		if d := firstNamedChildOfType(decl, "variable_declarator"); d != nil {
			return d.ChildByFieldName("name")
		}
	}
	return decl.ChildByFieldName("name")
}

// declarationOf returns the declaration whose name is id, or nil when id is
// not a declared name.
func declarationOf(id *sitter.Node) *sitter.Node {
	if id == nil || id.Type() != "identifier" {
		return nil
	}
	parent := id.Parent()
	if parent == nil {
		return nil
	}
	switch {
	case namedDeclTypes[parent.Type()]:
		if isField(parent, id, "name") {
			return parent
		}
	case parent.Type() == "lambda_expression":
		if isField(parent, id, "parameters") {
			return id
		}
	case parent.Type() == "inferred_parameters":
		return id
	}
	return nil
}

// isReferencePosition reports whether an identifier refers to something
// declared elsewhere, as opposed to declaring a name or labelling a statement.
func isReferencePosition(id *sitter.Node) bool {
	if !isIdentifier(id) || declarationOf(id) != nil {
		return false
	}
	if outer := outsideScoped(id); outer != nil && outer.Type() == "package_declaration" {
		return false
	}
	switch id.Parent().Type() {
	case "labeled_statement", "break_statement", "continue_statement", "type_parameter":
		return false
	}
	return true
}

// outsideScoped returns the first ancestor of n that is not part of a dotted
// name.
func outsideScoped(n *sitter.Node) *sitter.Node {
	p := n.Parent()
	for p != nil && (p.Type() == "scoped_identifier" || p.Type() == "scoped_type_identifier") {
		p = p.Parent()
	}
	return p
}

// leafAt returns the innermost node containing offset.
func leafAt(root *sitter.Node, offset int) *sitter.Node {
	n := root
	for {
		var next *sitter.Node
		for i := 0; i < int(n.ChildCount()); i++ {
			c := n.Child(i)
			if int(c.StartByte()) <= offset && offset < int(c.EndByte()) {
				next = c
				break
			}
		}
		if next == nil {
			return n
		}
		n = next
	}
}

func isTypeDecl(n *sitter.Node) bool {
	if n == nil {
		return false
	}
	if typeDeclTypes[n.Type()] {
		return true
	}
	return isAnonymousClass(n)
}

func isAnonymousClass(n *sitter.Node) bool {
	return n != nil && n.Type() == "object_creation_expression" && firstNamedChildOfType(n, "class_body") != nil
}

// typeBody returns the member container of a type declaration.
func typeBody(decl *sitter.Node) *sitter.Node {
	if decl.Type() == "object_creation_expression" {
		return firstNamedChildOfType(decl, "class_body")
	}
	return decl.ChildByFieldName("body")
}

// members lists member declarations of a type, flattening enum body
// declarations.
func members(decl *sitter.Node) []*sitter.Node {
	body := typeBody(decl)
	if body == nil {
		return nil
	}
	var out []*sitter.Node
	for _, c := range namedChildren(body) {
		if c.Type() == "enum_body_declarations" {
			out = append(out, namedChildren(c)...)
			continue
		}
		out = append(out, c)
	}
	return out
}

// enclosingTypeDecl returns the nearest type declaration strictly above n.
func enclosingTypeDecl(n *sitter.Node) *sitter.Node {
	for p := n.Parent(); p != nil; p = p.Parent() {
		if isTypeDecl(p) {
			return p
		}
	}
	return nil
}

func isMethodLike(n *sitter.Node) bool {
	switch n.Type() {
	case "method_declaration", "constructor_declaration", "compact_constructor_declaration",
		"lambda_expression", "static_initializer":
		return true
	case "block":
		return isInitializerBlock(n)
	}
	return false
}

func isInitializerBlock(n *sitter.Node) bool {
	if n.Type() != "block" || n.Parent() == nil {
		return false
	}
	switch n.Parent().Type() {
	case "class_body", "enum_body_declarations":
		return true
	}
	return false
}

// arity returns the number of arguments of an argument_list.
func arity(args *sitter.Node) int {
	if args == nil {
		return 0
	}
	n := 0
	for _, c := range namedChildren(args) {
		switch c.Type() {
		case "line_comment", "block_comment":
		default:
			n++
		}
	}
	return n
}

// paramCount returns the parameter count of a method or constructor and
// whether its last parameter is variadic.
func paramCount(decl *sitter.Node) (int, bool) {
	params := decl.ChildByFieldName("parameters")
	if params == nil {
		return 0, false
	}
	n, variadic := 0, false
	for _, c := range namedChildren(params) {
		switch c.Type() {
		case "formal_parameter":
			n++
		case "spread_parameter":
			n++
			variadic = true
		}
	}
	return n, variadic
}

func acceptsArity(decl *sitter.Node, args int) bool {
	n, variadic := paramCount(decl)
	if variadic {
		return args >= n-1
	}
	return args == n
}
