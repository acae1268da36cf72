package javahost

import (
	"path/filepath"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/tadfisher/idea-lsp/internal/host"
)

// element is a syntax node without children of interest.
type element struct {
	f *file
	n *sitter.Node
}

func (e *element) Kind() string { return e.n.Type() }
func (e *element) Path() string { return e.f.path }
func (e *element) Text() string { return e.f.text(e.n) }

func (e *element) Range() (int, int) {
	return int(e.n.StartByte()), int(e.n.EndByte())
}

func (e *element) Parent() host.SyntaxElement {
	p := e.n.Parent()
	if p == nil {
		return nil
	}
	return wrap(e.f, p)
}

type container struct {
	element
}

func (c *container) Children() []host.SyntaxElement {
	children := namedChildren(c.n)
	out := make([]host.SyntaxElement, 0, len(children))
	for _, child := range children {
		out = append(out, wrap(c.f, child))
	}
	return out
}

// declaration is a symbol without a name of its own, such as an import or a
// literal.
type declaration struct {
	container
	kind host.DeclKind
}

func (d *declaration) DeclKind() host.DeclKind { return d.kind }

func (d *declaration) SymbolName() string {
	switch d.kind {
	case host.DeclFile:
		return filepath.Base(d.f.path)
	case host.DeclPackage:
		if name := firstNamedChildOfType(d.n, "scoped_identifier", "identifier"); name != nil {
			return d.f.text(name)
		}
	case host.DeclImport:
		name := firstNamedChildOfType(d.n, "scoped_identifier", "identifier")
		if name == nil {
			break
		}
		if firstNamedChildOfType(d.n, "asterisk") != nil {
			return d.f.text(name) + ".*"
		}
		return d.f.text(name)
	case host.DeclClass:
		return "<anonymous " + anonymousBase(d.f, d.n) + ">"
	case host.DeclInitializer:
		return "<init>"
	case host.DeclAnnotation:
		if name := d.n.ChildByFieldName("name"); name != nil {
			return "@" + d.f.text(name)
		}
	}
	return d.Text()
}

func anonymousBase(f *file, n *sitter.Node) string {
	if t := n.ChildByFieldName("type"); t != nil {
		return f.text(t)
	}
	return "class"
}

// namedDeclaration declares an identifier.
type namedDeclaration struct {
	declaration
	name *sitter.Node
}

func (d *namedDeclaration) Name() string { return d.f.text(d.name) }

func (d *namedDeclaration) NameRange() (int, int) {
	return int(d.name.StartByte()), int(d.name.EndByte())
}

func (d *namedDeclaration) SymbolName() string {
	if isTypeDecl(d.n) {
		return qualifiedName(d.f, d.n)
	}
	return d.Name()
}

// reference is an identifier that refers to a declaration. Member accesses
// span from the qualifier to the member name.
type reference struct {
	element
}

func (r *reference) Name() string { return r.f.text(r.n) }

func (r *reference) NameRange() (int, int) {
	return int(r.n.StartByte()), int(r.n.EndByte())
}

func (r *reference) Range() (int, int) {
	end := int(r.n.EndByte())
	p := r.n.Parent()
	switch {
	case p.Type() == "method_invocation" && isField(p, r.n, "name"),
		p.Type() == "field_access" && isField(p, r.n, "field"):
		return int(p.StartByte()), end
	}
	return int(r.n.StartByte()), end
}

func (r *reference) Resolve() []host.Named {
	res := r.f.p.resolver()
	return res.named(res.resolve(r.f, r.n))
}

var (
	_ host.Container     = (*container)(nil)
	_ host.Declaration   = (*declaration)(nil)
	_ host.Named         = (*namedDeclaration)(nil)
	_ host.Referenceable = (*reference)(nil)
	_ host.Named         = (*reference)(nil)
)

// wrap returns the element for n, choosing the richest wrapper that applies.
func wrap(f *file, n *sitter.Node) host.SyntaxElement {
	base := element{f: f, n: n}
	if isIdentifier(n) {
		if d := declarationOf(n); d != nil && (sameNode(d, n) || d.Type() == "enhanced_for_statement") {
			return &namedDeclaration{
				declaration: declaration{container: container{base}, kind: host.DeclVariable},
				name:        n,
			}
		}
		if isReferencePosition(n) {
			return &reference{base}
		}
		return &base
	}

	if kind, ok := declKind(n); ok {
		d := declaration{container: container{base}, kind: kind}
		if name := nameNode(n); name != nil && namedDeclTypes[n.Type()] && n.Type() != "enhanced_for_statement" {
			return &namedDeclaration{declaration: d, name: name}
		}
		return &d
	}
	if n.NamedChildCount() > 0 {
		return &container{base}
	}
	return &base
}

// declKind classifies declaration-like nodes.
func declKind(n *sitter.Node) (host.DeclKind, bool) {
	switch n.Type() {
	case "program":
		return host.DeclFile, true
	case "package_declaration":
		return host.DeclPackage, true
	case "import_declaration":
		return host.DeclImport, true
	case "class_declaration", "record_declaration":
		return host.DeclClass, true
	case "interface_declaration", "annotation_type_declaration":
		return host.DeclInterface, true
	case "enum_declaration":
		return host.DeclEnum, true
	case "object_creation_expression":
		return host.DeclClass, isAnonymousClass(n)
	case "static_initializer":
		return host.DeclInitializer, true
	case "block":
		return host.DeclInitializer, isInitializerBlock(n)
	case "constructor_declaration", "compact_constructor_declaration":
		return host.DeclConstructor, true
	case "method_declaration", "annotation_type_element_declaration":
		return host.DeclMethod, true
	case "variable_declarator":
		if p := n.Parent(); p != nil && (p.Type() == "field_declaration" || p.Type() == "constant_declaration") {
			return host.DeclField, true
		}
		return host.DeclVariable, true
	case "formal_parameter":
		if p := n.Parent(); p != nil && p.Parent() != nil && p.Parent().Type() == "record_declaration" {
			return host.DeclField, true
		}
		return host.DeclVariable, true
	case "catch_formal_parameter", "resource":
		return host.DeclVariable, nameNode(n) != nil
	case "marker_annotation", "annotation":
		return host.DeclAnnotation, true
	case "enum_constant":
		return host.DeclEnumConstant, true
	case "null_literal":
		return host.DeclNull, true
	case "true", "false":
		return host.DeclBoolean, true
	case "decimal_integer_literal", "hex_integer_literal", "octal_integer_literal",
		"binary_integer_literal", "decimal_floating_point_literal", "hex_floating_point_literal":
		return host.DeclNumber, true
	case "string_literal", "text_block", "character_literal":
		return host.DeclString, true
	}
	return 0, false
}

// packageName returns the package a file declares.
func packageName(f *file) string {
	if pkg := firstNamedChildOfType(f.root(), "package_declaration"); pkg != nil {
		if name := firstNamedChildOfType(pkg, "scoped_identifier", "identifier"); name != nil {
			return f.text(name)
		}
	}
	return ""
}

// qualifiedName returns the dotted name of a named type declaration.
func qualifiedName(f *file, decl *sitter.Node) string {
	var parts []string
	for n := decl; n != nil; n = enclosingTypeDecl(n) {
		name := nameNode(n)
		if name == nil || isAnonymousClass(n) {
			break
		}
		parts = append([]string{f.text(name)}, parts...)
	}
	if pkg := packageName(f); pkg != "" {
		parts = append([]string{pkg}, parts...)
	}
	return strings.Join(parts, ".")
}

// containerName is the qualified name of the type enclosing n, or the file's
// package for top-level declarations.
func containerName(f *file, n *sitter.Node) string {
	if t := enclosingTypeDecl(n); t != nil && !isAnonymousClass(t) {
		return qualifiedName(f, t)
	}
	return packageName(f)
}
