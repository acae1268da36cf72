package javahost

import (
	"context"
	"fmt"
	"unicode"
	"unicode/utf8"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/tadfisher/idea-lsp/internal/host"
)

var keywords = map[string]bool{
	"abstract": true, "assert": true, "boolean": true, "break": true, "byte": true,
	"case": true, "catch": true, "char": true, "class": true, "const": true,
	"continue": true, "default": true, "do": true, "double": true, "else": true,
	"enum": true, "extends": true, "final": true, "finally": true, "float": true,
	"for": true, "goto": true, "if": true, "implements": true, "import": true,
	"instanceof": true, "int": true, "interface": true, "long": true, "native": true,
	"new": true, "package": true, "private": true, "protected": true, "public": true,
	"return": true, "short": true, "static": true, "strictfp": true, "super": true,
	"switch": true, "synchronized": true, "this": true, "throw": true, "throws": true,
	"transient": true, "try": true, "void": true, "volatile": true, "while": true,
	"true": true, "false": true, "null": true, "_": true,
}

// ValidIdentifier reports whether name can be declared in Java source.
func ValidIdentifier(name string) bool {
	if name == "" || keywords[name] {
		return false
	}
	for i, r := range name {
		switch {
		case r == '_' || r == '$' || unicode.IsLetter(r):
		case i > 0 && unicode.IsDigit(r):
		default:
			return false
		}
	}
	return true
}

func (p *Project) RenameConflicts(ctx context.Context, named host.Named, newName string) ([]host.Conflict, error) {
	if !ValidIdentifier(newName) {
		return []host.Conflict{{
			Element: named,
			Message: fmt.Sprintf("'%s' is not a valid identifier", newName),
		}}, nil
	}
	r := p.resolver()
	t, ok := r.targetOf(named)
	if !ok {
		return nil, nil
	}
	decl := t.decl()

	var conflicts []host.Conflict
	conflict := func(at target, format string, args ...any) {
		conflicts = append(conflicts, host.Conflict{
			Element: wrap(at.f, at.n),
			Message: fmt.Sprintf(format, args...),
		})
	}

	switch {
	case isTypeDecl(decl):
		for _, other := range r.typeCollisions(t, newName) {
			conflict(other, "Class %s is already defined in %s", newName, containerName(other.f, other.decl()))
		}
	case decl.Type() == "constructor_declaration" || decl.Type() == "compact_constructor_declaration":
		if owner := enclosingTypeDecl(decl); owner != nil && !isAnonymousClass(owner) {
			for _, other := range r.typeCollisions(typeTarget(t.f, owner), newName) {
				conflict(other, "Class %s is already defined in %s", newName, containerName(other.f, other.decl()))
			}
		}
	case decl.Type() == "method_declaration" || decl.Type() == "annotation_type_element_declaration":
		owner := enclosingTypeDecl(decl)
		if owner == nil {
			break
		}
		params, _ := paramCount(decl)
		for _, m := range members(owner) {
			if m.Type() != "method_declaration" && m.Type() != "annotation_type_element_declaration" {
				continue
			}
			id := m.ChildByFieldName("name")
			if n, _ := paramCount(m); id != nil && t.f.text(id) == newName && n == params {
				conflict(target{t.f, id}, "Method %s is already defined in class %s", newName, typeName(t.f, owner))
			}
		}
	case isLocal(decl) || isIdentifier(decl):
		if err := r.localConflicts(ctx, t, newName, conflict); err != nil {
			return nil, err
		}
	default:
		if err := r.fieldConflicts(ctx, t, named, newName, conflict); err != nil {
			return nil, err
		}
	}
	return conflicts, nil
}

func typeName(f *file, decl *sitter.Node) string {
	if isAnonymousClass(decl) {
		return "<anonymous " + anonymousBase(f, decl) + ">"
	}
	return f.text(nameNode(decl))
}

// typeCollisions returns the types a type would collide with once renamed:
// siblings in the same package, type or block, and enclosing types.
func (r *resolver) typeCollisions(t target, newName string) []target {
	decl := t.decl()
	var out []target
	for enc := enclosingTypeDecl(decl); enc != nil; enc = enclosingTypeDecl(enc) {
		if id := nameNode(enc); id != nil && !isAnonymousClass(enc) && t.f.text(id) == newName {
			out = append(out, target{t.f, id})
		}
	}

	parent := decl.Parent()
	switch {
	case parent != nil && parent.Type() == "program":
		for _, other := range r.inContainer(newName, packageName(t.f)) {
			if !other.same(t.f.path, int(t.n.StartByte())) {
				out = append(out, other)
			}
		}
	case parent != nil && parent.Type() == "block":
		for _, c := range namedChildren(parent) {
			if id := nameNode(c); typeDeclTypes[c.Type()] && id != nil && t.f.text(id) == newName {
				out = append(out, target{t.f, id})
			}
		}
	default:
		if owner := enclosingTypeDecl(decl); owner != nil {
			for _, m := range members(owner) {
				if id := nameNode(m); typeDeclTypes[m.Type()] && id != nil && t.f.text(id) == newName {
					out = append(out, target{t.f, id})
				}
			}
		}
	}
	return out
}

// fieldConflicts checks a field, enum constant or record component.
func (r *resolver) fieldConflicts(ctx context.Context, t target, named host.Named, newName string, conflict func(target, string, ...any)) error {
	owner := enclosingTypeDecl(t.decl())
	if owner == nil {
		return nil
	}
	for _, other := range r.fieldsIn(typeTarget(t.f, owner), newName) {
		if other.f.path == t.f.path && enclosingTypeDecl(other.decl()) != nil && sameNode(enclosingTypeDecl(other.decl()), owner) {
			conflict(other, "Field %s is already defined in class %s", newName, typeName(t.f, owner))
		}
	}

	usages, err := r.p.SearchUsages(ctx, named)
	if err != nil {
		return err
	}
	for _, u := range usages {
		ref, ok := u.Element.(*reference)
		if !ok || ref.n.Parent().Type() == "field_access" {
			continue
		}
		for _, v := range r.lookupVariable(ref.f, ref.n, newName) {
			if isLocal(v.decl()) || isIdentifier(v.decl()) {
				conflict(target{ref.f, ref.n}, "Field %s will be hidden by variable %s", named.Name(), newName)
			}
		}
	}
	return nil
}

// localConflicts checks a local variable or parameter: another variable of
// the new name whose scope overlaps, or an unqualified field reference the
// renamed variable would capture.
func (r *resolver) localConflicts(ctx context.Context, t target, newName string, conflict func(target, string, ...any)) error {
	for _, v := range r.lookupVariable(t.f, t.n, newName) {
		if isLocal(v.decl()) || isIdentifier(v.decl()) {
			conflict(v, "Variable %s is already defined in the scope", newName)
		}
	}

	scope := variableScope(t.decl())
	if scope == nil {
		return nil
	}
	var walk func(n *sitter.Node) error
	walk = func(n *sitter.Node) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if isIdentifier(n) && t.f.text(n) == newName && n.StartByte() > t.n.StartByte() {
			if d := declarationOf(n); d != nil && (isLocal(d) || isIdentifier(d)) {
				conflict(target{t.f, n}, "Variable %s is already defined in the scope", newName)
			} else if isReferencePosition(n) && n.Parent().Type() != "field_access" && n.Type() == "identifier" {
				for _, res := range r.resolve(t.f, n) {
					if isFieldDecl(res.decl()) {
						conflict(target{t.f, n}, "Field %s will be hidden by renamed variable", newName)
						break
					}
				}
			}
		}
		for i := 0; i < int(n.NamedChildCount()); i++ {
			if err := walk(n.NamedChild(i)); err != nil {
				return err
			}
		}
		return nil
	}
	return walk(scope)
}

func isFieldDecl(decl *sitter.Node) bool {
	kind, ok := declKind(decl)
	return ok && (kind == host.DeclField || kind == host.DeclEnumConstant)
}

// variableScope returns the node a variable is visible in.
func variableScope(decl *sitter.Node) *sitter.Node {
	switch decl.Type() {
	case "identifier":
		// Lambda parameters.
		for p := decl.Parent(); p != nil; p = p.Parent() {
			if p.Type() == "lambda_expression" {
				return p
			}
		}
	case "enhanced_for_statement":
		return decl
	case "variable_declarator":
		if p := decl.Parent(); p != nil && p.Parent() != nil {
			return p.Parent()
		}
	case "formal_parameter", "spread_parameter":
		if p := decl.Parent(); p != nil && p.Parent() != nil {
			return p.Parent()
		}
	case "catch_formal_parameter":
		return decl.Parent()
	case "resource":
		if p := decl.Parent(); p != nil {
			return p.Parent()
		}
	}
	return nil
}

// SecondaryRenames renames variables named after a renamed class, such as
// "fooBar" declared with type FooBar.
func (p *Project) SecondaryRenames(ctx context.Context, named host.Named, newName string) ([]host.Rename, error) {
	r := p.resolver()
	t, ok := r.targetOf(named)
	if !ok || !isTypeDecl(t.decl()) {
		return nil, nil
	}
	oldVar, newVar := decapitalize(named.Name()), decapitalize(newName)
	if oldVar == newVar || !ValidIdentifier(newVar) {
		return nil, nil
	}

	usages, err := p.SearchUsages(ctx, named)
	if err != nil {
		return nil, err
	}
	var renames []host.Rename
	for _, u := range usages {
		ref, ok := u.Element.(*reference)
		if !ok {
			continue
		}
		typed := ref.n.Parent()
		if typed == nil || !isField(typed, ref.n, "type") {
			continue
		}
		var names []*sitter.Node
		switch typed.Type() {
		case "local_variable_declaration", "field_declaration":
			for _, d := range fieldChildren(typed, "declarator") {
				names = append(names, d.ChildByFieldName("name"))
			}
		case "formal_parameter", "catch_formal_parameter", "resource", "enhanced_for_statement":
			names = append(names, typed.ChildByFieldName("name"))
		}
		for _, id := range names {
			if id == nil || ref.f.text(id) != oldVar {
				continue
			}
			for _, n := range r.named([]target{{ref.f, id}}) {
				renames = append(renames, host.Rename{Target: n, NewName: newVar})
			}
		}
	}
	return renames, nil
}

func decapitalize(name string) string {
	r, size := utf8.DecodeRuneInString(name)
	if r == utf8.RuneError {
		return name
	}
	return string(unicode.ToLower(r)) + name[size:]
}
