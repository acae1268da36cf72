package javahost

import (
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/tadfisher/idea-lsp/internal/host"
)

var typeKinds = []host.DeclKind{host.DeclClass, host.DeclInterface, host.DeclEnum}

// target is a declared name. For anonymous classes n is the class itself.
type target struct {
	f *file
	n *sitter.Node
}

// decl returns the declaration node a target names.
func (t target) decl() *sitter.Node {
	if !isIdentifier(t.n) {
		return t.n
	}
	if d := declarationOf(t.n); d != nil {
		return d
	}
	return t.n
}

func (t target) same(path string, start int) bool {
	return t.f.path == path && int(t.n.StartByte()) == start
}

// resolver answers one query. It caches file snapshots and guards against
// cyclic type hierarchies.
type resolver struct {
	p     *Project
	files *files
}

func (p *Project) resolver() *resolver {
	return &resolver{p: p, files: p.files()}
}

// named wraps targets as elements, dropping anonymous classes.
func (r *resolver) named(targets []target) []host.Named {
	var out []host.Named
	for _, t := range targets {
		if !isIdentifier(t.n) {
			continue
		}
		if n, ok := wrap(t.f, t.decl()).(host.Named); ok {
			out = append(out, n)
		} else if n, ok := wrap(t.f, t.n).(host.Named); ok {
			out = append(out, n)
		}
	}
	return out
}

// resolve returns the declarations an identifier in reference position
// refers to.
func (r *resolver) resolve(f *file, id *sitter.Node) []target {
	name := f.text(id)
	parent := id.Parent()

	switch parent.Type() {
	case "method_invocation":
		if isField(parent, id, "name") {
			args := arity(parent.ChildByFieldName("arguments"))
			obj := parent.ChildByFieldName("object")
			if obj == nil {
				return r.methodsInScope(f, id, name, args)
			}
			var out []target
			for _, t := range r.typeOf(f, obj) {
				out = append(out, r.methodsIn(t, name, args)...)
			}
			return filterArity(out, args)
		}
	case "field_access":
		if isField(parent, id, "field") {
			var out []target
			for _, t := range r.typeOf(f, parent.ChildByFieldName("object")) {
				out = append(out, r.fieldsIn(t, name)...)
				out = append(out, r.nestedTypes(t, name)...)
			}
			return out
		}
	case "method_reference":
		if first := parent.NamedChild(0); first != nil && !sameNode(first, id) {
			var out []target
			for _, t := range r.typeOf(f, first) {
				out = append(out, r.methodsIn(t, name, -1)...)
			}
			return out
		}
	case "scoped_identifier", "scoped_type_identifier":
		return r.resolveScoped(f, id)
	case "marker_annotation", "annotation":
		return r.resolveType(f, id, name)
	}

	if id.Type() == "type_identifier" {
		return r.resolveType(f, id, name)
	}
	if vars := r.lookupVariable(f, id, name); len(vars) > 0 {
		return vars
	}
	return r.resolveType(f, id, name)
}

// resolveScoped resolves an identifier inside a dotted name such as an
// import, a package-qualified type or Outer.Inner.
func (r *resolver) resolveScoped(f *file, id *sitter.Node) []target {
	parent := id.Parent()
	name := f.text(id)
	children := namedChildren(parent)
	if len(children) == 0 || sameNode(children[0], id) && len(children) > 1 {
		// Leftmost component: a type or a package.
		if parent.Type() == "scoped_type_identifier" {
			return r.resolveType(f, id, name)
		}
		if types := r.resolveType(f, id, name); len(types) > 0 && !inImport(id) {
			return types
		}
		return r.findQualified(name)
	}

	if types := r.findQualified(scopedText(f, parent)); len(types) > 0 {
		return types
	}
	var owners []target
	qualifier := children[0]
	if isIdentifier(qualifier) && !inImport(id) {
		owners = r.resolveType(f, qualifier, f.text(qualifier))
	} else {
		owners = r.findQualified(scopedText(f, qualifier))
	}
	var out []target
	for _, o := range owners {
		out = append(out, r.nestedTypes(o, name)...)
		if inImport(id) {
			out = append(out, r.fieldsIn(o, name)...)
			out = append(out, r.methodsIn(o, name, -1)...)
		}
	}
	return out
}

func inImport(n *sitter.Node) bool {
	p := outsideScoped(n)
	return p != nil && p.Type() == "import_declaration"
}

// scopedText returns a dotted name without annotations or whitespace.
func scopedText(f *file, n *sitter.Node) string {
	var parts []string
	var walk func(*sitter.Node)
	walk = func(n *sitter.Node) {
		if isIdentifier(n) {
			parts = append(parts, f.text(n))
			return
		}
		for _, c := range namedChildren(n) {
			switch c.Type() {
			case "identifier", "type_identifier", "scoped_identifier", "scoped_type_identifier":
				walk(c)
			}
		}
	}
	walk(n)
	return strings.Join(parts, ".")
}

// lookupVariable walks the scopes enclosing at and returns the innermost
// variable or field called name.
func (r *resolver) lookupVariable(f *file, at *sitter.Node, name string) []target {
	for n, p := at, at.Parent(); p != nil; n, p = p, p.Parent() {
		switch p.Type() {
		case "block", "switch_block_statement_group", "constructor_body", "switch_rule":
			for _, c := range namedChildren(p) {
				if c.StartByte() >= n.StartByte() {
					break
				}
				if c.Type() == "local_variable_declaration" {
					if d := declaratorNamed(f, c, name); d != nil {
						return []target{{f, d}}
					}
				}
			}
		case "for_statement":
			for _, init := range fieldChildren(p, "init") {
				if init.Type() == "local_variable_declaration" && !sameNode(init, n) {
					if d := declaratorNamed(f, init, name); d != nil {
						return []target{{f, d}}
					}
				}
			}
		case "enhanced_for_statement":
			if id := p.ChildByFieldName("name"); id != nil && f.text(id) == name && isField(p, n, "body") {
				return []target{{f, id}}
			}
		case "catch_clause":
			if param := firstNamedChildOfType(p, "catch_formal_parameter"); param != nil {
				if id := param.ChildByFieldName("name"); id != nil && f.text(id) == name {
					return []target{{f, id}}
				}
			}
		case "try_with_resources_statement":
			if spec := p.ChildByFieldName("resources"); spec != nil {
				for _, res := range namedChildren(spec) {
					if res.StartByte() >= n.StartByte() {
						break
					}
					if id := res.ChildByFieldName("name"); id != nil && f.text(id) == name {
						return []target{{f, id}}
					}
				}
			}
		case "method_declaration", "constructor_declaration":
			if id := paramNamed(f, p, name); id != nil {
				return []target{{f, id}}
			}
		case "compact_constructor_declaration":
			if rec := enclosingTypeDecl(p); rec != nil {
				if id := paramNamed(f, rec, name); id != nil {
					return []target{{f, id}}
				}
			}
		case "lambda_expression":
			if id := lambdaParamNamed(f, p, name); id != nil {
				return []target{{f, id}}
			}
		case "class_body", "interface_body", "enum_body", "annotation_type_body":
			decl := p.Parent()
			if decl == nil {
				break
			}
			if fields := r.fieldsIn(typeTarget(f, decl), name); len(fields) > 0 {
				return fields
			}
		case "program":
			return r.staticImports(f, name, func(t target) []target { return r.fieldsIn(t, name) })
		}
	}
	return nil
}

func declaratorNamed(f *file, decl *sitter.Node, name string) *sitter.Node {
	for _, d := range fieldChildren(decl, "declarator") {
		if id := d.ChildByFieldName("name"); id != nil && f.text(id) == name {
			return id
		}
	}
	return nil
}

// paramNamed finds a formal parameter of a method, constructor or record.
func paramNamed(f *file, decl *sitter.Node, name string) *sitter.Node {
	params := decl.ChildByFieldName("parameters")
	if params == nil {
		return nil
	}
	for _, c := range namedChildren(params) {
		if id := nameNode(c); id != nil && f.text(id) == name {
			return id
		}
	}
	return nil
}

func lambdaParamNamed(f *file, lambda *sitter.Node, name string) *sitter.Node {
	params := lambda.ChildByFieldName("parameters")
	if params == nil {
		return nil
	}
	if params.Type() == "identifier" {
		if f.text(params) == name {
			return params
		}
		return nil
	}
	for _, c := range namedChildren(params) {
		if id := nameNode(c); id != nil && f.text(id) == name {
			return id
		}
	}
	return nil
}

// typeTarget returns the target naming a type declaration.
func typeTarget(f *file, decl *sitter.Node) target {
	if name := nameNode(decl); name != nil {
		return target{f, name}
	}
	return target{f, decl}
}

// fieldsIn returns the fields, record components and enum constants of a
// type called name, searching supertypes after the type itself.
func (r *resolver) fieldsIn(t target, name string) []target {
	var out []target
	r.walkHierarchy(t, func(t target) bool {
		decl := t.decl()
		if decl.Type() == "record_declaration" {
			if id := paramNamed(t.f, decl, name); id != nil {
				out = append(out, target{t.f, id})
				return false
			}
		}
		for _, m := range members(decl) {
			switch m.Type() {
			case "field_declaration", "constant_declaration":
				if id := declaratorNamed(t.f, m, name); id != nil {
					out = append(out, target{t.f, id})
				}
			case "enum_constant":
				if id := m.ChildByFieldName("name"); id != nil && t.f.text(id) == name {
					out = append(out, target{t.f, id})
				}
			}
		}
		return len(out) == 0
	})
	return out
}

// methodsIn returns the methods of a type called name. A negative args
// disables arity filtering.
func (r *resolver) methodsIn(t target, name string, args int) []target {
	var out []target
	r.walkHierarchy(t, func(t target) bool {
		for _, m := range members(t.decl()) {
			switch m.Type() {
			case "method_declaration", "annotation_type_element_declaration":
				if id := m.ChildByFieldName("name"); id != nil && t.f.text(id) == name {
					out = append(out, target{t.f, id})
				}
			}
		}
		return true
	})
	if args < 0 {
		return out
	}
	return filterArity(out, args)
}

// constructorsOf returns the explicit constructors of a class.
func constructorsOf(t target) []target {
	var out []target
	for _, m := range members(t.decl()) {
		switch m.Type() {
		case "constructor_declaration", "compact_constructor_declaration":
			if id := m.ChildByFieldName("name"); id != nil {
				out = append(out, target{t.f, id})
			}
		}
	}
	return out
}

// filterArity keeps the methods accepting args arguments, or all of them
// when none does.
func filterArity(methods []target, args int) []target {
	var out []target
	for _, m := range methods {
		if acceptsArity(m.decl(), args) {
			out = append(out, m)
		}
	}
	if len(out) == 0 {
		return methods
	}
	return out
}

func (r *resolver) methodsInScope(f *file, at *sitter.Node, name string, args int) []target {
	for t := enclosingTypeDecl(at); t != nil; t = enclosingTypeDecl(t) {
		if ms := r.methodsIn(typeTarget(f, t), name, -1); len(ms) > 0 {
			return filterArity(ms, args)
		}
	}
	return r.staticImports(f, name, func(t target) []target { return r.methodsIn(t, name, args) })
}

// staticImports resolves name through the file's static imports.
func (r *resolver) staticImports(f *file, name string, members func(target) []target) []target {
	var out []target
	for _, imp := range namedChildren(f.root()) {
		if imp.Type() != "import_declaration" || !strings.HasPrefix(f.text(imp), "import static") {
			continue
		}
		path := firstNamedChildOfType(imp, "scoped_identifier")
		if path == nil {
			continue
		}
		wildcard := firstNamedChildOfType(imp, "asterisk") != nil
		var owner string
		switch {
		case wildcard:
			owner = scopedText(f, path)
		case path.ChildByFieldName("name") != nil && f.text(path.ChildByFieldName("name")) == name:
			owner = scopedText(f, path.ChildByFieldName("scope"))
		default:
			continue
		}
		for _, t := range r.findQualified(owner) {
			out = append(out, members(t)...)
		}
	}
	return out
}

// walkHierarchy visits t and then its supertypes, breadth first, until visit
// returns false.
func (r *resolver) walkHierarchy(t target, visit func(target) bool) {
	seen := map[string]bool{}
	queue := []target{t}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		key := fmt.Sprintf("%s:%d", cur.f.path, cur.n.StartByte())
		if seen[key] {
			continue
		}
		seen[key] = true
		if !visit(cur) {
			return
		}
		queue = append(queue, r.superTypes(cur)...)
	}
}

// superTypes resolves the extends and implements clauses of a type.
func (r *resolver) superTypes(t target) []target {
	decl := t.decl()
	var typeNodes []*sitter.Node
	if decl.Type() == "object_creation_expression" {
		if ty := decl.ChildByFieldName("type"); ty != nil {
			typeNodes = append(typeNodes, ty)
		}
	}
	if sc := decl.ChildByFieldName("superclass"); sc != nil {
		typeNodes = append(typeNodes, namedChildren(sc)...)
	}
	for _, clause := range []*sitter.Node{
		decl.ChildByFieldName("interfaces"),
		firstNamedChildOfType(decl, "extends_interfaces"),
	} {
		if clause == nil {
			continue
		}
		if list := firstNamedChildOfType(clause, "type_list"); list != nil {
			typeNodes = append(typeNodes, namedChildren(list)...)
		}
	}
	var out []target
	for _, n := range typeNodes {
		out = append(out, r.resolveTypeNode(t.f, n)...)
	}
	return out
}

// resolveTypeNode resolves a type expression to type declarations.
func (r *resolver) resolveTypeNode(f *file, n *sitter.Node) []target {
	if n == nil {
		return nil
	}
	switch n.Type() {
	case "type_identifier", "identifier":
		return r.resolveType(f, n, f.text(n))
	case "generic_type", "annotated_type":
		for _, c := range namedChildren(n) {
			switch c.Type() {
			case "type_identifier", "scoped_type_identifier":
				return r.resolveTypeNode(f, c)
			}
		}
	case "array_type":
		return r.resolveTypeNode(f, n.ChildByFieldName("element"))
	case "scoped_type_identifier", "scoped_identifier":
		if found := r.findQualified(scopedText(f, n)); len(found) > 0 {
			return found
		}
		children := namedChildren(n)
		if len(children) < 2 {
			return nil
		}
		last := children[len(children)-1]
		var out []target
		for _, owner := range r.resolveTypeNode(f, children[0]) {
			out = append(out, r.nestedTypes(owner, f.text(last))...)
		}
		return out
	}
	return nil
}

// resolveType resolves a simple type name as seen from at: enclosing and
// local types first, then the file, single-type imports, the package and
// finally on-demand imports.
func (r *resolver) resolveType(f *file, at *sitter.Node, name string) []target {
	for n := at; n != nil; n = n.Parent() {
		if typeParamNamed(f, n, name) {
			return nil
		}
		switch {
		case isTypeDecl(n):
			if id := nameNode(n); id != nil && !isAnonymousClass(n) && f.text(id) == name {
				return []target{{f, id}}
			}
			if nested := r.nestedTypes(typeTarget(f, n), name); len(nested) > 0 {
				return nested
			}
		case n.Type() == "block" || n.Type() == "program":
			for _, c := range namedChildren(n) {
				if typeDeclTypes[c.Type()] {
					if id := nameNode(c); id != nil && f.text(id) == name {
						return []target{{f, id}}
					}
				}
			}
		}
	}

	pkg := packageName(f)
	var onDemand []string
	for _, imp := range namedChildren(f.root()) {
		if imp.Type() != "import_declaration" || strings.HasPrefix(f.text(imp), "import static") {
			continue
		}
		path := firstNamedChildOfType(imp, "scoped_identifier", "identifier")
		if path == nil {
			continue
		}
		qname := scopedText(f, path)
		if firstNamedChildOfType(imp, "asterisk") != nil {
			onDemand = append(onDemand, qname)
			continue
		}
		if qname == name || strings.HasSuffix(qname, "."+name) {
			if found := r.findQualified(qname); len(found) > 0 {
				return found
			}
		}
	}

	if found := r.inContainer(name, pkg); len(found) > 0 {
		return found
	}
	for _, container := range onDemand {
		if found := r.inContainer(name, container); len(found) > 0 {
			return found
		}
	}
	return nil
}

func typeParamNamed(f *file, n *sitter.Node, name string) bool {
	params := n.ChildByFieldName("type_parameters")
	if params == nil {
		return false
	}
	for _, p := range namedChildren(params) {
		if id := firstNamedChildOfType(p, "type_identifier", "identifier"); id != nil && f.text(id) == name {
			return true
		}
	}
	return false
}

// nestedTypes returns member types of t called name, including inherited
// ones.
func (r *resolver) nestedTypes(t target, name string) []target {
	var out []target
	r.walkHierarchy(t, func(t target) bool {
		for _, m := range members(t.decl()) {
			if !typeDeclTypes[m.Type()] {
				continue
			}
			if id := nameNode(m); id != nil && t.f.text(id) == name {
				out = append(out, target{t.f, id})
			}
		}
		return len(out) == 0
	})
	return out
}

// findQualified looks up a type by its fully qualified name.
func (r *resolver) findQualified(qname string) []target {
	i := strings.LastIndex(qname, ".")
	if i < 0 {
		return r.inContainer(qname, "")
	}
	return r.inContainer(qname[i+1:], qname[:i])
}

// inContainer returns the indexed types called name declared directly in
// container, a package or a qualified type name.
func (r *resolver) inContainer(name, container string) []target {
	decls, err := r.p.index.Declarations(name, typeKinds...)
	if err != nil {
		log.Warningf("index lookup of %s failed: %s", name, err)
		return nil
	}
	var out []target
	for _, d := range decls {
		if d.Container != container {
			continue
		}
		if t, ok := r.at(d.Path, d.Start); ok {
			out = append(out, t)
		}
	}
	return out
}

// at returns the identifier starting at offset in path.
func (r *resolver) at(path string, offset int) (target, bool) {
	f, err := r.files.get(path)
	if err != nil {
		return target{}, false
	}
	id := f.leafAt(offset)
	if !isIdentifier(id) || int(id.StartByte()) != offset {
		return target{}, false
	}
	return target{f, id}, true
}

// typeOf infers the static type of an expression.
func (r *resolver) typeOf(f *file, expr *sitter.Node) []target {
	if expr == nil {
		return nil
	}
	switch expr.Type() {
	case "identifier":
		if vars := r.lookupVariable(f, expr, f.text(expr)); len(vars) > 0 {
			var out []target
			for _, v := range vars {
				out = append(out, r.declaredType(v)...)
			}
			return out
		}
		return r.resolveType(f, expr, f.text(expr))
	case "this":
		if t := enclosingTypeDecl(expr); t != nil {
			return []target{typeTarget(f, t)}
		}
	case "super":
		if t := enclosingTypeDecl(expr); t != nil {
			return r.superTypes(typeTarget(f, t))
		}
	case "field_access":
		var out []target
		name := expr.ChildByFieldName("field")
		for _, owner := range r.typeOf(f, expr.ChildByFieldName("object")) {
			fields := r.fieldsIn(owner, f.text(name))
			if len(fields) == 0 {
				out = append(out, r.nestedTypes(owner, f.text(name))...)
			}
			for _, fld := range fields {
				out = append(out, r.declaredType(fld)...)
			}
		}
		return out
	case "method_invocation":
		var out []target
		for _, m := range r.resolve(f, expr.ChildByFieldName("name")) {
			out = append(out, r.resolveTypeNode(m.f, m.decl().ChildByFieldName("type"))...)
		}
		return out
	case "object_creation_expression":
		if isAnonymousClass(expr) {
			return []target{{f, expr}}
		}
		return r.resolveTypeNode(f, expr.ChildByFieldName("type"))
	case "parenthesized_expression":
		return r.typeOf(f, expr.NamedChild(0))
	case "cast_expression":
		return r.resolveTypeNode(f, expr.ChildByFieldName("type"))
	case "array_access":
		return r.typeOf(f, expr.ChildByFieldName("array"))
	}
	return nil
}

// declaredType returns the type of a variable, field or parameter.
func (r *resolver) declaredType(v target) []target {
	decl := v.decl()
	var typeNode, value *sitter.Node
	switch decl.Type() {
	case "variable_declarator":
		value = decl.ChildByFieldName("value")
		if p := decl.Parent(); p != nil {
			if p.Type() == "spread_parameter" {
				typeNode = firstNamedChildOfType(p, "type_identifier", "generic_type", "scoped_type_identifier", "array_type")
			} else {
				typeNode = p.ChildByFieldName("type")
			}
		}
	case "formal_parameter", "resource", "enhanced_for_statement":
		typeNode = decl.ChildByFieldName("type")
		value = decl.ChildByFieldName("value")
	case "catch_formal_parameter":
		if ct := firstNamedChildOfType(decl, "catch_type"); ct != nil {
			typeNode = ct.NamedChild(0)
		}
	case "enum_constant":
		if e := enclosingTypeDecl(decl); e != nil {
			return []target{typeTarget(v.f, e)}
		}
	}
	if typeNode != nil && !(typeNode.Type() == "type_identifier" && v.f.text(typeNode) == "var") {
		return r.resolveTypeNode(v.f, typeNode)
	}
	if value != nil {
		return r.typeOf(v.f, value)
	}
	return nil
}

// isLocal reports whether a declaration is scoped to a method body.
func isLocal(decl *sitter.Node) bool {
	for p := decl.Parent(); p != nil; p = p.Parent() {
		if isTypeDecl(p) {
			return false
		}
		if isMethodLike(p) {
			return true
		}
	}
	return false
}
