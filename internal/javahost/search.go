package javahost

import (
	"context"

	"github.com/tadfisher/idea-lsp/internal/host"
)

func (p *Project) FileElement(path string) (host.SyntaxElement, error) {
	f, err := p.file(path)
	if err != nil {
		return nil, err
	}
	return wrap(f, f.root()), nil
}

func (p *Project) ElementAt(path string, offset int) (host.SyntaxElement, error) {
	f, err := p.file(path)
	if err != nil {
		return nil, err
	}
	return wrap(f, f.leafAt(offset)), nil
}

func isIdentChar(c byte) bool {
	return c == '_' || c == '$' || c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= 0x80
}

func (p *Project) AdjustOffset(path string, offset int) int {
	f, err := p.file(path)
	if err != nil || offset <= 0 || offset > len(f.src) {
		return offset
	}
	if (offset == len(f.src) || !isIdentChar(f.src[offset])) && isIdentChar(f.src[offset-1]) {
		return offset - 1
	}
	return offset
}

func (p *Project) GotoDeclaration(path string, offset int) ([]host.SyntaxElement, error) {
	f, err := p.file(path)
	if err != nil {
		return nil, err
	}
	id := f.leafAt(offset)
	if !isReferencePosition(id) || inImport(id) {
		return nil, nil
	}
	r := p.resolver()
	var out []host.SyntaxElement
	for _, n := range r.named(r.resolve(f, id)) {
		out = append(out, n)
	}
	return out, nil
}

func (p *Project) ReferenceAt(path string, offset int) (host.Referenceable, error) {
	f, err := p.file(path)
	if err != nil {
		return nil, err
	}
	id := f.leafAt(offset)
	if !isReferencePosition(id) {
		return nil, nil
	}
	return &reference{element{f: f, n: id}}, nil
}

// targetOf maps a named element back to the declared identifier.
func (r *resolver) targetOf(n host.Named) (target, bool) {
	start, _ := n.NameRange()
	return r.at(n.Path(), start)
}

func (p *Project) SearchUsages(ctx context.Context, named host.Named) ([]host.Usage, error) {
	r := p.resolver()
	t, ok := r.targetOf(named)
	if !ok {
		return nil, nil
	}
	occs, err := p.index.Occurrences(named.Name(), false)
	if err != nil {
		return nil, err
	}
	local := isLocal(t.decl())

	var usages []host.Usage
	for _, o := range occs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if local && o.Path != t.f.path {
			continue
		}
		f, err := r.files.get(o.Path)
		if err != nil {
			continue
		}
		id := f.leafAt(o.Start)
		if !isIdentifier(id) || int(id.StartByte()) != o.Start || int(id.EndByte()) != o.End {
			continue
		}
		if !isReferencePosition(id) {
			continue
		}
		for _, resolved := range r.resolve(f, id) {
			if resolved.same(t.f.path, int(t.n.StartByte())) {
				usages = append(usages, host.Usage{
					Element: &reference{element{f: f, n: id}},
					Start:   o.Start,
					End:     o.End,
				})
				break
			}
		}
	}
	return usages, nil
}

func (p *Project) TextOccurrences(ctx context.Context, name string) ([]host.Usage, error) {
	occs, err := p.index.Occurrences(name, true)
	if err != nil {
		return nil, err
	}
	fs := p.files()
	var usages []host.Usage
	for _, o := range occs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		f, err := fs.get(o.Path)
		if err != nil || o.End > len(f.src) || string(f.src[o.Start:o.End]) != name {
			continue
		}
		usages = append(usages, host.Usage{
			Element: wrap(f, f.leafAt(o.Start)),
			Start:   o.Start,
			End:     o.End,
			NonCode: true,
		})
	}
	return usages, nil
}

func (p *Project) SearchSymbols(ctx context.Context, filter func(string) bool) ([]host.Named, error) {
	decls, err := p.index.AllDeclarations()
	if err != nil {
		return nil, err
	}
	r := p.resolver()
	var out []host.Named
	for _, d := range decls {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !filter(d.Name) {
			continue
		}
		if t, ok := r.at(d.Path, d.Start); ok {
			out = append(out, r.named([]target{t})...)
		}
	}
	return out, nil
}

// RenameAliases pairs a class with its constructors.
func (p *Project) RenameAliases(named host.Named) []host.Named {
	r := p.resolver()
	t, ok := r.targetOf(named)
	if !ok {
		return nil
	}
	decl := t.decl()
	var owner target
	switch {
	case decl.Type() == "class_declaration" || decl.Type() == "record_declaration" || decl.Type() == "enum_declaration":
		owner = t
	case decl.Type() == "constructor_declaration" || decl.Type() == "compact_constructor_declaration":
		typeDecl := enclosingTypeDecl(decl)
		if typeDecl == nil || isAnonymousClass(typeDecl) {
			return nil
		}
		owner = typeTarget(t.f, typeDecl)
	default:
		return nil
	}

	var aliases []target
	for _, c := range append([]target{owner}, constructorsOf(owner)...) {
		if c.same(t.f.path, int(t.n.StartByte())) {
			continue
		}
		aliases = append(aliases, c)
	}
	return r.named(aliases)
}
