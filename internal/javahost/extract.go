package javahost

import (
	"regexp"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/tadfisher/idea-lsp/internal/host"
	"github.com/tadfisher/idea-lsp/internal/index"
	"github.com/tadfisher/idea-lsp/internal/manager"
)

const (
	identifierQuery = `[(identifier) (type_identifier)] @id`
	textQuery       = `[(line_comment) (block_comment) (string_literal) (character_literal)] @text`
)

var wordPattern = regexp.MustCompile(`[A-Za-z_$][A-Za-z0-9_$]*`)

// extract computes the index entries of a document's committed snapshot.
func (p *Project) extract(doc *manager.Document) index.File {
	tree, src, _ := doc.Committed()
	f := &file{p: p, path: doc.Path(), src: src, tree: tree}
	out := index.File{Path: f.path, Package: packageName(f)}

	ids, err := p.host.parsers.Query(f.root(), identifierQuery, src)
	if err != nil {
		log.Errorf("identifier query failed: %s", err)
	}
	for _, m := range ids {
		out.Occurrences = append(out.Occurrences, index.Occurrence{
			Path:  f.path,
			Name:  m.Content,
			Start: int(m.Node.StartByte()),
			End:   int(m.Node.EndByte()),
		})
		if d, ok := indexedDeclaration(f, m.Node); ok {
			out.Declarations = append(out.Declarations, d)
		}
	}

	texts, err := p.host.parsers.Query(f.root(), textQuery, src)
	if err != nil {
		log.Errorf("text query failed: %s", err)
	}
	for _, m := range texts {
		base := int(m.Node.StartByte())
		for _, loc := range wordPattern.FindAllStringIndex(m.Content, -1) {
			out.Occurrences = append(out.Occurrences, index.Occurrence{
				Path:   f.path,
				Name:   m.Content[loc[0]:loc[1]],
				Start:  base + loc[0],
				End:    base + loc[1],
				InText: true,
			})
		}
	}
	return out
}

// indexedDeclaration reports whether id names a type or a member, the
// declarations other files can refer to.
func indexedDeclaration(f *file, id *sitter.Node) (index.Declaration, bool) {
	decl := declarationOf(id)
	if decl == nil || isLocal(decl) {
		return index.Declaration{}, false
	}
	var kind host.DeclKind
	switch decl.Type() {
	case "class_declaration", "record_declaration":
		kind = host.DeclClass
	case "interface_declaration", "annotation_type_declaration":
		kind = host.DeclInterface
	case "enum_declaration":
		kind = host.DeclEnum
	case "method_declaration", "annotation_type_element_declaration":
		kind = host.DeclMethod
	case "constructor_declaration", "compact_constructor_declaration":
		kind = host.DeclConstructor
	case "variable_declarator":
		if k, ok := declKind(decl); !ok || k != host.DeclField {
			return index.Declaration{}, false
		}
		kind = host.DeclField
	case "enum_constant":
		kind = host.DeclEnumConstant
	default:
		return index.Declaration{}, false
	}
	return index.Declaration{
		Path:      f.path,
		Name:      f.text(id),
		Kind:      kind,
		Start:     int(id.StartByte()),
		End:       int(id.EndByte()),
		Container: containerName(f, decl),
	}, true
}
