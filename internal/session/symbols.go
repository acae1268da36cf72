package session

import (
	"context"

	protocol "github.com/tliron/glsp/protocol_3_16"

	"github.com/tadfisher/idea-lsp/internal/host"
)

var symbolKinds = map[host.DeclKind]protocol.SymbolKind{
	host.DeclFile:         protocol.SymbolKindFile,
	host.DeclPackage:      protocol.SymbolKindPackage,
	host.DeclImport:       protocol.SymbolKindModule,
	host.DeclClass:        protocol.SymbolKindClass,
	host.DeclInterface:    protocol.SymbolKindInterface,
	host.DeclEnum:         protocol.SymbolKindEnum,
	host.DeclInitializer:  protocol.SymbolKindConstructor,
	host.DeclConstructor:  protocol.SymbolKindConstructor,
	host.DeclMethod:       protocol.SymbolKindMethod,
	host.DeclField:        protocol.SymbolKindField,
	host.DeclVariable:     protocol.SymbolKindVariable,
	host.DeclAnnotation:   protocol.SymbolKindProperty,
	host.DeclEnumConstant: protocol.SymbolKindConstant,
	// LSP 3.16 has a Null kind but clients render it poorly.
	host.DeclNull:    protocol.SymbolKindConstant,
	host.DeclBoolean: protocol.SymbolKindBoolean,
	host.DeclNumber:  protocol.SymbolKindNumber,
	host.DeclString:  protocol.SymbolKindString,
}

// SymbolKind maps a declaration kind to its LSP symbol kind.
func SymbolKind(kind host.DeclKind) protocol.SymbolKind {
	if k, ok := symbolKinds[kind]; ok {
		return k
	}
	return protocol.SymbolKindVariable
}

// ListSymbols lists every declaration-like element of a file in document
// order.
func (s *Session) ListSymbols(ctx context.Context, uri string) ([]protocol.SymbolInformation, error) {
	var symbols []protocol.SymbolInformation
	err := s.w.Read(ctx, func(ctx context.Context) error {
		project, doc, err := s.document(uri)
		if err != nil {
			return err
		}
		root, err := project.FileElement(doc.Path())
		if err != nil {
			return err
		}
		loc := s.locator(project)
		visitSymbols(root, "", func(d host.Declaration, container string) {
			l, ok := loc.element(d)
			if !ok {
				return
			}
			info := protocol.SymbolInformation{
				Name:     d.SymbolName(),
				Kind:     SymbolKind(d.DeclKind()),
				Location: l,
			}
			if container != "" {
				info.ContainerName = &container
			}
			symbols = append(symbols, info)
		})
		return ctx.Err()
	})
	return symbols, err
}

// visitSymbols walks el in pre-order. container is the symbol name of the
// nearest enclosing declaration.
func visitSymbols(el host.SyntaxElement, container string, fn func(d host.Declaration, container string)) {
	if d, ok := el.(host.Declaration); ok {
		fn(d, container)
		container = d.SymbolName()
	}
	if c, ok := el.(host.Container); ok {
		for _, child := range c.Children() {
			visitSymbols(child, container, fn)
		}
	}
}

// containerName is the symbol name of the nearest declaration enclosing el.
func containerName(el host.SyntaxElement) string {
	for p := el.Parent(); p != nil; p = p.Parent() {
		if d, ok := p.(host.Declaration); ok {
			return d.SymbolName()
		}
	}
	return ""
}
