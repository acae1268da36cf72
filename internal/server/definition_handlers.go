package server

import (
	"errors"
	"strings"

	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"

	"github.com/tadfisher/idea-lsp/internal/session"
)

// Upper bound of workspace/symbol results and of typos tolerated by the
// fuzzy filter.
const (
	maxSymbolResults = 128
	maxTypos         = 2
)

// emptyIfNotFound turns a missing document into an empty navigation result.
func emptyIfNotFound(err error) error {
	var notFound *session.FileNotFoundError
	if errors.As(err, &notFound) {
		log.Warningf("%s", err)
		return nil
	}
	return err
}

func (s *Server) textDocumentDefinition(
	context *glsp.Context,
	params *protocol.DefinitionParams,
) (any, error) {
	sess, err := s.openSession()
	if err != nil {
		return nil, err
	}
	locations, err := sess.FindDefinitions(s.requestContext(context), params.TextDocument.URI, params.Position)
	if err != nil {
		return []protocol.Location{}, emptyIfNotFound(err)
	}
	if locations == nil {
		locations = []protocol.Location{}
	}
	return locations, nil
}

func (s *Server) textDocumentReferences(
	context *glsp.Context,
	params *protocol.ReferenceParams,
) ([]protocol.Location, error) {
	sess, err := s.openSession()
	if err != nil {
		return nil, err
	}
	locations, err := sess.FindReferences(s.requestContext(context), params.TextDocument.URI, params.Position, params.Context.IncludeDeclaration)
	if err != nil {
		return []protocol.Location{}, emptyIfNotFound(err)
	}
	if locations == nil {
		locations = []protocol.Location{}
	}
	return locations, nil
}

func (s *Server) textDocumentDocumentHighlight(
	context *glsp.Context,
	params *protocol.DocumentHighlightParams,
) ([]protocol.DocumentHighlight, error) {
	sess, err := s.openSession()
	if err != nil {
		return nil, err
	}
	highlights, err := sess.Highlights(s.requestContext(context), params.TextDocument.URI, params.Position)
	if err != nil {
		return []protocol.DocumentHighlight{}, emptyIfNotFound(err)
	}
	if highlights == nil {
		highlights = []protocol.DocumentHighlight{}
	}
	return highlights, nil
}

func (s *Server) textDocumentDocumentSymbol(
	context *glsp.Context,
	params *protocol.DocumentSymbolParams,
) (any, error) {
	sess, err := s.openSession()
	if err != nil {
		return nil, err
	}
	symbols, err := sess.ListSymbols(s.requestContext(context), params.TextDocument.URI)
	if err != nil {
		return []protocol.SymbolInformation{}, emptyIfNotFound(err)
	}
	if symbols == nil {
		symbols = []protocol.SymbolInformation{}
	}
	return symbols, nil
}

func (s *Server) textDocumentRename(
	context *glsp.Context,
	params *protocol.RenameParams,
) (*protocol.WorkspaceEdit, error) {
	sess, err := s.openSession()
	if err != nil {
		return nil, err
	}
	changes, err := sess.Rename(s.requestContext(context), params.TextDocument.URI, params.Position, params.NewName)
	if err != nil {
		return nil, err
	}
	return &protocol.WorkspaceEdit{Changes: changes}, nil
}

func (s *Server) workspaceSymbol(
	context *glsp.Context,
	params *protocol.WorkspaceSymbolParams,
) ([]protocol.SymbolInformation, error) {
	sess, err := s.openSession()
	if err != nil {
		return nil, err
	}
	symbols, err := sess.SearchSymbols(s.requestContext(context), fuzzyFilter(params.Query, maxTypos))
	if err != nil {
		return nil, err
	}
	if len(symbols) > maxSymbolResults {
		symbols = symbols[:maxSymbolResults]
	}
	if symbols == nil {
		symbols = []protocol.SymbolInformation{}
	}
	return symbols, nil
}

// fuzzyFilter matches names containing pattern with at most k errors,
// ignoring case. Patterns tolerate at most one error per three characters,
// otherwise short queries would match every name. An empty pattern matches
// everything.
func fuzzyFilter(pattern string, k int) func(name string) bool {
	patternRunes := []rune(strings.ToLower(pattern))
	m := len(patternRunes)
	if m == 0 {
		return func(string) bool { return true }
	}
	if m > 63 {
		patternRunes = patternRunes[:63]
		m = 63
	}
	k = min(k, m/3)

	masks := make(map[rune]uint64, m)
	for i, r := range patternRunes {
		masks[r] |= 1 << uint(i)
	}
	highest := uint64(1) << uint(m-1)

	return func(name string) bool {
		return bitapFuzzyMatch(strings.ToLower(name), masks, highest, k)
	}
}

// bitapFuzzyMatch returns true if pattern appears in text with at most k errors
func bitapFuzzyMatch(text string, masks map[rune]uint64, highest uint64, k int) bool {
	r := make([]uint64, k+1)
	for d := 0; d <= k; d++ {
		// The first d pattern characters may be missing from the text.
		r[d] = (1 << uint(d)) - 1
	}

	for _, cr := range text {
		charMask := masks[cr]

		// Update R[0]
		prev := r[0]
		r[0] = ((r[0] << 1) | 1) & charMask

		// Update R[d] for 1..k errors
		for d := 1; d <= k; d++ {
			old := r[d]
			match := ((old << 1) | 1) & charMask
			substitution := (prev << 1) | 1
			deletion := (r[d-1] << 1) | 1
			insertion := prev
			r[d] = match | substitution | deletion | insertion
			prev = old
		}

		// If any R[d] has bit (m-1) set, match within d errors
		for d := 0; d <= k; d++ {
			if (r[d] & highest) != 0 {
				return true
			}
		}
	}
	return false
}

func (s *Server) textDocumentHover(
	context *glsp.Context,
	params *protocol.HoverParams,
) (*protocol.Hover, error) {
	return nil, errNotImplemented
}

func (s *Server) textDocumentCompletion(
	context *glsp.Context,
	params *protocol.CompletionParams,
) (any, error) {
	return nil, errNotImplemented
}

func (s *Server) textDocumentFormatting(
	context *glsp.Context,
	params *protocol.DocumentFormattingParams,
) ([]protocol.TextEdit, error) {
	return nil, errNotImplemented
}

func (s *Server) textDocumentRangeFormatting(
	context *glsp.Context,
	params *protocol.DocumentRangeFormattingParams,
) ([]protocol.TextEdit, error) {
	return nil, errNotImplemented
}

func (s *Server) textDocumentCodeLens(
	context *glsp.Context,
	params *protocol.CodeLensParams,
) ([]protocol.CodeLens, error) {
	return nil, errNotImplemented
}

func (s *Server) textDocumentCodeAction(
	context *glsp.Context,
	params *protocol.CodeActionParams,
) (any, error) {
	return nil, errNotImplemented
}
