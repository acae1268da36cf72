package parser

import (
	"context"
	"fmt"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/java"
)

var lang = java.GetLanguage()

type Match struct {
	Capture string
	Node    *sitter.Node
	Content string
}

// Parser wraps a tree-sitter parser instance. It is not safe for concurrent
// use; take one from a Pool instead.
type Parser struct {
	parser *sitter.Parser
}

func NewParser() *Parser {
	p := sitter.NewParser()
	p.SetLanguage(lang)
	return &Parser{parser: p}
}

// Parse parses source. When old is non-nil and has been edited to match
// source, unchanged subtrees are reused.
func (p *Parser) Parse(ctx context.Context, old *sitter.Tree, source []byte) (*sitter.Tree, error) {
	tree, err := p.parser.ParseCtx(ctx, old, source)
	if err != nil {
		return nil, fmt.Errorf("failed to parse: %w", err)
	}
	return tree, nil
}

// Close frees any resources held by the Parser.
func (p *Parser) Close() error {
	if p.parser != nil {
		p.parser.Close()
		p.parser = nil
	}
	return nil
}

// Pool maintains a pool of Parser instances.
type Pool struct {
	pool chan *Parser

	mu      sync.Mutex
	queries map[string]*sitter.Query
}

// NewPool creates a Pool with n Parser instances.
func NewPool(n int) *Pool {
	if n < 1 {
		n = 1
	}
	pp := &Pool{
		pool:    make(chan *Parser, n),
		queries: make(map[string]*sitter.Query),
	}
	for i := 0; i < n; i++ {
		pp.pool <- NewParser()
	}
	return pp
}

// Parse acquires a parser from the pool and parses source with it.
func (pp *Pool) Parse(ctx context.Context, old *sitter.Tree, source []byte) (*sitter.Tree, error) {
	var p *Parser
	select {
	case p = <-pp.pool:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { pp.pool <- p }()
	return p.Parse(ctx, old, source)
}

// Query runs a tree-sitter query under root, applying predicate filtering,
// and returns every capture. Compiled queries are cached by source.
func (pp *Pool) Query(root *sitter.Node, query string, source []byte) ([]Match, error) {
	q, err := pp.compile(query)
	if err != nil {
		return nil, err
	}
	qc := sitter.NewQueryCursor()
	defer qc.Close()
	qc.Exec(q, root)

	var matches []Match
	for {
		m, ok := qc.NextMatch()
		if !ok {
			break
		}
		m = qc.FilterPredicates(m, source)
		for _, c := range m.Captures {
			matches = append(matches, Match{
				Capture: q.CaptureNameForId(c.Index),
				Node:    c.Node,
				Content: c.Node.Content(source),
			})
		}
	}
	return matches, nil
}

func (pp *Pool) compile(query string) (*sitter.Query, error) {
	pp.mu.Lock()
	defer pp.mu.Unlock()
	if q, ok := pp.queries[query]; ok {
		return q, nil
	}
	q, err := sitter.NewQuery([]byte(query), lang)
	if err != nil {
		return nil, fmt.Errorf("invalid query: %w", err)
	}
	pp.queries[query] = q
	return q, nil
}

// Close releases all Parser instances in the pool.
func (pp *Pool) Close() error {
	close(pp.pool)
	for p := range pp.pool {
		p.Close()
	}
	return nil
}
