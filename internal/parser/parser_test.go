package parser_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tadfisher/idea-lsp/internal/parser"
)

const source = `package com.example;

class Greeter {
    // greets the world
    String greet() { return "hello"; }
}
`

func TestPoolParse(t *testing.T) {
	pool := parser.NewPool(2)
	defer pool.Close()

	tree, err := pool.Parse(context.Background(), nil, []byte(source))
	require.NoError(t, err)
	root := tree.RootNode()
	assert.Equal(t, "program", root.Type())
	assert.False(t, root.HasError())
}

func TestPoolParseConcurrently(t *testing.T) {
	pool := parser.NewPool(2)
	defer pool.Close()

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := pool.Parse(context.Background(), nil, []byte(source))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
}

func TestPoolQuery(t *testing.T) {
	pool := parser.NewPool(1)
	defer pool.Close()

	src := []byte(source)
	tree, err := pool.Parse(context.Background(), nil, src)
	require.NoError(t, err)

	matches, err := pool.Query(tree.RootNode(), `[(line_comment) (string_literal)] @text (identifier) @name`, src)
	require.NoError(t, err)

	var names, texts []string
	for _, m := range matches {
		switch m.Capture {
		case "name":
			names = append(names, m.Content)
		case "text":
			texts = append(texts, m.Content)
		}
	}
	assert.Contains(t, names, "greet")
	assert.Contains(t, texts, "// greets the world")
	assert.Contains(t, texts, `"hello"`)
}

func TestPoolQueryInvalid(t *testing.T) {
	pool := parser.NewPool(1)
	defer pool.Close()

	tree, err := pool.Parse(context.Background(), nil, []byte(source))
	require.NoError(t, err)
	_, err = pool.Query(tree.RootNode(), `(not_a_node) @x`, []byte(source))
	assert.Error(t, err)
}
