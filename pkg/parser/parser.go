// Package parser turns Kite source text into the AST consumed by
// pkg/compiler. The grammar lives on the AST structs as participle
// tags; this file holds the token rules and the build options.
package parser

import (
	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"

	kerr "kite/pkg/errors"
)

// Float must precede Int so "1.5", ".5" and "1e9" lex as one float
// token; a bare run of digits then falls through to Int.
var kiteLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Comment", Pattern: `//[^\n]*`},
	{Name: "Whitespace", Pattern: `[\s]+`},
	{Name: "Float", Pattern: `[0-9]+\.[0-9]*([eE][+-]?[0-9]+)?|\.[0-9]+([eE][+-]?[0-9]+)?|[0-9]+[eE][+-]?[0-9]+`},
	{Name: "Int", Pattern: `[0-9]+`},
	{Name: "Ident", Pattern: `[a-zA-Z_][a-zA-Z0-9_]*`},
	{Name: "Punct", Pattern: `->|==|!=|<=|>=|[-+*/%=<>(){}\[\],;]`},
})

// Lookahead 2 disambiguates calls from variables (Ident "(") and
// assignment heads inside for-clauses.
var kiteParser = participle.MustBuild[Module](
	participle.Lexer(kiteLexer),
	participle.Elide("Whitespace", "Comment"),
	participle.UseLookahead(2),
)

// Parse parses a whole module. The filename is used in positions only.
func Parse(filename, src string) (*Module, error) {
	mod, err := kiteParser.ParseString(filename, src)
	if err != nil {
		return nil, kerr.Syntaxf("%s", err.Error())
	}
	return mod, nil
}
