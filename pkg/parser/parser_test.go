package parser

import "testing"

func TestParseMinimalModule(t *testing.T) {
	mod, err := Parse("test.kite", `
// a comment
fn main() {
	print(1);
}
`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(mod.Funcs) != 1 || mod.Funcs[0].Name != "main" {
		t.Fatalf("unexpected module shape: %+v", mod)
	}
	if len(mod.Funcs[0].Params) != 0 {
		t.Errorf("main should have no params")
	}
}

func TestParseParamsAndReturnAnnotation(t *testing.T) {
	mod, err := Parse("test.kite", `fn add(a, b) -> int { return a + b; }`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	fn := mod.Funcs[0]
	if len(fn.Params) != 2 || fn.Params[0] != "a" || fn.Params[1] != "b" {
		t.Errorf("params = %v", fn.Params)
	}
	if fn.Ret != "int" {
		t.Errorf("ret annotation = %q", fn.Ret)
	}
}

func TestParsePrecedenceShape(t *testing.T) {
	// 2 + 3 * 4 must attach the * under the +.
	mod, err := Parse("test.kite", `fn main() { let x = 2 + 3 * 4; }`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	let := mod.Funcs[0].Body.Stmts[0].Let
	if let == nil {
		t.Fatalf("expected let statement")
	}
	add := let.Init.Left.Left
	if len(add.Rest) != 1 || add.Rest[0].Op != "+" {
		t.Fatalf("additive level: %+v", add)
	}
	if len(add.Rest[0].Right.Rest) != 1 || add.Rest[0].Right.Rest[0].Op != "*" {
		t.Errorf("* should nest under the right operand of +")
	}
}

func TestParseNumberKinds(t *testing.T) {
	mod, err := Parse("test.kite", `fn main() { let a = 17; let b = 2.5; let c = .5; let d = 1e3; }`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	stmts := mod.Funcs[0].Body.Stmts

	prim := func(i int) *Primary {
		return stmts[i].Let.Init.Left.Left.Left.Left.Post.Prim
	}
	if prim(0).Int == nil || *prim(0).Int != 17 {
		t.Errorf("17 should lex as an integer")
	}
	for i, want := range map[int]float64{1: 2.5, 2: 0.5, 3: 1000} {
		p := prim(i)
		if p.Float == nil || *p.Float != want {
			t.Errorf("stmt %d: want float %g, got %+v", i, want, p)
		}
	}
}

func TestParseControlFlow(t *testing.T) {
	_, err := Parse("test.kite", `
fn main() {
	let i = 0;
	while (1) {
		if (i >= 5) { break; } else { i = i + 1; }
		continue;
	}
	for (let j = 0; j < 3; j = j + 1) { print(j); }
	for (;;) { break; }
}
`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
}

func TestParseIndexingAndCalls(t *testing.T) {
	mod, err := Parse("test.kite", `
fn main() {
	let a = array(3);
	a[0] = 7;
	a[a[0]] = a[1] + len(a);
	print(a[0]);
}
`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	stmts := mod.Funcs[0].Body.Stmts
	assign := stmts[1].Simple
	if assign == nil || assign.Value == nil {
		t.Fatalf("a[0] = 7 should parse as an assignment")
	}
	if call := stmts[3].Simple; call == nil || call.Value != nil {
		t.Errorf("print(...) should parse as an expression statement")
	}
}

func TestParseUnaryMinus(t *testing.T) {
	mod, err := Parse("test.kite", `fn main() { let x = -5; let y = -x * 2; }`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	u := mod.Funcs[0].Body.Stmts[0].Let.Init.Left.Left.Left.Left
	if u.Minus == nil {
		t.Errorf("-5 should parse as unary minus")
	}
}

func TestParseErrors(t *testing.T) {
	cases := []string{
		`fn main() { let 5 = 3; }`,
		`fn main() { print(1) }`, // missing semicolon
		`fn main() {`,
		`fn 123() {}`,
	}
	for _, src := range cases {
		if _, err := Parse("test.kite", src); err == nil {
			t.Errorf("expected a syntax error for %q", src)
		}
	}
}
