package jack_test

import (
	"strings"
	"testing"

	"its-hmny.dev/nand2tetris/pkg/jack"
)

func TestTokenizerTokenize(t *testing.T) {
	t.Run("Keywords, identifiers and symbols", func(t *testing.T) {
		tok := jack.NewTokenizer()
		tokens, err := tok.Tokenize("class Main {")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		expected := []jack.Token{
			{Kind: jack.Keyword, Lexeme: "class", Line: 1},
			{Kind: jack.Identifier, Lexeme: "Main", Line: 1},
			{Kind: jack.Symbol, Lexeme: "{", Line: 1},
		}
		assertTokens(t, tokens, expected)
	})

	t.Run("Integer and string constants", func(t *testing.T) {
		tok := jack.NewTokenizer()
		tokens, err := tok.Tokenize(`let x = 42; let s = "hello world";`)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if tokens[3] != (jack.Token{Kind: jack.IntegerConstant, Lexeme: "42", Line: 1}) {
			t.Errorf("expected integer constant '42', got %+v", tokens[3])
		}

		var found bool
		for _, tk := range tokens {
			if tk.Kind == jack.StringConstant && tk.Lexeme == "hello world" {
				found = true
			}
		}
		if !found {
			t.Errorf("expected to find string constant 'hello world', got %+v", tokens)
		}
	})

	t.Run("XML-escaped symbols", func(t *testing.T) {
		tok := jack.NewTokenizer()
		tokens, err := tok.Tokenize("if (x < y & z > 0)")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		var lexemes []string
		for _, tk := range tokens {
			if tk.Kind == jack.Symbol {
				lexemes = append(lexemes, tk.Lexeme)
			}
		}

		expected := []string{"(", "&lt;", "&amp;", "&gt;", ")"}
		if strings.Join(lexemes, ",") != strings.Join(expected, ",") {
			t.Errorf("expected symbols %v, got %v", expected, lexemes)
		}
	})

	t.Run("Single line comment is stripped", func(t *testing.T) {
		tok := jack.NewTokenizer()
		tokens, err := tok.Tokenize("let x = 1; // assigns one")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(tokens) != 5 {
			t.Errorf("expected 5 tokens (comment stripped), got %d: %+v", len(tokens), tokens)
		}
	})

	t.Run("Block comment spanning multiple lines", func(t *testing.T) {
		tok := jack.NewTokenizer()

		first, err := tok.Tokenize("let x = 1; /* start of a")
		if err != nil {
			t.Fatalf("unexpected error on first line: %v", err)
		}
		if len(first) != 5 {
			t.Errorf("expected 5 tokens before the comment opens, got %d", len(first))
		}

		middle, err := tok.Tokenize("  long comment that keeps going")
		if err != nil {
			t.Fatalf("unexpected error on comment line: %v", err)
		}
		if len(middle) != 0 {
			t.Errorf("expected no tokens while inside a block comment, got %+v", middle)
		}

		last, err := tok.Tokenize("*/ let y = 2;")
		if err != nil {
			t.Fatalf("unexpected error on closing line: %v", err)
		}
		if len(last) != 5 {
			t.Errorf("expected 5 tokens after the comment closes, got %d: %+v", len(last), last)
		}
	})

	t.Run("Integer constant over the maximum is an error", func(t *testing.T) {
		tok := jack.NewTokenizer()
		if _, err := tok.Tokenize("let x = 99999;"); err == nil {
			t.Error("expected an error for an integer constant above 32767, got none")
		}
	})

	t.Run("Unterminated string literal is an error", func(t *testing.T) {
		tok := jack.NewTokenizer()
		if _, err := tok.Tokenize(`let s = "unterminated`); err == nil {
			t.Error("expected an error for a string that never closes, got none")
		}
	})

	t.Run("Dangling end-of-block-comment marker is an error", func(t *testing.T) {
		tok := jack.NewTokenizer()
		if _, err := tok.Tokenize("*/ let x = 1;"); err == nil {
			t.Error("expected an error for '*/' without a matching '/*', got none")
		}
	})

	t.Run("Identifier starting with a digit is an error", func(t *testing.T) {
		tok := jack.NewTokenizer()
		if _, err := tok.Tokenize("let 3x = 1;"); err == nil {
			t.Error("expected an error for an identifier starting with a digit, got none")
		}
	})
}

func TestTokenizerTokenizeAll(t *testing.T) {
	source := "class Main {\n  function void main() {\n    return;\n  }\n}\n"

	tokens, err := jack.NewTokenizer().TokenizeAll(strings.NewReader(source))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(tokens) == 0 {
		t.Fatal("expected at least one token")
	}
	if tokens[0].Lexeme != "class" || tokens[len(tokens)-1].Lexeme != "}" {
		t.Errorf("unexpected first/last token: %+v ... %+v", tokens[0], tokens[len(tokens)-1])
	}
}

func assertTokens(t *testing.T, got, expected []jack.Token) {
	t.Helper()
	if len(got) != len(expected) {
		t.Fatalf("expected %d tokens, got %d: %+v", len(expected), len(got), got)
	}
	for i := range expected {
		if got[i] != expected[i] {
			t.Errorf("token %d: expected %+v, got %+v", i, expected[i], got[i])
		}
	}
}
