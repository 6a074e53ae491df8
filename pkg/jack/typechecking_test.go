package jack_test

import (
	"testing"

	"its-hmny.dev/nand2tetris/pkg/jack"
)

func TestTypeCheckerCheck(t *testing.T) {
	t.Run("Nil program is an error", func(t *testing.T) {
		checker := jack.NewTypeChecker(nil)
		if ok, err := checker.Check(); ok || err == nil {
			t.Error("expected an error for a nil program, got none")
		}
	})

	t.Run("Well-typed class passes", func(t *testing.T) {
		program := jack.Program{
			"Main": jack.Class{
				Name: "Main",
				Subroutines: subroutinesOf(jack.Subroutine{
					Name:   "main",
					Type:   jack.Function,
					Return: jack.Int,
					Statements: []jack.Statement{
						jack.VarStmt{Vars: []jack.Variable{{Name: "x", Type: jack.Local, DataType: jack.Int}}},
						jack.LetStmt{Lhs: jack.VarExpr{Var: "x"}, Rhs: jack.LiteralExpr{Type: jack.Int, Value: "1"}},
						jack.ReturnStmt{Expr: jack.VarExpr{Var: "x"}},
					},
				}),
			},
		}

		checker := jack.NewTypeChecker(program)
		if ok, err := checker.Check(); !ok || err != nil {
			t.Fatalf("expected a well-typed program to pass, got ok=%v err=%v", ok, err)
		}
	})

	t.Run("Assigning a bool to an int variable is an error", func(t *testing.T) {
		program := jack.Program{
			"Main": jack.Class{
				Name: "Main",
				Subroutines: subroutinesOf(jack.Subroutine{
					Name:   "main",
					Type:   jack.Function,
					Return: jack.Void,
					Statements: []jack.Statement{
						jack.VarStmt{Vars: []jack.Variable{{Name: "x", Type: jack.Local, DataType: jack.Int}}},
						jack.LetStmt{Lhs: jack.VarExpr{Var: "x"}, Rhs: jack.LiteralExpr{Type: jack.Bool, Value: "true"}},
						jack.ReturnStmt{},
					},
				}),
			},
		}

		checker := jack.NewTypeChecker(program)
		if ok, err := checker.Check(); ok || err == nil {
			t.Error("expected a type mismatch error, got none")
		}
	})

	t.Run("Null is assignable to any object-typed variable", func(t *testing.T) {
		program := jack.Program{
			"Main": jack.Class{
				Name: "Main",
				Subroutines: subroutinesOf(jack.Subroutine{
					Name:   "main",
					Type:   jack.Function,
					Return: jack.Void,
					Statements: []jack.Statement{
						jack.VarStmt{Vars: []jack.Variable{{Name: "obj", Type: jack.Local, DataType: jack.Object, ClassName: "Main"}}},
						jack.LetStmt{Lhs: jack.VarExpr{Var: "obj"}, Rhs: jack.LiteralExpr{Type: jack.Null, Value: "null"}},
						jack.ReturnStmt{},
					},
				}),
			},
		}

		checker := jack.NewTypeChecker(program)
		if ok, err := checker.Check(); !ok || err != nil {
			t.Fatalf("expected 'null' assignment to pass, got ok=%v err=%v", ok, err)
		}
	})

	t.Run("If condition must be a bool", func(t *testing.T) {
		program := jack.Program{
			"Main": jack.Class{
				Name: "Main",
				Subroutines: subroutinesOf(jack.Subroutine{
					Name:   "main",
					Type:   jack.Function,
					Return: jack.Void,
					Statements: []jack.Statement{
						jack.IfStmt{Condition: jack.LiteralExpr{Type: jack.Int, Value: "1"}},
					},
				}),
			},
		}

		checker := jack.NewTypeChecker(program)
		if ok, err := checker.Check(); ok || err == nil {
			t.Error("expected a non-bool if condition to be an error, got none")
		}
	})

	t.Run("Returning a value from a void subroutine is an error", func(t *testing.T) {
		program := jack.Program{
			"Main": jack.Class{
				Name: "Main",
				Subroutines: subroutinesOf(jack.Subroutine{
					Name:       "main",
					Type:       jack.Function,
					Return:     jack.Void,
					Statements: []jack.Statement{jack.ReturnStmt{Expr: jack.LiteralExpr{Type: jack.Int, Value: "1"}}},
				}),
			},
		}

		checker := jack.NewTypeChecker(program)
		if ok, err := checker.Check(); ok || err == nil {
			t.Error("expected a value-returning 'return' in a void subroutine to be an error, got none")
		}
	})

	t.Run("Binary arithmetic requires two ints", func(t *testing.T) {
		program := jack.Program{
			"Main": jack.Class{
				Name: "Main",
				Subroutines: subroutinesOf(jack.Subroutine{
					Name:   "main",
					Type:   jack.Function,
					Return: jack.Void,
					Statements: []jack.Statement{
						jack.DoStmt{FuncCall: jack.FuncCallExpr{
							FuncName: "helper",
							Arguments: []jack.Expression{
								jack.BinaryExpr{Type: jack.Plus, Lhs: jack.LiteralExpr{Type: jack.Int, Value: "1"}, Rhs: jack.LiteralExpr{Type: jack.Bool, Value: "true"}},
							},
						}},
					},
				}, jack.Subroutine{Name: "helper", Type: jack.Function, Return: jack.Void}),
			},
		}

		checker := jack.NewTypeChecker(program)
		if ok, err := checker.Check(); ok || err == nil {
			t.Error("expected a mixed-type 'plus' expression to be an error, got none")
		}
	})

	t.Run("Unqualified call resolves against the enclosing class", func(t *testing.T) {
		program := jack.Program{
			"Main": jack.Class{
				Name: "Main",
				Subroutines: subroutinesOf(
					jack.Subroutine{Name: "helper", Type: jack.Function, Return: jack.Int, Statements: []jack.Statement{jack.ReturnStmt{Expr: jack.LiteralExpr{Type: jack.Int, Value: "1"}}}},
					jack.Subroutine{
						Name:   "main",
						Type:   jack.Function,
						Return: jack.Int,
						Statements: []jack.Statement{
							jack.ReturnStmt{Expr: jack.FuncCallExpr{FuncName: "helper"}},
						},
					},
				),
			},
		}

		checker := jack.NewTypeChecker(program)
		if ok, err := checker.Check(); !ok || err != nil {
			t.Fatalf("expected the unqualified call to resolve, got ok=%v err=%v", ok, err)
		}
	})

	t.Run("Qualified call against the standard library resolves via the ABI table", func(t *testing.T) {
		program := jack.Program{
			"Main": jack.Class{
				Name: "Main",
				Subroutines: subroutinesOf(jack.Subroutine{
					Name:   "main",
					Type:   jack.Function,
					Return: jack.Int,
					Statements: []jack.Statement{
						jack.ReturnStmt{Expr: jack.FuncCallExpr{
							IsExtCall: true, Var: "Math", FuncName: "abs",
							Arguments: []jack.Expression{jack.LiteralExpr{Type: jack.Int, Value: "5"}},
						}},
					},
				}),
			},
		}

		checker := jack.NewTypeChecker(program)
		if ok, err := checker.Check(); !ok || err != nil {
			t.Fatalf("expected 'Math.abs' to resolve via the stdlib ABI, got ok=%v err=%v", ok, err)
		}
	})
}
