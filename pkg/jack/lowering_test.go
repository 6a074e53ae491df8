package jack_test

import (
	"testing"

	"its-hmny.dev/nand2tetris/pkg/jack"
	"its-hmny.dev/nand2tetris/pkg/utils"
	"its-hmny.dev/nand2tetris/pkg/vm"
)

func subroutinesOf(subroutines ...jack.Subroutine) utils.OrderedMap[string, jack.Subroutine] {
	om := utils.OrderedMap[string, jack.Subroutine]{}
	for _, s := range subroutines {
		om.Set(s.Name, s)
	}
	return om
}

func fieldsOf(fields ...jack.Variable) utils.OrderedMap[string, jack.Variable] {
	om := utils.OrderedMap[string, jack.Variable]{}
	for _, f := range fields {
		om.Set(f.Name, f)
	}
	return om
}

func TestLowererLowerer(t *testing.T) {
	t.Run("Empty program is an error", func(t *testing.T) {
		lowerer := jack.NewLowerer(jack.Program{})
		if _, err := lowerer.Lowerer(); err == nil {
			t.Error("expected an error for an empty program, got none")
		}
	})

	t.Run("Function with no locals and a constant return", func(t *testing.T) {
		program := jack.Program{
			"Main": jack.Class{
				Name: "Main",
				Subroutines: subroutinesOf(jack.Subroutine{
					Name:   "main",
					Type:   jack.Function,
					Return: jack.Void,
					Statements: []jack.Statement{
						jack.ReturnStmt{},
					},
				}),
			},
		}

		lowerer := jack.NewLowerer(program)
		result, err := lowerer.Lowerer()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		module, exists := result["Main"]
		if !exists {
			t.Fatal("expected a 'Main' module in the result")
		}

		expected := []vm.Operation{
			vm.FuncDecl{Name: "Main.main", NLocal: 0},
			vm.MemoryOp{Operation: vm.Push, Segment: vm.Constant, Offset: 0},
			vm.ReturnOp{},
		}
		assertOperations(t, []vm.Operation(module), expected)
	})

	t.Run("Constructor allocates memory for its fields", func(t *testing.T) {
		program := jack.Program{
			"Point": jack.Class{
				Name: "Point",
				Fields: fieldsOf(
					jack.Variable{Name: "x", Type: jack.Field, DataType: jack.Int},
					jack.Variable{Name: "y", Type: jack.Field, DataType: jack.Int},
				),
				Subroutines: subroutinesOf(jack.Subroutine{
					Name:   "new",
					Type:   jack.Constructor,
					Return: jack.Object,
					Statements: []jack.Statement{
						jack.ReturnStmt{Expr: jack.VarExpr{Var: "this"}},
					},
				}),
			},
		}

		lowerer := jack.NewLowerer(program)
		result, err := lowerer.Lowerer()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		module := result["Point"]
		expected := []vm.Operation{
			vm.FuncDecl{Name: "Point.new", NLocal: 0},
			vm.MemoryOp{Operation: vm.Push, Segment: vm.Constant, Offset: 2},
			vm.FuncCallOp{Name: "Memory.alloc", NArgs: 1},
			vm.MemoryOp{Operation: vm.Pop, Segment: vm.Pointer, Offset: 0},
			vm.MemoryOp{Operation: vm.Push, Segment: vm.Pointer, Offset: 0},
			vm.ReturnOp{},
		}
		assertOperations(t, []vm.Operation(module), expected)
	})

	t.Run("Method prelude sets the 'this' pointer from argument 0", func(t *testing.T) {
		program := jack.Program{
			"Point": jack.Class{
				Name:   "Point",
				Fields: fieldsOf(jack.Variable{Name: "x", Type: jack.Field, DataType: jack.Int}),
				Subroutines: subroutinesOf(jack.Subroutine{
					Name:   "getX",
					Type:   jack.Method,
					Return: jack.Int,
					Statements: []jack.Statement{
						jack.ReturnStmt{Expr: jack.VarExpr{Var: "x"}},
					},
				}),
			},
		}

		lowerer := jack.NewLowerer(program)
		result, err := lowerer.Lowerer()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		module := result["Point"]
		expected := []vm.Operation{
			vm.FuncDecl{Name: "Point.getX", NLocal: 0},
			vm.MemoryOp{Operation: vm.Push, Segment: vm.Argument, Offset: 0},
			vm.MemoryOp{Operation: vm.Pop, Segment: vm.Pointer, Offset: 0},
			vm.MemoryOp{Operation: vm.Push, Segment: vm.This, Offset: 0},
			vm.ReturnOp{},
		}
		assertOperations(t, []vm.Operation(module), expected)
	})

	t.Run("If/else statement emits class-scoped labels", func(t *testing.T) {
		program := jack.Program{
			"Main": jack.Class{
				Name: "Main",
				Subroutines: subroutinesOf(jack.Subroutine{
					Name:   "main",
					Type:   jack.Function,
					Return: jack.Void,
					Statements: []jack.Statement{
						jack.IfStmt{
							Condition: jack.LiteralExpr{Type: jack.Bool, Value: "true"},
							ThenBlock: []jack.Statement{jack.ReturnStmt{}},
							ElseBlock: []jack.Statement{jack.ReturnStmt{}},
						},
					},
				}),
			},
		}

		lowerer := jack.NewLowerer(program)
		result, err := lowerer.Lowerer()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		module := result["Main"]
		var sawElse0, sawEnd0 bool
		for _, op := range module {
			if decl, ok := op.(vm.LabelDecl); ok {
				switch decl.Name {
				case "IF_ELSE0":
					sawElse0 = true
				case "IF_END0":
					sawEnd0 = true
				}
			}
		}
		if !sawElse0 || !sawEnd0 {
			t.Errorf("expected labels 'IF_ELSE0' and 'IF_END0' in %+v", module)
		}

		// The 'true' condition must lower to 'push constant 1; neg' (-1), not plain 'push constant 1' (+1),
		// otherwise negating it for the 'if-goto' check picks the wrong branch.
		condition := []vm.Operation{
			vm.MemoryOp{Operation: vm.Push, Segment: vm.Constant, Offset: 1},
			vm.ArithmeticOp{Operation: vm.Neg},
		}
		assertOperations(t, module[1:3], condition)
	})

	t.Run("Boolean and null literals lower to their VM constant representation", func(t *testing.T) {
		program := jack.Program{
			"Main": jack.Class{
				Name: "Main",
				Subroutines: subroutinesOf(jack.Subroutine{
					Name:   "main",
					Type:   jack.Function,
					Return: jack.Void,
					Statements: []jack.Statement{
						jack.DoStmt{FuncCall: jack.FuncCallExpr{FuncName: "helper", Arguments: []jack.Expression{
							jack.LiteralExpr{Type: jack.Bool, Value: "true"},
							jack.LiteralExpr{Type: jack.Bool, Value: "false"},
							jack.LiteralExpr{Type: jack.Null, Value: "null"},
						}}},
						jack.ReturnStmt{},
					},
				}, jack.Subroutine{Name: "helper", Type: jack.Function, Return: jack.Void}),
			},
		}

		lowerer := jack.NewLowerer(program)
		result, err := lowerer.Lowerer()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		module := result["Main"]
		expected := []vm.Operation{
			vm.FuncDecl{Name: "Main.main", NLocal: 0},
			vm.MemoryOp{Operation: vm.Push, Segment: vm.Constant, Offset: 1},
			vm.ArithmeticOp{Operation: vm.Neg},                               // true -> push constant 1; neg
			vm.MemoryOp{Operation: vm.Push, Segment: vm.Constant, Offset: 0}, // false -> push constant 0
			vm.MemoryOp{Operation: vm.Push, Segment: vm.Constant, Offset: 0}, // null -> push constant 0
			vm.FuncCallOp{Name: "Main.helper", NArgs: 3},
			vm.MemoryOp{Operation: vm.Pop, Segment: vm.Temp, Offset: 0},
			vm.MemoryOp{Operation: vm.Push, Segment: vm.Constant, Offset: 0},
			vm.ReturnOp{},
		}
		assertOperations(t, []vm.Operation(module), expected)
	})

	t.Run("Array access pushes the base address before the index", func(t *testing.T) {
		program := jack.Program{
			"Main": jack.Class{
				Name: "Main",
				Subroutines: subroutinesOf(jack.Subroutine{
					Name:      "main",
					Type:      jack.Function,
					Return:    jack.Int,
					Arguments: fieldsOf(jack.Variable{Name: "a", Type: jack.Parameter, DataType: jack.Object, ClassName: "Array"}),
					Statements: []jack.Statement{
						jack.ReturnStmt{Expr: jack.ArrayExpr{Var: "a", Index: jack.LiteralExpr{Type: jack.Int, Value: "1"}}},
					},
				}),
			},
		}

		lowerer := jack.NewLowerer(program)
		result, err := lowerer.Lowerer()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		module := result["Main"]
		expected := []vm.Operation{
			vm.FuncDecl{Name: "Main.main", NLocal: 0},
			vm.MemoryOp{Operation: vm.Push, Segment: vm.Argument, Offset: 0}, // base ('a') first
			vm.MemoryOp{Operation: vm.Push, Segment: vm.Constant, Offset: 1}, // then the index
			vm.ArithmeticOp{Operation: vm.Add},
			vm.MemoryOp{Operation: vm.Pop, Segment: vm.Pointer, Offset: 1},
			vm.MemoryOp{Operation: vm.Push, Segment: vm.That, Offset: 0},
			vm.ReturnOp{},
		}
		assertOperations(t, []vm.Operation(module), expected)
	})

	t.Run("Unqualified call to a method prepends the implicit 'this' argument", func(t *testing.T) {
		program := jack.Program{
			"Main": jack.Class{
				Name: "Main",
				Subroutines: subroutinesOf(
					jack.Subroutine{Name: "helper", Type: jack.Method, Return: jack.Void, Statements: []jack.Statement{jack.ReturnStmt{}}},
					jack.Subroutine{
						Name:   "run",
						Type:   jack.Method,
						Return: jack.Void,
						Statements: []jack.Statement{
							jack.DoStmt{FuncCall: jack.FuncCallExpr{FuncName: "helper"}},
							jack.ReturnStmt{},
						},
					},
				),
			},
		}

		lowerer := jack.NewLowerer(program)
		result, err := lowerer.Lowerer()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		module := result["Main"]
		var found bool
		for _, op := range module {
			if call, ok := op.(vm.FuncCallOp); ok && call.Name == "Main.helper" {
				if call.NArgs != 1 {
					t.Errorf("expected the implicit 'this' argument to bring NArgs to 1, got %d", call.NArgs)
				}
				found = true
			}
		}
		if !found {
			t.Errorf("expected a call to 'Main.helper' in %+v", module)
		}
	})
}

func assertOperations(t *testing.T, got, expected []vm.Operation) {
	t.Helper()
	if len(got) != len(expected) {
		t.Fatalf("expected %d operations, got %d: %+v", len(expected), len(got), got)
	}
	for i := range expected {
		if got[i] != expected[i] {
			t.Errorf("operation %d: expected %+v, got %+v", i, expected[i], got[i])
		}
	}
}
