package jack

import "fmt"

// The TypeChecker walks a 'jack.Program' once, ahead of lowering, so that type errors
// surface with their own diagnostic instead of turning into a confusing codegen failure.
//
// It shares the DFS shape of the Lowerer (and its ScopeTable) but produces no vm.Operation(s),
// it only infers/validates the DataType of every expression and statement it visits.
type TypeChecker struct {
	program Program
	scopes  ScopeTable
}

func NewTypeChecker(program Program) TypeChecker {
	return TypeChecker{program: program}
}

func (tc *TypeChecker) Check() (bool, error) {
	if tc.program == nil {
		return false, fmt.Errorf("the given 'program' is empty or nil")
	}

	for name, class := range tc.program {
		if _, err := tc.HandleClass(class); err != nil {
			return false, fmt.Errorf("error type-checking class '%s': %w", name, err)
		}
	}

	return true, nil
}

// Specialized function to type-check a 'jack.Class' and nested fields.
func (tc *TypeChecker) HandleClass(class Class) (bool, error) {
	tc.scopes.PushClassScope(class.Name)
	defer tc.scopes.PopClassScope()

	for _, field := range class.Fields.Entries() {
		tc.scopes.RegisterVariable(field)
	}

	for _, subroutine := range class.Subroutines.Entries() {
		if _, err := tc.HandleSubroutine(subroutine); err != nil {
			return false, fmt.Errorf("error type-checking subroutine '%s' in class '%s': %w", subroutine.Name, class.Name, err)
		}
	}

	return true, nil
}

// Specialized function to type-check a 'jack.Subroutine' and nested fields.
func (tc *TypeChecker) HandleSubroutine(subroutine Subroutine) (bool, error) {
	tc.scopes.PushSubRoutineScope(subroutine.Name)
	defer tc.scopes.PopSubroutineScope()

	if subroutine.Type == Method {
		tc.scopes.RegisterVariable(Variable{Name: "__obj", Type: Parameter, DataType: Object})
	}

	for _, arg := range subroutine.Arguments.Entries() {
		tc.scopes.RegisterVariable(arg)
	}

	for _, stmt := range subroutine.Statements {
		if err := tc.HandleStatement(stmt, subroutine.Return); err != nil {
			return false, fmt.Errorf("error type-checking statement %T: %w", stmt, err)
		}
	}

	return true, nil
}

// Generalized function to type-check multiple statement types. 'want' is the enclosing
// subroutine's declared return type, only consulted by ReturnStmt.
func (tc *TypeChecker) HandleStatement(stmt Statement, want DataType) error {
	switch tStmt := stmt.(type) {
	case DoStmt:
		_, err := tc.HandleExpression(tStmt.FuncCall)
		return err

	case VarStmt:
		for _, variable := range tStmt.Vars {
			tc.scopes.RegisterVariable(variable)
		}
		return nil

	case LetStmt:
		rhsType, err := tc.HandleExpression(tStmt.Rhs)
		if err != nil {
			return fmt.Errorf("error type-checking RHS expression: %w", err)
		}

		switch lhs := tStmt.Lhs.(type) {
		case VarExpr:
			_, variable, err := tc.scopes.ResolveVariable(lhs.Var)
			if err != nil {
				return fmt.Errorf("error resolving LHS variable '%s': %w", lhs.Var, err)
			}
			if variable.DataType != rhsType && variable.DataType != Object && rhsType != Null {
				return fmt.Errorf("cannot assign value of type '%s' to variable '%s' of type '%s'", rhsType, lhs.Var, variable.DataType)
			}
			return nil
		case ArrayExpr:
			if _, err := tc.HandleExpression(lhs); err != nil {
				return fmt.Errorf("error type-checking array LHS: %w", err)
			}
			return nil
		default:
			return fmt.Errorf("LHS expression must be either a 'VarExpr' or an 'ArrayExpr', got: %T", tStmt.Lhs)
		}

	case IfStmt:
		condType, err := tc.HandleExpression(tStmt.Condition)
		if err != nil {
			return fmt.Errorf("error type-checking if condition: %w", err)
		}
		if condType != Bool {
			return fmt.Errorf("if condition must be of type 'bool', got '%s'", condType)
		}
		for _, s := range tStmt.ThenBlock {
			if err := tc.HandleStatement(s, want); err != nil {
				return err
			}
		}
		for _, s := range tStmt.ElseBlock {
			if err := tc.HandleStatement(s, want); err != nil {
				return err
			}
		}
		return nil

	case WhileStmt:
		condType, err := tc.HandleExpression(tStmt.Condition)
		if err != nil {
			return fmt.Errorf("error type-checking while condition: %w", err)
		}
		if condType != Bool {
			return fmt.Errorf("while condition must be of type 'bool', got '%s'", condType)
		}
		for _, s := range tStmt.Block {
			if err := tc.HandleStatement(s, want); err != nil {
				return err
			}
		}
		return nil

	case ReturnStmt:
		if tStmt.Expr == nil {
			if want != Void {
				return fmt.Errorf("subroutine declared to return '%s' but 'return' has no expression", want)
			}
			return nil
		}
		if want == Void {
			return fmt.Errorf("subroutine declared 'void' cannot 'return' a value")
		}
		_, err := tc.HandleExpression(tStmt.Expr)
		return err

	default:
		return fmt.Errorf("unrecognized statement: %T", stmt)
	}
}

// Generalized function to infer the DataType produced by evaluating 'expr'.
func (tc *TypeChecker) HandleExpression(expr Expression) (DataType, error) {
	switch tExpr := expr.(type) {
	case VarExpr:
		if tExpr.Var == "this" {
			return Object, nil
		}
		_, variable, err := tc.scopes.ResolveVariable(tExpr.Var)
		if err != nil {
			return "", fmt.Errorf("error resolving variable '%s': %w", tExpr.Var, err)
		}
		return variable.DataType, nil

	case LiteralExpr:
		return tExpr.Type, nil

	case ArrayExpr:
		if _, _, err := tc.scopes.ResolveVariable(tExpr.Var); err != nil {
			return "", fmt.Errorf("error resolving array variable '%s': %w", tExpr.Var, err)
		}
		if _, err := tc.HandleExpression(tExpr.Index); err != nil {
			return "", fmt.Errorf("error type-checking array index: %w", err)
		}
		// Jack arrays are untyped (a raw block of words), element access can produce any type.
		return Int, nil

	case UnaryExpr:
		rhsType, err := tc.HandleExpression(tExpr.Rhs)
		if err != nil {
			return "", fmt.Errorf("error type-checking unary operand: %w", err)
		}
		switch tExpr.Type {
		case Minus:
			if rhsType != Int {
				return "", fmt.Errorf("unary '-' requires an 'int' operand, got '%s'", rhsType)
			}
			return Int, nil
		case BoolNot:
			if rhsType != Bool {
				return "", fmt.Errorf("unary '~' requires a 'bool' operand, got '%s'", rhsType)
			}
			return Bool, nil
		default:
			return "", fmt.Errorf("unrecognized unary expression type: %s", tExpr.Type)
		}

	case BinaryExpr:
		return tc.HandleBinaryExpr(tExpr)

	case FuncCallExpr:
		return tc.HandleFuncCallExpr(tExpr)

	default:
		return "", fmt.Errorf("unrecognized expression: %T", expr)
	}
}

func (tc *TypeChecker) HandleBinaryExpr(expression BinaryExpr) (DataType, error) {
	lhsType, err := tc.HandleExpression(expression.Lhs)
	if err != nil {
		return "", fmt.Errorf("error type-checking LHS operand: %w", err)
	}
	rhsType, err := tc.HandleExpression(expression.Rhs)
	if err != nil {
		return "", fmt.Errorf("error type-checking RHS operand: %w", err)
	}

	switch expression.Type {
	case Plus, Minus, Divide, Multiply:
		if lhsType != Int || rhsType != Int {
			return "", fmt.Errorf("operator '%s' requires two 'int' operands, got '%s' and '%s'", expression.Type, lhsType, rhsType)
		}
		return Int, nil
	case BoolOr, BoolAnd:
		if lhsType != Bool || rhsType != Bool {
			return "", fmt.Errorf("operator '%s' requires two 'bool' operands, got '%s' and '%s'", expression.Type, lhsType, rhsType)
		}
		return Bool, nil
	case LessThan, GreatThan:
		if lhsType != Int || rhsType != Int {
			return "", fmt.Errorf("operator '%s' requires two 'int' operands, got '%s' and '%s'", expression.Type, lhsType, rhsType)
		}
		return Bool, nil
	case Equal:
		return Bool, nil // Equality is allowed across any pair of types, including 'null' checks
	default:
		return "", fmt.Errorf("unrecognized binary expression type: %s", expression.Type)
	}
}

// Resolves (className, funcName) against either the program under check or the
// standard library ABI table, mirroring how the Lowerer decides dispatch at the call site.
func (tc *TypeChecker) resolveCallable(className, funcName string) (Subroutine, bool) {
	if class, exists := tc.program[className]; exists {
		return class.Subroutines.Get(funcName)
	}
	if class, exists := StandardLibraryABI[className]; exists {
		return class.Subroutines.Get(funcName)
	}
	return Subroutine{}, false
}

func (tc *TypeChecker) HandleFuncCallExpr(expression FuncCallExpr) (DataType, error) {
	for _, arg := range expression.Arguments {
		if _, err := tc.HandleExpression(arg); err != nil {
			return "", fmt.Errorf("error type-checking call argument: %w", err)
		}
	}

	if !expression.IsExtCall {
		className := tc.scopes.GetScope()
		if idx := indexOfDot(className); idx >= 0 {
			className = className[:idx]
		}
		routine, exists := tc.resolveCallable(className, expression.FuncName)
		if !exists {
			return "", fmt.Errorf("subroutine '%s' not found in class '%s'", expression.FuncName, className)
		}
		return routine.Return, nil
	}

	if _, variable, err := tc.scopes.ResolveVariable(expression.Var); err == nil {
		if variable.DataType != Object {
			return "", fmt.Errorf("variable '%s' is not an object, cannot call '%s' on it", expression.Var, expression.FuncName)
		}
		routine, exists := tc.resolveCallable(variable.ClassName, expression.FuncName)
		if !exists {
			return "", fmt.Errorf("method '%s' not found on class '%s'", expression.FuncName, variable.ClassName)
		}
		return routine.Return, nil
	}

	routine, exists := tc.resolveCallable(expression.Var, expression.FuncName)
	if !exists {
		return "", fmt.Errorf("subroutine '%s' not found in class '%s'", expression.FuncName, expression.Var)
	}
	return routine.Return, nil
}

func indexOfDot(s string) int {
	for i, r := range s {
		if r == '.' {
			return i
		}
	}
	return -1
}
