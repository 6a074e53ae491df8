package vm

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"its-hmny.dev/nand2tetris/pkg/asm"
)

// Builds the Asm prelude that a full program (as opposed to a single translated module)
// needs ahead of everything else: set the Stack Pointer to its base address (256, right
// past the 16 VM-reserved registers) and call 'Sys.init' with the regular calling
// convention, exactly as if a VM module had done it itself.
func Bootstrap() asm.Program {
	setSP := []asm.Instruction{
		asm.AInstruction{Location: "256"},
		asm.CInstruction{Dest: "D", Comp: "A"},
		asm.AInstruction{Location: "SP"},
		asm.CInstruction{Dest: "M", Comp: "D"},
	}

	lowerer := newModuleLowerer("Bootstrap")
	call, err := lowerer.HandleFuncCallOp(FuncCallOp{Name: "Sys.init", NArgs: 0})
	if err != nil { // unreachable: 'Sys.init' is a well formed, non-empty call
		panic(err)
	}

	return append(setSP, call...)
}

// ----------------------------------------------------------------------------
// Vm Lowerer

// The Lowerer takes a 'vm.Program' (one or more parsed modules) and produces its
// 'asm.Program' counterpart.
//
// Since each module is just a linear sequence of operations, lowering walks it top to
// bottom emitting (for every operation) the fixed Hack assembly snippet that implements
// it, much like the 'asm.Lowerer' and 'hack.CodeGenerator' before it in the pipeline.
// Modules are processed in lexicographic order of their name so that the output is
// deterministic regardless of map iteration order, and each module gets its own label
// counter (shared between comparisons and call return-addresses) and its own "current
// function" tracking, exactly as the reference VM translator resets them per file.
type Lowerer struct{ program Program }

// Initializes and returns to the caller a brand new 'Lowerer' struct.
// Requires the argument Program 'p' to be not nil nor empty.
func NewLowerer(p Program) Lowerer {
	return Lowerer{program: p}
}

// Triggers the lowering process, one module at a time, in deterministic (sorted by
// module name) order. Returns the concatenation of every module's lowered instructions
// as a single flat 'asm.Program', ready for the Asm code generator.
func (l *Lowerer) Lower() (asm.Program, error) {
	if len(l.program) == 0 {
		return nil, fmt.Errorf("the given 'program' is empty")
	}

	names := make([]string, 0, len(l.program))
	for name := range l.program {
		names = append(names, name)
	}
	sort.Strings(names)

	out := asm.Program{}
	for _, name := range names {
		moduleName := strings.TrimSuffix(name, ".vm")
		lowerer := newModuleLowerer(moduleName)

		for _, op := range l.program[name] {
			instrs, err := lowerer.Handle(op)
			if err != nil {
				return nil, fmt.Errorf("module '%s': %w", name, err)
			}
			out = append(out, instrs...)
		}
	}

	return out, nil
}

// ----------------------------------------------------------------------------
// Per module lowering state

// Carries the bits of state that the reference VM translator keeps across a single
// file's worth of operations: the file name (for static variable naming), the name of
// the function currently being lowered (for label mangling) and a counter shared by
// comparison operations and call return-address labels (both need a value that is
// unique within the file and strictly increasing).
type moduleLowerer struct {
	file     string
	function string
	counter  uint16
}

func newModuleLowerer(file string) *moduleLowerer {
	return &moduleLowerer{file: file}
}

// Dispatches a single VM operation to its specialized Handle* method.
func (ml *moduleLowerer) Handle(op Operation) ([]asm.Instruction, error) {
	switch tOp := op.(type) {
	case MemoryOp:
		return ml.HandleMemoryOp(tOp)
	case ArithmeticOp:
		return ml.HandleArithmeticOp(tOp)
	case LabelDecl:
		return ml.HandleLabelDecl(tOp)
	case GotoOp:
		return ml.HandleGotoOp(tOp)
	case FuncDecl:
		return ml.HandleFuncDecl(tOp)
	case FuncCallOp:
		return ml.HandleFuncCallOp(tOp)
	case ReturnOp:
		return ml.HandleReturnOp(tOp)
	default:
		return nil, fmt.Errorf("unrecognized operation '%T'", op)
	}
}

// ----------------------------------------------------------------------------
// Shared stack <-> D register snippets

// Pops the stack's top into the D register, leaving SP pointing at the new top.
func stackToD() []asm.Instruction {
	return []asm.Instruction{
		asm.AInstruction{Location: "SP"},
		asm.CInstruction{Dest: "AM", Comp: "M-1"},
		asm.CInstruction{Dest: "D", Comp: "M"},
	}
}

// Pushes the D register onto the stack, leaving SP pointing one past the new top.
func dToStack() []asm.Instruction {
	return []asm.Instruction{
		asm.AInstruction{Location: "SP"},
		asm.CInstruction{Dest: "AM", Comp: "M+1"},
		asm.CInstruction{Dest: "A", Comp: "A-1"},
		asm.CInstruction{Dest: "M", Comp: "D"},
	}
}

// ----------------------------------------------------------------------------
// Memory Op

// Specialized function to lower a 'vm.MemoryOp' (push or pop) to its Asm counterpart.
func (ml *moduleLowerer) HandleMemoryOp(op MemoryOp) ([]asm.Instruction, error) {
	switch op.Operation {
	case Push:
		addrToD, err := ml.addrToD(op.Segment, op.Offset)
		if err != nil {
			return nil, err
		}
		return append(addrToD, dToStack()...), nil

	case Pop:
		return ml.pop(op.Segment, op.Offset)

	default:
		return nil, fmt.Errorf("unrecognized OperationType '%s'", op.Operation)
	}
}

// Generates the snippet that copies the value held at 'segment[offset]' into the D register.
func (ml *moduleLowerer) addrToD(segment SegmentType, offset uint16) ([]asm.Instruction, error) {
	switch segment {
	case Constant:
		return []asm.Instruction{
			asm.AInstruction{Location: strconv.FormatUint(uint64(offset), 10)},
			asm.CInstruction{Dest: "D", Comp: "A"},
		}, nil

	case Temp:
		if offset > 7 {
			return nil, fmt.Errorf("'temp' offset must be in [0,7], got %d", offset)
		}
		return []asm.Instruction{
			asm.AInstruction{Location: strconv.FormatUint(uint64(offset)+5, 10)},
			asm.CInstruction{Dest: "D", Comp: "M"},
		}, nil

	case Pointer:
		vs, err := pointerRegister(offset)
		if err != nil {
			return nil, err
		}
		return []asm.Instruction{
			asm.AInstruction{Location: vs},
			asm.CInstruction{Dest: "D", Comp: "M"},
		}, nil

	case Static:
		return []asm.Instruction{
			asm.AInstruction{Location: ml.staticLabel(offset)},
			asm.CInstruction{Dest: "D", Comp: "M"},
		}, nil

	case Local, Argument, This, That:
		vs := virtualSegmentRegister(segment)
		if offset == 0 {
			return []asm.Instruction{
				asm.AInstruction{Location: vs},
				asm.CInstruction{Dest: "A", Comp: "M"},
				asm.CInstruction{Dest: "D", Comp: "M"},
			}, nil
		}
		return []asm.Instruction{
			asm.AInstruction{Location: strconv.FormatUint(uint64(offset), 10)},
			asm.CInstruction{Dest: "D", Comp: "A"},
			asm.AInstruction{Location: vs},
			asm.CInstruction{Dest: "A", Comp: "D+M"},
			asm.CInstruction{Dest: "D", Comp: "M"},
		}, nil

	default:
		return nil, fmt.Errorf("unrecognized SegmentType '%s'", segment)
	}
}

// Lowers a pop operation, the real segments (local, argument, this, that) need the
// target address computed (through R13) before the stack is touched, while the
// bookkeeping segments (temp, pointer, static) can be written to directly.
func (ml *moduleLowerer) pop(segment SegmentType, offset uint16) ([]asm.Instruction, error) {
	switch segment {
	case Temp, Pointer, Static:
		dToAddr, err := ml.dToAddr(segment, offset)
		if err != nil {
			return nil, err
		}
		return append(stackToD(), dToAddr...), nil

	case Local, Argument, This, That:
		addrToR13, err := ml.addrToR13(segment, offset)
		if err != nil {
			return nil, err
		}
		out := append(addrToR13, stackToD()...)
		return append(out,
			asm.AInstruction{Location: "R13"},
			asm.CInstruction{Dest: "A", Comp: "M"},
			asm.CInstruction{Dest: "M", Comp: "D"},
		), nil

	default:
		return nil, fmt.Errorf("unrecognized SegmentType '%s' for pop", segment)
	}
}

// Generates the snippet that copies the D register into 'segment[offset]', for the
// segments that don't need the R13 indirection (temp, pointer, static).
func (ml *moduleLowerer) dToAddr(segment SegmentType, offset uint16) ([]asm.Instruction, error) {
	switch segment {
	case Temp:
		if offset > 7 {
			return nil, fmt.Errorf("'temp' offset must be in [0,7], got %d", offset)
		}
		return []asm.Instruction{
			asm.AInstruction{Location: strconv.FormatUint(uint64(offset)+5, 10)},
			asm.CInstruction{Dest: "M", Comp: "D"},
		}, nil

	case Pointer:
		vs, err := pointerRegister(offset)
		if err != nil {
			return nil, err
		}
		return []asm.Instruction{
			asm.AInstruction{Location: vs},
			asm.CInstruction{Dest: "M", Comp: "D"},
		}, nil

	case Static:
		return []asm.Instruction{
			asm.AInstruction{Location: ml.staticLabel(offset)},
			asm.CInstruction{Dest: "M", Comp: "D"},
		}, nil

	default:
		return nil, fmt.Errorf("unrecognized SegmentType '%s'", segment)
	}
}

// Generates the snippet that resolves 'segment[offset]' to an address and stashes it
// in R13, used by pop on the real virtual segments ahead of popping the stack itself
// (the stack's top might otherwise clobber the address computation).
func (ml *moduleLowerer) addrToR13(segment SegmentType, offset uint16) ([]asm.Instruction, error) {
	vs := virtualSegmentRegister(segment)

	if offset == 0 {
		return []asm.Instruction{
			asm.AInstruction{Location: vs},
			asm.CInstruction{Dest: "D", Comp: "M"},
			asm.AInstruction{Location: "R13"},
			asm.CInstruction{Dest: "M", Comp: "D"},
		}, nil
	}

	return []asm.Instruction{
		asm.AInstruction{Location: strconv.FormatUint(uint64(offset), 10)},
		asm.CInstruction{Dest: "D", Comp: "A"},
		asm.AInstruction{Location: vs},
		asm.CInstruction{Dest: "D", Comp: "D+M"},
		asm.AInstruction{Location: "R13"},
		asm.CInstruction{Dest: "M", Comp: "D"},
	}, nil
}

func virtualSegmentRegister(segment SegmentType) string {
	switch segment {
	case Local:
		return "LCL"
	case Argument:
		return "ARG"
	case This:
		return "THIS"
	case That:
		return "THAT"
	default:
		return ""
	}
}

func pointerRegister(offset uint16) (string, error) {
	switch offset {
	case 0:
		return "THIS", nil
	case 1:
		return "THAT", nil
	default:
		return "", fmt.Errorf("'pointer' offset must be in [0,1], got %d", offset)
	}
}

func (ml *moduleLowerer) staticLabel(offset uint16) string {
	return fmt.Sprintf("%s.%d", ml.file, offset)
}

// ----------------------------------------------------------------------------
// Arithmetic Op

// Specialized function to lower a 'vm.ArithmeticOp' to its Asm counterpart.
func (ml *moduleLowerer) HandleArithmeticOp(op ArithmeticOp) ([]asm.Instruction, error) {
	switch op.Operation {
	case Add:
		return append(stackToD(), asm.CInstruction{Dest: "A", Comp: "A-1"}, asm.CInstruction{Dest: "M", Comp: "D+M"}), nil
	case Sub:
		return append(stackToD(), asm.CInstruction{Dest: "A", Comp: "A-1"}, asm.CInstruction{Dest: "M", Comp: "M-D"}), nil
	case Neg:
		return []asm.Instruction{
			asm.AInstruction{Location: "SP"},
			asm.CInstruction{Dest: "A", Comp: "M-1"},
			asm.CInstruction{Dest: "M", Comp: "-M"},
		}, nil
	case And:
		return append(stackToD(), asm.CInstruction{Dest: "A", Comp: "A-1"}, asm.CInstruction{Dest: "M", Comp: "D&M"}), nil
	case Or:
		return append(stackToD(), asm.CInstruction{Dest: "A", Comp: "A-1"}, asm.CInstruction{Dest: "M", Comp: "D|M"}), nil
	case Not:
		return []asm.Instruction{
			asm.AInstruction{Location: "SP"},
			asm.CInstruction{Dest: "A", Comp: "M-1"},
			asm.CInstruction{Dest: "M", Comp: "!M"},
		}, nil
	case Eq:
		return ml.comparison("JEQ")
	case Gt:
		return ml.comparison("JGT")
	case Lt:
		return ml.comparison("JLT")
	default:
		return nil, fmt.Errorf("unrecognized ArithOpType '%s'", op.Operation)
	}
}

// Generates the snippet for the 3 comparison operations (eq, gt, lt). The two operands
// are subtracted, then the sign of the result is tested against the jump condition to
// decide between pushing -1 (true) or 0 (false); TRUE__n/D_TO_STACK__n are local labels
// scoped by the module's counter, never seen outside this single comparison.
func (ml *moduleLowerer) comparison(jump string) ([]asm.Instruction, error) {
	n := ml.counter
	ml.counter++

	trueLabel := fmt.Sprintf("TRUE__%d", n)
	toStackLabel := fmt.Sprintf("D_TO_STACK__%d", n)

	out := stackToD()
	out = append(out,
		asm.CInstruction{Dest: "A", Comp: "A-1"},
		asm.CInstruction{Dest: "D", Comp: "M-D"},
		asm.AInstruction{Location: trueLabel},
		asm.CInstruction{Comp: "D", Jump: jump},
		asm.CInstruction{Dest: "D", Comp: "0"},
		asm.AInstruction{Location: toStackLabel},
		asm.CInstruction{Comp: "0", Jump: "JMP"},
		asm.LabelDecl{Name: trueLabel},
		asm.CInstruction{Dest: "D", Comp: "-1"},
		asm.LabelDecl{Name: toStackLabel},
		asm.AInstruction{Location: "SP"},
		asm.CInstruction{Dest: "A", Comp: "M-1"},
		asm.CInstruction{Dest: "M", Comp: "D"},
	)
	return out, nil
}

// ----------------------------------------------------------------------------
// Label Declaration & Jumps

// Mangles a VM-level label with the current file and function, so that two functions
// (in the same or different files) can freely reuse the same label name.
func (ml *moduleLowerer) mangle(label string) string {
	return fmt.Sprintf("%s.%s$%s", ml.file, ml.function, label)
}

func (ml *moduleLowerer) HandleLabelDecl(op LabelDecl) ([]asm.Instruction, error) {
	if op.Name == "" {
		return nil, fmt.Errorf("unable to lower an empty label declaration")
	}
	return []asm.Instruction{asm.LabelDecl{Name: ml.mangle(op.Name)}}, nil
}

func (ml *moduleLowerer) HandleGotoOp(op GotoOp) ([]asm.Instruction, error) {
	if op.Label == "" {
		return nil, fmt.Errorf("unable to lower a jump to an empty label")
	}

	switch op.Jump {
	case Unconditional:
		return []asm.Instruction{
			asm.AInstruction{Location: ml.mangle(op.Label)},
			asm.CInstruction{Comp: "0", Jump: "JMP"},
		}, nil
	case Conditional:
		out := stackToD()
		return append(out,
			asm.AInstruction{Location: ml.mangle(op.Label)},
			asm.CInstruction{Comp: "D", Jump: "JNE"},
		), nil
	default:
		return nil, fmt.Errorf("unrecognized JumpType '%s'", op.Jump)
	}
}

// ----------------------------------------------------------------------------
// Function Declaration, Call & Return

// Specialized function to lower a 'vm.FuncDecl' to its Asm counterpart: a label for the
// entrypoint followed by zero-initializing however many locals the function declares.
func (ml *moduleLowerer) HandleFuncDecl(op FuncDecl) ([]asm.Instruction, error) {
	if op.Name == "" {
		return nil, fmt.Errorf("unable to lower an empty function declaration")
	}

	ml.function = op.Name
	out := []asm.Instruction{asm.LabelDecl{Name: op.Name}}
	if op.NLocal == 0 {
		return out, nil
	}

	out = append(out, asm.AInstruction{Location: "SP"}, asm.CInstruction{Dest: "A", Comp: "M"})
	for i := uint16(0); i < op.NLocal; i++ {
		out = append(out, asm.CInstruction{Dest: "M", Comp: "0"}, asm.CInstruction{Dest: "A", Comp: "A+1"})
	}
	out = append(out,
		asm.AInstruction{Location: strconv.FormatUint(uint64(op.NLocal), 10)},
		asm.CInstruction{Dest: "D", Comp: "A"},
		asm.AInstruction{Location: "SP"},
		asm.CInstruction{Dest: "M", Comp: "D+M"},
	)
	return out, nil
}

// Specialized function to lower a 'vm.FuncCallOp' to its Asm counterpart: saves the
// caller's frame (return address + LCL/ARG/THIS/THAT) on the stack, repositions ARG and
// LCL for the callee and jumps into it. The return address is a fresh label scoped by
// the module's counter so repeated calls to the same function don't clash.
func (ml *moduleLowerer) HandleFuncCallOp(op FuncCallOp) ([]asm.Instruction, error) {
	if op.Name == "" {
		return nil, fmt.Errorf("unable to lower an empty function call")
	}

	n := ml.counter
	ml.counter++
	retLabel := fmt.Sprintf("%s$ret.%d", op.Name, n)

	out := []asm.Instruction{asm.AInstruction{Location: retLabel}, asm.CInstruction{Dest: "D", Comp: "A"}}
	out = append(out, dToStack()...)
	for _, reg := range []string{"LCL", "ARG", "THIS", "THAT"} {
		out = append(out, asm.AInstruction{Location: reg}, asm.CInstruction{Dest: "D", Comp: "M"})
		out = append(out, dToStack()...)
	}

	out = append(out,
		asm.AInstruction{Location: "5"},
		asm.CInstruction{Dest: "D", Comp: "A"},
		asm.AInstruction{Location: strconv.FormatUint(uint64(op.NArgs), 10)},
		asm.CInstruction{Dest: "D", Comp: "D+A"},
		asm.AInstruction{Location: "SP"},
		asm.CInstruction{Dest: "D", Comp: "M-D"},
		asm.AInstruction{Location: "ARG"},
		asm.CInstruction{Dest: "M", Comp: "D"},
		asm.AInstruction{Location: "SP"},
		asm.CInstruction{Dest: "D", Comp: "M"},
		asm.AInstruction{Location: "LCL"},
		asm.CInstruction{Dest: "M", Comp: "D"},
		asm.AInstruction{Location: op.Name},
		asm.CInstruction{Comp: "0", Jump: "JMP"},
		asm.LabelDecl{Name: retLabel},
	)
	return out, nil
}

// Specialized function to lower a 'vm.ReturnOp' to its Asm counterpart: recovers the
// return address, overwrites the caller's argument segment with the returned value,
// repositions SP just past it, restores THAT/THIS/ARG/LCL by walking the frame back from
// LCL, and finally jumps to the recovered return address.
func (ml *moduleLowerer) HandleReturnOp(ReturnOp) ([]asm.Instruction, error) {
	out := []asm.Instruction{
		asm.AInstruction{Location: "LCL"},
		asm.CInstruction{Dest: "A", Comp: "M"},
		asm.CInstruction{Dest: "D", Comp: "A"},
		asm.AInstruction{Location: "5"},
		asm.CInstruction{Dest: "A", Comp: "D-A"},
		asm.CInstruction{Dest: "D", Comp: "M"},
		asm.AInstruction{Location: "R13"},
		asm.CInstruction{Dest: "M", Comp: "D"},
	}
	out = append(out, stackToD()...)
	out = append(out,
		asm.AInstruction{Location: "ARG"},
		asm.CInstruction{Dest: "A", Comp: "M"},
		asm.CInstruction{Dest: "M", Comp: "D"},
		asm.AInstruction{Location: "ARG"},
		asm.CInstruction{Dest: "D", Comp: "M+1"},
		asm.AInstruction{Location: "SP"},
		asm.CInstruction{Dest: "M", Comp: "D"},
	)

	for _, reg := range []string{"THAT", "THIS", "ARG", "LCL"} {
		out = append(out,
			asm.AInstruction{Location: "LCL"},
			asm.CInstruction{Dest: "AM", Comp: "M-1"},
			asm.CInstruction{Dest: "D", Comp: "M"},
			asm.AInstruction{Location: reg},
			asm.CInstruction{Dest: "M", Comp: "D"},
		)
	}

	out = append(out,
		asm.AInstruction{Location: "R13"},
		asm.CInstruction{Dest: "A", Comp: "M"},
		asm.CInstruction{Comp: "0", Jump: "JMP"},
	)
	return out, nil
}
