package vm

// ----------------------------------------------------------------------------
// General information

// This section contains some general information about the VM intermediate language.
//
// We declare a shared 'Operation' interface for every macro operation available for the
// language and we define some other useful top-level struct such as Program and Module.
// Is important to note that a VM program can be composed of multiple translation units
// that can be also referenced as file or modules or also classes.

// A VM Program is just a set of multiple modules/files, in the VM spec each Jack class is
// translated to its own .vm file (just like Java .class file) that can be handled as its
// own translation unit during the compilation or lowering phases. Keyed by module/file name,
// since static variable naming and label mangling both need to know which file an operation
// came from.
type Program map[string]Module

// A VM Module is just a linear list of VM operations/instructions
type Module []Operation

// Used to put together all operation in the VM language (Memory, Arithmetic, ... ops).
type Operation interface{}

// ----------------------------------------------------------------------------
// Memory Op

// In memory representation of a Memory operation for the VM language.
//
// In the VM intermediate language there are only two possible memory operation on the stack.
// We could either push a new value taken from the specified segment location on the stack's
// top or take the stack's top and saves its value at the specified segment location.
type MemoryOp struct {
	Operation OperationType // The type of operation, either 'push' or 'pop'
	Segment   SegmentType   // The named memory segment to use (this, that, temp, ...)
	Offset    uint16        // The specific location/offset inside of the memory segment
}

type OperationType string // Enum to manage the operation allowed for a MemoryOp

const (
	Push OperationType = "push"
	Pop  OperationType = "pop"
)

type SegmentType string // Enum to manage the segment accessible for a MemoryOp

const (
	Temp     SegmentType = "temp"     // Real segment used to store intermediate computations
	Constant SegmentType = "constant" // Virtual segment used to access numeric constant

	Local    SegmentType = "local"    // Real segment used to store local function variables
	Static   SegmentType = "static"   // Real segment used to store shared/static variables
	Argument SegmentType = "argument" // Real segment used to store function's argument

	This    SegmentType = "this"    // Virtual segment used to point to a specific memory location
	That    SegmentType = "that"    // Virtual segment used to point to a specific memory location
	Pointer SegmentType = "pointer" // Real segment w/ 2 location used to set the 'this' and 'that' pointers
)

// ----------------------------------------------------------------------------
// Arithmetic Op

// In memory representation of a Arithmetic operation for the VM language.
//
// In the VM intermediate language there are just a handful of operation available.
// In particular each operation acts directly on the top of the stack, of course we have both unary
// and binary operation, the specific management of each op will be handled in the codegen phase.
type ArithmeticOp struct{ Operation ArithOpType }

type ArithOpType string // Enum to manage the operation allowed for an ArithmeticOp

const (
	Eq ArithOpType = "eq" // Comparison operations
	Gt ArithOpType = "gt"
	Lt ArithOpType = "lt"

	Add ArithOpType = "add" // Arithmetic operations
	Sub ArithOpType = "sub"
	Neg ArithOpType = "neg"

	Not ArithOpType = "not" // Bitwise operations
	And ArithOpType = "and"
	Or  ArithOpType = "or"
)

// ----------------------------------------------------------------------------
// Label Declaration & Jump Ops

// In memory representation of a label declaration statement for the VM language.
//
// A label is only visible inside the function it's declared in, during the lowering
// phase it gets mangled together with the file and function name to avoid clashes
// between functions (and files) that reuse the same label name (e.g. "LOOP", "END").
type LabelDecl struct{ Name string }

// In memory representation of a jump operation (conditional or unconditional) for the VM language.
type GotoOp struct {
	Jump  JumpType // Whether the jump is unconditional ('goto') or conditional ('if-goto')
	Label string   // The target label, resolved/mangled the same way as in LabelDecl
}

type JumpType string // Enum to manage the jump types allowed for a GotoOp

const (
	Unconditional JumpType = "goto"
	Conditional   JumpType = "if-goto" // Pops the stack's top and jumps only if it's non-zero
)

// ----------------------------------------------------------------------------
// Function Declaration, Call & Return

// In memory representation of a function declaration statement for the VM language.
//
// Declares a new named entrypoint together with how many local variables it needs,
// those locals are zero-initialized as part of the function's prologue.
type FuncDecl struct {
	Name   string // Fully qualified function name (e.g. "Main.main")
	NLocal uint16 // Number of local variables to zero-initialize on entry
}

// In memory representation of a function call statement for the VM language.
type FuncCallOp struct {
	Name  string // Fully qualified function name being called
	NArgs uint16 // Number of arguments already pushed onto the stack by the caller
}

// In memory representation of a function return statement for the VM language.
// Carries no data, the callee's frame on the stack has all the information needed.
type ReturnOp struct{}
