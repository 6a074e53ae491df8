package main

import (
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/teris-io/cli"
	"its-hmny.dev/nand2tetris/pkg/asm"
	"its-hmny.dev/nand2tetris/pkg/vm"
)

var Description = strings.ReplaceAll(`
The VM Translator translates programs (composed of multiple modules/files) written in
the VM language into Hack assembly code that can be further elaborated. The VM language
is a higher-level (bytecode-like) language tailored for use with the Hack computer arch.
`, "\n", " ")

var VmTranslator = cli.New(Description).
	WithArg(cli.NewArg("input", "A single .vm file, or a directory of .vm files, to translate")).
	WithOption(cli.NewOption("output", "The compiled output (.asm), defaults next to the input").
		WithType(cli.TypeString)).
	WithAction(Handler)

func fail(filename string, err error) int {
	fmt.Fprintf(os.Stderr, "File %s, line -: %s\n", filename, err)
	return 1
}

func Handler(args []string, options map[string]string) int {
	if len(args) < 1 {
		return fail("-", fmt.Errorf("not enough arguments provided, use --help"))
	}

	input := args[0]
	info, err := os.Stat(input)
	if err != nil {
		return fail(input, fmt.Errorf("unable to open input: %w", err))
	}

	// Allocates a 'vm.Program' struct to save all the parsed translation units
	// (the .vm files) that will be parsed and lowered together and then sent to the
	// codegen phase (that will create a monolithic compiled output).
	program := vm.Program{}
	directoryMode := info.IsDir()

	var TUs []string
	if directoryMode {
		filepath.Walk(input, func(p string, info fs.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if info.IsDir() || filepath.Ext(p) != ".vm" {
				return nil
			}
			TUs = append(TUs, p)
			return nil
		})
	} else {
		TUs = []string{input}
	}

	for _, tu := range TUs {
		content, err := os.ReadFile(tu)
		if err != nil {
			return fail(tu, fmt.Errorf("unable to open input file: %w", err))
		}

		parser := vm.NewParser(bytes.NewReader(content))
		module, err := parser.Parse()
		if err != nil {
			return fail(tu, fmt.Errorf("parsing pass failed: %w", err))
		}
		program[path.Base(tu)] = module
	}

	// Instantiate a lowerer to convert the program from Vm to Asm
	lowerer := vm.NewLowerer(program)
	// Lowers the vm.Program to an in-memory/IR representation of its Asm counterpart 'asm.Program'.
	asmProgram, err := lowerer.Lower()
	if err != nil {
		return fail(input, fmt.Errorf("lowering pass failed: %w", err))
	}

	// Bootstrap is only emitted for a full-program (directory) compile, a single .vm
	// file never carries its own entrypoint and is assumed to be linked later.
	if directoryMode {
		asmProgram = append(vm.Bootstrap(), asmProgram...)
	}

	// Now, instantiates a code generator for the Asm (compiled) program
	codegen := asm.NewCodeGenerator(asmProgram)
	compiled, err := codegen.Generate()
	if err != nil {
		return fail(input, fmt.Errorf("codegen pass failed: %w", err))
	}

	outputPath := options["output"]
	if outputPath == "" {
		if directoryMode {
			clean := filepath.Clean(input)
			outputPath = filepath.Join(filepath.Dir(clean), filepath.Base(clean)+".asm")
		} else {
			outputPath = strings.TrimSuffix(input, filepath.Ext(input)) + ".asm"
		}
	}

	output, err := os.Create(outputPath)
	if err != nil {
		return fail(outputPath, fmt.Errorf("unable to open output file: %w", err))
	}
	defer output.Close()

	for _, comp := range compiled {
		output.Write([]byte(comp + "\n"))
	}

	return 0
}

func main() { os.Exit(VmTranslator.Run(os.Args, os.Stdout)) }
