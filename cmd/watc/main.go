/*
Watc compiles WebAssembly text format modules to the canonical binary
format.

Usage:

	watc [flags] FILE

The flags are:

	-o, --output FILE
		Write the compiled binary module to FILE instead of the input
		path with a trailing ".wat" removed and ".wasm" appended.

	-t, --tree
		Print the parse tree instead of compiling, as lexemes only (no
		position metadata) — spec.md §6's getStringParseTree operation.

	-v, --version
		Print version information and exit.

With no FILE argument, watc starts an interactive REPL: each line is
compiled independently and either the resulting byte count is reported
or the compile error is printed, the session continuing either way.
Type ".exit" to quit.
*/
package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/fatih/color"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/tinywat/watc"
)

const (
	ExitSuccess = iota
	ExitCompileError
	ExitUsageError
)

var (
	returnCode = ExitSuccess

	flagVersion *bool   = pflag.BoolP("version", "v", false, "print version information and exit")
	flagOutput  *string = pflag.StringP("output", "o", "", `output path (default: input file with ".wasm" extension)`)
	flagTree    *bool   = pflag.BoolP("tree", "t", false, "print the parse tree instead of compiling")
)

const version = "v0.1.0"

var (
	redColor    = color.New(color.FgRed)
	yellowColor = color.New(color.FgYellow)
	cyanColor   = color.New(color.FgCyan)
)

func main() {
	defer func() { os.Exit(returnCode) }()

	pflag.Parse()

	if *flagVersion {
		fmt.Printf("watc %s\n", version)
		return
	}

	args := pflag.Args()
	if len(args) == 0 {
		startRepl(os.Stdin, os.Stdout)
		return
	}
	if len(args) > 1 {
		redColor.Fprintf(os.Stderr, "usage: watc [flags] FILE\n")
		returnCode = ExitUsageError
		return
	}

	runFile(args[0])
}

func runFile(path string) {
	src, err := os.ReadFile(path)
	if err != nil {
		redColor.Fprintf(os.Stderr, "[FILE ERROR] could not read %q: %v\n", path, err)
		returnCode = ExitUsageError
		return
	}

	if *flagTree {
		st, err := watc.GetStringParseTree(string(src))
		if err != nil {
			redColor.Fprintf(os.Stderr, "%s\n", err)
			returnCode = ExitCompileError
			return
		}
		out, err := yaml.Marshal(st)
		if err != nil {
			redColor.Fprintf(os.Stderr, "[INTERNAL ERROR] %v\n", err)
			returnCode = ExitCompileError
			return
		}
		os.Stdout.Write(out)
		return
	}

	out, err := watc.Compile(string(src))
	if err != nil {
		redColor.Fprintf(os.Stderr, "%s\n", err)
		returnCode = ExitCompileError
		return
	}

	outPath := *flagOutput
	if outPath == "" {
		outPath = strings.TrimSuffix(path, ".wat") + ".wasm"
	}
	if err := os.WriteFile(outPath, out, 0o644); err != nil {
		redColor.Fprintf(os.Stderr, "[FILE ERROR] could not write %q: %v\n", outPath, err)
		returnCode = ExitUsageError
		return
	}
	cyanColor.Fprintf(os.Stdout, "wrote %d bytes to %s\n", len(out), outPath)
}

const banner = `
 _      ____ _____ ____
| | /| / / / / ___/ ___/
| |/ |/ / /_/ / /__/ /__
|__/|__/\____/\___/\___/
`

const line = "----------------------------------------------------------------"

func startRepl(r io.Reader, w io.Writer) {
	blue := color.New(color.FgBlue)
	green := color.New(color.FgGreen)

	blue.Fprintf(w, "%s\n", line)
	green.Fprintf(w, "%s\n", banner)
	blue.Fprintf(w, "%s\n", line)
	yellowColor.Fprintf(w, "watc %s | wat -> wasm compiler\n", version)
	blue.Fprintf(w, "%s\n", line)
	cyanColor.Fprintf(w, "Enter a single (module ...) form and press enter\n")
	cyanColor.Fprintf(w, "Type '.exit' to quit\n")
	blue.Fprintf(w, "%s\n", line)

	rl, err := readline.New("watc >>> ")
	if err != nil {
		panic(err)
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err != nil {
			w.Write([]byte("Good Bye!\n"))
			return
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == ".exit" {
			w.Write([]byte("Good Bye!\n"))
			return
		}

		rl.SaveHistory(line)
		replCompile(w, line)
	}
}

func replCompile(w io.Writer, line string) {
	defer func() {
		if recovered := recover(); recovered != nil {
			redColor.Fprintf(w, "[INTERNAL ERROR] %v\n", recovered)
		}
	}()

	out, err := watc.Compile(line)
	if err != nil {
		redColor.Fprintf(w, "%s\n", err)
		return
	}
	yellowColor.Fprintf(w, "ok: %s bytes\n", strconv.Itoa(len(out)))
}
