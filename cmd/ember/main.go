// Command ember is the reference host for the EMBER core: a thin CLI that
// reads a source file, drives it through internal/host.Context, and prints
// whatever it produced or reports the diagnostics the core raised. Spec §1
// names "the host CLI" itself as an out-of-scope external collaborator — its
// only job is to call the public operations listed in §6, never to reimplement
// anything the core already owns.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattn/go-isatty"

	"ember/internal/errors"
	"ember/internal/host"
	"ember/internal/value"
)

func main() {
	os.Exit(mainRun())
}

// mainRun holds the whole of main's logic as a plain function so the CLI
// can also be driven in-process by a testscript command map.
func mainRun() int {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: ember <file.bolt>")
		return 2
	}
	return run(os.Args[1])
}

func run(path string) int {
	color := isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())

	source, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ember: %v\n", err)
		return 1
	}

	failed := false
	sink := errors.SinkFunc(func(kind errors.Kind, module, message string, line, col int) {
		failed = true
		printDiagnostic(color, kind, module, message, line, col)
	})

	ctx := host.Open(host.Handlers{
		OnError:  sink,
		ReadFile: readModuleFile,
	}, host.Config{})

	name := moduleName(path)
	mod, ok := ctx.CompileModule(string(source), name)
	if !ok {
		return 1
	}

	result, ok := ctx.ExecuteForResult(mod)
	if !ok {
		return 1
	}
	if failed {
		return 1
	}
	if !value.IsNull(result) {
		fmt.Println(value.ToString(result))
	}
	return 0
}

// readModuleFile backs import resolution (§6 find_module) for files sitting
// next to the entry module, relative to the process's working directory.
func readModuleFile(ctx *host.Context, path string) (string, bool) {
	text, err := os.ReadFile(path)
	if err != nil {
		return "", false
	}
	return string(text), true
}

func moduleName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

const (
	colorRed    = "\x1b[31m"
	colorYellow = "\x1b[33m"
	colorReset  = "\x1b[0m"
)

func printDiagnostic(color bool, kind errors.Kind, module, message string, line, col int) {
	label := string(kind)
	if !color {
		if line > 0 {
			fmt.Fprintf(os.Stderr, "%s error in %s:%d:%d: %s\n", label, module, line, col, message)
		} else {
			fmt.Fprintf(os.Stderr, "%s error in %s: %s\n", label, module, message)
		}
		return
	}

	tint := colorRed
	if kind == errors.Parse {
		tint = colorYellow
	}
	if line > 0 {
		fmt.Fprintf(os.Stderr, "%s%s error%s in %s:%d:%d: %s\n", tint, label, colorReset, module, line, col, message)
	} else {
		fmt.Fprintf(os.Stderr, "%s%s error%s in %s: %s\n", tint, label, colorReset, module, message)
	}
}
