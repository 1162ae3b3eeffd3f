// Package language holds the fixed set of languages the judge can compile
// and run, built once at process start into an immutable Registry.
package language

import (
	"fmt"
	"os/exec"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// TransformFunc rewrites source text before it is written into the box,
// e.g. to rename a Java source's public class to match the filename.
type TransformFunc func(sourceText, programBasename string) string

func identityTransform(sourceText, _ string) string { return sourceText }

// CommandTemplate is an argv template. Arguments may contain the literal
// placeholders "{source}" (the source filename) and "{output}" (the
// compiled artifact's name); both are substituted per invocation, not just
// as a whole-argument match, so templates like "-o{output}" work.
type CommandTemplate struct {
	Binary string
	Args   []string
}

// Expand substitutes placeholders into a copy of the template's argv,
// including the binary path itself.
func (c CommandTemplate) Expand(source, output string) (string, []string) {
	substitute := func(s string) string {
		s = strings.ReplaceAll(s, "{source}", source)
		s = strings.ReplaceAll(s, "{output}", output)
		return s
	}

	binary := substitute(c.Binary)
	args := make([]string, len(c.Args))
	for i, a := range c.Args {
		args[i] = substitute(a)
	}
	return binary, args
}

// CompileKind distinguishes languages with no separate compile stage
// (Python) from ones with a compile-and-cache command.
type CompileKind int

const (
	CompileNone CompileKind = iota
	CompileCommand
)

// Compile describes a language's compile stage, if it has one.
type Compile struct {
	Kind          CompileKind
	Transform     TransformFunc // applied to source text before it's written; identityTransform if no rewrite is needed
	Command       CommandTemplate
	OutputPattern string // artifact name template, e.g. "{output}" or "{output}.class"
}

// RunKind distinguishes running a compiled artifact directly from running
// it through an interpreter/launcher command.
type RunKind int

const (
	RunArtifact RunKind = iota
	RunCommand
)

// Run describes a language's run step.
type Run struct {
	Kind    RunKind
	Command CommandTemplate // used when Kind == RunCommand
}

// Params is everything the worker needs to compile and run one language.
type Params struct {
	Key             string
	Order           int
	Name            string
	Suffix          string
	Compile         Compile
	Run             Run
	ProcessLimit    int
	CompilerVersion *semver.Version // nil for languages with no probed compiler
}

// Registry is an immutable, built-once table of supported languages keyed
// by their slug ("cpp.17.g++", "python.3", ...). It is passed by reference
// rather than held as a mutable package-level global, per the judge's
// process-wide-state design note: initializing once (it runs compilers to
// probe versions) and exposing an immutable value beats a mutable global
// guarded by a lock.
type Registry struct {
	byKey map[string]Params
}

// NewRegistry builds the fixed set of five supported languages, probing gcc
// and g++ for their compiler version strings.
func NewRegistry() (*Registry, error) {
	gxx, err := buildGCCParams("cpp.17.g++", 2, "GNU G++17 %s", "/usr/bin/g++", "c++", "c++17")
	if err != nil {
		return nil, fmt.Errorf("failed to probe g++: %w", err)
	}
	gcc, err := buildGCCParams("c.18.gcc", 5, "GNU GCC C18 %s", "/usr/bin/gcc", "c", "c18")
	if err != nil {
		return nil, fmt.Errorf("failed to probe gcc: %w", err)
	}

	byKey := map[string]Params{
		"cpp.17.g++": gxx,
		"c.18.gcc":   gcc,
		"pascal.fpc": pascalParams(),
		"java.8":     javaParams(),
		"python.3":   pythonParams(),
	}

	return &Registry{byKey: byKey}, nil
}

// Get returns a language's Params by key.
func (r *Registry) Get(key string) (Params, bool) {
	p, ok := r.byKey[key]
	return p, ok
}

// All returns every language, unordered.
func (r *Registry) All() []Params {
	out := make([]Params, 0, len(r.byKey))
	for _, p := range r.byKey {
		out = append(out, p)
	}
	return out
}

// Catalog returns a copy of the key -> Params table; callers read each
// entry's Name and Order when advertising to the dispatcher's catalog.
func (r *Registry) Catalog() map[string]Params {
	out := make(map[string]Params, len(r.byKey))
	for key, p := range r.byKey {
		out[key] = p
	}
	return out
}

var compilerVersionRegexp = regexp.MustCompile(`\d+\.\d+\.\d+`)

// probeCompilerVersion runs "<binary> --version" and extracts the first
// x.y.z token from its stdout.
func probeCompilerVersion(binary string) (*semver.Version, error) {
	output, err := exec.Command(binary, "--version").Output()
	if err != nil {
		return nil, fmt.Errorf("failed to run %s --version: %w", binary, err)
	}

	match := compilerVersionRegexp.FindString(string(output))
	if match == "" {
		return nil, fmt.Errorf("no version string found in %s --version output", binary)
	}

	version, err := semver.NewVersion(match)
	if err != nil {
		return nil, fmt.Errorf("failed to parse compiler version %q: %w", match, err)
	}
	return version, nil
}

func buildGCCParams(key string, order int, nameTemplate, binaryPath, x, std string) (Params, error) {
	version, err := probeCompilerVersion(binaryPath)
	if err != nil {
		return Params{}, err
	}

	return Params{
		Key:    key,
		Order:  order,
		Suffix: ".cpp",
		Name:   fmt.Sprintf(nameTemplate, version.String()),
		Compile: Compile{
			Kind:      CompileCommand,
			Transform: identityTransform,
			Command: CommandTemplate{
				Binary: binaryPath,
				Args: []string{
					"-static",        // statically linked: the judge box has no shared libraries
					"-DONLINE_JUDGE", // defined the way Codeforces defines it
					"-lm",
					"-s", // strip symbols
					fmt.Sprintf("-std=%s", std),
					"-x", x,
					"-O2",
					"-o", "{output}",
					"{source}",
				},
			},
			OutputPattern: "{output}",
		},
		Run:             Run{Kind: RunArtifact},
		ProcessLimit:    1,
		CompilerVersion: version,
	}, nil
}

func pascalParams() Params {
	return Params{
		Key:    "pascal.fpc",
		Order:  6,
		Name:   "Free Pascal",
		Suffix: ".pas",
		Compile: Compile{
			Kind:      CompileCommand,
			Transform: identityTransform,
			Command: CommandTemplate{
				Binary: "/usr/bin/fpc",
				Args: []string{
					"-O2",
					"-Xs", // strip symbols
					"-XS", // link statically
					"-Sgic",
					"-vwn",
					"-dONLINE_JUDGE",
					"-Cs67107839",
					"-Mdelphi",
					"{source}",
					"-o{output}",
				},
			},
			OutputPattern: "{output}",
		},
		Run:          Run{Kind: RunArtifact},
		ProcessLimit: 1,
	}
}

var publicClassRegexp = regexp.MustCompile(`(?i)([^{}]*public\s+class\s+)(\w+)`)

// renameJavaPublicClass rewrites the first "public class Foo" declaration
// to match programBasename, so javac's output filename matches what the
// worker expects regardless of what the submitter named their class.
func renameJavaPublicClass(sourceText, programBasename string) string {
	replaced := false
	return publicClassRegexp.ReplaceAllStringFunc(sourceText, func(match string) string {
		if replaced {
			return match
		}
		replaced = true
		groups := publicClassRegexp.FindStringSubmatch(match)
		return groups[1] + programBasename
	})
}

func javaParams() Params {
	return Params{
		Key:    "java.8",
		Order:  7,
		Name:   "Java 8",
		Suffix: ".java",
		Compile: Compile{
			Kind:      CompileCommand,
			Transform: renameJavaPublicClass,
			Command: CommandTemplate{
				Binary: "/usr/lib/jvm/java-1.8-openjdk/bin/javac",
				Args: []string{
					"-cp", "\".;*\"",
					"-J-Xmx512m",
					"-J-XX:MaxMetaspaceSize=128m",
					"-J-XX:CompressedClassSpaceSize=64m",
					"{source}",
				},
			},
			OutputPattern: "{output}.class",
		},
		Run: Run{
			Kind: RunCommand,
			Command: CommandTemplate{
				Binary: "/usr/bin/java",
				Args: []string{
					"-Xmx512m",
					"-Xss64m",
					"-DONLINE_JUDGE=true",
					"-Duser.language=en",
					"-Duser.region=US",
					"-Duser.variant=US",
					"{output}",
				},
			},
		},
		ProcessLimit: 19,
	}
}

func pythonParams() Params {
	return Params{
		Key:    "python.3",
		Order:  8,
		Name:   "Python 3",
		Suffix: ".py",
		Compile: Compile{
			Kind: CompileNone,
		},
		Run: Run{
			Kind: RunCommand,
			Command: CommandTemplate{
				Binary: "/usr/bin/python3",
				Args:   []string{"{source}"},
			},
		},
		ProcessLimit: 1,
	}
}
