package language

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCommandTemplateExpand(t *testing.T) {
	tmpl := CommandTemplate{
		Binary: "/usr/bin/fpc",
		Args:   []string{"-O2", "{source}", "-o{output}"},
	}

	binary, args := tmpl.Expand("program.pas", "program")
	assert.Equal(t, "/usr/bin/fpc", binary)
	assert.Equal(t, []string{"-O2", "program.pas", "-oprogram"}, args)
}

func TestCommandTemplateExpandJavaClassOutput(t *testing.T) {
	tmpl := CommandTemplate{Binary: "{output}"}
	binary, _ := tmpl.Expand("program.java", "program")
	assert.Equal(t, "program", binary)
}

func TestRenameJavaPublicClass(t *testing.T) {
	tests := []struct {
		name   string
		source string
		want   string
	}{
		{
			name:   "simple class",
			source: "public class Solution { public static void main(String[] a) {} }",
			want:   "public class program { public static void main(String[] a) {} }",
		},
		{
			name:   "only first occurrence is replaced",
			source: "public class A {}\n// public class B {}",
			want:   "public class program {}\n// public class B {}",
		},
		{
			name:   "case insensitive keyword match",
			source: "PUBLIC CLASS Foo {}",
			want:   "PUBLIC CLASS program {}",
		},
		{
			name:   "no public class leaves source untouched",
			source: "class Helper {}",
			want:   "class Helper {}",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := renameJavaPublicClass(tc.source, "program")
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestPascalParamsShape(t *testing.T) {
	p := pascalParams()
	assert.Equal(t, CompileCommand, p.Compile.Kind)
	assert.Equal(t, RunArtifact, p.Run.Kind)
	assert.Equal(t, 1, p.ProcessLimit)
	assert.Contains(t, p.Compile.Command.Args, "-Mdelphi")
}

func TestJavaParamsProcessLimit(t *testing.T) {
	p := javaParams()
	assert.Equal(t, 19, p.ProcessLimit)
	assert.Equal(t, RunCommand, p.Run.Kind)
	assert.Equal(t, "{output}.class", p.Compile.OutputPattern)
}

func TestPythonParamsHasNoCompileStep(t *testing.T) {
	p := pythonParams()
	assert.Equal(t, CompileNone, p.Compile.Kind)
	assert.Equal(t, RunCommand, p.Run.Kind)
}
