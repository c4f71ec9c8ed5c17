package compiler_test

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/jcnc-org/Snow-sub003/internal/compiler"
)

// scenarioSpec is one testdata/scenarios.yaml entry, mirroring the
// teacher's IntegrationTestSpec shape.
type scenarioSpec struct {
	Name             string `yaml:"name"`
	Source           string `yaml:"source"`
	WantExit         *int   `yaml:"want_exit,omitempty"`
	WantRuntimeError bool   `yaml:"want_runtime_error,omitempty"`
}

type scenarioFile struct {
	Tests []scenarioSpec `yaml:"tests"`
}

func TestScenarios(t *testing.T) {
	data, err := os.ReadFile("testdata/scenarios.yaml")
	require.NoError(t, err)

	var file scenarioFile
	require.NoError(t, yaml.Unmarshal(data, &file))
	require.NotEmpty(t, file.Tests)

	for _, tc := range file.Tests {
		tc := tc
		t.Run(tc.Name, func(t *testing.T) {
			res := compiler.Compile([]compiler.Source{{Name: tc.Name + ".snow", Text: tc.Source}}, compiler.Options{})
			require.Empty(t, res.Diags, res.Diags.Error())
			require.NotNil(t, res.Program)

			exit, runErr := compiler.Run(res.Program, res.Classes, nil)
			if tc.WantRuntimeError {
				assert.Error(t, runErr)
				return
			}
			require.NoError(t, runErr)
			if tc.WantExit != nil {
				assert.Equal(t, *tc.WantExit, exit)
			}
		})
	}
}

func TestConstructorOverloadAmbiguityIsDiagnosed(t *testing.T) {
	src := `struct: Point
  fields: declare x:int, declare y:int
  function: Point params: declare a:int, declare b:int
    body: return end body
  end function
  function: Point params: declare c:int, declare d:int
    body: return end body
  end function
end struct
module: M function: main returns: int body: return 0 end body end function end module`

	res := compiler.Compile([]compiler.Source{{Name: "t.snow", Text: src}}, compiler.Options{})
	require.NotEmpty(t, res.Diags)
}

func TestBreakOutsideLoopIsDiagnosed(t *testing.T) {
	src := `module: M
function: f returns: void
  body: break
  end body
end function
end module`

	res := compiler.Compile([]compiler.Source{{Name: "t.snow", Text: src}}, compiler.Options{})
	require.NotEmpty(t, res.Diags)
}

func TestDebugDumpsPopulateWhenRequested(t *testing.T) {
	src := "module: M function: main returns: int body: return 1+2 end body end function end module"
	res := compiler.Compile([]compiler.Source{{Name: "t.snow", Text: src}}, compiler.Options{
		DumpLex: true, DumpParse: true, DumpSema: true, DumpIR: true, DumpWater: true,
	})
	require.Empty(t, res.Diags)
	assert.NotEmpty(t, res.DumpLex)
	assert.NotEmpty(t, res.DumpParse)
	assert.NotEmpty(t, res.DumpSema)
	assert.NotEmpty(t, res.DumpIR)
	assert.NotEmpty(t, res.DumpWater)
}
