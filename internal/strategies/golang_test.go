package strategies

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const goListOutput = `{
	"Path": "example.com/app",
	"Main": true,
	"Dir": "/src/app",
	"GoVersion": "1.22"
}
{
	"Path": "github.com/spf13/cobra",
	"Version": "v1.8.0",
	"Time": "2023-11-04T00:00:00Z"
}
{
	"Path": "github.com/old/thing",
	"Version": "v1.0.0",
	"Indirect": true,
	"Replace": {"Path": "github.com/new/thing", "Version": "v1.2.0"}
}
`

const goSum = `github.com/spf13/cobra v1.8.0 h1:7aJaZx1B85qltLMc546zn58BxxfZdR/W22ej9CFoEf0=
github.com/spf13/cobra v1.8.0/go.mod h1:WXLWApfZ71AjXPya3WOlMsY9yMs7YeiHhFVlvLyhcho=
`

func TestParseGoList(t *testing.T) {
	sums := parseGoSum([]byte(goSum))
	recs, err := parseGoList([]byte(goListOutput), "go list", sums)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.True(t, recs[0].Root)
	assert.Equal(t, []string{"example.com/app@", "github.com/spf13/cobra@v1.8.0", "github.com/old/thing@v1.2.0"}, flatten(recs))

	cobra := findRecord(recs, "github.com/spf13/cobra")
	assert.Equal(t, "sha256-7aJaZx1B85qltLMc546zn58BxxfZdR/W22ej9CFoEf0=", cobra.Integrity)
}

func TestParseGoList_NoMainModule(t *testing.T) {
	_, err := parseGoList([]byte(`{"Path":"x","Version":"v1"}`), "go list", nil)
	assert.Error(t, err)
}

func TestParseGoSum_IgnoresGoModLines(t *testing.T) {
	sums := parseGoSum([]byte(goSum))
	assert.Len(t, sums, 1)
	assert.Contains(t, sums, "github.com/spf13/cobra@v1.8.0")
}

func TestGoExtract_FallbackToGoMod(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"go.mod": `module example.com/app

go 1.22

require (
	github.com/spf13/cobra v1.8.0
	github.com/rs/zerolog v1.34.0 // indirect
)

replace github.com/rs/zerolog => github.com/rs/zerolog v1.33.0
`,
		"go.sum": goSum,
	})
	s := &GoStrategy{}
	require.True(t, s.Detect(dir))

	res := s.Extract(context.Background(), dir, newTestEnv(t, nil))
	assert.True(t, res.Degraded)
	assert.Equal(t, []State{ToolInvoked, ToolFailed, FallbackParsed, Done}, res.Trace)
	assert.Equal(t, []string{"example.com/app@", "github.com/spf13/cobra@v1.8.0", "github.com/rs/zerolog@v1.33.0"}, flatten(res.Records))
	assert.Equal(t, []string{"github.com/spf13/cobra", "github.com/rs/zerolog"}, res.Namespaces)
	assert.NotEmpty(t, findRecord(res.Records, "github.com/spf13/cobra").Integrity)
}

func TestGoExtract_ToolOutput(t *testing.T) {
	dir := writeFiles(t, map[string]string{"go.mod": "module example.com/app\n"})
	runner := &fakeRunner{stdout: map[string]string{"go list -m -json all": goListOutput}}
	res := (&GoStrategy{}).Extract(context.Background(), dir, newTestEnv(t, runner))
	assert.False(t, res.Degraded)
	assert.Equal(t, Done, res.State)
	assert.Equal(t, []string{"github.com/spf13/cobra", "github.com/old/thing"}, res.Namespaces)
}
