package stages

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drawee/drawee-go/internal/stage"
)

func TestStagesCommandPrintsTable(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	cmd := Command()
	cmd.SetOut(&out)
	cmd.SetArgs(nil)
	require.NoError(t, cmd.Execute())

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, stage.Count+1)
	assert.Contains(t, lines[0], "STAGE")
	assert.Contains(t, lines[1], stage.Scribbling.String())
	assert.Contains(t, lines[stage.Count], stage.PseudoNaturalistic.String())
}

func TestPrintJSON(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	require.NoError(t, Print(&out, stage.MustDefault().Entries(), true))

	var entries []stage.Info
	require.NoError(t, json.Unmarshal(out.Bytes(), &entries))
	assert.Len(t, entries, stage.Count)
}
