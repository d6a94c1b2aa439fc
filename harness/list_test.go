package harness

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWritePlan(t *testing.T) {
	cfg := testConfig(t)
	s := mustSuite(t, cfg, SuitePluginTorture)

	var out bytes.Buffer
	require.NoError(t, WritePlan(&out, s))
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 64)
	require.Equal(t, "suite plugin-torture: target plugin, table plugin-torture, 63 combinations", lines[0])
	require.Regexp(t, `^  1  U +run +dso=torture-unfrozen +image=torture-unfrozen$`, lines[1])
	require.Regexp(t, `^  2  I +skip +dso=- +image=-$`, lines[2])
}
