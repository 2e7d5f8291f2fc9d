package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tayframe/db"
	"tayframe/logger"
	"tayframe/market"
)

const input = `t,o,h,l,c,v
1,1,2,0.5,1,10
2,2,3,1.5,2,10
3,3,4,2.5,4,10
`

func runCLI(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := run(context.Background(), args, strings.NewReader(stdin), &out, logger.Nop())
	return out.String(), err
}

func TestComputeCSV(t *testing.T) {
	out, err := runCLI(t, input, "compute", "-study", "sma:c:2", "-places", "2")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "t,o,h,l,c,v,sma_c_2", lines[0])
	assert.Equal(t, "1,1.00,2.00,0.50,1.00,10.00,", lines[1])
	assert.Equal(t, "2,2.00,3.00,1.50,2.00,10.00,1.50", lines[2])
	assert.Equal(t, "3,3.00,4.00,2.50,4.00,10.00,3.00", lines[3])
}

func TestComputeCleanAndValidate(t *testing.T) {
	bad := input + "4,5,4,6,5,10\n"
	out, err := runCLI(t, bad, "compute", "-study", "sma:c:2", "-clean")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3, "first row is undefined and the last fails validation")
	assert.True(t, strings.HasPrefix(lines[1], "2,"))
	assert.True(t, strings.HasPrefix(lines[2], "3,"))
}

func TestComputeTable(t *testing.T) {
	out, err := runCLI(t, input, "compute", "-study", "rsi:2", "-study", "gap", "-table", "-places", "2")
	require.NoError(t, err)
	assert.Contains(t, strings.ToLower(out), "rsi_2")
	assert.Contains(t, out, "100.00")
}

func TestComputeToFile(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "bars.csv")
	outPath := filepath.Join(dir, "out.csv")
	require.NoError(t, os.WriteFile(in, []byte(input), 0o644))

	stdout, err := runCLI(t, "", "compute", "-in", in, "-out", outPath, "-study", "tr")
	require.NoError(t, err)
	assert.Empty(t, stdout)

	data, err := os.ReadFile(outPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "t,o,h,l,c,v,tr")
}

func TestComputeFromDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bars.db")
	store, err := db.Open(path)
	require.NoError(t, err)
	require.NoError(t, store.SaveSeries(context.Background(), "sh600000", market.Series{
		{T: 1, O: 1, H: 2, L: 0.5, C: 1, V: 10},
		{T: 2, O: 2, H: 3, L: 1.5, C: 2, V: 10},
		{T: 3, O: 3, H: 4, L: 2.5, C: 4, V: 10},
	}))
	require.NoError(t, store.Close())

	out, err := runCLI(t, "", "compute", "-db", path, "-symbol", "sh600000", "-study", "sma:c:2", "-places", "2")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "3,3.00,4.00,2.50,4.00,10.00,3.00", lines[3])

	store, err = db.Open(path)
	require.NoError(t, err)
	defer store.Close()
	saved, err := store.LoadSeries(context.Background(), "sh600000", 0)
	require.NoError(t, err)
	require.Len(t, saved, 3)
	assert.True(t, market.IsUndefined(saved[0].Extra["sma_c_2"]))
	assert.Equal(t, 1.5, saved[1].Extra["sma_c_2"])
	assert.Equal(t, 3.0, saved[2].Extra["sma_c_2"])

	_, err = runCLI(t, "", "compute", "-db", path, "-symbol", "sz000001", "-study", "sma:c:2")
	assert.Error(t, err, "nothing stored for the symbol")
}

func TestCLIErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"no command", nil},
		{"unknown command", []string{"plot"}},
		{"no study", []string{"compute"}},
		{"bad study", []string{"compute", "-study", "sma:c:x"}},
		{"fetch without symbol", []string{"fetch"}},
		{"db without symbol", []string{"compute", "-db", "unused.db", "-study", "tr"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runCLI(t, input, tt.args...)
			assert.Error(t, err)
		})
	}
}
