package pkg

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
)

func TestCombinedWriter_Write(t *testing.T) {
	stdout := &strings.Builder{}
	stdout.WriteString("boot;")
	logFile := &strings.Builder{}

	cw := NewCombinedWriter(stdout, logFile)
	require.Len(t, cw.Writers, 2)

	n, err := cw.Write([]byte("water logged;"))
	require.NoError(t, err)
	assert.Equal(t, 2*len("water logged;"), n)

	_, err = cw.Write([]byte("goal set;"))
	require.NoError(t, err)

	assert.Equal(t, "boot;water logged;goal set;", stdout.String())
	assert.Equal(t, "water logged;goal set;", logFile.String())
}

func TestCombinedWriter_Write_WithErrors(t *testing.T) {
	sb := &strings.Builder{}
	cw := NewCombinedWriter(failingWriter{"disk full"}, sb, failingWriter{"closed"})

	n, err := cw.Write([]byte("entry"))
	require.Error(t, err)
	assert.Len(t, multierr.Errors(err), 2)
	assert.ErrorContains(t, err, "disk full")
	assert.ErrorContains(t, err, "closed")

	// still written to the healthy writer
	assert.Equal(t, len("entry"), n)
	assert.Equal(t, "entry", sb.String())
}

type failingWriter struct {
	msg string
}

func (fw failingWriter) Write([]byte) (int, error) {
	return 0, errors.New(fw.msg)
}
