// Package common provides logging infrastructure shared by the scheduler's
// packages. OutputSplitter routes error-level log lines to stderr and
// everything else to stdout, so container log collectors can apply
// different handling per stream without parsing log levels themselves.
package common

import (
	"bytes"
	"os"

	"github.com/sirupsen/logrus"
)

// OutputSplitter is an io.Writer that routes logrus's formatted output to
// stderr for error-level lines and stdout for everything else.
type OutputSplitter struct{}

// Write implements io.Writer. It looks for the literal "level=error"
// produced by logrus's text formatter or "level":"error" produced by its
// JSON formatter; anything else goes to stdout.
func (splitter *OutputSplitter) Write(p []byte) (n int, err error) {
	if bytes.Contains(p, []byte("level=error")) || bytes.Contains(p, []byte(`"level":"error"`)) {
		return os.Stderr.Write(p)
	}
	return os.Stdout.Write(p)
}

// Logger is the package-level logger used by code that doesn't carry its
// own *logrus.Logger or ContextLogger, such as store-layer helpers invoked
// outside an HTTP request's lifecycle. Most call sites should prefer a
// ContextLogger built via NewContextLogger instead.
var Logger = logrus.New()

func init() {
	Logger.SetOutput(&OutputSplitter{})
}
