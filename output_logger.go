package flagcore

import (
	"fmt"
	"os"
	"time"
)

// OutputLogger is the ambient debug/error channel the rest of the package
// writes to. It deliberately stays stdlib-only (fmt/os) rather than pulling
// in a structured-logging framework: the SDK is embedded in arbitrary host
// processes and must not impose a logging stack of its own.
type OutputLogger struct {
	LogCallback func(message string, err error)
}

func (l *OutputLogger) log(msg string, err error) {
	if l == nil {
		return
	}
	if l.LogCallback != nil {
		l.LogCallback(msg, err)
		return
	}
	timestamp := time.Now().Format(time.RFC3339)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[%s][flagcore] %s: %s\n", timestamp, msg, err)
	} else {
		fmt.Printf("[%s][flagcore] %s\n", timestamp, msg)
	}
}

// Info logs an informational message.
func (l *OutputLogger) Info(msg string) { l.log(msg, nil) }

// Error logs msg together with the causing error.
func (l *OutputLogger) Error(msg string, err error) { l.log(msg, err) }

var defaultOutputLogger = &OutputLogger{}
