package logflags

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

type bufferWriter struct {
	bytes.Buffer
}

func (bw bufferWriter) Close() error {
	return nil
}

func resetFlags() {
	debugger, exceptions, memory, kernel = false, false, false, false
}

func TestMakeLogger_usingLoggerFactory(t *testing.T) {
	defer func() {
		loggerFactory = nil
		logOut = nil
	}()
	logOut = &bufferWriter{}

	expectedLogger := &logrusLogger{}
	SetLoggerFactory(func(level logrus.Level, fields Fields, out io.Writer) Logger {
		if level != logrus.DebugLevel {
			t.Fatalf("expected level to be <%v>; but was <%v>", logrus.DebugLevel, level)
		}
		if len(fields) != 1 || fields["layer"] != "memory" {
			t.Fatalf("expected fields to be {'layer':'memory'}; but was <%v>", fields)
		}
		if out != logOut {
			t.Fatalf("expected out to be <%v>; but was <%v>", logOut, out)
		}
		return expectedLogger
	})

	actual := makeFlaggableLogger(true, Fields{"layer": "memory"})
	if actual != expectedLogger {
		t.Fatalf("expected actual to <%v>; but was <%v>", expectedLogger, actual)
	}
}

func TestMakeFlaggableLogger_withFlagFalse(t *testing.T) {
	actual := makeFlaggableLogger(false, Fields{"foo": "bar"})
	entry, ok := actual.(*logrusLogger)
	if !ok {
		t.Fatalf("expected a *logrusLogger; got %T", actual)
	}
	if entry.Entry.Logger.Level != logrus.ErrorLevel {
		t.Fatalf("expected level to be <%v>; but was <%v>", logrus.ErrorLevel, entry.Entry.Logger.Level)
	}
}

func TestSetup(t *testing.T) {
	defer resetFlags()

	if err := Setup(false, "memory", ""); err != errLogstrWithoutLog {
		t.Fatalf("expected errLogstrWithoutLog, got %v", err)
	}

	resetFlags()
	if err := Setup(true, "", ""); err != nil {
		t.Fatal(err)
	}
	if !Debugger() || Exceptions() || Memory() || Kernel() {
		t.Fatalf("default layer should be debugger only")
	}

	resetFlags()
	if err := Setup(true, "exceptions,kernel,memory", ""); err != nil {
		t.Fatal(err)
	}
	if Debugger() || !Exceptions() || !Memory() || !Kernel() {
		t.Fatalf("wrong layers enabled: debugger=%v exceptions=%v memory=%v kernel=%v", Debugger(), Exceptions(), Memory(), Kernel())
	}
}

func TestDefaultFormatter(t *testing.T) {
	defer func() { logOut = nil }()
	buf := &bufferWriter{}
	logOut = buf
	makeFlaggableLogger(true, Fields{"layer": "kernel", "op": "task_suspend"}).Errorf("failed: %d", 5)
	out := buf.String()
	if !strings.Contains(out, "error kernel op=task_suspend failed: 5") {
		t.Fatalf("unexpected log line %q", out)
	}
}
