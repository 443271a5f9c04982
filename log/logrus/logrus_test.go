package logrus

import (
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/unkn0wn-root/querycache"
)

func TestLogrusLogger(t *testing.T) {
	base, hook := test.NewNullLogger()
	base.SetLevel(logrus.DebugLevel)
	l := New(base)

	boom := errors.New("boom")
	l.Error("settle invalidate failed", querycache.Fields{"key": `["todos"]`, "err": boom})

	e := hook.LastEntry()
	if e == nil {
		t.Fatalf("nothing logged")
	}
	if e.Level != logrus.ErrorLevel || e.Message != "settle invalidate failed" {
		t.Fatalf("entry = %+v", e)
	}
	if e.Data["component"] != "querycache" || e.Data["key"] != `["todos"]` {
		t.Fatalf("data = %v", e.Data)
	}
	if e.Data[logrus.ErrorKey] != boom {
		t.Fatalf("error field = %v", e.Data[logrus.ErrorKey])
	}

	l.Debug("invalidated", nil)
	if hook.LastEntry().Level != logrus.DebugLevel {
		t.Fatalf("debug not logged")
	}
}
