package ui

import (
	"bytes"
	"strings"
	"testing"
)

func TestStatusGoesToErr(t *testing.T) {
	var out, errOut bytes.Buffer
	u := NewUIWithWriters(&out, &errOut)

	u.Success("pool finished")
	u.Error("child exception")
	u.Warning("artifact kept")

	if out.Len() != 0 {
		t.Errorf("status lines leaked to out: %q", out.String())
	}
	for _, want := range []string{"pool finished", "child exception", "artifact kept"} {
		if !strings.Contains(errOut.String(), want) {
			t.Errorf("err output missing %q: %q", want, errOut.String())
		}
	}
}

func TestKeyValueAndBlock(t *testing.T) {
	var out, errOut bytes.Buffer
	u := NewUIWithWriters(&out, &errOut)

	u.KeyValue("executable", "/usr/bin/python3")
	u.Block("Traceback (most recent call last):\nValueError: boom\n")

	if !strings.Contains(out.String(), "executable:") || !strings.Contains(out.String(), "/usr/bin/python3") {
		t.Errorf("unexpected key/value output %q", out.String())
	}
	if got := strings.Count(errOut.String(), "\n"); got != 2 {
		t.Errorf("Block wrote %d lines, want 2", got)
	}
}
