package multimaya

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSiblingExecutable(t *testing.T) {
	dir := t.TempDir()
	host := filepath.Join(dir, "hostapp")
	plain := filepath.Join(dir, "hostpy")
	for _, p := range []string{host, plain} {
		if err := os.WriteFile(p, nil, 0755); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "lib"), 0755); err != nil {
		t.Fatal(err)
	}

	got, ok := SiblingExecutable(host, "hostpy")
	if !ok || got != plain {
		t.Errorf("SiblingExecutable = %q, %v; want %q", got, ok, plain)
	}
	if _, ok := SiblingExecutable(host, "missing"); ok {
		t.Error("missing sibling reported as found")
	}
	if _, ok := SiblingExecutable(host, "lib"); ok {
		t.Error("directory reported as an executable")
	}
}

func TestInterpreterWithSearchPath(t *testing.T) {
	base := NewInterpreter("python3", "/a")
	extended := base.WithSearchPath("/b", "/c")

	if len(base.SearchPath) != 1 {
		t.Errorf("original interpreter modified: %v", base.SearchPath)
	}
	if strings.Join(extended.SearchPath, ",") != "/a,/b,/c" {
		t.Errorf("SearchPath = %v", extended.SearchPath)
	}
	if extended.Executable != "python3" {
		t.Errorf("Executable = %q", extended.Executable)
	}
}

func TestInterpreterEnviron(t *testing.T) {
	t.Setenv("PYTHONPATH", "/inherited")
	interp := NewInterpreter("python3", "/tools")

	var pythonPath, extra string
	for _, kv := range interp.Environ(map[string]string{"MULTIMAYA_EXTRA": "yes"}) {
		if v, ok := strings.CutPrefix(kv, "PYTHONPATH="); ok {
			pythonPath = v
		}
		if v, ok := strings.CutPrefix(kv, "MULTIMAYA_EXTRA="); ok {
			extra = v
		}
	}
	want := "/tools" + string(os.PathListSeparator) + "/inherited"
	if pythonPath != want {
		t.Errorf("PYTHONPATH = %q, want %q", pythonPath, want)
	}
	if extra != "yes" {
		t.Errorf("MULTIMAYA_EXTRA = %q", extra)
	}
}

func TestInterpreterFromExecutableMissing(t *testing.T) {
	_, err := InterpreterFromExecutable(t.Context(), filepath.Join(t.TempDir(), "python3"))
	if err == nil {
		t.Fatal("expected an error for a missing interpreter")
	}
}
