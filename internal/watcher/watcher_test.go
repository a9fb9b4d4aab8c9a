package watcher

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func appendFile(t *testing.T, path, s string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	if _, err := f.WriteString(s); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func next(t *testing.T, w *Watcher) Line {
	t.Helper()
	select {
	case l := <-w.Lines():
		return l
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a line")
		return Line{}
	}
}

func expectNone(t *testing.T, w *Watcher, d time.Duration) {
	t.Helper()
	select {
	case l := <-w.Lines():
		t.Fatalf("unexpected line %q", l.Text)
	case <-time.After(d):
	}
}

func start(t *testing.T, dir string, opts ...Option) *Watcher {
	t.Helper()
	opts = append(opts, WithPollInterval(20*time.Millisecond))
	w, err := New(dir, opts...)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() { _ = w.Stop() })
	return w
}

func TestStartMissingDir(t *testing.T) {
	w, err := New(filepath.Join(t.TempDir(), "missing"))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := w.Start(); err == nil {
		t.Error("expected error for missing directory")
	}
	_ = w.fsWatcher.Close()
}

func TestFromStartReadsExistingLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "Journal.2024-03-01T100000.01.log")
	appendFile(t, path, "{\"event\":\"Fileheader\"}\n{\"event\":\"Commander\"}\n")

	w := start(t, dir, FromStart())
	l := next(t, w)
	if string(l.Text) != `{"event":"Fileheader"}` || l.Number != 1 || l.Path != path {
		t.Errorf("unexpected first line %+v", l)
	}
	if l = next(t, w); l.Number != 2 {
		t.Errorf("expected line 2, got %d", l.Number)
	}
}

func TestDefaultSkipsExistingContent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "Journal.2024-03-01T100000.01.log")
	appendFile(t, path, "{\"event\":\"Old\"}\n")

	w := start(t, dir)
	expectNone(t, w, 100*time.Millisecond)

	appendFile(t, path, "{\"event\":\"New\"}\n")
	if l := next(t, w); string(l.Text) != `{"event":"New"}` {
		t.Errorf("unexpected line %q", l.Text)
	}
}

func TestPartialLinesAreHeld(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "Journal.2024-03-01T100000.01.log")
	appendFile(t, path, "")

	w := start(t, dir)
	appendFile(t, path, `{"event":"Bou`)
	expectNone(t, w, 100*time.Millisecond)

	appendFile(t, path, "nty\"}\r\n\n")
	if l := next(t, w); string(l.Text) != `{"event":"Bounty"}` {
		t.Errorf("unexpected line %q", l.Text)
	}
	expectNone(t, w, 50*time.Millisecond)
}

func TestSwitchesToNewJournal(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "Journal.2024-03-01T100000.01.log")
	appendFile(t, first, "")

	w := start(t, dir)
	appendFile(t, first, "{\"n\":1}\n")
	if l := next(t, w); string(l.Text) != `{"n":1}` {
		t.Fatalf("unexpected line %q", l.Text)
	}

	second := filepath.Join(dir, "Journal.2024-03-01T110000.01.log")
	appendFile(t, second, "{\"n\":2}\n")
	l := next(t, w)
	if string(l.Text) != `{"n":2}` || l.Path != second || l.Number != 1 {
		t.Errorf("unexpected line %+v", l)
	}
	if w.Current() != second {
		t.Errorf("expected to follow %s, got %s", second, w.Current())
	}
	if w.LastRead().IsZero() {
		t.Error("LastRead should be set")
	}
}

func TestIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	w := start(t, dir)
	appendFile(t, filepath.Join(dir, "Status.json"), "{}\n")
	expectNone(t, w, 100*time.Millisecond)
}

func TestTruncatedFileIsReread(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "Journal.2024-03-01T100000.01.log")
	appendFile(t, path, "{\"n\":1}\n{\"n\":2}\n")

	w := start(t, dir, FromStart())
	next(t, w)
	next(t, w)

	if err := os.WriteFile(path, []byte("{\"n\":3}\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if l := next(t, w); string(l.Text) != `{"n":3}` || l.Number != 1 {
		t.Errorf("unexpected line %+v", l)
	}
}
