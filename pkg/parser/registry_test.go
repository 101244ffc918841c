package parser

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func TestRegistryPriorityOrder(t *testing.T) {
	r := NewDefaultRegistry(zap.NewNop())

	parsers := r.Parsers()
	if len(parsers) != 3 {
		t.Fatalf("expected 3 parsers, got %d", len(parsers))
	}
	if parsers[0].Format() != "JSON" || parsers[1].Format() != "CSV" || parsers[2].Format() != "TEXT" {
		t.Fatalf("unexpected order: %s %s %s",
			parsers[0].Format(), parsers[1].Format(), parsers[2].Format())
	}
}

func TestRegistryGetByFormat(t *testing.T) {
	r := NewDefaultRegistry(zap.NewNop())

	if _, ok := r.GetByFormat("json"); !ok {
		t.Error("lookup should be case-insensitive")
	}
	if _, ok := r.GetByFormat("yaml"); ok {
		t.Error("unknown format should miss")
	}
}

func TestRegistryUnregister(t *testing.T) {
	r := NewDefaultRegistry(zap.NewNop())

	if !r.Unregister("CSV") {
		t.Fatal("expected CSV to be removed")
	}
	if _, ok := r.GetByFormat("CSV"); ok {
		t.Fatal("CSV still registered after unregister")
	}
	if r.Unregister("CSV") {
		t.Fatal("second unregister should report nothing removed")
	}
}

func TestRegistrySelectByExtension(t *testing.T) {
	r := NewDefaultRegistry(zap.NewNop())

	cases := []struct {
		fileName string
		sample   string
		want     string
	}{
		{"events.ndjson", `{"level":"info","message":"m"}`, "JSON"},
		{"data.csv", "timestamp,level,message", "CSV"},
		{"app.log", "2024-01-15 10:30:45 INFO hello", "TEXT"},
	}

	for _, c := range cases {
		p, err := r.Select(c.fileName, c.sample)
		if err != nil {
			t.Fatalf("Select(%s): %v", c.fileName, err)
		}
		if p.Format() != c.want {
			t.Errorf("Select(%s) = %s, want %s", c.fileName, p.Format(), c.want)
		}
	}
}

func TestRegistrySelectByContent(t *testing.T) {
	r := NewDefaultRegistry(zap.NewNop())

	// Unknown extension, JSON body: content probing wins.
	p, err := r.Select("dump.data", `{"level":"info","message":"m"}`)
	if err != nil {
		t.Fatal(err)
	}
	if p.Format() != "JSON" {
		t.Fatalf("content selection = %s, want JSON", p.Format())
	}
}

func TestRegistryTextFallback(t *testing.T) {
	r := NewDefaultRegistry(zap.NewNop())

	p, err := r.Select("trace.bin", "")
	if err != nil {
		t.Fatal(err)
	}
	if p.Format() != "TEXT" {
		t.Fatalf("fallback = %s, want TEXT", p.Format())
	}
}

func TestRegistryNoParserError(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	r.Register(NewJSONParser())

	if _, err := r.Select("trace.bin", "plain text, nothing structured"); err == nil {
		t.Fatal("expected an error with no matching parser registered")
	}
}

func TestSampleContentLimits(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "big.log")

	var sb strings.Builder
	for i := 0; i < 50; i++ {
		sb.WriteString(strings.Repeat("x", 200))
		sb.WriteString("\n")
	}
	if err := os.WriteFile(path, []byte(sb.String()), 0o644); err != nil {
		t.Fatal(err)
	}

	sample, err := SampleContent(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(sample) > sampleMaxChars {
		t.Fatalf("sample length %d exceeds cap %d", len(sample), sampleMaxChars)
	}
	if lines := strings.Count(sample, "\n") + 1; lines > sampleMaxLines {
		t.Fatalf("sample has %d lines, cap is %d", lines, sampleMaxLines)
	}
}
