package reader

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "input.log")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestCountLines(t *testing.T) {
	path := writeFile(t, "one\ntwo\nthree\n")

	r := NewStreamReader(Options{}, zap.NewNop())
	count, err := r.CountLines(path)
	if err != nil {
		t.Fatal(err)
	}
	if count != 3 {
		t.Fatalf("count = %d, want 3", count)
	}
}

func TestProcessLineNumbers(t *testing.T) {
	path := writeFile(t, "a\nb\nc")

	r := NewStreamReader(Options{}, zap.NewNop())
	var lines []string
	var numbers []int64
	stats, err := r.Process(path, func(line string, n int64) error {
		lines = append(lines, line)
		numbers = append(numbers, n)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	if strings.Join(lines, "|") != "a|b|c" {
		t.Fatalf("lines = %v", lines)
	}
	if numbers[0] != 1 || numbers[2] != 3 {
		t.Fatalf("line numbers = %v, want 1-based", numbers)
	}
	if stats.TotalLines != 3 {
		t.Fatalf("stats.TotalLines = %d", stats.TotalLines)
	}
	if stats.BytesRead == 0 {
		t.Fatal("stats.BytesRead not recorded")
	}
}

func TestProcessFromStartLine(t *testing.T) {
	path := writeFile(t, "a\nb\nc\nd\n")

	r := NewStreamReader(Options{}, zap.NewNop())
	var numbers []int64
	_, err := r.ProcessFrom(path, func(line string, n int64) error {
		numbers = append(numbers, n)
		return nil
	}, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(numbers) != 2 || numbers[0] != 3 || numbers[1] != 4 {
		t.Fatalf("numbers = %v, want [3 4]", numbers)
	}
}

func TestTruncatesOversizedLines(t *testing.T) {
	long := strings.Repeat("x", 120)
	path := writeFile(t, long+"\nshort\n")

	r := NewStreamReader(Options{MaxLineLength: 100}, zap.NewNop())
	var got []string
	_, err := r.Process(path, func(line string, n int64) error {
		got = append(got, line)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(got[0]) != 100 {
		t.Fatalf("truncated length = %d, want 100", len(got[0]))
	}
	if got[1] != "short" {
		t.Fatalf("second line = %q", got[1])
	}
}

func TestLineAtExactLimitUntouched(t *testing.T) {
	exact := strings.Repeat("y", 100)
	path := writeFile(t, exact+"\n")

	r := NewStreamReader(Options{MaxLineLength: 100}, zap.NewNop())
	var got string
	if _, err := r.Process(path, func(line string, n int64) error {
		got = line
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	if got != exact {
		t.Fatalf("line at limit was modified: len %d", len(got))
	}
}

func TestHandlerErrorPropagatesWithoutCallback(t *testing.T) {
	path := writeFile(t, "a\nb\n")

	r := NewStreamReader(Options{}, zap.NewNop())
	wantErr := errors.New("boom")
	_, err := r.Process(path, func(line string, n int64) error {
		return wantErr
	})
	if err == nil || !errors.Is(err, wantErr) {
		t.Fatalf("expected wrapped handler error, got %v", err)
	}
}

func TestHandlerErrorAbsorbedWithCallback(t *testing.T) {
	path := writeFile(t, "a\nb\nc\n")

	var seen int
	r := NewStreamReader(Options{
		OnError: func(err error) { seen++ },
	}, zap.NewNop())

	var handled int64
	stats, err := r.Process(path, func(line string, n int64) error {
		handled++
		if n == 2 {
			return errors.New("bad line")
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if seen != 1 {
		t.Fatalf("error callback fired %d times, want 1", seen)
	}
	if handled != 3 || stats.TotalLines != 3 {
		t.Fatalf("handled = %d stats.TotalLines = %d, want 3", handled, stats.TotalLines)
	}
}

func TestProgressCadence(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 25; i++ {
		sb.WriteString("line\n")
	}
	path := writeFile(t, sb.String())

	var reports [][2]int64
	r := NewStreamReader(Options{
		ProgressInterval: 10,
		OnProgress: func(current, total int64) {
			reports = append(reports, [2]int64{current, total})
		},
	}, zap.NewNop())

	if _, err := r.Process(path, func(line string, n int64) error { return nil }); err != nil {
		t.Fatal(err)
	}

	if len(reports) != 2 {
		t.Fatalf("progress fired %d times, want 2", len(reports))
	}
	if reports[0] != [2]int64{10, 25} || reports[1] != [2]int64{20, 25} {
		t.Fatalf("reports = %v", reports)
	}
}

func TestUTF8BOMStripped(t *testing.T) {
	path := writeFile(t, "\xEF\xBB\xBFfirst\nsecond\n")

	r := NewStreamReader(Options{}, zap.NewNop())
	var first string
	if _, err := r.Process(path, func(line string, n int64) error {
		if n == 1 {
			first = line
		}
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	if first != "first" {
		t.Fatalf("first line = %q, BOM not stripped", first)
	}
}

func TestEmptyFile(t *testing.T) {
	path := writeFile(t, "")

	r := NewStreamReader(Options{}, zap.NewNop())
	count, err := r.CountLines(path)
	if err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Fatalf("count = %d, want 0", count)
	}

	stats, err := r.Process(path, func(line string, n int64) error { return nil })
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalLines != 0 {
		t.Fatalf("stats.TotalLines = %d, want 0", stats.TotalLines)
	}
}
