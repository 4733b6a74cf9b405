package providers

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/zeebo/blake3"
)

// ExchangeLog archives the raw prompt and output of every backend
// invocation in a per-run directory, one pair of files per exchange plus an
// index line with a blake3 content fingerprint. Append-only and safe for
// concurrent sibling steps.
type ExchangeLog struct {
	dir string

	mu  sync.Mutex
	seq int
}

// NewExchangeLog creates the run's exchange directory.
func NewExchangeLog(dir string) (*ExchangeLog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create exchange dir: %w", err)
	}
	return &ExchangeLog{dir: dir}, nil
}

// Dir returns the exchange directory path.
func (l *ExchangeLog) Dir() string { return l.dir }

// Record archives one exchange. Filenames carry a timestamp, a sequence
// number, and the step id, so concurrent siblings never collide.
func (l *ExchangeLog) Record(stepID, prompt string, res Result) error {
	l.mu.Lock()
	l.seq++
	seq := l.seq
	l.mu.Unlock()

	stamp := time.Now().UTC().Format("20060102T150405")
	base := fmt.Sprintf("%s-%03d-%s", stamp, seq, stepID)

	inputPath := filepath.Join(l.dir, base+".input.md")
	if err := os.WriteFile(inputPath, []byte(prompt), 0o644); err != nil {
		return fmt.Errorf("write exchange input: %w", err)
	}

	verdict := "ok"
	if !res.OK {
		verdict = "fail"
	}
	outputPath := filepath.Join(l.dir, fmt.Sprintf("%s.%s.output.md", base, verdict))
	if err := os.WriteFile(outputPath, []byte(res.Output), 0o644); err != nil {
		return fmt.Errorf("write exchange output: %w", err)
	}

	sum := blake3.Sum256([]byte(res.Output))
	line := fmt.Sprintf("%s step=%s ok=%t timed_out=%t elapsed=%s blake3=%x\n",
		base, stepID, res.OK, res.TimedOut, res.Elapsed.Round(time.Millisecond), sum[:8])
	return l.appendIndex(line)
}

func (l *ExchangeLog) appendIndex(line string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	f, err := os.OpenFile(filepath.Join(l.dir, "index.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open exchange index: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("append exchange index: %w", err)
	}
	return nil
}
