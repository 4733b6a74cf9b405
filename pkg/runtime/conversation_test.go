package runtime

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ormasoftchile/agentflow/pkg/providers"
	"github.com/ormasoftchile/agentflow/pkg/schema"
)

// queuePrompter feeds canned operator replies.
type queuePrompter struct {
	replies []string
}

func (p *queuePrompter) ReadReply(string) (string, error) {
	if len(p.replies) == 0 {
		return "", io.EOF
	}
	r := p.replies[0]
	p.replies = p.replies[1:]
	return r, nil
}

func interactiveFlow() *schema.Flow {
	return &schema.Flow{
		Version: "flow/v1",
		Name:    "chat",
		Steps: []schema.Step{
			{ID: "interview", Kind: schema.KindInteractive, Template: "i.md",
				Outputs: []string{"docs/idea.md"}},
		},
	}
}

// multiTurnBackend completes only after it has seen the operator's answer,
// recording the prompt it received each turn.
type multiTurnBackend struct {
	turns   int
	prompts []string
}

func (b *multiTurnBackend) Name() string { return "multiturn" }

func (b *multiTurnBackend) Execute(_ context.Context, req providers.Request) providers.Result {
	b.turns++
	b.prompts = append(b.prompts, req.Prompt)
	if b.turns == 1 {
		return providers.Result{OK: true, Output: "What platforms should we target?"}
	}
	return providers.Result{OK: true, Output: "# Idea\n\nTargets: linux and macos\n===COMPLETE===\n"}
}

func TestInteractiveConversationCompletes(t *testing.T) {
	r := newTestRun(t, interactiveFlow(), nil)
	backend := &multiTurnBackend{}
	r.rc.Backend = backend
	r.rc.Prompter = &queuePrompter{replies: []string{"linux and macos"}}

	out, err := r.engine.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out.Status != OutcomeCompleted {
		t.Errorf("status = %q", out.Status)
	}
	if backend.turns != 2 {
		t.Fatalf("turns = %d, want 2", backend.turns)
	}

	// The backend is stateless, so the second turn must carry the whole
	// conversation: instructions, the model's question, the operator's reply.
	second := backend.prompts[1]
	for _, want := range []string{"instructions for interview", "What platforms should we target?", "linux and macos"} {
		if !strings.Contains(second, want) {
			t.Errorf("second turn prompt missing %q:\n%s", want, second)
		}
	}

	doc, err := os.ReadFile(filepath.Join(r.dir, "docs/idea.md"))
	if err != nil {
		t.Fatalf("output missing: %v", err)
	}
	if !strings.Contains(string(doc), "linux and macos") {
		t.Errorf("final turn content missing from output: %q", doc)
	}

	// The whole conversation lands in the transcript.
	matches, _ := filepath.Glob(filepath.Join(r.dir, "_runs", r.rc.RunID, "transcript-interview.md"))
	if len(matches) != 1 {
		t.Fatalf("transcript files = %v", matches)
	}
	transcript, _ := os.ReadFile(matches[0])
	for _, want := range []string{"What platforms", "linux and macos", "Turn 2"} {
		if !strings.Contains(string(transcript), want) {
			t.Errorf("transcript missing %q", want)
		}
	}
}

func TestInteractiveOperatorEOFFailsStep(t *testing.T) {
	r := newTestRun(t, interactiveFlow(), nil)
	r.rc.Backend = &multiTurnBackend{}
	r.rc.Prompter = &queuePrompter{} // immediate EOF

	_, err := r.engine.Run(context.Background())
	if err == nil {
		t.Fatal("expected failure when the operator ends the session")
	}
	if !strings.Contains(err.Error(), "interview") {
		t.Errorf("error should name the step: %v", err)
	}
}

// TestConversationBudgetSpansTurns verifies the step timeout covers the
// whole conversation, not each turn separately.
func TestConversationBudgetSpansTurns(t *testing.T) {
	fl := interactiveFlow()
	fl.Steps[0].TimeoutSec = 1
	fl.Steps[0].Outputs = nil
	r := newTestRun(t, fl, nil)

	slow := &slowBackend{delay: 700 * time.Millisecond}
	r.rc.Backend = slow
	r.rc.Prompter = &queuePrompter{replies: []string{"more", "more", "more", "more"}}

	_, err := r.engine.Run(context.Background())
	if err == nil {
		t.Fatal("expected budget exhaustion")
	}
	if slow.calls > 2 {
		t.Errorf("budget should stop the loop, got %d turns", slow.calls)
	}
}

type slowBackend struct {
	delay time.Duration
	calls int
}

func (b *slowBackend) Name() string { return "slow" }

func (b *slowBackend) Execute(_ context.Context, req providers.Request) providers.Result {
	b.calls++
	time.Sleep(b.delay)
	return providers.Result{OK: true, Output: "keep going, no marker here"}
}
