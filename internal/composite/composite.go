// Package composite couples a reasoning upstream with a target upstream.
// The orchestrator streams the reasoner until its answer begins, cancels it,
// folds the captured reasoning chain into the final user turn, and then
// streams the target model's answer.
package composite

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/DreamFate/DeepClaude/internal/client"
	"github.com/DreamFate/DeepClaude/internal/protocol"
)

// rewriteUserTurn folds the reasoning chain into the original user content.
// The wording and whitespace are deliberate; prompt behavior depends on the
// exact text, so do not reformat it.
func rewriteUserTurn(original, reasoning string) string {
	return fmt.Sprintf("Here's my original input:\n%s\n\n"+
		"\n                ******The above is user information*****\n"+
		"                The following is the reasoning process of another model:****\n"+
		"%s\n\n ****\n"+
		"                Based on this reasoning, combined with your knowledge,\n"+
		"                when the current reasoning conflicts with your knowledge,\n"+
		"                you are more confident that you can adopt your own knowledge,\n"+
		"                which is completely acceptable. Please provide the user with a complete answer directly.\n"+
		"                ***Notice, Here is your settings: SELF_TALK: off REASONING: off THINKING: off PLANNING: off THINKING_BUDGET: < 100 tokens ***:",
		original, reasoning)
}

// Params names the two coupled models and their per-model behavior flags.
type Params struct {
	ReasoningModel  string
	TargetModel     string
	ReasoningParams client.Params
	TargetParams    client.Params
}

// Orchestrator runs the two-stage pipeline over a pair of upstream clients.
type Orchestrator struct {
	reasoner client.Client
	target   client.Client
}

// New builds an orchestrator from an already-constructed client pair.
func New(reasoner, target client.Client) *Orchestrator {
	return &Orchestrator{reasoner: reasoner, target: target}
}

// StreamChat runs the pipeline and returns the combined canonical stream.
// Reasoning-stage chunks are forwarded to the caller as they arrive, then
// the target's chunks follow; the two stages never interleave. The caller's
// cancel signal cascades into whichever upstream is active.
func (o *Orchestrator) StreamChat(ctx context.Context, chatID string, messages []protocol.Message, args map[string]any, p Params, cancel *client.CancelSignal) *client.ChunkStream {
	out := client.NewChunkStream()
	go func() {
		out.Close(o.run(ctx, out, chatID, messages, args, p, cancel))
	}()
	return out
}

func (o *Orchestrator) run(ctx context.Context, out *client.ChunkStream, chatID string, messages []protocol.Message, args map[string]any, p Params, cancel *client.CancelSignal) error {
	reasoning, canceled, err := o.streamReasoning(ctx, out, chatID, messages, args, p, cancel)
	if err != nil || canceled {
		return err
	}
	if reasoning == "" {
		return protocol.NewClientAPIError("no valid reasoning content")
	}

	rewritten, err := rewriteMessages(messages, reasoning)
	if err != nil {
		return err
	}
	if cancel != nil && cancel.IsSet() {
		logrus.Infof("chat %s canceled before target stage", chatID)
		return nil
	}

	return o.streamTarget(ctx, out, chatID, rewritten, args, p, cancel)
}

// streamReasoning forwards the reasoner's chunks until its own answer begins.
// The first chunk carrying non-empty content marks the reasoning boundary;
// the reasoner is cut off there and its accumulated chain returned.
func (o *Orchestrator) streamReasoning(ctx context.Context, out *client.ChunkStream, chatID string, messages []protocol.Message, args map[string]any, p Params, cancel *client.CancelSignal) (reasoning string, canceled bool, err error) {
	rCancel := client.NewCancelSignal()
	defer rCancel.Set()
	defer cascade(cancel, rCancel)()

	var buf strings.Builder
	stream := o.reasoner.StreamChat(ctx, chatID, p.ReasoningModel, messages, args, p.ReasoningParams, rCancel)
	for stream.Next() {
		if cancel != nil && cancel.IsSet() {
			logrus.Infof("chat %s canceled during reasoning stage", chatID)
			go drain(stream)
			return "", true, nil
		}
		chunk := stream.Current()
		if !out.Send(ctx, chunk, cancel) {
			go drain(stream)
			return "", true, nil
		}

		boundary := false
		for _, choice := range chunk.Choices {
			buf.WriteString(choice.Delta.ReasoningContent)
			if choice.Delta.Content != "" {
				boundary = true
			}
		}
		if boundary {
			logrus.Debugf("chat %s reasoning boundary reached, disconnecting reasoner", chatID)
			rCancel.Set()
			go drain(stream)
			return buf.String(), false, nil
		}
	}
	return buf.String(), false, stream.Err()
}

func (o *Orchestrator) streamTarget(ctx context.Context, out *client.ChunkStream, chatID string, messages []protocol.Message, args map[string]any, p Params, cancel *client.CancelSignal) error {
	tCancel := client.NewCancelSignal()
	defer tCancel.Set()
	defer cascade(cancel, tCancel)()

	stream := o.target.StreamChat(ctx, chatID, p.TargetModel, messages, args, p.TargetParams, tCancel)
	for stream.Next() {
		if cancel != nil && cancel.IsSet() {
			logrus.Infof("chat %s canceled during target stage", chatID)
			go drain(stream)
			return nil
		}
		if !out.Send(ctx, stream.Current(), cancel) {
			go drain(stream)
			return nil
		}
	}
	return stream.Err()
}

// rewriteMessages copies the conversation and replaces the final user turn.
func rewriteMessages(messages []protocol.Message, reasoning string) ([]protocol.Message, error) {
	if len(messages) == 0 || messages[len(messages)-1].Role != "user" {
		return nil, protocol.NewClientAPIError("no valid user message")
	}
	rewritten := make([]protocol.Message, len(messages))
	copy(rewritten, messages)
	last := &rewritten[len(rewritten)-1]
	last.Content = rewriteUserTurn(last.Content, reasoning)
	return rewritten, nil
}

// cascade relays the caller's cancel signal into a stage signal so a waiting
// upstream read is released without waiting for the next chunk. The returned
// stop function tears the relay down when the stage ends.
func cascade(from, to *client.CancelSignal) func() {
	if from == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-from.Done():
			to.Set()
		case <-done:
		}
	}()
	return func() { close(done) }
}

// drain consumes a stream's remaining chunks so its producer goroutine can
// exit once the stage cancel signal fires. Run it off the orchestration path.
func drain(s *client.ChunkStream) {
	for s.Next() {
	}
}
