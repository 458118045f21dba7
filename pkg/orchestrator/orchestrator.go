// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package orchestrator answers a chat message by planning which experts
// to ask, asking them over the A2A bus and merging their answers.
//
// Execution follows the plan order. Each step sees the results of the
// steps before it, so a write step can rely on what a read step found.
// A failed step is recorded and the plan continues.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/kadirpekel/conclave/pkg/a2a"
	"github.com/kadirpekel/conclave/pkg/config"
	"github.com/kadirpekel/conclave/pkg/expert"
	"github.com/kadirpekel/conclave/pkg/model"
	"github.com/kadirpekel/conclave/pkg/observability"
	"github.com/kadirpekel/conclave/pkg/session"
)

// SynthesizerInstruction is the system prompt of the synthesis call.
const SynthesizerInstruction = "You are a response synthesizer who integrates multiple expert results into coherent answers."

// NoAnswer is returned when a direct answer cannot be produced.
const NoAnswer = "Unable to synthesize response."

// historyTurns is how much conversation the planner sees.
const historyTurns = 6

// Requester sends A2A requests.
type Requester interface {
	Request(ctx context.Context, sender, recipient, action string, params map[string]any) (*a2a.Message, error)
}

// StepResult is the outcome of one plan step.
type StepResult struct {
	Expert      string `json:"expert"`
	Instruction string `json:"instruction"`
	Response    string `json:"response"`
	Success     bool   `json:"success"`
	Error       string `json:"error,omitempty"`
	Iterations  int    `json:"iterations,omitempty"`
	Incomplete  bool   `json:"incomplete,omitempty"`
}

// Result is the answer to one chat message.
type Result struct {
	Response      string       `json:"response"`
	Plan          []Step       `json:"orchestrator_calls"`
	ExpertResults []StepResult `json:"expert_results"`
	// Synthesized is false when the synthesis call failed and Response is
	// the concatenated fallback.
	Synthesized bool `json:"synthesized"`
}

type Orchestrator struct {
	llm  model.LLM
	bus  Requester
	role expert.Role
	cfg  config.OrchestratorConfig
}

// New builds an orchestrator that plans over experts.
func New(llm model.LLM, bus Requester, experts []expert.Role, cfg config.OrchestratorConfig) *Orchestrator {
	cfg.SetDefaults()
	return &Orchestrator{
		llm:  llm,
		bus:  bus,
		role: expert.OrchestratorRole(experts),
		cfg:  cfg,
	}
}

// Handle plans, executes and synthesizes. sess may be nil. The error is
// non-nil only when ctx ends.
func (o *Orchestrator) Handle(ctx context.Context, sess *session.Session, message string, page *expert.PageContext) (*Result, error) {
	attrs := []attribute.KeyValue{}
	if sess != nil {
		attrs = append(attrs, attribute.String(observability.AttrSessionID, sess.ID()))
	}
	ctx, span := observability.Tracer("conclave/orchestrator").Start(ctx, observability.SpanOrchestrate, trace.WithAttributes(attrs...))

	res, err := o.handle(ctx, sess, message, page)
	observability.EndSpan(span, err)
	return res, err
}

func (o *Orchestrator) handle(ctx context.Context, sess *session.Session, message string, page *expert.PageContext) (*Result, error) {
	steps := o.Decompose(ctx, sess, message, page)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res := &Result{Plan: steps}
	if len(steps) == 0 {
		res.Response, res.Synthesized = o.direct(ctx, message, page)
		res.ExpertResults = []StepResult{}
		return res, ctx.Err()
	}

	results, err := o.Execute(ctx, steps, page)
	if err != nil {
		return nil, err
	}
	res.ExpertResults = results
	res.Response, res.Synthesized = o.Synthesize(ctx, message, results)
	if sess != nil {
		sess.Set("last_plan", steps)
	}
	return res, ctx.Err()
}

// Decompose asks the coordinator for a plan. A reply that cannot be parsed
// yields an empty plan. Plans longer than the configured maximum are cut.
func (o *Orchestrator) Decompose(ctx context.Context, sess *session.Session, message string, page *expert.PageContext) []Step {
	var prompt strings.Builder
	if sess != nil {
		if turns := sess.Turns(historyTurns); len(turns) > 0 {
			prompt.WriteString("Conversation so far:\n")
			for _, t := range turns {
				prompt.WriteString(t.Role + ": " + t.Text + "\n")
			}
			prompt.WriteString("\n")
		}
	}
	if !page.Empty() {
		fmt.Fprintf(&prompt, "The user is viewing the page %q (%s).\n\n", page.Title, page.URL)
	}
	prompt.WriteString("User request: " + message)

	resp, err := o.llm.Generate(ctx, &model.Request{
		SystemInstruction: o.role.SystemPrompt(),
		Prompt:            prompt.String(),
		JSON:              true,
	})
	if err != nil {
		slog.Warn("Plan decomposition failed, answering directly", "error", err)
		return nil
	}

	steps, err := ParsePlan(resp.Text)
	if err != nil {
		slog.Warn("Unparseable plan, answering directly", "error", err, "reply", truncate(resp.Text, 200))
		return nil
	}
	if len(steps) > o.cfg.MaxSteps {
		slog.Warn("Plan exceeds step limit, truncating", "steps", len(steps), "max_steps", o.cfg.MaxSteps)
		steps = steps[:o.cfg.MaxSteps]
	}
	slog.Debug("Decomposed request", "steps", len(steps))
	return steps
}

// Execute runs steps in plan order. Each step's instruction carries the
// results of every step completed before it. Step failures are recorded
// in the results; the error is non-nil only when ctx ends.
func (o *Orchestrator) Execute(ctx context.Context, steps []Step, page *expert.PageContext) ([]StepResult, error) {
	results := make([]StepResult, len(steps))

	done := 0
	for _, group := range groups(steps, o.cfg.ParallelIndependent) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		prior := results[:done]

		if len(group) == 1 {
			i := group[0]
			results[i] = o.runStep(ctx, steps[i], prior, page)
			done++
			continue
		}

		g, gctx := errgroup.WithContext(ctx)
		for _, i := range group {
			g.Go(func() error {
				results[i] = o.runStep(gctx, steps[i], prior, page)
				return nil
			})
		}
		_ = g.Wait()
		done += len(group)
	}
	return results, ctx.Err()
}

func (o *Orchestrator) runStep(ctx context.Context, step Step, prior []StepResult, page *expert.PageContext) StepResult {
	out := StepResult{Expert: step.Expert, Instruction: step.Instruction}

	instruction := step.Instruction
	if len(prior) > 0 {
		instruction += "\n\nPrevious expert results:\n" + renderPrior(prior)
	}

	params := map[string]any{"instruction": instruction}
	if !page.Empty() {
		params["page"] = page
	}

	resp, err := o.bus.Request(ctx, expert.Orchestrator, step.Expert, expert.ActionInvoke, params)
	if err != nil {
		slog.Warn("Expert step failed", "expert", step.Expert, "error", err)
		out.Error = err.Error()
		out.Response = "Error: " + err.Error()
		return out
	}

	var ans expert.Answer
	if resp.Result() != nil {
		if err := resp.DecodeResult(&ans); err != nil {
			slog.Debug("Unexpected expert result shape", "expert", step.Expert, "error", err)
		}
	}
	out.Iterations = ans.Iterations
	out.Incomplete = ans.Incomplete
	out.Response = ans.Response

	if !resp.Succeeded() {
		out.Error = resp.ErrorMessage()
		if out.Response == "" {
			out.Response = "Error: " + out.Error
		}
		slog.Warn("Expert step failed", "expert", step.Expert, "error", out.Error)
		return out
	}
	out.Success = true
	return out
}

func renderPrior(prior []StepResult) string {
	var b strings.Builder
	for _, r := range prior {
		status := "succeeded"
		if !r.Success {
			status = "failed"
		}
		fmt.Fprintf(&b, "- %s (%s): %s\n", r.Expert, status, r.Response)
	}
	return strings.TrimRight(b.String(), "\n")
}

// Synthesize merges the step results into one answer. When the model call
// fails the results are concatenated instead and the flag is false.
func (o *Orchestrator) Synthesize(ctx context.Context, message string, results []StepResult) (string, bool) {
	encoded, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return concatenate(results), false
	}

	prompt := fmt.Sprintf("Based on the following expert execution results, provide a comprehensive response to the user's question: %q\n\n"+
		"Expert Results:\n%s\n\nProvide a clear, integrated response that addresses the original question.", message, encoded)

	resp, err := o.llm.Generate(ctx, &model.Request{SystemInstruction: SynthesizerInstruction, Prompt: prompt})
	if err != nil || strings.TrimSpace(resp.Text) == "" {
		slog.Warn("Synthesis failed, concatenating expert results", "error", err)
		return concatenate(results), false
	}
	return strings.TrimSpace(resp.Text), true
}

func (o *Orchestrator) direct(ctx context.Context, message string, page *expert.PageContext) (string, bool) {
	prompt := message
	if !page.Empty() {
		prompt = page.Render() + "\n\nUser Question: " + message
	}
	resp, err := o.llm.Generate(ctx, &model.Request{
		SystemInstruction: SynthesizerInstruction + " No expert was needed; answer the user directly.",
		Prompt:            prompt,
	})
	if err != nil || strings.TrimSpace(resp.Text) == "" {
		slog.Warn("Direct answer failed", "error", err)
		return NoAnswer, false
	}
	return strings.TrimSpace(resp.Text), true
}

func concatenate(results []StepResult) string {
	var b strings.Builder
	for i, r := range results {
		if i > 0 {
			b.WriteString("\n\n")
		}
		if r.Success {
			fmt.Fprintf(&b, "[%s] %s", r.Expert, r.Response)
		} else {
			fmt.Fprintf(&b, "[%s] failed: %s", r.Expert, r.Error)
		}
	}
	return b.String()
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
