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

// Package react runs the reason/act loop experts use to answer with tools.
//
// Each iteration asks the model for one JSON decision: a tool call or a
// final answer. Tool calls run one at a time and their observation is
// complete before the next model call. The loop stops at a final answer,
// an LLM failure or the iteration cap; the last two yield an incomplete
// result rather than an error.
package react

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kadirpekel/conclave/pkg/model"
	"github.com/kadirpekel/conclave/pkg/tools"
)

// DefaultMaxIterations bounds the loop when none is configured.
const DefaultMaxIterations = 8

// observationLimit caps how much of one observation is replayed to the
// model.
const observationLimit = 4000

// ReasoningStep records one iteration.
type ReasoningStep struct {
	Thought     string `json:"thought,omitempty"`
	ActionName  string `json:"action_name,omitempty"`
	ActionInput string `json:"action_input,omitempty"`
	Observation string `json:"observation,omitempty"`
	FinalAnswer string `json:"final_answer,omitempty"`
}

// Result is the outcome of a run.
type Result struct {
	Answer     string          `json:"answer"`
	Steps      []ReasoningStep `json:"steps"`
	Iterations int             `json:"iterations"`
	// Incomplete is set when the loop ended without a final answer.
	Incomplete bool   `json:"incomplete"`
	Error      string `json:"error,omitempty"`
}

// Toolbox is the tool catalog the loop dispatches to.
type Toolbox interface {
	Validator
	Execute(ctx context.Context, name string, args map[string]any) (tools.ToolResult, error)
	Describe() string
}

type Loop struct {
	llm           model.LLM
	tools         Toolbox
	maxIterations int
}

func NewLoop(llm model.LLM, toolbox Toolbox, maxIterations int) *Loop {
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}
	return &Loop{llm: llm, tools: toolbox, maxIterations: maxIterations}
}

// Run answers question. role is prepended to the loop's own instructions.
// The error is non-nil only when ctx ends.
func (l *Loop) Run(ctx context.Context, role, question string) (*Result, error) {
	system := l.systemInstruction(role)
	res := &Result{}

	for res.Iterations < l.maxIterations {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res.Iterations++

		resp, err := l.llm.Generate(ctx, &model.Request{
			SystemInstruction: system,
			Prompt:            transcript(question, res.Steps),
			JSON:              true,
		})
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			slog.Warn("ReAct model call failed", "iteration", res.Iterations, "error", err)
			res.Incomplete = true
			res.Error = err.Error()
			res.Answer = fmt.Sprintf("LLM error: %v", err)
			return res, nil
		}

		decision, err := ParseDecision(resp.Text, l.tools)
		if err != nil {
			var pe *ParseError
			errors.As(err, &pe)
			slog.Debug("ReAct reply rejected", "iteration", res.Iterations, "error", err)
			res.Steps = append(res.Steps, ReasoningStep{
				Observation: correction(pe),
			})
			continue
		}

		if decision.IsFinal() {
			res.Steps = append(res.Steps, ReasoningStep{
				Thought:     decision.Thought,
				FinalAnswer: decision.FinalAnswer,
			})
			res.Answer = decision.FinalAnswer
			return res, nil
		}

		step := ReasoningStep{
			Thought:     decision.Thought,
			ActionName:  decision.Action.Name,
			ActionInput: encode(decision.Action.Input),
		}
		out, err := l.tools.Execute(ctx, decision.Action.Name, decision.Action.Input)
		switch {
		case err != nil && ctx.Err() != nil:
			return nil, ctx.Err()
		case err != nil:
			step.Observation = "Error: " + err.Error()
		default:
			step.Observation = out.Content
		}
		slog.Debug("ReAct step", "iteration", res.Iterations, "action", step.ActionName)
		res.Steps = append(res.Steps, step)
	}

	res.Incomplete = true
	res.Answer = bestEffort(res.Steps, l.maxIterations)
	return res, nil
}

func (l *Loop) systemInstruction(role string) string {
	var b strings.Builder
	if role != "" {
		b.WriteString(role)
		b.WriteString("\n\n")
	}
	b.WriteString("You answer by reasoning step by step and calling tools.\n\nAvailable tools:\n")
	b.WriteString(l.tools.Describe())
	b.WriteString(`

Reply with exactly one JSON object and nothing else.
To call a tool:
{"thought": "why this tool", "action": {"name": "<tool name>", "input": {<parameters>}}}
When you can answer:
{"thought": "what you found", "final_answer": "<answer for the user>"}

Call one tool per reply. Each tool result comes back as an Observation.
Prefer semantic_search for abbreviations, synonyms and broad concepts; use structured_query for exact matches and known ids.`)
	return b.String()
}

// transcript renders the question and every step so far.
func transcript(question string, steps []ReasoningStep) string {
	var b strings.Builder
	b.WriteString("Question: ")
	b.WriteString(question)
	b.WriteString("\n")
	for _, s := range steps {
		b.WriteString("\n")
		if s.ActionName != "" {
			fmt.Fprintf(&b, "Reply: %s\n", encode(map[string]any{
				"thought": s.Thought,
				"action":  map[string]any{"name": s.ActionName, "input": json.RawMessage(s.ActionInput)},
			}))
		}
		fmt.Fprintf(&b, "Observation: %s\n", truncate(s.Observation, observationLimit))
	}
	return b.String()
}

func correction(pe *ParseError) string {
	msg := "your reply could not be used"
	if pe != nil {
		msg = pe.Message
		if pe.Err != nil {
			msg += ": " + pe.Err.Error()
		}
	}
	return "Error: " + msg + `. Reply with one JSON object: {"thought": ..., "action": {"name": ..., "input": {...}}} or {"thought": ..., "final_answer": ...}.`
}

// bestEffort summarizes a run that hit the cap.
func bestEffort(steps []ReasoningStep, limit int) string {
	msg := fmt.Sprintf("Unable to complete request after maximum iterations (%d).", limit)
	for i := len(steps) - 1; i >= 0; i-- {
		s := steps[i]
		if s.ActionName != "" && !strings.HasPrefix(s.Observation, "Error:") && s.Observation != "" {
			return msg + " The last result found was: " + truncate(s.Observation, 1000)
		}
	}
	return msg
}

func encode(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(data)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := 0
	for i := range s {
		if i > n {
			break
		}
		cut = i
	}
	return s[:cut] + "..."
}
