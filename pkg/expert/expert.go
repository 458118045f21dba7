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

// Package expert turns role configurations into agents on the A2A bus.
//
// A react-mode expert answers through the tool loop with its own tool
// catalog; only roles that allow writes get a structured_query tool that
// accepts INSERT, UPDATE and DELETE. A single-mode expert answers with one
// model call over the rendered role prompt and, when given, the page the
// user is viewing.
package expert

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/kadirpekel/conclave/pkg/a2a"
	"github.com/kadirpekel/conclave/pkg/config"
	"github.com/kadirpekel/conclave/pkg/crawler"
	"github.com/kadirpekel/conclave/pkg/model"
	"github.com/kadirpekel/conclave/pkg/observability"
	"github.com/kadirpekel/conclave/pkg/react"
	"github.com/kadirpekel/conclave/pkg/tools"
)

// ActionInvoke is the A2A action experts handle.
const ActionInvoke = "invoke"

// Deps are the collaborators shared by every expert.
type Deps struct {
	LLM      model.LLM
	Store    tools.SQLStore
	Embedder tools.QueryEmbedder
	Searcher tools.Searcher
	// Refresh re-embeds rows changed through structured_query.
	Refresh *tools.EmbeddingRefresh
	// Bus enables the crawl_url tool when set.
	Bus       tools.Requester
	CrawlerID string

	Retrieval config.RetrievalConfig
	ReAct     config.ReActConfig
}

// Answer is the output of one expert run.
type Answer struct {
	Expert     string                `json:"expert"`
	Response   string                `json:"response"`
	Steps      []react.ReasoningStep `json:"steps,omitempty"`
	Iterations int                   `json:"iterations,omitempty"`
	Incomplete bool                  `json:"incomplete,omitempty"`
}

type Expert struct {
	role  Role
	llm   model.LLM
	tools *tools.ToolRegistry
	loop  *react.Loop
}

func New(role Role, deps Deps) (*Expert, error) {
	if role.Name == "" {
		return nil, fmt.Errorf("expert name is required")
	}
	if deps.LLM == nil {
		return nil, fmt.Errorf("expert %s: llm is required", role.Name)
	}
	if role.Mode == "" {
		role.Mode = ModeReAct
	}

	e := &Expert{role: role, llm: deps.LLM}
	if role.Mode == ModeSingle {
		return e, nil
	}

	var catalog []tools.Tool
	if deps.Store != nil {
		catalog = append(catalog, tools.NewStructuredQueryTool(deps.Store, role.AllowWrite, tools.WithEmbeddingRefresh(deps.Refresh)))
	}
	if deps.Embedder != nil && deps.Searcher != nil {
		deps.Retrieval.SetDefaults()
		catalog = append(catalog, tools.NewSemanticSearchTool(deps.Embedder, deps.Searcher, deps.Retrieval.ReActThreshold, deps.Retrieval.Limit))
	}
	if deps.Bus != nil {
		crawlerID := deps.CrawlerID
		if crawlerID == "" {
			crawlerID = crawler.AgentID
		}
		catalog = append(catalog, tools.NewCrawlURLTool(deps.Bus, role.Name, crawlerID))
	}

	reg, err := tools.NewToolRegistry(catalog...)
	if err != nil {
		return nil, fmt.Errorf("expert %s: %w", role.Name, err)
	}
	e.tools = reg
	e.loop = react.NewLoop(deps.LLM, reg, deps.ReAct.MaxIterations)
	return e, nil
}

func (e *Expert) Role() Role { return e.role }

// Tools returns the expert's tool catalog, or nil in single mode.
func (e *Expert) Tools() *tools.ToolRegistry { return e.tools }

// Invoke runs the expert on instruction. A failed or incomplete run returns
// an *ExpertInvocationError together with whatever answer was produced.
func (e *Expert) Invoke(ctx context.Context, instruction string, page *PageContext) (*Answer, error) {
	ctx, span := observability.Tracer("conclave/expert").Start(ctx, observability.SpanExpert,
		trace.WithAttributes(attribute.String(observability.AttrExpert, e.role.Name)))

	start := time.Now()
	ans, err := e.invoke(ctx, instruction, page)

	observability.EndSpan(span, err)
	observability.GetGlobalMetrics().RecordExpert(ctx, e.role.Name, time.Since(start), err)
	return ans, err
}

func (e *Expert) invoke(ctx context.Context, instruction string, page *PageContext) (*Answer, error) {
	if strings.TrimSpace(instruction) == "" {
		return nil, NewExpertInvocationError(e.role.Name, "empty instruction", nil)
	}

	request := instruction
	if !page.Empty() {
		request = page.Render() + "\n\nUser Question: " + instruction
	}

	if e.role.Mode == ModeSingle {
		resp, err := e.llm.Generate(ctx, &model.Request{Prompt: e.role.Prompt(request)})
		if err != nil {
			return nil, NewExpertInvocationError(e.role.Name, "model call failed", err)
		}
		text := strings.TrimSpace(resp.Text)
		if text == "" {
			return nil, NewExpertInvocationError(e.role.Name, "empty response", nil)
		}
		return &Answer{Expert: e.role.Name, Response: text, Iterations: 1}, nil
	}

	res, err := e.loop.Run(ctx, e.role.SystemPrompt(), request)
	if err != nil {
		return nil, NewExpertInvocationError(e.role.Name, "cancelled", err)
	}

	ans := &Answer{
		Expert:     e.role.Name,
		Response:   res.Answer,
		Steps:      res.Steps,
		Iterations: res.Iterations,
		Incomplete: res.Incomplete,
	}
	if res.Incomplete {
		slog.Warn("Expert did not reach a final answer", "expert", e.role.Name, "iterations", res.Iterations, "error", res.Error)
		cause := errors.New(res.Answer)
		if res.Error != "" {
			cause = errors.New(res.Error)
		}
		return ans, NewExpertInvocationError(e.role.Name, "no final answer", cause)
	}
	return ans, nil
}

func (e *Expert) AgentID() string { return e.role.Name }

// Handle serves ActionInvoke requests with params instruction and an
// optional page object.
func (e *Expert) Handle(ctx context.Context, req *a2a.Message) (any, error) {
	if req.Action != ActionInvoke {
		return nil, fmt.Errorf("Unknown action: %s", req.Action)
	}

	instruction := req.StringParam("instruction")
	var page *PageContext
	if raw, ok := req.Params["page"]; ok && raw != nil {
		page = &PageContext{}
		if err := decodeParam(raw, page); err != nil {
			return nil, fmt.Errorf("invalid page: %w", err)
		}
	}

	ans, err := e.Invoke(ctx, instruction, page)
	if ans == nil {
		return nil, err
	}
	return ans, err
}

func decodeParam(raw any, out any) error {
	b, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}

// Register builds an expert per role and registers each on bus.
func Register(bus *a2a.Bus, roles []Role, deps Deps) ([]*Expert, error) {
	experts := make([]*Expert, 0, len(roles))
	for _, r := range roles {
		e, err := New(r, deps)
		if err != nil {
			return nil, err
		}
		if err := bus.Register(e); err != nil {
			return nil, fmt.Errorf("failed to register expert %s: %w", r.Name, err)
		}
		experts = append(experts, e)
	}
	return experts, nil
}

var _ a2a.Agent = (*Expert)(nil)
