package expert

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/conclave/pkg/a2a"
	"github.com/kadirpekel/conclave/pkg/config"
	"github.com/kadirpekel/conclave/pkg/retrieval"
	"github.com/kadirpekel/conclave/pkg/store"
	"github.com/kadirpekel/conclave/pkg/testutils"
	"github.com/kadirpekel/conclave/pkg/tools"
)

const htmlPage = `<html><head><title>Portfolio</title><script>trackVisitor()</script></head>
<body><nav>Home | About</nav><main><h1>Jane Doe</h1><p>Led the Go migration at Acme.</p></main>
<aside>Related links</aside><footer>Copyright</footer></body></html>`

func role(t *testing.T, name string) Role {
	t.Helper()
	for _, r := range BuiltinRoles() {
		if r.Name == name {
			return r
		}
	}
	t.Fatalf("no built-in role %q", name)
	return Role{}
}

func deps(t *testing.T, llm *testutils.ScriptedLLM) (Deps, *store.Store) {
	t.Helper()
	st := testutils.Store(t)
	return Deps{
		LLM:       llm,
		Store:     st,
		Embedder:  testutils.HashEmbedder(),
		Searcher:  retrieval.New(st, nil, config.RetrievalConfig{}, testutils.Resilience()),
		Retrieval: config.RetrievalConfig{},
	}, st
}

func TestPageContext(t *testing.T) {
	var nilPage *PageContext
	assert.True(t, nilPage.Empty())
	assert.Equal(t, "", nilPage.Render())
	assert.True(t, (&PageContext{Title: "x", Content: "  "}).Empty())

	p := &PageContext{Content: htmlPage}
	text := p.CleanContent()
	assert.Contains(t, text, "Led the Go migration at Acme.")
	for _, stripped := range []string{"trackVisitor", "Home | About", "Related links", "Copyright"} {
		assert.NotContains(t, text, stripped)
	}

	rendered := p.Render()
	assert.Contains(t, rendered, "Page Title: Unknown page\nPage URL: N/A\nPage Content:\n")

	plain := &PageContext{Title: "Notes", URL: "https://example.com", Content: "one\n\n  two\tthree"}
	assert.Equal(t, "Page Title: Notes\nPage URL: https://example.com\nPage Content:\none two three", plain.Render())
}

func TestPageContext_LimitKeepsValidUTF8(t *testing.T) {
	p := &PageContext{Content: "a" + strings.Repeat("é", pageContentLimit)}
	text := p.CleanContent()
	assert.True(t, utf8.ValidString(text))
	assert.Equal(t, pageContentLimit, utf8.RuneCountInString(text))
	assert.True(t, strings.HasPrefix(text, "aé"))
}

func TestRolePrompt(t *testing.T) {
	r := Role{Name: "Tester", Domain: "testing", Instructions: "Be brief."}
	assert.Equal(t, "You are a Tester with expertise in testing.\n\nInstructions:\nBe brief.\n\nRequest:\nhello", r.Prompt("hello"))
	assert.Equal(t, "You are a Tester with expertise in testing.\n\nInstructions:\nBe brief.", r.SystemPrompt())

	orch := OrchestratorRole(BuiltinRoles())
	assert.Contains(t, orch.BackgroundContext, "- Database Write Expert: resume database modifications")
	assert.Contains(t, orch.Instructions, `{"plan": []}`)
}

func TestCatalog(t *testing.T) {
	roles := Catalog([]config.ExpertConfig{
		{Name: Content, BackgroundContext: "extra"},
		{Name: "Travel Expert", Domain: "trips", Instructions: "Plan trips."},
	})
	require.Len(t, roles, 4)

	assert.Equal(t, Content, roles[2].Name)
	assert.Equal(t, "extra", roles[2].BackgroundContext)
	assert.Equal(t, ModeSingle, roles[2].Mode, "override keeps the built-in mode")
	assert.NotEmpty(t, roles[2].Instructions)

	assert.Equal(t, "Travel Expert", roles[3].Name)
	assert.Equal(t, ModeReAct, roles[3].Mode)
	assert.False(t, roles[3].AllowWrite)
}

func TestNew_ToolCatalogPerRole(t *testing.T) {
	d, _ := deps(t, testutils.NewScriptedLLM())
	d.Bus = a2a.NewBus(0)

	read, err := New(role(t, DatabaseRead), d)
	require.NoError(t, err)
	assert.Equal(t, []string{tools.StructuredQueryName, tools.SemanticSearchName, tools.CrawlURLName}, read.Tools().Names())

	content, err := New(role(t, Content), d)
	require.NoError(t, err)
	assert.Nil(t, content.Tools())

	_, err = New(Role{}, d)
	assert.Error(t, err)
	_, err = New(role(t, Content), Deps{})
	assert.Error(t, err)
}

func TestContentExpert_SingleCall(t *testing.T) {
	llm := testutils.NewScriptedLLM("Jane led the Go migration at Acme.")
	d, _ := deps(t, llm)
	e, err := New(role(t, Content), d)
	require.NoError(t, err)

	ans, err := e.Invoke(context.Background(), "What did Jane do?", &PageContext{Title: "Portfolio", URL: "https://jane.dev", Content: htmlPage})
	require.NoError(t, err)
	assert.Equal(t, Content, ans.Expert)
	assert.Equal(t, "Jane led the Go migration at Acme.", ans.Response)
	assert.Empty(t, ans.Steps)

	require.Equal(t, 1, llm.Calls())
	prompt := llm.Prompts()[0]
	assert.Contains(t, prompt, "You are a Content Expert")
	assert.Contains(t, prompt, "Page Title: Portfolio\nPage URL: https://jane.dev")
	assert.Contains(t, prompt, "User Question: What did Jane do?")
	assert.NotContains(t, prompt, "trackVisitor")
}

func TestContentExpert_ModelFailure(t *testing.T) {
	llm := testutils.NewScriptedLLM().ThenError(errors.New("connection refused"))
	d, _ := deps(t, llm)
	e, err := New(role(t, Content), d)
	require.NoError(t, err)

	ans, err := e.Invoke(context.Background(), "Summarize", nil)
	assert.Nil(t, ans)
	var ie *ExpertInvocationError
	require.True(t, errors.As(err, &ie))
	assert.Equal(t, Content, ie.Operation)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestReadExpert_QueriesThroughTools(t *testing.T) {
	llm := testutils.NewScriptedLLM(
		`{"thought": "count skills", "action": {"name": "structured_query", "input": {"sql": "SELECT COUNT(*) AS n FROM skills"}}}`,
		`{"thought": "done", "final_answer": "You have 1 skill."}`,
	)
	d, st := deps(t, llm)
	_, err := st.InsertRow(context.Background(), "skills", map[string]any{"name": "Go", "type": "Technical", "level": "Expert"}, nil)
	require.NoError(t, err)

	e, err := New(role(t, DatabaseRead), d)
	require.NoError(t, err)

	ans, err := e.Invoke(context.Background(), "How many skills do I have?", nil)
	require.NoError(t, err)
	assert.Equal(t, "You have 1 skill.", ans.Response)
	assert.Equal(t, 2, ans.Iterations)
	require.Len(t, ans.Steps, 2)
	assert.Contains(t, ans.Steps[0].Observation, `"n":1`)
}

func TestReadExpert_CannotWrite(t *testing.T) {
	llm := testutils.NewScriptedLLM(
		`{"thought": "clean up", "action": {"name": "structured_query", "input": {"sql": "DELETE FROM skills"}}}`,
		`{"thought": "refused", "final_answer": "I cannot modify data."}`,
	)
	d, st := deps(t, llm)
	_, err := st.InsertRow(context.Background(), "skills", map[string]any{"name": "Go"}, nil)
	require.NoError(t, err)

	e, err := New(role(t, DatabaseRead), d)
	require.NoError(t, err)

	ans, err := e.Invoke(context.Background(), "Delete my skills", nil)
	require.NoError(t, err)
	assert.Contains(t, ans.Steps[0].Observation, "write statements are not allowed")

	rows, err := st.Query(context.Background(), "SELECT COUNT(*) AS n FROM skills")
	require.NoError(t, err)
	assert.EqualValues(t, 1, rows[0]["n"])
}

func TestWriteExpert_Modifies(t *testing.T) {
	llm := testutils.NewScriptedLLM(
		`{"thought": "insert", "action": {"name": "structured_query", "input": {"sql": "INSERT INTO skills (name, type, level) VALUES (?, ?, ?)", "params": ["Rust", "Technical", "Beginner"]}}}`,
		`{"thought": "done", "final_answer": "Added Rust."}`,
	)
	d, st := deps(t, llm)
	e, err := New(role(t, DatabaseWrite), d)
	require.NoError(t, err)

	ans, err := e.Invoke(context.Background(), "Add Rust as a beginner skill", nil)
	require.NoError(t, err)
	assert.Equal(t, "Added Rust.", ans.Response)
	assert.JSONEq(t, `{"rows_affected":1}`, ans.Steps[0].Observation)

	rows, err := st.Query(context.Background(), "SELECT name FROM skills")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Rust", rows[0]["name"])
}

func TestReactExpert_IncompleteReturnsError(t *testing.T) {
	llm := testutils.NewScriptedLLM("I am not sure.")
	llm.Fallback = "still not JSON"
	d, _ := deps(t, llm)
	d.ReAct.MaxIterations = 2

	e, err := New(role(t, DatabaseRead), d)
	require.NoError(t, err)

	ans, err := e.Invoke(context.Background(), "Anything?", nil)
	require.Error(t, err)
	var ie *ExpertInvocationError
	require.True(t, errors.As(err, &ie))
	require.NotNil(t, ans)
	assert.True(t, ans.Incomplete)
	assert.Contains(t, ans.Response, "maximum iterations (2)")
}

func TestHandle(t *testing.T) {
	llm := testutils.NewScriptedLLM("The page is about Jane.")
	d, _ := deps(t, llm)
	bus := a2a.NewBus(0)
	experts, err := Register(bus, []Role{role(t, Content)}, d)
	require.NoError(t, err)
	require.Len(t, experts, 1)
	assert.Equal(t, []string{Content}, bus.Agents())

	ctx := context.Background()
	resp, err := bus.Request(ctx, Orchestrator, Content, ActionInvoke, map[string]any{
		"instruction": "What is this page about?",
		"page":        map[string]any{"title": "Portfolio", "content": "Jane Doe, Go engineer."},
	})
	require.NoError(t, err)
	require.True(t, resp.Succeeded(), resp.ErrorMessage())

	var ans Answer
	require.NoError(t, resp.DecodeResult(&ans))
	assert.Equal(t, "The page is about Jane.", ans.Response)
	assert.Contains(t, llm.Prompts()[0], "Jane Doe, Go engineer.")

	resp, err = bus.Request(ctx, Orchestrator, Content, "dance", nil)
	require.NoError(t, err)
	assert.False(t, resp.Succeeded())
	assert.Equal(t, "Unknown action: dance", resp.ErrorMessage())

	resp, err = bus.Request(ctx, Orchestrator, Content, ActionInvoke, map[string]any{"page": "not an object", "instruction": "x"})
	require.NoError(t, err)
	assert.False(t, resp.Succeeded())
	assert.Contains(t, resp.ErrorMessage(), "invalid page")

	_, err = Register(bus, []Role{role(t, Content)}, d)
	assert.Error(t, err, "duplicate ids are rejected")
}
