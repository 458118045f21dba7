package expert

import (
	"strings"

	"github.com/kadirpekel/conclave/pkg/config"
)

// Built-in role names.
const (
	DatabaseRead  = "Database Read Expert"
	DatabaseWrite = "Database Write Expert"
	Content       = "Content Expert"
	Orchestrator  = "Orchestrator"
)

type Mode string

const (
	// ModeReAct runs the role through the tool loop.
	ModeReAct Mode = "react"
	// ModeSingle answers with one model call and no tools.
	ModeSingle Mode = "single"
)

// Role is a named expert configuration.
type Role struct {
	Name              string `json:"name"`
	Domain            string `json:"domain"`
	Instructions      string `json:"instructions"`
	BackgroundContext string `json:"background_context,omitempty"`
	FewShotExamples   string `json:"few_shot_examples,omitempty"`
	Mode              Mode   `json:"mode"`
	AllowWrite        bool   `json:"allow_write"`
}

const schemaContext = `Database schema (every table also has a 768-dimension embedding column for semantic search):
- institutions(inst_id, name, type, department, address, city, state, zip)
- positions(position_id, inst_id, title, responsibilities, start_date, end_date)
- experiences(experience_id, position_id, name, description, start_date, end_date, hyperlink)
- skills(skill_id, experience_id, name, type, level)
- documents(document_id, url, title, chunk_text, chunk_index, created_at): chunks of crawled web pages; join to experiences on documents.url = experiences.hyperlink`

// BuiltinRoles returns the default expert catalog.
func BuiltinRoles() []Role {
	return []Role{
		{
			Name:   DatabaseRead,
			Domain: "resume database queries with semantic search",
			Instructions: `Answer questions from the database. You have two ways to look things up:
1. semantic_search for abbreviations, synonyms and concept queries (for example "MSU" or "AI skills"). Try it first when the wording is ambiguous.
2. structured_query for exact matches, known ids, counts and joins.
Never modify data.`,
			BackgroundContext: schemaContext,
			FewShotExamples: `Q: Find my MSU experience
A: {"thought": "MSU is likely an abbreviation, search institutions semantically", "action": {"name": "semantic_search", "input": {"table": "institutions", "query": "MSU"}}}

Q: What AI skills do I have?
A: {"thought": "AI is a broad concept", "action": {"name": "semantic_search", "input": {"table": "skills", "query": "artificial intelligence machine learning"}}}

Q: How many positions are there?
A: {"thought": "an exact count", "action": {"name": "structured_query", "input": {"sql": "SELECT COUNT(*) AS n FROM positions"}}}`,
			Mode: ModeReAct,
		},
		{
			Name:   DatabaseWrite,
			Domain: "resume database modifications",
			Instructions: `Modify the database as requested using structured_query with INSERT, UPDATE or DELETE statements and ? placeholders.
Look up ids with a SELECT first instead of guessing them. Each statement runs in its own transaction.
Report exactly what changed.`,
			BackgroundContext: schemaContext,
			FewShotExamples: `Q: Add Python skill to first experience
A: {"thought": "find the first experience id", "action": {"name": "structured_query", "input": {"sql": "SELECT experience_id FROM experiences ORDER BY start_date ASC LIMIT 1"}}}
Observation: {"rows":[{"experience_id":3}],"count":1}
A: {"thought": "insert the skill", "action": {"name": "structured_query", "input": {"sql": "INSERT INTO skills (experience_id, name, type, level) VALUES (?, ?, ?, ?)", "params": [3, "Python", "Technical", "Intermediate"]}}}`,
			Mode:       ModeReAct,
			AllowWrite: true,
		},
		{
			Name:              Content,
			Domain:            "current page content analysis and contextual responses",
			Instructions:      "Analyze the provided page content and answer questions based on what is displayed. Reference specific information from the page when relevant. Provide clear, conversational responses.",
			BackgroundContext: "Page content is provided with its title, URL and cleaned text.",
			Mode:              ModeSingle,
		},
	}
}

// OrchestratorRole coordinates the experts. It is not registered as an
// expert itself.
func OrchestratorRole(experts []Role) Role {
	var avail strings.Builder
	avail.WriteString("Available experts:")
	for _, r := range experts {
		avail.WriteString("\n- " + r.Name + ": " + r.Domain)
	}

	return Role{
		Name:   Orchestrator,
		Domain: "multi-expert coordination and task analysis",
		Instructions: `Analyze the user request and decide which experts must handle it, in order.
Reply with one JSON object: {"plan": [{"expert": "<expert name>", "instruction": "<what this expert must do>", "independent": false}]}.
Later steps receive the results of earlier steps. Mark a step independent only when it needs no earlier result.
Reply with {"plan": []} when no expert is needed and the request can be answered directly.`,
		BackgroundContext: avail.String(),
		FewShotExamples: `Q: Check if I have React skills and add it to my first experience if missing
A: {"plan": [{"expert": "Database Read Expert", "instruction": "Check for React skills in experiences and skills"}, {"expert": "Database Write Expert", "instruction": "Add a React skill to the first experience if it is missing"}]}`,
		Mode: ModeSingle,
	}
}

// Prompt renders the role template around request. Empty sections are
// left out.
func (r Role) Prompt(request string) string {
	var b strings.Builder
	b.WriteString(r.SystemPrompt())
	if request != "" {
		b.WriteString("\n\nRequest:\n")
		b.WriteString(request)
	}
	return b.String()
}

// SystemPrompt renders the role template without a request.
func (r Role) SystemPrompt() string {
	var b strings.Builder
	b.WriteString("You are a " + r.Name)
	if r.Domain != "" {
		b.WriteString(" with expertise in " + r.Domain)
	}
	b.WriteString(".")
	for _, section := range []struct{ title, body string }{
		{"Instructions", r.Instructions},
		{"Context", r.BackgroundContext},
		{"Examples", r.FewShotExamples},
	} {
		if strings.TrimSpace(section.body) == "" {
			continue
		}
		b.WriteString("\n\n" + section.title + ":\n" + section.body)
	}
	return b.String()
}

// Catalog merges configured overrides into the built-in roles. An override
// with a built-in name replaces the fields it sets; any other name adds a
// role.
func Catalog(overrides []config.ExpertConfig) []Role {
	roles := BuiltinRoles()
	index := make(map[string]int, len(roles))
	for i, r := range roles {
		index[r.Name] = i
	}

	for _, o := range overrides {
		i, ok := index[o.Name]
		if !ok {
			roles = append(roles, Role{Name: o.Name, Mode: ModeReAct})
			i = len(roles) - 1
			index[o.Name] = i
		}
		r := &roles[i]
		if o.Domain != "" {
			r.Domain = o.Domain
		}
		if o.Instructions != "" {
			r.Instructions = o.Instructions
		}
		if o.BackgroundContext != "" {
			r.BackgroundContext = o.BackgroundContext
		}
		if o.FewShotExamples != "" {
			r.FewShotExamples = o.FewShotExamples
		}
		if o.Mode != "" {
			r.Mode = Mode(o.Mode)
		}
		if o.AllowWrite {
			r.AllowWrite = true
		}
	}
	return roles
}
