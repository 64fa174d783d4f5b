package mcp

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
)

// ToolCategory groups tools by what they operate on.
type ToolCategory string

const (
	CategoryAudit   ToolCategory = "audit"
	CategoryTasks   ToolCategory = "tasks"
	CategoryReports ToolCategory = "reports"
	CategorySearch  ToolCategory = "search"
)

// ToolMetadata describes one registered tool.
type ToolMetadata struct {
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Category    ToolCategory `json:"category"`
	Keywords    []string     `json:"keywords,omitempty"`
}

func (m *ToolMetadata) validate() error {
	switch {
	case m == nil:
		return errors.New("tool metadata is required")
	case m.Name == "":
		return errors.New("tool name is required")
	case m.Description == "":
		return errors.New("tool description is required")
	case m.Category == "":
		return errors.New("tool category is required")
	}
	return nil
}

// ToolRegistry indexes tool metadata for discovery.
type ToolRegistry struct {
	mu    sync.RWMutex
	tools map[string]*ToolMetadata
}

// NewToolRegistry creates an empty registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{tools: make(map[string]*ToolMetadata)}
}

// Register adds a tool. Names are unique.
func (r *ToolRegistry) Register(tool *ToolMetadata) error {
	if err := tool.validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[tool.Name]; ok {
		return fmt.Errorf("tool %q already registered", tool.Name)
	}
	r.tools[tool.Name] = tool
	return nil
}

// Get returns the metadata for name.
func (r *ToolRegistry) Get(name string) (*ToolMetadata, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// List returns every tool sorted by name. A non-empty category filters.
func (r *ToolRegistry) List(category ToolCategory) []*ToolMetadata {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*ToolMetadata, 0, len(r.tools))
	for _, tool := range r.tools {
		if category == "" || tool.Category == category {
			out = append(out, tool)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Count returns the number of registered tools.
func (r *ToolRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// SearchResult is one tool matched by Search.
type SearchResult struct {
	Tool *ToolMetadata `json:"tool"`
	// Score is 3 for an exact name, 2 for a name match, 1 for description
	// or keyword matches.
	Score       int    `json:"score"`
	MatchReason string `json:"match_reason"`
}

// Search matches query against names, descriptions and keywords, case
// insensitively. A query that compiles as a regular expression is also
// matched as one. Results are ordered by score, then name.
func (r *ToolRegistry) Search(query string) []SearchResult {
	if strings.TrimSpace(query) == "" {
		return nil
	}
	q := strings.ToLower(query)
	re, _ := regexp.Compile("(?i)" + query)
	matches := func(s string) bool {
		return strings.Contains(strings.ToLower(s), q) || (re != nil && re.MatchString(s))
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []SearchResult
	for _, tool := range r.tools {
		switch {
		case strings.ToLower(tool.Name) == q:
			out = append(out, SearchResult{Tool: tool, Score: 3, MatchReason: "exact name"})
		case matches(tool.Name):
			out = append(out, SearchResult{Tool: tool, Score: 2, MatchReason: "name"})
		case matches(tool.Description):
			out = append(out, SearchResult{Tool: tool, Score: 1, MatchReason: "description"})
		default:
			for _, kw := range tool.Keywords {
				if matches(kw) {
					out = append(out, SearchResult{Tool: tool, Score: 1, MatchReason: "keyword"})
					break
				}
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Tool.Name < out[j].Tool.Name
	})
	return out
}
