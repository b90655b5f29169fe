package llmtools

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// HandlerFunc executes one tool call.
type HandlerFunc func(ctx context.Context, args map[string]interface{}) (interface{}, error)

// Tool is one callable exposed to language-model clients. Parameters
// is a JSON-Schema fragment describing the accepted arguments.
type Tool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
	Handler     HandlerFunc            `json:"-"`
}

// API is a named group of tools, mirroring one integration surface
// (for example "hearth" for entity control, "zigbee" for network
// management).
type API struct {
	Name        string `json:"name"`
	Description string `json:"description"`

	mu    sync.RWMutex
	tools map[string]*Tool
}

func NewAPI(name, description string) *API {
	return &API{
		Name:        name,
		Description: description,
		tools:       make(map[string]*Tool),
	}
}

// Register adds a tool; a duplicate name is a programming error.
func (a *API) Register(tool *Tool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, exists := a.tools[tool.Name]; exists {
		return fmt.Errorf("tool %s already registered on api %s", tool.Name, a.Name)
	}
	a.tools[tool.Name] = tool
	return nil
}

// Tool looks a tool up by name.
func (a *API) Tool(name string) (*Tool, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	tool, ok := a.tools[name]
	return tool, ok
}

// Tools lists the registered tools sorted by name.
func (a *API) Tools() []*Tool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]*Tool, 0, len(a.tools))
	for _, tool := range a.tools {
		out = append(out, tool)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Registry holds every exposed API.
type Registry struct {
	mu   sync.RWMutex
	apis map[string]*API
}

func NewRegistry() *Registry {
	return &Registry{apis: make(map[string]*API)}
}

func (r *Registry) AddAPI(api *API) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.apis[api.Name]; exists {
		return fmt.Errorf("api %s already registered", api.Name)
	}
	r.apis[api.Name] = api
	return nil
}

func (r *Registry) API(name string) (*API, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	api, ok := r.apis[name]
	return api, ok
}

// APIs lists the registered APIs sorted by name.
func (r *Registry) APIs() []*API {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*API, 0, len(r.apis))
	for _, api := range r.apis {
		out = append(out, api)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Call invokes api/tool with args. The two lookup failures are
// distinguishable from handler failures so the HTTP layer can map them
// to 404 versus 500.
func (r *Registry) Call(ctx context.Context, apiName, toolName string, args map[string]interface{}) (interface{}, error) {
	api, ok := r.API(apiName)
	if !ok {
		return nil, &NotFoundError{What: "api", Name: apiName}
	}
	tool, ok := api.Tool(toolName)
	if !ok {
		return nil, &NotFoundError{What: "tool", Name: toolName}
	}
	if args == nil {
		args = map[string]interface{}{}
	}
	return tool.Handler(ctx, args)
}

// NotFoundError marks a missing api or tool.
type NotFoundError struct {
	What string
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.What, e.Name)
}
