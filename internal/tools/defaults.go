package tools

import (
	"context"
	"fmt"

	"github.com/haasonsaas/agentengine/pkg/models"
)

// RegisterDefaults registers mock executors for the closed five-tool set
// (§6). Real workflow orchestration, web search, code execution,
// parallel job submission, and RAG retrieval are external collaborators
// out of scope for this engine; these mocks satisfy the dispatcher
// contract so Phase 4 can exercise TOOL_CALL decisions end to end.
func RegisterDefaults(r *Registry) error {
	defs := []ToolDefinition{
		{
			Name:        models.ToolWorkflowOrchestrator,
			Description: "Dispatches a named workflow to the orchestration subsystem.",
			ArgSchema:   []byte(`{"type":"object","required":["workflowName"],"properties":{"workflowName":{"type":"string"},"input":{}}}`),
			Execute: func(ctx context.Context, args Arguments) (any, error) {
				return map[string]any{"workflow": args["workflowName"], "status": "accepted"}, nil
			},
		},
		{
			Name:        models.ToolGoogleSearch,
			Description: "Performs a web search and returns ranked snippets.",
			ArgSchema:   []byte(`{"type":"object","required":["query"],"properties":{"query":{"type":"string","minLength":1}}}`),
			Execute: func(ctx context.Context, args Arguments) (any, error) {
				return map[string]any{"query": args["query"], "results": []string{}}, nil
			},
		},
		{
			Name:        models.ToolCodeExecutor,
			Description: "Executes a code snippet in a sandboxed runtime.",
			ArgSchema:   []byte(`{"type":"object","required":["language","code"],"properties":{"language":{"type":"string"},"code":{"type":"string"}}}`),
			Execute: func(ctx context.Context, args Arguments) (any, error) {
				lang, _ := args["language"].(string)
				if lang == "" {
					return nil, fmt.Errorf("language is required")
				}
				return map[string]any{"stdout": "", "exitCode": 0}, nil
			},
		},
		{
			Name:        models.ToolSubmitParallelJob,
			Description: "Submits a batch of sub-jobs for parallel execution.",
			ArgSchema:   []byte(`{"type":"object","required":["jobs"],"properties":{"jobs":{"type":"array"}}}`),
			Execute: func(ctx context.Context, args Arguments) (any, error) {
				jobs, _ := args["jobs"].([]any)
				return map[string]any{"submitted": len(jobs)}, nil
			},
		},
		{
			Name:        models.ToolRetrieveContext,
			Description: "Retrieves relevant context from a retrieval-augmented knowledge base.",
			ArgSchema:   []byte(`{"type":"object","required":["query"],"properties":{"query":{"type":"string","minLength":1},"topK":{"type":"integer","minimum":1}}}`),
			Execute: func(ctx context.Context, args Arguments) (any, error) {
				return map[string]any{"query": args["query"], "documents": []string{}}, nil
			},
		},
	}

	for _, def := range defs {
		if err := r.Register(def); err != nil {
			return err
		}
	}
	return nil
}
