package llm

import (
	"context"
	"log/slog"
	"strings"
)

// maxRouterHierarchies bounds the candidate list embedded in the routing
// prompt.
const maxRouterHierarchies = 20

// Router owns the primary and fallback clients and performs query routing.
type Router struct {
	primary  Client
	fallback Client // nil when fallback is disabled
}

// NewRouter returns a router over the given clients. fallback may be nil.
func NewRouter(primary, fallback Client) *Router {
	return &Router{primary: primary, fallback: fallback}
}

// Primary returns the primary client.
func (r *Router) Primary() Client { return r.primary }

// GetClient returns the client whose kind matches the requested type
// (substring match either way), or the primary on miss.
func (r *Router) GetClient(kind string) Client {
	if kind == "" {
		return r.primary
	}
	kind = strings.ToLower(kind)
	for _, c := range []Client{r.primary, r.fallback} {
		if c == nil {
			continue
		}
		ck := strings.ToLower(c.Kind())
		if strings.Contains(ck, kind) || strings.Contains(kind, ck) {
			return c
		}
	}
	slog.Warn("llm: unknown client type, using primary", "type", kind)
	return r.primary
}

// Fallback returns the fallback for current, or current when fallback is
// disabled or identical.
func (r *Router) Fallback(current Client) Client {
	if r.fallback == nil || r.fallback == current {
		return current
	}
	return r.fallback
}

// PredictHierarchy asks the model which of the candidate hierarchy paths
// best matches the query intent. Returns "" when no candidate matches or
// the call fails; prediction is always best-effort.
func (r *Router) PredictHierarchy(ctx context.Context, query string, hierarchies []string) string {
	if len(hierarchies) == 0 {
		return ""
	}
	if len(hierarchies) > maxRouterHierarchies {
		hierarchies = hierarchies[:maxRouterHierarchies]
	}

	client := r.primary
	if !client.Available(ctx) {
		client = r.Fallback(client)
	}

	response, err := client.Chat(ctx, Request{
		Messages:    []Message{{Role: "user", Content: buildRouterPrompt(query, hierarchies)}},
		Temperature: 0,
		MaxTokens:   50,
	})
	if err != nil {
		slog.Warn("llm: hierarchy prediction failed", "error", err)
		return ""
	}

	response = strings.TrimSpace(response)
	response = strings.NewReplacer(`"`, "", `'`, "").Replace(response)
	response = strings.TrimSpace(response)
	if response == "" || strings.EqualFold(response, "NONE") {
		return ""
	}

	// Fuzzy validation: accept the first candidate containing the reply or
	// contained in it.
	for _, h := range hierarchies {
		if strings.Contains(h, response) || strings.Contains(response, h) {
			return h
		}
	}
	return ""
}

func buildRouterPrompt(query string, hierarchies []string) string {
	var sb strings.Builder
	sb.WriteString("You are a query router. Given a User Query and a list of Document Hierarchies, predict which hierarchy best matches the query intent.\n")
	sb.WriteString("Return ONLY the exact string of the matching hierarchy (or the most specific part). If no specific hierarchy matches, return 'NONE'.\n\n")
	sb.WriteString("Hierarchies:\n")
	for _, h := range hierarchies {
		sb.WriteString("- ")
		sb.WriteString(h)
		sb.WriteString("\n")
	}
	sb.WriteString("\nUser Query: ")
	sb.WriteString(query)
	sb.WriteString("\nTarget Hierarchy:")
	return sb.String()
}
