package quotaguard

import "context"

// Backend is an AI backend the router can send a request to. Implementations
// wrap the provider SDK or HTTP API; the router only sees this interface.
type Backend interface {
	// ID returns the backend identifier used in the config.
	ID() BackendID

	// Generate produces an answer for the request.
	Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, error)
}

// GenerateRequest is the request sent to a backend.
type GenerateRequest struct {
	Messages []Message

	// Search allows the backend to ground its answer with web search.
	Search bool
}

// GenerateResponse is the answer returned by a backend.
type GenerateResponse struct {
	Content    string
	Usage      TokenUsage
	SearchUsed bool
}
