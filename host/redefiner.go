package host

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// AgentRedefiner sends changed classes to a redefinition agent running inside
// the application. The request body is a JSON object mapping class names to
// base64 bytecode; any non-2xx answer is a rejection.
type AgentRedefiner struct {
	endpoint string
	client   *http.Client
}

// NewAgentRedefiner creates a redefiner posting to endpoint. A nil client
// uses a client with a 30 second timeout.
func NewAgentRedefiner(endpoint string, client *http.Client) *AgentRedefiner {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &AgentRedefiner{endpoint: endpoint, client: client}
}

type redefineRequest struct {
	Classes map[string][]byte `json:"classes"`
}

// Redefine implements the coordinator's redefinition capability.
func (a *AgentRedefiner) Redefine(ctx context.Context, classes map[string][]byte) error {
	body, err := json.Marshal(redefineRequest{Classes: classes})
	if err != nil {
		return fmt.Errorf("host: encode redefinition: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("host: build redefinition request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("host: redefinition agent: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("host: redefinition agent returned %s: %s", resp.Status, bytes.TrimSpace(msg))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
