package llm

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/killallgit/stak/pkg/logger"
	"github.com/tidwall/gjson"
)

// HealthStatus describes an Ollama server as seen from here
type HealthStatus struct {
	Available bool
	Error     error
	Models    []string
}

// HasModel reports whether name is installed. A missing tag matches
// ":latest".
func (h *HealthStatus) HasModel(name string) bool {
	if !strings.Contains(name, ":") {
		name += ":latest"
	}
	for _, m := range h.Models {
		if m == name {
			return true
		}
	}
	return false
}

// CheckHealth queries the server's model list. Connection problems are
// reported in the status, not as an error.
func CheckHealth(ctx context.Context, client *http.Client, baseURL string) (*HealthStatus, error) {
	log := logger.WithComponent("ollama_health")
	log.Debug("Checking Ollama health", "base_url", baseURL)

	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(baseURL, "/")+"/api/tags", nil)
	if err != nil {
		return &HealthStatus{Available: false, Error: err}, err
	}

	resp, err := client.Do(req)
	if err != nil {
		log.Error("Failed to connect to Ollama", "error", err)
		return &HealthStatus{
			Available: false,
			Error:     fmt.Errorf("cannot connect to Ollama at %s: %w", baseURL, err),
		}, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Error("Ollama returned non-OK status", "status_code", resp.StatusCode)
		return &HealthStatus{
			Available: false,
			Error:     fmt.Errorf("Ollama returned status %d", resp.StatusCode),
		}, nil
	}

	body, err := io.ReadAll(resp.Body)
	if err == nil && !gjson.ValidBytes(body) {
		err = fmt.Errorf("invalid JSON")
	}
	if err != nil {
		return &HealthStatus{
			Available: true,
			Error:     fmt.Errorf("failed to get model list: %w", err),
		}, nil
	}

	var models []string
	for _, name := range gjson.GetBytes(body, "models.#.name").Array() {
		models = append(models, name.String())
	}

	log.Debug("Ollama health check successful", "model_count", len(models))
	return &HealthStatus{Available: true, Models: models}, nil
}
