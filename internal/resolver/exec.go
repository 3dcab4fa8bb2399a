package resolver

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ExecClient resolves CEPs by invoking an external process per lookup.
// The bare-digit CEP is appended as the final argument; the process is
// expected to print a JSON address object (or a single-element array of
// one) on stdout and exit zero.
type ExecClient struct {
	command []string
	logger  *zap.Logger
}

// NewExecClient creates a client for the given command line, e.g.
// ["node", "cep_service.js"]. The command must be non-empty.
func NewExecClient(command []string, logger *zap.Logger) (*ExecClient, error) {
	if len(command) == 0 {
		return nil, fmt.Errorf("resolver command must not be empty")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExecClient{command: command, logger: logger}, nil
}

// Resolve runs the external process for one CEP. The context bounds the
// process lifetime; when it expires the process is killed and the
// attempt counts as a retryable failure.
func (c *ExecClient) Resolve(ctx context.Context, cep string) (Address, error) {
	args := append(append([]string(nil), c.command[1:]...), cep)
	cmd := exec.CommandContext(ctx, c.command[0], args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		detail := bytes.TrimSpace(stderr.Bytes())
		if len(detail) > 0 {
			return Address{}, fmt.Errorf("resolver process: %w: %s", err, detail)
		}
		return Address{}, fmt.Errorf("resolver process: %w", err)
	}

	return parsePayload(stdout.Bytes())
}

// parsePayload decodes the resolver's stdout. A JSON array with exactly
// one element unwraps to that element; any other array length is
// malformed. Malformed JSON is a retryable failure.
func parsePayload(out []byte) (Address, error) {
	trimmed := bytes.TrimSpace(out)
	if len(trimmed) == 0 {
		return Address{}, fmt.Errorf("resolver returned empty output")
	}

	if trimmed[0] == '[' {
		var list []Address
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return Address{}, fmt.Errorf("decoding resolver array: %w", err)
		}
		if len(list) != 1 {
			return Address{}, fmt.Errorf("resolver returned %d results, want 1", len(list))
		}
		return list[0], nil
	}

	var addr Address
	if err := json.Unmarshal(trimmed, &addr); err != nil {
		return Address{}, fmt.Errorf("decoding resolver response: %w", err)
	}
	return addr, nil
}
