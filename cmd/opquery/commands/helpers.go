package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/spf13/viper"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/opquery-io/opquery/internal/registry"
	"github.com/opquery-io/opquery/pkg/opclient"
	"github.com/opquery-io/opquery/pkg/opquery"
)

// Output formats.
const (
	OutputFormatJSON = "json"
	OutputFormatYAML = "yaml"
)

var (
	errSpecRequired    = errors.New("an OpenAPI document is required (--spec or OPQUERY_SPEC)")
	errBaseURLRequired = errors.New("a base URL is required (--base-url or OPQUERY_BASE_URL)")
)

// loadRegistry indexes the configured OpenAPI document.
func loadRegistry() (*opquery.Registry, error) {
	specPath := viper.GetString("spec")
	if specPath == "" {
		return nil, errSpecRequired
	}

	return registry.LoadFromFile(specPath)
}

// createAPI builds a bound API from the CLI configuration.
func createAPI(ctx context.Context) (opquery.API, error) {
	reg, err := loadRegistry()
	if err != nil {
		return nil, err
	}

	baseURL := viper.GetString("base-url")
	if baseURL == "" {
		return nil, errBaseURLRequired
	}

	return opclient.New(ctx, &opquery.Config{
		Registry:    reg,
		BaseURL:     baseURL,
		AccessToken: viper.GetString("token"),
		Debug:       viper.GetBool("verbose"),
	})
}

// promptToken reads a bearer token from the terminal without echo.
func promptToken() (string, error) {
	fmt.Fprint(os.Stderr, "Bearer token: ")

	raw, err := term.ReadPassword(int(syscall.Stdin))

	fmt.Fprintln(os.Stderr)

	if err != nil {
		return "", fmt.Errorf("reading token: %w", err)
	}

	return strings.TrimSpace(string(raw)), nil
}

// renderStructured writes v as JSON or YAML to stdout.
func renderStructured(format string, v any) error {
	switch format {
	case OutputFormatJSON:
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")

		return encoder.Encode(v)
	case OutputFormatYAML:
		encoder := yaml.NewEncoder(os.Stdout)

		return encoder.Encode(v)
	default:
		return fmt.Errorf("unsupported output format %q", format)
	}
}

// parseParams parses key=value pairs into a parameter set.
func parseParams(pairs []string) (opquery.Params, error) {
	if len(pairs) == 0 {
		return nil, nil
	}

	params := make(opquery.Params, len(pairs))

	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("malformed parameter %q, expected name=value", pair)
		}

		params[name] = value
	}

	return params, nil
}
