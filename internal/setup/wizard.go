// Package setup implements the interactive first-run wizard that writes an
// initial config file.
package setup

import (
	"bufio"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/lancerdesk/chatlink/internal/config"
)

const defaultConfigPath = "/etc/chatlink/config.yaml"

// WizardOptions configures the setup wizard.
type WizardOptions struct {
	ConfigPath string // override config file path
}

// RunWizard runs the interactive setup wizard. It takes io.Reader/io.Writer
// for testability.
func RunWizard(in io.Reader, out io.Writer, opts WizardOptions) error {
	scanner := bufio.NewScanner(in)
	configPath := opts.ConfigPath
	if configPath == "" {
		configPath = defaultConfigPath
	}

	// Fall back to a local config when not running as root
	if os.Geteuid() != 0 && configPath == defaultConfigPath {
		configPath = "./config.yaml"
		fmt.Fprintf(out, "NOTE: Not running as root. Config will be written to %s\n", configPath)
		fmt.Fprintf(out, "      Run with sudo for system-wide install: sudo chatlink setup\n\n")
	}

	fmt.Fprintln(out, "ChatLink Setup")
	fmt.Fprintln(out, "==============")
	fmt.Fprintln(out)

	cfg := config.DefaultConfig()

	serverURL := prompt(scanner, out,
		fmt.Sprintf("Chat server socket URL [%s]: ", cfg.Chat.ServerURL), cfg.Chat.ServerURL)
	if u, err := url.Parse(serverURL); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
		fmt.Fprintf(out, "  WARNING: %q may not be a valid socket URL (expected ws:// or wss://)\n\n", serverURL)
	}
	cfg.Chat.ServerURL = serverURL

	restURL := prompt(scanner, out,
		fmt.Sprintf("Chat REST base URL [%s]: ", cfg.Chat.RESTBaseURL), cfg.Chat.RESTBaseURL)
	if u, err := url.Parse(restURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		fmt.Fprintf(out, "  WARNING: %q may not be a valid REST URL (expected http:// or https://)\n\n", restURL)
	}
	cfg.Chat.RESTBaseURL = restURL

	cfg.Auth.Identity = prompt(scanner, out, "Admin identity (user id): ", "")
	if cfg.Auth.Identity == "" {
		fmt.Fprintln(out, "  WARNING: identity is empty; set CHATLINK_AUTH_IDENTITY before starting")
		fmt.Fprintln(out)
	}

	cfg.Auth.RESTToken = prompt(scanner, out, "REST API token (empty for none): ", "")
	cfg.Console.AuthToken = prompt(scanner, out, "Console auth token (empty for none): ", "")

	healthAddr := prompt(scanner, out,
		fmt.Sprintf("Local listener address [%s]: ", cfg.Health.ListenAddress), cfg.Health.ListenAddress)
	cfg.Health.ListenAddress = healthAddr

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("resulting config is invalid: %w", err)
	}

	if err := writeConfig(configPath, cfg); err != nil {
		return err
	}

	fmt.Fprintln(out)
	fmt.Fprintf(out, "Config written to %s\n", configPath)
	fmt.Fprintln(out, "Start with: chatlink start --config", configPath)
	return nil
}

func prompt(scanner *bufio.Scanner, out io.Writer, label, fallback string) string {
	fmt.Fprint(out, label)
	if !scanner.Scan() {
		return fallback
	}
	if v := strings.TrimSpace(scanner.Text()); v != "" {
		return v
	}
	return fallback
}

func writeConfig(path string, cfg *config.Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}
	}

	// Tokens live in this file; keep it owner-readable.
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}
