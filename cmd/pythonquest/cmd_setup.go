package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"

	"github.com/felixgeelhaar/pythonquest/internal/config"
	"gopkg.in/yaml.v3"
)

// cmdDoctor checks the interpreter backends and LLM providers
func cmdDoctor() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	cyan.Println("PythonQuest Doctor")
	fmt.Println()

	bold.Println("Interpreter:")
	check("python", checkPython(cfg.Runner.PythonPath))
	dockerErr := checkDocker()
	if cfg.Runner.Backend == "docker" {
		check("docker (selected backend)", dockerErr)
	} else if dockerErr == nil {
		check("docker (optional)", nil)
	} else {
		yellow.Printf("  - docker (optional): %v\n", dockerErr)
	}

	fmt.Println()
	bold.Println("LLM providers:")
	names := make([]string, 0, len(cfg.LLM.Providers))
	for name := range cfg.LLM.Providers {
		names = append(names, name)
	}
	sort.Strings(names)

	configured := 0
	for _, name := range names {
		pc := cfg.LLM.Providers[name]
		switch {
		case !pc.Enabled:
			fmt.Printf("  - %s: disabled\n", name)
		case name == "ollama":
			err := checkOllama(pc.URL)
			check("ollama", err)
			if err == nil {
				configured++
			}
		case pc.APIKey == "":
			yellow.Printf("  - %s: no API key (pythonquest config set-key %s <key>)\n", name, name)
		default:
			green.Printf("  ✓ %s: API key set (%s)\n", name, pc.Model)
			configured++
		}
	}
	if configured == 0 {
		yellow.Println("\nNo LLM provider is configured; hints and explanations are disabled.")
	}
	return nil
}

func check(name string, err error) {
	if err != nil {
		red.Printf("  ✗ %s: %v\n", name, err)
		return
	}
	green.Printf("  ✓ %s\n", name)
}

func checkPython(path string) error {
	if path == "" {
		path = "python3"
	}
	resolved, err := exec.LookPath(path)
	if err != nil {
		return fmt.Errorf("%s not found in PATH", path)
	}
	out, err := exec.Command(resolved, "--version").CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s --version failed: %w", path, err)
	}
	fmt.Printf("    %s\n", strings.TrimSpace(string(out)))
	return nil
}

func checkDocker() error {
	if _, err := exec.LookPath("docker"); err != nil {
		return fmt.Errorf("docker not found in PATH")
	}

	cmd := exec.Command("docker", "info")
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("docker daemon not running")
	}
	return nil
}

func checkOllama(url string) error {
	if url == "" {
		url = "http://localhost:11434"
	}

	resp, err := httpClient.Get(url + "/api/tags")
	if err != nil {
		return fmt.Errorf("not reachable at %s", url)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}
	return nil
}

// cmdConfig prints the effective configuration or stores an API key
func cmdConfig(args []string) error {
	if len(args) > 0 {
		switch args[0] {
		case "set-key":
			return cmdSetKey(args[1:])
		default:
			return fmt.Errorf("unknown config command: %s", args[0])
		}
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	dir, err := config.Dir()
	if err != nil {
		return err
	}

	fmt.Printf("# %s/config.yaml (with environment overrides; keys omitted)\n", dir)
	return yaml.NewEncoder(os.Stdout).Encode(cfg)
}

func cmdSetKey(args []string) error {
	if len(args) < 2 {
		return errors.New("usage: pythonquest config set-key <provider> <key>")
	}
	provider, key := args[0], args[1]
	if provider != "gemini" && provider != "claude" {
		return fmt.Errorf("provider %q does not take an API key", provider)
	}

	// Merge with the stored keys, not environment overrides
	cfg, err := config.LoadLocalConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	keys := map[string]string{provider: key}
	for name, pc := range cfg.LLM.Providers {
		if name != provider && pc.APIKey != "" {
			keys[name] = pc.APIKey
		}
	}

	if err := config.SaveSecrets(keys); err != nil {
		return err
	}
	green.Printf("✓ Stored %s API key\n", provider)
	return nil
}
