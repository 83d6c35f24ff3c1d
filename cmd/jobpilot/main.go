// jobpilot runs the job-application pipeline: discovery, fit scoring,
// approval, document preparation, and form filling, steered through a chat
// interface on the local web UI.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/term"

	"jobpilot/internal/kernel"
	"jobpilot/internal/services"
	"jobpilot/pkg/config"
	"jobpilot/pkg/logx"
)

func main() {
	var workDir string
	var headless bool
	var noUI bool
	var debug bool
	flag.StringVar(&workDir, "dir", "", "working directory holding jobpilot.yaml and data/ (default: current directory)")
	flag.BoolVar(&headless, "headless", false, "run the browser headless")
	flag.BoolVar(&noUI, "no-ui", false, "do not start the web UI")
	flag.BoolVar(&debug, "debug", false, "enable debug logging")
	flag.Parse()

	if debug {
		logx.SetDebug(true)
	}
	if workDir == "" {
		var err error
		workDir, err = os.Getwd()
		if err != nil {
			log.Fatalf("failed to determine working directory: %v", err)
		}
	}

	cfg, err := config.Load(workDir)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	if headless {
		cfg.Session.Headless = true
	}

	if err := promptForMissingKeys(cfg); err != nil {
		log.Fatalf("%v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	k, err := kernel.NewKernel(ctx, cfg, services.NewManualDriver())
	if err != nil {
		log.Fatalf("failed to initialize: %v", err)
	}

	if err := k.Start(); err != nil {
		log.Fatalf("failed to start: %v", err)
	}
	if !noUI {
		if err := k.StartWebUI(); err != nil {
			log.Fatalf("failed to start web UI: %v", err)
		}
		fmt.Printf("jobpilot running at http://%s:%d\n", cfg.WebUI.Host, cfg.WebUI.Port)
	}

	<-ctx.Done()
	fmt.Println("\nshutting down...")
	if err := k.Stop(); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}

// promptForMissingKeys asks for any LLM API key the config needs but does
// not have, reading without echo.
func promptForMissingKeys(cfg *config.Config) error {
	prompted := map[string]bool{}
	for name, llmCfg := range map[string]*config.LLMConfig{"interpreter": &cfg.Interpreter, "scorer": &cfg.Scorer} {
		if llmCfg.Provider == config.ProviderOllama || llmCfg.APIKey != "" {
			continue
		}
		if prompted[llmCfg.Provider] {
			// Same provider twice: reuse the key already entered.
			for _, other := range []*config.LLMConfig{&cfg.Interpreter, &cfg.Scorer} {
				if other.Provider == llmCfg.Provider && other.APIKey != "" {
					llmCfg.APIKey = other.APIKey
				}
			}
			continue
		}

		if !term.IsTerminal(syscall.Stdin) {
			return fmt.Errorf("%s needs an API key for %s; set %s or add it to jobpilot.yaml",
				name, llmCfg.Provider, keyEnvVar(llmCfg.Provider))
		}
		fmt.Printf("Enter %s API key (%s): ", llmCfg.Provider, name)
		raw, err := term.ReadPassword(syscall.Stdin)
		fmt.Println()
		if err != nil {
			return fmt.Errorf("failed to read API key: %w", err)
		}
		key := strings.TrimSpace(string(raw))
		if key == "" {
			return fmt.Errorf("no API key entered for %s", llmCfg.Provider)
		}
		llmCfg.APIKey = key
		prompted[llmCfg.Provider] = true
	}
	return nil
}

func keyEnvVar(provider string) string {
	switch provider {
	case config.ProviderAnthropic:
		return "ANTHROPIC_API_KEY"
	case config.ProviderOpenAI:
		return "OPENAI_API_KEY"
	default:
		return strings.ToUpper(provider) + "_API_KEY"
	}
}
