package main

import (
	"fmt"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/michaelbrown/dolchat/internal/agent"
	"github.com/michaelbrown/dolchat/internal/catalog"
	"github.com/michaelbrown/dolchat/internal/config"
	"github.com/michaelbrown/dolchat/internal/dol"
	"github.com/michaelbrown/dolchat/internal/llm"
	"github.com/michaelbrown/dolchat/internal/tools"
	"github.com/michaelbrown/dolchat/internal/tools/doltools"
)

// guardMaxTokens is enough for a YES or NO.
const guardMaxTokens = 5

// loadConfig reads the config and applies the global flag overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configFlag)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if modelFlag != "" {
		cfg.LLM.Model = modelFlag
	}
	if profileFlag != "" {
		cfg.Agent.Profile = profileFlag
	}
	return cfg, nil
}

// app holds everything a conversation needs. Close releases the tool servers.
type app struct {
	agent    *agent.Agent
	registry *tools.Registry
	model    string
}

func (a *app) Close() {
	a.registry.Close()
}

// buildApp wires the DOL client, tools, LLM clients, catalog and agent.
func buildApp(cfg *config.Config) (*app, error) {
	var profile *agent.Profile
	if cfg.Agent.Profile != "" {
		p, err := agent.LoadProfile(cfg.Agent.Profile)
		if err != nil {
			return nil, err
		}
		profile = p
		log.Info().Str("profile", p.Name).Msg("loaded agent profile")
	}

	model := cfg.LLM.Model
	maxTurns := cfg.Agent.MaxTurns
	toolNames := cfg.Agent.Tools
	promptTmpl := cfg.Agent.SystemPrompt
	topicGuard := cfg.Agent.TopicGuard
	if profile != nil {
		if profile.Model != "" && modelFlag == "" {
			model = profile.Model
		}
		if profile.MaxTurns > 0 {
			maxTurns = profile.MaxTurns
		}
		if len(profile.Tools) > 0 {
			toolNames = profile.Tools
		}
		if profile.SystemPrompt != "" {
			promptTmpl = profile.SystemPrompt
		}
		if profile.TopicGuard != nil {
			topicGuard = *profile.TopicGuard
		}
	}

	registry, err := buildRegistry(cfg)
	if err != nil {
		return nil, err
	}

	datasets, err := catalog.Load(cfg.Catalog.Path)
	if err != nil {
		registry.Close()
		return nil, err
	}

	client := llm.NewClient(cfg.LLM.BaseURL, cfg.LLM.APIKey, model,
		llm.WithMaxTokens(cfg.LLM.MaxTokens),
		llm.WithTimeout(cfg.LLM.Timeout),
	)
	a := agent.New(client, registry, maxTurns)
	a.FilterTools(toolNames)

	prompt, err := agent.RenderSystemPrompt(promptTmpl, catalog.Render(datasets), a.Tools())
	if err != nil {
		registry.Close()
		return nil, err
	}
	a.SetSystemPrompt(prompt)

	if topicGuard {
		utility := llm.NewClient(cfg.LLM.BaseURL, cfg.LLM.APIKey, cfg.LLM.UtilityModel,
			llm.WithMaxTokens(guardMaxTokens),
			llm.WithTimeout(cfg.LLM.Timeout),
		)
		a.SetGuard(agent.NewGuard(utility))
	}

	var names []string
	for _, d := range a.Tools() {
		names = append(names, d.Name)
	}
	log.Info().
		Str("model", client.Model()).
		Strs("tools", names).
		Int("datasets", len(datasets)).
		Bool("topic_guard", topicGuard).
		Msg("agent ready")

	return &app{agent: a, registry: registry, model: client.Model()}, nil
}

// buildRegistry starts the configured MCP tool servers, then registers the
// built-in DOL tools under any name a server did not claim.
func buildRegistry(cfg *config.Config) (*tools.Registry, error) {
	registry := tools.NewRegistry()

	// Sorted so that the first server to claim a tool name is stable.
	servers := make([]string, 0, len(cfg.Tools.Servers))
	for name := range cfg.Tools.Servers {
		servers = append(servers, name)
	}
	sort.Strings(servers)
	for _, name := range servers {
		if err := registry.RegisterServer(name, cfg.Tools.Servers[name]); err != nil {
			log.Warn().Err(err).Str("server", name).Msg("failed to start tool server")
		}
	}

	client := dol.New(dol.Config{
		BaseURL:     cfg.DOL.BaseURL,
		APIKey:      cfg.DOL.APIKey,
		MinInterval: cfg.DOL.MinInterval,
		Timeout:     cfg.DOL.Timeout,
	})
	native, err := doltools.Tools(client)
	if err != nil {
		registry.Close()
		return nil, err
	}

	taken := make(map[string]bool)
	for _, n := range registry.Names() {
		taken[n] = true
	}
	for _, t := range native {
		if taken[t.Name] {
			log.Debug().Str("tool", t.Name).Msg("tool provided by MCP server")
			continue
		}
		if err := registry.Register(t); err != nil {
			registry.Close()
			return nil, err
		}
	}
	return registry, nil
}
