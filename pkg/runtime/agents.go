package runtime

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/majordomohq/majordomo/pkg/a2a"
	"github.com/majordomohq/majordomo/pkg/agent"
	"github.com/majordomohq/majordomo/pkg/config"
	"github.com/majordomohq/majordomo/pkg/httpclient"
	"github.com/majordomohq/majordomo/pkg/llm"
)

// assistantPrompt steers the fallback agent. By the time it runs the
// router has already decided that no device agent fits, so it answers
// directly instead of deflecting.
const assistantPrompt = `You are the general assistant of a home automation system. ` +
	`The request you receive did not match any device agent, so answer it yourself. ` +
	`Reply in one or two short sentences of plain text. ` +
	`If the request clearly needs a device you cannot control, say so briefly.`

// buildAgents populates the registry from the configuration. Remote
// agents are registered only once their card has been fetched; a
// fetch failure skips the agent so startup never depends on a peer
// being up. Skipped agents are picked up by RefreshCards.
func (r *Runtime) buildAgents(ctx context.Context) error {
	r.registry = agent.NewRegistry()
	r.locator = agent.NewHandlerMap()
	r.outbound = httpclient.New(append(clientOptions(r.cfg),
		httpclient.WithMaxRetries(1),
		httpclient.WithBaseDelay(100*time.Millisecond))...)
	r.invoker = agent.NewInvoker(r.locator,
		agent.WithClientOptions(a2a.WithHTTPClient(r.outbound)))

	names := make([]string, 0, len(r.cfg.Agents))
	for name := range r.cfg.Agents {
		names = append(names, name)
	}
	sort.Strings(names)

	var skipped []string
	for _, name := range names {
		d := agent.FromConfig(name, r.cfg.Agents[name])

		switch d.Transport {
		case config.TransportLocal:
			if name == r.cfg.Fallback.AgentID && d.Handler == nil {
				d.Handler = assistantHandler(r.provider)
			}
		case config.TransportRemote:
			card, err := a2a.FetchAgentCard(ctx, r.outbound, a2a.CardURL(d.URL))
			if err != nil {
				r.logger.Warn("Skipping remote agent, card fetch failed",
					"agent", name, "url", d.URL, "error", err)
				skipped = append(skipped, name)
				continue
			}
			ingestCard(d, card)
		}

		if err := r.registry.Register(name, d); err != nil {
			return fmt.Errorf("registering agent %q: %w", name, err)
		}
	}

	if len(skipped) > 0 {
		r.logger.Warn("Remote agents left unregistered until their cards can be fetched",
			"agents", strings.Join(skipped, ", "))
	}
	return nil
}

// ingestCard copies the remote agent's self-description onto the
// descriptor verbatim. The card wins over the configured description
// because the agent knows its own capabilities best.
func ingestCard(d *agent.Descriptor, card *a2a.AgentCard) {
	if card.Description != "" {
		d.Description = card.Description
	}
	d.Skills = card.Skills
	d.StateHistory = card.Capabilities.StateTransitionHistory
}

// RefreshCards re-fetches the cards of every configured remote agent
// and registers the ones skipped at startup. Failures accumulate; one
// unreachable peer does not stop the rest from refreshing.
func (r *Runtime) RefreshCards(ctx context.Context) error {
	var errs []error
	for name, acfg := range r.cfg.Agents {
		if acfg.Transport != config.TransportRemote {
			continue
		}
		card, err := a2a.FetchAgentCard(ctx, r.outbound, a2a.CardURL(acfg.URL))
		if err != nil {
			errs = append(errs, fmt.Errorf("agent %q: %w", name, err))
			continue
		}
		if d, ok := r.registry.Get(name); ok {
			ingestCard(d, card)
			continue
		}
		d := agent.FromConfig(name, acfg)
		ingestCard(d, card)
		if err := r.registry.Register(name, d); err != nil {
			errs = append(errs, fmt.Errorf("agent %q: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// RegisterHandler binds an in-process handler under a locator key for
// keyed-transport agents. Hosting processes call this before Start;
// rebinding a key replaces the previous handler.
func (r *Runtime) RegisterHandler(key string, h agent.Handler) error {
	return r.locator.Set(key, h)
}

// BindHandler attaches the in-process implementation of a local agent
// declared in configuration. Call before Start.
func (r *Runtime) BindHandler(name string, h agent.Handler) error {
	d, ok := r.registry.Get(name)
	if !ok {
		return fmt.Errorf("agent %q is not configured", name)
	}
	if d.Transport != config.TransportLocal {
		return fmt.Errorf("agent %q uses %s transport, not local", name, d.Transport)
	}
	d.Handler = h
	return nil
}

// assistantHandler backs the fallback agent with the routing model.
func assistantHandler(provider llm.Provider) agent.Handler {
	return agent.HandlerFunc(func(ctx context.Context, req agent.Request) (agent.Reply, error) {
		messages := []llm.Message{
			{Role: llm.RoleSystem, Content: assistantPrompt},
			{Role: llm.RoleUser, Content: req.Text},
		}
		text, _, err := provider.Generate(ctx, messages)
		if err != nil {
			return agent.Reply{}, err
		}
		return agent.TextReply(strings.TrimSpace(text)), nil
	})
}
