package transport

import (
	"encoding/json"
	"fmt"
	"net/http"

	majordomo "github.com/majordomohq/majordomo"
	"github.com/majordomohq/majordomo/pkg/a2a"
	"github.com/majordomohq/majordomo/pkg/agent"
	"github.com/majordomohq/majordomo/pkg/config"
)

// Card renders the orchestrator's own agent card. Each routable agent
// appears as a skill so that peers can see what the orchestrator can
// be asked for. Exported so the CLI can print the card offline.
func Card(cfg *config.Config, agents []*agent.Descriptor) a2a.AgentCard {
	version := cfg.Server.Version
	if version == "" {
		version = majordomo.Version
	}

	var skills []a2a.AgentSkill
	for _, d := range agents {
		skills = append(skills, a2a.AgentSkill{
			ID:          d.Name,
			Name:        d.Name,
			Description: d.Description,
		})
	}

	return a2a.AgentCard{
		Name:               cfg.Server.Name,
		Description:        "Routes natural-language requests to the right home automation agents and composes their answers.",
		URL:                fmt.Sprintf("http://%s/", cfg.Server.Address()),
		Version:            version,
		PreferredTransport: a2a.TransportJSONRPC,
		Capabilities:       a2a.AgentCapabilities{StateTransitionHistory: true},
		DefaultInputModes:  []string{"text/plain"},
		DefaultOutputModes: []string{"text/plain"},
		Skills:             skills,
	}
}

// handleCard serves the orchestrator's own agent card.
func (s *Server) handleCard(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, Card(s.cfg, s.registry.List()))
}

// handleDirectory lists the ingested cards of every registered agent.
func (s *Server) handleDirectory(w http.ResponseWriter, r *http.Request) {
	descriptors := s.registry.List()
	cards := make([]a2a.AgentCard, 0, len(descriptors))
	for _, d := range descriptors {
		cards = append(cards, d.Card())
	}
	s.writeJSON(w, http.StatusOK, a2a.AgentDirectory{Agents: cards, Total: len(cards)})
}

// handleHealth reports component status: the key-value store must
// answer a ping, and the registry size is included for operators. A
// dead store degrades the response to 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	health := map[string]any{
		"status": "ok",
		"agents": s.registry.Count(),
		"store":  "ok",
	}

	if s.store != nil {
		if err := s.store.Ping(r.Context()); err != nil {
			s.logger.Warn("Health check found the store unreachable", "error", err)
			health["status"] = "degraded"
			health["store"] = "unreachable"
			status = http.StatusServiceUnavailable
		}
	}

	s.writeJSON(w, status, health)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("Response write failed", "error", err)
	}
}
