// Package majordomo is a multi-agent orchestration runtime for natural-
// language home automation requests.
//
// A user utterance arrives over the A2A (Agent-to-Agent) JSON-RPC
// protocol, is routed by a language model to one or more domain agents
// (lights, music, climate, timers, ...), and the agents' replies are
// composed into a single response. Conversation transcripts, routing
// decisions, and long-running task state persist across restarts.
//
// # Running the orchestrator
//
// Describe the agents and the routing model in YAML and start the
// server:
//
//	agent:
//	  light:
//	    description: "Controls lights: power, brightness, and color temperature."
//	    transport: local
//	  music:
//	    description: "Plays and controls music and speakers."
//	    transport: remote
//	    url: http://music.local:8080
//
//	llm:
//	  provider: openai
//	  model: gpt-4o-mini
//	  apiKey: ${OPENAI_API_KEY}
//
//	majordomo serve --config majordomo.yaml
//
// # Using as a library
//
// A hosting process embeds the runtime, binds in-process handlers for
// local agents, and either serves the A2A surface or calls the
// workflow driver directly:
//
//	import (
//	    "github.com/majordomohq/majordomo/pkg/agent"
//	    "github.com/majordomohq/majordomo/pkg/runtime"
//	)
//
// # Architecture
//
// The orchestration core is a pipeline of executors: the router picks
// the agents (consulting an exact + semantic prompt cache first), the
// workflow driver fans the request out to each routed agent through a
// uniform invoker (in-process, remote A2A peer, or locator-resolved),
// and the aggregator joins the branch replies in priority order. The
// session store keeps transcripts and task snapshots in a pluggable
// key-value store (memory, Redis, or SQL).
package majordomo
