// Package config handles configuration loading for trio-gateway.
//
// # Configuration File
//
// The file is YAML unless its name ends in .toml. The path comes from the
// --config flag, then the TRIO_CONFIG environment variable, then
// ./config.yaml.
//
// # Environment Variable Expansion
//
// Values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${TRIO_JWT_SECRET}"
//
// Unset variables expand to the empty string. Only the ${VAR_NAME} form is
// expanded.
//
// # Sections
//
//	server:
//	  http_addr: "0.0.0.0:8080"   # REST API, /ws and /health
//	  grpc_addr: "0.0.0.0:50051"  # optional gRPC health service
//	  allowed_origins: []         # websocket origins; empty allows all
//
//	database:
//	  path: "./trio.db"           # ":memory:" for a throwaway store
//
//	auth:
//	  jwt_secret: ""              # empty runs in anonymous mode
//
//	sessions:
//	  max_participants: 10
//	  grace_period: "30s"         # how long a dropped connection keeps its seat
//	  inactive_timeout: "24h"     # idle active sessions are paused after this
//	  sweep_interval: "10m"
//
//	conversation:
//	  context_size: 20
//	  prompt_context: 5           # recent messages sent with each prompt
//	  cache: memory               # or redis
//	  redis:
//	    addr: "localhost:6379"
//	    password: ""
//	    db: 0
//	    ttl: "24h"
//
//	generation:
//	  provider: openai            # openai, anthropic or offline
//	  api_key: "${OPENAI_API_KEY}"
//	  base_url: ""
//	  model: "gpt-4-turbo"
//	  fallback_model: "gpt-3.5-turbo"
//	  max_tokens: 2000
//	  temperature: 0.7
//	  timeout: "30s"
//
//	logging:
//	  level: info                 # debug, info, warn, error
//	  format: text                # text or json
//
// Durations use time.ParseDuration syntax. Without a provider, an api_key
// selects openai and no key selects the offline generator.
package config
