package agent

import (
	"github.com/forgewright/coreloop/internal/config"
	"github.com/forgewright/coreloop/internal/observability"
)

// OrchestratorConfigFromFile loads cfg from a YAML file and builds an
// OrchestratorConfig from it: the Retry Driver tunables and the
// observability logger (with its configured level/format/redaction
// patterns) are both derived from the same config.Config the rest of the
// runtime loads, so a turn loop wired this way always logs and retries
// under one consistent policy. Resolve and Tools are supplied by the
// caller, since provider registration and tool wiring are collaborators
// external to this package.
func OrchestratorConfigFromFile(path string, resolve ProviderResolver, tools *ToolRegistry) (OrchestratorConfig, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return OrchestratorConfig{}, err
	}
	return OrchestratorConfigFromConfig(cfg, resolve, tools), nil
}

// OrchestratorConfigFromConfig adapts an already-loaded config.Config into
// an OrchestratorConfig, deriving the Retry Driver policy and the
// observability logger from it.
func OrchestratorConfigFromConfig(cfg config.Config, resolve ProviderResolver, tools *ToolRegistry) OrchestratorConfig {
	logger := observability.NewLogger(observability.LogConfig{
		Level:          cfg.Logging.Level,
		Format:         cfg.Logging.Format,
		RedactPatterns: cfg.Logging.RedactPatterns,
	})
	return OrchestratorConfig{
		Resolve: resolve,
		Tools:   tools,
		Retry:   cfg.Retry.ToRetryConfig(),
		Logger:  logger,
	}
}
