// Package config loads the process-scoped settings enumerated in
// spec.md §6, grounded on cmd/api/main.go's yaml.Unmarshal of
// config/models.yaml in the teacher.
package config

import (
	"os"

	"gopkg.in/yaml.v2"

	"csa-margin-engine/pkg/core/agent"
)

// Settings is the full set of process-scoped configuration items spec.md
// §6 enumerates, plus the agent/provider routing table the teacher's
// agent.Config already models.
type Settings struct {
	MaxUploadSize         int64    `yaml:"max_upload_size"`
	MaxConcurrentLLMCalls int      `yaml:"max_concurrent_llm_calls"`
	AutoBatchThreshold    int      `yaml:"auto_batch_threshold"`
	ParallelBatchSize     int      `yaml:"parallel_batch_size"`
	LLMTimeoutSeconds     int      `yaml:"llm_timeout_seconds"`
	InfinityStrings       []string `yaml:"infinity_strings"`
	ZeroStrings           []string `yaml:"zero_strings"`
	ArtifactRootDir       string   `yaml:"artifact_root_dir"`

	Agents agent.Config `yaml:"agents"`
}

// Default returns the hardcoded fallback settings (spec.md §6 defaults:
// max_concurrent_llm_calls=10), used when no engine.yaml is present.
func Default() Settings {
	return Settings{
		MaxUploadSize:         25 << 20,
		MaxConcurrentLLMCalls: 10,
		AutoBatchThreshold:    20,
		ParallelBatchSize:     5,
		LLMTimeoutSeconds:     60,
		InfinityStrings:       []string{"infinity", "inf", "∞", "unlimited", "none", "null"},
		ZeroStrings:           []string{"n/a", "na", "0", "zero", ""},
		ArtifactRootDir:       "data",
	}
}

// Load reads path, overlaying it onto Default(). A missing file is not an
// error — it just means defaults apply (matching the teacher's tolerant
// ioutil.ReadFile-then-ignore-error pattern in cmd/api/main.go).
func Load(path string) (Settings, error) {
	settings := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return settings, nil
		}
		return settings, err
	}

	if err := yaml.Unmarshal(data, &settings); err != nil {
		return settings, err
	}
	return settings, nil
}
