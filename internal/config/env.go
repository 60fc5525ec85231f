package config

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
)

// Env holds the process-environment overrides.
type Env struct {
	AllowAutoApply  string `env:"ACE_ALLOW_AUTO_APPLY"`
	Profile         string `env:"ACE_PROFILE"`
	ConfigPath      string `env:"ACE_CONFIG"`
	LlamaURL        string `env:"LLAMA_SERVER_URL"      envDefault:"http://127.0.0.1:8080/completion"`
	LlamaTimeoutSec int    `env:"LLAMA_REQUEST_TIMEOUT" envDefault:"120"`
	LlamaCtxLimit   int    `env:"LLAMA_CTX_LIMIT"       envDefault:"4096"`
	LlamaMaxRetries int    `env:"LLAMA_MAX_RETRIES"     envDefault:"2"`
}

// ParseEnv reads Env from the process environment.
func ParseEnv() (Env, error) {
	var e Env
	if err := env.Parse(&e); err != nil {
		return Env{}, fmt.Errorf("parse env: %w", err)
	}
	return e, nil
}

// AutoApply reports the ACE_ALLOW_AUTO_APPLY value and whether it was set.
// Only 1, true and yes (any case) enable auto-apply.
func (e Env) AutoApply() (allow bool, set bool) {
	v := strings.TrimSpace(e.AllowAutoApply)
	if v == "" {
		return false, false
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes":
		return true, true
	}
	return false, true
}
