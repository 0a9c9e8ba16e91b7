package engine

import "github.com/spaghettifunk/cauldron/engine/core"

type ApplicationConfig struct {
	// Window starting position x axis, if applicable.
	StartPosX uint32
	// Window starting position y axis, if applicable.
	StartPosY uint32
	// Path of the TOML config. When set the file is loaded and watched for changes.
	ConfigPath string
	// Config is used when ConfigPath is empty. Nil means core.DefaultConfig.
	Config *core.Config
}

func (ac *ApplicationConfig) load() (*core.Config, error) {
	if ac.ConfigPath != "" {
		return core.LoadConfig(ac.ConfigPath)
	}
	if ac.Config != nil {
		cfg := *ac.Config
		return &cfg, cfg.Validate()
	}
	return core.DefaultConfig(), nil
}
