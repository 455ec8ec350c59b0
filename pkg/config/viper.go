package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Load reads the named YAML config from dir, falling back to the working
// directory and ./config. A missing file is not an error: every setting has a
// default or an environment binding, so starwatch can run from env vars alone.
func Load(dir, name string) (*viper.Viper, error) {
	v := viper.New()

	v.SetConfigName(name)
	v.SetConfigType("yaml")
	v.AddConfigPath(dir)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return v, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	return v, nil
}
