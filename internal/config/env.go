package config

import (
	"strings"

	"github.com/spf13/viper"
)

// envPrefix namespaces every environment override, e.g.
// BATCHTRACK_DATABASE_PASSWORD overrides database.password.
const envPrefix = "BATCHTRACK"

// envKeys lists the configuration keys that may be overridden from the
// environment. Secrets and per-deployment wiring belong here; run shape
// stays in the file.
var envKeys = []string{
	"database.host",
	"database.port",
	"database.name",
	"database.user",
	"database.password",
	"database.credential_mode",
	"database.managed_identity_client_id",
	"database.ssl_mode",
	"detector.endpoint",
	"feed.kafka.topic",
	"run.run_id",
	"run.customer",
	"run.model",
}

// ApplyEnvOverrides layers environment variables over a file-loaded
// configuration. Only keys present in the environment are touched.
func ApplyEnvOverrides(cfg *Config) error {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for _, key := range envKeys {
		if err := v.BindEnv(key); err != nil {
			return err
		}
	}

	if s := v.GetString("database.host"); s != "" {
		cfg.Database.Host = s
	}
	if p := v.GetInt("database.port"); p != 0 {
		cfg.Database.Port = p
	}
	if s := v.GetString("database.name"); s != "" {
		cfg.Database.Name = s
	}
	if s := v.GetString("database.user"); s != "" {
		cfg.Database.User = s
	}
	if s := v.GetString("database.password"); s != "" {
		cfg.Database.Password = s
	}
	if s := v.GetString("database.credential_mode"); s != "" {
		cfg.Database.CredentialMode = CredentialMode(s)
	}
	if s := v.GetString("database.managed_identity_client_id"); s != "" {
		cfg.Database.ManagedIdentityClientID = s
	}
	if s := v.GetString("database.ssl_mode"); s != "" {
		cfg.Database.SSLMode = s
	}
	if s := v.GetString("detector.endpoint"); s != "" {
		cfg.Detector.Endpoint = s
	}
	if s := v.GetString("feed.kafka.topic"); s != "" {
		cfg.Feed.Kafka.Topic = s
	}
	if s := v.GetString("run.run_id"); s != "" {
		cfg.Run.RunID = s
	}
	if s := v.GetString("run.customer"); s != "" {
		cfg.Run.Customer = s
	}
	if s := v.GetString("run.model"); s != "" {
		cfg.Run.Model = s
	}

	return nil
}
