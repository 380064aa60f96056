// Package config loads and validates the ldaptoid configuration.
//
// Configuration sources, highest precedence first:
//  1. Environment variables (LDAPTOID_*)
//  2. Configuration file (YAML)
//  3. Default values
package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

var validate = validator.New()

// Config is the full server configuration.
type Config struct {
	// IdP selects and scopes the identity provider to project.
	IdP IdPConfig `mapstructure:"idp"`

	// LDAP configures the directory server front-end.
	LDAP LDAPConfig `mapstructure:"ldap"`

	// Refresh tunes the snapshot refresh loop.
	Refresh RefreshConfig `mapstructure:"refresh"`

	// Features controls snapshot synthesis behavior.
	Features FeaturesConfig `mapstructure:"features"`

	// MappingStore configures optional uid/gid persistence.
	MappingStore MappingStoreConfig `mapstructure:"mapping_store"`

	// Ops configures the HTTP surface for health and metrics.
	Ops OpsConfig `mapstructure:"ops"`

	// Logging controls log output behavior.
	Logging LoggingConfig `mapstructure:"logging"`
}

// IdPConfig scopes one identity provider.
type IdPConfig struct {
	// Type is the IdP variant: keycloak, entra or zitadel.
	Type string `mapstructure:"type" validate:"required,oneof=keycloak entra zitadel"`

	// BaseURL is the API root. For Keycloak this is the realm admin root
	// (…/admin/realms/<realm>); for Entra it defaults to the public Graph
	// endpoint; for Zitadel it is the instance URL.
	BaseURL string `mapstructure:"base_url" validate:"omitempty,url"`

	ClientID     string `mapstructure:"client_id" validate:"required"`
	ClientSecret string `mapstructure:"client_secret" validate:"required"`

	// Realm scopes Keycloak; Tenant scopes Entra; Organization optionally
	// scopes Zitadel.
	Realm        string `mapstructure:"realm" validate:"required_if=Type keycloak"`
	Tenant       string `mapstructure:"tenant" validate:"required_if=Type entra"`
	Organization string `mapstructure:"organization"`

	// RequestTimeout bounds each HTTP call to the IdP.
	RequestTimeout time.Duration `mapstructure:"request_timeout" validate:"omitempty,gt=0"`
}

// LDAPConfig configures the LDAP listener and authorization.
type LDAPConfig struct {
	BindAddress string `mapstructure:"bind_address"`
	Port        int    `mapstructure:"port" validate:"min=0,max=65535"`

	// BaseDN is the served suffix, e.g. "dc=example,dc=com".
	BaseDN string `mapstructure:"base_dn" validate:"required"`

	// BindDN/BindPassword are the service-account credentials. Both must be
	// set together; with neither set the directory is open.
	BindDN       string `mapstructure:"bind_dn" validate:"required_with=BindPassword"`
	BindPassword string `mapstructure:"bind_password" validate:"required_with=BindDN"`

	AllowAnonymousBind bool `mapstructure:"allow_anonymous_bind"`

	SizeLimit      int           `mapstructure:"size_limit" validate:"gt=0"`
	MaxConnections int           `mapstructure:"max_connections" validate:"gte=0"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout" validate:"gt=0"`

	// ShutdownTimeout bounds the graceful-stop wait for live connections.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
}

// RefreshConfig tunes the snapshot scheduler and builder.
type RefreshConfig struct {
	Interval          time.Duration `mapstructure:"interval" validate:"gt=0"`
	MaxBackoff        time.Duration `mapstructure:"max_backoff" validate:"gt=0"`
	MaxRetries        int           `mapstructure:"max_retries" validate:"gt=0"`
	BackoffMultiplier float64       `mapstructure:"backoff_multiplier" validate:"gt=1"`

	// MaxGroupMembers clips group membership lists.
	MaxGroupMembers int `mapstructure:"max_group_members" validate:"gt=0"`
}

// FeaturesConfig selects snapshot synthesis features.
type FeaturesConfig struct {
	// Enabled lists active feature flags: synthetic_primary_group,
	// mirror_nested_groups.
	Enabled []string `mapstructure:"enabled" validate:"dive,oneof=synthetic_primary_group mirror_nested_groups"`

	// MirrorMinMembers is the smallest user membership for which a mirror
	// group is emitted.
	MirrorMinMembers int `mapstructure:"mirror_min_members" validate:"gt=0"`
}

// MappingStoreConfig configures the optional Redis persistence backend.
type MappingStoreConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Address  string `mapstructure:"address" validate:"required_if=Enabled true"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db" validate:"gte=0"`
}

// OpsConfig configures the health/metrics HTTP listener.
type OpsConfig struct {
	ListenAddress  string `mapstructure:"listen_address" validate:"required"`
	MetricsEnabled bool   `mapstructure:"metrics_enabled"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn or error.
	Level string `mapstructure:"level" validate:"required,oneof=debug info warn error"`

	// Format is text or json.
	Format string `mapstructure:"format" validate:"required,oneof=text json"`

	// Output is stdout, stderr, or a file path.
	Output string `mapstructure:"output" validate:"required"`
}

// Load reads configuration from the optional file path, the environment and
// defaults, then validates the result.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	if err := readConfigFile(v, configPath); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	ApplyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration against the struct rules plus the
// cross-field constraints the tag language cannot express.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.IdP.Type != "entra" && c.IdP.BaseURL == "" {
		return fmt.Errorf("config: idp.base_url is required for %s", c.IdP.Type)
	}
	return nil
}

// setupViper wires the LDAPTOID_* environment overrides, e.g.
// LDAPTOID_LDAP_BASE_DN or LDAPTOID_IDP_CLIENT_SECRET.
func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("LDAPTOID")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath("/etc/ldaptoid")
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	// AutomaticEnv only resolves keys viper has seen; binding every key
	// makes env-only configuration work without a file.
	for _, key := range allKeys() {
		if err := v.BindEnv(key); err != nil {
			panic(err)
		}
	}
}

func allKeys() []string {
	return keysOf(reflect.TypeOf(Config{}), "")
}

func keysOf(t reflect.Type, prefix string) []string {
	var keys []string
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		tag := strings.Split(field.Tag.Get("mapstructure"), ",")[0]
		if tag == "" || tag == "-" {
			continue
		}
		key := tag
		if prefix != "" {
			key = prefix + "." + tag
		}
		if field.Type.Kind() == reflect.Struct {
			keys = append(keys, keysOf(field.Type, key)...)
			continue
		}
		keys = append(keys, key)
	}
	return keys
}

func readConfigFile(v *viper.Viper, configPath string) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		if os.IsNotExist(err) {
			if configPath != "" {
				return fmt.Errorf("config: file not found: %s", configPath)
			}
			return nil
		}
		return fmt.Errorf("config: read file: %w", err)
	}
	return nil
}

// durationDecodeHook converts "5m"-style strings to time.Duration.
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		switch value := data.(type) {
		case string:
			return time.ParseDuration(value)
		case int:
			return time.Duration(value), nil
		case int64:
			return time.Duration(value), nil
		case float64:
			return time.Duration(value), nil
		default:
			return data, nil
		}
	}
}
