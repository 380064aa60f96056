package config

import (
	"time"
)

// Default values for everything the operator does not set. IdP credentials
// have no defaults on purpose.
const (
	DefaultLDAPPort        = 389
	DefaultSizeLimit       = 1000
	DefaultIdleTimeout     = 10 * time.Minute
	DefaultShutdownTimeout = 10 * time.Second

	DefaultRefreshInterval   = 5 * time.Minute
	DefaultMaxBackoff        = 5 * time.Minute
	DefaultMaxRetries        = 10
	DefaultBackoffMultiplier = 2.0
	DefaultMaxGroupMembers   = 5000
	DefaultMirrorMinMembers  = 2

	DefaultIdPRequestTimeout = 10 * time.Second
	DefaultOpsListenAddress  = ":9880"
)

// ApplyDefaults fills zero values with the documented defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.IdP.RequestTimeout == 0 {
		cfg.IdP.RequestTimeout = DefaultIdPRequestTimeout
	}

	if cfg.LDAP.Port == 0 {
		cfg.LDAP.Port = DefaultLDAPPort
	}
	if cfg.LDAP.SizeLimit == 0 {
		cfg.LDAP.SizeLimit = DefaultSizeLimit
	}
	if cfg.LDAP.IdleTimeout == 0 {
		cfg.LDAP.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.LDAP.ShutdownTimeout == 0 {
		cfg.LDAP.ShutdownTimeout = DefaultShutdownTimeout
	}

	if cfg.Refresh.Interval == 0 {
		cfg.Refresh.Interval = DefaultRefreshInterval
	}
	if cfg.Refresh.MaxBackoff == 0 {
		cfg.Refresh.MaxBackoff = DefaultMaxBackoff
	}
	if cfg.Refresh.MaxRetries == 0 {
		cfg.Refresh.MaxRetries = DefaultMaxRetries
	}
	if cfg.Refresh.BackoffMultiplier == 0 {
		cfg.Refresh.BackoffMultiplier = DefaultBackoffMultiplier
	}
	if cfg.Refresh.MaxGroupMembers == 0 {
		cfg.Refresh.MaxGroupMembers = DefaultMaxGroupMembers
	}

	if cfg.Features.MirrorMinMembers == 0 {
		cfg.Features.MirrorMinMembers = DefaultMirrorMinMembers
	}

	if cfg.Ops.ListenAddress == "" {
		cfg.Ops.ListenAddress = DefaultOpsListenAddress
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}
}
