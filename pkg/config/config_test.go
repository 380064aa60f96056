package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validYAML() string {
	return `
idp:
  type: keycloak
  base_url: https://kc.example.com/admin/realms/acme
  client_id: ldaptoid
  client_secret: hunter2
  realm: acme
ldap:
  base_dn: dc=example,dc=com
`
}

func writeConfig(t *testing.T, yaml string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML()))
	require.NoError(t, err)

	assert.Equal(t, DefaultLDAPPort, cfg.LDAP.Port)
	assert.Equal(t, DefaultSizeLimit, cfg.LDAP.SizeLimit)
	assert.Equal(t, 5*time.Minute, cfg.Refresh.Interval)
	assert.Equal(t, 10, cfg.Refresh.MaxRetries)
	assert.Equal(t, 2.0, cfg.Refresh.BackoffMultiplier)
	assert.Equal(t, 5000, cfg.Refresh.MaxGroupMembers)
	assert.Equal(t, 2, cfg.Features.MirrorMinMembers)
	assert.Equal(t, ":9880", cfg.Ops.ListenAddress)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.False(t, cfg.MappingStore.Enabled)
}

func TestLoadParsesDurationsAndFeatures(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML()+`
refresh:
  interval: 90s
  max_backoff: 10m
features:
  enabled: [synthetic_primary_group, mirror_nested_groups]
mapping_store:
  enabled: true
  address: localhost:6379
`))
	require.NoError(t, err)

	assert.Equal(t, 90*time.Second, cfg.Refresh.Interval)
	assert.Equal(t, 10*time.Minute, cfg.Refresh.MaxBackoff)
	assert.Equal(t, []string{"synthetic_primary_group", "mirror_nested_groups"}, cfg.Features.Enabled)
	assert.True(t, cfg.MappingStore.Enabled)
	assert.Equal(t, "localhost:6379", cfg.MappingStore.Address)
}

func TestEnvironmentOverridesFile(t *testing.T) {
	t.Setenv("LDAPTOID_LDAP_PORT", "10389")
	t.Setenv("LDAPTOID_IDP_CLIENT_SECRET", "from-env")
	t.Setenv("LDAPTOID_LOGGING_LEVEL", "debug")

	cfg, err := Load(writeConfig(t, validYAML()))
	require.NoError(t, err)

	assert.Equal(t, 10389, cfg.LDAP.Port)
	assert.Equal(t, "from-env", cfg.IdP.ClientSecret)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestValidationFailures(t *testing.T) {
	cases := map[string]string{
		"unknown idp type": `
idp:
  type: okta
  base_url: https://okta.example.com
  client_id: c
  client_secret: s
ldap:
  base_dn: dc=example,dc=com
`,
		"keycloak without realm": `
idp:
  type: keycloak
  base_url: https://kc.example.com
  client_id: c
  client_secret: s
ldap:
  base_dn: dc=example,dc=com
`,
		"entra without tenant": `
idp:
  type: entra
  client_id: c
  client_secret: s
ldap:
  base_dn: dc=example,dc=com
`,
		"missing base dn": `
idp:
  type: zitadel
  base_url: https://z.example.com
  client_id: c
  client_secret: s
`,
		"bind dn without password": `
idp:
  type: zitadel
  base_url: https://z.example.com
  client_id: c
  client_secret: s
ldap:
  base_dn: dc=example,dc=com
  bind_dn: cn=svc,dc=example,dc=com
`,
		"mapping store without address": `
idp:
  type: zitadel
  base_url: https://z.example.com
  client_id: c
  client_secret: s
ldap:
  base_dn: dc=example,dc=com
mapping_store:
  enabled: true
`,
		"unknown feature flag": `
idp:
  type: zitadel
  base_url: https://z.example.com
  client_id: c
  client_secret: s
ldap:
  base_dn: dc=example,dc=com
features:
  enabled: [give_everyone_root]
`,
		"zitadel without base url": `
idp:
  type: zitadel
  client_id: c
  client_secret: s
ldap:
  base_dn: dc=example,dc=com
`,
	}

	for name, yaml := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, yaml))
			assert.Error(t, err)
		})
	}
}

func TestMissingExplicitFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
