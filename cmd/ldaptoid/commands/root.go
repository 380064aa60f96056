// Package commands implements the ldaptoid CLI.
package commands

import (
	"github.com/spf13/cobra"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	// Global flags.
	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:   "ldaptoid",
	Short: "ldaptoid - read-only LDAP projection of an identity provider",
	Long: `ldaptoid serves a read-only LDAPv3 directory synthesized from a
Keycloak, Microsoft Entra ID or Zitadel identity provider, so POSIX clients
(nslcd, SSSD, pam_ldap) can resolve users and groups without the IdP growing
an LDAP interface of its own.

Use "ldaptoid [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. Called once by main.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: /etc/ldaptoid/config.yaml or ./config.yaml)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
}
