// Copyright (c) 2025 ToeiRei
// Keyturn - SSH key rotation tool
// This source code is licensed under the MIT license found in the LICENSE file.

// main.go sets up the command-line interface (CLI) for the Keyturn
// application using the Cobra library. Running the root command performs
// one key rotation; subcommands inspect the rotation journal, print the
// current public key and back up or restore the journal database.

package main

import (
	"errors"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/toeirei/keyturn/buildvars"
	"github.com/toeirei/keyturn/internal/authkeys"
	"github.com/toeirei/keyturn/internal/config"
	"github.com/toeirei/keyturn/internal/i18n"
	"github.com/toeirei/keyturn/internal/journal"
	"github.com/toeirei/keyturn/internal/keygen"
	"github.com/toeirei/keyturn/internal/logging"
	"github.com/toeirei/keyturn/internal/model"
	"github.com/toeirei/keyturn/internal/rotate"
	"golang.org/x/term"
)

var cfgFile string

// appConfig is the runtime configuration, layered from defaults, the
// keyturn.yaml config file, KEYTURN_* environment variables and flags.
type appConfig struct {
	Journal struct {
		Type string `mapstructure:"type" yaml:"type"`
		DSN  string `mapstructure:"dsn" yaml:"dsn"`
	} `mapstructure:"journal" yaml:"journal"`
	Language string `mapstructure:"language" yaml:"language"`
	Rotate   struct {
		Algorithm string `mapstructure:"algorithm" yaml:"algorithm"`
		Bits      int    `mapstructure:"bits" yaml:"bits"`
		KeyDir    string `mapstructure:"key_dir" yaml:"key_dir"`
	} `mapstructure:"rotate" yaml:"rotate"`
}

var cfg appConfig

// main is the entry point of the application.
func main() {
	if err := rootCmd.Execute(); err != nil {
		// The error is already printed by Cobra on failure.
		os.Exit(1)
	}
}

var rootCmd *cobra.Command

func init() {
	rootCmd = newRootCmd()
}

// newRootCmd creates and configures a new root cobra command.
// This function is used to create the main application command as well as
// fresh instances for isolated testing.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keyturn",
		Short: "Keyturn rotates the SSH key for one remote account.",
		Long: `Keyturn replaces the SSH key pair that authenticates you to a single
remote account. It mints a fresh key, provisions it over SFTP, proves the
new key can log in on its own, and only then retires its predecessors and
points your local SSH config at the new identity. Every rotation is
recorded in a local journal.`,
		PersistentPreRunE: setupServices,
		RunE:              runRotate,
	}

	cmd.AddCommand(historyCmd)
	cmd.AddCommand(pubkeyCmd)
	cmd.AddCommand(backupCmd)
	cmd.AddCommand(restoreCmd)

	// Set version
	cmd.Version = buildvars.VersionOrDefault("dev")

	// Define flags
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is keyturn.yaml in the user config dir or current dir)")
	cmd.PersistentFlags().String("db-type", "sqlite", "Journal database type (sqlite, postgres, mysql)")
	cmd.PersistentFlags().String("db-dsn", "./keyturn.db", "Journal database connection string (DSN)")
	cmd.PersistentFlags().String("lang", "en", `Output language ("en", "de")`)
	cmd.PersistentFlags().BoolP("verbose", "v", false, "Enable debug logging")
	cmd.PersistentFlags().StringP("user", "u", "", "Remote account name")
	cmd.PersistentFlags().StringP("host", "H", "", "Remote host (host or host:port)")

	cmd.Flags().IntP("port", "p", 22, "Remote SSH port")
	cmd.Flags().StringP("algorithm", "a", "", "Key algorithm (rsa, ed25519)")
	cmd.Flags().IntP("bits", "b", 0, "Key size in bits (RSA only)")
	cmd.Flags().String("passphrase", "", "Passphrase for the new private key (prompted when omitted)")
	cmd.Flags().StringP("identity", "i", "", "Existing private key used to authenticate the provisioning connection")
	cmd.Flags().String("identity-passphrase", "", "Passphrase for the existing private key")
	cmd.Flags().String("known-hosts", "", "known_hosts file for host key verification (default ~/.ssh/known_hosts)")
	cmd.Flags().Bool("insecure-host-key", false, "Skip host key verification (dangerous)")
	cmd.Flags().String("ssh-config", "", "SSH client config to update (default ~/.ssh/config)")
	cmd.Flags().Bool("no-retire", false, "Leave old keys in place after validation")

	return cmd
}

// setupServices loads the configuration and brings up the shared
// services (i18n, logging, the journal database) before any command
// runs. Viper layers the config file, environment and flags; a missing
// config file is expected on first run and seeds a default one.
func setupServices(cmd *cobra.Command, args []string) error {
	defaults := map[string]any{
		"journal.type":     "sqlite",
		"journal.dsn":      "./keyturn.db",
		"language":         "en",
		"rotate.algorithm": keygen.AlgorithmRSA,
		"rotate.bits":      2048,
	}

	loaded, err := config.LoadConfig[appConfig](cmd, defaults, &cfgFile)
	if errors.As(err, &viper.ConfigFileNotFoundError{}) {
		// First run, or the config file was deleted. Create a default one.
		if writeErr := config.WriteConfigFile(&loaded, false); writeErr != nil {
			// The app can run on defaults, so only warn.
			logging.Warnf("could not write default config file: %v", writeErr)
		}
	} else if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	cfg = loaded

	// Flags beat the config file. LoadConfig binds flags by their own
	// names, so the dotted config keys need an explicit override.
	if cmd.Flags().Changed("db-type") {
		cfg.Journal.Type, _ = cmd.Flags().GetString("db-type")
	}
	if cmd.Flags().Changed("db-dsn") {
		cfg.Journal.DSN, _ = cmd.Flags().GetString("db-dsn")
	}
	if cmd.Flags().Changed("lang") {
		cfg.Language, _ = cmd.Flags().GetString("lang")
	}
	if cmd.Flags().Changed("algorithm") {
		cfg.Rotate.Algorithm, _ = cmd.Flags().GetString("algorithm")
	}
	if cmd.Flags().Changed("bits") {
		cfg.Rotate.Bits, _ = cmd.Flags().GetInt("bits")
	}

	i18n.Init(cfg.Language)

	verbose, _ := cmd.Flags().GetBool("verbose")
	logging.SetVerbose(verbose)

	if err := journal.Init(cfg.Journal.Type, cfg.Journal.DSN); err != nil {
		return fmt.Errorf("%s", i18n.T("config.error_init_journal", err))
	}
	return nil
}

// runRotate performs one full rotation for user@host.
func runRotate(cmd *cobra.Command, args []string) error {
	remoteUser, _ := cmd.Flags().GetString("user")
	remoteHost, _ := cmd.Flags().GetString("host")
	if remoteUser == "" || remoteHost == "" {
		return fmt.Errorf("both --user and --host are required")
	}

	rel, err := localRelationship(remoteUser, remoteHost)
	if err != nil {
		return fmt.Errorf("%s", i18n.T("rotate.cli_error_principal", err))
	}

	fmt.Println(i18n.T("rotate.cli_starting", rel.String()))

	passphrase, _ := cmd.Flags().GetString("passphrase")
	if passphrase == "" && !cmd.Flags().Changed("passphrase") {
		if term.IsTerminal(int(os.Stdin.Fd())) {
			fmt.Print(i18n.T("rotate.cli_password_prompt"))
			bytePassword, err := term.ReadPassword(int(os.Stdin.Fd()))
			if err != nil {
				return fmt.Errorf("%s", i18n.T("rotate.cli_error_read_password", err))
			}
			passphrase = string(bytePassword)
			fmt.Println()
		}
	}

	keyDir := cfg.Rotate.KeyDir
	if keyDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("%s", i18n.T("rotate.cli_error_keydir", "~/.ssh", err))
		}
		keyDir = filepath.Join(home, ".ssh")
	}
	if err := os.MkdirAll(keyDir, 0700); err != nil {
		return fmt.Errorf("%s", i18n.T("rotate.cli_error_keydir", keyDir, err))
	}

	knownHosts, _ := cmd.Flags().GetString("known-hosts")
	if knownHosts == "" {
		if home, err := os.UserHomeDir(); err == nil {
			knownHosts = filepath.Join(home, ".ssh", "known_hosts")
		}
	}
	insecure, _ := cmd.Flags().GetBool("insecure-host-key")
	hostKeyCallback, err := authkeys.HostKeyCallback(knownHosts, insecure)
	if err != nil {
		return fmt.Errorf("%s", i18n.T("rotate.cli_error_hostkeys", knownHosts, err))
	}

	port, _ := cmd.Flags().GetInt("port")
	dialHost := remoteHost
	if port != 0 && port != 22 && !strings.Contains(remoteHost, ":") {
		dialHost = fmt.Sprintf("%s:%d", remoteHost, port)
	}

	identity, _ := cmd.Flags().GetString("identity")
	identityPassphrase, _ := cmd.Flags().GetString("identity-passphrase")
	client, err := authkeys.NewClient(dialHost, remoteUser, identity, identityPassphrase, hostKeyCallback)
	if err != nil {
		return fmt.Errorf("%s", i18n.T("rotate.cli_error_connect", rel.String(), err))
	}
	defer client.Close()

	sshConfigPath, _ := cmd.Flags().GetString("ssh-config")
	if sshConfigPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("%s", i18n.T("rotate.cli_error_principal", err))
		}
		sshConfigPath = filepath.Join(home, ".ssh", "config")
	}

	var store rotate.Store = authkeys.NewStore(client)
	if noRetire, _ := cmd.Flags().GetBool("no-retire"); noRetire {
		store = keepAllStore{store}
	}

	deps := rotate.Deps{
		Generator: &diskKeyGenerator{
			algorithm:  cfg.Rotate.Algorithm,
			bits:       cfg.Rotate.Bits,
			passphrase: passphrase,
			dir:        keyDir,
		},
		Store: store,
		Validator: &sshValidator{
			host:            dialHost,
			user:            remoteUser,
			passphrase:      passphrase,
			hostKeyCallback: hostKeyCallback,
		},
		LocalConfig: &sshConfigWriter{path: sshConfigPath, port: port},
	}

	result, runErr := rotate.Run(rotate.Config{
		Relationship: rel,
		ToolVersion:  buildvars.VersionOrDefault("dev"),
	}, deps)

	if err := recordRotation(cmd, rel, result, runErr); err != nil {
		fmt.Println(i18n.T("rotate.cli_error_record", err))
	}

	if runErr != nil {
		return fmt.Errorf("%s", i18n.T("rotate.cli_error", runErr))
	}

	if result.Retired > 0 {
		fmt.Println(i18n.T("rotate.cli_retired", result.Retired))
	}
	for _, warn := range result.Warnings {
		fmt.Println(i18n.T("rotate.cli_warning", warn))
	}
	if !hasConfigWarning(result.Warnings) {
		fmt.Println(i18n.T("rotate.cli_config_updated", remoteHost, result.KeyPair.PrivateKeyPath))
	}
	fmt.Println(i18n.T("rotate.cli_success", result.KeyPair.PrivateKeyPath))
	return nil
}

// localRelationship derives the full relationship from the remote
// endpoint and the current local user and hostname.
func localRelationship(remoteUser, remoteHost string) (model.Relationship, error) {
	current, err := user.Current()
	if err != nil {
		return model.Relationship{}, err
	}
	hostname, err := os.Hostname()
	if err != nil {
		return model.Relationship{}, err
	}
	return model.Relationship{
		LocalUser:  current.Username,
		LocalHost:  hostname,
		RemoteUser: remoteUser,
		RemoteHost: remoteHost,
	}, nil
}

// hasConfigWarning reports whether one of the warnings came from the
// local SSH config update, in which case the config was not changed.
func hasConfigWarning(warnings []error) bool {
	for _, w := range warnings {
		if errors.Is(w, rotate.ErrLocalConfig) {
			return true
		}
	}
	return false
}

// outcomeString maps a rotation result to the journal outcome column.
func outcomeString(runErr error) string {
	if runErr == nil {
		return "rotated"
	}
	var stepErr *rotate.StepError
	if errors.As(runErr, &stepErr) {
		return "failed:" + string(stepErr.Step)
	}
	return "failed"
}

// joinWarnings flattens rotation warnings for the journal row.
func joinWarnings(warnings []error) string {
	if len(warnings) == 0 {
		return ""
	}
	parts := make([]string, len(warnings))
	for i, w := range warnings {
		parts[i] = w.Error()
	}
	return strings.Join(parts, "; ")
}
