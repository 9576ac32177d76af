// Copyright (c) 2025 ToeiRei
// Keyturn - SSH key rotation tool
// This source code is licensed under the MIT license found in the LICENSE file.
package config

import (
	"errors"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type testConfig struct {
	Language string `mapstructure:"language"`
	Journal  struct {
		Type string `mapstructure:"type"`
		DSN  string `mapstructure:"dsn"`
	} `mapstructure:"journal"`
}

func newTestCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "keyturn-test"}
	cmd.Flags().String("language", "", "language")
	return cmd
}

func TestLoadConfigDefaults(t *testing.T) {
	cmd := newTestCmd()
	defaults := map[string]any{
		"language":     "en",
		"journal.type": "sqlite",
		"journal.dsn":  "./keyturn.db",
	}

	c, err := LoadConfig[testConfig](cmd, defaults, nil)
	if err != nil && !errors.As(err, &viper.ConfigFileNotFoundError{}) {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if c.Language != "en" {
		t.Errorf("expected default language en, got %q", c.Language)
	}
	if c.Journal.Type != "sqlite" {
		t.Errorf("expected default journal type sqlite, got %q", c.Journal.Type)
	}
}

func TestLoadConfigFlagOverridesDefault(t *testing.T) {
	cmd := newTestCmd()
	if err := cmd.Flags().Set("language", "de"); err != nil {
		t.Fatalf("failed to set flag: %v", err)
	}

	c, err := LoadConfig[testConfig](cmd, map[string]any{"language": "en"}, nil)
	if err != nil && !errors.As(err, &viper.ConfigFileNotFoundError{}) {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if c.Language != "de" {
		t.Errorf("expected flag value de, got %q", c.Language)
	}
}
