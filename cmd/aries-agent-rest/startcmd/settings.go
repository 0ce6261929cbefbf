/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package startcmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// settings resolves a parameter from the command line first, then the environment, then the config file.
// Config file keys are the long flag names.
type settings struct {
	cmd  *cobra.Command
	file map[string]interface{}
}

func newSettings(cmd *cobra.Command) (*settings, error) {
	s := &settings{cmd: cmd}

	path, err := s.getUserSetVar(configFileFlagName, configFileEnvKey, true)
	if err != nil {
		return nil, err
	}

	if path == "" {
		return s, nil
	}

	data, err := os.ReadFile(path) //nolint:gosec
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read config file %s", path)
	}

	if err := yaml.Unmarshal(data, &s.file); err != nil {
		return nil, errors.Wrapf(err, "failed to parse config file %s", path)
	}

	return s, nil
}

func (s *settings) fromFile(flagName string) ([]string, bool) {
	v, ok := s.file[flagName]
	if !ok || v == nil {
		return nil, false
	}

	list, ok := v.([]interface{})
	if !ok {
		return []string{fmt.Sprint(v)}, true
	}

	values := make([]string, 0, len(list))
	for _, e := range list {
		values = append(values, fmt.Sprint(e))
	}

	return values, true
}

func (s *settings) getUserSetVar(flagName, envKey string, isOptional bool) (string, error) {
	if s.cmd.Flags().Changed(flagName) {
		value, err := s.cmd.Flags().GetString(flagName)
		if err != nil {
			return "", fmt.Errorf(flagName+" flag not found: %w", err)
		}

		return value, nil
	}

	if value, isSet := os.LookupEnv(envKey); isSet {
		return value, nil
	}

	if values, ok := s.fromFile(flagName); ok {
		return strings.Join(values, ","), nil
	}

	if isOptional {
		return "", nil
	}

	return "", errors.New("Neither " + flagName + " (command line flag) nor " + envKey +
		" (environment variable) have been set.")
}

func (s *settings) getUserSetVars(flagName, envKey string, isOptional bool) ([]string, error) {
	if s.cmd.Flags().Changed(flagName) {
		value, err := s.cmd.Flags().GetStringSlice(flagName)
		if err != nil {
			return nil, fmt.Errorf(flagName+" flag not found: %w", err)
		}

		return value, nil
	}

	if value, isSet := os.LookupEnv(envKey); isSet {
		return strings.Split(value, ","), nil
	}

	if values, ok := s.fromFile(flagName); ok {
		return values, nil
	}

	if isOptional {
		return nil, nil
	}

	return nil, fmt.Errorf(" %s not set. "+
		"It must be set via either command line or environment variable", flagName)
}
