// Copyright © 2025 jackelyj <dreamerlyj@gmail.com>
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.
//

package cmd

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/innovationmech/ordersaga/internal/ordersaga/cmd/version"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs(args)
	_, err := cmd.ExecuteC()
	return buf.String(), err
}

func TestNewRootCommand(t *testing.T) {
	tests := []struct {
		name     string
		validate func(t *testing.T, cmd *cobra.Command)
	}{
		{
			name: "root metadata",
			validate: func(t *testing.T, cmd *cobra.Command) {
				assert.Equal(t, "ordersaga", cmd.Use)
				assert.Equal(t, version.Version, cmd.Version)
				assert.True(t, cmd.SilenceUsage)
			},
		},
		{
			name: "subcommands",
			validate: func(t *testing.T, cmd *cobra.Command) {
				for _, name := range []string{"serve", "processor", "version"} {
					sub, _, err := cmd.Find([]string{name})
					require.NoError(t, err)
					assert.Equal(t, name, sub.Name())
				}
				assert.Len(t, cmd.Commands(), 3)
			},
		},
		{
			name: "persistent flags",
			validate: func(t *testing.T, cmd *cobra.Command) {
				for _, name := range []string{"workdir", "config", "env", "log-level"} {
					assert.NotNil(t, cmd.PersistentFlags().Lookup(name), name)
				}
			},
		},
		{
			name: "command flags",
			validate: func(t *testing.T, cmd *cobra.Command) {
				serve, _, _ := cmd.Find([]string{"serve"})
				assert.NotNil(t, serve.Flags().Lookup("embedded-processor"))
				proc, _, _ := cmd.Find([]string{"processor"})
				f := proc.Flags().Lookup("metrics-addr")
				require.NotNil(t, f)
				assert.Equal(t, ":9091", f.DefValue)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.validate(t, NewRootCommand())
		})
	}
}

func TestCommandExecution(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name     string
		args     []string
		validate func(t *testing.T, output string, err error)
	}{
		{
			name: "help",
			args: []string{"--help"},
			validate: func(t *testing.T, output string, err error) {
				assert.NoError(t, err)
				assert.Contains(t, output, "Usage:")
				assert.Contains(t, output, "ordersaga [command]")
			},
		},
		{
			name: "version flag",
			args: []string{"--version"},
			validate: func(t *testing.T, output string, err error) {
				assert.NoError(t, err)
				assert.Contains(t, output, "ordersaga version "+version.Version)
			},
		},
		{
			name: "version command",
			args: []string{"version"},
			validate: func(t *testing.T, output string, err error) {
				assert.NoError(t, err)
				assert.Contains(t, output, "commit "+version.GitCommit)
			},
		},
		{
			name: "missing explicit config",
			args: []string{"serve", "--config", filepath.Join(dir, "absent.yaml")},
			validate: func(t *testing.T, output string, err error) {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "load config")
			},
		},
		{
			name: "processor refuses the memory transport",
			args: []string{"processor", "--workdir", dir},
			validate: func(t *testing.T, output string, err error) {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "broker transport")
			},
		},
		{
			name: "invalid log level",
			args: []string{"processor", "--workdir", dir, "--log-level", "loud"},
			validate: func(t *testing.T, output string, err error) {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "init logger")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			output, err := execute(t, tt.args...)
			tt.validate(t, output, err)
		})
	}
}
