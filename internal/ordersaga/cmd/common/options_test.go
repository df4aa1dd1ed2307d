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

package common

import (
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/innovationmech/ordersaga/pkg/config/testutil"
)

func TestOptions_ManagerOptions(t *testing.T) {
	o := &Options{}
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	o.AddFlags(fs)
	require.NoError(t, fs.Parse([]string{"--workdir", "/etc/ordersaga", "--env", "prod"}))

	opts := o.ManagerOptions()
	assert.Equal(t, "/etc/ordersaga", opts.WorkDir)
	assert.Equal(t, "prod", opts.EnvironmentName)
	assert.Equal(t, "ordersaga", opts.ConfigBaseName)
	assert.Empty(t, opts.ConfigFile)
}

func TestOptions_Bootstrap(t *testing.T) {
	sb := testutil.NewSandbox(t)
	sb.WriteYAML("ordersaga.yaml", map[string]interface{}{
		"server":  map[string]interface{}{"addr": ":18080"},
		"logging": map[string]interface{}{"level": "warn"},
	})

	o := &Options{WorkDir: sb.Dir, LogLevel: "error"}
	c, log, err := o.Bootstrap()
	require.NoError(t, err)
	require.NotNil(t, log)
	assert.Equal(t, ":18080", c.Server.Addr)
	assert.Equal(t, "warn", c.Logging.Level)
}
