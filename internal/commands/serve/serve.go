// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package serve

import (
	"github.com/spf13/cobra"

	"github.com/keduman/workflow-app/internal/commands/shared"
	"github.com/keduman/workflow-app/internal/controller"
)

// NewCommand creates the serve command.
func NewCommand() *cobra.Command {
	var opts controller.RunOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the workflow API server",
		Long: `Run the workflow API server in the foreground.

Configuration is read from --config, $WORKFLOW_CONFIG or the default config
file, then overridden by WORKFLOW_* environment variables and the flags below.
The server shuts down gracefully on SIGINT or SIGTERM.`,
		Example: `  workflow serve --addr :9090 --seed ./seed.yaml
  WORKFLOW_BACKEND=sqlite WORKFLOW_SQLITE_PATH=./workflow.db workflow serve`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Version, opts.Commit, opts.BuildDate = shared.GetVersion()
			opts.ConfigPath = shared.GetConfigPath()
			opts.Verbose = shared.GetVerbose()

			return controller.Run(opts)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "Listen address (overrides server.addr)")
	cmd.Flags().StringVar(&opts.Backend, "backend", "", "Storage backend: memory, sqlite or postgres")
	cmd.Flags().StringVar(&opts.SeedPath, "seed", "", "Seed file of identities and workflows to load at startup")

	return cmd
}
