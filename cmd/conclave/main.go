// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command conclave runs the multi-expert chat service.
//
// Usage:
//
//	conclave serve --config conclave.yaml
//	conclave chat
//	conclave crawl https://example.com/about
//	conclave search experiences "backend work with Go"
//	conclave reembed skills --all
package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"

	"github.com/kadirpekel/conclave"
	"github.com/kadirpekel/conclave/pkg/config"
)

// CLI defines the command-line interface.
type CLI struct {
	Version  VersionCmd  `cmd:"" help:"Show version information."`
	Serve    ServeCmd    `cmd:"" help:"Start the HTTP server."`
	Chat     ChatCmd     `cmd:"" help:"Chat with the experts from the terminal."`
	Crawl    CrawlCmd    `cmd:"" help:"Crawl pages into the document store."`
	Search   SearchCmd   `cmd:"" help:"Semantic search over a catalogued table."`
	Reembed  ReembedCmd  `cmd:"" help:"Backfill or refresh embeddings of a table."`
	Validate ValidateCmd `cmd:"" help:"Validate configuration."`
	Schema   SchemaCmd   `cmd:"" help:"Print the JSON Schema of the configuration."`

	Config         string   `short:"c" help:"Path or key of the config (empty = defaults and environment)."`
	ConfigProvider string   `name:"config-provider" help:"Config source (file, consul, etcd, zookeeper)." default:"file"`
	ConfigEndpoint []string `name:"config-endpoint" help:"Endpoints of a remote config source." sep:","`
	LogLevel       string   `help:"Log level (debug, info, warn, error)." env:"LOG_LEVEL"`
	LogFile        string   `help:"Log file path (empty = stderr)." env:"LOG_FILE"`
	LogFormat      string   `help:"Log format (simple, verbose, json)." env:"LOG_FORMAT"`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Println(conclave.GetVersion())
	return nil
}

func main() {
	if err := config.LoadEnvFiles(".env.local", ".env"); err != nil {
		fmt.Fprintln(os.Stderr, err)
	}

	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("conclave"),
		kong.Description("Multi-expert assistant over a personal data store"),
		kong.UsageOnError(),
	)

	cleanup, err := initLogger(cli.LogLevel, cli.LogFile, cli.LogFormat, config.LoggingConfig{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	err = ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}
