// Command server runs the CRM request gate and manages its API keys and second-factor secrets.
//
// Usage:
//
//	server serve
//	server apikey create --user u1 --name zapier --perm read --perm write
//	server totp code --secret JBSWY3DPEHPK3PXP
package main

import (
	"os"

	"github.com/alecthomas/kong"

	"github.com/lowc1012/crm-gate/internal/config"
	"github.com/lowc1012/crm-gate/internal/log"
)

// CLI defines the command-line interface.
type CLI struct {
	Serve  ServeCmd  `cmd:"" help:"Start the gated API server."`
	APIKey APIKeyCmd `cmd:"" name:"apikey" help:"Manage API keys."`
	TOTP   TOTPCmd   `cmd:"" name:"totp" help:"Enroll, generate and check second-factor codes."`

	LogLevel string `help:"Log level (debug, info, warn, error)." env:"LOG_LEVEL" default:"info"`
}

func newParser(cli *CLI, options ...kong.Option) (*kong.Kong, error) {
	options = append([]kong.Option{
		kong.Name("server"),
		kong.Description("Request gate for the events-rental CRM API."),
		kong.UsageOnError(),
	}, options...)
	return kong.New(cli, options...)
}

func main() {
	_ = config.LoadDotEnv()

	cli := CLI{}
	parser, err := newParser(&cli)
	if err != nil {
		panic(err)
	}

	ctx, err := parser.Parse(os.Args[1:])
	parser.FatalIfErrorf(err)

	log.SetLevel(cli.LogLevel)
	defer log.Sync()

	err = ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}
