package main

import (
	"context"
	"flag"
	"io"
	"os"
	"os/signal"
	"path"
	"syscall"

	"github.com/google/subcommands"
	"github.com/rs/zerolog/log"

	"quoteflow/internal/infrastructure/config"
	"quoteflow/internal/infrastructure/logger"
	"quoteflow/internal/infrastructure/svc"
)

var configPath = flag.String("config", "configs/config.toml", "path to config.toml")

// stdout receives command output; logs go to stderr.
var stdout io.Writer = os.Stdout

func main() {
	commander := newCommander(flag.CommandLine)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	status := commander.Execute(ctx)
	stop()
	os.Exit(int(status))
}

func newCommander(fs *flag.FlagSet) *subcommands.Commander {
	commander := subcommands.NewCommander(fs, path.Base(os.Args[0]))
	commander.Register(commander.HelpCommand(), "")
	commander.Register(commander.FlagsCommand(), "")
	commander.Register(commander.CommandsCommand(), "")

	commander.Register(&publishCmd{}, "feed")
	commander.Register(&latestCmd{}, "feed")
	commander.Register(&seedCmd{}, "portfolio")
	commander.Register(&avgCmd{}, "portfolio")
	commander.Register(&positionsCmd{}, "portfolio")
	return commander
}

// openService loads the config named by -config and builds the service
// context. The caller closes it.
func openService(ctx context.Context) (*svc.ServiceContext, error) {
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Setup("info")
		return nil, err
	}
	logger.Setup(cfg.App.LogLevel)
	return svc.New(ctx, cfg)
}

// run opens the service context, hands it to fn and maps the outcome to an
// exit status.
func run(ctx context.Context, name string, fn func(sc *svc.ServiceContext) error) subcommands.ExitStatus {
	sc, err := openService(ctx)
	if err != nil {
		log.Error().Err(err).Str("config", *configPath).Str("command", name).Msg("service context initialization failed")
		return subcommands.ExitFailure
	}
	defer sc.Close()

	if err := fn(sc); err != nil {
		log.Error().Err(err).Str("command", name).Msg("command failed")
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

// usageError reports a missing or bad flag.
func usageError(f *flag.FlagSet, msg string) subcommands.ExitStatus {
	log.Error().Str("command", f.Name()).Msg(msg)
	f.Usage()
	return subcommands.ExitUsageError
}
