package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/common-nighthawk/go-figure"
	"github.com/jrsteele09/go-chat-session/internal/config"
	"github.com/jrsteele09/go-chat-session/internal/logging"
	"github.com/rs/zerolog/log"
)

const usage = `usage: chatclient [-tab name] <command> [arguments]

commands:
  register -username u -email e -password p [-display name]
  login -email e -password p
  logout [-all] [userID]
  sessions
  switch <userID>
  whoami
  refresh
  send <conversationID> <text...>
  sync
  queue
  discard <queuedID>
  draft <conversationID> [text]
  messages <conversationID>
  status
  watch
`

func main() {
	c := config.New()
	logging.Setup(c.GetLogLevel(), c.GetEnv(), os.Stderr)

	tab := flag.String("tab", "default", "name of the session binding to use")
	banner := flag.Bool("banner", false, "print the application banner")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}
	if *banner {
		displayAppname(c.GetAppName())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, c, *tab, flag.Arg(0), flag.Args()[1:]); err != nil {
		if errors.Is(err, errUsage) {
			flag.Usage()
			os.Exit(2)
		}
		log.Error().Err(err).Str("command", flag.Arg(0)).Msg("command failed")
		os.Exit(1)
	}
}

func run(ctx context.Context, c config.Config, tab, command string, args []string) error {
	cmd, ok := commands[command]
	if !ok {
		return errUsage
	}

	a, err := newApp(ctx, c, tab)
	if err != nil {
		return err
	}
	defer a.Close()

	return cmd(ctx, a, args)
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
