// deskq is a command-line client for the support desk: log in, list and
// edit clients and tickets, comment, upload attachments and watch lists for
// changes. Every read goes through the resource cache, so a persistent cache
// store (see the cache section of the config file) lets repeated commands
// answer from local data while the server is asked again.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/unkn0wn-root/deskquery/config"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(argv []string) error {
	var configPath string
	var asJSON bool

	flagSet := pflag.NewFlagSet("deskq", pflag.ContinueOnError)
	flagSet.SetInterspersed(false)
	flagSet.StringVar(&configPath, "config", "", "path to the YAML config file (default: $"+config.EnvVar+")")
	flagSet.BoolVar(&asJSON, "json", false, "print results as JSON")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(argv); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printHelp(flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help || flagSet.NArg() == 0 {
		printHelp(flagSet)
		return nil
	}

	name, args := flagSet.Arg(0), flagSet.Args()[1:]
	cmd, ok := commands[name]
	if !ok {
		printHelp(flagSet)
		return fmt.Errorf("unknown command %q", name)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, newPrinter(os.Stdout, asJSON))
	if err != nil {
		return err
	}
	defer a.close()

	if cmd.auth && !a.sess.IsAuthenticated() {
		return errors.New("not logged in; run: deskq login --email <email>")
	}
	return cmd.run(ctx, a, args)
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, "usage: deskq [flags] <command> [args]\n\nflags:\n%s\ncommands:\n", flagSet.FlagUsages())
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(os.Stderr, "  %-15s %s\n", name, commands[name].summary)
	}
}
