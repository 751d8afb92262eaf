package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/danmuck/ghostline/internal/config"
	"github.com/danmuck/ghostline/internal/observability"
	"github.com/spf13/pflag"
)

const defaultPath = "cmd/ghostctl/config.toml"

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "configgen: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var (
		output   string
		input    string
		validate bool
		force    bool
	)
	flagSet := pflag.NewFlagSet("configgen", pflag.ContinueOnError)
	flagSet.StringVarP(&output, "output", "o", defaultPath, "output path for the config template")
	flagSet.StringVar(&input, "input", defaultPath, "config path to validate")
	flagSet.BoolVar(&validate, "validate", false, "strictly validate an existing config instead of writing one")
	flagSet.BoolVarP(&force, "force", "f", false, "overwrite an existing config file")
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	log := observability.InitLogger("configgen", os.Stderr)
	if validate {
		f, err := config.Load(input)
		if err != nil {
			return err
		}
		if _, err := config.ServiceConfig(f); err != nil {
			return err
		}
		log.Info().Str("path", input).Msg("configgen validated")
		return nil
	}

	if err := config.WriteTemplate(output, force); err != nil {
		return err
	}
	log.Info().Str("path", output).Msg("configgen wrote template")
	return nil
}
