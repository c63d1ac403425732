package main

import (
	"errors"
	"log"
	"os"

	"github.com/danmuck/bandbridge/internal/config"
	"github.com/spf13/pflag"
)

func main() {
	flagSet := pflag.NewFlagSet("configgen", pflag.ContinueOnError)
	output := flagSet.StringP("output", "o", "cmd/bandbridge/config.toml", "output path for config template")
	validate := flagSet.Bool("validate", false, "validate an existing config file")
	input := flagSet.StringP("input", "i", "cmd/bandbridge/config.toml", "config path for validation")
	force := flagSet.Bool("force", false, "overwrite existing config file")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		log.Fatal(err)
	}

	if *validate {
		if _, err := config.Validate(*input); err != nil {
			log.Fatal(err)
		}
		log.Printf("Validated bandbridge config at %s", *input)
		return
	}

	if err := config.WriteTemplate(*output, *force); err != nil {
		log.Fatal(err)
	}
	log.Printf("Wrote bandbridge config template to %s", *output)
}
