package main

import (
	"flag"
	"log"

	"github.com/danmuck/edgewire/internal/config"
)

func main() {
	kind := flag.String("kind", "server", "config kind: server|client|solo")
	output := flag.String("output", "", "output path for config template")
	validate := flag.Bool("validate", false, "validate an existing config file")
	input := flag.String("input", "cmd/edgewire/config.toml", "config path for validation")
	force := flag.Bool("force", false, "overwrite existing config file")
	flag.Parse()

	if *validate {
		cfg, err := config.LoadPeerConfig(*input)
		if err != nil {
			log.Fatal(err)
		}
		log.Printf("Validated %s config %q at %s", cfg.Role, cfg.Name, *input)
		return
	}

	target := *output
	if target == "" {
		target = "cmd/edgewire/" + *kind + ".config.toml"
	}
	if err := config.WriteTemplate(target, *kind, *force); err != nil {
		log.Fatal(err)
	}
	log.Printf("Wrote %s config template to %s", *kind, target)
}
