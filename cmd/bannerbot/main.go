package main

import (
	"log"

	corecmd "github.com/karwa/bannerbot/core/cmd"
	coreconfig "github.com/karwa/bannerbot/core/config"
)

func main() {
	err := corecmd.Run(corecmd.Options{
		ConfigEnvVar:      "CONFIG_PATH",
		DefaultConfigPath: "config.yaml",
		LoadConfig:        coreconfig.Load,
		Bootstrap:         newApp,
	})
	if err != nil {
		log.Fatalf("bannerbot: %v", err)
	}
}
