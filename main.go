package main

import (
	"flag"
	"fmt"
	"log"

	"github.com/miry41/lamarl-playground/internal/config"
	"github.com/miry41/lamarl-playground/internal/llmadapter"
	"github.com/miry41/lamarl-playground/server"
)

var (
	configPath *string
	addr       *string
)

func init() {
	configPath = flag.String("config", "", "path to a YAML config file (kind/def envelope); omitted uses built-in defaults")
	addr = flag.String("addr", "", "override the configured listen address, e.g. :8080")
	flag.Parse()
}

func loadConfig() (*config.Config, error) {
	if *configPath == "" {
		return config.Default(), nil
	}
	return config.FromYaml(*configPath)
}

func runApp() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}

	srv := server.New(cfg, llmadapter.TemplateGenerator{})
	log.Printf("lamarl-playground listening on %s", cfg.Server.Addr)
	return srv.Serve()
}

func main() {
	if err := runApp(); err != nil {
		fmt.Println(err)
	}
}
