// rpctl administers a rolecall store from the command line.
package main

import (
	"fmt"
	"os"

	"github.com/ashureev/rolecall/internal/config"
	"github.com/ashureev/rolecall/internal/store"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	cmd := newRootCmd(os.Stdout, func(o storeFlags) (store.Repository, int64, error) {
		cfg, err := config.Load()
		if err != nil {
			return nil, 0, err
		}
		o.apply(cfg)
		repo, err := store.Open(cfg)
		if err != nil {
			return nil, 0, err
		}
		return repo, cfg.AdminID, nil
	})
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
