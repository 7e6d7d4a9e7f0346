package main

import (
	"context"
	"log"
	"os"
	"strings"

	"github.com/dmitrijs2005/storeauth/internal/authctl"
	"github.com/dmitrijs2005/storeauth/internal/logging"
	"github.com/dmitrijs2005/storeauth/internal/server"
	"github.com/dmitrijs2005/storeauth/internal/server/config"
)

func main() {

	ctx := context.Background()
	cfg := config.LoadConfig()

	db, err := server.OpenDB(ctx, cfg.DatabaseDSN)
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer db.Close()

	core, err := server.NewCore(ctx, cfg, db, logging.New(cfg.LogFormat))
	if err != nil {
		log.Fatalf("%v", err)
	}

	if err := authctl.NewApp(db, core, os.Stdout).Run(ctx, commandArgs(os.Args[1:])); err != nil {
		log.Fatalf("%v", err)
	}

}

// commandArgs drops leading configuration flags so the first element is the
// command name.
func commandArgs(args []string) []string {
	for i, a := range args {
		if !strings.HasPrefix(a, "-") {
			if i > 0 && !strings.Contains(args[i-1], "=") && isValueFlag(args[i-1]) {
				continue
			}
			return args[i:]
		}
	}
	return nil
}

func isValueFlag(a string) bool {
	switch a {
	case "-a", "-d", "-s", "-k", "-l", "-i", "-u", "-p", "-b", "-g", "-e", "-c", "-config":
		return true
	}
	return false
}
