// Command client is a small demo of the session SDK against a running auth
// service: it restores any persisted session, runs one command, and exits.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/riseandspeak/backend/client/backend"
	"github.com/riseandspeak/backend/client/session"
	"github.com/riseandspeak/backend/client/store"
	"github.com/riseandspeak/backend/pkg/logger"
)

func main() {
	server := flag.String("server", envOr("API_URL", "http://localhost:8080"), "auth service base URL")
	flag.Parse()

	zapLogger, err := logger.New(logger.Config{Level: "warn", Encoding: "console"})
	if err != nil {
		log.Fatalf("logger error: %v", err)
	}
	defer zapLogger.Sync()

	home, err := os.UserHomeDir()
	if err != nil {
		log.Fatalf("cannot resolve home directory: %v", err)
	}
	kv, err := store.OpenBolt(filepath.Join(home, ".riseandspeak", "session.db"), "session")
	if err != nil {
		log.Fatalf("cannot open session store: %v", err)
	}
	defer kv.Close()

	manager := session.NewManager(
		backend.NewHTTP(*server, backend.HTTPOptions{Logger: zapLogger}),
		kv,
		session.Options{Logger: zapLogger},
	)

	ctx := context.Background()
	if err := manager.Initialize(ctx); err != nil {
		log.Fatalf("initialize failed: %v", err)
	}

	if err := run(ctx, manager, flag.Args()); err != nil {
		log.Fatalf("error: %v", err)
	}
}

func run(ctx context.Context, manager *session.Manager, args []string) error {
	if len(args) == 0 {
		return printState(manager)
	}

	switch args[0] {
	case "signin":
		if len(args) != 3 {
			return fmt.Errorf("usage: signin <email> <password>")
		}
		user, err := manager.SignIn(ctx, args[1], args[2])
		if err != nil {
			return err
		}
		fmt.Printf("signed in as %s (%s)\n", user.Name, user.Email)
		return nil

	case "signup":
		if len(args) != 4 {
			return fmt.Errorf("usage: signup <email> <password> <name>")
		}
		user, err := manager.SignUp(ctx, args[1], args[2], args[3])
		if err != nil {
			return err
		}
		fmt.Printf("account created for %s (%s)\n", user.Name, user.Email)
		return nil

	case "signout":
		if err := manager.SignOut(ctx); err != nil {
			return err
		}
		fmt.Println("signed out")
		return nil

	case "refresh":
		if err := manager.RefreshUser(ctx); err != nil {
			return err
		}
		return printState(manager)

	case "whoami":
		return printState(manager)

	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func printState(manager *session.Manager) error {
	state := manager.State()
	if !state.IsAuthenticated {
		fmt.Println("not signed in")
		return nil
	}
	out, err := json.MarshalIndent(state.User, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
