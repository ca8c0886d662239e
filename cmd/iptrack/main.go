package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/khing2004/ip-geo-web/internal/application/auth"
	"github.com/khing2004/ip-geo-web/internal/application/tracker"
	"github.com/khing2004/ip-geo-web/internal/domain/geo"
	sessionDomain "github.com/khing2004/ip-geo-web/internal/domain/session"
	"github.com/khing2004/ip-geo-web/internal/infra/memory"
	"github.com/khing2004/ip-geo-web/internal/infrastructure/config"
	"github.com/khing2004/ip-geo-web/internal/infrastructure/db"
	"github.com/khing2004/ip-geo-web/internal/infrastructure/external/ipinfo"
	"github.com/khing2004/ip-geo-web/internal/infrastructure/external/trackerapi"
	"github.com/khing2004/ip-geo-web/internal/infrastructure/session"
	"github.com/khing2004/ip-geo-web/internal/interface/cli"
)

const usage = `usage: iptrack [-config path] <command>

commands:
  login         sign in and persist the session
  logout        drop the current session
  whoami        show session state
  self          show geolocation for your own IP
  lookup <ip>   look up an IP and record it to history
  history       list recorded lookups
  interactive   drive the tracker event by event
`

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to config file")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	cfg, err := config.LoadFromFile(*cfgPath)
	if err != nil {
		log.Fatalf("CRITICAL: load config failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	sessions := openSessions(ctx, cfg)
	provider := ipinfo.NewClient(cfg.Provider.BaseURL, cfg.Provider.Token, cfg.Provider.Timeout)
	backend := trackerapi.NewClient(cfg.Backend.BaseURL, cfg.Backend.Timeout)

	args := flag.Args()
	cmd := "interactive"
	if len(args) > 0 {
		cmd = args[0]
	}

	coord := tracker.New(provider, backend, sessions)
	render := cli.NewRenderer(os.Stdout)

	switch cmd {
	case "login":
		runLogin(ctx, backend, sessions)
	case "logout":
		if err := auth.NewLogoutUseCase(sessions).Execute(ctx); err != nil {
			log.Fatalf("logout failed: %v", err)
		}
		fmt.Println("logged out")
	case "whoami":
		runWhoami(ctx, sessions)
	case "self":
		snap, err := coord.Mount(ctx)
		exitOnAuthError(err)
		render.Render(snap)
	case "lookup":
		if len(args) < 2 {
			fmt.Fprint(os.Stderr, usage)
			os.Exit(2)
		}
		snap, err := coord.Search(ctx, args[1])
		exitOnAuthError(err)
		render.Render(snap)
	case "history":
		snap, err := coord.Mount(ctx)
		exitOnAuthError(err)
		render.Render(snap)
	case "interactive":
		runInteractive(coord, render)
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
}

// openSessions 開啟本機狀態檔；失敗時退回記憶體儲存（僅限本次執行）。
func openSessions(ctx context.Context, cfg config.Config) sessionDomain.Holder {
	pool, err := db.Open(ctx, cfg.State)
	if err != nil {
		log.Printf("warning: state db unavailable, falling back to in-memory session: %v", err)
		return memory.NewSessionStore()
	}
	if pool == nil {
		return memory.NewSessionStore()
	}
	return session.NewStore(pool)
}

func runLogin(ctx context.Context, backend *trackerapi.Client, sessions sessionDomain.Holder) {
	reader := bufio.NewReader(os.Stdin)
	fmt.Print("Email: ")
	email, _ := reader.ReadString('\n')
	fmt.Print("Password: ")
	password, _ := reader.ReadString('\n')

	uc := auth.NewLoginUseCase(backend, sessions)
	err := uc.Execute(ctx, auth.LoginInput{
		Email:    strings.TrimSpace(email),
		Password: strings.TrimRight(password, "\r\n"),
	})
	if err != nil {
		log.Fatalf("login failed: %v", err)
	}
	fmt.Println("logged in")
}

func runWhoami(ctx context.Context, sessions sessionDomain.Holder) {
	if _, err := sessions.Get(ctx); err != nil {
		fmt.Println("not logged in")
		os.Exit(1)
	}
	fmt.Println("logged in")
}

func exitOnAuthError(err error) {
	if err == nil || errors.Is(err, tracker.ErrBusy) {
		return
	}
	if errors.Is(err, geo.ErrUnauthenticated) {
		fmt.Fprintln(os.Stderr, "not logged in; run: iptrack login")
		os.Exit(1)
	}
	log.Fatalf("command failed: %v", err)
}
