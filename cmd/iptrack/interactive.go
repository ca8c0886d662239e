package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/khing2004/ip-geo-web/internal/application/tracker"
	"github.com/khing2004/ip-geo-web/internal/interface/cli"
)

const interactiveHelp = `commands:
  search <ip>     validate and look up an IP
  clear           reset input and show your own IP again
  revisit <n>     re-show a history entry (read-only)
  select <n>      toggle a history entry for deletion
  delete          delete selected entries
  history         print current view
  logout          sign out and exit
  quit            exit
`

// runInteractive 逐事件驅動協調器，對應原本頁面上的操作。
func runInteractive(coord *tracker.Coordinator, render *cli.Renderer) {
	ctx := context.Background()

	snap, err := mountWithTimeout(ctx, coord)
	exitOnAuthError(err)
	render.Render(snap)

	scanner := bufio.NewScanner(os.Stdin)
	fmt.Print("> ")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		fields := strings.Fields(line)
		if len(fields) == 0 {
			fmt.Print("> ")
			continue
		}
		cmd, arg := fields[0], ""
		if len(fields) > 1 {
			arg = fields[1]
		}

		opCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		snap, err := dispatch(opCtx, coord, cmd, arg)
		cancel()

		switch {
		case errors.Is(err, errQuit):
			return
		case errors.Is(err, errHelp):
			fmt.Print(interactiveHelp)
		case errors.Is(err, tracker.ErrBusy):
			fmt.Println("previous action still running")
		case errors.Is(err, tracker.ErrUnknownEntry):
			fmt.Println("no such history entry")
		case err != nil:
			exitOnAuthError(err)
		default:
			render.Render(snap)
			if !snap.Authenticated {
				// 登出（或 session 失效）後回到未登入路由
				return
			}
		}
		fmt.Print("> ")
	}
}

var (
	errQuit = errors.New("quit")
	errHelp = errors.New("help")
)

func dispatch(ctx context.Context, coord *tracker.Coordinator, cmd, arg string) (tracker.Snapshot, error) {
	switch cmd {
	case "search":
		return coord.Search(ctx, arg)
	case "clear":
		return coord.Clear(ctx)
	case "revisit":
		id, err := resolveEntry(coord, arg)
		if err != nil {
			return tracker.Snapshot{}, err
		}
		return coord.Revisit(ctx, id)
	case "select":
		id, err := resolveEntry(coord, arg)
		if err != nil {
			return tracker.Snapshot{}, err
		}
		return coord.ToggleSelect(id)
	case "delete":
		return coord.DeleteSelected(ctx)
	case "history":
		return coord.View(), nil
	case "logout":
		return coord.Logout(ctx)
	case "quit", "exit":
		return tracker.Snapshot{}, errQuit
	default:
		return tracker.Snapshot{}, errHelp
	}
}

// resolveEntry 接受列表序號（1 起算）或紀錄 id。
func resolveEntry(coord *tracker.Coordinator, arg string) (string, error) {
	if arg == "" {
		return "", tracker.ErrUnknownEntry
	}
	snap := coord.View()
	if n, err := strconv.Atoi(arg); err == nil {
		if n < 1 || n > len(snap.History) {
			return "", tracker.ErrUnknownEntry
		}
		return snap.History[n-1].ID, nil
	}
	return arg, nil
}

func mountWithTimeout(ctx context.Context, coord *tracker.Coordinator) (tracker.Snapshot, error) {
	mountCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	return coord.Mount(mountCtx)
}
