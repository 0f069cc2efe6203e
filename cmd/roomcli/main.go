// roomcli is a terminal study-room client: it joins a room over the
// realtime channel, prints roster and chat activity, and drives the
// pomodoro status from simple commands.
//
//	/focus          broadcast focusing status
//	/idle           broadcast idle status
//	/done [min]     complete a focus cycle (persists a pomodoro record)
//	/name <name>    change display name (peers see it without a reconnect)
//	anything else   sent as a chat message
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/studyroom/studyroom/internal/client"
	"github.com/studyroom/studyroom/internal/domain"
	"github.com/studyroom/studyroom/internal/identity"
	"github.com/studyroom/studyroom/internal/records"
)

func main() {
	var (
		apiBase = flag.String("api", "http://localhost:8080", "record service base URL")
		wsBase  = flag.String("ws", "", "realtime endpoint override (default derived from -api)")
		roomID  = flag.Int64("room", 0, "room id to join")
		name    = flag.String("name", "", "display name (persisted)")
	)
	flag.Parse()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.WarnLevel)

	if *roomID <= 0 {
		fmt.Fprintln(os.Stderr, "usage: roomcli -room <id> [-api <url>] [-name <name>]")
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	kv, err := identity.DefaultFileKV()
	if err != nil {
		fmt.Fprintf(os.Stderr, "identity storage: %v\n", err)
		os.Exit(1)
	}
	ids := identity.NewStore(kv)
	ids.Load()
	if *name != "" {
		if _, err := ids.Update(identity.Partial{Name: name}); err != nil {
			fmt.Fprintf(os.Stderr, "invalid name: %v\n", err)
			os.Exit(2)
		}
	}

	rec := records.NewClient(*apiBase)
	room, err := rec.GetRoom(ctx, domain.RoomID(*roomID))
	if err != nil {
		fmt.Fprintf(os.Stderr, "room lookup: %v\n", err)
		os.Exit(1)
	}

	wsURL, err := client.ResolveWSURL(*apiBase, *wsBase)
	if err != nil {
		fmt.Fprintf(os.Stderr, "resolve ws endpoint: %v\n", err)
		os.Exit(1)
	}

	ch := client.NewChannel(wsURL)
	ctl := client.NewController(room.ID, ids, ch, client.Options{Records: rec})
	ctl.Start(ctx)
	defer ctl.Stop()

	if ctl.State() != client.StateConnected {
		fmt.Fprintln(os.Stderr, "could not connect; exiting")
		os.Exit(1)
	}

	me := ctl.Identity()
	fmt.Printf("joined %q (room %d) as %s\n", room.Title, room.ID, me.Name)

	go watch(ctx, ctl)

	lines := make(chan string)
	go func() {
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			fmt.Println("leaving")
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			handleLine(ctl, line)
		}
	}
}

// watch mirrors inbound activity to the terminal.
func watch(ctx context.Context, ctl *client.Controller) {
	var lastChat int
	ticker := time.NewTicker(300 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case n := <-ctl.Notices():
			fmt.Println("! " + n)
		case <-ticker.C:
			msgs := ctl.Messages()
			for _, m := range msgs[min(lastChat, len(msgs)):] {
				fmt.Printf("[%s] %s\n", m.User.Name, m.Content)
			}
			lastChat = len(msgs)
		}
	}
}

func handleLine(ctl *client.Controller, line string) {
	line = strings.TrimSpace(line)
	switch {
	case line == "":
	case line == "/focus":
		ctl.SetTimerStatus(domain.StatusFocusing)
	case line == "/idle":
		ctl.SetTimerStatus(domain.StatusIdle)
	case strings.HasPrefix(line, "/done"):
		minutes := 25
		if rest := strings.TrimSpace(strings.TrimPrefix(line, "/done")); rest != "" {
			if v, err := strconv.Atoi(rest); err == nil && v > 0 {
				minutes = v
			}
		}
		ctl.CompleteFocus(minutes)
	case strings.HasPrefix(line, "/name "):
		if err := ctl.SetName(strings.TrimPrefix(line, "/name ")); err != nil {
			fmt.Println("! " + err.Error())
		}
	case line == "/who":
		for _, m := range ctl.Roster() {
			fmt.Printf("  %s (%s)\n", m.Name, m.Status)
		}
	default:
		if err := ctl.SendChat(line); err != nil {
			fmt.Println("! " + err.Error())
		}
	}
}
