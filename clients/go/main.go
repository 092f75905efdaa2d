// batepapo CLI - command line client for the batepapo chat server
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/eldtechnologies/batepapo/clients/go/batepapo"
)

const (
	heartbeatInterval = 5 * time.Second
	pollInterval      = 3 * time.Second
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := batepapo.NewClient(os.Getenv("BATEPAPO_URL"), os.Getenv("BATEPAPO_USER"))
	cmd, args := os.Args[1], os.Args[2:]

	switch cmd {
	case "health":
		resp, err := client.Health(ctx)
		exitOnError(err)
		printJSON(resp)

	case "register":
		if len(args) > 0 {
			client.User = args[0]
		}
		requireUser(client, "register <name>")
		p, err := client.Register(ctx)
		exitOnError(err)
		fmt.Printf("Registered as: %s\n", p.Name)

	case "status":
		requireUser(client, "status")
		exitOnError(client.Heartbeat(ctx))
		fmt.Println("ok")

	case "who":
		if len(args) > 0 {
			p, err := client.Who(ctx, args[0])
			exitOnError(err)
			printJSON(p)
			return
		}
		ps, err := client.Participants(ctx)
		exitOnError(err)
		for _, p := range ps {
			fmt.Printf("  %s (last seen %s)\n", p.Name, time.UnixMilli(p.LastStatus).Format(time.TimeOnly))
		}

	case "read":
		limit := 20
		if len(args) > 0 {
			n, err := strconv.Atoi(args[0])
			exitOnError(err)
			limit = n
		}
		msgs, err := client.Messages(ctx, limit)
		exitOnError(err)
		for _, m := range msgs {
			printMessage(m)
		}

	case "post":
		requireUser(client, "post <text> [to]")
		if len(args) < 1 {
			fmt.Fprintln(os.Stderr, "Usage: batepapo post <text> [to]")
			os.Exit(1)
		}
		in := batepapo.MessageInput{To: batepapo.Broadcast, Text: args[0], Type: batepapo.TypeMessage}
		if len(args) > 1 {
			in.To = args[1]
			in.Type = batepapo.TypePrivateMessage
		}
		m, err := client.Post(ctx, in)
		exitOnError(err)
		fmt.Printf("Posted: %s\n", m.ID)

	case "edit":
		requireUser(client, "edit <id> <text> [to]")
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "Usage: batepapo edit <id> <text> [to]")
			os.Exit(1)
		}
		in := batepapo.MessageInput{To: batepapo.Broadcast, Text: args[1], Type: batepapo.TypeMessage}
		if len(args) > 2 {
			in.To = args[2]
			in.Type = batepapo.TypePrivateMessage
		}
		m, err := client.Edit(ctx, args[0], in)
		exitOnError(err)
		printMessage(*m)

	case "delete":
		requireUser(client, "delete <id>")
		if len(args) < 1 {
			fmt.Fprintln(os.Stderr, "Usage: batepapo delete <id>")
			os.Exit(1)
		}
		exitOnError(client.Delete(ctx, args[0]))
		fmt.Println("Deleted")

	case "chat":
		if len(args) > 0 {
			client.User = args[0]
		}
		requireUser(client, "chat <name>")
		exitOnError(chat(ctx, client))

	case "help", "--help", "-h":
		usage()

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		usage()
		os.Exit(1)
	}
}

// chat joins the room, keeps the participant alive, prints new messages and
// posts every line read from stdin. "/to <name> <text>" sends a private message.
func chat(ctx context.Context, client *batepapo.Client) error {
	if _, err := client.Register(ctx); err != nil {
		var apiErr *batepapo.APIError
		if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusConflict {
			return err
		}
		// Name still registered from an earlier session; keep using it.
		if err := client.Heartbeat(ctx); err != nil {
			return err
		}
	}
	fmt.Printf("Joined as %s. Type to talk, /to <name> <text> for private messages, Ctrl-C to leave.\n", client.User)

	go client.KeepAlive(ctx, heartbeatInterval, func(err error) {
		fmt.Fprintln(os.Stderr, "heartbeat failed:", err)
	})
	go follow(ctx, client)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			in, ok := parseLine(line)
			if !ok {
				continue
			}
			if _, err := client.Post(ctx, in); err != nil {
				fmt.Fprintln(os.Stderr, "post failed:", err)
			}
		}
	}
}

func parseLine(line string) (batepapo.MessageInput, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return batepapo.MessageInput{}, false
	}
	if rest, ok := strings.CutPrefix(line, "/to "); ok {
		to, text, found := strings.Cut(strings.TrimSpace(rest), " ")
		if !found {
			return batepapo.MessageInput{}, false
		}
		return batepapo.MessageInput{To: to, Text: text, Type: batepapo.TypePrivateMessage}, true
	}
	return batepapo.MessageInput{To: batepapo.Broadcast, Text: line, Type: batepapo.TypeMessage}, true
}

// follow polls for messages and prints the ones not seen before.
func follow(ctx context.Context, client *batepapo.Client) {
	seen := map[string]bool{}
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		msgs, err := client.Messages(ctx, 50)
		if err == nil {
			for _, m := range msgs {
				if !seen[m.ID] {
					seen[m.ID] = true
					printMessage(m)
				}
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func printMessage(m batepapo.Message) {
	switch m.Type {
	case batepapo.TypeStatus:
		fmt.Printf("(%s) %s %s\n", m.Time, m.From, m.Text)
	case batepapo.TypePrivateMessage:
		fmt.Printf("(%s) %s -> %s (private): %s\n", m.Time, m.From, m.To, m.Text)
	default:
		fmt.Printf("(%s) %s -> %s: %s\n", m.Time, m.From, m.To, m.Text)
	}
}

func requireUser(client *batepapo.Client, cmdUsage string) {
	if client.User == "" {
		fmt.Fprintf(os.Stderr, "Usage: batepapo %s (or set BATEPAPO_USER)\n", cmdUsage)
		os.Exit(1)
	}
}

func usage() {
	fmt.Println(`batepapo CLI - chat from the terminal

Usage: batepapo <command> [options]

Commands:
  chat <name>              Join the room and chat interactively
  register <name>          Register a participant
  status                   Send a heartbeat
  who [name]               List participants or show one
  read [limit]             Read the latest messages (default 20)
  post <text> [to]         Post to everyone, or privately to [to]
  edit <id> <text> [to]    Edit one of your messages
  delete <id>              Delete one of your messages
  health                   Check server health

Environment:
  BATEPAPO_URL    Server URL (default: http://localhost:5000)
  BATEPAPO_USER   Participant name sent in the User header`)
}

func exitOnError(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func printJSON(v interface{}) {
	data, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(data))
}
