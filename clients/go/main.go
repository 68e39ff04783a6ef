// Command line client for the bus rental support chat.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/Davezu/chatbot/clients/go/buschat"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	baseURL := os.Getenv("BUSCHAT_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}

	client := buschat.NewClient(baseURL)
	if raw := os.Getenv("BUSCHAT_ADMIN"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		exitOnError(err)
		client.AdminID = id
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	switch os.Args[1] {
	case "chat":
		// Start a conversation and stream it to stdout.
		exitOnError(client.Start(ctx))
		fmt.Println("conversation:", client.ConversationID())
		render(client, 0)
		err := client.Run(ctx, func() { renderNew(client) })
		if err != nil && ctx.Err() == nil {
			exitOnError(err)
		}

	case "watch":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "Usage: buschat watch <conversation-id>")
			os.Exit(1)
		}
		client.Attach(os.Args[2])
		err := client.Run(ctx, func() { renderNew(client) })
		if err != nil && ctx.Err() == nil {
			exitOnError(err)
		}

	case "send":
		if len(os.Args) < 4 {
			fmt.Fprintln(os.Stderr, "Usage: buschat send <conversation-id> <text>")
			os.Exit(1)
		}
		client.Attach(os.Args[2])
		exitOnError(client.Send(ctx, os.Args[3]))

	case "escalate":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "Usage: buschat escalate <conversation-id> [problem]")
			os.Exit(1)
		}
		client.Attach(os.Args[2])
		problem := ""
		if len(os.Args) > 3 {
			problem = os.Args[3]
		}
		exitOnError(client.RequestHuman(ctx, problem))
		fmt.Println("status:", client.Status())

	default:
		usage()
		os.Exit(1)
	}
}

var rendered int

func render(c *buschat.Client, from int) {
	entries := c.Entries()
	if from > len(entries) {
		from = len(entries)
	}
	for _, e := range entries[from:] {
		state := ""
		if e.State != buschat.EntryConfirmed {
			state = " (" + string(e.State) + ")"
		}
		fmt.Printf("[%s]%s %s\n", e.SenderType, state, e.Content)
	}
	rendered = len(entries)
}

func renderNew(c *buschat.Client) {
	render(c, rendered)
}

func usage() {
	fmt.Fprintln(os.Stderr, `Usage: buschat <command>

Commands:
  chat                          start a conversation and stream it
  watch <conversation-id>       follow an existing conversation
  send <conversation-id> <text> send one message
  escalate <conversation-id>    request a human agent

Environment:
  BUSCHAT_URL    server base URL (default http://localhost:8080)
  BUSCHAT_ADMIN  admin user id; sends go through the admin endpoint`)
}

func exitOnError(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
