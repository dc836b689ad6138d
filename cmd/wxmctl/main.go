package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/matheus3301/wxm/internal/api"
	"github.com/matheus3301/wxm/internal/config"
	"github.com/matheus3301/wxm/internal/lock"
	"github.com/matheus3301/wxm/internal/session"
	"github.com/matheus3301/wxm/internal/store"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	limitFlag := flag.Int("limit", 50, "maximum number of rows to list")
	flag.Parse()

	sessionName := session.Resolve(*sessionFlag)
	if err := session.ValidateName(sessionName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	// Commands that work without a running daemon.
	switch args[0] {
	case "sessions":
		cmdSessions(*jsonFlag)
		return
	case "creds":
		if len(args) < 2 || args[1] != "save" {
			fmt.Fprintln(os.Stderr, "usage: wxmctl creds save")
			os.Exit(1)
		}
		cmdCredsSave(sessionName)
		return
	}

	socketPath := session.SocketPath(sessionName)
	c, err := api.Dial(socketPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: cannot connect to daemon for session %q: %v\n", sessionName, err)
		os.Exit(1)
	}
	defer func() { _ = c.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch args[0] {
	case "status":
		cmdStatus(ctx, c, *jsonFlag)
	case "health":
		cmdHealth(ctx, c)
	case "chats":
		chats, err := c.ListChats(ctx, *limitFlag, 0)
		exitOnErr(err)
		if *jsonFlag {
			outputJSON(chats)
			return
		}
		for _, ch := range chats {
			fmt.Printf("%-40s %-30s %s\n", ch.ID, ch.Name(), ch.LastMessagePreview)
		}
	case "contacts":
		filter := ""
		if len(args) >= 2 {
			filter = args[1]
		}
		contacts, err := c.ListContacts(ctx, filter, *limitFlag, 0)
		exitOnErr(err)
		if *jsonFlag {
			outputJSON(contacts)
			return
		}
		for _, ct := range contacts {
			fmt.Printf("%s  %-40s %s\n", ct.SortKey, ct.ID, ct.Name())
		}
	case "messages":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: wxmctl messages <chat-id>")
			os.Exit(1)
		}
		msgs, err := c.ListMessages(ctx, args[1], 0, *limitFlag)
		exitOnErr(err)
		printMessages(msgs, *jsonFlag)
	case "search":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: wxmctl search <query> [chat-id]")
			os.Exit(1)
		}
		chatID := ""
		if len(args) >= 3 {
			chatID = args[2]
		}
		msgs, err := c.SearchMessages(ctx, args[1], chatID, *limitFlag)
		exitOnErr(err)
		printMessages(msgs, *jsonFlag)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: wxmctl [--session <name>] [--json] [--limit n] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status                   Show daemon state and sync counters")
	fmt.Fprintln(os.Stderr, "  health                   Show gRPC health")
	fmt.Fprintln(os.Stderr, "  chats                    List chats, most recent first")
	fmt.Fprintln(os.Stderr, "  contacts [filter]        List the contact directory")
	fmt.Fprintln(os.Stderr, "  messages <chat-id>       Show the latest messages of a chat")
	fmt.Fprintln(os.Stderr, "  search <query> [chat-id] Search message text")
	fmt.Fprintln(os.Stderr, "  sessions                 List known sessions")
	fmt.Fprintln(os.Stderr, "  creds save               Store credentials from the environment in session.toml")
}

func exitOnErr(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func cmdStatus(ctx context.Context, c *api.Client, jsonOut bool) {
	st, err := c.GetStatus(ctx)
	exitOnErr(err)
	if jsonOut {
		outputJSON(st)
		return
	}
	fmt.Printf("Session:  %s\n", st.Session)
	fmt.Printf("Status:   %s (since %s)\n", st.State, st.StateSince.Format(time.RFC3339))
	fmt.Printf("Phase:    %s\n", st.Phase)
	fmt.Printf("Uptime:   %s\n", st.Uptime.Truncate(time.Second))
	fmt.Printf("Chats:    %d\n", st.ChatCount)
	fmt.Printf("Contacts: %d\n", st.ContactCount)
	fmt.Printf("Messages: %d\n", st.MessageCount)

	keys := make([]string, 0, len(st.Stats))
	for k := range st.Stats {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("  %-20s %d\n", k, st.Stats[k])
	}
}

func cmdHealth(ctx context.Context, c *api.Client) {
	resp, err := c.Health.Check(ctx, &healthpb.HealthCheckRequest{Service: api.MirrorServiceName})
	exitOnErr(err)
	fmt.Println(resp.GetStatus())
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		os.Exit(2)
	}
}

func cmdSessions(jsonOut bool) {
	type sessionInfo struct {
		Name    string `json:"name"`
		Path    string `json:"path"`
		Running bool   `json:"running"`
		PID     int    `json:"pid,omitempty"`
		Program string `json:"program,omitempty"`
	}

	entries, err := os.ReadDir(filepath.Join(session.BaseDir(), "sessions"))
	if err != nil && !os.IsNotExist(err) {
		exitOnErr(err)
	}
	var out []sessionInfo
	for _, e := range entries {
		if !e.IsDir() || session.ValidateName(e.Name()) != nil {
			continue
		}
		info := sessionInfo{Name: e.Name(), Path: session.Dir(e.Name())}
		if owner, ok := lock.ReadOwner(session.LockPath(e.Name())); ok {
			info.Running, info.PID, info.Program = true, owner.PID, owner.Program
		}
		out = append(out, info)
	}

	if jsonOut {
		outputJSON(out)
		return
	}
	if len(out) == 0 {
		fmt.Println("No sessions found.")
		return
	}
	for _, s := range out {
		state := "stopped"
		if s.Running {
			state = fmt.Sprintf("running, %s PID %d", s.Program, s.PID)
		}
		fmt.Printf("%-20s %s (%s)\n", s.Name, s.Path, state)
	}
}

func cmdCredsSave(sessionName string) {
	exitOnErr(session.EnsureDir(sessionName))
	path := session.CredentialsPath(sessionName)
	creds, err := config.LoadCredentials(path, session.EnvPath(sessionName))
	exitOnErr(err)
	exitOnErr(config.SaveCredentials(path, creds))
	fmt.Printf("Credentials for uin %d saved to %s\n", creds.Uin, path)
}

func printMessages(msgs []store.Message, jsonOut bool) {
	if jsonOut {
		outputJSON(msgs)
		return
	}
	// Oldest first reads naturally in a terminal.
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		dir := "->"
		if m.IsIncoming {
			dir = "<-"
		}
		fmt.Printf("%s %s %s %s\n", m.CreatedAt.Format("2006-01-02 15:04"), dir, m.ChatID(), m.Content)
	}
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}
