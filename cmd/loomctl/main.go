package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/loomchat/loom/internal/archive"
	"github.com/loomchat/loom/internal/chat"
	"github.com/loomchat/loom/internal/config"
	"github.com/loomchat/loom/internal/profile"
	"github.com/loomchat/loom/internal/rest"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Parse()

	profileName := profile.Resolve(*profileFlag)
	if err := profile.ValidateName(profileName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	switch args[0] {
	case "login":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: loomctl login <token>")
			os.Exit(1)
		}
		cmdLogin(profileName, args[1])
	case "logout":
		cmdLogout(profileName)
	case "me":
		cmdMe(ctx, apiClient(profileName), *jsonFlag)
	case "conversations":
		cmdConversations(ctx, apiClient(profileName), *jsonFlag)
	case "send":
		if len(args) < 3 {
			fmt.Fprintln(os.Stderr, "usage: loomctl send <phone> <text>")
			os.Exit(1)
		}
		cmdSend(ctx, apiClient(profileName), rest.SendMessageRequest{ReceiverPhone: args[1]}, strings.Join(args[2:], " "), *jsonFlag)
	case "send-group":
		if len(args) < 3 {
			fmt.Fprintln(os.Stderr, "usage: loomctl send-group <group-id> <text>")
			os.Exit(1)
		}
		cmdSend(ctx, apiClient(profileName), rest.SendMessageRequest{GroupID: parseID(args[1])}, strings.Join(args[2:], " "), *jsonFlag)
	case "direct":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: loomctl direct <phone>")
			os.Exit(1)
		}
		cmdDirect(ctx, apiClient(profileName), args[1], *jsonFlag)
	case "group-create":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: loomctl group-create <name> [member-id...]")
			os.Exit(1)
		}
		cmdGroupCreate(ctx, apiClient(profileName), args[1], parseIDs(args[2:]), *jsonFlag)
	case "group-add":
		if len(args) < 3 {
			fmt.Fprintln(os.Stderr, "usage: loomctl group-add <group-id> <member-id...>")
			os.Exit(1)
		}
		cmdGroupAdd(ctx, apiClient(profileName), parseID(args[1]), parseIDs(args[2:]))
	case "search":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: loomctl search <query>")
			os.Exit(1)
		}
		cmdSearch(profileName, strings.Join(args[1:], " "), *jsonFlag)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: loomctl [--profile <name>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  login <token>                    Store the API token for this profile")
	fmt.Fprintln(os.Stderr, "  logout                           Remove the stored token")
	fmt.Fprintln(os.Stderr, "  me                               Show the authenticated user")
	fmt.Fprintln(os.Stderr, "  conversations                    List conversations")
	fmt.Fprintln(os.Stderr, "  send <phone> <text>              Send a direct message")
	fmt.Fprintln(os.Stderr, "  send-group <group-id> <text>     Send a group message")
	fmt.Fprintln(os.Stderr, "  direct <phone>                   Create or reopen a direct conversation")
	fmt.Fprintln(os.Stderr, "  group-create <name> [member...]  Create a group")
	fmt.Fprintln(os.Stderr, "  group-add <group-id> <member...> Add members to a group")
	fmt.Fprintln(os.Stderr, "  search <query>                   Full-text search the local history")
}

// apiClient builds a REST client from the global config and the
// profile's stored token.
func apiClient(profileName string) *rest.Client {
	cfg, err := config.Load(profile.ConfigPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: load config: %v\n", err)
		os.Exit(1)
	}
	token, err := profile.LoadToken(profileName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: no token for profile %q, run: loomctl login <token>\n", profileName)
		os.Exit(1)
	}
	return rest.New(cfg.APIBaseURL, token)
}

func cmdLogin(profileName, token string) {
	if err := profile.SaveToken(profileName, token); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("token stored for profile %q\n", profileName)
}

func cmdLogout(profileName string) {
	if err := profile.ClearToken(profileName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("token removed for profile %q\n", profileName)
}

func cmdMe(ctx context.Context, c *rest.Client, jsonOut bool) {
	me, err := c.Me(ctx)
	if err != nil {
		fail(err)
	}
	if jsonOut {
		outputJSON(me)
		return
	}
	fmt.Printf("ID:    %d\n", me.ID)
	fmt.Printf("Name:  %s\n", me.Name)
	fmt.Printf("Phone: %s\n", me.Phone)
}

func cmdConversations(ctx context.Context, c *rest.Client, jsonOut bool) {
	convs, err := c.Conversations(ctx)
	if err != nil {
		fail(err)
	}
	if jsonOut {
		outputJSON(convs)
		return
	}
	for _, conv := range convs {
		kind := "direct"
		if conv.IsGroup {
			kind = "group"
		}
		fmt.Printf("%6d  %-6s  %-24s  %s\n", conv.ID, kind, conv.DisplayName(), conv.LastMessage.Preview)
	}
}

func cmdSend(ctx context.Context, c *rest.Client, req rest.SendMessageRequest, text string, jsonOut bool) {
	req.Content = chat.TextContent(text)
	req.ClientMessageID = chat.NewCorrelationID()

	msg, err := c.SendMessage(ctx, req)
	if err != nil {
		fail(err)
	}
	if jsonOut {
		outputJSON(msg)
		return
	}
	fmt.Printf("sent: id=%d status=%s\n", msg.ID, msg.Status)
}

func cmdDirect(ctx context.Context, c *rest.Client, phone string, jsonOut bool) {
	conv, err := c.CreateDirectConversation(ctx, phone)
	if err != nil {
		fail(err)
	}
	if jsonOut {
		outputJSON(conv)
		return
	}
	fmt.Printf("conversation %d with %s\n", conv.ID, conv.DisplayName())
}

func cmdGroupCreate(ctx context.Context, c *rest.Client, name string, memberIDs []int64, jsonOut bool) {
	conv, err := c.CreateGroup(ctx, name, memberIDs)
	if err != nil {
		fail(err)
	}
	if jsonOut {
		outputJSON(conv)
		return
	}
	fmt.Printf("group %d (%s) created\n", conv.GroupID, conv.DisplayName())
}

func cmdGroupAdd(ctx context.Context, c *rest.Client, groupID int64, memberIDs []int64) {
	if err := c.AddGroupMembers(ctx, groupID, memberIDs); err != nil {
		fail(err)
	}
	fmt.Printf("added %d member(s) to group %d\n", len(memberIDs), groupID)
}

func cmdSearch(profileName, query string, jsonOut bool) {
	db, err := archive.Open(profile.ArchiveDBPath(profileName))
	if err != nil {
		fail(err)
	}
	defer func() { _ = db.Close() }()
	if _, err := db.Migrate(); err != nil {
		fail(err)
	}

	results, err := db.SearchMessages(query, 0, 50)
	if err != nil {
		fail(err)
	}
	if jsonOut {
		outputJSON(results)
		return
	}
	for _, r := range results {
		fmt.Printf("%6d  %s\n", r.Message.ConversationID, r.Snippet)
	}
}

func parseID(s string) int64 {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: invalid id %q\n", s)
		os.Exit(1)
	}
	return id
}

func parseIDs(args []string) []int64 {
	ids := make([]int64, 0, len(args))
	for _, a := range args {
		ids = append(ids, parseID(a))
	}
	return ids
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fail(err)
	}
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
