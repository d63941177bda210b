package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/polld/internal/server"
	"github.com/user/polld/pkg/client"
	"github.com/user/polld/pkg/rpcclient"
)

var (
	serverURL  string
	sender     string
	token      string
	useRPC     bool
	outputJSON bool
	reqTimeout time.Duration
)

func addClientFlags(cmds ...*cobra.Command) {
	for _, cmd := range cmds {
		cmd.Flags().StringVar(&serverURL, "server", "http://localhost:8080", "polld server URL")
		cmd.Flags().StringVar(&sender, "sender", "", "Caller identity sent as X-Poll-Sender")
		cmd.Flags().StringVar(&token, "token", "", "Bearer token identifying the caller")
		cmd.Flags().BoolVar(&useRPC, "rpc", false, "Use the Connect RPC API instead of HTTP/JSON")
		cmd.Flags().BoolVar(&outputJSON, "output-json", false, "Output as JSON")
		cmd.Flags().DurationVar(&reqTimeout, "timeout", 10*time.Second, "Request timeout")
	}
}

// pollAPI hides whether a command talks HTTP/JSON or Connect RPC.
type pollAPI interface {
	Instantiate(ctx context.Context, admin *string) (any, error)
	CreatePoll(ctx context.Context, pollID, question string, options []string) (any, error)
	Vote(ctx context.Context, pollID, option string) (any, error)
	Polls(ctx context.Context) (any, error)
	Poll(ctx context.Context, pollID string) (any, error)
	Ballot(ctx context.Context, pollID, address string) (any, error)
}

type httpAPI struct{ c *client.Client }

func (a httpAPI) Instantiate(ctx context.Context, admin *string) (any, error) {
	return a.c.Instantiate(ctx, admin)
}

func (a httpAPI) CreatePoll(ctx context.Context, pollID, question string, options []string) (any, error) {
	return a.c.CreatePoll(ctx, pollID, question, options)
}

func (a httpAPI) Vote(ctx context.Context, pollID, option string) (any, error) {
	return a.c.Vote(ctx, pollID, option)
}

func (a httpAPI) Polls(ctx context.Context) (any, error) { return a.c.Polls(ctx) }

func (a httpAPI) Poll(ctx context.Context, pollID string) (any, error) { return a.c.Poll(ctx, pollID) }

func (a httpAPI) Ballot(ctx context.Context, pollID, address string) (any, error) {
	return a.c.Ballot(ctx, pollID, address)
}

type rpcAPI struct{ c *rpcclient.Client }

func (a rpcAPI) Instantiate(ctx context.Context, admin *string) (any, error) {
	return a.c.Instantiate(ctx, admin)
}

func (a rpcAPI) CreatePoll(ctx context.Context, pollID, question string, options []string) (any, error) {
	return a.c.CreatePoll(ctx, pollID, question, options)
}

func (a rpcAPI) Vote(ctx context.Context, pollID, option string) (any, error) {
	return a.c.Vote(ctx, pollID, option)
}

func (a rpcAPI) Polls(ctx context.Context) (any, error) { return a.c.AllPolls(ctx) }

func (a rpcAPI) Poll(ctx context.Context, pollID string) (any, error) { return a.c.Poll(ctx, pollID) }

func (a rpcAPI) Ballot(ctx context.Context, pollID, address string) (any, error) {
	return a.c.Ballot(ctx, pollID, address)
}

func httpClient() *client.Client {
	c := client.New(serverURL)
	c.Sender = sender
	c.Token = token
	return c
}

func newAPI() pollAPI {
	if useRPC {
		return rpcAPI{c: rpcclient.New(serverURL, rpcclient.WithSender(sender), rpcclient.WithToken(token))}
	}
	return httpAPI{c: httpClient()}
}

func withTimeout() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), reqTimeout)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var instantiateAdmin string

var instantiateCmd = &cobra.Command{
	Use:   "instantiate",
	Short: "Initialize the service and record its admin",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := withTimeout()
		defer cancel()
		var admin *string
		if cmd.Flags().Changed("admin") {
			admin = &instantiateAdmin
		}
		res, err := newAPI().Instantiate(ctx, admin)
		if err != nil {
			return err
		}
		return printJSON(res)
	},
}

var createPollCmd = &cobra.Command{
	Use:   "create-poll POLL_ID QUESTION [OPTION...]",
	Short: "Create or replace a poll",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := withTimeout()
		defer cancel()
		res, err := newAPI().CreatePoll(ctx, args[0], args[1], append([]string{}, args[2:]...))
		if err != nil {
			return err
		}
		return printJSON(res)
	},
}

var voteCmd = &cobra.Command{
	Use:   "vote POLL_ID OPTION",
	Short: "Vote in a poll, replacing any earlier vote",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := withTimeout()
		defer cancel()
		res, err := newAPI().Vote(ctx, args[0], args[1])
		if err != nil {
			return err
		}
		return printJSON(res)
	},
}

var pollsCmd = &cobra.Command{
	Use:   "polls",
	Short: "List all polls",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := withTimeout()
		defer cancel()
		res, err := newAPI().Polls(ctx)
		if err != nil {
			return err
		}
		if outputJSON || useRPC {
			return printJSON(res)
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "POLL\tQUESTION\tOPTIONS\tVOTES")
		for _, e := range res.([]client.PollEntry) {
			var total uint64
			for _, o := range e.Poll.Options {
				total += o.Votes
			}
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\n", e.PollID, e.Poll.Question, len(e.Poll.Options), total)
		}
		return w.Flush()
	},
}

var pollCmd = &cobra.Command{
	Use:   "poll POLL_ID",
	Short: "Show a poll and its tallies",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := withTimeout()
		defer cancel()
		res, err := newAPI().Poll(ctx, args[0])
		if err != nil {
			return err
		}
		p, ok := res.(*client.Poll)
		if outputJSON || !ok {
			return printJSON(res)
		}
		if p == nil {
			fmt.Println("poll not found")
			return nil
		}
		fmt.Printf("%s (admin %s)\n", p.Question, p.Admin)
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		for _, o := range p.Options {
			fmt.Fprintf(w, "  %s\t%d\n", o.Label, o.Votes)
		}
		return w.Flush()
	},
}

var ballotCmd = &cobra.Command{
	Use:   "ballot POLL_ID ADDRESS",
	Short: "Show an address's vote on a poll",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := withTimeout()
		defer cancel()
		res, err := newAPI().Ballot(ctx, args[0], args[1])
		if err != nil {
			return err
		}
		return printJSON(res)
	},
}

var (
	eventsAfter uint64
	eventsLimit int
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Page through the command event log",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := withTimeout()
		defer cancel()
		events, err := httpClient().Events(ctx, eventsAfter, eventsLimit)
		if err != nil {
			return err
		}
		if outputJSON {
			return printJSON(events)
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SEQ\tTIME\tACTION\tSENDER")
		for _, ev := range events {
			at := time.Unix(0, int64(ev.AtNs)).UTC().Format(time.RFC3339)
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", strconv.FormatUint(ev.Seq, 10), at, ev.Action, ev.Sender)
		}
		return w.Flush()
	},
}

var (
	tokenSecret   string
	tokenIssuer   string
	tokenAudience string
	tokenTTL      time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token SUBJECT",
	Short: "Sign an HS256 bearer token for SUBJECT",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if tokenSecret == "" {
			return fmt.Errorf("--jwt-secret is required")
		}
		tok, err := server.SignToken(server.JWTConfig{
			Secret:   []byte(tokenSecret),
			Issuer:   tokenIssuer,
			Audience: tokenAudience,
		}, args[0], tokenTTL)
		if err != nil {
			return err
		}
		fmt.Println(tok)
		return nil
	},
}

func init() {
	instantiateCmd.Flags().StringVar(&instantiateAdmin, "admin", "", "Admin identity (defaults to the caller)")
	eventsCmd.Flags().Uint64Var(&eventsAfter, "after", 0, "Return events with a sequence greater than this")
	eventsCmd.Flags().IntVar(&eventsLimit, "limit", 0, "Maximum events to return (0 = server default)")
	tokenCmd.Flags().StringVar(&tokenSecret, "jwt-secret", "", "HS256 secret shared with the server")
	tokenCmd.Flags().StringVar(&tokenIssuer, "jwt-issuer", "", "Issuer claim")
	tokenCmd.Flags().StringVar(&tokenAudience, "jwt-audience", "", "Audience claim")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", time.Hour, "Token lifetime")

	addClientFlags(instantiateCmd, createPollCmd, voteCmd, pollsCmd, pollCmd, ballotCmd, eventsCmd)
	rootCmd.AddCommand(instantiateCmd, createPollCmd, voteCmd, pollsCmd, pollCmd, ballotCmd, eventsCmd, tokenCmd)
}
