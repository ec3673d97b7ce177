package main

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/weiawesome/wes-io-live/chat-sync/internal/client/kv"
	"github.com/weiawesome/wes-io-live/chat-sync/internal/client/outbox"
	"github.com/weiawesome/wes-io-live/chat-sync/internal/client/replica"
	"github.com/weiawesome/wes-io-live/chat-sync/internal/client/syncer"
	"github.com/weiawesome/wes-io-live/chat-sync/internal/client/transport"
	"github.com/weiawesome/wes-io-live/chat-sync/pkg/jwt"
	"github.com/weiawesome/wes-io-live/chat-sync/pkg/log"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(argv []string) error {
	flagSet := pflag.NewFlagSet("chatsync-client", pflag.ContinueOnError)
	flagSet.SetInterspersed(false)
	flagSet.String("server", "http://localhost:8080", "base URL of the chat sync server")
	flagSet.String("token", "", "bearer token (see the token command)")
	flagSet.String("user", "", "user id the token was issued to")
	flagSet.String("data-dir", ".chatsync", "directory holding the local replica and outbound queue")
	flagSet.Int("batch", 500, "maximum queue items per flush request")
	flagSet.Duration("ack-timeout", 10*time.Second, "how long to wait for a realtime ack")
	flagSet.String("log-level", "warn", "log level")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(argv); err != nil {
		if err == pflag.ErrHelp {
			printHelp(flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet)
		return nil
	}

	v := viper.New()
	v.SetEnvPrefix("chatsync")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(flagSet); err != nil {
		return err
	}

	args := flagSet.Args()
	if len(args) == 0 {
		printHelp(flagSet)
		return errors.New("missing command")
	}

	logger := log.New(log.Config{Level: v.GetString("log-level"), Pretty: true, Output: os.Stderr})
	ctx, stop := signal.NotifyContext(log.WithLogger(context.Background(), logger), os.Interrupt, syscall.SIGTERM)
	defer stop()

	command, rest := args[0], args[1:]
	if command == "token" {
		return runToken(rest)
	}

	c, err := openClient(v, logger)
	if err != nil {
		return err
	}
	defer c.close()

	switch command {
	case "sync":
		return c.sync(ctx)
	case "send":
		if len(rest) != 2 {
			return errors.New("usage: send <conversation-id> <text>")
		}
		return c.send(ctx, rest[0], rest[1])
	case "flush":
		return c.flush(ctx)
	case "pending":
		return c.pending()
	case "retry":
		if len(rest) != 1 {
			return errors.New("usage: retry <item-id>")
		}
		return c.engine.Retry(rest[0])
	case "listen":
		return c.listen(ctx)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runToken issues a token with the server's signing secret, for local
// development.
func runToken(argv []string) error {
	flagSet := pflag.NewFlagSet("token", pflag.ContinueOnError)
	secret := flagSet.String("secret", os.Getenv("JWT_SECRET"), "signing secret")
	issuer := flagSet.String("issuer", "chat-sync", "token issuer")
	ttl := flagSet.Duration("ttl", 24*time.Hour, "token lifetime")
	userID := flagSet.String("user-id", "", "user id")
	username := flagSet.String("username", "", "display name (defaults to the user id)")
	if err := flagSet.Parse(argv); err != nil {
		return err
	}
	if *userID == "" {
		return errors.New("--user-id is required")
	}
	if *username == "" {
		*username = *userID
	}

	m, err := jwt.NewManager(*secret, *issuer, *ttl)
	if err != nil {
		return err
	}
	token, expires, err := m.GenerateToken(*userID, *username)
	if err != nil {
		return err
	}
	fmt.Println(token)
	fmt.Fprintf(os.Stderr, "expires %s\n", expires.Format(time.RFC3339))
	return nil
}

type client struct {
	v      *viper.Viper
	logger zerolog.Logger
	db     *pebble.DB
	store  *replica.Store
	queue  *outbox.Outbox
	api    *transport.HTTP
	engine *syncer.Engine
}

func openClient(v *viper.Viper, logger zerolog.Logger) (*client, error) {
	userID := v.GetString("user")
	if userID == "" {
		return nil, errors.New("--user (or CHATSYNC_USER) is required")
	}

	db, err := kv.Open(v.GetString("data-dir"))
	if err != nil {
		return nil, err
	}
	queue, err := outbox.New(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	store := replica.New(db, logger)
	api := transport.NewHTTP(v.GetString("server"), v.GetString("token"), nil)

	return &client{
		v:      v,
		logger: logger,
		db:     db,
		store:  store,
		queue:  queue,
		api:    api,
		engine: syncer.NewEngine(store, queue, api, syncer.Options{
			UserID:   userID,
			MaxBatch: v.GetInt("batch"),
			Logger:   logger,
		}),
	}, nil
}

func (c *client) close() {
	if err := c.db.Close(); err != nil {
		c.logger.Warn().Err(err).Msg("failed to close local store")
	}
}

// sync bootstraps an empty replica, then pulls changes since the
// checkpoint.
func (c *client) sync(ctx context.Context) error {
	since, err := c.store.Checkpoint()
	if err != nil {
		return err
	}
	if since.IsZero() {
		if err := c.engine.PerformInitialSync(ctx); err != nil {
			return err
		}
	}
	delta, err := c.engine.PerformDeltaSync(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("conversations=%d messages=%d deleted=%d\n",
		len(delta.Conversations), len(delta.Messages), len(delta.DeletedMessageIDs))
	return c.listConversations()
}

func (c *client) send(ctx context.Context, conversationID, text string) error {
	msg, err := c.engine.SendMessage(ctx, conversationID, text)
	if err != nil {
		return err
	}
	fmt.Printf("queued %s\n", msg.ID)
	return c.flush(ctx)
}

func (c *client) flush(ctx context.Context) error {
	sum, err := c.engine.FlushQueue(ctx)
	if err != nil {
		if transport.Retryable(err) {
			fmt.Println("server unreachable, queue kept for the next flush")
			return nil
		}
		return err
	}
	fmt.Printf("sent=%d failed=%d retried=%d\n", sum.Sent, sum.Failed, sum.Retried)
	return nil
}

func (c *client) pending() error {
	items, err := c.queue.List(0)
	if err != nil {
		return err
	}
	for _, it := range items {
		fmt.Printf("queued  %s  %-20s attempts=%d %s\n", it.ID, it.Action, it.Attempts, it.LastError)
	}
	dead, err := c.queue.Failed()
	if err != nil {
		return err
	}
	for _, it := range dead {
		fmt.Printf("failed  %s  %-20s attempts=%d %s\n", it.ID, it.Action, it.Attempts, it.LastError)
	}
	return nil
}

func (c *client) listConversations() error {
	convs, err := c.store.Conversations()
	if err != nil {
		return err
	}
	for _, conv := range convs {
		printConversation(conv.ID, conv.Title, len(conv.Participants), conv.UpdatedAt)
	}
	return nil
}

// listen keeps a realtime connection open, replaying the queue and pulling
// missed changes each time it comes up. Updates to the conversation list
// are printed as the replica changes.
func (c *client) listen(ctx context.Context) error {
	wsURL, err := socketURL(c.v.GetString("server"))
	if err != nil {
		return err
	}

	sub, err := replica.Subscribe(c.store, replica.ConversationsQuery())
	if err != nil {
		return err
	}
	defer sub.Close()
	go func() {
		for convs := range sub.Updates {
			for _, conv := range convs {
				printConversation(conv.ID, conv.Title, len(conv.Participants), conv.UpdatedAt)
			}
		}
	}()

	backoff := time.Second
	for {
		socket, err := transport.Dial(ctx, wsURL, c.v.GetString("token"), transport.SocketOptions{
			AckTimeout: c.v.GetDuration("ack-timeout"),
			Logger:     c.logger,
		})
		if errors.Is(err, transport.ErrUnauthorized) {
			return err
		}
		if err == nil {
			backoff = time.Second
			if err := c.engine.Reconnect(ctx, socket); err != nil {
				c.logger.Warn().Err(err).Msg("catch-up after connect failed")
			}
			c.engine.Consume(ctx, socket.Events())
			c.engine.SetSocket(nil)
			socket.Close()
		} else {
			c.logger.Warn().Err(err).Dur("retry_in", backoff).Msg("connect failed")
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

func printConversation(id, title string, members int, updated time.Time) {
	if title == "" {
		title = "(private)"
	}
	fmt.Printf("%s  %-24s members=%d updated=%s\n", id, title, members, updated.Format(time.RFC3339))
}

// socketURL maps the HTTP base URL to the realtime endpoint.
func socketURL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/chat/ws"
	return u.String(), nil
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `chatsync-client keeps a local replica of your conversations and an
outbound queue of changes made while offline.

Usage:
  chatsync-client [flags] <command> [args]

Commands:
  token --user-id ID       issue a development token
  sync                     bootstrap if empty, then pull changes
  send <conv> <text>       queue a message and flush
  flush                    replay the outbound queue
  pending                  list queued and failed items
  retry <item-id>          move a failed item back onto the queue
  listen                   stay connected and apply pushed events

Every flag can also be set as CHATSYNC_<FLAG>, e.g. CHATSYNC_TOKEN.

Flags:
`)
	flagSet.PrintDefaults()
}
