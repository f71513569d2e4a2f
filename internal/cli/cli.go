// Package cli is the terminal client. It runs the notification stream and
// the comment thread against a remote server.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/contribium/contribium/internal/alert"
	"github.com/contribium/contribium/internal/client"
	"github.com/contribium/contribium/internal/comments"
	"github.com/contribium/contribium/internal/logging"
	"github.com/contribium/contribium/internal/model"
	"github.com/contribium/contribium/internal/notify"
)

var (
	version = "dev"
	commit  = "unknown"
)

type options struct {
	server   string
	token    string
	logLevel string
	limit    int
}

// session is the signed-in connection a command works with.
type session struct {
	client *client.Client
	viewer model.Viewer
	logger *zap.Logger
	out    io.Writer
	server string
}

// Execute runs the root command until it finishes or the process is
// interrupted.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := NewRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "contribium-cli",
		Short:         "Contribium terminal client",
		Long:          "Read and manage notifications and take part in bounty discussions from the terminal.",
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Disable completion command
	root.CompletionOptions.DisableDefaultCmd = true

	// Global flags
	root.PersistentFlags().StringVarP(&opts.server, "server", "s", envOr("CONTRIBIUM_URL", "http://localhost:8080"), "server base URL")
	root.PersistentFlags().StringVarP(&opts.token, "token", "t", os.Getenv("CONTRIBIUM_TOKEN"), "access token")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "log level (debug, info, warn, error)")

	root.AddCommand(
		listCommand(opts),
		watchCommand(opts),
		readCommand(opts),
		readAllCommand(opts),
		removeCommand(opts),
		openCommand(opts),
		commentsCommand(opts),
		commentCommand(opts),
		likeCommand(opts),
	)

	return root
}

func connect(cmd *cobra.Command, opts *options) (*session, error) {
	logger, err := logging.New(opts.logLevel, "console")
	if err != nil {
		return nil, err
	}

	c := client.New(opts.server, opts.token, logger)
	viewer, err := c.Me(cmd.Context())
	if err != nil {
		return nil, fmt.Errorf("contact %s: %w", opts.server, err)
	}
	if !viewer.SignedIn() {
		return nil, errors.New("not signed in: pass --token or set CONTRIBIUM_TOKEN")
	}

	return &session{
		client: c,
		viewer: viewer,
		logger: logger,
		out:    cmd.OutOrStdout(),
		server: strings.TrimRight(opts.server, "/"),
	}, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// printSink writes alerts as lines of text.
type printSink struct {
	w io.Writer
}

func (s printSink) Success(message string) { fmt.Fprintf(s.w, "✔ %s\n", message) }
func (s printSink) Error(message string)   { fmt.Fprintf(s.w, "✖ %s\n", message) }
func (s printSink) Info(message, icon string) {
	fmt.Fprintf(s.w, "%s %s\n", icon, message)
}

// Notifications

func (s *session) stream(limit int, alerts alert.Sink) *notify.Stream {
	if alerts == nil {
		alerts = printSink{w: s.out}
	}
	return notify.NewStream(notify.StreamConfig{
		Store:  s.client,
		Source: s.client.Source(),
		Alerts: alerts,
		Logger: s.logger,
		Viewer: s.viewer,
		Limit:  limit,
	})
}

func (s *session) loadStream(ctx context.Context, limit int) (*notify.Stream, error) {
	stream := s.stream(limit, nil)
	if err := stream.Load(ctx); err != nil {
		return nil, err
	}
	return stream, nil
}

func printNotifications(w io.Writer, stream *notify.Stream) {
	items := stream.Items()
	if len(items) == 0 {
		fmt.Fprintln(w, "No notifications.")
		return
	}
	for _, n := range items {
		marker := " "
		if !n.Read {
			marker = "•"
		}
		fmt.Fprintf(w, "%s %s %s  %s  (%s)\n", marker, notify.Icon(n.Type), n.Title, humanize.Time(n.CreatedAt), n.ID)
		if n.Message != "" {
			fmt.Fprintf(w, "    %s\n", n.Message)
		}
	}
	fmt.Fprintf(w, "\n%s unread\n", unreadLabel(stream.UnreadCount()))
}

// unreadLabel renders the unread counter, using the badge form only when
// it is capped.
func unreadLabel(n int) string {
	if n > 99 {
		return notify.BadgeLabel(n)
	}
	return strconv.Itoa(n)
}

func listCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent notifications",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := connect(cmd, opts)
			if err != nil {
				return err
			}
			stream, err := s.loadStream(cmd.Context(), opts.limit)
			if err != nil {
				return err
			}
			printNotifications(s.out, stream)
			return nil
		},
	}
	cmd.Flags().IntVarP(&opts.limit, "limit", "n", notify.DefaultLimit, "maximum number of notifications")
	return cmd
}

func watchCommand(opts *options) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print notifications as they arrive",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := connect(cmd, opts)
			if err != nil {
				return err
			}

			var alerts alert.Sink
			if asJSON {
				alerts = alert.NewLogSink(jsonLogger(s.out))
			}
			stream := s.stream(0, alerts)
			if err := stream.Open(cmd.Context()); err != nil {
				return err
			}
			defer stream.Close()

			if !asJSON {
				fmt.Fprintf(s.out, "Watching notifications for %s (%s unread). Press Ctrl+C to stop.\n",
					s.viewer.DisplayName, unreadLabel(stream.UnreadCount()))
			}
			<-cmd.Context().Done()
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "emit one JSON log line per notification")
	return cmd
}

// jsonLogger writes info-level JSON lines to w.
func jsonLogger(w io.Writer) *zap.Logger {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), zapcore.AddSync(w), zap.InfoLevel)
	return zap.New(core)
}

func readCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "read <notification-id>",
		Short: "Mark a notification read",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := connect(cmd, opts)
			if err != nil {
				return err
			}
			stream, err := s.loadStream(cmd.Context(), 0)
			if err != nil {
				return err
			}
			if err := stream.MarkRead(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(s.out, "%s unread\n", unreadLabel(stream.UnreadCount()))
			return nil
		},
	}
}

func readAllCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "read-all",
		Short: "Mark every notification read",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := connect(cmd, opts)
			if err != nil {
				return err
			}
			stream, err := s.loadStream(cmd.Context(), 0)
			if err != nil {
				return err
			}
			return stream.MarkAllRead(cmd.Context())
		},
	}
}

func removeCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:     "rm <notification-id>",
		Aliases: []string{"delete"},
		Short:   "Delete a notification",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := connect(cmd, opts)
			if err != nil {
				return err
			}
			stream, err := s.loadStream(cmd.Context(), 0)
			if err != nil {
				return err
			}
			return stream.Remove(cmd.Context(), args[0])
		},
	}
}

func openCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "open <notification-id>",
		Short: "Mark a notification read and print the page it points to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := connect(cmd, opts)
			if err != nil {
				return err
			}
			stream, err := s.loadStream(cmd.Context(), 0)
			if err != nil {
				return err
			}

			var target notify.Target
			found := false
			for _, n := range stream.Items() {
				if n.ID == args[0] {
					target = notify.ResolveNavigationTarget(n)
					found = true
					break
				}
			}
			if !found {
				return notify.ErrNotFound
			}
			if err := stream.MarkRead(cmd.Context(), args[0]); err != nil {
				return err
			}

			if target.None() {
				fmt.Fprintln(s.out, "Nothing to open for this notification.")
				return nil
			}
			fmt.Fprintln(s.out, s.server+target.Path())
			return nil
		},
	}
}

// Discussion

func (s *session) thread(ctx context.Context, bountyID string) (*comments.Thread, error) {
	bounty, err := s.client.GetBounty(ctx, bountyID)
	if err != nil {
		return nil, err
	}
	thread := comments.NewThread(comments.ThreadConfig{
		Store:     s.client,
		Alerts:    printSink{w: s.out},
		Logger:    s.logger,
		SubjectID: bounty.ID,
		SponsorID: bounty.SponsorUserID,
		Viewer:    s.viewer,
	})
	if err := thread.Load(ctx); err != nil {
		return nil, err
	}
	return thread, nil
}

func printThread(w io.Writer, thread *comments.Thread) {
	tree := thread.Comments()
	if len(tree) == 0 {
		fmt.Fprintln(w, "No comments yet.")
		return
	}
	fmt.Fprintf(w, "%d comments\n\n", thread.Count())

	line := func(indent string, c model.Comment) {
		badge := ""
		if thread.IsFromSponsor(c) {
			badge = " [sponsor]"
		}
		liked := ""
		if c.LikedByViewer {
			liked = " ♥"
		}
		fmt.Fprintf(w, "%s%s%s · %s · %d likes%s  (%s)\n", indent, c.Author.DisplayName, badge,
			humanize.Time(c.CreatedAt), c.LikeCount, liked, c.ID)
		fmt.Fprintf(w, "%s  %s\n", indent, c.Body)
	}
	for _, root := range tree {
		line("", root)
		for _, reply := range root.Replies {
			line("    ", reply)
		}
	}
}

func commentsCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "comments <bounty-id>",
		Short: "Show a bounty's discussion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := connect(cmd, opts)
			if err != nil {
				return err
			}
			thread, err := s.thread(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer thread.Close()

			printThread(s.out, thread)
			return nil
		},
	}
}

func commentCommand(opts *options) *cobra.Command {
	var replyTo string

	cmd := &cobra.Command{
		Use:   "comment <bounty-id> <text>...",
		Short: "Post a comment or a reply",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := connect(cmd, opts)
			if err != nil {
				return err
			}
			thread, err := s.thread(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer thread.Close()

			body := strings.Join(args[1:], " ")
			if replyTo != "" {
				_, err = thread.PostReply(cmd.Context(), replyTo, body)
			} else {
				_, err = thread.PostTopLevel(cmd.Context(), body)
			}
			return err
		},
	}
	cmd.Flags().StringVarP(&replyTo, "reply-to", "r", "", "comment id to reply to")
	return cmd
}

func likeCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "like <bounty-id> <comment-id>",
		Short: "Toggle your like on a comment",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := connect(cmd, opts)
			if err != nil {
				return err
			}
			thread, err := s.thread(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer thread.Close()

			liked, ok := likedState(thread.Comments(), args[1])
			if !ok {
				return comments.ErrNotFound
			}
			return thread.ToggleLike(cmd.Context(), args[1], liked)
		},
	}
}

func likedState(tree []model.Comment, id string) (bool, bool) {
	for _, c := range tree {
		if c.ID == id {
			return c.LikedByViewer, true
		}
		if liked, ok := likedState(c.Replies, id); ok {
			return liked, true
		}
	}
	return false, false
}
