package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/ashureev/rolecall/internal/config"
	"github.com/ashureev/rolecall/internal/domain"
	"github.com/ashureev/rolecall/internal/store"
	"github.com/spf13/cobra"
)

// storeFlags override the environment for a single invocation.
type storeFlags struct {
	backend string
	dbPath  string
}

func (o storeFlags) apply(cfg *config.Config) {
	if o.backend != "" {
		cfg.StoreBackend = strings.ToLower(o.backend)
	}
	if o.dbPath != "" {
		cfg.DBPath = o.dbPath
	}
}

// opener returns the repository and the configured admin id.
type opener func(storeFlags) (store.Repository, int64, error)

type cli struct {
	out   io.Writer
	open  opener
	flags storeFlags
}

func newRootCmd(out io.Writer, open opener) *cobra.Command {
	c := &cli{out: out, open: open}

	root := &cobra.Command{
		Use:           "rpctl",
		Short:         "Administer rolecall moderators, chats and players",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.SetOut(out)
	root.PersistentFlags().StringVar(&c.flags.backend, "backend", "", "Store backend (sqlite or redis); overrides STORE_BACKEND")
	root.PersistentFlags().StringVar(&c.flags.dbPath, "db", "", "SQLite database path; overrides DB_PATH")

	root.AddCommand(c.moderatorsCmd(), c.chatsCmd(), c.topCmd(), c.statsCmd())
	return root
}

// withRepo opens the store for the duration of fn.
func (c *cli) withRepo(cmd *cobra.Command, fn func(ctx context.Context, repo store.Repository, adminID int64) error) error {
	repo, adminID, err := c.open(c.flags)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer repo.Close()
	return fn(cmd.Context(), repo, adminID)
}

func (c *cli) table() *tabwriter.Writer {
	return tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid id %q", raw)
	}
	return id, nil
}

func (c *cli) moderatorsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "moderators",
		Short: "List, add or remove moderators",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List moderators",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withRepo(cmd, func(ctx context.Context, repo store.Repository, _ int64) error {
				mods, err := repo.ListModerators(ctx)
				if err != nil {
					return fmt.Errorf("list moderators: %w", err)
				}
				if len(mods) == 0 {
					fmt.Fprintln(c.out, "No moderators.")
					return nil
				}
				w := c.table()
				fmt.Fprintln(w, "USER ID\tUSERNAME\tNAME\tADDED")
				for _, m := range mods {
					fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", m.UserID, nonEmpty(m.Username), nonEmpty(m.FirstName), m.AddedAt.Format(time.DateOnly))
				}
				return w.Flush()
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "add <user-id>",
		Short: "Grant moderator rights to a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := parseID(args[0])
			if err != nil {
				return err
			}
			return c.withRepo(cmd, func(ctx context.Context, repo store.Repository, adminID int64) error {
				if userID == adminID {
					return errors.New("the administrator is already a moderator")
				}
				user, err := repo.GetUser(ctx, userID)
				if err != nil {
					return fmt.Errorf("load user: %w", err)
				}
				m := domain.Moderator{UserID: userID, AddedBy: adminID, AddedAt: time.Now().UTC()}
				if user != nil {
					m.Username, m.FirstName = user.Username, user.FirstName
				}
				if err := repo.AddModerator(ctx, m); err != nil {
					return fmt.Errorf("add moderator: %w", err)
				}
				fmt.Fprintf(c.out, "Moderator %d added.\n", userID)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "remove <user-id>",
		Short: "Revoke moderator rights",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := parseID(args[0])
			if err != nil {
				return err
			}
			return c.withRepo(cmd, func(ctx context.Context, repo store.Repository, _ int64) error {
				removed, err := repo.RemoveModerator(ctx, userID)
				if err != nil {
					return fmt.Errorf("remove moderator: %w", err)
				}
				if !removed {
					return fmt.Errorf("user %d is not a moderator", userID)
				}
				fmt.Fprintf(c.out, "Moderator %d removed.\n", userID)
				return nil
			})
		},
	})
	return cmd
}

func (c *cli) chatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chats",
		Short: "List or forget activated chats",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List chats the bot was activated in",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withRepo(cmd, func(ctx context.Context, repo store.Repository, _ int64) error {
				chats, err := repo.ListChats(ctx)
				if err != nil {
					return fmt.Errorf("list chats: %w", err)
				}
				if len(chats) == 0 {
					fmt.Fprintln(c.out, "No chats.")
					return nil
				}
				w := c.table()
				fmt.Fprintln(w, "CHAT ID\tTITLE\tTYPE")
				for _, ch := range chats {
					fmt.Fprintf(w, "%d\t%s\t%s\n", ch.ChatID, nonEmpty(ch.Title), ch.Type)
				}
				return w.Flush()
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "remove <chat-id>",
		Short: "Forget a chat (use -- before negative ids)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			chatID, err := parseID(args[0])
			if err != nil {
				return err
			}
			return c.withRepo(cmd, func(ctx context.Context, repo store.Repository, _ int64) error {
				removed, err := repo.RemoveChat(ctx, chatID)
				if err != nil {
					return fmt.Errorf("remove chat: %w", err)
				}
				if !removed {
					return fmt.Errorf("chat %d is not registered", chatID)
				}
				fmt.Fprintf(c.out, "Chat %d removed.\n", chatID)
				return nil
			})
		},
	})
	return cmd
}

func (c *cli) topCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "top",
		Short: "Show the leaderboard",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if limit < 1 {
				return errors.New("--limit must be >= 1")
			}
			return c.withRepo(cmd, func(ctx context.Context, repo store.Repository, _ int64) error {
				players, err := repo.TopPlayers(ctx, limit)
				if err != nil {
					return fmt.Errorf("top players: %w", err)
				}
				if len(players) == 0 {
					fmt.Fprintln(c.out, "No players yet.")
					return nil
				}
				w := c.table()
				fmt.Fprintln(w, "#\tPLAYER\tRESPONSES\tSESSIONS\tACHIEVEMENTS")
				for i, p := range players {
					fmt.Fprintf(w, "%d\t%s\t%d\t%d\t%d\n", i+1, p.DisplayName(), p.TotalResponses, p.SessionsPlayed, p.AchievementCount)
				}
				return w.Flush()
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "Number of players to show")
	return cmd
}

func (c *cli) statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats <user-id|@username>",
		Short: "Show a player's counters and achievements",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withRepo(cmd, func(ctx context.Context, repo store.Repository, _ int64) error {
				user, err := lookupUser(ctx, repo, args[0])
				if err != nil {
					return err
				}
				unlocked, err := repo.ListAchievements(ctx, user.UserID)
				if err != nil {
					return fmt.Errorf("list achievements: %w", err)
				}

				fmt.Fprintf(c.out, "%s (%d)\n", user.DisplayName(), user.UserID)
				fmt.Fprintf(c.out, "Responses: %d\nSessions: %d\nMessages: %d\nAchievements: %d\n",
					user.TotalResponses, user.SessionsPlayed, user.TotalMessages, len(unlocked))
				for _, u := range unlocked {
					fmt.Fprintf(c.out, "  %s  %s\n", u.UnlockedAt.Format(time.DateOnly), u.AchievementID)
				}
				return nil
			})
		},
	}
}

func lookupUser(ctx context.Context, repo store.Repository, ref string) (*domain.User, error) {
	var (
		user *domain.User
		err  error
	)
	if strings.HasPrefix(ref, "@") {
		user, err = repo.FindUserByUsername(ctx, strings.TrimPrefix(ref, "@"))
	} else {
		id, parseErr := parseID(ref)
		if parseErr != nil {
			return nil, parseErr
		}
		user, err = repo.GetUser(ctx, id)
	}
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if user == nil {
		return nil, fmt.Errorf("user %s not found", ref)
	}
	return user, nil
}

func nonEmpty(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
