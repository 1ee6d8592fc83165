package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"zendesk-prioritizer/background"
	"zendesk-prioritizer/config"
	"zendesk-prioritizer/events"
	"zendesk-prioritizer/pkg/prioritizer"
	"zendesk-prioritizer/server"
	"zendesk-prioritizer/settings"
	"zendesk-prioritizer/ticketlist"
)

type rootOptions struct {
	app        *app
	configFile string
	asJSON     bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	rootCmd := &cobra.Command{
		Use:           "zendesk-prioritizer",
		Short:         "Prioritize a Zendesk view and get notified about new tickets",
		Long:          "zendesk-prioritizer sorts the tickets of a Zendesk view so the ones waiting longest for you come first, and watches up to three views for new tickets.",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			a, err := wireApp(cmd.Context(), opts.configFile, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			opts.app = a
			return nil
		},
		PersistentPostRunE: func(_ *cobra.Command, _ []string) error {
			if opts.app == nil {
				return nil
			}
			return opts.app.Close()
		},
	}
	rootCmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "config file (default ./config.toml or $HOME/.zendesk-prioritizer/config.toml)")
	rootCmd.PersistentFlags().BoolVar(&opts.asJSON, "json", false, "print JSON")

	rootCmd.AddCommand(
		newServeCmd(opts),
		newRefreshCmd(opts),
		newPollCmd(opts),
		newViewsCmd(opts),
		newWhoamiCmd(opts),
		newStarCmd(opts),
		newOpenCmd(opts),
		newSettingsCmd(opts),
		newTestNotificationCmd(opts),
		newStateCmd(opts),
		newConfigCmd(),
	)
	return rootCmd
}

// send runs a message through the dispatcher and turns a failed response into an error.
func (o *rootOptions) send(ctx context.Context, msg background.Message) (any, error) {
	resp := o.app.dispatcher.Handle(ctx, msg)
	if !resp.OK {
		return nil, errors.New(resp.Error)
	}
	return resp.Data, nil
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	var port string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the popup and options pages and poll watched views",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a := opts.app
			a.dispatcher.Init(ctx)
			if port == "" {
				port = a.cfg.Server.Port
			}
			srv := server.New(&server.Config{
				Dispatcher: a.dispatcher,
				Hub:        a.hub,
				Logger:     a.logger,
			})
			return srv.Serve(ctx, port)
		},
	}
	cmd.Flags().StringVar(&port, "port", "", "listen port (default server.port)")
	return cmd
}

func newRefreshCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Reload the current view and print it in priority order",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			// Refresh failures are only reported to listeners, so listen like the popup does.
			l := opts.app.hub.Subscribe(events.Popup)
			failure := make(chan string, 1)
			go func() {
				var last string
				for msg := range l.C() {
					if msg.Type == prioritizer.MessageError {
						last = msg.Error
					}
				}
				failure <- last
			}()

			data, err := opts.send(ctx, background.Message{Type: background.RefreshTickets})
			l.Close()
			if msg := <-failure; msg != "" {
				return errors.New(msg)
			}
			if err != nil {
				return err
			}

			state, ok := data.(background.State)
			if !ok {
				return errors.New("unexpected refresh response")
			}
			list := ticketlist.Build(state.Model, time.Now())
			if opts.asJSON {
				return writeJSON(cmd, list)
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), ticketlist.Render(list))
			return err
		},
	}
}

func newPollCmd(opts *rootOptions) *cobra.Command {
	var open bool
	cmd := &cobra.Command{
		Use:   "poll",
		Short: "Check watched views for new tickets once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if _, err := opts.send(ctx, background.Message{Type: background.ForcePollCheck}); err != nil {
				return err
			}
			if !open {
				return nil
			}
			data, err := opts.send(ctx, background.Message{Type: background.NotificationClicked})
			if err != nil {
				return err
			}
			if data != nil {
				_, err = fmt.Fprintln(cmd.OutOrStdout(), data.(map[string]any)["url"])
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&open, "open", false, "open the view of the newest notification")
	return cmd
}

func newViewsCmd(opts *rootOptions) *cobra.Command {
	var domain string
	var all bool
	cmd := &cobra.Command{
		Use:   "views",
		Short: "List views available for the view picker",
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := opts.send(cmd.Context(), background.Message{Type: background.ListViews, ZendeskDomain: domain})
			if err != nil {
				return err
			}
			views, _ := data.(map[string]any)["views"].([]*prioritizer.View)
			if all {
				if opts.asJSON {
					return writeJSON(cmd, views)
				}
				for _, v := range views {
					fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\n", v.ID, v.Title)
				}
				return nil
			}

			current := opts.app.settings.Current()
			if domain != "" {
				current.ZendeskDomain = domain
			}
			picker := ticketlist.FilterViews(views, current)
			if opts.asJSON {
				return writeJSON(cmd, picker)
			}
			for _, o := range picker.Options {
				marker := " "
				if o.Selected {
					marker = "*"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %d\t%s\n", marker, o.ID, o.Title)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&domain, "domain", "", "Zendesk subdomain (default from settings)")
	cmd.Flags().BoolVar(&all, "all", false, "list every view, ignoring the view filter")
	return cmd
}

func newWhoamiCmd(opts *rootOptions) *cobra.Command {
	var domain string
	var save bool
	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Detect the signed-in agent's user id",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			data, err := opts.send(ctx, background.Message{Type: background.DetectUserID, ZendeskDomain: domain})
			if err != nil {
				return err
			}
			user, _ := data.(map[string]any)["user"].(*prioritizer.User)
			if user == nil {
				return errors.New("no user in response")
			}

			if save {
				u := settings.UpdateFrom(opts.app.settings.Current())
				u.UserID = settings.ID(user.ID)
				if domain != "" {
					u.ZendeskDomain = domain
				}
				if _, err := opts.send(ctx, background.Message{Type: background.SetSettings, Settings: &u}); err != nil {
					return err
				}
			}

			if opts.asJSON {
				return writeJSON(cmd, user)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\n", user.ID, user.Name)
			return err
		},
	}
	cmd.Flags().StringVar(&domain, "domain", "", "Zendesk subdomain (default from settings)")
	cmd.Flags().BoolVar(&save, "save", false, "store the detected id in settings")
	return cmd
}

func newStarCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "star TICKET_ID",
		Short: "Toggle the star on a ticket",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := opts.send(cmd.Context(), background.Message{Type: background.ToggleStar, TicketID: settings.ParseID(args[0])})
			if err != nil {
				return err
			}
			state := "unstarred"
			if starred, _ := data.(map[string]any)["starred"].(bool); starred {
				state = "starred"
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", args[0], state)
			return err
		},
	}
}

func newOpenCmd(opts *rootOptions) *cobra.Command {
	var isView bool
	cmd := &cobra.Command{
		Use:   "open ID",
		Short: "Open a ticket, or a view with --view, in Zendesk",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := opts.send(cmd.Context(), background.Message{
				Type:     background.LaunchLink,
				ObjectID: settings.ParseID(args[0]),
				IsView:   isView,
			})
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), data.(map[string]any)["url"])
			return err
		},
	}
	cmd.Flags().BoolVar(&isView, "view", false, "the id is a view id")
	return cmd
}

func newSettingsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or change stored settings",
	}

	get := &cobra.Command{
		Use:   "get",
		Short: "Print stored settings",
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := opts.send(cmd.Context(), background.Message{Type: background.GetSettings})
			if err != nil {
				return err
			}
			return writeJSON(cmd, data.(map[string]any)["settings"])
		},
	}

	var (
		domain       string
		userID       string
		viewID       string
		pollInterval string
		filter       []string
		notifyViews  []string
	)
	set := &cobra.Command{
		Use:   "set",
		Short: "Change stored settings; unset flags keep their value",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			data, err := opts.send(ctx, background.Message{Type: background.GetSettings})
			if err != nil {
				return err
			}
			current, _ := data.(map[string]any)["settings"].(settings.Settings)

			flags := cmd.Flags()
			u := settings.UpdateFrom(current)
			if flags.Changed("domain") {
				u.ZendeskDomain = domain
			}
			if flags.Changed("user-id") {
				u.UserID = settings.ParseID(userID)
			}
			if flags.Changed("view-id") {
				u.ViewID = settings.ParseID(viewID)
			}
			if flags.Changed("poll-interval") {
				u.PollInterval = settings.ParseID(pollInterval)
			}
			if flags.Changed("filter") {
				u.ViewFilterIDs = settings.ParseIDs(filter)
			}
			if flags.Changed("notify") {
				u.NotifyViewIDs = settings.ParseIDs(notifyViews)
				if len(u.NotifyViewIDs.IDs) > settings.MaxNotifyViews {
					return fmt.Errorf("at most %d notify views", settings.MaxNotifyViews)
				}
			}

			if _, err := opts.send(ctx, background.Message{Type: background.SetSettings, Settings: &u}); err != nil {
				return err
			}
			return writeJSON(cmd, opts.app.settings.Current())
		},
	}
	set.Flags().StringVar(&domain, "domain", "", "Zendesk subdomain")
	set.Flags().StringVar(&userID, "user-id", "", "your Zendesk user id")
	set.Flags().StringVar(&viewID, "view-id", "", "the view to prioritize")
	set.Flags().StringVar(&pollInterval, "poll-interval", "", "minutes between checks of watched views")
	set.Flags().StringSliceVar(&filter, "filter", nil, "views offered by the view picker (empty shows all)")
	set.Flags().StringSliceVar(&notifyViews, "notify", nil, "views to watch for new tickets")

	cmd.AddCommand(get, set)
	return cmd
}

func newTestNotificationCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "test-notification",
		Short: "Send a test notification through the configured providers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := opts.send(cmd.Context(), background.Message{Type: background.TestNotification})
			return err
		},
	}
}

// newStateCmd works on the stored blobs directly, bypassing the dispatcher so
// nothing is loaded before it runs.
func newStateCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Inspect or clear stored state (settings, starred, notifySeen)",
	}

	keys := &cobra.Command{
		Use:   "keys",
		Short: "List stored keys",
		RunE: func(cmd *cobra.Command, _ []string) error {
			stored, err := opts.app.store.Keys(cmd.Context())
			if err != nil {
				return err
			}
			if opts.asJSON {
				if stored == nil {
					stored = []string{}
				}
				return writeJSON(cmd, stored)
			}
			for _, k := range stored {
				if _, err := fmt.Fprintln(cmd.OutOrStdout(), k); err != nil {
					return err
				}
			}
			return nil
		},
	}

	var all bool
	reset := &cobra.Command{
		Use:   "reset [KEY...]",
		Short: "Delete stored keys; --all deletes everything",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			switch {
			case all && len(args) > 0:
				return errors.New("give keys or --all, not both")
			case all:
				stored, err := opts.app.store.Keys(ctx)
				if err != nil {
					return err
				}
				args = stored
			case len(args) == 0:
				return errors.New("no keys given; use --all to delete everything")
			}

			for _, k := range args {
				if err := opts.app.store.Delete(ctx, k); err != nil {
					return fmt.Errorf("delete %s: %w", k, err)
				}
				opts.app.logger.Info("Stored state deleted", "key", k)
				if _, err := fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", k); err != nil {
					return err
				}
			}
			return nil
		},
	}
	reset.Flags().BoolVar(&all, "all", false, "delete every stored key")

	cmd.AddCommand(keys, reset)
	return cmd
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the config file",
		// Nothing under config needs the application wired.
		PersistentPreRunE:  func(*cobra.Command, []string) error { return nil },
		PersistentPostRunE: func(*cobra.Command, []string) error { return nil },
	}

	var path string
	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file with every default",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if path == "" {
				p, err := config.DefaultPath()
				if err != nil {
					return err
				}
				path = p
			}
			if err := config.WriteDefault(path, force); err != nil {
				return err
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), path)
			return err
		},
	}
	initCmd.Flags().StringVar(&path, "path", "", "where to write (default $HOME/.zendesk-prioritizer/config.toml)")
	initCmd.Flags().BoolVar(&force, "force", false, "replace an existing file")

	cmd.AddCommand(initCmd)
	return cmd
}
