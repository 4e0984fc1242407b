package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"

	"github.com/tides-platform/console/internal/auth"
	"github.com/tides-platform/console/internal/navigation"
	"github.com/tides-platform/console/internal/sessionstore"
	sharedauth "github.com/tides-platform/console/internal/shared/auth"
)

// ErrDenied is returned by checks that evaluate to false, so scripts can
// branch on the exit status.
var ErrDenied = errors.New("denied")

type app struct {
	configPath string
	server     string
	out        string

	cfg    Config
	client *client
}

func (a *app) load(cmd *cobra.Command, args []string) error {
	cfg, err := LoadConfig(a.configPath)
	if err != nil {
		return err
	}
	if a.server != "" {
		cfg.Server = a.server
	}
	if a.out != "" {
		cfg.Output = a.out
	}
	a.cfg = cfg
	a.client = newClient(cfg)
	return nil
}

func (a *app) print(w io.Writer, v any, text func(io.Writer)) {
	if a.cfg.Output == "json" {
		p, _ := json.MarshalIndent(v, "", "  ")
		fmt.Fprintln(w, string(p))
		return
	}
	text(w)
}

// NewRootCommand builds the tidesctl command tree.
func NewRootCommand() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:               "tidesctl",
		Short:             "Command line client for the TIDES admin console",
		SilenceUsage:      true,
		PersistentPreRunE: a.load,
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", DefaultConfigPath(), "config file")
	root.PersistentFlags().StringVar(&a.server, "server", "", "console URL (overrides config and TIDES_SERVER)")
	root.PersistentFlags().StringVar(&a.out, "out", "", "output format: text|json")

	root.AddCommand(
		a.loginCmd(),
		a.logoutCmd(),
		a.whoamiCmd(),
		a.canCmd(),
		a.hasRoleCmd(),
		a.menuCmd(),
		a.routeCmd(),
		a.activityCmd(),
		a.getCmd(),
	)
	return root
}

type loginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	Session   struct {
		User *auth.Principal `json:"user"`
	} `json:"session"`
}

func (a *app) loginCmd() *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and store the session locally",
		Long: `Log in with the backend credentials of a console user.

The password is read from --password or TIDES_PASSWORD.

Examples:
  tidesctl login --email engineer@tides.example
  TIDES_PASSWORD=secret tidesctl login --email admin@tides.example`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if email == "" {
				return fmt.Errorf("--email is required")
			}
			if password == "" {
				password = os.Getenv("TIDES_PASSWORD")
			}
			if password == "" {
				return fmt.Errorf("--password or TIDES_PASSWORD is required")
			}

			ctx := cmd.Context()
			// a previous session must not leak into the new one
			_ = a.client.Store.Delete(ctx, "")

			status, body, err := a.client.do(ctx, http.MethodPost, "/api/v1/auth/login",
				map[string]string{"email": email, "password": password})
			if err != nil {
				return err
			}
			if status != http.StatusOK {
				return apiError(status, body)
			}

			var resp loginResponse
			if err := json.Unmarshal(body, &resp); err != nil {
				return fmt.Errorf("unexpected login response: %w", err)
			}
			if resp.Session.User == nil {
				return fmt.Errorf("unexpected login response: no user")
			}

			var claims sharedauth.Claims
			if _, _, err := jwt.NewParser().ParseUnverified(resp.Token, &claims); err != nil {
				return fmt.Errorf("unexpected login token: %w", err)
			}

			rec := &sessionstore.Record{
				ID:        claims.SessionID,
				Principal: *resp.Session.User,
				Token:     resp.Token,
				CreatedAt: time.Now().UTC(),
				ExpiresAt: resp.ExpiresAt,
			}
			if _, err := rec.Session(); err != nil {
				return fmt.Errorf("server returned unknown role %q", rec.Principal.Role)
			}
			if err := a.client.Store.Save(ctx, rec); err != nil {
				return fmt.Errorf("failed to save session: %w", err)
			}

			a.print(cmd.OutOrStdout(), rec.Principal, func(w io.Writer) {
				fmt.Fprintf(w, "Logged in as %s (%s)\n", rec.Principal.Name, rec.Principal.Role)
			})
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "user email")
	cmd.Flags().StringVar(&password, "password", "", "user password")
	return cmd
}

func (a *app) logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the session and clear local storage",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if _, _, err := a.client.session(ctx); errors.Is(err, ErrNotLoggedIn) {
				fmt.Fprintln(cmd.OutOrStdout(), "Not logged in.")
				return nil
			}

			status, _, err := a.client.do(ctx, http.MethodPost, "/api/v1/auth/logout", nil)
			if err != nil && !errors.Is(err, ErrSessionExpired) {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: server logout failed: %v\n", err)
			} else if err == nil && status != http.StatusNoContent {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: server logout returned status %d\n", status)
			}

			if err := a.client.Store.Delete(ctx, ""); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Logged out.")
			return nil
		},
	}
}

type meResponse struct {
	Authenticated bool              `json:"authenticated"`
	User          *auth.Principal   `json:"user"`
	Role          auth.Role         `json:"role"`
	Permissions   []auth.Permission `json:"permissions"`
	Dashboard     string            `json:"dashboard"`
	Settings      string            `json:"settings"`
}

func (a *app) whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the principal the server sees",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if _, _, err := a.client.session(ctx); err != nil {
				return err
			}

			status, body, err := a.client.do(ctx, http.MethodGet, "/api/v1/auth/me", nil)
			if err != nil {
				return err
			}
			if status != http.StatusOK {
				return apiError(status, body)
			}

			var me meResponse
			if err := json.Unmarshal(body, &me); err != nil {
				return err
			}
			a.print(cmd.OutOrStdout(), me, func(w io.Writer) {
				if me.User != nil {
					fmt.Fprintf(w, "Name:        %s\n", me.User.Name)
					fmt.Fprintf(w, "Email:       %s\n", me.User.Email)
				}
				fmt.Fprintf(w, "Role:        %s\n", me.Role)
				fmt.Fprintf(w, "Dashboard:   %s\n", me.Dashboard)
				fmt.Fprintf(w, "Settings:    %s\n", me.Settings)
				fmt.Fprintf(w, "Permissions: %s\n", joinPermissions(me.Permissions))
			})
			return nil
		},
	}
}

func (a *app) canCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "can <permission>",
		Short: "Check a permission of the stored session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, s, err := a.client.session(cmd.Context())
			if err != nil && !errors.Is(err, ErrNotLoggedIn) {
				return err
			}
			return a.verdict(cmd, s.HasPermission(auth.Permission(args[0])))
		},
	}
}

func (a *app) hasRoleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "has-role <role>...",
		Short: "Check whether the stored session has any of the roles",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, s, err := a.client.session(cmd.Context())
			if err != nil && !errors.Is(err, ErrNotLoggedIn) {
				return err
			}
			roles := make([]auth.Role, len(args))
			for i, r := range args {
				roles[i] = auth.Role(r)
			}
			return a.verdict(cmd, s.HasRole(roles...))
		},
	}
}

func (a *app) verdict(cmd *cobra.Command, allowed bool) error {
	a.print(cmd.OutOrStdout(), map[string]bool{"allowed": allowed}, func(w io.Writer) {
		if allowed {
			fmt.Fprintln(w, "allowed")
		} else {
			fmt.Fprintln(w, "denied")
		}
	})
	if !allowed {
		return ErrDenied
	}
	return nil
}

func (a *app) menuCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "menu",
		Short: "List the sidebar entries of the stored session",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, s, err := a.client.session(cmd.Context())
			if err != nil {
				return err
			}
			items := navigation.Menu(s)
			a.print(cmd.OutOrStdout(), items, func(w io.Writer) {
				for _, item := range items {
					fmt.Fprintf(w, "%-28s %s\n", item.Label, item.Path)
				}
			})
			return nil
		},
	}
}

func (a *app) routeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "route <path>",
		Short: "Check whether the stored session may open a console screen",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, s, err := a.client.session(cmd.Context())
			if err != nil && !errors.Is(err, ErrNotLoggedIn) {
				return err
			}
			d := navigation.Guard(s, args[0])
			a.print(cmd.OutOrStdout(), d, func(w io.Writer) {
				fmt.Fprintf(w, "%s: %d %s\n", d.Path, d.Status, http.StatusText(d.Status))
			})
			if !d.Allowed {
				return ErrDenied
			}
			return nil
		},
	}
}

func (a *app) activityCmd() *cobra.Command {
	var action, actor string
	var limit int
	cmd := &cobra.Command{
		Use:   "activity",
		Short: "Show the activity log (requires activity_logs)",
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			if action != "" {
				q.Set("action", action)
			}
			if actor != "" {
				q.Set("actor_id", actor)
			}
			if limit > 0 {
				q.Set("limit", strconv.Itoa(limit))
			}
			path := "/api/v1/activity-logs"
			if len(q) > 0 {
				path += "?" + q.Encode()
			}

			status, body, err := a.client.do(cmd.Context(), http.MethodGet, path, nil)
			if err != nil {
				return err
			}
			if status != http.StatusOK {
				return apiError(status, body)
			}

			var resp struct {
				Entries []struct {
					Timestamp time.Time         `json:"timestamp"`
					Action    string            `json:"action"`
					ActorID   string            `json:"actor_id"`
					ActorRole string            `json:"actor_role"`
					Details   map[string]string `json:"details"`
				} `json:"entries"`
			}
			if err := json.Unmarshal(body, &resp); err != nil {
				return err
			}
			a.print(cmd.OutOrStdout(), resp.Entries, func(w io.Writer) {
				for _, e := range resp.Entries {
					fmt.Fprintf(w, "%s  %-18s %-6s %-9s %s\n",
						e.Timestamp.Format(time.RFC3339), e.Action, e.ActorID, e.ActorRole, formatDetails(e.Details))
				}
			})
			return nil
		},
	}
	cmd.Flags().StringVar(&action, "action", "", "filter by action (e.g. authz.denied)")
	cmd.Flags().StringVar(&actor, "actor", "", "filter by actor id")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum entries")
	return cmd
}

func (a *app) getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <backend-path>",
		Short: "Fetch a backend resource through the console gateway",
		Long: `Fetch a backend resource through the console gateway.

Examples:
  tidesctl get /projects/
  tidesctl get "/reports/?year=2025"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := "/" + strings.TrimLeft(args[0], "/")
			status, body, err := a.client.do(cmd.Context(), http.MethodGet, "/api/v1/backend"+target, nil)
			if err != nil {
				return err
			}
			if status/100 != 2 {
				return apiError(status, body)
			}

			var v any
			if json.Unmarshal(body, &v) == nil {
				p, _ := json.MarshalIndent(v, "", "  ")
				fmt.Fprintln(cmd.OutOrStdout(), string(p))
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(body))
			return nil
		},
	}
}

func joinPermissions(perms []auth.Permission) string {
	out := make([]string, len(perms))
	for i, p := range perms {
		out[i] = string(p)
	}
	return strings.Join(out, ", ")
}

func formatDetails(d map[string]string) string {
	if len(d) == 0 {
		return ""
	}
	parts := make([]string, 0, len(d))
	for k, v := range d {
		parts = append(parts, k+"="+v)
	}
	sort.Strings(parts)
	return strings.Join(parts, " ")
}
