// ABOUTME: Principal directory commands: register customers and agents, list, disable
// ABOUTME: Tokens are signed with the configured secret so the running server accepts them

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"

	"github.com/2389/support-desk/internal/auth"
	"github.com/2389/support-desk/internal/config"
	"github.com/2389/support-desk/internal/store"
)

// openDirectory loads the config and opens its database.
func openDirectory() (*config.Config, *store.SQLiteStore, error) {
	cfg, err := config.Load(config.DefaultPath())
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	s, err := store.Open(store.Options{
		Driver:      cfg.Database.Driver,
		Path:        cfg.Database.Path,
		BusyTimeout: cfg.Database.BusyTimeout,
		Logger:      setupLogger(config.LoggingConfig{Level: "warn"}, os.Stderr),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("opening database: %w", err)
	}
	return cfg, s, nil
}

func runPrincipal(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: support-desk principal <add|list|disable> [flags]")
	}
	cfg, s, err := openDirectory()
	if err != nil {
		return err
	}
	defer s.Close()

	switch args[0] {
	case "add":
		return principalAdd(ctx, cfg, s, args[1:], os.Stdout)
	case "list":
		return principalList(ctx, s, args[1:], os.Stdout)
	case "disable":
		return principalDisable(ctx, s, args[1:], os.Stdout)
	default:
		return fmt.Errorf("unknown principal command: %s", args[0])
	}
}

type addOptions struct {
	ID   string
	Name string
	Role store.PrincipalRole
	TTL  time.Duration
}

func parseAddFlags(args []string, defaultTTL time.Duration) (addOptions, error) {
	fs := flag.NewFlagSet("principal add", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	id := fs.String("id", "", "principal ID (default: random UUID)")
	name := fs.String("name", "", "display name")
	role := fs.String("role", string(store.RoleCustomer), "customer, agent or admin")
	ttl := fs.Duration("ttl", defaultTTL, "token lifetime, 0 for no expiry")
	if err := fs.Parse(args); err != nil {
		return addOptions{}, err
	}
	if fs.NArg() > 0 {
		return addOptions{}, fmt.Errorf("unexpected argument: %s", fs.Arg(0))
	}

	opts := addOptions{
		ID:   strings.TrimSpace(*id),
		Name: strings.TrimSpace(*name),
		Role: store.PrincipalRole(strings.ToLower(*role)),
		TTL:  *ttl,
	}
	switch {
	case opts.Name == "":
		return opts, errors.New("--name is required")
	case len(opts.Name) > 100:
		return opts, errors.New("display name exceeds maximum length of 100 characters")
	case !opts.Role.Valid():
		return opts, fmt.Errorf("--role must be customer, agent or admin, got %q", *role)
	case opts.TTL < 0:
		return opts, errors.New("--ttl must not be negative")
	}
	if opts.ID == "" {
		opts.ID = uuid.New().String()
	}
	return opts, nil
}

func principalAdd(ctx context.Context, cfg *config.Config, s *store.SQLiteStore, args []string, out io.Writer) error {
	opts, err := parseAddFlags(args, cfg.Auth.TokenTTL)
	if err != nil {
		return err
	}

	p := &store.Principal{
		ID:          opts.ID,
		DisplayName: opts.Name,
		Role:        opts.Role,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.CreatePrincipal(ctx, p); err != nil {
		return fmt.Errorf("creating principal: %w", err)
	}

	token, err := issueToken(cfg, p.ID, opts.TTL)
	if err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan)
	green.Fprintf(out, "  ✓ Created %s: %s\n\n", p.Role, p.DisplayName)
	cyan.Fprintln(out, "  Principal")
	cyan.Fprintln(out, "  ---------")
	fmt.Fprintf(out, "  ID:      %s\n", p.ID)
	fmt.Fprintf(out, "  Name:    %s\n", p.DisplayName)
	fmt.Fprintf(out, "  Role:    %s\n", p.Role)
	fmt.Fprintf(out, "  Expires: %s\n", expiry(opts.TTL))
	fmt.Fprintf(out, "  Token:   %s\n", token)
	return nil
}

func principalList(ctx context.Context, s *store.SQLiteStore, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("principal list", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	role := fs.String("role", "", "only this role")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var f store.PrincipalFilter
	if *role != "" {
		r := store.PrincipalRole(strings.ToLower(*role))
		if !r.Valid() {
			return fmt.Errorf("--role must be customer, agent or admin, got %q", *role)
		}
		f.Role = &r
	}

	principals, err := s.ListPrincipals(ctx, f)
	if err != nil {
		return fmt.Errorf("listing principals: %w", err)
	}
	if len(principals) == 0 {
		fmt.Fprintln(out, "No principals registered.")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tROLE\tSTATUS\tCREATED")
	for _, p := range principals {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", p.ID, p.DisplayName, p.Role, p.Status, p.CreatedAt.Format("2006-01-02"))
	}
	return tw.Flush()
}

func principalDisable(ctx context.Context, s *store.SQLiteStore, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("principal disable", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	id := fs.String("id", "", "principal ID")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id == "" {
		return errors.New("--id is required")
	}

	if err := s.UpdatePrincipalStatus(ctx, *id, store.PrincipalStatusDisabled); err != nil {
		return fmt.Errorf("disabling principal: %w", err)
	}
	color.New(color.FgYellow).Fprintf(out, "  ✓ Disabled %s\n", *id)
	return nil
}

func runToken(ctx context.Context, args []string) error {
	cfg, s, err := openDirectory()
	if err != nil {
		return err
	}
	defer s.Close()

	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	id := fs.String("id", "", "principal ID")
	ttl := fs.Duration("ttl", cfg.Auth.TokenTTL, "token lifetime, 0 for no expiry")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id == "" {
		return errors.New("--id is required")
	}

	p, err := s.GetPrincipal(ctx, *id)
	if err != nil {
		return fmt.Errorf("looking up principal: %w", err)
	}
	if p.Status != store.PrincipalStatusActive {
		return fmt.Errorf("principal %s is %s", p.ID, p.Status)
	}

	token, err := issueToken(cfg, p.ID, *ttl)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

func issueToken(cfg *config.Config, principalID string, ttl time.Duration) (string, error) {
	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return "", fmt.Errorf("creating JWT verifier: %w", err)
	}
	token, err := verifier.Generate(principalID, ttl)
	if err != nil {
		return "", fmt.Errorf("generating token: %w", err)
	}
	return token, nil
}

func expiry(ttl time.Duration) string {
	if ttl == 0 {
		return "never"
	}
	return time.Now().Add(ttl).UTC().Format("Jan 02, 2006")
}
