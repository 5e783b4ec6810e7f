package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/alecgard/taskmate/internal/auth"
	"github.com/alecgard/taskmate/internal/config"
	"github.com/alecgard/taskmate/internal/team"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed a demo team and print tokens for its users",
	RunE:  runSeed,
}

var (
	seedOwner    string
	seedMembers  []string
	seedPending  []string
	seedTokenTTL time.Duration
)

func init() {
	seedCmd.Flags().StringVar(&seedOwner, "owner", "demo-admin", "user id of the team creator")
	seedCmd.Flags().StringSliceVar(&seedMembers, "members", []string{"demo-member"}, "user ids to add as members through accepted join requests")
	seedCmd.Flags().StringSliceVar(&seedPending, "pending", []string{"demo-requester"}, "user ids left with a pending join request")
	seedCmd.Flags().DurationVar(&seedTokenTTL, "token-ttl", 24*time.Hour, "lifetime of the printed tokens")
	rootCmd.AddCommand(seedCmd)
}

func runSeed(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if cfg.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret must be set to mint demo tokens")
	}
	if cfg.Store.Driver == "memory" {
		slog.Warn("seeding the in-memory store only lasts for this process; tokens are still valid against a running server")
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	be, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer be.close()

	svc := team.NewService(be.store, serviceOptions(cfg, nil))

	t, err := svc.CreateTeam(ctx, seedOwner, "Demo Team", "Created by taskmate seed")
	if err != nil {
		return fmt.Errorf("creating demo team: %w", err)
	}
	slog.Info("seeded team", "team_key", t.Key, "owner", seedOwner)

	for _, u := range seedMembers {
		if _, err := svc.RequestJoin(ctx, u, t.Key, "Seeded join request"); err != nil {
			return fmt.Errorf("requesting join for %s: %w", u, err)
		}
		if _, err := svc.Accept(ctx, seedOwner, t.Key, u); err != nil {
			return fmt.Errorf("accepting %s: %w", u, err)
		}
	}
	for _, u := range seedPending {
		if _, err := svc.RequestJoin(ctx, u, t.Key, "Seeded join request"); err != nil {
			return fmt.Errorf("requesting join for %s: %w", u, err)
		}
	}

	fmt.Printf("\nTeam key: %s\n\nTokens (valid for %s):\n", t.Key, seedTokenTTL)
	users := append([]string{seedOwner}, append(seedMembers, seedPending...)...)
	for _, u := range users {
		tok, err := auth.MintToken(cfg.Auth.JWTSecret, cfg.Auth.Issuer, u, seedTokenTTL)
		if err != nil {
			return err
		}
		fmt.Printf("  %-16s %s\n", u, tok)
	}
	fmt.Println()
	return nil
}
