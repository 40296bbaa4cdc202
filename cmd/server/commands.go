package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	jwttoken "permguard/internal/jwt_token"
	"permguard/internal/permission/models"
	"permguard/internal/permission/store"
	id "permguard/pkg/domain"
	pstrings "permguard/pkg/platform/strings"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return errors.New("DATABASE_URL is required for this command")
			}
			db, err := openDB(cmd.Context(), cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := store.Migrate(cmd.Context(), db); err != nil {
				return err
			}
			version, err := store.MigrationVersion(cmd.Context(), db)
			if err != nil {
				return err
			}
			log.Info("migrations applied", "version", version)
			return nil
		},
	}
}

// newGrantCmd builds "grant" and "revoke", which differ only in the value
// they write.
func newGrantCmd(use string, hasAccess bool) *cobra.Command {
	var (
		userID string
		roleID string
		actor  string
	)
	cmd := &cobra.Command{
		Use:   use + " RESOURCE ACTION",
		Short: fmt.Sprintf("%s a permission for a user or role", use),
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if (userID == "") == (roleID == "") {
				return errors.New("exactly one of --user or --role is required")
			}
			action, err := models.ParseAction(args[1])
			if err != nil {
				return err
			}
			actorID, err := id.ParseUserID(actor)
			if err != nil {
				return err
			}

			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, log, appOptions{requireDB: true})
			if err != nil {
				return err
			}
			defer a.Close()

			var res models.MutationResult
			if userID != "" {
				uid, err := id.ParseUserID(userID)
				if err != nil {
					return err
				}
				res, err = a.mutator.SetUserPermission(cmd.Context(), uid, args[0], action, hasAccess, actorID)
				if err != nil {
					return err
				}
			} else {
				rid, err := id.ParseRoleID(roleID)
				if err != nil {
					return err
				}
				res, err = a.mutator.SetRolePermission(cmd.Context(), rid, args[0], action, hasAccess, actorID)
				if err != nil {
					return err
				}
			}

			if !res.Changed {
				fmt.Fprintln(cmd.OutOrStdout(), "unchanged")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s:%s (audit %s)\n", use, args[0], action, res.Audit.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id to change")
	cmd.Flags().StringVar(&roleID, "role", "", "role id to change")
	cmd.Flags().StringVar(&actor, "actor", "", "user id recorded as the author of the change")
	_ = cmd.MarkFlagRequired("actor")
	return cmd
}

func newPurgeCmd() *cobra.Command {
	var policies string
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Apply data-access log retention once",
		Long:  "Anonymizes or deletes data-access log entries older than each category's retention age.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("policies") {
				cfg.Retention.Policies = policies
			}
			if cfg.Retention.Policies == "" {
				return errors.New("no retention policies: set DATA_ACCESS_RETENTION or --policies")
			}
			a, err := newApp(cmd.Context(), cfg, log, appOptions{requireDB: true})
			if err != nil {
				return err
			}
			defer a.Close()

			job, err := a.retentionJob()
			if err != nil {
				return err
			}
			counts, runErr := job.RunOnce(cmd.Context())
			categories := make([]string, 0, len(counts))
			for c := range counts {
				categories = append(categories, string(c))
			}
			sort.Strings(categories)
			for _, c := range categories {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d\n", c, counts[models.DataCategory(c)])
			}
			return runErr
		},
	}
	cmd.Flags().StringVar(&policies, "policies", "", "override DATA_ACCESS_RETENTION, e.g. sick_days=30d:delete")
	return cmd
}

// newTokenCmd issues a bearer token for local testing of the HTTP API.
func newTokenCmd() *cobra.Command {
	var (
		userID string
		name   string
		roles  []string
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a signed bearer token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			uid, err := id.ParseUserID(userID)
			if err != nil {
				return err
			}
			p := id.Principal{ID: uid, AccountName: name}
			for _, r := range pstrings.DedupeAndTrim(roles) {
				rid, err := id.ParseRoleID(r)
				if err != nil {
					return err
				}
				p.Roles = append(p.Roles, rid)
			}

			token, err := jwttoken.NewJWTService(cfg.Server.JWTSigningKey, cfg.Server.JWTIssuer).
				GenerateAccessToken(p, ttl)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]any{
				"access_token": token,
				"token_type":   "Bearer",
				"expires_in":   int(ttl.Seconds()),
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "subject of the token")
	cmd.Flags().StringVar(&name, "name", "", "account name")
	cmd.Flags().StringSliceVar(&roles, "role", nil, "role membership, repeatable")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
