package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/spf13/cobra"

	"github.com/spec-kit/problem-service/internal/api/dto"
	"github.com/spec-kit/problem-service/internal/auth"
	"github.com/spec-kit/problem-service/internal/bootstrap"
	"github.com/spec-kit/problem-service/internal/config"
	"github.com/spec-kit/problem-service/internal/domain"
	"github.com/spec-kit/problem-service/internal/service"
)

func detectCmd() *cobra.Command {
	var windowDays, minCount int
	cmd := &cobra.Command{
		Use:   "detect",
		Short: "Run a detection sweep over recent tickets",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, cfg *config.Config, e *bootstrap.Engine) error {
				if !cmd.Flags().Changed("window-days") {
					windowDays = cfg.Problem.WindowDays
				}
				if !cmd.Flags().Changed("min-count") {
					minCount = cfg.Problem.MinCount
				}
				res, err := e.Problems.DetectProblems(ctx, windowDays, minCount)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(cmd.OutOrStdout(), res)
				}
				renderDetection(cmd.OutOrStdout(), res)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&windowDays, "window-days", 0, "trailing window in days (default from PROBLEM_WINDOW_DAYS)")
	cmd.Flags().IntVar(&minCount, "min-count", 0, "minimum group size (default from PROBLEM_MIN_COUNT)")
	return cmd
}

func listCmd() *cobra.Command {
	var status, category string
	var activeOnly bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List problems",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := problemFilter(status, category, activeOnly)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, _ *config.Config, e *bootstrap.Engine) error {
				problems, err := e.Problems.ListProblems(ctx, filter)
				if err != nil {
					return err
				}
				if jsonOutput {
					out := make([]dto.ProblemResponse, 0, len(problems))
					for i := range problems {
						out = append(out, dto.ProblemFromDomain(&problems[i]))
					}
					return printJSON(cmd.OutOrStdout(), out)
				}
				renderProblems(cmd.OutOrStdout(), problems)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	cmd.Flags().StringVar(&category, "category", "", "category filter")
	cmd.Flags().BoolVar(&activeOnly, "active-only", false, "hide resolved and closed problems")
	return cmd
}

func showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <problem-id>",
		Short: "Show a problem with its linked tickets and recommendations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, _ *config.Config, e *bootstrap.Engine) error {
				p, err := e.Problems.GetProblem(ctx, args[0])
				if err != nil {
					return err
				}
				tickets, err := e.Problems.GetProblemTickets(ctx, p.ID)
				if err != nil {
					return err
				}
				recs, err := e.Problems.ListRecommendations(ctx, p.ID)
				if err != nil {
					return err
				}
				if jsonOutput {
					detail := dto.ProblemDetailResponse{
						ProblemResponse:   dto.ProblemFromDomain(p),
						Tickets:           make([]dto.TicketSummary, 0, len(tickets)),
						SuggestedAssignee: service.DeriveProblemAssignee(tickets),
					}
					for i := range tickets {
						detail.Tickets = append(detail.Tickets, dto.TicketFromDomain(&tickets[i]))
					}
					return printJSON(cmd.OutOrStdout(), detail)
				}
				renderProblemDetail(cmd.OutOrStdout(), p, tickets, recs)
				return nil
			})
		},
	}
}

func recomputeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "recompute <problem-id>",
		Short: "Recompute a problem's derived counters",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, _ *config.Config, e *bootstrap.Engine) error {
				p, err := e.Problems.RecomputeProblemStats(ctx, args[0])
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(cmd.OutOrStdout(), dto.ProblemFromDomain(p))
				}
				renderProblems(cmd.OutOrStdout(), []domain.Problem{*p})
				return nil
			})
		},
	}
}

func linkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "link <ticket-id>",
		Short: "Match a ticket against existing problems",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, _ *config.Config, e *bootstrap.Engine) error {
				p, err := e.Problems.LinkTicketToProblem(ctx, args[0])
				if err != nil {
					return err
				}
				if p == nil {
					fmt.Fprintf(cmd.OutOrStdout(), "ticket %s matched no problem\n", args[0])
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "ticket %s linked to %s (%s)\n", args[0], p.ID, p.Title)
				return nil
			})
		},
	}
}

func analyticsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "analytics",
		Short: "Summarise problems by status and highlight the most active",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, _ *config.Config, e *bootstrap.Engine) error {
				summary, err := e.Problems.ProblemAnalyticsSummary(ctx)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(cmd.OutOrStdout(), summary)
				}
				renderAnalytics(cmd.OutOrStdout(), summary)
				return nil
			})
		},
	}
}

func tokenCmd() *cobra.Command {
	var email, serviceName, role string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for a staff member or a service",
		RunE: func(cmd *cobra.Command, args []string) error {
			if (email == "") == (serviceName == "") {
				return errors.New("exactly one of --email or --service is required")
			}
			if serviceName != "" {
				cfg, err := config.Load()
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
				r := domain.StaffRole(strings.ToUpper(role))
				if !validRole(r) {
					return fmt.Errorf("unknown role %q", role)
				}
				return issueToken(cmd, cfg, auth.ServiceSubject(serviceName, r))
			}
			return withEngine(cmd.Context(), func(ctx context.Context, cfg *config.Config, e *bootstrap.Engine) error {
				staff, err := e.Store.Staff().GetByEmail(ctx, email)
				if errors.Is(err, pgx.ErrNoRows) {
					return fmt.Errorf("no staff member with email %s", email)
				}
				if err != nil {
					return err
				}
				if !staff.Active {
					return fmt.Errorf("staff member %s is inactive", email)
				}
				return issueToken(cmd, cfg, auth.StaffSubject(staff))
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "staff email")
	cmd.Flags().StringVar(&serviceName, "service", "", "service subject name")
	cmd.Flags().StringVar(&role, "role", string(domain.StaffRoleTeamLead), "role for service tokens")
	return cmd
}

func issueToken(cmd *cobra.Command, cfg *config.Config, subject auth.Subject) error {
	tok, expiresAt, err := auth.NewTokenManager(cfg.Auth).Issue(subject)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), map[string]any{"token": tok, "expires_at": expiresAt})
	}
	fmt.Fprintln(cmd.OutOrStdout(), tok)
	return nil
}

func validRole(r domain.StaffRole) bool {
	switch r {
	case domain.StaffRoleAgent, domain.StaffRoleTeamLead, domain.StaffRoleAdmin:
		return true
	}
	return false
}

func problemFilter(status, category string, activeOnly bool) (domain.ProblemFilter, error) {
	filter := domain.ProblemFilter{ActiveOnly: activeOnly}
	if status != "" {
		s := domain.ProblemStatus(strings.ToLower(status))
		if !s.Valid() {
			return filter, fmt.Errorf("unknown status %q", status)
		}
		filter.Status = &s
	}
	if category != "" {
		c := domain.Category(strings.ToLower(category))
		if !c.Valid() {
			return filter, fmt.Errorf("unknown category %q", category)
		}
		filter.Category = &c
	}
	return filter, nil
}
