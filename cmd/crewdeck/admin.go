package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/crewdeck/crewdeck/internal/audit"
	"github.com/crewdeck/crewdeck/internal/authz"
	"github.com/crewdeck/crewdeck/internal/companies"
	"github.com/crewdeck/crewdeck/internal/users"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

func runAdmin(args []string) int {
	if len(args) == 0 {
		printAdminUsage()
		return 2
	}

	switch args[0] {
	case "grant-role":
		return runGrantRole(args[1:])
	case "create-company":
		return runCreateCompany(args[1:])
	case "deactivate-user":
		return runDeactivateUser(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown admin command: %s\n", args[0])
		printAdminUsage()
		return 2
	}
}

func printAdminUsage() {
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  crewdeck admin grant-role --email user@example.com --role super_admin [--db-dsn <dsn>]")
	fmt.Fprintln(os.Stderr, "  crewdeck admin create-company --name \"Acme Builders\" --max-seats 10 [--plan starter] [--owner-email user@example.com] [--db-dsn <dsn>]")
	fmt.Fprintln(os.Stderr, "  crewdeck admin deactivate-user --email user@example.com [--db-dsn <dsn>]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Notes:")
	fmt.Fprintln(os.Stderr, "  - --db-dsn defaults to CD_DB_DSN.")
}

func adminPool(dbDSN string) (*pgxpool.Pool, context.Context, context.CancelFunc, int) {
	if dbDSN == "" {
		dbDSN = strings.TrimSpace(os.Getenv("CD_DB_DSN"))
	}
	if dbDSN == "" {
		fmt.Fprintln(os.Stderr, "--db-dsn is required (or set CD_DB_DSN)")
		return nil, nil, nil, 2
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)

	pool, err := pgxpool.New(ctx, dbDSN)
	if err != nil {
		cancel()
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		return nil, nil, nil, 1
	}

	return pool, ctx, cancel, 0
}

func runGrantRole(args []string) int {
	fs := flag.NewFlagSet("grant-role", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var email string
	var role string
	var dbDSN string

	fs.StringVar(&email, "email", "", "User email")
	fs.StringVar(&role, "role", "", "System role (super_admin, project_manager, contractor, homeowner)")
	fs.StringVar(&dbDSN, "db-dsn", "", "Postgres DSN (defaults to CD_DB_DSN)")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	email = strings.TrimSpace(email)
	if email == "" {
		fmt.Fprintln(os.Stderr, "--email is required")
		return 2
	}

	systemRole := authz.SystemRole(strings.TrimSpace(role))
	if !systemRole.IsValid() {
		fmt.Fprintf(os.Stderr, "Invalid role: %q\n", role)
		return 2
	}

	pool, ctx, cancel, code := adminPool(dbDSN)
	if code != 0 {
		return code
	}
	defer cancel()
	defer pool.Close()

	svc := users.NewService(pool)
	user, err := svc.SetSystemRole(ctx, email, systemRole)
	if err != nil {
		if errors.Is(err, users.ErrUserNotFound) {
			fmt.Fprintf(os.Stderr, "No user found with email %q\n", email)
			return 1
		}
		fmt.Fprintf(os.Stderr, "Failed to grant role: %v\n", err)
		return 1
	}

	if err := audit.NewWriter(pool).LogSystemRoleGranted(ctx, user.ID, string(systemRole)); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to write audit log: %v\n", err)
	}

	fmt.Fprintf(os.Stdout, "Granted %s to %s.\n", systemRole, email)
	return 0
}

func runDeactivateUser(args []string) int {
	fs := flag.NewFlagSet("deactivate-user", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var email string
	var dbDSN string

	fs.StringVar(&email, "email", "", "User email")
	fs.StringVar(&dbDSN, "db-dsn", "", "Postgres DSN (defaults to CD_DB_DSN)")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	email = strings.TrimSpace(email)
	if email == "" {
		fmt.Fprintln(os.Stderr, "--email is required")
		return 2
	}

	pool, ctx, cancel, code := adminPool(dbDSN)
	if code != 0 {
		return code
	}
	defer cancel()
	defer pool.Close()

	svc := users.NewService(pool)
	user, err := svc.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, users.ErrUserNotFound) {
			fmt.Fprintf(os.Stderr, "No user found with email %q\n", email)
			return 1
		}
		fmt.Fprintf(os.Stderr, "Failed to look up user: %v\n", err)
		return 1
	}

	if err := svc.Deactivate(ctx, user.ID); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to deactivate user: %v\n", err)
		return 1
	}

	fmt.Fprintf(os.Stdout, "Deactivated %s. Their permissions resolve to nothing on the next request.\n", email)
	return 0
}

func runCreateCompany(args []string) int {
	fs := flag.NewFlagSet("create-company", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var name string
	var industry string
	var plan string
	var maxSeats int
	var ownerEmail string
	var dbDSN string

	fs.StringVar(&name, "name", "", "Company name")
	fs.StringVar(&industry, "industry", "", "Industry")
	fs.StringVar(&plan, "plan", "starter", "Plan tier")
	fs.IntVar(&maxSeats, "max-seats", 5, "Seat capacity")
	fs.StringVar(&ownerEmail, "owner-email", "", "Existing user to seed as company admin")
	fs.StringVar(&dbDSN, "db-dsn", "", "Postgres DSN (defaults to CD_DB_DSN)")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	name = strings.TrimSpace(name)
	if name == "" {
		fmt.Fprintln(os.Stderr, "--name is required")
		return 2
	}
	if maxSeats <= 0 {
		fmt.Fprintln(os.Stderr, "--max-seats must be positive")
		return 2
	}

	pool, ctx, cancel, code := adminPool(dbDSN)
	if code != 0 {
		return code
	}
	defer cancel()
	defer pool.Close()

	var ownerID *uuid.UUID
	createdBy := uuid.Nil
	if ownerEmail != "" {
		owner, err := users.NewService(pool).GetByEmail(ctx, ownerEmail)
		if err != nil {
			if errors.Is(err, users.ErrUserNotFound) {
				fmt.Fprintf(os.Stderr, "No user found with email %q\n", ownerEmail)
				return 1
			}
			fmt.Fprintf(os.Stderr, "Failed to look up owner: %v\n", err)
			return 1
		}
		ownerID = &owner.ID
		createdBy = owner.ID
	}

	company, err := companies.NewService(pool).CreateWithSubscription(ctx, companies.CreateParams{
		Name:        name,
		Industry:    industry,
		PlanTier:    plan,
		MaxSeats:    maxSeats,
		CreatedBy:   createdBy,
		OwnerUserID: ownerID,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create company: %v\n", err)
		return 1
	}

	fmt.Fprintf(os.Stdout, "Created company %s (%s).\n", company.Name, company.ID)
	return 0
}
