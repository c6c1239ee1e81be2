package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"villaops.org/internal/auth"
	"villaops.org/internal/orders"
	"villaops.org/internal/session"
)

func main() {
	if len(os.Args) < 2 {
		usage()
	}
	var err error
	switch os.Args[1] {
	case "access":
		err = runAccess(os.Args[2:])
	case "reset-password":
		err = runReset(os.Args[2:])
	case "transitions":
		err = runTransitions(os.Args[2:])
	default:
		usage()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", os.Args[1], err)
		os.Exit(1)
	}
}

func apiURL() string {
	if u := os.Getenv("VILLAOPS_API_URL"); u != "" {
		return u
	}
	return "http://localhost:8080"
}

func newFacade(base string) (*session.Facade, *session.RemoteProfiles) {
	profiles := session.NewRemoteProfiles(base, nil)
	return session.NewFacade(session.NewRemoteProvider(base, nil), profiles), profiles
}

// runAccess signs in and prints the caller's role and feature matrix as
// resolved locally and by the server.
func runAccess(args []string) error {
	fs := flag.NewFlagSet("access", flag.ExitOnError)
	base := fs.String("api", apiURL(), "API base URL")
	email := fs.String("email", os.Getenv("VILLAOPS_EMAIL"), "account email")
	password := fs.String("password", os.Getenv("VILLAOPS_PASSWORD"), "account password")
	_ = fs.Parse(args)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	facade, profiles := newFacade(*base)
	res, err := facade.SignIn(ctx, *email, *password)
	if err != nil {
		return err
	}
	if !res.OK() {
		return fmt.Errorf("%s: %s", res.Err.Kind, res.Err.Message)
	}
	defer func() { _, _ = facade.SignOut(context.Background()) }()

	if res.User == nil {
		fmt.Printf("%s has no profile; no features are available\n", res.Session.User.Email)
		return nil
	}
	remote, err := profiles.Access(auth.ContextWithToken(ctx, res.Session.AccessToken))
	if err != nil {
		return err
	}

	policy := auth.DefaultPolicy()
	fmt.Printf("user:   %s (%s)\n", res.User.ID, res.User.Email)
	fmt.Printf("role:   %s\n", res.User.Role)
	if len(res.User.SecondaryRoles) > 0 {
		names := make([]string, len(res.User.SecondaryRoles))
		for i, r := range res.User.SecondaryRoles {
			names[i] = string(r)
		}
		fmt.Printf("extra:  %s\n", strings.Join(names, ", "))
	}
	fmt.Println()
	fmt.Printf("%-22s %-6s %-6s\n", "FEATURE", "LOCAL", "SERVER")
	for _, f := range auth.Features() {
		local := policy.CheckFeatureAccess(res.User, f)
		mark := ""
		if local != remote[f] {
			mark = "  (differs)"
		}
		fmt.Printf("%-22s %-6t %-6t%s\n", f, local, remote[f], mark)
	}
	if roles := policy.ManageableRoles(res.User); len(roles) > 0 {
		fmt.Printf("\nmanages: %v\n", roles)
	}
	return nil
}

func runReset(args []string) error {
	fs := flag.NewFlagSet("reset-password", flag.ExitOnError)
	base := fs.String("api", apiURL(), "API base URL")
	email := fs.String("email", "", "account email")
	_ = fs.Parse(args)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	facade, _ := newFacade(*base)
	res, err := facade.ResetPassword(ctx, *email)
	if err != nil {
		return err
	}
	if !res.OK() {
		return fmt.Errorf("%s: %s", res.Err.Kind, res.Err.Message)
	}
	fmt.Printf("reset instructions sent to %s if the account exists\n", *email)
	return nil
}

// runTransitions prints the approval table for one role, or for every role
// when none is given.
func runTransitions(args []string) error {
	fs := flag.NewFlagSet("transitions", flag.ExitOnError)
	roleFlag := fs.String("role", "", "role to inspect")
	_ = fs.Parse(args)

	roles := auth.Roles()
	if *roleFlag != "" {
		r, err := auth.ParseRole(*roleFlag)
		if err != nil {
			return err
		}
		roles = []auth.Role{r}
	}
	fmt.Printf("%-20s %-18s %-6s %s\n", "ROLE", "STATUS", "ACT", "APPROVE->")
	for _, r := range roles {
		for _, s := range orders.Statuses() {
			if !orders.CanTakeActionOnOrder(s, r) {
				continue
			}
			next := orders.NextOrderStatus(s, r)
			if next == s {
				fmt.Printf("%-20s %-18s %-6s %s\n", r, s, "reject", "-")
				continue
			}
			fmt.Printf("%-20s %-18s %-6s %s\n", r, s, "both", next)
		}
	}
	return nil
}

func usage() {
	fmt.Fprintf(os.Stderr, "usage: %s <access|reset-password|transitions> [flags]\n", os.Args[0])
	os.Exit(2)
}
