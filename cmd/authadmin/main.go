// Command authadmin provisions accounts for the auth service.
//
//	authadmin hash
//	authadmin user -email alice@example.com [-inactive]
//	authadmin smoke -url http://localhost:8001 -email alice@example.com
//
// The password is read from the terminal without echo, or as the first line
// of stdin when it is not a terminal. Hashes are always written with the
// service's PASSWORD_HASH_ALGO, BCRYPT_COST and ARGON2_* settings. "hash"
// prints a password hash, e.g. for DEV_USERS. "user" creates or updates the
// account in PostgreSQL using the service's POSTGRES_* settings. "smoke" runs
// login, refresh and logout-all against a running service.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"golang.org/x/term"

	"github.com/utafrali/projectflow/internal/config"
	"github.com/utafrali/projectflow/internal/repository/postgres"
	"github.com/utafrali/projectflow/migrations"
	"github.com/utafrali/projectflow/pkg/authclient"
	"github.com/utafrali/projectflow/pkg/database"
	"github.com/utafrali/projectflow/pkg/logger"
)

const usage = `usage:
  authadmin hash
  authadmin user -email EMAIL [-inactive]
  authadmin smoke -url URL -email EMAIL`

var errUsage = errors.New(usage)

// readPassword is replaced in tests.
var readPassword = term.ReadPassword

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdin *os.File, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		return errUsage
	}
	switch args[0] {
	case "hash":
		return runHash(args[1:], stdin, stdout, stderr)
	case "user":
		return runUser(ctx, args[1:], stdin, stdout, stderr)
	case "smoke":
		return runSmoke(ctx, args[1:], stdin, stdout, stderr)
	default:
		return errUsage
	}
}

func runHash(args []string, stdin *os.File, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("hash", flag.ContinueOnError)
	fs.SetOutput(stderr)
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	password, err := promptPassword(stdin, stderr)
	if err != nil {
		return err
	}
	hash, err := cfg.PasswordScheme().Hash(password)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(stdout, hash)
	return err
}

func runUser(ctx context.Context, args []string, stdin *os.File, stdout, stderr io.Writer) error {
	var (
		email    string
		inactive bool
	)
	fs := flag.NewFlagSet("user", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&email, "email", "", "account email")
	fs.BoolVar(&inactive, "inactive", false, "create the account disabled")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(email) == "" {
		return errUsage
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logger.NewWithWriter("authadmin", cfg.LogLevel, stderr)

	password, err := promptPassword(stdin, stderr)
	if err != nil {
		return err
	}
	hash, err := cfg.PasswordScheme().Hash(password)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	pgCfg := cfg.Postgres()
	pool, err := database.NewPostgresPool(ctx, &pgCfg, log)
	if err != nil {
		return fmt.Errorf("connect to postgres: %w", err)
	}
	defer pool.Close()

	if err := database.RunMigrations(ctx, pool, migrations.FS, log); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	id, err := postgres.NewUserRepository(pool).Upsert(ctx, email, hash, !inactive)
	if err != nil {
		return err
	}
	log.Info("account provisioned", slog.String("user_id", id), slog.Bool("active", !inactive))
	_, err = fmt.Fprintln(stdout, id)
	return err
}

func runSmoke(ctx context.Context, args []string, stdin *os.File, stdout, stderr io.Writer) error {
	var baseURL, email string
	fs := flag.NewFlagSet("smoke", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&baseURL, "url", "http://localhost:8001", "auth service base URL")
	fs.StringVar(&email, "email", "", "account email")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(email) == "" {
		return errUsage
	}

	password, err := promptPassword(stdin, stderr)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	client := authclient.New(authclient.DefaultConfig(baseURL))

	pair, err := client.Login(ctx, email, password)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	fmt.Fprintf(stdout, "login ok: access token expires in %ds\n", pair.ExpiresIn)

	next, err := client.Refresh(ctx, pair.RefreshToken)
	if err != nil {
		return fmt.Errorf("refresh: %w", err)
	}
	if next.RefreshToken == pair.RefreshToken {
		return errors.New("refresh: token was not rotated")
	}
	fmt.Fprintln(stdout, "refresh ok: token rotated")

	if _, err := client.Refresh(ctx, pair.RefreshToken); err == nil {
		return errors.New("refresh: rotated token was accepted twice")
	}
	fmt.Fprintln(stdout, "reuse ok: rotated token rejected")

	n, err := client.LogoutAll(ctx, next.AccessToken)
	if err != nil {
		return fmt.Errorf("logout-all: %w", err)
	}
	fmt.Fprintf(stdout, "logout-all ok: %d session(s) revoked\n", n)
	return nil
}

// promptPassword reads a password without echo from a terminal, or the
// first line of in otherwise.
func promptPassword(in *os.File, prompt io.Writer) (string, error) {
	var password string
	if term.IsTerminal(int(in.Fd())) {
		fmt.Fprint(prompt, "Password: ")
		b, err := readPassword(int(in.Fd()))
		fmt.Fprintln(prompt)
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		password = string(b)
	} else {
		line, err := bufio.NewReader(in).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return "", fmt.Errorf("read password: %w", err)
		}
		password = strings.TrimRight(line, "\r\n")
	}
	if password == "" {
		return "", errors.New("empty password")
	}
	return password, nil
}
