package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/term"

	apiclient "github.com/ticklist/api/pkg/api/client"
)

type cliConfig struct {
	APIBaseURL   string `json:"api_base_url"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

var buildVersion = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "register":
		err = commandRegister(args)
	case "login":
		err = commandLogin(args)
	case "logout":
		err = commandLogout(args)
	case "refresh":
		err = commandRefresh(args)
	case "whoami":
		err = commandWhoami(args)
	case "todo":
		err = commandTodo(args)
	case "version", "--version", "-v":
		printVersion()
		return
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func promptPassword() (string, error) {
	fmt.Print("Password: ")
	bytes, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Print("\n")
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return string(bytes), nil
}

func commandRegister(args []string) error {
	fs := flag.NewFlagSet("register", flag.ExitOnError)
	email := fs.String("email", "", "Email address")
	name := fs.String("name", "", "Display name")
	password := fs.String("password", "", "Password (supply to avoid prompt)")
	apiBase := fs.String("api", "", "API base URL (default http://localhost:8080)")
	fs.Parse(args)

	if strings.TrimSpace(*email) == "" {
		return errors.New("--email is required")
	}

	secret := strings.TrimSpace(*password)
	if secret == "" {
		var err error
		secret, err = promptPassword()
		if err != nil {
			return err
		}
	}

	cfg, _ := loadConfig()
	if strings.TrimSpace(*apiBase) != "" {
		cfg.APIBaseURL = *apiBase
	}

	client, err := apiclient.New(cfg.APIBaseURL)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	session, err := client.Register(ctx, *email, secret, *name)
	if err != nil {
		return err
	}
	cfg.AccessToken = session.AccessToken
	cfg.RefreshToken = session.RefreshToken
	if err := saveConfig(cfg); err != nil {
		return err
	}
	fmt.Printf("registered as %s\n", session.User.Email)
	return nil
}

func commandLogin(args []string) error {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	email := fs.String("email", "", "Email address")
	password := fs.String("password", "", "Password (supply to avoid prompt)")
	apiBase := fs.String("api", "", "API base URL (default http://localhost:8080)")
	fs.Parse(args)

	if strings.TrimSpace(*email) == "" {
		return errors.New("--email is required")
	}

	secret := strings.TrimSpace(*password)
	if secret == "" {
		var err error
		secret, err = promptPassword()
		if err != nil {
			return err
		}
	}

	cfg, _ := loadConfig()
	if strings.TrimSpace(*apiBase) != "" {
		cfg.APIBaseURL = *apiBase
	}

	client, err := apiclient.New(cfg.APIBaseURL)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	session, err := client.Login(ctx, *email, secret)
	if err != nil {
		return err
	}
	cfg.AccessToken = session.AccessToken
	cfg.RefreshToken = session.RefreshToken
	if err := saveConfig(cfg); err != nil {
		return err
	}
	fmt.Println("login successful")
	return nil
}

func commandLogout(args []string) error {
	fs := flag.NewFlagSet("logout", flag.ExitOnError)
	fs.Parse(args)

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if strings.TrimSpace(cfg.RefreshToken) != "" {
		client, err := apiclient.New(cfg.APIBaseURL)
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := client.Logout(ctx, cfg.RefreshToken); err != nil {
			fmt.Fprintf(os.Stderr, "warning: server-side logout failed: %v\n", err)
		}
	}
	cfg.AccessToken = ""
	cfg.RefreshToken = ""
	if err := saveConfig(cfg); err != nil {
		return err
	}
	fmt.Println("logged out")
	return nil
}

func commandRefresh(args []string) error {
	fs := flag.NewFlagSet("refresh", flag.ExitOnError)
	fs.Parse(args)

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if strings.TrimSpace(cfg.RefreshToken) == "" {
		return errors.New("no stored session, login first using 'tick login'")
	}

	client, err := apiclient.New(cfg.APIBaseURL)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	session, err := client.Refresh(ctx, cfg.RefreshToken)
	if err != nil {
		return err
	}
	cfg.AccessToken = session.AccessToken
	cfg.RefreshToken = session.RefreshToken
	if err := saveConfig(cfg); err != nil {
		return err
	}
	fmt.Println("session refreshed")
	return nil
}

func commandWhoami(args []string) error {
	fs := flag.NewFlagSet("whoami", flag.ExitOnError)
	fs.Parse(args)

	cfg, client, err := requireSession()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	user, err := client.Me(ctx, cfg.AccessToken)
	if err != nil {
		return err
	}
	fmt.Printf("%s (%s)\n", user.Email, user.ID)
	if user.DisplayName != "" {
		fmt.Printf("display name: %s\n", user.DisplayName)
	}
	fmt.Printf("email verified: %t\n", user.EmailVerified)
	return nil
}

func commandTodo(args []string) error {
	if len(args) == 0 {
		return errors.New("usage: tick todo [list|add|done|edit|rm|restore]")
	}
	sub := args[0]
	switch sub {
	case "list":
		return todoList(args[1:])
	case "add":
		return todoAdd(args[1:])
	case "done":
		return todoDone(args[1:])
	case "edit":
		return todoEdit(args[1:])
	case "rm":
		return todoRemove(args[1:])
	case "restore":
		return todoRestore(args[1:])
	default:
		return fmt.Errorf("unknown todo command: %s", sub)
	}
}

func todoList(args []string) error {
	fs := flag.NewFlagSet("todo list", flag.ExitOnError)
	status := fs.String("status", "", "Filter by status (all|active|completed)")
	search := fs.String("q", "", "Search text")
	sortBy := fs.String("sort", "", "Sort order (newest|oldest|alpha)")
	page := fs.Int("page", 0, "Page number")
	perPage := fs.Int("per-page", 0, "Items per page")
	fs.Parse(args)

	cfg, client, err := requireSession()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	list, err := client.ListTodos(ctx, cfg.AccessToken, apiclient.ListTodosOptions{
		Status:  *status,
		Search:  *search,
		Sort:    *sortBy,
		Page:    *page,
		PerPage: *perPage,
	})
	if err != nil {
		return err
	}
	for _, item := range list.Items {
		marker := " "
		if item.Completed {
			marker = "x"
		}
		fmt.Printf("[%s] %s\tv%d\t%s\n", marker, item.ID, item.Version, item.Text)
	}
	fmt.Printf("page %d, %d of %d total\n", list.Page, len(list.Items), list.Total)
	return nil
}

func todoAdd(args []string) error {
	fs := flag.NewFlagSet("todo add", flag.ExitOnError)
	text := fs.String("text", "", "Todo text")
	done := fs.Bool("done", false, "Create already completed")
	fs.Parse(args)

	if strings.TrimSpace(*text) == "" {
		return errors.New("--text is required")
	}

	cfg, client, err := requireSession()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	created, err := client.CreateTodo(ctx, cfg.AccessToken, *text, *done)
	if err != nil {
		return err
	}
	fmt.Printf("todo created: %s\n", created.ID)
	return nil
}

// setCompleted flips the flag through the version guard: fetch the current
// record, then update against the version just read. A concurrent writer
// still wins and surfaces as a conflict.
func setCompleted(id string, completed bool) error {
	cfg, client, err := requireSession()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	current, err := client.GetTodo(ctx, cfg.AccessToken, id)
	if err != nil {
		return err
	}
	updated, err := client.UpdateTodo(ctx, cfg.AccessToken, id, apiclient.UpdateTodoInput{
		Version:   current.Version,
		Completed: &completed,
	})
	if err != nil {
		return conflictHint(err)
	}
	state := "active"
	if updated.Completed {
		state = "completed"
	}
	fmt.Printf("todo %s is now %s (v%d)\n", updated.ID, state, updated.Version)
	return nil
}

func todoDone(args []string) error {
	fs := flag.NewFlagSet("todo done", flag.ExitOnError)
	id := fs.String("id", "", "Todo identifier")
	undo := fs.Bool("undo", false, "Mark active instead of completed")
	fs.Parse(args)

	if strings.TrimSpace(*id) == "" {
		return errors.New("--id is required")
	}
	return setCompleted(*id, !*undo)
}

func todoEdit(args []string) error {
	fs := flag.NewFlagSet("todo edit", flag.ExitOnError)
	id := fs.String("id", "", "Todo identifier")
	text := fs.String("text", "", "New text")
	version := fs.Int64("version", 0, "Version to update against (default: current)")
	fs.Parse(args)

	if strings.TrimSpace(*id) == "" {
		return errors.New("--id is required")
	}
	if strings.TrimSpace(*text) == "" {
		return errors.New("--text is required")
	}

	cfg, client, err := requireSession()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	guard := *version
	if guard <= 0 {
		current, err := client.GetTodo(ctx, cfg.AccessToken, *id)
		if err != nil {
			return err
		}
		guard = current.Version
	}
	updated, err := client.UpdateTodo(ctx, cfg.AccessToken, *id, apiclient.UpdateTodoInput{
		Version: guard,
		Text:    text,
	})
	if err != nil {
		return conflictHint(err)
	}
	fmt.Printf("todo updated: %s (v%d)\n", updated.ID, updated.Version)
	return nil
}

func todoRemove(args []string) error {
	fs := flag.NewFlagSet("todo rm", flag.ExitOnError)
	id := fs.String("id", "", "Todo identifier")
	fs.Parse(args)

	if strings.TrimSpace(*id) == "" {
		return errors.New("--id is required")
	}

	cfg, client, err := requireSession()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := client.DeleteTodo(ctx, cfg.AccessToken, *id); err != nil {
		return err
	}
	fmt.Println("todo deleted")
	return nil
}

func todoRestore(args []string) error {
	fs := flag.NewFlagSet("todo restore", flag.ExitOnError)
	id := fs.String("id", "", "Todo identifier")
	fs.Parse(args)

	if strings.TrimSpace(*id) == "" {
		return errors.New("--id is required")
	}

	cfg, client, err := requireSession()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	restored, err := client.RestoreTodo(ctx, cfg.AccessToken, *id)
	if err != nil {
		return err
	}
	fmt.Printf("todo restored: %s (v%d)\n", restored.ID, restored.Version)
	return nil
}

func conflictHint(err error) error {
	var apiErr apiclient.APIError
	if errors.As(err, &apiErr) && apiErr.Status == 409 {
		return fmt.Errorf("%w (the todo changed on the server, list it again and retry)", err)
	}
	return err
}

func requireSession() (cliConfig, *apiclient.Client, error) {
	cfg, err := loadConfig()
	if err != nil {
		return cliConfig{}, nil, err
	}
	if strings.TrimSpace(cfg.AccessToken) == "" {
		return cliConfig{}, nil, errors.New("please login first using 'tick login'")
	}
	client, err := apiclient.New(cfg.APIBaseURL)
	if err != nil {
		return cliConfig{}, nil, err
	}
	return cfg, client, nil
}

func loadConfig() (cliConfig, error) {
	path, err := configPath()
	if err != nil {
		return cliConfig{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cliConfig{APIBaseURL: "http://localhost:8080"}, nil
		}
		return cliConfig{}, err
	}
	var cfg cliConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cliConfig{}, err
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = "http://localhost:8080"
	}
	return cfg, nil
}

func saveConfig(cfg cliConfig) error {
	path, err := configPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func configPath() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "ticklist", "config.json"), nil
}

func printUsage() {
	fmt.Printf("tick CLI %s\n\n", buildVersion)
	fmt.Print(`Usage:
	tick register --email user@example.com [--name "Display Name"] [--password secret] [--api http://localhost:8080]
	tick login --email user@example.com [--password secret] [--api http://localhost:8080]
	tick logout
	tick refresh
	tick whoami
	tick todo list [--status all|active|completed] [--q text] [--sort newest|oldest|alpha] [--page N] [--per-page N]
	tick todo add --text "buy milk" [--done]
	tick todo done --id <todo-id> [--undo]
	tick todo edit --id <todo-id> --text "new text" [--version N]
	tick todo rm --id <todo-id>
	tick todo restore --id <todo-id>
	tick version
`)
}

func printVersion() {
	fmt.Println(strings.TrimSpace(buildVersion))
}
