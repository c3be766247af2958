package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/kadirbelkuyu/dbsync/internal/config"
	"github.com/kadirbelkuyu/dbsync/internal/profiles"
)

const defaultConfigDir = "configs"

// Application is the interactive front end over saved sync profiles.
type Application struct {
	reader         *bufio.Reader
	out            io.Writer
	printBanner    func()
	profileManager *profiles.Manager
	service        *Service
}

func NewApplication(r io.Reader, out io.Writer, configDir string, printBanner func()) *Application {
	if r == nil {
		r = os.Stdin
	}
	if out == nil {
		out = os.Stdout
	}
	if configDir == "" {
		configDir = defaultConfigDir
	}

	var reader *bufio.Reader
	if br, ok := r.(*bufio.Reader); ok {
		reader = br
	} else {
		reader = bufio.NewReader(r)
	}

	return &Application{
		reader:         reader,
		out:            out,
		printBanner:    printBanner,
		profileManager: profiles.NewManager(configDir),
		service:        NewService(out),
	}
}

func (a *Application) RunInteractive(ctx context.Context) error {
	if a.printBanner != nil {
		a.printBanner()
	}
	fmt.Fprintln(a.out, "Interactive mode is ready. Press Ctrl+C or choose option 5 to exit.")

	for {
		fmt.Fprintln(a.out)
		fmt.Fprintln(a.out, "Select an operation:")
		fmt.Fprintln(a.out, "  1) Run a reconciliation cycle")
		fmt.Fprintln(a.out, "  2) Validate a profile")
		fmt.Fprintln(a.out, "  3) Replay a transaction log")
		fmt.Fprintln(a.out, "  4) List profiles")
		fmt.Fprintln(a.out, "  5) Exit")

		fmt.Fprint(a.out, "\nChoice: ")
		choice, err := a.readLine()
		if err != nil {
			return a.exit(err)
		}

		var opErr error
		switch strings.ToLower(strings.TrimSpace(choice)) {
		case "1", "sync":
			opErr = a.handleSync(ctx)
		case "2", "validate":
			opErr = a.handleValidate()
		case "3", "replay":
			opErr = a.handleReplay(ctx)
		case "4", "list":
			opErr = a.handleList()
		case "5", "exit", "quit", "q":
			return a.exit(io.EOF)
		default:
			fmt.Fprintln(a.out, "Invalid selection. Try again.")
			continue
		}

		if opErr != nil {
			if errors.Is(opErr, io.EOF) {
				return a.exit(opErr)
			}
			fmt.Fprintf(a.out, "Operation failed: %v\n", opErr)
		}
	}
}

func (a *Application) exit(err error) error {
	if !errors.Is(err, io.EOF) {
		return err
	}
	fmt.Fprintln(a.out)
	fmt.Fprintln(a.out, "Exiting interactive mode.")
	return nil
}

func (a *Application) handleSync(ctx context.Context) error {
	cfg, err := a.selectProfile()
	if err != nil {
		return err
	}
	verbose, err := a.promptYesNo("Enable verbose logging?", false)
	if err != nil {
		return err
	}
	output, err := a.promptString("Write transactions to (leave blank to skip)", false)
	if err != nil {
		return err
	}
	return a.service.Sync(ctx, cfg, SyncOptions{Verbose: verbose, Output: output})
}

func (a *Application) handleValidate() error {
	cfg, err := a.selectProfile()
	if err != nil {
		return err
	}
	return a.service.Validate(cfg)
}

func (a *Application) handleReplay(ctx context.Context) error {
	cfg, err := a.selectProfile()
	if err != nil {
		return err
	}
	transactions, err := a.promptStringWithDefault("Transaction log", cfg.Source.Transactions)
	if err != nil {
		return err
	}
	dryRun, err := a.promptYesNo("Dry run?", true)
	if err != nil {
		return err
	}
	return a.service.Replay(ctx, cfg, ReplayOptions{Transactions: transactions, DryRun: dryRun})
}

func (a *Application) handleList() error {
	list, err := a.profileManager.List("")
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Fprintf(a.out, "No profiles in %s\n", a.profileManager.Directory())
		return nil
	}

	fmt.Fprintf(a.out, "\nProfiles in %s:\n", a.profileManager.Directory())
	fmt.Fprintln(a.out, strings.Repeat("=", 36))
	for i, p := range list {
		fmt.Fprintf(a.out, "%d. %s (%s, %s, %d tables)\n", i+1, p.Name, p.Type, p.Mode, p.Tables)
	}
	return nil
}

func (a *Application) selectProfile() (*config.Config, error) {
	list, err := a.profileManager.List("")
	if err != nil {
		return nil, err
	}

	if len(list) == 0 {
		path, err := a.promptString("Config file", true)
		if err != nil {
			return nil, err
		}
		return config.LoadConfig(path)
	}

	fmt.Fprintln(a.out, "\nSaved profiles:")
	for i, p := range list {
		fmt.Fprintf(a.out, "  %d) %s (%s)\n", i+1, p.Name, p.Type)
	}

	for {
		choice, err := a.promptInt("Profile", 1)
		if err != nil {
			return nil, err
		}
		if choice < 1 || choice > len(list) {
			fmt.Fprintln(a.out, "Invalid selection. Try again.")
			continue
		}
		return a.profileManager.Load(list[choice-1].Path)
	}
}

func (a *Application) promptString(label string, required bool) (string, error) {
	for {
		fmt.Fprintf(a.out, "%s: ", label)
		input, err := a.readLine()
		if err != nil {
			return "", err
		}
		if input == "" && required {
			fmt.Fprintln(a.out, "Please provide a value.")
			continue
		}
		return input, nil
	}
}

func (a *Application) promptStringWithDefault(label, defaultValue string) (string, error) {
	fmt.Fprintf(a.out, "%s [%s]: ", label, defaultValue)
	input, err := a.readLine()
	if err != nil {
		return "", err
	}
	if input == "" {
		return defaultValue, nil
	}
	return input, nil
}

func (a *Application) promptYesNo(question string, defaultValue bool) (bool, error) {
	suffix := "(y/N)"
	if defaultValue {
		suffix = "(Y/n)"
	}

	for {
		fmt.Fprintf(a.out, "%s %s ", question, suffix)
		input, err := a.readLine()
		if err != nil {
			return false, err
		}

		if input == "" {
			return defaultValue, nil
		}

		switch strings.ToLower(input) {
		case "y", "yes":
			return true, nil
		case "n", "no":
			return false, nil
		default:
			fmt.Fprintln(a.out, "Please answer with y or n.")
		}
	}
}

func (a *Application) promptInt(question string, defaultValue int) (int, error) {
	for {
		fmt.Fprintf(a.out, "%s [%d]: ", question, defaultValue)
		input, err := a.readLine()
		if err != nil {
			return 0, err
		}

		if input == "" {
			return defaultValue, nil
		}

		value, err := strconv.Atoi(input)
		if err != nil {
			fmt.Fprintln(a.out, "Please enter a valid number.")
			continue
		}

		return value, nil
	}
}

func (a *Application) readLine() (string, error) {
	line, err := a.reader.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && line != "" {
			return strings.TrimSpace(line), nil
		}
		return "", err
	}
	return strings.TrimSpace(line), nil
}
