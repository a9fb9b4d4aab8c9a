// missionctl is the control CLI for missiond.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"missiond/internal/config"
	"missiond/internal/history"
	"missiond/internal/journal"
	"missiond/internal/mission"
	"missiond/internal/projection"
	"missiond/internal/rollup"
	"missiond/internal/store"
	"missiond/internal/versioncheck"
)

// Version is the release this binary was built from.
var Version = "1.0.0"

var configPath = flag.String("config", "", "path to config file")

func main() {
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
		os.Exit(1)
	}

	var err error
	args := flag.Args()[1:]
	switch cmd := flag.Arg(0); cmd {
	case "scan":
		err = cmdScan(os.Stdout, args)
	case "history":
		err = cmdHistory(os.Stdout, args)
	case "config":
		err = cmdConfig(os.Stdout, args)
	case "version":
		err = cmdVersion(os.Stdout, args)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		usage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `missionctl - Control utility for missiond

Usage: missionctl [options] <command> [args]

Commands:
  scan [-player name] [-json]          Replay journal history and show mission progress
  history list [-player] [-kind] [-active] [-limit n]
                                       List archived missions
  history show <player> <mission-id>   Show one archived mission and its log
  history stats [-player name]         Summarize the archive
  history commanders                   List commanders seen
  history prune -days n                Delete finished missions older than n days
  config show                          Print the effective configuration
  config init                          Write the default configuration file
  config import <legacy.json>          Import settings from the legacy plugin
  config validate                      Check the configuration file
  config path                          Print the configuration file location
  version                              Check for a newer release
  help                                 Show this help message

Options:
  -config <path>  Path to config file (default: config.toml in the config directory)`)
}

func resolvePath() string {
	if *configPath != "" {
		return *configPath
	}
	if found := config.FindConfigFile(); found != "" {
		return found
	}
	return config.ConfigPath()
}

func loadConfig() (*config.Config, error) {
	return config.NewLoader(resolvePath()).Load()
}

// scan

func cmdScan(w io.Writer, args []string) error {
	fs := flag.NewFlagSet("scan", flag.ContinueOnError)
	player := fs.String("player", "", "commander to show (default: most recent)")
	asJSON := fs.Bool("json", false, "print the dashboard as JSON")
	dir := fs.String("journal", "", "journal directory (overrides config)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if *dir != "" {
		cfg.Journal.Dir = *dir
	}

	d, res, err := scan(cfg, *player, time.Now())
	if err != nil {
		return err
	}
	if *asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(d)
	}

	fmt.Fprintf(w, "Commander: %s\n", d.Player)
	fmt.Fprintf(w, "Replayed %d files, %d lines (%d skipped)\n\n", res.Files, res.Lines, res.Skipped)
	opts := rollup.TextOptions{Total: cfg.Display.RowTotal, Stats: cfg.Display.RowStats}
	for _, s := range d.Summaries() {
		for _, line := range s.Lines(d.GeneratedAt, opts) {
			fmt.Fprintln(w, line)
		}
		fmt.Fprintln(w)
	}
	return nil
}

// scan replays history and rolls up the estimated active missions of
// player, or of the most recent commander when player is empty.
func scan(cfg *config.Config, player string, now time.Time) (rollup.Dashboard, *history.Result, error) {
	var opts []history.Option
	if cfg.Journal.ValidateEvents {
		v, err := journal.NewValidator()
		if err != nil {
			return rollup.Dashboard{}, nil, err
		}
		opts = append(opts, history.WithValidator(v))
	}
	res, err := history.NewScanner(cfg.Journal.Dir, opts...).Scan(cfg.HistoryCutoff(now))
	if err != nil {
		return rollup.Dashboard{}, nil, err
	}
	if player == "" {
		player = res.LastPlayer
	}
	if player == "" {
		return rollup.Dashboard{}, nil, errors.New("no commander found in the journal history")
	}
	all, ok := res.Store[player]
	if !ok {
		return rollup.Dashboard{}, nil, fmt.Errorf("no history for commander %q", player)
	}

	active := make(mission.Set)
	for _, id := range res.Active[player] {
		if m, ok := all[id]; ok {
			active[id] = m
		}
	}
	s := projection.Project(active, mission.Discard{})
	on := rollup.Enabled{
		Massacre: cfg.Display.Massacre,
		Mining:   cfg.Display.Mining,
		Collect:  cfg.Display.Collect,
		Courier:  cfg.Display.Courier,
	}
	return rollup.Build(player, now, on, s.Massacre, s.Mining, s.Collect, s.Courier), res, nil
}

// history

func openStore() (*store.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if !cfg.Storage.Enabled {
		return nil, errors.New("storage is disabled in the configuration")
	}
	if _, err := os.Stat(cfg.Storage.Path); err != nil {
		return nil, fmt.Errorf("archive not found: %w", err)
	}
	return store.Open(cfg.Storage.Path, time.Duration(cfg.Storage.BusyTimeoutMs)*time.Millisecond)
}

func cmdHistory(w io.Writer, args []string) error {
	if len(args) < 1 {
		return errors.New("usage: missionctl history <list|show|stats|commanders|prune>")
	}
	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()
	return runHistory(context.Background(), w, db, args)
}

func runHistory(ctx context.Context, w io.Writer, db *store.Store, args []string) error {
	switch args[0] {
	case "list":
		fs := flag.NewFlagSet("history list", flag.ContinueOnError)
		var f store.Filter
		fs.StringVar(&f.Player, "player", "", "only this commander")
		fs.StringVar(&f.Kind, "kind", "", "only this category")
		fs.BoolVar(&f.ActiveOnly, "active", false, "only unfinished missions")
		fs.IntVar(&f.Limit, "limit", 50, "maximum rows")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		records, err := db.List(ctx, f)
		if err != nil {
			return err
		}
		printRecords(w, records)
		return nil

	case "show":
		if len(args) < 3 {
			return errors.New("usage: missionctl history show <player> <mission-id>")
		}
		var id int64
		if _, err := fmt.Sscan(args[2], &id); err != nil {
			return fmt.Errorf("invalid mission id %q", args[2])
		}
		r, err := db.Get(ctx, args[1], id)
		if err != nil {
			return err
		}
		acts, err := db.Activities(ctx, args[1], id)
		if err != nil {
			return err
		}
		printRecord(w, r, acts)
		return nil

	case "stats":
		fs := flag.NewFlagSet("history stats", flag.ContinueOnError)
		player := fs.String("player", "", "only this commander")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		st, err := db.Stats(ctx, *player)
		if err != nil {
			return err
		}
		printStats(w, st)
		return nil

	case "commanders":
		cmdrs, err := db.Commanders(ctx)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "COMMANDER\tFIRST SEEN\tLAST SEEN")
		for _, c := range cmdrs {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", c.Name, formatTime(c.FirstSeen), formatTime(c.LastSeen))
		}
		return tw.Flush()

	case "prune":
		fs := flag.NewFlagSet("history prune", flag.ContinueOnError)
		days := fs.Int("days", 0, "age in days")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		if *days <= 0 {
			return errors.New("-days must be positive")
		}
		n, err := db.Prune(ctx, time.Now().AddDate(0, 0, -*days))
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "Pruned %d missions\n", n)
		return nil
	}
	return fmt.Errorf("unknown history command: %s", args[0])
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}

func printRecords(w io.Writer, records []*store.Record) {
	if len(records) == 0 {
		fmt.Fprintln(w, "No missions archived.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCOMMANDER\tKIND\tFACTION\tPROGRESS\tREWARD\tACCEPTED\tSTATUS")
	for _, r := range records {
		status := "active"
		if !r.Active() {
			status = r.FinishReason
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d/%d\t%sM\t%s\t%s\n",
			r.MissionID, r.Player, r.Kind, r.Faction, r.Progress, r.Target,
			rollup.FormatMillions(r.Reward), formatTime(r.AcceptedAt), status)
	}
	tw.Flush()
}

func printRecord(w io.Writer, r *store.Record, acts []store.Activity) {
	fmt.Fprintf(w, "Mission %d (%s)\n", r.MissionID, r.Name)
	fmt.Fprintf(w, "  Commander:   %s\n", r.Player)
	fmt.Fprintf(w, "  Kind:        %s\n", r.Kind)
	fmt.Fprintf(w, "  Faction:     %s\n", r.Faction)
	if r.Destination != "" {
		fmt.Fprintf(w, "  Destination: %s\n", r.Destination)
	}
	fmt.Fprintf(w, "  Progress:    %d/%d\n", r.Progress, r.Target)
	fmt.Fprintf(w, "  Reward:      %sM", rollup.FormatMillions(r.Reward))
	if r.Wing {
		fmt.Fprint(w, " (wing)")
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  Accepted:    %s\n", formatTime(r.AcceptedAt))
	fmt.Fprintf(w, "  Expiry:      %s\n", formatTime(r.Expiry))
	if !r.Active() {
		fmt.Fprintf(w, "  Finished:    %s (%s)\n", formatTime(r.FinishedAt), r.FinishReason)
	}
	if len(acts) == 0 {
		return
	}
	fmt.Fprintln(w, "\nLog:")
	for _, a := range acts {
		fmt.Fprintf(w, "  %s  %-9s %s\n", formatTime(a.At), a.Type, a.Detail)
	}
}

func printStats(w io.Writer, st *store.Stats) {
	fmt.Fprintf(w, "Missions: %d (%d active)\n", st.Total, st.Active)
	fmt.Fprintf(w, "Rewards:  %sM\n", rollup.FormatMillions(st.Rewards))
	if len(st.ByKind) > 0 {
		fmt.Fprintln(w, "\nBy kind:")
		for _, k := range sortedKeys(st.ByKind) {
			fmt.Fprintf(w, "  %-10s %d\n", k, st.ByKind[k])
		}
	}
	if len(st.Finished) > 0 {
		fmt.Fprintln(w, "\nFinished:")
		for _, k := range sortedKeys(st.Finished) {
			fmt.Fprintf(w, "  %-18s %d\n", k, st.Finished[k])
		}
	}
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// config

func cmdConfig(w io.Writer, args []string) error {
	if len(args) < 1 {
		return errors.New("usage: missionctl config <show|init|import|validate|path>")
	}
	path := resolvePath()

	switch args[0] {
	case "path":
		fmt.Fprintln(w, path)
		return nil

	case "show":
		cfg, err := config.NewLoader(path).Load()
		if err != nil {
			return err
		}
		fmt.Fprint(w, cfg.String())
		return nil

	case "init":
		_, created, err := config.LoadOrCreate(path)
		if err != nil {
			return err
		}
		if created {
			fmt.Fprintf(w, "Wrote default configuration to %s\n", path)
		} else {
			fmt.Fprintf(w, "Configuration already exists at %s\n", path)
		}
		return nil

	case "import":
		if len(args) < 2 {
			return errors.New("usage: missionctl config import <legacy.json>")
		}
		return importLegacy(w, args[1], path)

	case "validate":
		cfg, err := config.Load(path)
		if err != nil {
			return err
		}
		problems := config.Check(cfg)
		for _, p := range problems {
			level := "error"
			if p.IsWarning() {
				level = "warning"
			}
			fmt.Fprintf(w, "%s: %s: %s\n", level, p.Field, p.Message)
		}
		if problems.HasErrors() {
			return config.ErrInvalidConfig
		}
		fmt.Fprintln(w, "Configuration is valid.")
		return nil
	}
	return fmt.Errorf("unknown config command: %s", args[0])
}

func importLegacy(w io.Writer, src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode %s: %w", src, err)
	}
	if !config.IsLegacyConfig(raw) {
		return fmt.Errorf("%s holds no legacy plugin settings", src)
	}
	cfg, err := config.MigrateLegacyConfig(raw)
	if err != nil {
		return err
	}
	if err := config.SaveConfig(cfg, dst); err != nil {
		return err
	}
	fmt.Fprintf(w, "Imported %s into %s\n", src, dst)
	return nil
}

// version

func cmdVersion(w io.Writer, args []string) error {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	offline := fs.Bool("offline", false, "print the version without checking for updates")
	if err := fs.Parse(args); err != nil {
		return err
	}
	fmt.Fprintf(w, "missionctl %s\n", Version)
	if *offline {
		return nil
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	info := versioncheck.New(versioncheck.Config{
		Current:     Version,
		URL:         cfg.VersionCheck.URL,
		DownloadURL: cfg.VersionCheck.DownloadURL,
		Timeout:     cfg.VersionCheckTimeout(),
	}).Check(context.Background())

	fmt.Fprintf(w, "Latest:  %s (%s)\n", info.Latest, strings.ToLower(string(info.Status)))
	if info.Status == versioncheck.StatusOutdated {
		fmt.Fprintf(w, "Download: %s\n", info.LatestURL)
	}
	return nil
}
