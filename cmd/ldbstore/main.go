// Command ldbstore is a thin interactive shell over pkg/client, grounded
// on docdb's cmd/docdb flag-based startup and its cmd/docdbsh REPL
// pattern, collapsed into one process since this store has no IPC
// server: the shell talks to an in-process *client.Store directly.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mattn/go-runewidth"
	"github.com/peterh/liner"

	"github.com/kartikbazzad/ldbstore/internal/config"
	"github.com/kartikbazzad/ldbstore/internal/document"
	"github.com/kartikbazzad/ldbstore/internal/logger"
	"github.com/kartikbazzad/ldbstore/pkg/client"
)

func main() {
	dataDir := flag.String("data-dir", "./data", "Directory for table files and the catalog")
	logLevel := flag.String("log-level", "info", "Log verbosity: debug, info, warn, error")
	ioTimeoutMS := flag.Int("io-timeout-ms", 0, "Override the default file I/O timeout, in milliseconds (0 = use default)")
	autoSyncIntervalMS := flag.Int("autosync-interval-ms", 0, "Override the auto-sync flush interval, in milliseconds (0 = use default)")
	flag.Parse()

	cfg := config.DefaultConfig()
	cfg.RootDir = *dataDir
	if *ioTimeoutMS > 0 {
		cfg.IOTimeout = time.Duration(*ioTimeoutMS) * time.Millisecond
	}
	if *autoSyncIntervalMS > 0 {
		cfg.AutoSync.Interval = time.Duration(*autoSyncIntervalMS) * time.Millisecond
	}

	log := logger.New(os.Stderr, parseLevel(*logLevel), "ldbstore")

	store, err := client.Open(cfg, log, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open store: %v\n", err)
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		_ = store.Close()
		os.Exit(0)
	}()

	runShell(store, log)
	_ = store.Close()
}

func parseLevel(s string) logger.Level {
	switch s {
	case "debug":
		return logger.LevelDebug
	case "warn":
		return logger.LevelWarn
	case "error":
		return logger.LevelError
	default:
		return logger.LevelInfo
	}
}

func runShell(store *client.Store, log *logger.Logger) {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	fmt.Println("ldbstore interactive shell. Type .help for commands, .exit to quit.")
	for {
		input, err := line.Prompt("ldbstore> ")
		if err != nil {
			return
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)
		if !dispatch(store, log, input) {
			return
		}
	}
}

// dispatch executes one shell line and returns false when the shell
// should exit.
func dispatch(store *client.Store, log *logger.Logger, input string) bool {
	fields := strings.Fields(input)
	cmd := fields[0]
	args := fields[1:]

	switch cmd {
	case ".exit", ".quit":
		return false
	case ".help":
		printHelp()
	case ".tables":
		printTable(store.ListTables())
	case ".create":
		runErr(store.CreateTable(arg(args, 0), client.CreateOptions{}))
	case ".drop":
		runErr(store.DeleteTable(arg(args, 0)))
	case ".count":
		n, err := store.Count(arg(args, 0))
		runErr(err)
		if err == nil {
			fmt.Println(n)
		}
	case ".verify":
		res, err := store.VerifyCount(arg(args, 0))
		runErr(err)
		if err == nil {
			fmt.Printf("metadata=%d actual=%d match=%v\n", res.Metadata, res.Actual, res.Match)
		}
	case ".read":
		records, err := store.Read(arg(args, 0), client.ReadOptions{})
		runErr(err)
		if err == nil {
			printRecords(records)
		}
	case ".insert":
		rec, err := parseRecord(strings.Join(args[1:], " "))
		if err != nil {
			runErr(err)
			return true
		}
		runErr(store.Insert(arg(args, 0), []document.Record{rec}))
	case ".begin":
		runErr(store.BeginTransaction())
	case ".commit":
		runErr(store.Commit())
	case ".rollback":
		runErr(store.Rollback())
	case ".stats":
		stats := store.CacheStats()
		fmt.Printf("cache size=%d dirty=%d\n", stats.Size, stats.DirtyCount)
	case ".errors":
		for _, e := range store.ErrorHistory() {
			fmt.Println(e.Error())
		}
	default:
		log.Warn("unknown command: %s", cmd)
	}
	return true
}

func arg(args []string, i int) string {
	if i < len(args) {
		return args[i]
	}
	return ""
}

func parseRecord(raw string) (document.Record, error) {
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, err
	}
	rec := make(document.Record, len(m))
	for k, v := range m {
		rec[k] = document.FromRaw(v)
	}
	return rec, nil
}

func runErr(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
}

func printHelp() {
	fmt.Println(`.tables                         list tables
.create <name>                  create an empty table
.drop <name>                    delete a table
.count <name>                   row count
.verify <name>                  compare catalog count against disk
.read <name>                    dump every record
.insert <name> <json>           insert one record
.begin / .commit / .rollback    transaction control
.stats                          cache size and dirty count
.errors                         recent error history
.exit                           quit`)
}

func printTable(names []string) {
	width := 0
	for _, n := range names {
		if w := runewidth.StringWidth(n); w > width {
			width = w
		}
	}
	for _, n := range names {
		fmt.Println(n + strings.Repeat(" ", width-runewidth.StringWidth(n)))
	}
}

func printRecords(records []document.Record) {
	for _, rec := range records {
		data, _ := json.Marshal(rawify(rec))
		fmt.Println(string(data))
	}
}

func rawify(rec document.Record) map[string]interface{} {
	out := make(map[string]interface{}, len(rec))
	for k, v := range rec {
		out[k] = v.Raw()
	}
	return out
}
