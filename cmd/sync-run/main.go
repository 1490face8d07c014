package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/staffexpense_sync/backendsync"
	"bitbucket.org/mmdatafocus/staffexpense_sync/config"
	"bitbucket.org/mmdatafocus/staffexpense_sync/models"
	"bitbucket.org/mmdatafocus/staffexpense_sync/reports"
)

func main() {
	employeeID := flag.String("employee", "", "Required: local employee id")
	dbPath := flag.String("db", "", "Optional: sqlite database path (defaults to LOCAL_DB_PATH)")
	direction := flag.String("direction", "both", "push, pull or both")
	reportOut := flag.String("report", "", "Optional: write the monthly expense report to this xlsx path")
	reportMonth := flag.Int("month", int(time.Now().Month()), "Report month (1-12)")
	reportYear := flag.Int("year", time.Now().Year(), "Report year")
	flag.Parse()

	if strings.TrimSpace(*employeeID) == "" {
		fmt.Fprintln(os.Stderr, "--employee is required")
		os.Exit(1)
	}
	switch *direction {
	case "push", "pull", "both":
	default:
		fmt.Fprintln(os.Stderr, "--direction must be push, pull or both")
		os.Exit(1)
	}

	logger := config.GetLogger()

	db, err := config.OpenDatabase(*dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "opening database: %v\n", err)
		os.Exit(1)
	}
	if err := models.Migrate(db); err != nil {
		fmt.Fprintf(os.Stderr, "migrating database: %v\n", err)
		os.Exit(1)
	}

	cfg := backendsync.ConfigFromEnv()
	engine, err := backendsync.NewEngine(db, cfg, logger, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "building sync engine: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	exitCode := 0

	if *direction == "push" || *direction == "both" {
		result := engine.SyncToBackend(ctx, *employeeID)
		printResult("push", result)
		if !result.Success {
			exitCode = 1
		}
	}
	if *direction == "pull" || *direction == "both" {
		result := engine.SyncFromBackend(ctx, *employeeID)
		printResult("pull", result)
		if !result.Success {
			exitCode = 1
		}
	}

	if strings.TrimSpace(*reportOut) != "" {
		err := reports.ExportMonthlyExpenseReport(ctx, db, *employeeID,
			time.Month(*reportMonth), *reportYear, *reportOut)
		if err != nil {
			fmt.Fprintf(os.Stderr, "exporting report: %v\n", err)
			exitCode = 1
		} else {
			fmt.Printf("report written to %s\n", *reportOut)
		}
	}

	os.Exit(exitCode)
}

func printResult(direction string, result *backendsync.SyncResult) {
	body, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		fmt.Printf("%s: success=%v error=%s\n", direction, result.Success, result.Error)
		return
	}
	fmt.Printf("%s: %s\n", direction, body)
}
