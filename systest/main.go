package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"text/tabwriter"
	"time"

	"go.uber.org/zap"

	"savi/m/internal/client"
	"savi/m/internal/config"
	"savi/m/internal/logger"
	"savi/m/internal/systest"
)

func main() {
	cfg := config.Load()

	apiURL := flag.String("api", cfg.APIURL, "backend API base URL")
	username := flag.String("user", cfg.AdminUsername, "username to log in with")
	password := flag.String("password", cfg.AdminPassword, "password to log in with")
	only := flag.String("check", "", "run a single check by id")
	env := flag.Bool("env", false, "also report environment settings")
	asJSON := flag.Bool("json", false, "print results as JSON")
	pause := flag.Duration("pause", 300*time.Millisecond, "pause between checks")
	flag.Parse()

	logg, err := logger.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logg.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	api := client.New(*apiURL, cfg.HTTPTimeout, logg)
	if *username != "" {
		if _, err := api.Login(ctx, *username, *password); err != nil {
			logg.Warn("login failed, authenticated checks will fail", zap.Error(err))
		}
	}

	runner := systest.NewRunner(api, logg).WithPause(*pause)
	var results []systest.Result
	if *only != "" {
		results = []systest.Result{runner.RunOne(ctx, *only)}
	} else {
		results = runner.Run(ctx)
	}
	summary := systest.Summarize(results)

	var envVars []systest.EnvVar
	if *env {
		envVars = systest.CheckEnvironment(ctx, api, *apiURL)
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(map[string]any{"results": results, "summary": summary, "environment": envVars})
	} else {
		printResults(results, summary, envVars)
	}

	if !summary.OK() {
		os.Exit(1)
	}
}

func printResults(results []systest.Result, summary systest.Summary, envVars []systest.EnvVar) {
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CHECK\tSTATUS\tDURATION\tMESSAGE\tDETAILS")
	for _, r := range results {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.ID, r.Status, r.Duration.Round(time.Millisecond), r.Message, r.Details)
	}
	_ = tw.Flush()

	if len(envVars) > 0 {
		fmt.Println()
		tw = tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "SETTING\tSTATUS\tVALUE\tDESCRIPTION")
		for _, v := range envVars {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", v.Name, v.Status, v.Value, v.Description)
		}
		_ = tw.Flush()
	}

	fmt.Printf("\n%d passed, %d failed\n", summary.Passed, summary.Failed)
}
