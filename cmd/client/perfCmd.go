package client

import (
	"encoding/csv"
	"fmt"
	"github.com/ValentinKolb/uio/cmd/util"
	"github.com/ValentinKolb/uio/ipc/client"
	"github.com/ValentinKolb/uio/ipc/common"
	gometrics "github.com/rcrowley/go-metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"log"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

var (
	perfTestCmd = &cobra.Command{
		Use:     "perf",
		Short:   "Performance testing tool for uio servers",
		Long:    "Opens connections in parallel, each announces itself once and closes again. The round trip of one connection (connect, announce, accepted, close) is measured.",
		RunE:    runPerf,
		PreRunE: processPerfConfig,
	}
	perfConnections = 10
	perfRounds      = 1000
	perfNamePrefix  = "__perf"

	// percentiles reported for every timer
	perfPercentiles = []float64{0.5, 0.9, 0.99}
)

func init() {
	// add flags
	key := "connections"
	perfTestCmd.Flags().Int(key, 10, util.WrapString("Number of connections that run in parallel"))
	key = "rounds"
	perfTestCmd.Flags().Int(key, 1000, util.WrapString("How many connect-announce-close rounds every connection performs"))
	key = "csv"
	perfTestCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
}

func processPerfConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// Read the configuration from the command line flags and environment variables
	perfConnections = viper.GetInt("connections")
	perfRounds = viper.GetInt("rounds")

	if perfConnections <= 0 || perfRounds <= 0 {
		return fmt.Errorf("connections and rounds must be positive")
	}
	return nil
}

// perfResult is the outcome of one benchmark
type perfResult struct {
	test     string
	timer    gometrics.Timer
	errors   int64
	duration time.Duration
}

func runPerf(_ *cobra.Command, _ []string) error {
	fmt.Println("Performance testing tool for uio servers")

	// Print configuration
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println(clientConfig.String())
	fmt.Printf("Serializer: %s\n", viper.GetString("serializer"))
	fmt.Printf("Connections: %d\n", perfConnections)
	fmt.Printf("Rounds: %d\n", perfRounds)
	fmt.Println()

	fmt.Println("starting tests...")

	results := []perfResult{
		benchmark("announce", func(worker, round int) error {
			c, err := client.Dial(*clientConfig, clientSerializer)
			if err != nil {
				return err
			}
			defer c.Close()
			return c.Announce(fmt.Sprintf("%s-%d-%d", perfNamePrefix, worker, round))
		}),
	}

	for _, r := range results {
		printResult(r)
	}

	// Write results to csv if specified
	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, results, clientConfig); err != nil {
			return fmt.Errorf("failed to export results to CSV: %v", err)
		}
		fmt.Println("Export complete")
	}

	return nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// benchmark runs op perfRounds times on each of perfConnections goroutines and records every round trip
func benchmark(test string, op func(worker, round int) error) perfResult {
	timer := gometrics.NewTimer()
	var errCount int64
	var wg sync.WaitGroup

	start := time.Now()
	for w := 0; w < perfConnections; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for round := 0; round < perfRounds; round++ {
				t := time.Now()
				if err := op(worker, round); err != nil {
					atomic.AddInt64(&errCount, 1)
					log.Printf("(%s) - error in round %d: %v\n", test, round, err)
					continue
				}
				timer.UpdateSince(t)
			}
		}(w)
	}
	wg.Wait()
	timer.Stop()

	return perfResult{
		test:     test,
		timer:    timer,
		errors:   errCount,
		duration: time.Since(start),
	}
}

// opsPerSec returns the successful operations per second of the whole run
func (r perfResult) opsPerSec() float64 {
	if r.duration <= 0 {
		return 0
	}
	return float64(r.timer.Count()) / r.duration.Seconds()
}

// printResult prints the result of a benchmark in a formatted way
func printResult(r perfResult) {
	if r.timer.Count() == 0 {
		fmt.Printf("%-20sno successful rounds (%d errors)\n", r.test, r.errors)
		return
	}

	ps := r.timer.Percentiles(perfPercentiles)
	fmt.Printf("%-20smean %s\tp50 %s\tp90 %s\tp99 %s\t%.0f ops/sec\t%d errors\n",
		r.test,
		time.Duration(r.timer.Mean()),
		time.Duration(ps[0]),
		time.Duration(ps[1]),
		time.Duration(ps[2]),
		r.opsPerSec(),
		r.errors,
	)
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, results []perfResult, config *common.ClientConfig) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	// Write header
	header := []string{
		"Test", "Count", "Errors", "MeanNs", "P50Ns", "P90Ns", "P99Ns", "MaxNs", "OpsPerSec",
		"SocketPath", "Transport", "Serializer", "Connections", "Rounds",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	// Write test results
	for _, r := range results {
		ps := r.timer.Percentiles(perfPercentiles)
		row := []string{
			r.test,
			strconv.FormatInt(r.timer.Count(), 10),
			strconv.FormatInt(r.errors, 10),
			fmt.Sprintf("%.0f", r.timer.Mean()),
			fmt.Sprintf("%.0f", ps[0]),
			fmt.Sprintf("%.0f", ps[1]),
			fmt.Sprintf("%.0f", ps[2]),
			strconv.FormatInt(r.timer.Max(), 10),
			fmt.Sprintf("%.0f", r.opsPerSec()),
			config.SocketPath,
			string(config.Transport),
			viper.GetString("serializer"),
			strconv.Itoa(perfConnections),
			strconv.Itoa(perfRounds),
		}

		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for test %s: %v", r.test, err)
		}
	}

	return writer.Error()
}
