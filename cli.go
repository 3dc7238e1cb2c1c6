package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"sort"
	"strconv"

	"github.com/joltfun/btcflow/api"
)

func stop(args []string, c *api.Client) {
	const usage = `
btcflow stop

Stop the program.
`
	f := flag.NewFlagSet(args[0], flag.ExitOnError)
	f.Usage = func() {
		fmt.Fprintf(os.Stderr, usage)
		f.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\n")
	}
	if err := f.Parse(args[1:]); err != nil {
		log.Fatal(err)
	}
	if err := c.Stop(); err != nil {
		log.Fatal(err)
	}
}

func status(args []string, c *api.Client) {
	const usage = `
btcflow status

Show application status:

	estimates: Whether or not a fee schedule is available.
	mempool  : Whether or not mempool data is available.
	snapshots: Number of snapshots in the retained log.

`
	f := flag.NewFlagSet(args[0], flag.ExitOnError)
	f.Usage = func() {
		fmt.Fprintf(os.Stderr, usage)
		f.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\n")
	}
	if err := f.Parse(args[1:]); err != nil {
		log.Fatal(err)
	}

	result, err := c.Status()
	if err != nil {
		log.Fatal(err)
	}

	for _, k := range []string{"estimates", "mempool", "snapshots"} {
		fmt.Printf("%-10s: %s\n", k, result[k])
	}
}

func estimates(args []string, c *api.Client) {
	const usage = `
btcflow estimates

Show the current fee schedule as JSON.
`
	f := flag.NewFlagSet(args[0], flag.ExitOnError)
	f.Usage = func() {
		fmt.Fprintf(os.Stderr, usage)
		f.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\n")
	}
	if err := f.Parse(args[1:]); err != nil {
		log.Fatal(err)
	}

	result, err := c.Estimates()
	if err != nil {
		log.Fatal(err)
	}
	printJSON(result)
}

func estimateFee(args []string, c *api.Client) {
	const usage = `
btcflow estimatefee TARGET PROB

Returns the recommended fee rate (sat/vB) for confirmation within TARGET
minutes with probability PROB.

`
	f := flag.NewFlagSet(args[0], flag.ExitOnError)
	f.Usage = func() {
		fmt.Fprintf(os.Stderr, usage)
		f.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\n")
	}
	if err := f.Parse(args[1:]); err != nil {
		log.Fatal(err)
	}
	if f.NArg() != 2 {
		f.Usage()
		os.Exit(1)
	}
	target, err := strconv.ParseInt(f.Arg(0), 10, 64)
	if err != nil {
		log.Fatal(err)
	}
	prob, err := strconv.ParseFloat(f.Arg(1), 64)
	if err != nil {
		log.Fatal(err)
	}

	result, err := c.EstimateFee(target, prob)
	if err != nil {
		log.Fatal(err)
	}
	printJSON(result)
}

func mempool(args []string, c *api.Client) {
	const usage = `
btcflow mempool

Show the resident mempool weight (weight units) per fee-rate bucket.

`
	f := flag.NewFlagSet(args[0], flag.ExitOnError)
	f.Usage = func() {
		fmt.Fprintf(os.Stderr, usage)
		f.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\n")
	}
	if err := f.Parse(args[1:]); err != nil {
		log.Fatal(err)
	}

	result, err := c.Mempool()
	if err != nil {
		log.Fatal(err)
	}
	for _, k := range sortedRateKeys(result) {
		fmt.Printf("%10s: %12.0f\n", k, result[k])
	}
}

func flowRates(args []string, c *api.Client) {
	const usage = `
btcflow flow

Show the per-bucket inflow and drain rates (weight units per minute).

`
	f := flag.NewFlagSet(args[0], flag.ExitOnError)
	f.Usage = func() {
		fmt.Fprintf(os.Stderr, usage)
		f.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\n")
	}
	if err := f.Parse(args[1:]); err != nil {
		log.Fatal(err)
	}

	result, err := c.Flow()
	if err != nil {
		log.Fatal(err)
	}
	for _, direction := range []string{"inflow", "drain"} {
		fmt.Println(direction + ":")
		rates := result[direction]
		for _, k := range sortedRateKeys(rates) {
			fmt.Printf("%10s: %10.2f\n", k, rates[k])
		}
	}
}

func scores(args []string, c *api.Client) {
	const usage = `
btcflow scores

Show prediction scores - the proportion of transactions which drained within
their predicted time, as a function of the prediction horizon (minutes).

`
	f := flag.NewFlagSet(args[0], flag.ExitOnError)
	f.Usage = func() {
		fmt.Fprintf(os.Stderr, usage)
		f.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\n")
	}
	if err := f.Parse(args[1:]); err != nil {
		log.Fatal(err)
	}

	result, err := c.Scores()
	if err != nil {
		log.Fatal(err)
	}

	attained, exceeded := result["attained"], result["exceeded"]
	horizons := make([]int64, 0, len(attained))
	for k := range attained {
		h, err := strconv.ParseInt(k, 10, 64)
		if err != nil {
			log.Fatal(err)
		}
		horizons = append(horizons, h)
	}
	sort.Slice(horizons, func(i, j int) bool { return horizons[i] < horizons[j] })

	for _, h := range horizons {
		k := strconv.FormatInt(h, 10)
		numAttained := attained[k]
		numTotal := numAttained + exceeded[k]
		if numTotal == 0 {
			fmt.Printf("%5d: no data\n", h)
			continue
		}
		fmt.Printf("%5d: %5.3f (%.0f/%.0f)\n", h, numAttained/numTotal, numAttained, numTotal)
	}
}

func history(args []string, c *api.Client) {
	const usage = `
btcflow history START END

Show past fee schedules with timestamps within [START, END] (unix seconds),
as JSON.

`
	f := flag.NewFlagSet(args[0], flag.ExitOnError)
	f.Usage = func() {
		fmt.Fprintf(os.Stderr, usage)
		f.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\n")
	}
	if err := f.Parse(args[1:]); err != nil {
		log.Fatal(err)
	}
	if f.NArg() != 2 {
		f.Usage()
		os.Exit(1)
	}
	start, err := strconv.ParseInt(f.Arg(0), 10, 64)
	if err != nil {
		log.Fatal(err)
	}
	end, err := strconv.ParseInt(f.Arg(1), 10, 64)
	if err != nil {
		log.Fatal(err)
	}

	result, err := c.History(start, end)
	if err != nil {
		log.Fatal(err)
	}
	printJSON(result)
}

func pause(args []string, c *api.Client) {
	const usage = `
btcflow pause

Pause the compute cycle. Data collection still continues, and the app RPC
server still serves the last-published schedule.
`
	f := flag.NewFlagSet(args[0], flag.ExitOnError)
	f.Usage = func() {
		fmt.Fprintf(os.Stderr, usage)
		f.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\n")
	}
	if err := f.Parse(args[1:]); err != nil {
		log.Fatal(err)
	}
	if err := c.Pause(); err != nil {
		log.Fatal(err)
	}
}

func unpause(args []string, c *api.Client) {
	const usage = `
btcflow unpause

Resume the compute cycle after pausing.
`
	f := flag.NewFlagSet(args[0], flag.ExitOnError)
	f.Usage = func() {
		fmt.Fprintf(os.Stderr, usage)
		f.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\n")
	}
	if err := f.Parse(args[1:]); err != nil {
		log.Fatal(err)
	}
	if err := c.Unpause(); err != nil {
		log.Fatal(err)
	}
}

func setDebug(args []string, c *api.Client) {
	const usage = `
btcflow setdebug true|false

Turn on/off debug-level logging.
`
	f := flag.NewFlagSet(args[0], flag.ExitOnError)
	f.Usage = func() {
		fmt.Fprintf(os.Stderr, usage)
		f.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\n")
	}
	if err := f.Parse(args[1:]); err != nil {
		log.Fatal(err)
	}
	if f.NArg() != 1 {
		f.Usage()
		os.Exit(1)
	}
	d, err := strconv.ParseBool(f.Arg(0))
	if err != nil {
		log.Fatal(err)
	}
	if err := c.SetDebug(d); err != nil {
		log.Fatal(err)
	}
}

func appMetrics(args []string, c *api.Client) {
	const usage = `
btcflow metrics

Show app metrics.
`
	f := flag.NewFlagSet(args[0], flag.ExitOnError)
	f.Usage = func() {
		fmt.Fprintf(os.Stderr, usage)
		f.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\n")
	}
	if err := f.Parse(args[1:]); err != nil {
		log.Fatal(err)
	}

	result, err := c.Metrics()
	if err != nil {
		log.Fatal(err)
	}
	printJSON(result)
}

func appConfig(args []string, c *api.Client) {
	const usage = `
btcflow config

Show app config settings.
`
	f := flag.NewFlagSet(args[0], flag.ExitOnError)
	f.Usage = func() {
		fmt.Fprintf(os.Stderr, usage)
		f.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\n")
	}
	if err := f.Parse(args[1:]); err != nil {
		log.Fatal(err)
	}

	result, err := c.Config()
	if err != nil {
		log.Fatal(err)
	}
	printJSON(result)
}

func printJSON(v interface{}) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(string(b))
}

// sortedRateKeys orders fee-rate map keys numerically.
func sortedRateKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, _ := strconv.ParseFloat(keys[i], 64)
		b, _ := strconv.ParseFloat(keys[j], 64)
		return a < b
	})
	return keys
}
