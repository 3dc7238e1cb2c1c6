package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/rcrowley/go-metrics"

	"github.com/joltfun/btcflow/api"
	col "github.com/joltfun/btcflow/collect"
	"github.com/joltfun/btcflow/collect/nodeapi"
	"github.com/joltfun/btcflow/collect/nodezmq"
	"github.com/joltfun/btcflow/db/bolt"
	est "github.com/joltfun/btcflow/estimate"
	"github.com/joltfun/btcflow/predict"
)

const usage = `
btcflow [-c CONFIGFILE] [-d DATADIR] COMMAND [-h | -help] [args...]

Commands:
	start       (start the estimation app)
	stop        (terminate the app)
	version     (show app version)
	status      (show application status)
	estimates   (show the current fee schedule)
	estimatefee (recommended feerate (sat/vB) for one target/probability)
	mempool     (show per-bucket mempool weight)
	flow        (show per-bucket inflow/drain rates)
	scores      (show prediction scores)
	history     (show past fee schedules)
	pause       (pause the compute cycle)
	unpause     (resume the compute cycle after pausing)
	setdebug    (turn on/off debug-level logging)
	metrics     (show app metrics)
	config      (show app config settings.)

`

const version = "0.1.0"

func main() {
	var (
		configFile, dataDir string
	)
	flag.CommandLine.Usage = func() {
		fmt.Fprintf(os.Stderr, usage)
		flag.CommandLine.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\n")
	}
	flag.StringVar(&configFile, "c", "",
		fmt.Sprintf("Path to config file (alternatively, use %s env var).", configFileEnv))
	flag.StringVar(&dataDir, "d", "",
		fmt.Sprintf("Path to data directory (alternatively, use %s env var).", dataDirEnv))
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		flag.CommandLine.Usage()
		os.Exit(1)
	}

	cfg, err := loadConfig(configFile, dataDir)
	if err != nil {
		log.Fatal(err)
	}

	apiclient := api.NewClient(api.Config{
		Host:    cfg.AppRPC.Host,
		Port:    cfg.AppRPC.Port,
		Timeout: 15,
	})

	switch args[0] {
	case "start":
		runBtcFlow(args, cfg)
	case "version":
		fmt.Println(version)
	case "stop":
		stop(args, apiclient)
	case "status":
		status(args, apiclient)
	case "estimates":
		estimates(args, apiclient)
	case "estimatefee":
		estimateFee(args, apiclient)
	case "mempool":
		mempool(args, apiclient)
	case "flow":
		flowRates(args, apiclient)
	case "scores":
		scores(args, apiclient)
	case "history":
		history(args, apiclient)
	case "pause":
		pause(args, apiclient)
	case "unpause":
		unpause(args, apiclient)
	case "setdebug":
		setDebug(args, apiclient)
	case "metrics":
		appMetrics(args, apiclient)
	case "config":
		appConfig(args, apiclient)
	default:
		log.Fatalf("Invalid command '%s'", args[0])
	}
}

func runBtcFlow(args []string, cfg config) {
	const usage = `
btcflow start

Start the program. The program will begin recording mempool arrivals and
snapshots, and will begin publishing fee estimates once there is sufficient
data.

Use btcflow status to check the data collection / estimation status. Use
btcflow pause to pause the compute cycle (while still recording data).
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

	txdb, err := loadTxDB(cfg)
	if err != nil {
		log.Fatal(fmt.Errorf("loadTxDB: %v", err))
	}

	sdb, err := loadSnapshotDB(cfg)
	if err != nil {
		log.Fatal(fmt.Errorf("loadSnapshotDB: %v", err))
	}

	predictdb, err := loadPredictDB(cfg)
	if err != nil {
		log.Fatal(fmt.Errorf("loadPredictDB: %v", err))
	}

	histdb, err := loadHistoryDB(cfg)
	if err != nil {
		log.Fatal(fmt.Errorf("loadHistoryDB: %v", err))
	}

	// Setup the logger
	var dLog *DebugLog
	logFileMode := os.O_WRONLY | os.O_CREATE | os.O_APPEND
	if f, err := os.OpenFile(cfg.LogFile, logFileMode, 0666); err != nil {
		log.Fatal(fmt.Errorf("opening logfile: %v", err))
	} else {
		dLog = NewDebugLog(f, "", log.LstdFlags)
	}

	collectConfig, err := loadCollectorConfig(cfg, dLog)
	if err != nil {
		log.Fatal(fmt.Errorf("loadCollectorConfig: %v", err))
	}

	btcflowConfig := BtcFlowConfig{
		Collect:        collectConfig,
		Predict:        cfg.Predict,
		CyclePeriod:    cfg.CyclePeriod,
		Retention:      cfg.Retention,
		FlowMultiplier: cfg.FlowMultiplier,
		Targets:        cfg.Targets,
		Probs:          cfg.Probs,
		MinTrials:      cfg.MinTrials,
		OutputPath:     cfg.OutputPath,
		logger:         dLog.Logger,
	}
	btcflow, err := NewBtcFlow(txdb, sdb, predictdb, histdb, btcflowConfig)
	if err != nil {
		log.Fatal(fmt.Errorf("NewBtcFlow: %v", err))
	}
	service := &Service{BtcFlow: btcflow, DLog: dLog, Cfg: cfg}

	os.Stdout.Close()
	os.Stderr.Close()
	os.Stdin.Close()

	errc := make(chan error)
	go func() { errc <- btcflow.Run() }()
	go func() { errc <- service.ListenAndServe() }()

	// Signal handling
	sigc := make(chan os.Signal, 3)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	go func() {
		<-sigc
		btcflow.Stop()
	}()

	err = <-errc
	// Blocks until it is safely shutdown. It is idempotent, so no harm if
	// btcflow is already stopped.
	btcflow.Stop()
	if err != nil {
		dLog.Logger.Fatal(err)
	}
}

func loadTxDB(cfg config) (TxDB, error) {
	const dbFileName = "tx.db"
	dbfile := filepath.Join(cfg.DataDir, dbFileName)
	return bolt.LoadTxDB(dbfile)
}

func loadSnapshotDB(cfg config) (SnapshotDB, error) {
	const dbFileName = "snapshot.db"
	dbfile := filepath.Join(cfg.DataDir, dbFileName)
	return bolt.LoadSnapshotDB(dbfile)
}

func loadPredictDB(cfg config) (predict.DB, error) {
	const dbFileName = "predict.db"
	dbfile := filepath.Join(cfg.DataDir, dbFileName)
	return bolt.LoadPredictDB(dbfile)
}

func loadHistoryDB(cfg config) (HistoryDB, error) {
	const dbFileName = "history.db"
	dbfile := filepath.Join(cfg.DataDir, dbFileName)
	return bolt.LoadHistoryDB(dbfile)
}

func loadCollectorConfig(cfg config, dLog *DebugLog) (col.Config, error) {
	timeNow := func() int64 {
		return time.Now().Unix()
	}
	getState, getTx, err := nodeapi.Getters(timeNow, cfg.BitcoinRPC)
	if err != nil {
		return col.Config{}, err
	}

	// Wrap getState with a timer
	reservoirSize := 60 / cfg.Collect.SnapshotPeriod * 60 * 24 // About one day's worth
	getStateTimer := metrics.NewCustomTimer(metrics.NewHistogram(
		metrics.NewSimpleExpDecaySample(reservoirSize)), metrics.NewMeter())
	timedGetState := func() (*est.Snapshot, error) {
		start := time.Now()
		defer getStateTimer.UpdateSince(start)
		return getState()
	}
	name := "getstate" + strconv.Itoa(reservoirSize)
	metrics.Register(name, getStateTimer)

	feed := nodezmq.NewFeed(nodezmq.Config{
		Endpoint: cfg.ZMQ,
		Logger:   dLog.Logger,
	})

	c := col.Config{
		GetState:       timedGetState,
		GetTx:          getTx,
		Feed:           feed,
		SnapshotPeriod: cfg.Collect.SnapshotPeriod,
	}
	return c, nil
}
