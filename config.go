package main

import (
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v2"

	col "github.com/joltfun/btcflow/collect"
	"github.com/joltfun/btcflow/collect/nodeapi"
	"github.com/joltfun/btcflow/predict"
)

const (
	defaultConfigFileName = "config.yml"
	configFileEnv         = "BTCFLOW_CONFIG"
	dataDirEnv            = "BTCFLOW_DATADIR"
)

var (
	defaultBtcFlowConfig = BtcFlowConfig{
		Collect: col.Config{
			SnapshotPeriod: 60,
		},
		Predict: predict.Config{
			Prob:     0.9,
			Halflife: 1008,
		},
		CyclePeriod:    60,
		Retention:      10800, // 3 hours
		FlowMultiplier: 2,
		Targets:        []int64{30, 60, 120, 180, 360, 720, 1440},
		Probs:          []float64{0.5, 0.8, 0.9},
		MinTrials:      10,
	}
	defaultConfig = config{
		BtcFlowConfig: defaultBtcFlowConfig,
		BitcoinRPC: nodeapi.Config{
			Host:    "localhost",
			Port:    "8332",
			Timeout: 30,
		},
		ZMQ: "tcp://localhost:28332",
		AppRPC: AppRPCConfig{
			Host: "localhost",
			Port: "8360",
		},
		DataDir: appDataDir("btcflow"),
	}
	defaultConfigFile  = filepath.Join(defaultConfig.DataDir, defaultConfigFileName)
	defaultLogFileName = "btcflow.log"
	defaultOutFileName = "estimates.json"
)

type config struct {
	BtcFlowConfig `yaml:",inline"`
	BitcoinRPC    nodeapi.Config `yaml:"bitcoinrpc" json:"bitcoinrpc"`
	ZMQ           string         `yaml:"zmq" json:"zmq"`
	AppRPC        AppRPCConfig   `yaml:"apprpc" json:"apprpc"`
	DataDir       string         `yaml:"datadir" json:"datadir"`
	LogFile       string         `yaml:"logfile" json:"logfile"`
}

type AppRPCConfig struct {
	Host string `json:"host" yaml:"host"`
	Port string `json:"port" yaml:"port"`
}

// loadConfig loads the config. The input arguments specify the path to the
// config file / data directory.
// They can also be specified through env variables (configFileEnv / dataDirEnv),
// with lower precedence.
// If not specified, they are set to default values.
func loadConfig(configFile, dataDir string) (config, error) {
	cfg := defaultConfig

	if configFile == "" {
		configFile = os.Getenv(configFileEnv)
	}
	if dataDir == "" {
		dataDir = os.Getenv(dataDirEnv)
	}

	if configFile != "" {
		// Config file was specified explicitly, so return an error if it
		// couldn't be read.
		if c, err := os.ReadFile(configFile); err != nil {
			return cfg, err
		} else if err := yaml.Unmarshal(c, &cfg); err != nil {
			return cfg, err
		}
	} else {
		// Check the default config file location. No error if it couldn't be
		// read, but error if the yaml could not be unmarshaled.
		if dataDir == "" {
			configFile = defaultConfigFile
		} else {
			configFile = filepath.Join(dataDir, defaultConfigFileName)
		}
		if c, err := os.ReadFile(configFile); err == nil {
			if err := yaml.Unmarshal(c, &cfg); err != nil {
				return cfg, err
			}
		}
	}

	// dataDir specified by env or input argument takes precedence
	if dataDir != "" {
		cfg.DataDir = dataDir
	}

	if cfg.LogFile == "" {
		cfg.LogFile = filepath.Join(cfg.DataDir, defaultLogFileName)
	}
	if cfg.OutputPath == "" {
		cfg.OutputPath = filepath.Join(cfg.DataDir, defaultOutFileName)
	}

	// Create the datadir if not exists
	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return cfg, err
	}

	return cfg, nil
}

func appDataDir(appName string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	switch runtime.GOOS {
	case "windows":
		if d := os.Getenv("LOCALAPPDATA"); d != "" {
			return filepath.Join(d, appName)
		}
		return filepath.Join(home, appName)
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", appName)
	default:
		return filepath.Join(home, "."+appName)
	}
}
