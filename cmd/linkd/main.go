/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// linkd runs a standalone Link node on the host network, reporting its
// session state over Prometheus and an optional pprof endpoint.
package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	pflag "github.com/spf13/pflag"
	log "github.com/sirupsen/logrus"
	yaml "gopkg.in/yaml.v2"

	"github.com/ableton-link/link/clock"
	"github.com/ableton-link/link/controller"
	"github.com/ableton-link/link/timeline"

	_ "net/http/pprof"
)

// statusSnapshot is what /status reports: a plain JSON view of session
// state for scripts polling without a Prometheus scraper, mirroring
// the teacher's NewJSONStats root-request handler.
type statusSnapshot struct {
	TempoBPM        float64 `json:"tempo_bpm"`
	NumPeers        int     `json:"num_peers"`
	Enabled         bool    `json:"enabled"`
	Quantum         float64 `json:"quantum"`
	Instance        string  `json:"instance"`
	FounderMeasured bool    `json:"founder_measured"`
}

func statusHandler(c *controller.Controller, instanceID string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		snap := statusSnapshot{
			TempoBPM:        c.CaptureAppSessionState().Timeline.Tempo.BPM(),
			NumPeers:        c.NumPeers(),
			Enabled:         c.IsEnabled(),
			Quantum:         float64(c.Quantum()) / 1_000_000,
			Instance:        instanceID,
			FounderMeasured: c.FounderMeasured(),
		}
		js, err := json.Marshal(snap)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if _, err := w.Write(js); err != nil {
			log.Errorf("failed to reply to /status: %v", err)
		}
	}
}

// Config is the on-disk shape of linkd's YAML configuration. CLI flags
// override whatever the file sets, the way sptp's config and flags
// interact.
type Config struct {
	BPM            float64 `yaml:"bpm"`
	Quantum        float64 `yaml:"quantum"`
	MonitoringPort int     `yaml:"monitoring_port"`
	Namespace      string  `yaml:"namespace"`
}

func readConfig(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config from %q: %w", path, err)
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("parsing config from %q: %w", path, err)
	}
	return cfg, nil
}

func prepareConfig(cfgPath string, bpm, quantum float64, monitoringPort int, namespace string) (*Config, error) {
	cfg := &Config{BPM: 120, Quantum: 4, MonitoringPort: 8990, Namespace: "link"}
	warn := func(name string) {
		log.Warningf("overriding %s from CLI flag", name)
	}
	if cfgPath != "" {
		loaded, err := readConfig(cfgPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if bpm != 0 && bpm != cfg.BPM {
		warn("bpm")
		cfg.BPM = bpm
	}
	if quantum != 0 && quantum != cfg.Quantum {
		warn("quantum")
		cfg.Quantum = quantum
	}
	if monitoringPort != 0 && monitoringPort != cfg.MonitoringPort {
		warn("monitoringport")
		cfg.MonitoringPort = monitoringPort
	}
	if namespace != "" && namespace != cfg.Namespace {
		warn("namespace")
		cfg.Namespace = namespace
	}
	log.Debugf("config: %+v", cfg)
	return cfg, nil
}

func doWork(cfg *Config) error {
	// instanceID tags this process's log lines so multiple linkd
	// instances on one host (or a shared log aggregator) can be told
	// apart; it has no protocol meaning and is never put on the wire.
	instanceID := uuid.New().String()
	log.Infof("linkd instance %s starting", instanceID)

	c, err := controller.New(cfg.BPM, clock.NewSystem())
	if err != nil {
		return fmt.Errorf("constructing controller: %w", err)
	}
	c.SetQuantum(timeline.Beats(cfg.Quantum * 1_000_000))

	reg := prometheus.NewRegistry()
	m := controller.NewMetrics(cfg.Namespace, reg)
	c.Attach(m,
		func(n int) { log.Infof("[%s] peer count now %d", instanceID, n) },
		func(bpm float64) { log.Infof("[%s] tempo now %.2f bpm", instanceID, bpm) },
	)

	c.Enable(true)
	if _, err := c.Start(); err != nil {
		return fmt.Errorf("starting discovery: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true}))
	mux.HandleFunc("/status", statusHandler(c, instanceID))
	addr := fmt.Sprintf(":%d", cfg.MonitoringPort)
	log.Infof("Starting metrics http server on %s", addr)
	return http.ListenAndServe(addr, mux)
}

func main() {
	var (
		verboseFlag        bool
		bpmFlag            float64
		quantumFlag        float64
		monitoringPortFlag int
		namespaceFlag      string
		configFlag         string
		pprofFlag          string
	)

	pflag.BoolVar(&verboseFlag, "verbose", false, "verbose output")
	pflag.Float64Var(&bpmFlag, "bpm", 0, "starting tempo in beats per minute")
	pflag.Float64Var(&quantumFlag, "quantum", 0, "phase quantum in beats")
	pflag.StringVar(&configFlag, "config", "", "path to the config")
	pflag.IntVar(&monitoringPortFlag, "monitoringport", 0, "port to start the metrics http server on")
	pflag.StringVar(&namespaceFlag, "namespace", "", "prometheus metric namespace")
	pflag.StringVar(&pprofFlag, "pprof", "", "address to have the profiler listen on, disabled if empty")

	pflag.Parse()

	log.SetLevel(log.InfoLevel)
	if verboseFlag {
		log.SetLevel(log.DebugLevel)
	}

	cfg, err := prepareConfig(configFlag, bpmFlag, quantumFlag, monitoringPortFlag, namespaceFlag)
	if err != nil {
		log.Fatal(err)
	}

	if pprofFlag != "" {
		go func() {
			if err := http.ListenAndServe(pprofFlag, nil); err != nil {
				log.Errorf("failed to start pprof: %v", err)
			}
		}()
	}

	if err := doWork(cfg); err != nil {
		log.Fatal(err)
	}
}
