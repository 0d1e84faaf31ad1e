// Package config loads process settings from an optional YAML file and the
// environment. Environment variables take precedence over the file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalid is returned for settings that are present but unusable.
var ErrInvalid = errors.New("invalid configuration")

// Environment variable names.
const (
	EnvConfigFile       = "HIST_CONFIG"
	EnvCoordinatorAddr  = "COORDINATOR_ADDR"
	EnvCoordinatorPub   = "COORDINATOR_PUBLIC"
	EnvWorkers          = "HIST_WORKERS"
	EnvSeed             = "HIST_SEED"
	EnvHealthInterval   = "HIST_HEALTH_INTERVAL"
	EnvNodeID           = "NODE_ID"
	EnvNodeListen       = "NODE_LISTEN"
	EnvNodeAddr         = "NODE_ADDR"
	EnvRegisterAttempts = "HIST_REGISTER_ATTEMPTS"
)

// Coordinator holds the settings of the coordinator process.
type Coordinator struct {
	ID             string        `yaml:"id"`
	Listen         string        `yaml:"listen"`
	PublicAddr     string        `yaml:"public_addr"`
	Workers        int           `yaml:"workers"`
	Seed           uint64        `yaml:"seed"`
	HealthInterval time.Duration `yaml:"health_interval"`
}

// Node holds the settings of a worker node process.
type Node struct {
	ID               string        `yaml:"id"`
	Listen           string        `yaml:"listen"`
	PublicAddr       string        `yaml:"public_addr"`
	Coordinator      string        `yaml:"coordinator"`
	RegisterAttempts int           `yaml:"register_attempts"`
	RegisterDelay    time.Duration `yaml:"register_delay"`
}

type file struct {
	Coordinator Coordinator `yaml:"coordinator"`
	Node        Node        `yaml:"node"`
}

// DefaultCoordinator returns the settings used when nothing is configured.
func DefaultCoordinator() Coordinator {
	return Coordinator{
		ID:             "coordinator",
		Listen:         ":8080",
		PublicAddr:     "http://127.0.0.1:8080",
		Workers:        1,
		HealthInterval: 5 * time.Second,
	}
}

// DefaultNode returns the settings used when nothing is configured.
func DefaultNode() Node {
	return Node{
		Listen:           ":8081",
		PublicAddr:       "http://127.0.0.1:8081",
		RegisterAttempts: 10,
		RegisterDelay:    400 * time.Millisecond,
	}
}

// LoadCoordinator reads the file at path (if path is not empty), then
// applies environment overrides looked up with getenv.
func LoadCoordinator(path string, getenv func(string) string) (Coordinator, error) {
	f := file{Coordinator: DefaultCoordinator(), Node: DefaultNode()}
	if err := readFile(path, &f); err != nil {
		return Coordinator{}, err
	}
	c := f.Coordinator

	setString(&c.Listen, getenv(EnvCoordinatorAddr))
	setString(&c.PublicAddr, getenv(EnvCoordinatorPub))
	if err := setInt(&c.Workers, EnvWorkers, getenv(EnvWorkers)); err != nil {
		return Coordinator{}, err
	}
	if v := getenv(EnvSeed); v != "" {
		seed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return Coordinator{}, fmt.Errorf("%w: %s=%q", ErrInvalid, EnvSeed, v)
		}
		c.Seed = seed
	}
	if err := setDuration(&c.HealthInterval, EnvHealthInterval, getenv(EnvHealthInterval)); err != nil {
		return Coordinator{}, err
	}
	return c, c.Validate()
}

// Validate checks that the settings can start a run.
func (c Coordinator) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("%w: coordinator id is empty", ErrInvalid)
	}
	if c.Workers < 1 {
		return fmt.Errorf("%w: workers must be positive, got %d", ErrInvalid, c.Workers)
	}
	if c.PublicAddr == "" || c.Listen == "" {
		return fmt.Errorf("%w: listen and public address are required", ErrInvalid)
	}
	if c.HealthInterval <= 0 {
		return fmt.Errorf("%w: health interval must be positive", ErrInvalid)
	}
	return nil
}

// LoadNode reads the file at path (if path is not empty), then applies
// environment overrides looked up with getenv.
func LoadNode(path string, getenv func(string) string) (Node, error) {
	f := file{Coordinator: DefaultCoordinator(), Node: DefaultNode()}
	if err := readFile(path, &f); err != nil {
		return Node{}, err
	}
	n := f.Node

	setString(&n.ID, getenv(EnvNodeID))
	setString(&n.Listen, getenv(EnvNodeListen))
	setString(&n.PublicAddr, getenv(EnvNodeAddr))
	setString(&n.Coordinator, getenv(EnvCoordinatorAddr))
	if err := setInt(&n.RegisterAttempts, EnvRegisterAttempts, getenv(EnvRegisterAttempts)); err != nil {
		return Node{}, err
	}
	return n, n.Validate()
}

// Validate checks that the node can register. An empty ID is allowed; the
// node generates one.
func (n Node) Validate() error {
	if n.Coordinator == "" {
		return fmt.Errorf("%w: missing env %s", ErrInvalid, EnvCoordinatorAddr)
	}
	if n.Listen == "" || n.PublicAddr == "" {
		return fmt.Errorf("%w: listen and public address are required", ErrInvalid)
	}
	if n.RegisterAttempts < 1 {
		return fmt.Errorf("%w: register attempts must be positive, got %d", ErrInvalid, n.RegisterAttempts)
	}
	return nil
}

func readFile(path string, f *file) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, f); err != nil {
		return fmt.Errorf("%w: parse %s: %v", ErrInvalid, path, err)
	}
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, name, v string) error {
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%w: %s=%q", ErrInvalid, name, v)
	}
	*dst = n
	return nil
}

func setDuration(dst *time.Duration, name, v string) error {
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%w: %s=%q", ErrInvalid, name, v)
	}
	*dst = d
	return nil
}
