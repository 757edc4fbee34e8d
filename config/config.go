// Package config handles node.toml runtime configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Node represents a node.toml configuration file.
type Node struct {
	Listen    string `toml:"listen"`
	Directory string `toml:"directory"`
	Mode      string `toml:"mode"` // direct, sd, gateway, ssl

	SSL     SSL     `toml:"ssl"`
	Network Network `toml:"network"`
	Metrics Metrics `toml:"metrics"`

	Verbosity int `toml:"verbosity"`

	// Dir is the directory containing the node.toml file (set at load time).
	Dir string `toml:"-"`
}

// SSL configures certificate material for tcps endpoints.
type SSL struct {
	Enabled  bool   `toml:"enabled"`
	CertFile string `toml:"cert"`
	KeyFile  string `toml:"key"`
	CAFile   string `toml:"ca"`
}

// Network configures address-family policy.
type Network struct {
	IPv6 bool `toml:"ipv6"`
}

// Metrics configures the Prometheus endpoint.
type Metrics struct {
	Listen string `toml:"listen"`
}

// Default returns the configuration used when no node.toml exists.
func Default() *Node {
	return &Node{
		Listen:    "tcp://127.0.0.1:9559",
		Directory: "tcp://127.0.0.1:9559",
		Mode:      "direct",
		Verbosity: 1,
	}
}

// Load parses a node.toml file from the given directory.
func Load(dir string) (*Node, error) {
	path := filepath.Join(dir, "node.toml")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	n := Default()
	if err := toml.Unmarshal(data, n); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	n.Dir = dir
	if err := n.Validate(); err != nil {
		return nil, err
	}
	return n, nil
}

// Validate checks field consistency.
func (n *Node) Validate() error {
	switch n.Mode {
	case "direct", "sd", "gateway", "ssl":
	default:
		return fmt.Errorf("config: unknown mode %q", n.Mode)
	}
	if n.SSL.Enabled || n.Mode == "ssl" {
		if n.SSL.CertFile == "" || n.SSL.KeyFile == "" {
			return fmt.Errorf("config: ssl requires cert and key files")
		}
	}
	return nil
}

// CertPath resolves a possibly-relative certificate path against the
// config file's directory.
func (n *Node) CertPath(p string) string {
	if p == "" || filepath.IsAbs(p) || n.Dir == "" {
		return p
	}
	return filepath.Join(n.Dir, p)
}
