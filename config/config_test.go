package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "node.toml"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestLoadFullConfig(t *testing.T) {
	dir := writeConfig(t, `
listen = "tcp://0.0.0.0:9559"
directory = "tcp://10.0.0.2:9559"
mode = "sd"
verbosity = 2

[ssl]
enabled = false

[network]
ipv6 = true

[metrics]
listen = "127.0.0.1:9090"
`)
	n, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if n.Listen != "tcp://0.0.0.0:9559" || n.Mode != "sd" || n.Verbosity != 2 {
		t.Errorf("loaded = %+v", n)
	}
	if !n.Network.IPv6 {
		t.Error("ipv6 flag lost")
	}
	if n.Metrics.Listen != "127.0.0.1:9090" {
		t.Errorf("metrics = %q", n.Metrics.Listen)
	}
	if n.Dir != dir {
		t.Errorf("Dir = %q", n.Dir)
	}
}

func TestLoadPartialKeepsDefaults(t *testing.T) {
	dir := writeConfig(t, `mode = "direct"`)
	n, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if n.Listen != Default().Listen {
		t.Errorf("listen default lost: %q", n.Listen)
	}
}

func TestLoadMissingFileFails(t *testing.T) {
	if _, err := Load(t.TempDir()); err == nil {
		t.Error("missing node.toml must fail")
	}
}

func TestValidateRejectsUnknownMode(t *testing.T) {
	dir := writeConfig(t, `mode = "warp"`)
	if _, err := Load(dir); err == nil {
		t.Error("unknown mode must fail validation")
	}
}

func TestValidateSSLNeedsCertMaterial(t *testing.T) {
	dir := writeConfig(t, `
mode = "ssl"
`)
	if _, err := Load(dir); err == nil {
		t.Error("ssl mode without certs must fail")
	}
}

func TestCertPathResolution(t *testing.T) {
	n := Default()
	n.Dir = "/etc/qid"
	if got := n.CertPath("server.pem"); got != filepath.Join("/etc/qid", "server.pem") {
		t.Errorf("relative path = %q", got)
	}
	if got := n.CertPath("/abs/server.pem"); got != "/abs/server.pem" {
		t.Errorf("absolute path = %q", got)
	}
	if got := n.CertPath(""); got != "" {
		t.Errorf("empty path = %q", got)
	}
}
