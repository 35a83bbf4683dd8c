package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Namespace != "finsgate" {
		t.Errorf("Namespace = %q, want finsgate", cfg.Namespace)
	}
	if cfg.PollRate != time.Second {
		t.Errorf("PollRate = %v, want 1s", cfg.PollRate)
	}
	if !cfg.Web.Enabled {
		t.Error("Web.Enabled = false, want true")
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")

	cfg := DefaultConfig()
	cfg.Namespace = "plant1"
	cfg.PollRate = 250 * time.Millisecond
	off := false
	cfg.AddPLC(PLCConfig{
		Name:        "press",
		Enabled:     true,
		Host:        "192.168.1.10",
		Port:        9601,
		Transport:   "tcp",
		Timeout:     2 * time.Second,
		AutoConnect: &off,
		Node:        5,
		Tags: []TagConfig{
			{Name: "counter", Address: "DM1000", Count: 2},
			{Name: "alarm", Address: "CIO100.05", Writable: true},
		},
	})
	cfg.MQTT = append(cfg.MQTT, MQTTConfig{
		Name:    "local",
		Enabled: true,
		Broker:  "localhost",
		Port:    1883,
	})

	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if loaded.Namespace != "plant1" {
		t.Errorf("Namespace = %q, want plant1", loaded.Namespace)
	}
	if loaded.PollRate != 250*time.Millisecond {
		t.Errorf("PollRate = %v, want 250ms", loaded.PollRate)
	}

	plc := loaded.FindPLC("press")
	if plc == nil {
		t.Fatal("FindPLC(press) = nil")
	}
	if plc.GetAutoConnect() {
		t.Error("GetAutoConnect() = true, want explicit false to survive round trip")
	}
	if plc.GetPort() != 9601 {
		t.Errorf("GetPort() = %d, want 9601", plc.GetPort())
	}
	if plc.Node != 5 {
		t.Errorf("Node = %d, want 5", plc.Node)
	}

	tag := plc.FindTag("counter")
	if tag == nil {
		t.Fatal("FindTag(counter) = nil")
	}
	if tag.GetCount() != 2 {
		t.Errorf("GetCount() = %d, want 2", tag.GetCount())
	}

	if m := loaded.FindMQTT("local"); m == nil || m.Port != 1883 {
		t.Errorf("FindMQTT(local) = %+v, want port 1883", m)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("plcs: [unclosed"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("Load() error = nil, want parse error")
	}
}

func TestPLCConfigDefaults(t *testing.T) {
	p := PLCConfig{}
	if !p.GetAutoConnect() {
		t.Error("GetAutoConnect() = false, want true by default")
	}
	if p.GetPort() != 9600 {
		t.Errorf("GetPort() = %d, want 9600", p.GetPort())
	}
	if p.GetTimeout() != 5*time.Second {
		t.Errorf("GetTimeout() = %v, want 5s", p.GetTimeout())
	}

	tag := TagConfig{}
	if tag.GetCount() != 1 {
		t.Errorf("GetCount() = %d, want 1", tag.GetCount())
	}
}

func TestRemovePLC(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AddPLC(PLCConfig{Name: "a"})
	cfg.AddPLC(PLCConfig{Name: "b"})

	if !cfg.RemovePLC("a") {
		t.Error("RemovePLC(a) = false, want true")
	}
	if cfg.RemovePLC("a") {
		t.Error("RemovePLC(a) twice = true, want false")
	}
	if len(cfg.PLCs) != 1 || cfg.PLCs[0].Name != "b" {
		t.Errorf("PLCs after remove = %+v", cfg.PLCs)
	}
}
