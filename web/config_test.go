package web

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/rkjdid/util"
)

func TestConfig_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig
	cfg.Gateway.Relays = []uint16{20, 21}
	cfg.Gateway.Sensors = []uint16{10}
	cfg.Gateway.Headers.State = 9
	cfg.Device = "/dev/ttyUSB0"
	cfg.Watcher.ConnPollRate = util.Duration(5 * time.Second)

	for _, name := range []string{"config.toml", "config.yaml"} {
		path := filepath.Join(dir, name)
		if err := SaveConfig(&cfg, path); err != nil {
			t.Fatalf("%s: %s", name, err)
		}
		got, err := LoadConfig(path)
		if err != nil {
			t.Fatalf("%s: %s", name, err)
		}
		if !reflect.DeepEqual(*got, cfg) {
			t.Errorf("%s: loaded %+v, want %+v", name, *got, cfg)
		}
	}
}

func TestConfig_Defaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "partial.yml")
	if err := os.WriteFile(path, []byte("device: /dev/ttyACM0\n"), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Device != "/dev/ttyACM0" {
		t.Errorf("Device = %q", cfg.Device)
	}
	if cfg.Web.ListenAddr != DefaultServerConfig.ListenAddr || cfg.Serial.BaudRate != 57600 {
		t.Errorf("missing keys lost their defaults: %+v", cfg)
	}

	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.toml")); !os.IsNotExist(err) {
		t.Errorf("LoadConfig(missing) = %v", err)
	}
}
