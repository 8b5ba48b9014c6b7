package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bkero/dynamic-dnspod/pkg/config"
)

func TestRunInit_WritesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	in := strings.NewReader("12345,secret\nexample.com\nhome\n\n")
	var out bytes.Buffer

	if err := runInit(path, in, &out, nil); err != nil {
		t.Fatalf("runInit: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("file mode = %v, want 0600", perm)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load written config: %v", err)
	}
	if cfg.Token != "12345,secret" {
		t.Errorf("Token = %q", cfg.Token)
	}
	if len(cfg.Domains) != 1 {
		t.Fatalf("Domains = %+v", cfg.Domains)
	}
	d := cfg.Domains[0]
	if d.Domain != "example.com" || d.SubDomain != "home" || d.RecordType != "A" {
		t.Errorf("domain = %+v", d)
	}
	if cfg.Addr.RecordList != config.DefaultRecordListURL {
		t.Errorf("RecordList = %q", cfg.Addr.RecordList)
	}
	if !strings.Contains(out.String(), "configuration written") {
		t.Errorf("output = %q", out.String())
	}
}

func TestRunInit_WritesJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	in := strings.NewReader("example.com\n\nAAAA\n")
	secret := func() (string, error) { return "1,tok", nil }

	if err := runInit(path, in, &bytes.Buffer{}, secret); err != nil {
		t.Fatalf("runInit: %v", err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load written config: %v", err)
	}
	if cfg.Token != "1,tok" {
		t.Errorf("Token = %q, want the secret reader's value", cfg.Token)
	}
	d := cfg.Domains[0]
	if d.SubDomain != "www" || d.RecordType != "AAAA" {
		t.Errorf("domain = %+v, want default sub-domain www and type AAAA", d)
	}
}

func TestRunInit_SecretNotEchoedToOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	var out bytes.Buffer
	secret := func() (string, error) { return "1,very-secret", nil }

	if err := runInit(path, strings.NewReader("example.com\nwww\nA\n"), &out, secret); err != nil {
		t.Fatalf("runInit: %v", err)
	}
	if strings.Contains(out.String(), "very-secret") {
		t.Errorf("token leaked to output: %q", out.String())
	}
}

func TestRunInit_RefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("existing"), 0o600); err != nil {
		t.Fatal(err)
	}

	err := runInit(path, strings.NewReader("1,tok\nexample.com\nwww\nA\n"), &bytes.Buffer{}, nil)
	if err == nil || !errors.Is(err, os.ErrExist) {
		t.Fatalf("runInit over existing file = %v, want ErrExist", err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "existing" {
		t.Errorf("existing file modified: %q", data)
	}
}

func TestRunInit_InvalidInputWritesNothing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	// Empty domain fails validation.
	err := runInit(path, strings.NewReader("1,tok\n\nwww\nA\n"), &bytes.Buffer{}, nil)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if _, statErr := os.Stat(path); !errors.Is(statErr, os.ErrNotExist) {
		t.Errorf("config written despite invalid input: %v", statErr)
	}
}

func TestRunInit_SecretReaderError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	secret := func() (string, error) { return "", errors.New("no tty") }

	if err := runInit(path, strings.NewReader(""), &bytes.Buffer{}, secret); err == nil {
		t.Error("expected secret reader error")
	}
}

func TestRunInit_TruncatedInput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := runInit(path, strings.NewReader("1,tok\n"), &bytes.Buffer{}, nil); err == nil {
		t.Error("expected error when input ends early")
	}
}

func TestReadLine_FinalLineWithoutNewline(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := runInit(path, strings.NewReader("1,tok\nexample.com\nwww\nA"), &bytes.Buffer{}, nil); err != nil {
		t.Fatalf("runInit: %v", err)
	}
}
