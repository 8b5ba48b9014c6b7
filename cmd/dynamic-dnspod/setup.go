package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.yaml.in/yaml/v3"
	"golang.org/x/term"

	"github.com/bkero/dynamic-dnspod/pkg/config"
	"github.com/bkero/dynamic-dnspod/pkg/record"
)

// secretReader reads the API token. A nil secretReader reads a plain line.
type secretReader func() (string, error)

// terminalSecretReader returns a reader that disables echo when in is a
// terminal, or nil otherwise.
func terminalSecretReader(in *os.File, out io.Writer) secretReader {
	fd := int(in.Fd())
	if !term.IsTerminal(fd) {
		return nil
	}
	return func() (string, error) {
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(out)
		if err != nil {
			return "", fmt.Errorf("reading token: %w", err)
		}
		return string(b), nil
	}
}

// runInit prompts for a token and one record, then writes a starter
// configuration to path. An existing file is never overwritten.
func runInit(path string, in io.Reader, out io.Writer, readSecret secretReader) error {
	r := bufio.NewReader(in)

	fmt.Fprint(out, "DNSPod API token (id,token): ")
	var (
		token string
		err   error
	)
	if readSecret != nil {
		token, err = readSecret()
	} else {
		token, err = readLine(r)
	}
	if err != nil {
		return err
	}

	domain, err := prompt(r, out, "Domain (e.g. example.com)", "")
	if err != nil {
		return err
	}
	sub, err := prompt(r, out, "Sub-domain", "www")
	if err != nil {
		return err
	}
	typ, err := prompt(r, out, "Record type", record.DefaultRecordType)
	if err != nil {
		return err
	}

	cfg := config.Config{
		Token: strings.TrimSpace(token),
		Addr: config.Addr{
			RecordList:   config.DefaultRecordListURL,
			RecordCreate: config.DefaultRecordCreateURL,
			RecordDDNS:   config.DefaultRecordDDNSURL,
		},
		System: config.System{SleepMinutes: config.DefaultSleepMinutes},
		Domains: []record.Spec{
			record.Spec{Domain: domain, SubDomain: sub, RecordType: typ}.WithDefaults(),
		},
	}

	isJSON := strings.EqualFold(filepath.Ext(path), ".json")
	var data []byte
	if isJSON {
		data, err = json.MarshalIndent(cfg, "", "  ")
		data = append(data, '\n')
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	// Refuse to write something Load would reject.
	if _, err := config.Parse(data, isJSON); err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("unable to create %q: %w", path, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("writing %q: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("writing %q: %w", path, err)
	}
	fmt.Fprintf(out, "configuration written to %q\n", path)
	return nil
}

func prompt(r *bufio.Reader, out io.Writer, label, def string) (string, error) {
	if def != "" {
		fmt.Fprintf(out, "%s [%s]: ", label, def)
	} else {
		fmt.Fprintf(out, "%s: ", label)
	}
	v, err := readLine(r)
	if err != nil {
		return "", err
	}
	if v == "" {
		return def, nil
	}
	return v, nil
}

// readLine returns the next line without its terminator. A final line
// without a newline is accepted.
func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("reading input: %w", err)
	}
	return strings.TrimSpace(line), nil
}
