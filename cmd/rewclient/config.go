package main

import (
	"bytes"
	"debug/elf"
	"io"
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/grafana/rewclient/pkg/protocol"
	"github.com/grafana/rewclient/pkg/transport"
)

// hostConfig fills the architecture fields of cfg for the machine the
// translated code will run on.
func hostConfig(cfg *protocol.ServerConfig, goarch string) error {
	switch goarch {
	case "amd64":
		cfg.HostArch = int32(elf.EM_X86_64)
		cfg.StackAlignment = 8
	case "arm64":
		cfg.HostArch = int32(elf.EM_AARCH64)
	default:
		return errors.Errorf("unsupported host architecture %s", goarch)
	}
	return nil
}

// serverConfig builds the configuration sent with C_INIT. Fields present in
// overrides replace the computed ones.
func serverConfig(guest elf.Machine, overrides []byte) (protocol.ServerConfig, error) {
	cfg := protocol.DefaultServerConfig()
	cfg.GuestArch = int32(guest)
	if err := hostConfig(&cfg, runtime.GOARCH); err != nil {
		return cfg, err
	}
	dec := yaml.NewDecoder(bytes.NewReader(overrides))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && err != io.EOF {
		return cfg, errors.Wrap(err, "parsing server config overrides")
	}
	return cfg, nil
}

func readOverrides(path string) ([]byte, error) {
	if path == "" {
		return nil, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading config file")
	}
	return b, nil
}

// parseDescriptor accepts a non-negative decimal descriptor number.
func parseDescriptor(s string) (int, error) {
	fd, err := strconv.Atoi(s)
	if err != nil || fd < 0 {
		return 0, errors.Errorf("invalid transport locator %q", s)
	}
	return fd, nil
}

// openTransport resolves a locator: "unix:PATH" dials a socket, anything
// else must be an inherited descriptor.
func openTransport(locator string) (*transport.UnixConn, error) {
	if path, ok := strings.CutPrefix(locator, "unix:"); ok {
		if path == "" {
			return nil, errors.Errorf("invalid transport locator %q", locator)
		}
		return transport.Dial(path)
	}
	fd, err := parseDescriptor(locator)
	if err != nil {
		return nil, err
	}
	return transport.FromFD(fd)
}
