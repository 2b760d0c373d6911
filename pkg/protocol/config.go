package protocol

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// SchemaVersion is the version of the shared configuration schema these
// records follow. Both peers must agree on it byte for byte.
const SchemaVersion = 1

const (
	ServerConfigSize = 3*4 + 7
	ClientConfigSize = 5 * 4
)

// ServerConfig is sent with C_INIT. Field order is wire order.
type ServerConfig struct {
	GuestArch          int32 `yaml:"guest_arch"`
	HostArch           int32 `yaml:"host_arch"`
	StackAlignment     int32 `yaml:"stack_alignment"`
	OptUnsafeCallret   bool  `yaml:"opt_unsafe_callret"`
	OptCallretLifting  bool  `yaml:"opt_callret_lifting"`
	OptFullFacets      bool  `yaml:"opt_full_facets"`
	DebugProfileServer bool  `yaml:"debug_profile_server"`
	DebugDumpIR        bool  `yaml:"debug_dump_ir"`
	DebugDumpObjects   bool  `yaml:"debug_dump_objects"`
	DebugTimePasses    bool  `yaml:"debug_time_passes"`
}

// DefaultServerConfig returns the schema defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{}
}

func (c ServerConfig) MarshalBinary() ([]byte, error) {
	b := make([]byte, 0, ServerConfigSize)
	b = binary.LittleEndian.AppendUint32(b, uint32(c.GuestArch))
	b = binary.LittleEndian.AppendUint32(b, uint32(c.HostArch))
	b = binary.LittleEndian.AppendUint32(b, uint32(c.StackAlignment))
	for _, v := range []bool{
		c.OptUnsafeCallret,
		c.OptCallretLifting,
		c.OptFullFacets,
		c.DebugProfileServer,
		c.DebugDumpIR,
		c.DebugDumpObjects,
		c.DebugTimePasses,
	} {
		b = append(b, boolByte(v))
	}
	return b, nil
}

func (c *ServerConfig) UnmarshalBinary(b []byte) error {
	if len(b) != ServerConfigSize {
		return errors.Wrapf(ErrInvalidLength, "server config is %d bytes, want %d", len(b), ServerConfigSize)
	}
	c.GuestArch = int32(binary.LittleEndian.Uint32(b[0:4]))
	c.HostArch = int32(binary.LittleEndian.Uint32(b[4:8]))
	c.StackAlignment = int32(binary.LittleEndian.Uint32(b[8:12]))
	flags := b[12:]
	c.OptUnsafeCallret = flags[0] != 0
	c.OptCallretLifting = flags[1] != 0
	c.OptFullFacets = flags[2] != 0
	c.DebugProfileServer = flags[3] != 0
	c.DebugDumpIR = flags[4] != 0
	c.DebugDumpObjects = flags[5] != 0
	c.DebugTimePasses = flags[6] != 0
	return nil
}

// ClientConfig is the S_INIT payload: settings the server chose for this
// client.
type ClientConfig struct {
	Callconv   int32
	Profile    int32
	Perf       int32
	PrintStats int32
	PrintRegs  int32
}

func (c ClientConfig) MarshalBinary() ([]byte, error) {
	b := make([]byte, 0, ClientConfigSize)
	for _, v := range c.fields() {
		b = binary.LittleEndian.AppendUint32(b, uint32(*v))
	}
	return b, nil
}

func (c *ClientConfig) UnmarshalBinary(b []byte) error {
	if len(b) != ClientConfigSize {
		return errors.Wrapf(ErrInvalidLength, "client config is %d bytes, want %d", len(b), ClientConfigSize)
	}
	for i, v := range c.fields() {
		*v = int32(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return nil
}

func (c *ClientConfig) fields() []*int32 {
	return []*int32{&c.Callconv, &c.Profile, &c.Perf, &c.PrintStats, &c.PrintRegs}
}

func boolByte(v bool) byte {
	if v {
		return 1
	}
	return 0
}
