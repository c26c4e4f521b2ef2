package security

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"sort"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/host"
	psnet "github.com/shirou/gopsutil/v4/net"
)

// errUnavailable marks an identifier that neither the native nor the
// command probe could obtain
var errUnavailable = errors.New("identifier unavailable")

// CommandRunner executes an external command and returns its stdout
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

// SystemProber reads identifiers through gopsutil and falls back to OS
// commands when the native call yields nothing usable
type SystemProber struct {
	goos     string
	run      CommandRunner
	readFile func(string) ([]byte, error)
	native   bool
}

// SystemProberOption configures a SystemProber
type SystemProberOption func(*SystemProber)

// WithCommandRunner replaces the command runner
func WithCommandRunner(run CommandRunner) SystemProberOption {
	return func(s *SystemProber) { s.run = run }
}

// WithGOOS overrides the operating system used to select command probes
func WithGOOS(goos string) SystemProberOption {
	return func(s *SystemProber) { s.goos = goos }
}

// WithFileReader replaces the reader used for identifier files
func WithFileReader(read func(string) ([]byte, error)) SystemProberOption {
	return func(s *SystemProber) { s.readFile = read }
}

// WithoutNativeProbes skips gopsutil and uses command probes only
func WithoutNativeProbes() SystemProberOption {
	return func(s *SystemProber) { s.native = false }
}

// NewSystemProber creates a prober for the running host
func NewSystemProber(opts ...SystemProberOption) *SystemProber {
	s := &SystemProber{
		goos:     runtime.GOOS,
		run:      execCommand,
		readFile: os.ReadFile,
		native:   true,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func execCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// MachineID returns the OS installation / board UUID
func (s *SystemProber) MachineID(ctx context.Context) (string, error) {
	if s.native {
		if id, err := host.HostIDWithContext(ctx); err == nil && !IsPlaceholder(id) {
			return strings.ToLower(strings.TrimSpace(id)), nil
		}
	}

	switch s.goos {
	case "linux":
		for _, path := range []string{"/etc/machine-id", "/var/lib/dbus/machine-id"} {
			if data, err := s.readFile(path); err == nil {
				if id := strings.TrimSpace(string(data)); !IsPlaceholder(id) {
					return strings.ToLower(id), nil
				}
			}
		}
	case "windows":
		out, err := s.run(ctx, "reg", "query", `HKLM\SOFTWARE\Microsoft\Cryptography`, "/v", "MachineGuid")
		if err == nil {
			if id := parseRegValue(out, "MachineGuid"); !IsPlaceholder(id) {
				return strings.ToLower(id), nil
			}
		}
	case "darwin":
		out, err := s.run(ctx, "ioreg", "-rd1", "-c", "IOPlatformExpertDevice")
		if err == nil {
			if id := parseIORegValue(out, "IOPlatformUUID"); !IsPlaceholder(id) {
				return strings.ToLower(id), nil
			}
		}
	}
	return "", fmt.Errorf("machine id: %w", errUnavailable)
}

// CPUID returns a stable processor descriptor
func (s *SystemProber) CPUID(ctx context.Context) (string, error) {
	if s.native {
		if infos, err := cpu.InfoWithContext(ctx); err == nil && len(infos) > 0 {
			if id := cpuDescriptor(infos[0]); !IsPlaceholder(id) {
				return id, nil
			}
		}
	}

	switch s.goos {
	case "windows":
		out, err := s.run(ctx, "wmic", "cpu", "get", "ProcessorId", "/value")
		if err == nil {
			if id := parseKeyValue(out, "ProcessorId"); !IsPlaceholder(id) {
				return id, nil
			}
		}
	case "darwin":
		out, err := s.run(ctx, "sysctl", "-n", "machdep.cpu.brand_string")
		if err == nil {
			if id := strings.TrimSpace(string(out)); !IsPlaceholder(id) {
				return id, nil
			}
		}
	case "linux":
		if data, err := s.readFile("/proc/cpuinfo"); err == nil {
			if id := parseCPUInfo(data); !IsPlaceholder(id) {
				return id, nil
			}
		}
	}
	return "", fmt.Errorf("cpu id: %w", errUnavailable)
}

// DiskSerial returns the serial number of the disk holding the system root
func (s *SystemProber) DiskSerial(ctx context.Context) (string, error) {
	if s.native {
		if device := rootDevice(ctx, s.goos); device != "" {
			if serial, err := disk.SerialNumberWithContext(ctx, device); err == nil && !IsPlaceholder(serial) {
				return strings.TrimSpace(serial), nil
			}
		}
	}

	switch s.goos {
	case "linux":
		out, err := s.run(ctx, "lsblk", "-dno", "SERIAL")
		if err == nil {
			if serial := firstNonPlaceholderLine(out); serial != "" {
				return serial, nil
			}
		}
	case "windows":
		out, err := s.run(ctx, "wmic", "diskdrive", "get", "SerialNumber", "/value")
		if err == nil {
			if serial := parseKeyValue(out, "SerialNumber"); !IsPlaceholder(serial) {
				return serial, nil
			}
		}
	case "darwin":
		out, err := s.run(ctx, "diskutil", "info", "/")
		if err == nil {
			if serial := parseColonValue(out, "Volume UUID"); !IsPlaceholder(serial) {
				return serial, nil
			}
		}
	}
	return "", fmt.Errorf("disk serial: %w", errUnavailable)
}

// MACAddress returns the hardware address of the first physical interface,
// ordered by interface index
func (s *SystemProber) MACAddress(ctx context.Context) (string, error) {
	ifaces, err := psnet.InterfacesWithContext(ctx)
	if err != nil {
		return "", fmt.Errorf("mac address: %w", err)
	}

	sort.Slice(ifaces, func(i, j int) bool { return ifaces[i].Index < ifaces[j].Index })
	for _, iface := range ifaces {
		if isVirtualInterface(iface.Name) || hasFlag(iface.Flags, "loopback") {
			continue
		}
		mac := strings.ToLower(strings.TrimSpace(iface.HardwareAddr))
		if !IsPlaceholder(mac) {
			return mac, nil
		}
	}
	return "", fmt.Errorf("mac address: %w", errUnavailable)
}

func cpuDescriptor(info cpu.InfoStat) string {
	parts := []string{info.VendorID, info.Family, info.Model, strconv.Itoa(int(info.Stepping)), info.ModelName}
	var kept []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" && p != "0" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "/")
}

func rootDevice(ctx context.Context, goos string) string {
	partitions, err := disk.PartitionsWithContext(ctx, false)
	if err != nil {
		return ""
	}
	root := "/"
	if goos == "windows" {
		root = "C:"
	}
	for _, p := range partitions {
		if strings.EqualFold(strings.TrimRight(p.Mountpoint, `\`), root) {
			return p.Device
		}
	}
	return ""
}

var virtualPrefixes = []string{"lo", "docker", "veth", "br-", "virbr", "vmnet", "vboxnet", "tun", "tap", "utun", "awdl", "llw", "bridge", "zt", "wg"}

func isVirtualInterface(name string) bool {
	lower := strings.ToLower(name)
	for _, prefix := range virtualPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}

func hasFlag(flags []string, flag string) bool {
	for _, f := range flags {
		if strings.EqualFold(f, flag) {
			return true
		}
	}
	return false
}

// parseKeyValue extracts Key=Value from wmic /value output
func parseKeyValue(out []byte, key string) string {
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if k, v, ok := strings.Cut(line, "="); ok && strings.EqualFold(strings.TrimSpace(k), key) {
			if v = strings.TrimSpace(v); v != "" {
				return v
			}
		}
	}
	return ""
}

// parseRegValue extracts the data column of a `reg query` line
func parseRegValue(out []byte, name string) string {
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) >= 3 && strings.EqualFold(fields[0], name) {
			return fields[len(fields)-1]
		}
	}
	return ""
}

// parseIORegValue extracts "Key" = "value" from ioreg output
func parseIORegValue(out []byte, key string) string {
	scanner := bufio.NewScanner(bytes.NewReader(out))
	quoted := `"` + key + `"`
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.Contains(line, quoted) {
			continue
		}
		if _, v, ok := strings.Cut(line, "="); ok {
			return strings.Trim(strings.TrimSpace(v), `"`)
		}
	}
	return ""
}

// parseColonValue extracts "Key: value" lines such as diskutil output
func parseColonValue(out []byte, key string) string {
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		if k, v, ok := strings.Cut(scanner.Text(), ":"); ok && strings.TrimSpace(k) == key {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// parseCPUInfo builds a descriptor from the first processor in /proc/cpuinfo
func parseCPUInfo(data []byte) string {
	fields := map[string]string{}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" && len(fields) > 0 {
			break
		}
		if k, v, ok := strings.Cut(line, ":"); ok {
			fields[strings.TrimSpace(k)] = strings.TrimSpace(v)
		}
	}
	return cpuDescriptor(cpu.InfoStat{
		VendorID:  fields["vendor_id"],
		Family:    fields["cpu family"],
		Model:     fields["model"],
		ModelName: fields["model name"],
	})
}

func firstNonPlaceholderLine(out []byte) string {
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); !IsPlaceholder(line) {
			return line
		}
	}
	return ""
}
