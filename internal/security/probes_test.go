package security

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedRunner answers commands by their joined command line
func scriptedRunner(outputs map[string]string) CommandRunner {
	return func(_ context.Context, name string, args ...string) ([]byte, error) {
		line := strings.Join(append([]string{name}, args...), " ")
		if out, ok := outputs[line]; ok {
			return []byte(out), nil
		}
		return nil, errors.New("command not found: " + line)
	}
}

func files(contents map[string]string) func(string) ([]byte, error) {
	return func(path string) ([]byte, error) {
		if c, ok := contents[path]; ok {
			return []byte(c), nil
		}
		return nil, os.ErrNotExist
	}
}

func TestSystemProber_LinuxFallbacks(t *testing.T) {
	ctx := context.Background()
	p := NewSystemProber(
		WithoutNativeProbes(),
		WithGOOS("linux"),
		WithFileReader(files(map[string]string{
			"/etc/machine-id": "0D5F1A2B3C4D5E6F7A8B9C0D1E2F3A4B\n",
			"/proc/cpuinfo":   "processor\t: 0\nvendor_id\t: GenuineIntel\ncpu family\t: 6\nmodel\t\t: 158\nmodel name\t: Intel(R) Core(TM) i7-8700\n\nprocessor\t: 1\n",
		})),
		WithCommandRunner(scriptedRunner(map[string]string{
			"lsblk -dno SERIAL": "\nS3Z9NB0K123456\nWD-XYZ\n",
		})),
	)

	id, err := p.MachineID(ctx)
	require.NoError(t, err)
	assert.Equal(t, "0d5f1a2b3c4d5e6f7a8b9c0d1e2f3a4b", id)

	cpuID, err := p.CPUID(ctx)
	require.NoError(t, err)
	assert.Equal(t, "GenuineIntel/6/158/Intel(R) Core(TM) i7-8700", cpuID)

	serial, err := p.DiskSerial(ctx)
	require.NoError(t, err)
	assert.Equal(t, "S3Z9NB0K123456", serial)
}

func TestSystemProber_LinuxPlaceholderMachineID(t *testing.T) {
	p := NewSystemProber(
		WithoutNativeProbes(),
		WithGOOS("linux"),
		WithFileReader(files(map[string]string{
			"/etc/machine-id":          "00000000000000000000000000000000",
			"/var/lib/dbus/machine-id": "abc123",
		})),
	)

	id, err := p.MachineID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "abc123", id)
}

func TestSystemProber_WindowsFallbacks(t *testing.T) {
	ctx := context.Background()
	p := NewSystemProber(
		WithoutNativeProbes(),
		WithGOOS("windows"),
		WithCommandRunner(scriptedRunner(map[string]string{
			`reg query HKLM\SOFTWARE\Microsoft\Cryptography /v MachineGuid`: "\r\nHKEY_LOCAL_MACHINE\\SOFTWARE\\Microsoft\\Cryptography\r\n    MachineGuid    REG_SZ    6F9619FF-8B86-D011-B42D-00C04FC964FF\r\n",
			"wmic cpu get ProcessorId /value":                                "\r\n\r\nProcessorId=BFEBFBFF000906EA\r\n\r\n",
			"wmic diskdrive get SerialNumber /value":                         "\r\nSerialNumber=To be filled by O.E.M.\r\nSerialNumber=2J1920045123\r\n",
		})),
	)

	id, err := p.MachineID(ctx)
	require.NoError(t, err)
	assert.Equal(t, "6f9619ff-8b86-d011-b42d-00c04fc964ff", id)

	cpuID, err := p.CPUID(ctx)
	require.NoError(t, err)
	assert.Equal(t, "BFEBFBFF000906EA", cpuID)

	_, err = p.DiskSerial(ctx)
	assert.ErrorIs(t, err, errUnavailable, "first reported serial is a placeholder")
}

func TestSystemProber_DarwinFallbacks(t *testing.T) {
	ctx := context.Background()
	p := NewSystemProber(
		WithoutNativeProbes(),
		WithGOOS("darwin"),
		WithCommandRunner(scriptedRunner(map[string]string{
			"ioreg -rd1 -c IOPlatformExpertDevice": `+-o J314sAP  <class IOPlatformExpertDevice>
    {
      "IOPlatformSerialNumber" = "C02XL0GJJGH5"
      "IOPlatformUUID" = "564D8F2A-1B3C-4D5E-8F90-A1B2C3D4E5F6"
    }`,
			"sysctl -n machdep.cpu.brand_string": "Apple M1 Pro\n",
			"diskutil info /":                    "   Device Identifier:        disk3s1\n   Volume UUID:              1D3C5B7A-0000-4E2F-9A8B-7C6D5E4F3A2B\n",
		})),
	)

	id, err := p.MachineID(ctx)
	require.NoError(t, err)
	assert.Equal(t, "564d8f2a-1b3c-4d5e-8f90-a1b2c3d4e5f6", id)

	cpuID, err := p.CPUID(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Apple M1 Pro", cpuID)

	serial, err := p.DiskSerial(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1D3C5B7A-0000-4E2F-9A8B-7C6D5E4F3A2B", serial)
}

func TestSystemProber_Unavailable(t *testing.T) {
	p := NewSystemProber(WithoutNativeProbes(), WithGOOS("plan9"), WithFileReader(files(nil)), WithCommandRunner(scriptedRunner(nil)))

	_, err := p.MachineID(context.Background())
	assert.ErrorIs(t, err, errUnavailable)
	_, err = p.CPUID(context.Background())
	assert.ErrorIs(t, err, errUnavailable)
	_, err = p.DiskSerial(context.Background())
	assert.ErrorIs(t, err, errUnavailable)
}

func TestIsVirtualInterface(t *testing.T) {
	assert.True(t, isVirtualInterface("docker0"))
	assert.True(t, isVirtualInterface("veth12ab"))
	assert.True(t, isVirtualInterface("lo"))
	assert.False(t, isVirtualInterface("eth0"))
	assert.False(t, isVirtualInterface("en0"))
	assert.False(t, isVirtualInterface("Ethernet"))
}
