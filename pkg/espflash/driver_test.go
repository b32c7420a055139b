package espflash

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/HubertFeldmann/tasmotizer/pkg/flash"
)

// writeStubTool materializes a shell script standing in for esptool so
// Perform can be exercised end to end.
func writeStubTool(t *testing.T, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("stub tool requires a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "esptool-stub.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0755); err != nil {
		t.Fatalf("write stub tool: %v", err)
	}
	return path
}

func TestPerform_SuccessfulInvocationReturns(t *testing.T) {
	tool := writeStubTool(t, "echo 'esptool.py v3.0'\necho 'Writing at 0x00000000... (50 %)'\nexit 0\n")
	d := New(WithTool(tool))

	req := flash.Request{Port: "/dev/ttyUSB0", Baud: 115200, ImagePath: "tasmota.bin"}
	var events []flash.DriverEventType
	done := make(chan error, 1)
	go func() {
		done <- d.Perform(context.Background(), flash.OpWrite, req, flash.NewToken(), func(ev flash.DriverEvent) {
			events = append(events, ev.Type)
		})
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("successful invocation returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Perform did not return after the subprocess exited")
	}

	if len(events) < 2 || events[0] != flash.DriverStarted {
		t.Fatalf("events = %v, want DriverStarted first", events)
	}
	if events[len(events)-1] != flash.DriverFinished {
		t.Errorf("events = %v, want DriverFinished last", events)
	}
	sawProgress := false
	for _, e := range events {
		if e == flash.DriverProgress {
			sawProgress = true
		}
	}
	if !sawProgress {
		t.Errorf("events = %v, want a DriverProgress from the percent line", events)
	}
}

func TestPerform_TokenCancelKillsSubprocess(t *testing.T) {
	tool := writeStubTool(t, "exec sleep 30\n")
	checkpoint := 10 * time.Millisecond
	d := New(WithTool(tool), WithCheckpoint(checkpoint))

	req := flash.Request{Port: "/dev/ttyUSB0", Baud: 115200, ImagePath: "tasmota.bin"}
	token := flash.NewToken()
	done := make(chan error, 1)
	go func() {
		done <- d.Perform(context.Background(), flash.OpWrite, req, token, nil)
	}()

	time.Sleep(5 * checkpoint)
	token.Cancel()

	select {
	case err := <-done:
		if !errors.Is(err, flash.ErrAborted) {
			t.Fatalf("err = %v, want an error wrapping ErrAborted", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Perform did not observe the cancellation checkpoint")
	}
}

func TestPerform_FailedInvocationClassified(t *testing.T) {
	tool := writeStubTool(t, "echo 'A fatal error occurred: Timed out waiting for packet header'\nexit 2\n")
	d := New(WithTool(tool))

	req := flash.Request{Port: "/dev/ttyUSB0", Baud: 115200, ImagePath: "tasmota.bin"}
	err := d.Perform(context.Background(), flash.OpWrite, req, flash.NewToken(), nil)

	var pr *flash.ProtocolError
	if !errors.As(err, &pr) {
		t.Fatalf("err = %v, want ProtocolError", err)
	}
	if !strings.Contains(pr.Detail, "fatal error") {
		t.Errorf("detail = %q, want the last output line", pr.Detail)
	}
}

func TestBuildArgs(t *testing.T) {
	req := flash.Request{
		Port:       "/dev/ttyUSB0",
		Baud:       115200,
		ImagePath:  "tasmota.bin",
		BackupPath: "backup_20240315_093045.bin",
	}

	tests := []struct {
		op   flash.Operation
		want string
	}{
		{flash.OpBackup, "--chip esp8266 --port /dev/ttyUSB0 --baud 115200 --after no_reset read_flash 0x00000 0x100000 backup_20240315_093045.bin"},
		{flash.OpErase, "--chip esp8266 --port /dev/ttyUSB0 --baud 115200 erase_flash"},
		{flash.OpWrite, "--chip esp8266 --port /dev/ttyUSB0 --baud 115200 --after soft_reset write_flash --flash_mode dout --flash_size 1MB 0x00000 tasmota.bin"},
		{flash.OpVerify, "--chip esp8266 --port /dev/ttyUSB0 --baud 115200 verify_flash --flash_mode dout 0x00000 tasmota.bin"},
	}

	for _, tt := range tests {
		got := strings.Join(buildArgs(tt.op, req), " ")
		if got != tt.want {
			t.Errorf("%v args:\n  got  %s\n  want %s", tt.op, got, tt.want)
		}
	}
}

func TestParsePercent(t *testing.T) {
	tests := []struct {
		line string
		want int
		ok   bool
	}{
		{"Writing at 0x00008000... (12 %)", 12, true},
		{"Writing at 0x000fc000... (100 %)", 100, true},
		{"1048576 (100 %)", 100, true},
		{"Read 1048576 bytes at 0x0 in 95.8 seconds", 0, false},
		{"Hash of data verified.", 0, false},
		{"(not a percent)", 0, false},
		{"(101 %)", 0, false},
		{"", 0, false},
	}

	for _, tt := range tests {
		got, ok := parsePercent(tt.line)
		if got != tt.want || ok != tt.ok {
			t.Errorf("parsePercent(%q) = %d, %v; want %d, %v", tt.line, got, ok, tt.want, tt.ok)
		}
	}
}

func TestClassify(t *testing.T) {
	waitErr := errors.New("exit status 2")

	t.Run("port unavailable", func(t *testing.T) {
		tail := []string{
			"esptool.py v3.0",
			"serial.serialutil.SerialException: could not open port /dev/ttyUSB0",
		}
		err := classify("/dev/ttyUSB0", tail, waitErr)
		var pe *flash.PortError
		if !errors.As(err, &pe) {
			t.Fatalf("err = %v, want PortError", err)
		}
		if pe.Port != "/dev/ttyUSB0" {
			t.Errorf("port = %q, want /dev/ttyUSB0", pe.Port)
		}
	})

	t.Run("protocol failure", func(t *testing.T) {
		tail := []string{
			"Connecting........_____....._____",
			"A fatal error occurred: Failed to connect to ESP8266: Timed out waiting for packet header",
		}
		err := classify("/dev/ttyUSB0", tail, waitErr)
		var pr *flash.ProtocolError
		if !errors.As(err, &pr) {
			t.Fatalf("err = %v, want ProtocolError", err)
		}
		if !strings.Contains(pr.Detail, "fatal error") {
			t.Errorf("detail = %q, want the last output line", pr.Detail)
		}
	})

	t.Run("no output at all", func(t *testing.T) {
		err := classify("/dev/ttyUSB0", nil, waitErr)
		var pr *flash.ProtocolError
		if !errors.As(err, &pr) {
			t.Fatalf("err = %v, want ProtocolError", err)
		}
		if pr.Detail != "exit status 2" {
			t.Errorf("detail = %q, want the wait error", pr.Detail)
		}
	})
}

func TestStream_EmitsLogsAndProgress(t *testing.T) {
	output := strings.NewReader(strings.Join([]string{
		"esptool.py v3.0",
		"Writing at 0x00000000... (3 %)",
		"Writing at 0x00004000... (7 %)",
		"Wrote 1048576 bytes",
	}, "\n"))

	d := New()
	var logs, percents []int
	var lines []string
	tail := d.stream(output, flash.OpWrite, func(ev flash.DriverEvent) {
		switch ev.Type {
		case flash.DriverLog:
			logs = append(logs, 1)
			lines = append(lines, ev.Line)
		case flash.DriverProgress:
			percents = append(percents, ev.Percent)
		}
	})

	if len(logs) != 4 {
		t.Errorf("got %d log events, want 4", len(logs))
	}
	if len(percents) != 2 || percents[0] != 3 || percents[1] != 7 {
		t.Errorf("percents = %v, want [3 7]", percents)
	}
	if len(tail) != 4 {
		t.Errorf("tail holds %d lines, want 4", len(tail))
	}
}

func TestStream_EraseSuppressesPercent(t *testing.T) {
	output := strings.NewReader("Erasing flash (this may take a while)... (50 %)\n")

	d := New()
	var percents int
	d.stream(output, flash.OpErase, func(ev flash.DriverEvent) {
		if ev.Type == flash.DriverProgress {
			percents++
		}
	})

	if percents != 0 {
		t.Errorf("erase emitted %d percent events, want 0", percents)
	}
}
