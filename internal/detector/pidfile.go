package detector

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// PIDRecord is the content of a PID file: the PID on the first line and a
// JSON meta line carrying the process start time for reuse detection.
type PIDRecord struct {
	PID       int
	StartUnix int64
}

type pidMeta struct {
	StartUnix int64 `json:"start_unix"`
}

// WritePIDFile records pid and its start time at path.
func WritePIDFile(path string, pid int) error {
	if path == "" || pid <= 0 {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	meta, _ := json.Marshal(pidMeta{StartUnix: ProcessStartUnix(pid)})
	data := strconv.Itoa(pid) + "\n" + string(meta) + "\n"
	return os.WriteFile(path, []byte(data), 0o600)
}

// ReadPIDFile parses a PID file written by WritePIDFile. Legacy files with
// only a PID are accepted; StartUnix is then zero.
func ReadPIDFile(path string) (PIDRecord, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return PIDRecord{}, err
	}
	lines := strings.Split(strings.ReplaceAll(string(data), "\r\n", "\n"), "\n")
	pid, err := strconv.Atoi(strings.TrimSpace(lines[0]))
	if err != nil {
		return PIDRecord{}, fmt.Errorf("invalid pid in %s: %w", path, err)
	}
	if pid <= 0 {
		return PIDRecord{}, fmt.Errorf("invalid pid %d in %s", pid, path)
	}
	rec := PIDRecord{PID: pid}
	if len(lines) >= 2 {
		var m pidMeta
		if err := json.Unmarshal([]byte(strings.TrimSpace(lines[1])), &m); err == nil {
			rec.StartUnix = m.StartUnix
		}
	}
	return rec, nil
}

// RemovePIDFile best-effort
func RemovePIDFile(path string) {
	if path == "" {
		return
	}
	_ = os.Remove(path)
}

// PIDFileDetector detects a process via a PID file. A recorded start time
// that differs from the live process means the PID was reused.
type PIDFileDetector struct {
	PIDFile string
}

func (d PIDFileDetector) Alive() (bool, error) {
	_, ok, err := d.Lookup()
	return ok, err
}

// Lookup returns the recorded PID and whether it still names our process.
func (d PIDFileDetector) Lookup() (int, bool, error) {
	rec, err := ReadPIDFile(d.PIDFile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, false, nil
		}
		return 0, false, err
	}
	if rec.StartUnix > 0 {
		cur := ProcessStartUnix(rec.PID)
		if cur > 0 && cur != rec.StartUnix {
			return rec.PID, false, nil
		}
	}
	return rec.PID, PIDAlive(rec.PID), nil
}

func (d PIDFileDetector) Describe() string { return "pidfile:" + d.PIDFile }

// PIDAlive reports whether pid exists and is not a zombie.
func PIDAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	ok, err := gopsproc.PidExists(int32(pid))
	if err != nil || !ok {
		return false
	}
	p, err := gopsproc.NewProcess(int32(pid))
	if err != nil {
		return false
	}
	st, err := p.Status()
	if err != nil {
		return true
	}
	for _, s := range st {
		if s == gopsproc.Zombie {
			return false
		}
	}
	return true
}
