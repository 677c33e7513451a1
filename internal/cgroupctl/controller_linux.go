//go:build linux

package cgroupctl

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	appErr "judgecore/pkg/errors"
)

const defaultCgroupRoot = "/sys/fs/cgroup/judgecore"

type linuxController struct {
	root string
}

// New returns the real cgroupv2-backed controller. root is the cgroupv2
// directory this process has delegate access to; if empty,
// defaultCgroupRoot is used.
func New(root string) Controller {
	if root == "" {
		root = defaultCgroupRoot
	}
	return &linuxController{root: root}
}

func (c *linuxController) Run(ctx context.Context, sockDir, runID string, limits Limits, exec ExecFunc) (Usage, ExecResult, error) {
	groupPath, cleanup, err := createGroup(c.root, runID)
	defer cleanup()
	if err != nil {
		return Usage{}, ExecResult{}, appErr.Wrap(err, appErr.ResourceGroupFailed)
	}
	if err := applyLimits(groupPath, limits); err != nil {
		return Usage{}, ExecResult{}, appErr.Wrap(err, appErr.ResourceGroupFailed)
	}

	sockPath := filepath.Join(sockDir, "cgroup.sock")
	_ = os.Remove(sockPath)
	addr, err := net.ResolveUnixAddr("unix", sockPath)
	if err != nil {
		return Usage{}, ExecResult{}, appErr.Wrap(err, appErr.ResourceGroupFailed)
	}
	ln, err := net.ListenUnix("unix", addr)
	if err != nil {
		return Usage{}, ExecResult{}, appErr.Wrap(err, appErr.ResourceGroupFailed)
	}
	ln.SetUnlinkOnClose(true)

	attachDone := make(chan error, 1)
	go func() {
		attachDone <- attachOnce(ln, groupPath)
	}()

	execDone := make(chan execOutcome, 1)
	go func() {
		res, err := exec(ctx)
		execDone <- execOutcome{res, err}
	}()

	timer := time.NewTimer(time.Duration(limits.WallNs))
	defer timer.Stop()

	var outcome execOutcome
	timedOut := false
	select {
	case outcome = <-execDone:
	case <-timer.C:
		timedOut = true
		_ = killCgroup(groupPath)
		outcome = <-execDone
	}

	// At-most-one managed process per run: stop accepting further
	// handshake connections now that the controlled process is done.
	_ = ln.Close()
	<-attachDone

	memPeak, _ := readCgroupInt(groupPath, "memory.peak")

	var usage Usage
	usage.MemoryUsageBytes = memPeak
	if timedOut {
		usage.TimeUsageNs = limits.CPUNs
	} else {
		cpuNs := cpuUsageNs(groupPath)
		if cpuNs > limits.CPUNs {
			cpuNs = limits.CPUNs
		}
		usage.TimeUsageNs = cpuNs
	}

	destroyGroup(groupPath)

	return usage, outcome.res, outcome.err
}

// attachOnce accepts the single handshake connection, migrates the peer
// into the resource group, and releases it to proceed to exec. It
// returns once the handshake is done or the listener is closed.
func attachOnce(ln *net.UnixListener, groupPath string) error {
	conn, err := ln.AcceptUnix()
	if err != nil {
		return err // listener closed, no child ever connected
	}
	defer conn.Close()

	pid, err := peerPID(conn)
	if err != nil {
		return err
	}
	if err := addProcessToCgroup(groupPath, pid); err != nil {
		return err
	}
	// Release the child: it was blocked reading this byte before exec.
	_, _ = conn.Write([]byte{1})
	return nil
}

func peerPID(conn *net.UnixConn) (int, error) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return 0, err
	}
	var ucred *syscall.Ucred
	var opErr error
	err = raw.Control(func(fd uintptr) {
		ucred, opErr = syscall.GetsockoptUcred(int(fd), syscall.SOL_SOCKET, syscall.SO_PEERCRED)
	})
	if err != nil {
		return 0, err
	}
	if opErr != nil {
		return 0, opErr
	}
	return int(ucred.Pid), nil
}

func createGroup(root, runID string) (string, func(), error) {
	if root == "" {
		return "", func() {}, fmt.Errorf("cgroup root is required")
	}
	groupPath := filepath.Join(root, runID)
	if err := os.MkdirAll(groupPath, 0750); err != nil {
		return "", func() {}, fmt.Errorf("create cgroup path: %w", err)
	}
	cleanup := func() { destroyGroup(groupPath) }
	return groupPath, cleanup, nil
}

func applyLimits(groupPath string, limits Limits) error {
	pidsValue := "max"
	if limits.ProcessLimit > 0 {
		pidsValue = strconv.FormatInt(limits.ProcessLimit, 10)
	}
	if err := writeCgroupValue(groupPath, "pids.max", pidsValue); err != nil {
		return err
	}
	if limits.MemoryBytes > 0 {
		if err := writeCgroupValue(groupPath, "memory.max", strconv.FormatInt(limits.MemoryBytes, 10)); err != nil {
			return err
		}
	}
	return writeCgroupValue(groupPath, "cpu.max", "max 100000")
}

func addProcessToCgroup(groupPath string, pid int) error {
	if pid <= 0 {
		return fmt.Errorf("invalid pid %d", pid)
	}
	return writeCgroupValue(groupPath, "cgroup.procs", strconv.Itoa(pid))
}

func killCgroup(groupPath string) error {
	killPath := filepath.Join(groupPath, "cgroup.kill")
	if _, err := os.Stat(killPath); err != nil {
		return err
	}
	return os.WriteFile(killPath, []byte("1"), 0600)
}

func cpuUsageNs(groupPath string) int64 {
	data, err := os.ReadFile(filepath.Join(groupPath, "cpu.stat"))
	if err != nil {
		return 0
	}
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) == 2 && fields[0] == "usage_usec" {
			usec, _ := strconv.ParseInt(fields[1], 10, 64)
			return usec * 1000
		}
	}
	return 0
}

func readCgroupInt(groupPath, name string) (int64, error) {
	data, err := os.ReadFile(filepath.Join(groupPath, name))
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
}

func writeCgroupValue(groupPath, name, value string) error {
	return os.WriteFile(filepath.Join(groupPath, name), []byte(value), 0640)
}

func destroyGroup(groupPath string) {
	_ = killCgroup(groupPath)
	_ = os.RemoveAll(groupPath)
}
