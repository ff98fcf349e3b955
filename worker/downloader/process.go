package downloader

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os/exec"
	"strconv"
	"strings"
	"syscall"

	"github.com/paulmach/orb"
)

// ErrDownload is wrapped by every downloader failure.
var ErrDownload = errors.New("download failed")

// ExitError reports a downloader that ran and exited non-zero.
type ExitError struct {
	Command string
	Code    int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s exited with code %d", e.Command, e.Code)
}

func (e *ExitError) Unwrap() error { return ErrDownload }

// Request selects the products to fetch. Tile takes precedence over the
// AOI centroid; Centroid is lon/lat in EPSG:4326.
type Request struct {
	ConfigPath string
	Tile       string
	Centroid   orb.Point
	StartDate  string
	EndDate    string
	Workdir    string
}

// Downloader runs the external product downloader as a black box.
type Downloader struct {
	Command   string
	Script    string
	Satellite string
	Verbose   bool
}

func (d *Downloader) Args(req *Request) []string {
	var args []string
	if d.Script != "" {
		args = append(args, d.Script)
	}
	args = append(args, "-c", d.Satellite)
	if req.Tile != "" {
		args = append(args, "-t", req.Tile)
	} else {
		args = append(args,
			"--lon", strconv.FormatFloat(req.Centroid.Lon(), 'f', -1, 64),
			"--lat", strconv.FormatFloat(req.Centroid.Lat(), 'f', -1, 64))
	}
	return append(args,
		"-a", req.ConfigPath,
		"-d", req.StartDate,
		"-f", req.EndDate,
		"-w", req.Workdir)
}

// Run starts the downloader and relays its combined output to the log line
// by line until it exits.
func (d *Downloader) Run(ctx context.Context, req *Request) error {
	if req.Workdir == "" {
		return fmt.Errorf("no working directory: %w", ErrDownload)
	}
	args := d.Args(req)
	cmd := exec.CommandContext(ctx, d.Command, args...)
	cmd.Dir = req.Workdir
	cmd.SysProcAttr = &syscall.SysProcAttr{Pdeathsig: syscall.SIGKILL}

	cmdLine := d.Command + " " + strings.Join(args, " ")
	log.Printf("download: %s", cmdLine)

	combinedOutput, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("Failed to obtain subprocess stderr pipe: %v: %w", err, ErrDownload)
	}
	cmd.Stdout = cmd.Stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("Failed to start process: %v: %w", err, ErrDownload)
	}
	if d.Verbose {
		log.Println("download: process running with PID", cmd.Process.Pid)
	}

	// relay subprocess stderr and stdout to our log, with pid
	scanner := bufio.NewScanner(combinedOutput)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		log.Println(cmd.Process.Pid, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		log.Println(cmd.Process.Pid, "output relay stopped:", err)
		io.Copy(io.Discard, combinedOutput)
	}

	err = cmd.Wait()
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return fmt.Errorf("download interrupted: %v: %w", ctx.Err(), ErrDownload)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &ExitError{Command: d.Command, Code: exitErr.ExitCode()}
	}
	return fmt.Errorf("Process exited: %v: %w", err, ErrDownload)
}
