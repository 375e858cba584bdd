// Package resource validates and normalizes scheduler resource requests.
package resource

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ErrInvalidSpec is wrapped by all validation failures in this package.
var ErrInvalidSpec = errors.New("invalid resource spec")

var (
	timeRe   = regexp.MustCompile(`^[0-9]{2}:[0-5][0-9]:[0-5][0-9]$`)
	digitsRe = regexp.MustCompile(`^[0-9]+$`)
)

// Request describes the resources asked of the scheduler for one job.
// Time and Memory are kept in their normalized textual form; a Request
// returned by New or Normalize is always submittable as-is.
type Request struct {
	Threads     int
	Time        string // wall time, HH:MM:SS
	Memory      string // per-thread memory, "<n>G"
	GPU         bool
	ParallelEnv string // scheduler parallel environment (-pe)
}

// Escalator computes the request for a given attempt. Implementations may
// grow time or memory between attempts; the result is re-normalized before
// submission, so an escalator producing an invalid request fails the job.
type Escalator func(attempt int, base Request) Request

// Default returns the stock single-thread request.
func Default() Request {
	return Request{
		Threads:     1,
		Time:        "00:59:00",
		Memory:      "6G",
		ParallelEnv: "parallel",
	}
}

// New builds a validated Request. Time accepts either plain seconds or
// HH:MM:SS; memory accepts a plain gigabyte count with optional G/M suffix.
func New(threads int, timeSpec, memSpec string, gpu bool, parallelEnv string) (Request, error) {
	r := Request{
		Threads:     threads,
		Time:        timeSpec,
		Memory:      memSpec,
		GPU:         gpu,
		ParallelEnv: parallelEnv,
	}
	return r.Normalize()
}

// Normalize re-validates every field and returns the canonical form.
func (r Request) Normalize() (Request, error) {
	if r.Threads < 1 {
		return Request{}, fmt.Errorf("%w: threads must be positive, got %d", ErrInvalidSpec, r.Threads)
	}
	if strings.TrimSpace(r.ParallelEnv) == "" {
		return Request{}, fmt.Errorf("%w: parallel environment name is empty", ErrInvalidSpec)
	}
	t, err := NormalizeTime(r.Time)
	if err != nil {
		return Request{}, err
	}
	m, err := NormalizeMemory(r.Memory)
	if err != nil {
		return Request{}, err
	}
	r.Time = t
	r.Memory = m
	return r, nil
}

// NormalizeTime accepts a plain non-negative integer (seconds) or an
// HH:MM:SS string and returns the HH:MM:SS form. Durations of 100 hours or
// more do not fit the field and are rejected.
func NormalizeTime(s string) (string, error) {
	s = strings.TrimSpace(s)
	if digitsRe.MatchString(s) {
		secs, err := strconv.Atoi(s)
		if err != nil {
			return "", fmt.Errorf("%w: time %q: %v", ErrInvalidSpec, s, err)
		}
		h := secs / 3600
		m := (secs % 3600) / 60
		sec := secs % 60
		s = fmt.Sprintf("%02d:%02d:%02d", h, m, sec)
	}
	if !timeRe.MatchString(s) {
		return "", fmt.Errorf("%w: time %q not in HH:MM:SS form", ErrInvalidSpec, s)
	}
	return s, nil
}

// NormalizeMemory strips one optional G/M suffix (either case), parses the
// remaining integer and re-emits it as "<n>G".
func NormalizeMemory(s string) (string, error) {
	trimmed := strings.TrimSpace(s)
	if n := len(trimmed); n > 0 {
		switch trimmed[n-1] {
		case 'G', 'g', 'M', 'm':
			trimmed = trimmed[:n-1]
		}
	}
	n, err := strconv.Atoi(trimmed)
	if err != nil || n < 0 {
		return "", fmt.Errorf("%w: memory %q is not a size in gigabytes", ErrInvalidSpec, s)
	}
	return strconv.Itoa(n) + "G", nil
}
