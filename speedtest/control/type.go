package control

import (
	"strings"
)

// Mode selects how a download pass drives the target.
type Mode int32

const (
	// ModeSequential fetches every payload size class one after another.
	ModeSequential Mode = iota
	// ModeConcurrent runs several workers against the minimal payload.
	ModeConcurrent
)

func ParseMode(str string) Mode {
	str = strings.ToLower(strings.TrimSpace(str))
	if str == "concurrent" || str == "threads" {
		return ModeConcurrent
	}
	return ModeSequential
}

func (m Mode) String() string {
	if m == ModeConcurrent {
		return "concurrent"
	}
	return "sequential"
}
