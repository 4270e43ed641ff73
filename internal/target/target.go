// Package target classifies compilation target triples for the CI dispatcher
// and derives the --cfg flags the crate's build script would emit for them.
package target

import "strings"

// Triple names a compilation target, e.g. "thumbv7em-none-eabihf".
type Triple string

func (t Triple) String() string { return string(t) }

// Class is the build/verification category a triple falls into.
type Class string

const (
	// ClassCM7R0P1 covers the ARMv7E-M profiles that can host the cm7-r0p1 feature.
	ClassCM7R0P1 Class = "cm7-r0p1"
	// ClassBareMetal covers every other bare-metal thumb profile.
	ClassBareMetal Class = "bare-metal"
	// ClassHosted covers targets that can run a test harness.
	ClassHosted Class = "hosted"
)

const (
	cm7Prefix   = "thumbv7em-none-eabi"
	thumbPrefix = "thumbv"
	noneEABI    = "-none-eabi"
)

// Classify maps a triple to its class. Matching is by prefix and is checked
// in order, so the ARMv7E-M profiles never fall through to ClassBareMetal.
func Classify(t Triple) Class {
	s := string(t)
	switch {
	case strings.HasPrefix(s, cm7Prefix):
		return ClassCM7R0P1
	case strings.HasPrefix(s, thumbPrefix) && strings.Contains(s, noneEABI):
		return ClassBareMetal
	default:
		return ClassHosted
	}
}

// Embedded reports whether t cannot host a test runner.
func (c Class) Embedded() bool {
	return c == ClassCM7R0P1 || c == ClassBareMetal
}

// Cfgs returns the --cfg names the build script enables for t. The assembly
// archives use their own table; see blobs.
func Cfgs(t Triple) []string {
	s := string(t)
	hf := strings.HasSuffix(s, "-eabihf")

	var cfgs []string
	switch {
	case strings.HasPrefix(s, "thumbv6m-"):
		cfgs = []string{"armv6m"}
	case strings.HasPrefix(s, "thumbv7m-"):
		cfgs = []string{"armv7m"}
	case strings.HasPrefix(s, "thumbv7em-"):
		cfgs = []string{"armv7m", "armv7em"}
	case strings.HasPrefix(s, "thumbv8m.base"):
		cfgs = []string{"armv8m", "armv8m_base"}
	case strings.HasPrefix(s, "thumbv8m.main"):
		cfgs = []string{"armv7m", "armv8m", "armv8m_main"}
	default:
		return nil
	}
	if hf {
		cfgs = append(cfgs, "has_fpu")
	}
	return cfgs
}
