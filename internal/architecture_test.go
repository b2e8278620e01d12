package internal

import (
	"testing"

	"github.com/kcmvp/archunit"
)

func TestArchitecture(t *testing.T) {
	device := archunit.Packages("device", []string{".../internal/kef/..."})
	overlay := archunit.Packages("policy", []string{".../internal/policy"})
	surfaces := archunit.Packages("surfaces", []string{
		".../internal/api",
		".../internal/server",
		".../internal/speakers",
		".../internal/stream",
		".../internal/mqtt",
		".../internal/audit",
		".../internal/cli",
	})

	// The speaker protocol and change detection know nothing of the hub.
	if err := device.ShouldNotReferLayers(surfaces); err != nil {
		t.Errorf("Architecture violation: device packages depend on surfaces: %v", err)
	}
	if err := overlay.ShouldNotReferLayers(surfaces); err != nil {
		t.Errorf("Architecture violation: policy depends on surfaces: %v", err)
	}
}

func TestDevicePackagesPresent(t *testing.T) {
	rpc := archunit.Packages("rpc", []string{".../internal/kef/rpc"})
	if len(rpc.Packages()) == 0 {
		t.Error("No rpc package found under internal/kef")
	}
}
