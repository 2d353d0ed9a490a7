package provision

import (
	"io"
	"log"
	"testing"
)

func TestValidBatchType(t *testing.T) {
	for _, valid := range []string{"local", "condor", "uge", "slurm", "docker"} {
		if !ValidBatchType(valid) {
			t.Errorf("ValidBatchType(%q) = false, want true", valid)
		}
	}
	for _, invalid := range []string{"", "kubernetes", "LOCAL"} {
		if ValidBatchType(invalid) {
			t.Errorf("ValidBatchType(%q) = true, want false", invalid)
		}
	}
}

func TestStartFactoryValidation(t *testing.T) {
	logger := log.New(io.Discard, "", 0)

	tests := []struct {
		name string
		opts FactoryOptions
	}{
		{"missing manager name", FactoryOptions{BatchType: "local", RunDir: "/tmp"}},
		{"unknown batch type", FactoryOptions{BatchType: "mesos", ManagerName: "m", RunDir: "/tmp"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.opts.Logger = logger
			if _, err := StartFactory(tt.opts); err == nil {
				t.Error("StartFactory should have failed validation")
			}
		})
	}
}
