package isolation

import (
	"runtime"
	"testing"
)

// TestCreate performs basic isolated-process creation testing.
func TestCreate(t *testing.T) {
	var proc Process
	var err error
	if runtime.GOOS == "windows" {
		proc, err = Create(t.Context(), ConfigurationPageWorker, nil, "", "go", "version")
	} else {
		proc, err = Create(t.Context(), ConfigurationPageWorker, nil, "", "date")
	}
	if err != nil {
		t.Fatal("unable to create isolated process:", err)
	}
	if err := proc.Command().Wait(); err != nil {
		t.Error("unable to wait for process completion:", err)
	}
	if err := proc.Close(); err != nil {
		t.Error("process closure failed:", err)
	}
}
