package exectest

import (
	"os/exec"
	"testing"
)

func TestBackground(t *testing.T) {
	cmd := exec.Command("sh", "-c", "echo one; echo two")
	bg := NewBackground(t, cmd)
	defer bg.Close()
	bg.Name = "sh"
	bg.LogStdout = true
	bg.Start()
	<-bg.Done()
	if err := bg.Err(); err != nil {
		t.Fatal("Subprocess failed:", err)
	}
}
