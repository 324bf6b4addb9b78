package logging

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEarlyLogFormatsLine(t *testing.T) {
	var buf bytes.Buffer
	l := &EarlyLog{service: "logsift", out: &buf}

	l.Warn("port %d busy", 514)
	l.Error("config missing")

	out := buf.String()
	assert.Contains(t, out, " WARN logsift: port 514 busy\n")
	assert.Contains(t, out, " ERROR logsift: config missing\n")
}
