package supervisor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyMissingDependency(t *testing.T) {
	tag, remediation := classify("Traceback...\nModuleNotFoundError: no module named 'x'\n")
	assert.Equal(t, ClassMissingDependency, tag)
	assert.Contains(t, remediation, "installer")
}

func TestClassifyPortInUse(t *testing.T) {
	tag, _ := classify("listen tcp :9000: bind: address already in use")
	assert.Equal(t, ClassPortInUse, tag)
}

func TestClassifyUnknownFallsThrough(t *testing.T) {
	tag, _ := classify("something entirely unexpected happened")
	assert.Equal(t, ClassUnknown, tag)
}
