package bus

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOutputSubject(t *testing.T) {
	assert.Equal(t, "agentd.out.po-main", OutputSubject("po-main"))
	assert.Equal(t, "agentd.out.control", SubjectControl)
}
